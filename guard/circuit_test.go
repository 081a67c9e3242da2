package guard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quikdb/go-quikdb-nodes/events"
)

func TestCircuitBreakerTripAndReset(t *testing.T) {
	sink := events.NewMemorySink()
	cb, err := NewCircuitBreaker(nil, events.NewEmitter(sink))
	require.NoError(t, err)
	cb.WithClock(func() int64 { return 1000 })

	require.NoError(t, cb.Check("rewardDistribution"))

	require.NoError(t, cb.RecordFailure("rewardDistribution"))
	require.NoError(t, cb.RecordFailure("rewardDistribution"))
	require.NoError(t, cb.RecordSuccess("rewardDistribution"))

	require.NoError(t, cb.Trip("rewardDistribution", "payment backend degraded"))

	// open breaker fails fast with the stored reason
	err = cb.Check("rewardDistribution")
	require.Error(t, err)
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	require.Equal(t, "payment backend degraded", openErr.Reason)

	// tripping an already-open breaker errors
	require.Error(t, cb.Trip("rewardDistribution", "again"))

	// other operations are unaffected
	require.NoError(t, cb.Check("rewardCalculation"))

	require.NoError(t, cb.Reset("rewardDistribution"))
	require.NoError(t, cb.Check("rewardDistribution"))

	st := cb.State("rewardDistribution")
	require.False(t, st.Tripped)
	require.Zero(t, st.FailureCount)
	require.Zero(t, st.SuccessCount)
	require.Empty(t, st.Reason)

	require.Len(t, sink.ByType(events.TypeCircuitTripped), 1)
	require.Len(t, sink.ByType(events.TypeCircuitReset), 1)
}

func TestCircuitBreakerResetRequiresOpen(t *testing.T) {
	cb, err := NewCircuitBreaker(nil, nil)
	require.NoError(t, err)

	require.Error(t, cb.Reset("rewardCalculation"))
}
