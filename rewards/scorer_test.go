package rewards

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScorerWeights(t *testing.T) {
	_, err := NewScorer(40, 35, 24)
	require.Error(t, err)

	_, err = NewScorer(140, -20, -20)
	require.Error(t, err)

	s, err := NewScorer(40, 35, 25)
	require.NoError(t, err)

	tests := []struct {
		name        string
		uptime      int64
		performance int64
		quality     int64
		want        int64
	}{
		{"all zero", 0, 0, 0, 0},
		{"all max", 100, 100, 100, 100},
		{"uptime only", 100, 0, 0, 40},
		{"performance only", 0, 100, 0, 35},
		{"quality only", 0, 0, 100, 25},
		{"truncates toward zero", 1, 0, 0, 0}, // 40/100 -> 0
		{"mixed", 90, 80, 70, 81},             // (3600+2800+1750)/100 = 81.5 -> 81
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, s.Overall(tt.uptime, tt.performance, tt.quality))
		})
	}
}

func TestValidScore(t *testing.T) {
	require.True(t, ValidScore(0))
	require.True(t, ValidScore(100))
	require.False(t, ValidScore(-1))
	require.False(t, ValidScore(101))
}
