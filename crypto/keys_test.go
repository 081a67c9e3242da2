package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyPairFromSeedDeterministic(t *testing.T) {
	a, err := KeyPairFromSeed("quikdb-node-1")
	require.NoError(t, err)
	b, err := KeyPairFromSeed("quikdb-node-1")
	require.NoError(t, err)
	c, err := KeyPairFromSeed("quikdb-node-2")
	require.NoError(t, err)

	require.True(t, a.Address().Equal(b.Address()))
	require.False(t, a.Address().Equal(c.Address()))

	_, err = KeyPairFromSeed("")
	require.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("settle reward batch 42")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	require.True(t, kp.Verify(msg, sig))
	require.False(t, kp.Verify([]byte("tampered"), sig))

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	require.False(t, other.Verify(msg, sig))
}
