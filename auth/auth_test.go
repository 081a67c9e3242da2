package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryGrants(t *testing.T) {
	r := NewRegistry()
	check := r.Check()

	require.Error(t, check("alice", CapCalculate))

	r.Grant("alice", CapCalculate)
	require.NoError(t, check("alice", CapCalculate))
	require.Error(t, check("alice", CapDistribute))

	r.Revoke("alice", CapCalculate)
	err := check("alice", CapCalculate)
	require.Error(t, err)
	var denied *ErrPermissionDenied
	require.ErrorAs(t, err, &denied)
	require.Equal(t, "alice", denied.Caller)
	require.Equal(t, CapCalculate, denied.Capability)
}

func TestAdminImpliesEverything(t *testing.T) {
	r := NewRegistry()
	r.Grant("root", CapAdmin)

	check := r.Check()
	for _, cap := range []Capability{CapCalculate, CapDistribute, CapSlash, CapAdmin} {
		require.NoError(t, check("root", cap))
	}
}

func TestAllowAll(t *testing.T) {
	require.NoError(t, AllowAll("anyone", CapSlash))
}
