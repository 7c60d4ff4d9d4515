package auth_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/userhub/userhub/internal/auth"
)

func TestMeetsThreshold_AllPairs(t *testing.T) {
	for _, actual := range auth.Roles() {
		for _, required := range auth.Roles() {
			assert.Equal(t, int(actual) >= int(required), auth.MeetsThreshold(actual, required, true),
				"allowHigher %s vs %s", actual, required)
			assert.Equal(t, actual == required, auth.MeetsThreshold(actual, required, false),
				"exact %s vs %s", actual, required)
		}
	}
}

func TestMeetsThreshold_InvalidRoleNeverPasses(t *testing.T) {
	assert.False(t, auth.MeetsThreshold(auth.Role(7), auth.RoleUser, true))
	assert.False(t, auth.MeetsThreshold(auth.Role(-1), auth.RoleUser, true))
	assert.False(t, auth.MeetsThreshold(auth.RoleAdmin, auth.Role(9), true))
}

func TestCompare_TotalOrder(t *testing.T) {
	assert.Equal(t, -1, auth.Compare(auth.RoleUser, auth.RoleManager))
	assert.Equal(t, -1, auth.Compare(auth.RoleManager, auth.RoleAdmin))
	assert.Equal(t, -1, auth.Compare(auth.RoleUser, auth.RoleAdmin))
	assert.Equal(t, 1, auth.Compare(auth.RoleAdmin, auth.RoleUser))
	assert.Equal(t, 0, auth.Compare(auth.RoleManager, auth.RoleManager))

	// Antisymmetry over every pair.
	for _, a := range auth.Roles() {
		for _, b := range auth.Roles() {
			assert.Equal(t, -auth.Compare(b, a), auth.Compare(a, b))
		}
	}
}

func TestCompare_NotLexicographic(t *testing.T) {
	// "Admin" < "Manager" as strings, but Admin outranks Manager.
	assert.Equal(t, 1, auth.Compare(auth.RoleAdmin, auth.RoleManager))
}

func TestParseRole(t *testing.T) {
	for _, r := range auth.Roles() {
		got, err := auth.ParseRole(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	for _, bad := range []string{"", "admin", "ADMIN", "Owner", "0", " User"} {
		_, err := auth.ParseRole(bad)
		assert.ErrorIs(t, err, auth.ErrUnknownRole, "input %q", bad)
	}
}

func TestRole_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Role auth.Role `json:"role"`
	}{auth.RoleManager})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"Manager"}`, string(b))

	var v struct {
		Role auth.Role `json:"role"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"role":"Admin"}`), &v))
	assert.Equal(t, auth.RoleAdmin, v.Role)

	err = json.Unmarshal([]byte(`{"role":"Superuser"}`), &v)
	assert.ErrorIs(t, err, auth.ErrUnknownRole)
}
