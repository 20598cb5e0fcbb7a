package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	k := Key{Tenant: 7, Profile: 42}
	parsed, err := ParseKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
}

func TestParseKeyRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "7", "a:b", "7:", ":42", "7:42:1x"} {
		_, err := ParseKey(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestPriorityNumericOrdering(t *testing.T) {
	// Critical must outrank High numerically, not lexicographically.
	assert.True(t, PriorityCritical > PriorityHigh)
	assert.True(t, PriorityHigh > PriorityNormal)
	assert.True(t, PriorityNormal > PriorityLow)
}

func TestParsePriority(t *testing.T) {
	cases := []struct {
		in   string
		want Priority
	}{
		{"", PriorityNormal},
		{"low", PriorityLow},
		{"normal", PriorityNormal},
		{"high", PriorityHigh},
		{"critical", PriorityCritical},
	}
	for _, tc := range cases {
		got, err := ParsePriority(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := ParsePriority("urgent")
	assert.Error(t, err)
}

func TestLifecycleStatePredicates(t *testing.T) {
	assert.True(t, StateTerminated.IsTerminal())
	assert.False(t, StateTerminating.IsTerminal())

	assert.True(t, StateActive.CanDispatch())
	assert.True(t, StatePaused.CanDispatch())
	assert.True(t, StateIdle.CanDispatch())
	assert.False(t, StateInitializing.CanDispatch())
	assert.False(t, StateTerminating.CanDispatch())
	assert.False(t, StateTerminated.CanDispatch())
}

func TestDefaultPluginSpecsValidate(t *testing.T) {
	specs := DefaultPluginSpecs()
	require.Len(t, specs, 4)
	for _, s := range specs {
		assert.NoError(t, s.Validate(), "spec %s", s.Kind)
	}
}

func TestPluginSpecValidateRejectsMismatch(t *testing.T) {
	bad := PluginSpec{Kind: PluginRetry, Name: "retry"}
	assert.Error(t, bad.Validate())

	bad = PluginSpec{Kind: PluginPageLimit, Name: "pl", PageLimit: &PageLimitSpec{MaxPages: 0}}
	assert.Error(t, bad.Validate())

	bad = PluginSpec{Kind: "teleport", Name: "x"}
	assert.Error(t, bad.Validate())
}

func TestUpgradePageClosed(t *testing.T) {
	err := UpgradePageClosed(fmt.Errorf("driver: Target page, context closed"))
	assert.True(t, errors.Is(err, ErrPageClosed))

	plain := errors.New("timeout waiting for selector")
	assert.Equal(t, plain, UpgradePageClosed(plain))

	assert.NoError(t, UpgradePageClosed(nil))
}

func TestPriorityConflictErrorUnwraps(t *testing.T) {
	err := &PriorityConflictError{Requested: PriorityNormal, Current: PriorityHigh}
	assert.True(t, errors.Is(err, ErrPriorityConflict))
	assert.Contains(t, err.Error(), "normal")
	assert.Contains(t, err.Error(), "high")
}
