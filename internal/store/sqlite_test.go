package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := model.Profile{
		ID:            42,
		Tenant:        7,
		Platform:      "linux",
		BrowserFamily: "chromium",
		ViewportW:     1280,
		ViewportH:     720,
		Locale:        "en-US",
		Timezone:      "Europe/Vienna",
		Proxy:         "socks5://127.0.0.1:9050",
		UserAgent:     "Mozilla/5.0",
		Descriptor:    json.RawMessage(`{"webgl":"swiftshader"}`),
	}
	require.NoError(t, s.SaveProfile(ctx, in))

	out, err := s.Load(ctx, 7, 42)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("profile mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteProfileNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load(context.Background(), 7, 999)
	assert.ErrorIs(t, err, model.ErrProfileNotFound)
}

func TestSQLiteCountScopesTenant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.SaveProfile(ctx, model.Profile{ID: model.ProfileID(i), Tenant: 7}))
	}
	require.NoError(t, s.SaveProfile(ctx, model.Profile{ID: 1, Tenant: 8}))

	n, err := s.Count(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Count(ctx, 9)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLitePluginMerge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Tenant default: retry with 5 attempts.
	require.NoError(t, s.SavePlugin(ctx, 7, 0, model.PluginSpec{
		Kind: model.PluginRetry, Name: "tenant-retry", Enabled: true,
		Retry: &model.RetrySpec{Attempts: 5, Delay: time.Second},
	}))
	// Profile override: retry disabled.
	require.NoError(t, s.SavePlugin(ctx, 7, 42, model.PluginSpec{
		Kind: model.PluginRetry, Name: "profile-retry", Enabled: false,
		Retry: &model.RetrySpec{Attempts: 1, Delay: time.Second},
	}))

	specs, err := s.LoadPlugins(ctx, 7, 42)
	require.NoError(t, err)

	byKind := map[model.PluginKind]model.PluginSpec{}
	for _, spec := range specs {
		byKind[spec.Kind] = spec
	}
	// Override wins for the profile.
	assert.Equal(t, "profile-retry", byKind[model.PluginRetry].Name)
	assert.False(t, byKind[model.PluginRetry].Enabled)
	// Untouched kinds come from the built-in defaults.
	assert.Contains(t, byKind, model.PluginLog)

	// A sibling profile only sees the tenant default.
	specs, err = s.LoadPlugins(ctx, 7, 43)
	require.NoError(t, err)
	for _, spec := range specs {
		if spec.Kind == model.PluginRetry {
			assert.Equal(t, "tenant-retry", spec.Name)
			assert.Equal(t, 5, spec.Retry.Attempts)
		}
	}
}

func TestSQLitePluginsFallBackToDefaults(t *testing.T) {
	s := openTestStore(t)
	specs, err := s.LoadPlugins(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Len(t, specs, 4)
}

func TestMemoryStoreMirrorsContract(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Load(ctx, 1, 1)
	assert.ErrorIs(t, err, model.ErrProfileNotFound)

	s.PutProfile(model.Profile{ID: 1, Tenant: 1, Platform: "mac"})
	p, err := s.Load(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "mac", p.Platform)

	n, err := s.Count(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	specs, err := s.LoadPlugins(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, specs, 4)
}

func TestOpenFactory(t *testing.T) {
	s, err := Open("memory", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open("sqlite", filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open("cassandra", "")
	assert.Error(t, err)
}
