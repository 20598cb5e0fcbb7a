package webrtc

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/pool"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
	"github.com/helmwind/browserpilot/internal/stream"
)

const hostCandidate = "candidate:1467250027 1 udp 2130706431 192.168.0.196 46243 typ host"

type capPage struct{}

func (capPage) Navigate(context.Context, string) error { return nil }

func (capPage) Click(context.Context, string) error { return nil }

func (capPage) ClickAt(context.Context, int, int) error { return nil }

func (capPage) Fill(context.Context, string, string) error { return nil }

func (capPage) Hover(context.Context, string) error { return nil }

func (capPage) Press(context.Context, string, string) error { return nil }

func (capPage) Scroll(context.Context, int, int) error { return nil }

func (capPage) Evaluate(context.Context, string) (any, error) { return nil, nil }

func (capPage) WaitForSelector(context.Context, string, string) error { return nil }

func (capPage) Screenshot(context.Context, ports.ScreenshotOptions) ([]byte, error) {
	return []byte{0xff, 0xd8, 0xff, 0xd9}, nil
}

func (capPage) URL(context.Context) (string, error) { return "about:blank", nil }

func (capPage) Title(context.Context) (string, error) { return "blank", nil }

func (capPage) Viewport() (int, int) { return 1280, 800 }

func (capPage) IsClosed() bool { return false }

func (capPage) Close(context.Context) error { return nil }

type capHandle struct{}

func (capHandle) ActivePage(context.Context) (ports.Page, error) { return capPage{}, nil }

func (capHandle) Pages() []ports.Page { return []ports.Page{capPage{}} }

func (capHandle) Close(context.Context) error { return nil }

type capDriver struct{}

func (capDriver) Open(context.Context, model.Profile, bool) (ports.Handle, error) {
	return capHandle{}, nil
}

type capStore struct{}

func (capStore) Load(_ context.Context, tenant model.TenantID, profile model.ProfileID) (model.Profile, error) {
	return model.Profile{ID: profile, Tenant: tenant, ViewportW: 1280, ViewportH: 800}, nil
}

func (capStore) Count(context.Context, model.TenantID) (int, error) { return 1, nil }

func (capStore) LoadPlugins(context.Context, model.TenantID, model.ProfileID) ([]model.PluginSpec, error) {
	return nil, nil
}

type countingEncoder struct {
	frames atomic.Int64
}

func (e *countingEncoder) Encode(frame []byte, d time.Duration) (media.Sample, error) {
	e.frames.Add(1)
	return media.Sample{Data: frame, Duration: d}, nil
}

func (e *countingEncoder) Close() error { return nil }

func testKey() model.Key { return model.Key{Tenant: 7, Profile: 42} }

func newFixture(t *testing.T, opts Options) (*Coordinator, *pool.Pool, *stream.Manager) {
	t.Helper()
	p := pool.New(pool.Options{
		Driver:       capDriver{},
		Fingerprints: capStore{},
		Plugins:      capStore{},
	})
	t.Cleanup(func() {
		_ = p.Shutdown(context.Background())
	})
	_, err := p.Create(context.Background(), testKey(), pool.CreateOptions{})
	require.NoError(t, err)

	mgr := stream.NewManager(p, nil)
	co := NewCoordinator(p, mgr, opts)
	t.Cleanup(func() { co.Close(testKey()) })
	return co, p, mgr
}

func TestCreateOfferUnknownSession(t *testing.T) {
	co, _, _ := newFixture(t, Options{})
	_, err := co.CreateOffer(context.Background(), model.Key{Tenant: 1, Profile: 1})
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestOfferAnswerRoundTrip(t *testing.T) {
	co, _, mgr := newFixture(t, Options{})

	offer, err := co.CreateOffer(context.Background(), testKey())
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	assert.Contains(t, offer.SDP, "m=video")

	snap := mgr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, stream.KindWebRTC, snap[0].Kind)

	// Candidates arriving before the answer are buffered, not rejected.
	require.NoError(t, co.AddRemoteCandidate(testKey(), RemoteCandidate{Candidate: hostCandidate}))

	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	require.NoError(t, client.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}))
	answer, err := client.CreateAnswer(nil)
	require.NoError(t, err)
	require.NoError(t, client.SetLocalDescription(answer))

	require.NoError(t, co.SetAnswer(testKey(), answer.SDP))

	// Late candidates go straight through once the answer is set.
	assert.NoError(t, co.AddRemoteCandidate(testKey(), RemoteCandidate{Candidate: hostCandidate}))
}

func TestLocalCandidatesGather(t *testing.T) {
	co, _, _ := newFixture(t, Options{})

	_, err := co.CreateOffer(context.Background(), testKey())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, err := co.LocalCandidates(testKey())
		return err == nil && (len(res.Candidates) > 0 || res.GatheringComplete)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAddRemoteCandidateValidation(t *testing.T) {
	co, _, _ := newFixture(t, Options{})

	_, err := co.CreateOffer(context.Background(), testKey())
	require.NoError(t, err)

	err = co.AddRemoteCandidate(testKey(), RemoteCandidate{Candidate: "not a candidate'; DROP TABLE peers;--"})
	assert.ErrorIs(t, err, model.ErrInvalidParams)

	// mDNS-obfuscated host candidates, the Chrome and Safari default.
	mdns := "candidate:2365940406 1 udp 2113937151 3208a62a-5d54-40d8-95b4-ff8cbbf3dcf4.local 49203 typ host"
	assert.NoError(t, co.AddRemoteCandidate(testKey(), RemoteCandidate{Candidate: mdns}))
}

func TestCandidateBeforeOfferStaged(t *testing.T) {
	co, _, _ := newFixture(t, Options{})

	// No peer connection exists yet; the candidate is accepted and held
	// for the negotiation that follows.
	require.NoError(t, co.AddRemoteCandidate(testKey(), RemoteCandidate{Candidate: hostCandidate}))

	_, err := co.CreateOffer(context.Background(), testKey())
	require.NoError(t, err)

	p, err := co.peer(testKey())
	require.NoError(t, err)
	p.mu.Lock()
	pending := len(p.pendingRemote)
	p.mu.Unlock()
	assert.Equal(t, 1, pending)
}

func TestCloseDropsStagedCandidates(t *testing.T) {
	co, _, _ := newFixture(t, Options{})

	require.NoError(t, co.AddRemoteCandidate(testKey(), RemoteCandidate{Candidate: hostCandidate}))
	co.Close(testKey())

	_, err := co.CreateOffer(context.Background(), testKey())
	require.NoError(t, err)

	p, err := co.peer(testKey())
	require.NoError(t, err)
	p.mu.Lock()
	pending := len(p.pendingRemote)
	p.mu.Unlock()
	assert.Zero(t, pending)
}

func TestCandidatesDrainInArrivalOrder(t *testing.T) {
	co, _, _ := newFixture(t, Options{})

	cand := func(i int) string {
		return fmt.Sprintf("candidate:%d 1 udp 2130706431 192.168.0.%d 46243 typ host", i+1, i+1)
	}

	// Two candidates outrun the offer, a third outruns the answer.
	require.NoError(t, co.AddRemoteCandidate(testKey(), RemoteCandidate{Candidate: cand(0)}))
	require.NoError(t, co.AddRemoteCandidate(testKey(), RemoteCandidate{Candidate: cand(1)}))

	offer, err := co.CreateOffer(context.Background(), testKey())
	require.NoError(t, err)
	require.NoError(t, co.AddRemoteCandidate(testKey(), RemoteCandidate{Candidate: cand(2)}))

	var got []string
	p, err := co.peer(testKey())
	require.NoError(t, err)
	p.mu.Lock()
	p.addRemote = func(c webrtc.ICECandidateInit) error {
		got = append(got, c.Candidate)
		return nil
	}
	p.mu.Unlock()

	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	require.NoError(t, client.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}))
	answer, err := client.CreateAnswer(nil)
	require.NoError(t, err)
	require.NoError(t, client.SetLocalDescription(answer))

	require.NoError(t, co.SetAnswer(testKey(), answer.SDP))
	assert.Equal(t, []string{cand(0), cand(1), cand(2)}, got)

	// After the answer candidates skip the buffer but keep the same path.
	require.NoError(t, co.AddRemoteCandidate(testKey(), RemoteCandidate{Candidate: cand(3)}))
	assert.Equal(t, []string{cand(0), cand(1), cand(2), cand(3)}, got)
}

func TestAnswerWithoutOffer(t *testing.T) {
	co, _, _ := newFixture(t, Options{})
	err := co.SetAnswer(testKey(), "v=0")
	assert.ErrorIs(t, err, ErrNoNegotiation)
}

func TestCloseTearsDownNegotiation(t *testing.T) {
	co, _, mgr := newFixture(t, Options{})

	_, err := co.CreateOffer(context.Background(), testKey())
	require.NoError(t, err)

	co.Close(testKey())
	assert.Empty(t, mgr.Snapshot())

	err = co.SetAnswer(testKey(), "v=0")
	assert.ErrorIs(t, err, ErrNoNegotiation)
}

func TestReleaseStopsNegotiation(t *testing.T) {
	co, p, mgr := newFixture(t, Options{})

	_, err := co.CreateOffer(context.Background(), testKey())
	require.NoError(t, err)

	require.NoError(t, p.Release(context.Background(), testKey(), true, model.RClientRelease))
	assert.Empty(t, mgr.Snapshot())

	_, err = co.LocalCandidates(testKey())
	assert.ErrorIs(t, err, ErrNoNegotiation)
}

func TestPumpFeedsEncoder(t *testing.T) {
	enc := &countingEncoder{}
	co, _, _ := newFixture(t, Options{
		FPS:     30,
		Encoder: func(int, int, int) (Encoder, error) { return enc, nil },
	})

	_, err := co.CreateOffer(context.Background(), testKey())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return enc.frames.Load() > 0
	}, 3*time.Second, 10*time.Millisecond)

	co.Close(testKey())
}

func TestRenegotiationReplacesPeer(t *testing.T) {
	co, _, mgr := newFixture(t, Options{})

	first, err := co.CreateOffer(context.Background(), testKey())
	require.NoError(t, err)
	second, err := co.CreateOffer(context.Background(), testKey())
	require.NoError(t, err)

	assert.NotEmpty(t, first.SDP)
	assert.NotEmpty(t, second.SDP)
	assert.Len(t, mgr.Snapshot(), 1)
}
