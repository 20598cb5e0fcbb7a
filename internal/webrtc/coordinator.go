// Package webrtc negotiates low-latency viewing sessions over WebRTC. The
// coordinator owns one peer connection per session, buffers remote ICE
// candidates that outrun the offer or the answer and pumps captured frames into
// the outbound video track. Like MJPEG, frames bypass the plugin chain.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/pool"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
	"github.com/helmwind/browserpilot/internal/log"
	"github.com/helmwind/browserpilot/internal/metrics"
	"github.com/helmwind/browserpilot/internal/stream"
)

// ErrNoNegotiation is returned when an answer or candidate arrives for a
// session with no open peer connection.
var ErrNoNegotiation = errors.New("no webrtc negotiation in progress")

// candidatePattern matches the attribute form of RFC 8839 ICE candidates.
// The address token also admits mDNS hostnames (uuid.local), which Chrome
// and Safari emit for host candidates.
var candidatePattern = regexp.MustCompile(
	`^candidate:[0-9a-zA-Z+/]+ \d+ (?i:udp|tcp) \d+ [\w.:\-]+ \d+ typ (?:host|srflx|prflx|relay)`)

// Options configures the coordinator.
type Options struct {
	FPS         int // default 15
	Quality     int // capture JPEG quality, default 80
	STUNServers []string

	// Encoder builds the frame encoder feeding the video track. Without
	// one the connection negotiates but carries no media.
	Encoder EncoderFactory
}

func (o Options) normalize() Options {
	if o.FPS <= 0 {
		o.FPS = 15
	}
	if o.Quality <= 0 {
		o.Quality = 80
	}
	return o
}

// OfferResult carries the local SDP back to the client.
type OfferResult struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CandidatesResult lists the locally gathered ICE candidates.
type CandidatesResult struct {
	Candidates        []string `json:"candidates"`
	GatheringComplete bool     `json:"gathering_complete"`
}

// Coordinator owns the per-session peer connections.
type Coordinator struct {
	pool *pool.Pool
	mgr  *stream.Manager
	opts Options

	mu    sync.Mutex
	peers map[model.Key]*peer
	// staged holds candidates that arrived before any peer connection
	// existed for their key. CreateOffer drains them into the new peer.
	staged map[model.Key][]RemoteCandidate

	logger zerolog.Logger
}

type peer struct {
	pc        *webrtc.PeerConnection
	track     *webrtc.TrackLocalStaticSample
	cancel    context.CancelFunc
	addRemote func(webrtc.ICECandidateInit) error

	mu            sync.Mutex
	local         []string
	gatherDone    bool
	remoteSet     bool
	pendingRemote []RemoteCandidate
	closed        bool
}

// NewCoordinator wires the coordinator to the pool and stream registry.
func NewCoordinator(p *pool.Pool, mgr *stream.Manager, opts Options) *Coordinator {
	return &Coordinator{
		pool:   p,
		mgr:    mgr,
		opts:   opts.normalize(),
		peers:  map[model.Key]*peer{},
		staged: map[model.Key][]RemoteCandidate{},
		logger: log.WithComponent("webrtc"),
	}
}

// CreateOffer opens a peer connection for key and returns the local offer.
// An existing negotiation for the same session is torn down first; the
// newest viewer wins, matching the stream registry semantics.
func (c *Coordinator) CreateOffer(ctx context.Context, key model.Key) (OfferResult, error) {
	s, err := c.pool.Get(key)
	if err != nil {
		return OfferResult{}, err
	}
	if !s.State().CanDispatch() {
		return OfferResult{}, fmt.Errorf("session %s: %w", key, model.ErrSessionTerminated)
	}

	// Candidates staged before the offer seed the new negotiation; pop
	// them first so the teardown below cannot discard them.
	c.mu.Lock()
	staged := c.staged[key]
	delete(c.staged, key)
	c.mu.Unlock()

	c.Close(key)

	var servers []webrtc.ICEServer
	if len(c.opts.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.opts.STUNServers})
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return OfferResult{}, fmt.Errorf("new peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "browserpilot")
	if err != nil {
		_ = pc.Close()
		return OfferResult{}, fmt.Errorf("new video track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return OfferResult{}, fmt.Errorf("add track: %w", err)
	}

	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	pumpCtx, cancel := context.WithCancel(context.Background())
	p := &peer{pc: pc, track: track, cancel: cancel, addRemote: pc.AddICECandidate, pendingRemote: staged}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if cand == nil {
			p.gatherDone = true
			return
		}
		p.local = append(p.local, cand.ToJSON().Candidate)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug().
			Str(log.FieldSessionKey, key.String()).
			Str("connection_state", state.String()).
			Msg("peer connection state")
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			c.teardown(key, p)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		cancel()
		_ = pc.Close()
		return OfferResult{}, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		cancel()
		_ = pc.Close()
		return OfferResult{}, fmt.Errorf("set local description: %w", err)
	}

	c.mu.Lock()
	c.peers[key] = p
	c.mu.Unlock()
	c.mgr.Register(key, stream.KindWebRTC, func() { c.teardown(key, p) })

	if c.opts.Encoder != nil {
		w, h := 1280, 720
		if prof := s.Profile(); prof.ViewportW > 0 && prof.ViewportH > 0 {
			w, h = prof.ViewportW, prof.ViewportH
		}
		enc, err := c.opts.Encoder(w, h, c.opts.FPS)
		if err != nil {
			c.teardown(key, p)
			return OfferResult{}, fmt.Errorf("build encoder: %w", err)
		}
		go c.pump(pumpCtx, s, p, enc)
	} else {
		c.logger.Warn().
			Str(log.FieldSessionKey, key.String()).
			Msg("no encoder configured, negotiating without media")
	}

	return OfferResult{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// SetAnswer applies the remote answer and drains candidates that arrived
// before it, in arrival order.
func (c *Coordinator) SetAnswer(key model.Key, sdp string) error {
	p, err := c.peer(key)
	if err != nil {
		return err
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pendingRemote
	p.pendingRemote = nil
	add := p.addRemote
	p.mu.Unlock()

	for _, cand := range pending {
		if err := add(cand.init()); err != nil {
			c.logger.Warn().Err(err).
				Str(log.FieldSessionKey, key.String()).
				Msg("buffered candidate rejected")
		}
	}
	return nil
}

// RemoteCandidate is one ICE candidate from the client, in SDP attribute
// form plus its media-line correlation.
type RemoteCandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

func (rc RemoteCandidate) init() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     rc.Candidate,
		SDPMid:        rc.SDPMid,
		SDPMLineIndex: rc.SDPMLineIndex,
	}
}

// AddRemoteCandidate feeds one remote ICE candidate into the negotiation.
// Candidates arriving before the answer are buffered FIFO; candidates
// arriving before any offer exists are staged per key and picked up by the
// next CreateOffer.
func (c *Coordinator) AddRemoteCandidate(key model.Key, cand RemoteCandidate) error {
	if !candidatePattern.MatchString(cand.Candidate) {
		return fmt.Errorf("%w: malformed ice candidate", model.ErrInvalidParams)
	}

	c.mu.Lock()
	p, ok := c.peers[key]
	if !ok {
		c.staged[key] = append(c.staged[key], cand)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	p.mu.Lock()
	if !p.remoteSet {
		p.pendingRemote = append(p.pendingRemote, cand)
		p.mu.Unlock()
		return nil
	}
	add := p.addRemote
	p.mu.Unlock()

	return add(cand.init())
}

// LocalCandidates returns the candidates gathered so far.
func (c *Coordinator) LocalCandidates(key model.Key) (CandidatesResult, error) {
	p, err := c.peer(key)
	if err != nil {
		return CandidatesResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return CandidatesResult{
		Candidates:        append([]string(nil), p.local...),
		GatheringComplete: p.gatherDone,
	}, nil
}

// Close tears the negotiation for key down and drops any staged
// candidates. Closing an absent negotiation is a no-op.
func (c *Coordinator) Close(key model.Key) {
	c.mu.Lock()
	p := c.peers[key]
	delete(c.staged, key)
	c.mu.Unlock()
	if p != nil {
		c.teardown(key, p)
		c.mgr.Unregister(key, stream.KindWebRTC)
	}
}

func (c *Coordinator) peer(key model.Key) (*peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[key]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", key, ErrNoNegotiation)
	}
	return p, nil
}

// teardown closes p and unlinks it if it is still the registered peer.
func (c *Coordinator) teardown(key model.Key, p *peer) {
	p.mu.Lock()
	closed := p.closed
	p.closed = true
	p.mu.Unlock()
	if closed {
		return
	}

	p.cancel()
	if err := p.pc.Close(); err != nil {
		c.logger.Warn().Err(err).
			Str(log.FieldSessionKey, key.String()).
			Msg("peer connection close failed")
	}

	c.mu.Lock()
	if c.peers[key] == p {
		delete(c.peers, key)
	}
	c.mu.Unlock()
}

// pump captures frames and writes encoded samples onto the video track.
func (c *Coordinator) pump(ctx context.Context, s *pool.Session, p *peer, enc Encoder) {
	defer func() { _ = enc.Close() }()

	limiter := rate.NewLimiter(rate.Limit(c.opts.FPS), 1)
	duration := time.Second / time.Duration(c.opts.FPS)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		frame, err := c.capture(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		sample, err := enc.Encode(frame, duration)
		if err != nil {
			c.logger.Warn().Err(err).
				Str(log.FieldSessionKey, s.Key().String()).
				Msg("frame encode failed")
			continue
		}
		if err := p.track.WriteSample(sample); err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		metrics.StreamFrames.WithLabelValues(string(stream.KindWebRTC)).Inc()
	}
}

func (c *Coordinator) capture(ctx context.Context, s *pool.Session) ([]byte, error) {
	capCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	page, err := s.Handle().ActivePage(capCtx)
	if err != nil {
		return nil, err
	}
	return page.Screenshot(capCtx, ports.ScreenshotOptions{Quality: c.opts.Quality})
}
