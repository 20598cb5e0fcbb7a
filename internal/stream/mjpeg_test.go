package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"mime/multipart"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

type framePage struct {
	frame []byte
}

func (p *framePage) Navigate(context.Context, string) error { return nil }

func (p *framePage) Click(context.Context, string) error { return nil }

func (p *framePage) ClickAt(context.Context, int, int) error { return nil }

func (p *framePage) Fill(context.Context, string, string) error { return nil }

func (p *framePage) Hover(context.Context, string) error { return nil }

func (p *framePage) Press(context.Context, string, string) error { return nil }

func (p *framePage) Scroll(context.Context, int, int) error { return nil }

func (p *framePage) Evaluate(context.Context, string) (any, error) { return nil, nil }

func (p *framePage) WaitForSelector(context.Context, string, string) error { return nil }

func (p *framePage) Screenshot(context.Context, ports.ScreenshotOptions) ([]byte, error) {
	return p.frame, nil
}

func (p *framePage) URL(context.Context) (string, error) { return "about:blank", nil }

func (p *framePage) Title(context.Context) (string, error) { return "blank", nil }

func (p *framePage) Viewport() (int, int) { return 200, 100 }

func (p *framePage) IsClosed() bool { return false }

func (p *framePage) Close(context.Context) error { return nil }

// frameSink fails writes after max frame headers, ending the stream the way
// a disconnecting viewer would.
type frameSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	frames int
	max    int
}

func (s *frameSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bytes.HasPrefix(p, []byte("--"+Boundary)) {
		s.frames++
		if s.frames > s.max {
			return 0, errors.New("viewer gone")
		}
	}
	return s.buf.Write(p)
}

func (s *frameSink) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

func TestServeMJPEGFraming(t *testing.T) {
	frame := encodeJPEG(t, 200, 100)
	p, mgr, _ := newStreamFixture(t, &framePage{frame: frame})
	st := NewMJPEG(p, mgr, MJPEGConfig{FPS: 50})

	sink := &frameSink{max: 2}
	err := st.Serve(context.Background(), sink, testKey(), ServeParams{})
	require.NoError(t, err)

	// Parse the produced parts with the stock multipart reader.
	r := multipart.NewReader(bytes.NewReader(sink.bytes()), Boundary)
	for range 2 {
		part, err := r.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))

		img, err := jpeg.Decode(bufio.NewReader(part))
		require.NoError(t, err)
		assert.Equal(t, 200, img.Bounds().Dx())
	}

	// The producer unregistered itself on the way out.
	assert.Empty(t, mgr.Snapshot())
}

func TestServeMJPEGContentLength(t *testing.T) {
	frame := encodeJPEG(t, 64, 32)
	p, mgr, _ := newStreamFixture(t, &framePage{frame: frame})
	st := NewMJPEG(p, mgr, MJPEGConfig{FPS: 50})

	sink := &frameSink{max: 1}
	require.NoError(t, st.Serve(context.Background(), sink, testKey(), ServeParams{}))

	out := string(sink.bytes())
	assert.True(t, strings.HasPrefix(out, "--"+Boundary+"\r\n"))
	assert.Contains(t, out, "Content-Length:")
}

func TestServeMJPEGUnknownSession(t *testing.T) {
	p, mgr, _ := newStreamFixture(t, &framePage{})
	st := NewMJPEG(p, mgr, MJPEGConfig{})

	err := st.Serve(context.Background(), &frameSink{max: 1}, model.Key{Tenant: 1, Profile: 1}, ServeParams{})
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestServeMJPEGStopsOnRelease(t *testing.T) {
	frame := encodeJPEG(t, 64, 32)
	p, mgr, _ := newStreamFixture(t, &framePage{frame: frame})
	st := NewMJPEG(p, mgr, MJPEGConfig{FPS: 50})

	done := make(chan error, 1)
	go func() {
		done <- st.Serve(context.Background(), &frameSink{max: 1 << 30}, testKey(), ServeParams{})
	}()

	require.Eventually(t, func() bool {
		return len(mgr.Snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Release(context.Background(), testKey(), true, model.RClientRelease))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on session release")
	}
}

func TestDownscale(t *testing.T) {
	wide := encodeJPEG(t, 200, 100)

	scaled, err := downscale(wide, 100, 0, 80)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(scaled))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())

	// The tighter bound wins when both are set.
	scaled, err = downscale(wide, 100, 25, 80)
	require.NoError(t, err)
	img, err = jpeg.Decode(bytes.NewReader(scaled))
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 25, img.Bounds().Dy())

	// Frames within bounds pass through untouched.
	narrow := encodeJPEG(t, 80, 40)
	same, err := downscale(narrow, 100, 80, 80)
	require.NoError(t, err)
	assert.Equal(t, narrow, same)
}
