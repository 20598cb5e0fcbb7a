package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/time/rate"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/pool"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
	"github.com/helmwind/browserpilot/internal/log"
	"github.com/helmwind/browserpilot/internal/metrics"
)

// Boundary separates the multipart frames on the wire.
const Boundary = "frame"

// ContentType is the response header value for an MJPEG stream.
func ContentType() string {
	return "multipart/x-mixed-replace; boundary=" + Boundary
}

// MJPEGConfig shapes frame production.
type MJPEGConfig struct {
	FPS       int // default 10
	Quality   int // JPEG quality, default 80
	MaxWidth  int // downscale bound in pixels, 0 keeps the native viewport
	MaxHeight int
}

func (c MJPEGConfig) normalize() MJPEGConfig {
	if c.FPS <= 0 {
		c.FPS = 10
	}
	if c.Quality <= 0 {
		c.Quality = 80
	}
	return c
}

// MJPEGStreamer produces multipart JPEG streams from live sessions.
type MJPEGStreamer struct {
	pool   *pool.Pool
	mgr    *Manager
	conf   MJPEGConfig
	logger zerolog.Logger
}

// NewMJPEG builds a streamer registered on mgr.
func NewMJPEG(p *pool.Pool, mgr *Manager, conf MJPEGConfig) *MJPEGStreamer {
	return &MJPEGStreamer{
		pool:   p,
		mgr:    mgr,
		conf:   conf.normalize(),
		logger: log.WithComponent("mjpeg"),
	}
}

// ServeParams are per-request overrides; zero fields fall back to the
// configured defaults.
type ServeParams struct {
	FPS       int
	Quality   int
	MaxWidth  int
	MaxHeight int
}

// Serve writes frames to w until ctx ends, the session terminates or the
// viewer is replaced. Returns nil on a clean shutdown.
func (st *MJPEGStreamer) Serve(ctx context.Context, w io.Writer, key model.Key, params ServeParams) error {
	conf := st.conf
	if params.FPS > 0 && params.FPS <= 30 {
		conf.FPS = params.FPS
	}
	if params.Quality > 0 && params.Quality <= 100 {
		conf.Quality = params.Quality
	}
	if params.MaxWidth > 0 {
		conf.MaxWidth = params.MaxWidth
	}
	if params.MaxHeight > 0 {
		conf.MaxHeight = params.MaxHeight
	}

	s, err := st.pool.Get(key)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.Context(), cancel)
	defer stop()

	entry := st.mgr.Register(key, KindMJPEG, cancel)
	defer st.mgr.Remove(entry)

	st.logger.Info().
		Str(log.FieldSessionKey, key.String()).
		Int(log.FieldFPS, conf.FPS).
		Int(log.FieldQuality, conf.Quality).
		Msg("mjpeg stream started")

	flusher, _ := w.(http.Flusher)
	limiter := rate.NewLimiter(rate.Limit(conf.FPS), 1)

	for {
		if err := limiter.Wait(streamCtx); err != nil {
			return nil
		}

		frame, err := st.capture(streamCtx, s, conf)
		if err != nil {
			if streamCtx.Err() != nil {
				return nil
			}
			err = model.UpgradePageClosed(err)
			st.logger.Warn().Err(err).
				Str(log.FieldSessionKey, key.String()).
				Msg("mjpeg capture failed")
			if errors.Is(err, model.ErrPageClosed) {
				return err
			}
			continue
		}

		if err := writeFrame(w, frame); err != nil {
			// The viewer hung up.
			return nil
		}
		if flusher != nil {
			flusher.Flush()
		}
		st.mgr.Touch(key)
		metrics.StreamFrames.WithLabelValues(string(KindMJPEG)).Inc()
	}
}

func (st *MJPEGStreamer) capture(ctx context.Context, s *pool.Session, conf MJPEGConfig) ([]byte, error) {
	capCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	page, err := s.Handle().ActivePage(capCtx)
	if err != nil {
		return nil, err
	}
	img, err := page.Screenshot(capCtx, ports.ScreenshotOptions{Quality: conf.Quality})
	if err != nil {
		return nil, err
	}
	if conf.MaxWidth > 0 || conf.MaxHeight > 0 {
		if scaled, err := downscale(img, conf.MaxWidth, conf.MaxHeight, conf.Quality); err == nil {
			img = scaled
		}
	}
	return img, nil
}

// downscale re-encodes frames exceeding either bound, preserving aspect
// ratio. A zero bound does not constrain that axis.
func downscale(frame []byte, maxWidth, maxHeight, quality int) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, err
	}
	b := src.Bounds()

	scale := 1.0
	if maxWidth > 0 && b.Dx() > maxWidth {
		scale = min(scale, float64(maxWidth)/float64(b.Dx()))
	}
	if maxHeight > 0 && b.Dy() > maxHeight {
		scale = min(scale, float64(maxHeight)/float64(b.Dy()))
	}
	if scale >= 1 {
		return frame, nil
	}

	w := int(float64(b.Dx()) * scale)
	h := int(float64(b.Dy()) * scale)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeFrame(w io.Writer, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
