package webrtc

import (
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
)

// Encoder turns captured JPEG frames into track samples. VP8 encoding needs
// a native codec binding, so the implementation is injected at composition
// time and the coordinator stays free of cgo.
type Encoder interface {
	Encode(jpegFrame []byte, duration time.Duration) (media.Sample, error)
	Close() error
}

// EncoderFactory builds an encoder for the given capture geometry.
type EncoderFactory func(width, height, fps int) (Encoder, error)
