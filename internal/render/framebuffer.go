package render

import (
	"errors"
	"image"
	"image/png"
	"io"
	"sync"
	"time"
)

// ErrNoFrame is returned before the first frame has been published.
var ErrNoFrame = errors.New("no frame rendered yet")

// FrameBuffer holds the most recently published frame for readers such as
// the HTTP handler.
type FrameBuffer struct {
	mu  sync.RWMutex
	img *image.RGBA
	seq uint64
	at  time.Time
}

// Publish replaces the current frame. The buffer takes ownership of img.
func (b *FrameBuffer) Publish(img *image.RGBA, at time.Time) {
	b.mu.Lock()
	b.img = img
	b.seq++
	b.at = at
	b.mu.Unlock()
}

// Latest returns the current frame, its sequence number and render time.
// The image must not be modified.
func (b *FrameBuffer) Latest() (*image.RGBA, uint64, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.img, b.seq, b.at
}

// WritePNG encodes the current frame to w.
func (b *FrameBuffer) WritePNG(w io.Writer) error {
	img, _, _ := b.Latest()
	if img == nil {
		return ErrNoFrame
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, img)
}
