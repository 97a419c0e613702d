package presence

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/openfridge/fridge/internal/clock"
)

// DefaultMaxAge is how long a pushed frame or face count stays usable.
const DefaultMaxAge = 2 * time.Second

// PushSource holds the latest frame and face count posted by the
// display. It serves as both FrameSource and FaceCounter; stale or
// missing input reads as ErrUnavailable.
type PushSource struct {
	clock  clock.Clock
	maxAge time.Duration

	mu      sync.Mutex
	frame   image.Image
	frameAt time.Time
	faces   int
	facesAt time.Time
}

func NewPushSource(c clock.Clock, maxAge time.Duration) *PushSource {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &PushSource{clock: c, maxAge: maxAge}
}

func (p *PushSource) PushFrame(img image.Image) {
	p.mu.Lock()
	p.frame, p.frameAt = img, p.clock.Now()
	p.mu.Unlock()
}

func (p *PushSource) PushFaces(n int) {
	p.mu.Lock()
	p.faces, p.facesAt = n, p.clock.Now()
	p.mu.Unlock()
}

func (p *PushSource) Frame(context.Context) (image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frame == nil || p.clock.Now().Sub(p.frameAt) > p.maxAge {
		return nil, ErrUnavailable
	}
	return p.frame, nil
}

func (p *PushSource) Faces(context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.facesAt.IsZero() || p.clock.Now().Sub(p.facesAt) > p.maxAge {
		return 0, ErrUnavailable
	}
	return p.faces, nil
}
