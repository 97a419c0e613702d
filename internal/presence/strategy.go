// Package presence decides whether someone is standing at the kiosk. A
// Detector polls its strategies in order; the first one able to answer
// decides, so motion only runs when face counting is unavailable.
package presence

import (
	"context"
	"errors"
	"image"
	"sync"

	"golang.org/x/image/draw"
)

// ErrUnavailable means a strategy has no input to judge right now.
var ErrUnavailable = errors.New("presence: strategy unavailable")

type Strategy interface {
	Name() string
	Detect(ctx context.Context) (bool, error)
}

// FaceCounter reports how many faces the camera currently sees.
type FaceCounter interface {
	Faces(ctx context.Context) (int, error)
}

type FaceStrategy struct {
	Counter FaceCounter
}

func (FaceStrategy) Name() string { return "face" }

func (s FaceStrategy) Detect(ctx context.Context) (bool, error) {
	if s.Counter == nil {
		return false, ErrUnavailable
	}
	n, err := s.Counter.Faces(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FrameSource yields the most recent camera frame.
type FrameSource interface {
	Frame(ctx context.Context) (image.Image, error)
}

const (
	motionWidth     = 120
	motionHeight    = 90
	motionStride    = 4
	MotionThreshold = 12.0
)

// MotionStrategy compares consecutive frames downsampled to 120x90
// grayscale. The first frame only seeds the baseline.
type MotionStrategy struct {
	Source    FrameSource
	Threshold float64

	mu   sync.Mutex
	prev []uint8
}

func NewMotionStrategy(src FrameSource) *MotionStrategy {
	return &MotionStrategy{Source: src, Threshold: MotionThreshold}
}

func (*MotionStrategy) Name() string { return "motion" }

func (s *MotionStrategy) Detect(ctx context.Context) (bool, error) {
	if s.Source == nil {
		return false, ErrUnavailable
	}
	img, err := s.Source.Frame(ctx)
	if err != nil {
		return false, err
	}
	cur := downsample(img)

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.prev
	s.prev = cur
	if prev == nil {
		return false, nil
	}
	return meanAbsDiff(prev, cur) > s.Threshold, nil
}

// Reset drops the baseline frame.
func (s *MotionStrategy) Reset() {
	s.mu.Lock()
	s.prev = nil
	s.mu.Unlock()
}

func downsample(src image.Image) []uint8 {
	dst := image.NewGray(image.Rect(0, 0, motionWidth, motionHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst.Pix
}

// meanAbsDiff averages |a-b| over every motionStride-th pixel.
func meanAbsDiff(a, b []uint8) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum, count int
	for i := 0; i < n; i += motionStride {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		sum += d
		count++
	}
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}
