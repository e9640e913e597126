package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotPrepared is returned when capturing before Prepare succeeded
	ErrNotPrepared = errors.New("capture device is not prepared")
	// ErrNoFrame is returned when the device has nothing to capture
	ErrNoFrame = errors.New("no frame available")
	// ErrInvalidFocusPoint is returned for points outside the unit square
	ErrInvalidFocusPoint = errors.New("focus point must be within 0..1")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("capture controller is closed")
)

// Point is a focus location normalized to the frame, 0..1 on both axes
type Point struct {
	X float64 `json:"x" validate:"gte=0,lte=1"`
	Y float64 `json:"y" validate:"gte=0,lte=1"`
}

// Frame is the raw output of a device
type Frame struct {
	Data        []byte
	ContentType string
}

// Image is a captured photo encoded as JPEG
type Image struct {
	Data       []byte
	CapturedAt time.Time
}

// Device is a camera or anything else that can produce receipt images.
// Implementations need not be safe for concurrent use; the Controller
// serializes every call.
type Device interface {
	// Configure prepares the device for capturing
	Configure(ctx context.Context) error
	// Capture returns the next frame
	Capture(ctx context.Context) (Frame, error)
	// Focus moves the focus to point
	Focus(ctx context.Context, point Point) error
}

// Controller drives a Device from a single session goroutine and hands
// results back to the calling goroutine.
type Controller struct {
	device    Device
	jobs      chan func()
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
	prepared  bool // owned by the session goroutine
}

// NewController creates a new Controller and starts its session goroutine
func NewController(device Device) *Controller {
	c := &Controller{
		device: device,
		jobs:   make(chan func()),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	go c.run()
	return c
}

func (c *Controller) run() {
	for {
		select {
		case job := <-c.jobs:
			job()
		case <-c.done:
			return
		}
	}
}

// submit runs fn on the session goroutine and waits for its result
func (c *Controller) submit(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	job := func() { result <- fn() }

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.jobs <- job:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Prepare configures the device
func (c *Controller) Prepare(ctx context.Context) error {
	return c.submit(ctx, func() error {
		if err := c.device.Configure(ctx); err != nil {
			return fmt.Errorf("configuring device: %w", err)
		}
		c.prepared = true
		return nil
	})
}

// CapturePhoto captures one frame and encodes it as JPEG
func (c *Controller) CapturePhoto(ctx context.Context) (*Image, error) {
	var frame Frame
	err := c.submit(ctx, func() error {
		if !c.prepared {
			return ErrNotPrepared
		}
		var err error
		frame, err = c.device.Capture(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("capturing photo: %w", err)
	}
	if len(frame.Data) == 0 {
		return nil, ErrNoFrame
	}

	data, err := ToJPEG(frame.Data, frame.ContentType)
	if err != nil {
		return nil, fmt.Errorf("converting photo: %w", err)
	}

	return &Image{Data: data, CapturedAt: c.now()}, nil
}

// Focus moves the device focus
func (c *Controller) Focus(ctx context.Context, point Point) error {
	if point.X < 0 || point.X > 1 || point.Y < 0 || point.Y > 1 {
		return ErrInvalidFocusPoint
	}
	return c.submit(ctx, func() error {
		if !c.prepared {
			return ErrNotPrepared
		}
		return c.device.Focus(ctx, point)
	})
}

// Close stops the session goroutine
func (c *Controller) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
