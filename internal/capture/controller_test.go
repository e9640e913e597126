package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockDevice records calls and fails on demand
type mockDevice struct {
	mu           sync.Mutex
	active       int
	maxActive    int
	configureErr error
	captureErr   error
	frame        Frame
	focused      []Point
	delay        time.Duration
}

func (m *mockDevice) enter() {
	m.mu.Lock()
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	m.mu.Unlock()
	time.Sleep(m.delay)
}

func (m *mockDevice) leave() {
	m.mu.Lock()
	m.active--
	m.mu.Unlock()
}

func (m *mockDevice) Configure(_ context.Context) error {
	m.enter()
	defer m.leave()
	return m.configureErr
}

func (m *mockDevice) Capture(_ context.Context) (Frame, error) {
	m.enter()
	defer m.leave()
	if m.captureErr != nil {
		return Frame{}, m.captureErr
	}
	return m.frame, nil
}

func (m *mockDevice) Focus(_ context.Context, point Point) error {
	m.enter()
	defer m.leave()
	m.mu.Lock()
	m.focused = append(m.focused, point)
	m.mu.Unlock()
	return nil
}

var _ = Describe("Controller", func() {
	var (
		device     *mockDevice
		controller *Controller
		ctx        context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		device = &mockDevice{frame: Frame{Data: testPNG(4, 4), ContentType: "image/png"}}
		controller = NewController(device)
		controller.now = func() time.Time { return time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC) }
	})

	AfterEach(func() {
		controller.Close()
	})

	Describe("CapturePhoto", func() {
		When("the device is prepared", func() {
			BeforeEach(func() {
				Expect(controller.Prepare(ctx)).To(Succeed())
			})

			It("should return a JPEG", func() {
				img, err := controller.CapturePhoto(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(isJPEG(img.Data)).To(BeTrue())
				Expect(img.CapturedAt).To(Equal(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)))
			})

			It("should serialize concurrent device calls", func() {
				device.delay = 5 * time.Millisecond
				var wg sync.WaitGroup
				for i := 0; i < 5; i++ {
					wg.Add(1)
					go func() {
						defer GinkgoRecover()
						defer wg.Done()
						_, err := controller.CapturePhoto(ctx)
						Expect(err).NotTo(HaveOccurred())
					}()
				}
				wg.Wait()
				Expect(device.maxActive).To(Equal(1))
			})

			It("returns the device error", func() {
				device.captureErr = errors.New("lens cap on")
				_, err := controller.CapturePhoto(ctx)
				Expect(err).To(MatchError(ContainSubstring("lens cap on")))
			})

			It("returns an error for an empty frame", func() {
				device.frame = Frame{}
				_, err := controller.CapturePhoto(ctx)
				Expect(err).To(MatchError(ErrNoFrame))
			})
		})

		When("the device is not prepared", func() {
			It("returns the not prepared error", func() {
				_, err := controller.CapturePhoto(ctx)
				Expect(errors.Is(err, ErrNotPrepared)).To(BeTrue())
			})
		})

		When("preparing fails", func() {
			BeforeEach(func() {
				device.configureErr = errors.New("no camera available")
			})

			It("should keep the device unprepared", func() {
				Expect(controller.Prepare(ctx)).To(MatchError(ContainSubstring("no camera available")))
				_, err := controller.CapturePhoto(ctx)
				Expect(errors.Is(err, ErrNotPrepared)).To(BeTrue())
			})
		})

		When("the controller is closed", func() {
			It("returns the closed error", func() {
				controller.Close()
				_, err := controller.CapturePhoto(ctx)
				Expect(errors.Is(err, ErrClosed)).To(BeTrue())
			})
		})
	})

	Describe("Focus", func() {
		BeforeEach(func() {
			Expect(controller.Prepare(ctx)).To(Succeed())
		})

		It("should pass the point to the device", func() {
			Expect(controller.Focus(ctx, Point{X: 0.25, Y: 0.75})).To(Succeed())
			Expect(device.focused).To(Equal([]Point{{X: 0.25, Y: 0.75}}))
		})

		It("should reject points outside the frame", func() {
			Expect(controller.Focus(ctx, Point{X: 1.5, Y: 0})).To(MatchError(ErrInvalidFocusPoint))
			Expect(device.focused).To(BeEmpty())
		})
	})
})
