package capture

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DirDevice", func() {
	var (
		dir    string
		device *DirDevice
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		device = NewDirDevice(dir)
		Expect(device.Configure(ctx)).To(Succeed())
	})

	writeFile := func(name string, data []byte, modTime time.Time) {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, data, 0644)).To(Succeed())
		Expect(os.Chtimes(path, modTime, modTime)).To(Succeed())
	}

	Describe("Configure", func() {
		It("should create the captured directory", func() {
			Expect(filepath.Join(dir, "captured")).To(BeADirectory())
		})
	})

	Describe("Capture", func() {
		When("images are waiting", func() {
			BeforeEach(func() {
				base := time.Now().Add(-time.Hour)
				writeFile("old.png", []byte("old"), base)
				writeFile("new.jpg", []byte("new"), base.Add(time.Minute))
				writeFile("notes.txt", []byte("skip me"), base.Add(2*time.Minute))
			})

			It("should return the newest image", func() {
				frame, err := device.Capture(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(frame.Data)).To(Equal("new"))
				Expect(frame.ContentType).To(Equal("image/jpeg"))
			})

			It("should consume the image", func() {
				_, err := device.Capture(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(filepath.Join(dir, "new.jpg")).NotTo(BeAnExistingFile())
				Expect(filepath.Join(dir, "captured", "new.jpg")).To(BeAnExistingFile())

				frame, err := device.Capture(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(frame.Data)).To(Equal("old"))
			})
		})

		When("the spool is empty", func() {
			It("returns the no frame error", func() {
				_, err := device.Capture(ctx)
				Expect(err).To(MatchError(ErrNoFrame))
			})
		})
	})

	Describe("Focus", func() {
		It("should remember the point", func() {
			Expect(device.Focus(ctx, Point{X: 0.1, Y: 0.9})).To(Succeed())
			Expect(device.FocusPoint()).To(Equal(Point{X: 0.1, Y: 0.9}))
		})
	})
})
