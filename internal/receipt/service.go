package receipt

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/zombor/receipt-tracker/internal/capture"
	"github.com/zombor/receipt-tracker/internal/notion"
	"github.com/zombor/receipt-tracker/internal/objectstore"
	"github.com/zombor/receipt-tracker/internal/scanning"
)

const (
	// ImageFolder is the object storage folder receipt images are uploaded to
	ImageFolder = "images"

	DefaultThumbnailSize = 256
	MaxThumbnailSize     = 2048

	maxFailures   = 20
	maxImageBytes = 50 << 20
)

// Database is the remote receipts database
type Database interface {
	FetchSchema(ctx context.Context) (*notion.DatabaseMetadata, error)
	ListRecords(ctx context.Context) ([]notion.Record, error)
	CreateRecord(ctx context.Context, rec notion.Record) error
}

// ImageStore uploads receipt images
type ImageStore interface {
	UploadImage(ctx context.Context, data []byte, name, folder string) (string, error)
	Discard(ctx context.Context, key, reason string)
	Delete(ctx context.Context, key string) error
}

// Camera captures receipt photos
type Camera interface {
	CapturePhoto(ctx context.Context) (*capture.Image, error)
	Focus(ctx context.Context, point capture.Point) error
}

// IDGenerator generates unique IDs for records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service ties capture, upload and the remote database together and keeps
// the session list of records.
type Service struct {
	db          Database
	images      ImageStore
	camera      Camera
	scanner     scanning.Scanner
	ledger      Ledger
	idGenerator IDGenerator
	timeSource  TimeSource
	httpClient  *http.Client
	progress    ProgressFunc

	mu       sync.Mutex
	records  []notion.Record
	inFlight map[string]Progress
	failures []Progress
}

// NewService creates a new Service. camera, scanner and ledger may be nil.
func NewService(db Database, images ImageStore, camera Camera, scanner scanning.Scanner, ledger Ledger) *Service {
	return NewServiceWithDeps(db, images, camera, scanner, ledger,
		&uuidGenerator{}, &defaultTimeSource{}, &http.Client{Timeout: 30 * time.Second})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db Database, images ImageStore, camera Camera, scanner scanning.Scanner, ledger Ledger, idGen IDGenerator, timeSrc TimeSource, httpClient *http.Client) *Service {
	return &Service{
		db:          db,
		images:      images,
		camera:      camera,
		scanner:     scanner,
		ledger:      ledger,
		idGenerator: idGen,
		timeSource:  timeSrc,
		httpClient:  httpClient,
		inFlight:    make(map[string]Progress),
	}
}

// OnProgress registers fn for progress updates. Call it before the service
// is shared between goroutines.
func (s *Service) OnProgress(fn ProgressFunc) {
	s.progress = fn
}

// Schema fetches the database schema
func (s *Service) Schema(ctx context.Context) (*notion.DatabaseMetadata, error) {
	meta, err := s.db.FetchSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching schema: %w", err)
	}
	return meta, nil
}

// Refresh replaces the session list with the unvalidated records of the
// database. Downloaded images of records that are still listed are kept.
func (s *Service) Refresh(ctx context.Context) ([]notion.Record, error) {
	records, err := s.db.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cached := make(map[string][]byte, len(s.records))
	for _, rec := range s.records {
		if len(rec.Image) > 0 {
			cached[rec.ID] = rec.Image
		}
	}
	for i := range records {
		records[i].Image = cached[records[i].ID]
	}
	s.records = records

	return s.snapshot(), nil
}

// Records returns the session list
func (s *Service) Records() []notion.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// snapshot copies the session list; s.mu must be held
func (s *Service) snapshot() []notion.Record {
	records := make([]notion.Record, len(s.records))
	copy(records, s.records)
	return records
}

// Activity returns receipts still being added followed by recent failures
func (s *Service) Activity() []Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	activity := make([]Progress, 0, len(s.inFlight)+len(s.failures))
	for _, p := range s.inFlight {
		activity = append(activity, p)
	}
	sort.Slice(activity, func(i, j int) bool {
		return activity[i].At.Before(activity[j].At)
	})
	return append(activity, s.failures...)
}

// AddReceipt converts an uploaded image to JPEG and adds it as a new record
func (s *Service) AddReceipt(ctx context.Context, filename string, data []byte, contentType string) (*notion.Record, error) {
	if contentType == "" {
		contentType = capture.ContentTypeFor(filename)
	}

	jpeg, err := capture.ToJPEG(data, contentType)
	if err != nil {
		slog.Error("Failed to convert receipt image",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("converting image: %w", err)
	}

	rec := notion.NewRecord(s.idGenerator.Generate(), s.timeSource.Now())
	return s.add(ctx, rec, jpeg)
}

// CaptureReceipt captures a photo from the camera and adds it as a new record
func (s *Service) CaptureReceipt(ctx context.Context) (*notion.Record, error) {
	if s.camera == nil {
		return nil, ErrNoCamera
	}

	img, err := s.camera.CapturePhoto(ctx)
	if err != nil {
		return nil, fmt.Errorf("capturing receipt: %w", err)
	}

	rec := notion.NewRecord(s.idGenerator.Generate(), img.CapturedAt)
	return s.add(ctx, rec, img.Data)
}

// Focus moves the camera focus
func (s *Service) Focus(ctx context.Context, point capture.Point) error {
	if s.camera == nil {
		return ErrNoCamera
	}
	if err := s.camera.Focus(ctx, point); err != nil {
		return fmt.Errorf("focusing camera: %w", err)
	}
	return nil
}

// add uploads the image, then creates the record. The record is appended to
// the session list only after both steps succeeded.
func (s *Service) add(ctx context.Context, rec notion.Record, jpeg []byte) (*notion.Record, error) {
	s.scan(ctx, &rec, jpeg)

	name := rec.ID + ".jpg"
	s.report(rec.ID, StageUploading, nil)

	url, err := s.images.UploadImage(ctx, jpeg, name, ImageFolder)
	if err != nil {
		s.report(rec.ID, StageFailed, err)
		return nil, fmt.Errorf("uploading image: %w", err)
	}
	rec.ImageURL = url

	s.report(rec.ID, StageAdding, nil)
	if err := s.db.CreateRecord(ctx, rec); err != nil {
		s.images.Discard(ctx, objectstore.ObjectKey(ImageFolder, name), "create record failed")

		s.report(rec.ID, StageFailed, err)
		return nil, fmt.Errorf("creating record: %w", err)
	}

	rec.Image = jpeg

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()

	s.report(rec.ID, StageDone, nil)
	slog.Info("Added receipt", "id", rec.ID, "store", rec.Store, "price", rec.Price)

	return &rec, nil
}

// scan fills in the fields the scanner can read. Scan failures keep the
// placeholders.
func (s *Service) scan(ctx context.Context, rec *notion.Record, jpeg []byte) {
	if s.scanner == nil {
		return
	}

	data, err := s.scanner.ScanReceipt(ctx, jpeg)
	if err != nil {
		slog.Warn("Failed to scan receipt", "id", rec.ID, "error", err)
		return
	}

	if data.Store != "" {
		rec.Store = data.Store
	}
	if data.Category != "" {
		rec.Category = data.Category
	}
	if d, err := time.Parse("2006-01-02", data.Date); err == nil {
		rec.PurchaseDate = d
	}
	rec.Price = data.PriceCents()
}

func (s *Service) report(id string, stage Stage, err error) {
	p := Progress{ID: id, Stage: stage, At: s.timeSource.Now()}
	if err != nil {
		p.Error = err.Error()
	}

	s.mu.Lock()
	switch stage {
	case StageDone:
		delete(s.inFlight, id)
	case StageFailed:
		delete(s.inFlight, id)
		s.failures = append(s.failures, p)
		if len(s.failures) > maxFailures {
			s.failures = s.failures[len(s.failures)-maxFailures:]
		}
	default:
		s.inFlight[id] = p
	}
	s.mu.Unlock()

	if s.progress != nil {
		s.progress(p)
	}
}

// Thumbnail returns a JPEG of the record's image scaled to fit size x size
func (s *Service) Thumbnail(ctx context.Context, id string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultThumbnailSize
	}
	if size > MaxThumbnailSize {
		size = MaxThumbnailSize
	}

	data, err := s.recordImage(ctx, id)
	if err != nil {
		return nil, err
	}

	img, err := capture.Decode(data, http.DetectContentType(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	thumb, err := capture.EncodeJPEG(scaleToFit(img, size))
	if err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}
	return thumb, nil
}

// recordImage returns the image bytes of a record, downloading and caching
// them on first use
func (s *Service) recordImage(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	var rec *notion.Record
	for i := range s.records {
		if s.records[i].ID == id {
			rec = &s.records[i]
			break
		}
	}
	if rec == nil {
		s.mu.Unlock()
		return nil, ErrRecordNotFound
	}
	data, url := rec.Image, rec.ImageURL
	s.mu.Unlock()

	if len(data) > 0 {
		return data, nil
	}
	if url == "" {
		return nil, ErrNoImage
	}

	data, err := s.download(ctx, url)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records[i].Image = data
			break
		}
	}
	s.mu.Unlock()

	return data, nil
}

func (s *Service) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageFetchFailed, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrImageFetchFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageFetchFailed, err)
	}
	if len(data) == 0 {
		return nil, ErrNoImage
	}
	return data, nil
}

func scaleToFit(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= size && h <= size {
		return img
	}

	if w >= h {
		h = max(1, h*size/w)
		w = size
	} else {
		w = max(1, w*size/h)
		h = size
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// SweepOrphans retries deleting every object in the orphan ledger. Deleted
// objects are removed from the ledger; the rest stay for the next sweep.
func (s *Service) SweepOrphans(ctx context.Context) (*Sweep, error) {
	if s.ledger == nil {
		return &Sweep{Deleted: []string{}, Remaining: []string{}}, nil
	}

	orphans, err := s.ledger.ListOrphans()
	if err != nil {
		return nil, fmt.Errorf("listing orphans: %w", err)
	}

	sweep := &Sweep{Deleted: []string{}, Remaining: []string{}}
	var errs []error
	for _, orphan := range orphans {
		if err := s.images.Delete(ctx, orphan.Key); err != nil {
			slog.Warn("Failed to delete orphaned image", "key", orphan.Key, "error", err)
			sweep.Remaining = append(sweep.Remaining, orphan.Key)
			errs = append(errs, fmt.Errorf("deleting %s: %w", orphan.Key, err))
			continue
		}
		if err := s.ledger.RemoveOrphan(orphan.Key); err != nil {
			sweep.Remaining = append(sweep.Remaining, orphan.Key)
			errs = append(errs, fmt.Errorf("removing %s from ledger: %w", orphan.Key, err))
			continue
		}
		sweep.Deleted = append(sweep.Deleted, orphan.Key)
	}

	slog.Info("Swept orphaned images", "deleted", len(sweep.Deleted), "remaining", len(sweep.Remaining))
	return sweep, errors.Join(errs...)
}
