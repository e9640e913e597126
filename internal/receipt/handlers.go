package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zombor/receipt-tracker/internal/capture"
	"github.com/zombor/receipt-tracker/internal/notion"
	"github.com/zombor/receipt-tracker/internal/objectstore"
)

// maxFormSize allows high-resolution phone photos
const maxFormSize = int64(50 << 20)

// focusRequest is the body of POST /api/focus
type focusRequest struct {
	X *float64 `json:"x" validate:"required,gte=0,lte=1"`
	Y *float64 `json:"y" validate:"required,gte=0,lte=1"`
}

// writeJSON writes v as a JSON response
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes {"error": message}
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrNoImage):
		return http.StatusNotFound
	case errors.Is(err, ErrNoCamera), errors.Is(err, capture.ErrNotPrepared), errors.Is(err, capture.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, capture.ErrNoFrame):
		return http.StatusConflict
	case errors.Is(err, capture.ErrInvalidFocusPoint), errors.Is(err, objectstore.ErrImageDataMissing):
		return http.StatusBadRequest
	case errors.Is(err, notion.ErrRequestFailed),
		errors.Is(err, notion.ErrInvalidResponse),
		errors.Is(err, objectstore.ErrUploadFailed),
		errors.Is(err, objectstore.ErrDownloadURLFailed),
		errors.Is(err, objectstore.ErrDownloadURLMissing),
		errors.Is(err, ErrImageFetchFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}

// handleSchema returns the database schema
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	meta, err := s.service.Schema(r.Context())
	if err != nil {
		slog.Error("Error fetching schema", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleListReceipts refreshes and returns the session list. With
// ?cached=true the current list is returned without asking the database.
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	if cached, _ := strconv.ParseBool(r.URL.Query().Get("cached")); cached {
		writeJSON(w, http.StatusOK, s.service.Records())
		return
	}

	records, err := s.service.Refresh(r.Context())
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleActivity returns receipts being added and recent failures
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Activity())
}

// handleUploadReceipt adds an uploaded image as a new receipt
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeError(w, http.StatusBadRequest, errorMsg)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		writeError(w, http.StatusBadRequest, errorMsg)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = capture.ContentTypeFor(header.Filename)
	}

	rec, err := s.service.AddReceipt(r.Context(), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error adding receipt", "filename", header.Filename, "error", err)
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			// Images that cannot be decoded end up here.
			code = http.StatusBadRequest
		}
		writeError(w, code, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// handleCapture captures a photo from the camera and adds it as a receipt
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.CaptureReceipt(r.Context())
	if err != nil {
		slog.Error("Error capturing receipt", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleFocus moves the camera focus to a normalized point
func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	var req focusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, capture.ErrInvalidFocusPoint.Error())
		return
	}

	if err := s.service.Focus(r.Context(), capture.Point{X: *req.X, Y: *req.Y}); err != nil {
		slog.Error("Error focusing camera", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleThumbnail returns a scaled JPEG of a receipt image
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Receipt ID required")
		return
	}

	size := DefaultThumbnailSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "size must be a positive integer")
			return
		}
		size = n
	}

	thumb, err := s.service.Thumbnail(r.Context(), id, size)
	if err != nil {
		if statusFor(err) != http.StatusNotFound {
			slog.Error("Error building thumbnail", "id", id, "error", err)
		}
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(thumb)
}
