package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"granix/internal/model"
	"granix/internal/pipeline"
	"granix/internal/store"
)

type manifestResponse struct {
	RawText string `json:"raw_text"`
	pipeline.ManifestResult
}

// ManifestsHandler handles POST /v1/manifests.
func (s *Server) ManifestsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	up, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	text, err := s.Extractor.Extract(r.Context(), up)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Manifests.Process(r.Context(), text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, manifestResponse{RawText: text, ManifestResult: res})
}

// InvoicesHandler handles POST /v1/invoices.
func (s *Server) InvoicesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	up, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	res, err := s.Invoices.Process(r.Context(), up)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// readUpload accepts a multipart "file" field or a raw request body.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (pipeline.Upload, bool) {
	limit := s.Config.HTTP.MaxUploadBytes
	if limit <= 0 {
		limit = 20 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "multipart/form-data" {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Missing file", "multipart field 'file' is required", r.URL.Path)
			return pipeline.Upload{}, false
		}
		defer func() { _ = f.Close() }()
		data, err := io.ReadAll(f)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Unreadable upload", err.Error(), r.URL.Path)
			return pipeline.Upload{}, false
		}
		return pipeline.Upload{Filename: hdr.Filename, ContentType: hdr.Header.Get("Content-Type"), Data: data}, true
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeProblem(w, http.StatusRequestEntityTooLarge, "Upload too large", err.Error(), r.URL.Path)
		} else {
			writeProblem(w, http.StatusBadRequest, "Unreadable upload", err.Error(), r.URL.Path)
		}
		return pipeline.Upload{}, false
	}
	return pipeline.Upload{Filename: r.URL.Query().Get("filename"), ContentType: mt, Data: data}, true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrEmptyUpload):
		writeProblem(w, http.StatusBadRequest, "Empty upload", err.Error(), r.URL.Path)
	case errors.Is(err, pipeline.ErrUnsupportedMedia):
		writeProblem(w, http.StatusUnsupportedMediaType, "Unsupported media type", err.Error(), r.URL.Path)
	case errors.Is(err, pipeline.ErrBlobUpload):
		s.Log.Error("blob upload failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeProblem(w, http.StatusBadGateway, "Image storage unavailable", err.Error(), r.URL.Path)
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeProblem(w, http.StatusServiceUnavailable, "Request cancelled", err.Error(), r.URL.Path)
	default:
		s.Log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Processing failed", err.Error(), r.URL.Path)
	}
}

// GeocodeHandler handles GET /v1/geocode?address=.
func (s *Server) GeocodeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	addr := strings.TrimSpace(r.URL.Query().Get("address"))
	if addr == "" {
		writeProblem(w, http.StatusBadRequest, "Missing address", "query parameter 'address' is required", r.URL.Path)
		return
	}
	pt, err := s.Geocoder.Resolve(r.Context(), addr)
	if err != nil {
		s.Log.Warn("geocode failed", zap.String("address", addr), zap.Error(err))
		writeProblem(w, http.StatusBadGateway, "Geocoder unavailable", err.Error(), r.URL.Path)
		return
	}
	if pt == nil {
		writeProblem(w, http.StatusNotFound, "Address not found", addr, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": addr, "lat": pt.Lat, "lon": pt.Lon})
}

// RouteByDateHandler handles GET /v1/routes/{date}; "today" is accepted.
func (s *Server) RouteByDateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	date := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/routes/"), "/")
	if date == "today" {
		date = time.Now().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid date", "expected YYYY-MM-DD", r.URL.Path)
		return
	}
	route, err := s.Store.GetDailyRoute(r.Context(), date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// StopsHandler handles GET /v1/stops?status=&address=&manifest_id=&limit=.
func (s *Server) StopsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	f := store.StopFilter{
		Status:     model.StopStatus(q.Get("status")),
		Address:    q.Get("address"),
		ManifestID: q.Get("manifest_id"),
		Limit:      100,
	}
	switch f.Status {
	case "", model.StatusPendingLink, model.StatusLinked, model.StatusReviewRequired:
	default:
		writeProblem(w, http.StatusBadRequest, "Invalid status", string(f.Status), r.URL.Path)
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be 1..1000", r.URL.Path)
			return
		}
		f.Limit = n
	}
	stops, err := s.Store.ListStops(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": stops})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
