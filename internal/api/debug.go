package api

import (
	"net/http"
	"time"

	"granix/internal/buildinfo"
)

// DebugJSON reports build info and the effective, non-secret configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"addr":             c.HTTP.Addr,
			"has_database_url": c.Database.URL != "",
			"has_redis_url":    c.Redis.URL != "",
			"depot_address":    c.Routing.DepotAddress,
			"solver_budget":    c.Routing.TimeBudget.String(),
			"workers":          c.Routing.Workers,
			"nominatim_url":    c.Geocoder.URL,
			"geocoder_rps":     c.Geocoder.RequestsPerSecond,
			"fallback_address": c.Geocoder.FallbackAddress,
			"osrm_url":         c.OSRM.URL,
			"blob_backend":     blobBackend(c.Blob.Bucket),
			"ocr_languages":    c.OCR.Languages,
			"log_level":        c.Log.Level,
		},
	})
}

func blobBackend(bucket string) string {
	if bucket != "" {
		return "s3:" + bucket
	}
	return "local"
}
