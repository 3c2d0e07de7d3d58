package api

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"granix/internal/blob"
	"granix/internal/config"
	"granix/internal/customer"
	"granix/internal/events"
	"granix/internal/geocode"
	"granix/internal/linker"
	"granix/internal/loading"
	"granix/internal/model"
	"granix/internal/ocr"
	"granix/internal/pipeline"
	"granix/internal/routing"
	"granix/internal/store"
	"granix/internal/streetroute"
)

// Locator resolves a free-text address to coordinates.
type Locator interface {
	Resolve(ctx context.Context, address string) (*model.GeoPoint, error)
}

type Server struct {
	Store     store.Store
	Broker    events.Broker
	Geocoder  Locator
	Extractor *pipeline.Extractor
	Manifests *pipeline.ManifestService
	Invoices  *pipeline.InvoiceService
	Log       *zap.Logger
	Config    config.Config

	closers []func() error
}

// NewServer wires the pipeline from cfg. An empty database URL selects the
// in-memory store; an empty Redis URL keeps events and the geocode cache in
// process.
func NewServer(ctx context.Context, cfg config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{Log: log, Config: cfg}

	if cfg.Database.URL == "" {
		s.Store = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pg.Close)
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = s.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		s.Store = pg
	}

	var cache geocode.Cache = geocode.NewMemoryCache(cfg.Redis.GeocodeTTL)
	s.Broker = events.NewMemory()
	if cfg.Redis.URL != "" {
		if rb, err := events.NewRedis(cfg.Redis.URL, log); err == nil {
			s.Broker = rb
			s.closers = append(s.closers, rb.Close)
		} else {
			log.Warn("redis broker unavailable; using in-process events", zap.Error(err))
		}
		if rc, err := geocode.NewRedisCache(cfg.Redis.URL, cfg.Redis.GeocodeTTL); err == nil {
			cache = rc
			s.closers = append(s.closers, rc.Close)
		} else {
			log.Warn("redis geocode cache unavailable; using memory", zap.Error(err))
		}
	}

	nominatim := geocode.NewNominatim(geocode.NominatimConfig{
		BaseURL:           cfg.Geocoder.URL,
		UserAgent:         cfg.Geocoder.UserAgent,
		RequestsPerSecond: cfg.Geocoder.RequestsPerSecond,
		Timeout:           cfg.Geocoder.Timeout,
	})
	geo := geocode.NewResolver(geocode.NewCachedGeocoder(nominatim, cache, log), geocode.ResolverConfig{
		City:            cfg.Geocoder.City,
		CountryCodes:    cfg.Geocoder.CountryCodes,
		ViewBox:         geocode.ViewBox(cfg.Geocoder.ViewBox),
		FallbackAddress: cfg.Geocoder.FallbackAddress,
	}, log)
	s.Geocoder = geo

	uploader, err := newUploader(ctx, cfg.Blob, log)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	customers := customer.NewResolver(s.Store, geo, log)
	s.Extractor = pipeline.NewExtractor(ocr.NewDefault(cfg.OCR.Languages, log), log)
	s.Manifests = pipeline.NewManifestService(pipeline.ManifestDeps{
		Customers: customers,
		Store:     s.Store,
		Optimizer: routing.NewOptimizer(geo, routing.Config{
			DepotAddress:  cfg.Routing.DepotAddress,
			TimeBudget:    cfg.Routing.TimeBudget,
			MaxIterations: cfg.Routing.MaxIterations,
		}, log),
		Loading:      loading.NewGenerator(s.Store),
		Streets:      streetroute.NewOSRM(streetroute.OSRMConfig{BaseURL: cfg.OSRM.URL, Timeout: cfg.OSRM.Timeout}, log),
		Broker:       s.Broker,
		Log:          log,
		Workers:      cfg.Routing.Workers,
		DepotAddress: cfg.Routing.DepotAddress,
	})
	s.Invoices = pipeline.NewInvoiceService(pipeline.InvoiceDeps{
		Extractor: s.Extractor,
		Blobs:     uploader,
		Customers: customers,
		Store:     s.Store,
		Linker:    linker.New(s.Store, s.Broker, log),
		Broker:    s.Broker,
		Log:       log,
		City:      cfg.Geocoder.City,
	})
	return s, nil
}

func newUploader(ctx context.Context, cfg config.Blob, log *zap.Logger) (blob.Uploader, error) {
	if cfg.Bucket != "" {
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			PublicURL: cfg.PublicURL,
		}, log)
	}
	return blob.NewLocal(cfg.LocalDir, cfg.PublicURL)
}

// Close releases database and Redis connections.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
