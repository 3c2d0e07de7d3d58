package geocode

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"granix/internal/metrics"
	"granix/internal/model"
)

var (
	andradeRe     = regexp.MustCompile(`(?i)^\s*Andrade\b`)
	trailingCity  = regexp.MustCompile(`(?i),\s*Rosario\s*$`)
	ibarluceaMark = "25 De Mayo"
)

type ResolverConfig struct {
	City         string
	Region       string
	CountryCodes string
	ViewBox      ViewBox
	// FallbackAddress is tried when both the bounded and unbounded lookups
	// miss. Empty disables the fallback.
	FallbackAddress string
}

func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		City:         "Rosario",
		Region:       "Santa Fe, Argentina",
		CountryCodes: "ar",
		ViewBox:      RosarioViewBox,
	}
}

// Resolver turns a manifest or invoice address into a coordinate using the
// configured backend: bounded viewbox first, then unbounded, then the
// fallback address if one is configured.
type Resolver struct {
	backend Geocoder
	cfg     ResolverConfig
	log     *zap.Logger
}

func NewResolver(backend Geocoder, cfg ResolverConfig, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.City == "" {
		cfg.City = "Rosario"
	}
	if cfg.Region == "" {
		cfg.Region = "Santa Fe, Argentina"
	}
	return &Resolver{backend: backend, cfg: cfg, log: log}
}

// Query builds the full search string for an address, applying the street
// aliases and the city switch.
func (r *Resolver) Query(address string) string {
	addr := strings.TrimSpace(address)
	if andradeRe.MatchString(addr) {
		loc := andradeRe.FindStringIndex(addr)
		addr = "Olegario Victor Andrade" + addr[loc[1]:]
	}
	if strings.HasSuffix(strings.ToLower(addr), strings.ToLower(r.cfg.Region)) {
		return addr // already qualified, e.g. the depot
	}
	city := r.cfg.City
	if strings.Contains(addr, ibarluceaMark) {
		city = "Ibarlucea"
	}
	addr = trailingCity.ReplaceAllString(addr, "")
	return addr + ", " + city + ", " + r.cfg.Region
}

// Resolve returns nil, nil when no attempt matched. A backend error stops
// the chain and is returned so the caller can degrade.
func (r *Resolver) Resolve(ctx context.Context, address string) (*model.GeoPoint, error) {
	return r.resolve(ctx, address, true)
}

// ResolveStrict is Resolve without the fallback address. Used for the depot,
// where a substitute location would silently plan the wrong tour.
func (r *Resolver) ResolveStrict(ctx context.Context, address string) (*model.GeoPoint, error) {
	return r.resolve(ctx, address, false)
}

func (r *Resolver) resolve(ctx context.Context, address string, fallback bool) (*model.GeoPoint, error) {
	address = strings.TrimSpace(address)
	if address == "" || address == model.NotFound || address == model.AddressNotFound {
		return nil, nil
	}
	query := r.Query(address)

	attempts := []Options{{CountryCodes: r.cfg.CountryCodes}}
	if !r.cfg.ViewBox.IsZero() {
		vb := r.cfg.ViewBox
		attempts = []Options{
			{CountryCodes: r.cfg.CountryCodes, ViewBox: &vb, Bounded: true},
			{CountryCodes: r.cfg.CountryCodes},
		}
	}
	for i, opts := range attempts {
		pt, err := r.backend.Geocode(ctx, query, opts)
		if err != nil {
			metrics.GeocodeRequests.WithLabelValues("error").Inc()
			r.log.Error("geocode failed", zap.String("query", query), zap.Error(err))
			return nil, err
		}
		if pt != nil {
			metrics.GeocodeRequests.WithLabelValues("hit").Inc()
			return pt, nil
		}
		if i == 0 && len(attempts) > 1 {
			r.log.Warn("no bounded match, retrying without viewbox", zap.String("query", query))
		}
	}

	if fb := strings.TrimSpace(r.cfg.FallbackAddress); fallback && fb != "" {
		pt, err := r.backend.Geocode(ctx, fb, Options{CountryCodes: r.cfg.CountryCodes})
		if err == nil && pt != nil {
			metrics.GeocodeRequests.WithLabelValues("hit").Inc()
			r.log.Warn("using fallback address", zap.String("query", query), zap.String("fallback", fb))
			return pt, nil
		}
	}
	metrics.GeocodeRequests.WithLabelValues("miss").Inc()
	r.log.Warn("address not geocoded", zap.String("query", query))
	return nil, nil
}
