package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"granix/internal/model"
)

type call struct {
	query string
	opts  Options
}

// scripted answers each call from results in order; calls past the end miss.
type scripted struct {
	calls   []call
	results []*model.GeoPoint
	err     error
}

func (s *scripted) Geocode(_ context.Context, q string, o Options) (*model.GeoPoint, error) {
	s.calls = append(s.calls, call{q, o})
	if s.err != nil {
		return nil, s.err
	}
	i := len(s.calls) - 1
	if i < len(s.results) {
		return s.results[i], nil
	}
	return nil, nil
}

func TestNominatimRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("q") != "Artigas 395, Rosario, Santa Fe, Argentina" {
			t.Errorf("q: %s", q.Get("q"))
		}
		if q.Get("countrycodes") != "ar" || q.Get("bounded") != "1" || q.Get("viewbox") == "" {
			t.Errorf("params: %v", q)
		}
		if r.Header.Get("User-Agent") != "granix-test" {
			t.Errorf("ua: %s", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte(`[{"lat":"-32.95","lon":"-60.66"}]`))
	}))
	defer ts.Close()

	n := NewNominatim(NominatimConfig{BaseURL: ts.URL, UserAgent: "granix-test"})
	vb := RosarioViewBox
	pt, err := n.Geocode(context.Background(), "Artigas 395, Rosario, Santa Fe, Argentina", Options{CountryCodes: "ar", ViewBox: &vb, Bounded: true})
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if pt == nil || pt.Lat != -32.95 || pt.Lon != -60.66 {
		t.Fatalf("point: %+v", pt)
	}
}

func TestNominatimNoMatchAndError(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()
	n := NewNominatim(NominatimConfig{BaseURL: ts.URL})
	pt, err := n.Geocode(context.Background(), "nowhere", Options{})
	if err != nil || pt != nil {
		t.Fatalf("want nil, nil; got %v, %v", pt, err)
	}
	status.Store(http.StatusServiceUnavailable)
	if _, err := n.Geocode(context.Background(), "nowhere", Options{}); err == nil {
		t.Fatalf("want error on 503")
	}
}

func TestResolverRetriesUnbounded(t *testing.T) {
	want := &model.GeoPoint{Lat: -32.9, Lon: -60.7}
	be := &scripted{results: []*model.GeoPoint{nil, want}}
	r := NewResolver(be, DefaultResolverConfig(), nil)
	pt, err := r.Resolve(context.Background(), "Artigas 395, Rosario")
	if err != nil || pt != want {
		t.Fatalf("Resolve: %v, %v", pt, err)
	}
	if len(be.calls) != 2 || !be.calls[0].opts.Bounded || be.calls[1].opts.ViewBox != nil {
		t.Fatalf("calls: %+v", be.calls)
	}
	if be.calls[0].query != "Artigas 395, Rosario, Santa Fe, Argentina" {
		t.Fatalf("query: %q", be.calls[0].query)
	}
}

func TestResolverAliasesAndCitySwitch(t *testing.T) {
	r := NewResolver(&scripted{}, DefaultResolverConfig(), nil)
	if q := r.Query("Andrade 1200, Rosario"); q != "Olegario Victor Andrade 1200, Rosario, Santa Fe, Argentina" {
		t.Fatalf("alias: %q", q)
	}
	if q := r.Query("25 De Mayo 300"); q != "25 De Mayo 300, Ibarlucea, Santa Fe, Argentina" {
		t.Fatalf("city: %q", q)
	}
	if q := r.Query("Mendoza 8895, Rosario, Santa Fe, Argentina"); q != "Mendoza 8895, Rosario, Santa Fe, Argentina" {
		t.Fatalf("qualified: %q", q)
	}
}

func TestResolverFallbackAndMiss(t *testing.T) {
	be := &scripted{}
	r := NewResolver(be, DefaultResolverConfig(), nil)
	pt, err := r.Resolve(context.Background(), "Calle Falsa 123")
	if err != nil || pt != nil {
		t.Fatalf("want miss, got %v, %v", pt, err)
	}
	if len(be.calls) != 2 {
		t.Fatalf("want 2 attempts without fallback, got %d", len(be.calls))
	}

	depot := &model.GeoPoint{Lat: -32.93, Lon: -60.72}
	be = &scripted{results: []*model.GeoPoint{nil, nil, depot}}
	cfg := DefaultResolverConfig()
	cfg.FallbackAddress = "Mendoza y Wilde, Rosario, Santa Fe, Argentina"
	r = NewResolver(be, cfg, nil)
	pt, err = r.Resolve(context.Background(), "Calle Falsa 123")
	if err != nil || pt != depot {
		t.Fatalf("fallback: %v, %v", pt, err)
	}
}

func TestResolveStrictIgnoresFallback(t *testing.T) {
	be := &scripted{results: []*model.GeoPoint{nil, nil, {Lat: -32.93, Lon: -60.72}}}
	cfg := DefaultResolverConfig()
	cfg.FallbackAddress = "Mendoza y Wilde, Rosario, Santa Fe, Argentina"
	r := NewResolver(be, cfg, nil)
	pt, err := r.ResolveStrict(context.Background(), "Calle Falsa 123")
	if err != nil || pt != nil {
		t.Fatalf("want miss, got %v, %v", pt, err)
	}
	if len(be.calls) != 2 {
		t.Fatalf("fallback must not be queried, got %d calls", len(be.calls))
	}
}

func TestResolverSkipsSentinelAndSurfacesErrors(t *testing.T) {
	be := &scripted{err: errors.New("boom")}
	r := NewResolver(be, DefaultResolverConfig(), nil)
	if pt, err := r.Resolve(context.Background(), model.NotFound); pt != nil || err != nil || len(be.calls) != 0 {
		t.Fatalf("sentinel should not be looked up")
	}
	if _, err := r.Resolve(context.Background(), "Artigas 1"); err == nil {
		t.Fatalf("want backend error")
	}
}

func TestCachedGeocoder(t *testing.T) {
	pt := &model.GeoPoint{Lat: 1, Lon: 2}
	be := &scripted{results: []*model.GeoPoint{pt}}
	c := NewCachedGeocoder(be, NewMemoryCache(time.Minute), nil)
	for i := 0; i < 3; i++ {
		got, err := c.Geocode(context.Background(), "Artigas 1", Options{CountryCodes: "ar"})
		if err != nil || got == nil || *got != *pt {
			t.Fatalf("call %d: %v, %v", i, got, err)
		}
	}
	if len(be.calls) != 1 {
		t.Fatalf("backend calls: %d", len(be.calls))
	}
	// misses are cached too
	if got, _ := c.Geocode(context.Background(), "nada", Options{}); got != nil {
		t.Fatalf("miss: %v", got)
	}
	_, _ = c.Geocode(context.Background(), "nada", Options{})
	if len(be.calls) != 2 {
		t.Fatalf("miss not cached: %d calls", len(be.calls))
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(time.Second)
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }
	_ = c.Set(context.Background(), "k", &model.GeoPoint{Lat: 1})
	if _, ok, _ := c.Get(context.Background(), "k"); !ok {
		t.Fatalf("want hit")
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := c.Get(context.Background(), "k"); ok {
		t.Fatalf("want expiry")
	}
}
