package customer

import (
	"context"
	"errors"
	"testing"

	"granix/internal/model"
	"granix/internal/store"
)

type fakeLocator struct {
	pt    *model.GeoPoint
	err   error
	calls int
}

func (f *fakeLocator) Resolve(context.Context, string) (*model.GeoPoint, error) {
	f.calls++
	return f.pt, f.err
}

func TestResolveOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	geo := &fakeLocator{pt: &model.GeoPoint{Lat: -32.95, Lon: -60.64}}
	r := NewResolver(mem, geo, nil)
	f := Fields{CommercialName: "GARCIA OSCAR", DeliveryInstructions: "por la tarde"}

	first, err := r.ResolveOrCreate(ctx, "Artigas 395, Rosario", f, SourceManifest)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := r.ResolveOrCreate(ctx, "Artigas 395, Rosario", f, SourceManifest)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("duplicate customer: %s vs %s", first.ID, second.ID)
	}
	if mem.Writes() != 1 {
		t.Fatalf("want exactly one write, got %d", mem.Writes())
	}
	if geo.calls != 1 {
		t.Fatalf("geocoded %d times", geo.calls)
	}
}

func TestSourceOwnership(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r := NewResolver(mem, &fakeLocator{pt: &model.GeoPoint{Lat: 1, Lon: 1}}, nil)
	addr := "Laprida 1020, Rosario"
	if _, err := r.ResolveOrCreate(ctx, addr, Fields{CommercialName: "KIOSCO", DeliveryInstructions: "timbre"}, SourceManifest); err != nil {
		t.Fatalf("create: %v", err)
	}
	// invoice source cannot touch manifest-owned fields
	c, err := r.ResolveOrCreate(ctx, addr, Fields{ClientName: "Juan Perez", CommercialName: "OTRO", DeliveryInstructions: "otra"}, SourceInvoice)
	if err != nil {
		t.Fatalf("invoice: %v", err)
	}
	if c.ClientName != "Juan Perez" || c.CommercialName != "KIOSCO" || c.DeliveryInstructions != "timbre" {
		t.Fatalf("ownership violated: %+v", c)
	}
	// sentinel instructions never overwrite
	before := mem.Writes()
	c, _ = r.ResolveOrCreate(ctx, addr, Fields{CommercialName: "KIOSCO", DeliveryInstructions: model.NotFound}, SourceManifest)
	if c.DeliveryInstructions != "timbre" || mem.Writes() != before {
		t.Fatalf("sentinel wrote: %+v writes=%d->%d", c, before, mem.Writes())
	}
}

func TestNoAddress(t *testing.T) {
	r := NewResolver(store.NewMemory(), nil, nil)
	for _, a := range []string{"", "  ", model.NotFound, model.AddressNotFound} {
		if _, err := r.ResolveOrCreate(context.Background(), a, Fields{}, SourceManifest); !errors.Is(err, ErrNoAddress) {
			t.Fatalf("%q: want ErrNoAddress, got %v", a, err)
		}
	}
}

func TestGeocodeFailureCreatesWithoutCoordinatesThenBackfills(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	geo := &fakeLocator{err: errors.New("nominatim down")}
	r := NewResolver(mem, geo, nil)
	c, err := r.ResolveOrCreate(ctx, "Thedy 200, Rosario", Fields{}, SourceManifest)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Coordinates != nil {
		t.Fatalf("coordinates should be nil")
	}
	geo.err = nil
	geo.pt = &model.GeoPoint{Lat: -32.9, Lon: -60.7}
	c, err = r.ResolveOrCreate(ctx, "Thedy 200, Rosario", Fields{}, SourceManifest)
	if err != nil || c.Coordinates == nil {
		t.Fatalf("backfill: %+v %v", c, err)
	}
}
