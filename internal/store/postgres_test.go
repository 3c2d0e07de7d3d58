package store

import (
	"testing"
	"time"

	"granix/internal/model"
)

func TestPostgresHelpers(t *testing.T) {
	if v := nullIfEmpty(""); v != nil {
		t.Fatalf("empty -> nil expected")
	}
	if lat, lon := latLon(nil); lat != nil || lon != nil {
		t.Fatalf("nil point -> nil columns expected")
	}
	if items := nonNilItems(nil); items == nil {
		t.Fatalf("nil items -> empty slice expected")
	}
	s := "x"
	if v := nullString(&s); v != "x" {
		t.Fatalf("nullString: %v", v)
	}
	if p := (CustomerPatch{}); !p.Empty() {
		t.Fatalf("zero patch should be empty")
	}
	if schemaSQL == "" {
		t.Fatalf("schema not embedded")
	}
}

func TestMergeDailyRouteKeepsUnsetFields(t *testing.T) {
	prev := model.DailyRoute{ManifestID: "m1", Polyline: []model.GeoPoint{{Lat: 1, Lon: 2}}}
	got := mergeDailyRoute(prev, model.DailyRoute{OptimizedIDs: []string{"s1"}})
	if got.ManifestID != "m1" || len(got.Polyline) != 1 || len(got.OptimizedIDs) != 1 {
		t.Fatalf("merge: %+v", got)
	}
}

func TestMergeDailyRouteDoesNotShareSummary(t *testing.T) {
	prev := model.DailyRoute{Summary: map[string]int{"total_packages": 1}}
	got := mergeDailyRoute(prev, model.DailyRoute{Summary: map[string]int{"total_packages": 99}})
	if prev.Summary["total_packages"] != 1 {
		t.Fatalf("prev mutated: %v", prev.Summary)
	}
	if got.Summary["total_packages"] != 99 {
		t.Fatalf("merged: %v", got.Summary)
	}
}

func TestStampInvoiceKeepsCallerTimes(t *testing.T) {
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	now := created.Add(time.Hour)
	inv := model.Invoice{CreatedAt: created}
	stampInvoice(&inv, now)
	if !inv.CreatedAt.Equal(created) || !inv.ProcessedAt.Equal(now) {
		t.Fatalf("stamp: created %v processed %v", inv.CreatedAt, inv.ProcessedAt)
	}
}
