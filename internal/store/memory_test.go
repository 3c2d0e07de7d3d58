package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"granix/internal/model"
)

func pendingStop(addr string, at time.Time) model.Stop {
	return model.Stop{
		Type:            model.StopInvoice,
		DeliveryAddress: addr,
		Coordinates:     &model.GeoPoint{Lat: -32.9, Lon: -60.7},
		Status:          model.StatusPendingLink,
		CreatedAt:       at,
	}
}

func TestClaimOldestPending(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	// inserted newest first to make sure ordering is by created_at
	saved, err := m.CreateStops(ctx, []model.Stop{
		pendingStop("Artigas 395, Rosario", t0.Add(time.Hour)),
		pendingStop("Artigas 395, Rosario", t0),
	})
	if err != nil {
		t.Fatalf("CreateStops: %v", err)
	}
	got, err := m.ClaimOldestPending(ctx, "Artigas 395, Rosario", LinkPatch{InvoiceID: "inv1", ClientName: "GARCIA"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.ID != saved[1].ID {
		t.Fatalf("claimed %s, want oldest %s", got.ID, saved[1].ID)
	}
	if got.Status != model.StatusLinked || got.InvoiceID != "inv1" || got.LinkedAt == nil {
		t.Fatalf("link fields: %+v", got)
	}
	got2, err := m.ClaimOldestPending(ctx, "Artigas 395, Rosario", LinkPatch{InvoiceID: "inv2"})
	if err != nil || got2.ID != saved[0].ID {
		t.Fatalf("second claim: %+v %v", got2, err)
	}
	if _, err := m.ClaimOldestPending(ctx, "Artigas 395, Rosario", LinkPatch{InvoiceID: "inv3"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestReviewRequiredNeverClaimed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.CreateStops(ctx, []model.Stop{{
		Type:            model.StopDeliveryNote,
		DeliveryAddress: "Thedy 10, Rosario",
		Status:          model.StatusReviewRequired,
	}})
	if _, err := m.ClaimOldestPending(ctx, "Thedy 10, Rosario", LinkPatch{InvoiceID: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("review_required stop was claimed: %v", err)
	}
}

func TestLinkedStopsByAddressPicksLatest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	_, _ = m.CreateStops(ctx, []model.Stop{pendingStop("A", t0), pendingStop("A", t0.Add(time.Minute)), pendingStop("B", t0)})
	_, _ = m.ClaimOldestPending(ctx, "A", LinkPatch{InvoiceID: "old", LinkedAt: t0.Add(time.Hour)})
	_, _ = m.ClaimOldestPending(ctx, "A", LinkPatch{InvoiceID: "new", LinkedAt: t0.Add(2 * time.Hour)})
	got, err := m.LinkedStopsByAddress(ctx, []string{"A", "B", "C"})
	if err != nil {
		t.Fatalf("LinkedStopsByAddress: %v", err)
	}
	if len(got) != 1 || got["A"].InvoiceID != "new" {
		t.Fatalf("got %+v", got)
	}
}

func TestCustomerPatchAndLookup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c, _ := m.CreateCustomer(ctx, model.Customer{Address: "Laprida 1, Rosario", CommercialName: "X"})
	if _, err := m.FindCustomerByAddress(ctx, "laprida 1, rosario"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("lookup must be exact")
	}
	name := "Cliente"
	u, err := m.UpdateCustomer(ctx, c.ID, CustomerPatch{ClientName: &name})
	if err != nil {
		t.Fatalf("UpdateCustomer: %v", err)
	}
	if u.ClientName != "Cliente" || u.CommercialName != "X" {
		t.Fatalf("patched: %+v", u)
	}
	if _, err := m.UpdateCustomer(ctx, "missing", CustomerPatch{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound")
	}
}

func TestDailyRouteMerge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.SaveDailyRoute(ctx, "2024-05-01", model.DailyRoute{ManifestID: "m1", OptimizedIDs: []string{"a"}, Summary: map[string]int{"remitos": 3}})
	got, err := m.SaveDailyRoute(ctx, "2024-05-01", model.DailyRoute{OptimizedIDs: []string{"b", "c"}, Summary: map[string]int{"packages": 9}})
	if err != nil {
		t.Fatalf("SaveDailyRoute: %v", err)
	}
	if got.ManifestID != "m1" || len(got.OptimizedIDs) != 2 || got.Summary["remitos"] != 3 || got.Summary["packages"] != 9 {
		t.Fatalf("merge: %+v", got)
	}
	if _, err := m.GetDailyRoute(ctx, "2024-05-02"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound")
	}
}

func TestCreateStopsRejectsInconsistentStatus(t *testing.T) {
	m := NewMemory()
	_, err := m.CreateStops(context.Background(), []model.Stop{
		pendingStop("Artigas 395, Rosario", time.Now()),
		{DeliveryAddress: "Thedy 10, Rosario", Status: model.StatusPendingLink},
	})
	if !errors.Is(err, model.ErrMissingCoordinates) {
		t.Fatalf("want ErrMissingCoordinates, got %v", err)
	}
	if m.Writes() != 0 {
		t.Fatal("batch must be rejected as a whole")
	}
}

func TestDailyRouteSnapshotsAreIndependent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.SaveDailyRoute(ctx, "2024-05-01", model.DailyRoute{Summary: map[string]int{"total_packages": 1}}); err != nil {
		t.Fatal(err)
	}
	first, err := m.GetDailyRoute(ctx, "2024-05-01")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.SaveDailyRoute(ctx, "2024-05-01", model.DailyRoute{Summary: map[string]int{"total_packages": 99}}); err != nil {
		t.Fatal(err)
	}
	if first.Summary["total_packages"] != 1 {
		t.Fatalf("earlier snapshot changed: %v", first.Summary)
	}
	first.Summary["total_packages"] = 7
	again, _ := m.GetDailyRoute(ctx, "2024-05-01")
	if again.Summary["total_packages"] != 99 {
		t.Fatalf("stored snapshot changed by caller: %v", again.Summary)
	}
}
