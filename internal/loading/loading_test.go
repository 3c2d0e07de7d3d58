package loading

import (
	"context"
	"errors"
	"testing"

	"granix/internal/model"
)

type fakeLinked map[string]model.Stop

func (f fakeLinked) LinkedStopsByAddress(_ context.Context, addrs []string) (map[string]model.Stop, error) {
	out := map[string]model.Stop{}
	for _, a := range addrs {
		if s, ok := f[a]; ok {
			out[a] = s
		}
	}
	return out, nil
}

type failingLinked struct{}

func (failingLinked) LinkedStopsByAddress(context.Context, []string) (map[string]model.Stop, error) {
	return nil, errors.New("store down")
}

func TestReverseIsExactReverse(t *testing.T) {
	for n := 0; n < 6; n++ {
		in := make([]model.Stop, n)
		for i := range in {
			in[i] = model.Stop{ID: string(rune('a' + i))}
		}
		out := Reverse(in)
		if len(out) != n {
			t.Fatalf("len %d != %d", len(out), n)
		}
		for i := range in {
			if out[i].ID != in[n-1-i].ID {
				t.Fatalf("n=%d: %v", n, out)
			}
		}
	}
}

func TestBuildEnrichesLinkedAndMarksUnlinked(t *testing.T) {
	route := []model.Stop{
		{ID: "1", DeliveryAddress: "A", PackageCount: 2},
		{ID: "2", DeliveryAddress: "B", PackageCount: 5},
	}
	g := NewGenerator(fakeLinked{"A": {ClientName: "Juan", LineItems: []model.LineItem{{ProductCode: "1001", Quantity: 2}}}})
	got, err := g.Build(context.Background(), route)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(got) != 2 || got[0].StopID != "2" || got[1].StopID != "1" {
		t.Fatalf("order: %+v", got)
	}
	if got[0].Linked || got[0].ClientName != model.InvoiceNotLinked || got[0].LineItems == nil {
		t.Fatalf("unlinked entry: %+v", got[0])
	}
	if !got[1].Linked || got[1].ClientName != "Juan" || len(got[1].LineItems) != 1 || got[1].Position != 2 {
		t.Fatalf("linked entry: %+v", got[1])
	}
}

func TestBuildEmptyAndLookupFailure(t *testing.T) {
	got, err := NewGenerator(failingLinked{}).Build(context.Background(), nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty route: %v %v", got, err)
	}
	if _, err := NewGenerator(failingLinked{}).Build(context.Background(), []model.Stop{{ID: "x"}}); err == nil {
		t.Fatalf("want lookup error")
	}
}
