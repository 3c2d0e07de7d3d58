package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	"granix/internal/customer"
	"granix/internal/events"
	"granix/internal/linker"
	"granix/internal/loading"
	"granix/internal/model"
	"granix/internal/routing"
	"granix/internal/store"
)

const manifestText = `INFORME DE REPARTO
Fa P0298-00000001 ALMACEN NORTE Artigas 395, Rosario 4
Fa P0298-00000002 KIOSCO SUR San Martin 1200, Rosario 2
Re P0299-00000003 DESPENSA OESTE Mendoza 500, Rosario 1
Fa P0298-00000004 BAR PERDIDO Zeballos 10, Rosario 3
Cantidad de Facturas: 3 Cantidad de Remitos: 1 Bultos: 10
`

const invoiceText = `DISTRIBUIDORA GRANIX
FACTURA N° 0003-00045678
Sr/Sres. Cliente: 12345
KIOSCO SUR SRL Ven.: 30/09
SAN MARTIN N° 1200 ?  Transp.: PROPIO
Articulo Cantidad Descripción Precio Importe
1001 2 GALLETITAS AGUA 500G 1.250,00 2.500,00
Subtotal 2.500,00
IMPORTE TOTAL $ 2.500,00
`

type mapLocator map[string]*model.GeoPoint

func (m mapLocator) Resolve(_ context.Context, address string) (*model.GeoPoint, error) {
	return m[address], nil
}

type echoStreets struct{}

func (echoStreets) Route(_ context.Context, pts []model.GeoPoint) []model.GeoPoint {
	return append([]model.GeoPoint{}, pts...)
}

type fakeEngine struct{ text string }

func (f fakeEngine) Recognize(context.Context, []byte) (string, error) { return f.text, nil }

type brokenEngine struct{}

func (brokenEngine) Recognize(context.Context, []byte) (string, error) {
	return "", errors.New("tesseract: init failed")
}

type downCustomers struct{}

func (downCustomers) ResolveOrCreate(context.Context, string, customer.Fields, customer.Source) (model.Customer, error) {
	return model.Customer{}, errors.New("find customer: store unavailable")
}

type failingUploader struct{}

func (failingUploader) Upload(context.Context, string, []byte, string) (string, error) {
	return "", errors.New("bucket unavailable")
}

type memUploader struct{ keys []string }

func (u *memUploader) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	u.keys = append(u.keys, key)
	return "mem://" + key, nil
}

func rosario(withDepot bool) mapLocator {
	m := mapLocator{
		"Artigas 395, Rosario":     {Lat: -32.9300, Lon: -60.6600},
		"San Martin 1200, Rosario": {Lat: -32.9500, Lon: -60.6400},
		"Mendoza 500, Rosario":     {Lat: -32.9450, Lon: -60.6350},
	}
	if withDepot {
		m[routing.DefaultDepotAddress] = &model.GeoPoint{Lat: -32.9550, Lon: -60.7000}
	}
	return m
}

type fixture struct {
	mem      *store.Memory
	broker   *events.Memory
	manifest *ManifestService
	invoice  *InvoiceService
}

func newFixture(loc mapLocator) fixture {
	mem := store.NewMemory()
	broker := events.NewMemory()
	customers := customer.NewResolver(mem, loc, nil)
	return fixture{
		mem:    mem,
		broker: broker,
		manifest: NewManifestService(ManifestDeps{
			Customers: customers,
			Store:     mem,
			Optimizer: routing.NewOptimizer(loc, routing.Config{TimeBudget: 200 * time.Millisecond}, nil),
			Loading:   loading.NewGenerator(mem),
			Streets:   echoStreets{},
			Broker:    broker,
		}),
		invoice: NewInvoiceService(InvoiceDeps{
			Extractor: NewExtractor(nil, nil),
			Customers: customers,
			Store:     mem,
			Linker:    linker.New(mem, broker, nil),
			Broker:    broker,
		}),
	}
}

func TestManifestPipeline(t *testing.T) {
	f := newFixture(rosario(true))
	sub := f.broker.Subscribe(events.TopicDeliveries)
	ctx := context.Background()

	res, err := f.manifest.Process(ctx, manifestText)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(res.Stops) != 4 {
		t.Fatalf("want 4 stops, got %d", len(res.Stops))
	}
	if res.TotalInvoices != 3 || res.TotalRemitos != 1 || res.TotalPackages != 10 {
		t.Fatalf("summary: %d/%d/%d", res.TotalInvoices, res.TotalRemitos, res.TotalPackages)
	}
	var review model.Stop
	for _, s := range res.Stops {
		if s.DeliveryAddress == "Zeballos 10, Rosario" {
			review = s
		}
	}
	if review.Status != model.StatusReviewRequired || review.Coordinates != nil {
		t.Fatalf("ungeocoded stop: %+v", review)
	}
	if res.Route.Status != model.RouteOptimized || len(res.Route.Stops) != 3 {
		t.Fatalf("route: %s with %d stops", res.Route.Status, len(res.Route.Stops))
	}
	for _, s := range res.Route.Stops {
		if s.ID == review.ID {
			t.Fatal("review_required stop must not be routed")
		}
	}
	if len(res.Loading) != 3 {
		t.Fatalf("loading list: %d entries", len(res.Loading))
	}
	for i, e := range res.Loading {
		if e.StopID != res.Route.Stops[len(res.Route.Stops)-1-i].ID {
			t.Fatalf("loading entry %d is not the reverse of the route", i)
		}
		if e.ClientName != model.InvoiceNotLinked || e.Position != i+1 {
			t.Fatalf("entry %d: %+v", i, e)
		}
	}
	if len(res.Polyline) != 3 {
		t.Fatalf("polyline: %d points", len(res.Polyline))
	}

	daily, err := f.mem.GetDailyRoute(ctx, res.RouteDate)
	if err != nil {
		t.Fatalf("daily route: %v", err)
	}
	if daily.ManifestID != res.ManifestID || len(daily.OptimizedIDs) != 3 || daily.Summary["total_packages"] != 10 {
		t.Fatalf("daily route: %+v", daily)
	}

	select {
	case evt := <-sub:
		if evt.Type != events.TypeStopReviewRequired || evt.Data["stop_id"] != review.ID {
			t.Fatalf("event: %+v", evt)
		}
	default:
		t.Fatal("expected a review_required event")
	}
}

func TestManifestDepotUnresolved(t *testing.T) {
	f := newFixture(rosario(false))
	res, err := f.manifest.Process(context.Background(), manifestText)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.RouteError == "" || res.Route.Status != model.RouteSkipped {
		t.Fatalf("want skipped route with error, got %s %q", res.Route.Status, res.RouteError)
	}
	if len(res.Stops) != 4 || len(res.Route.Unrouted) != 3 || len(res.Loading) != 0 {
		t.Fatalf("stops=%d unrouted=%d loading=%d", len(res.Stops), len(res.Route.Unrouted), len(res.Loading))
	}
	if _, err := f.mem.GetDailyRoute(context.Background(), res.RouteDate); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("no snapshot expected, got %v", err)
	}
}

func TestManifestWithoutItems(t *testing.T) {
	f := newFixture(rosario(true))
	res, err := f.manifest.Process(context.Background(), "nada que ver\nCantidad de Remitos: 0 Bultos: 0")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Stops) != 0 || res.Stops == nil || f.mem.Writes() != 0 {
		t.Fatalf("expected no persistence: %+v writes=%d", res, f.mem.Writes())
	}
}

func TestInvoiceLinksAndEnrichesNextLoadingList(t *testing.T) {
	f := newFixture(rosario(true))
	ctx := context.Background()
	if _, err := f.manifest.Process(ctx, manifestText); err != nil {
		t.Fatal(err)
	}

	up := &memUploader{}
	f.invoice.d.Blobs = up
	res, err := f.invoice.Process(ctx, Upload{Filename: "factura.txt", Data: []byte(invoiceText)})
	if err != nil {
		t.Fatalf("invoice: %v", err)
	}
	if !res.Linked || res.LinkedStopID == "" {
		t.Fatalf("expected link: %+v", res)
	}
	if res.TotalFormatted != "$ 2.500,00" {
		t.Fatalf("total: %q", res.TotalFormatted)
	}
	if res.Invoice.Coordinates == nil || res.Invoice.CustomerID == "" {
		t.Fatalf("invoice not tied to customer: %+v", res.Invoice)
	}
	if len(up.keys) != 1 || !strings.HasPrefix(res.Invoice.ImageURL, "mem://invoices/") {
		t.Fatalf("upload: %v %q", up.keys, res.Invoice.ImageURL)
	}

	again, err := f.manifest.Process(ctx, manifestText)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, e := range again.Loading {
		if e.DeliveryAddress == "San Martin 1200, Rosario" {
			found = true
			if e.ClientName != "KIOSCO SUR SRL" || len(e.LineItems) != 1 {
				t.Fatalf("entry not enriched: %+v", e)
			}
		}
	}
	if !found {
		t.Fatal("San Martin stop missing from loading list")
	}
}

func TestInvoiceWithoutPendingStopIsNotLinked(t *testing.T) {
	f := newFixture(rosario(true))
	res, err := f.invoice.Process(context.Background(), Upload{Data: []byte(invoiceText)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Linked {
		t.Fatal("nothing to link to")
	}
}

func TestInvoiceBlobFailureAborts(t *testing.T) {
	f := newFixture(rosario(true))
	f.invoice.d.Blobs = failingUploader{}
	_, err := f.invoice.Process(context.Background(), Upload{Data: []byte(invoiceText)})
	if !errors.Is(err, ErrBlobUpload) {
		t.Fatalf("want ErrBlobUpload, got %v", err)
	}
	if f.mem.Writes() != 0 {
		t.Fatalf("nothing should be written, got %d writes", f.mem.Writes())
	}
}

func TestExtract(t *testing.T) {
	ctx := context.Background()
	x := NewExtractor(fakeEngine{text: "recognized"}, nil)

	if _, err := x.Extract(ctx, Upload{}); !errors.Is(err, ErrEmptyUpload) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := x.Extract(ctx, Upload{Data: []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n")}); !errors.Is(err, ErrUnsupportedMedia) {
		t.Fatalf("pdf: %v", err)
	}
	if got, err := x.Extract(ctx, Upload{Data: []byte("Fa P0298-1 X")}); err != nil || got != "Fa P0298-1 X" {
		t.Fatalf("text: %q %v", got, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	if got, err := x.Extract(ctx, Upload{Data: buf.Bytes()}); err != nil || got != "recognized" {
		t.Fatalf("image: %q %v", got, err)
	}
	if _, err := NewExtractor(nil, nil).Extract(ctx, Upload{Data: buf.Bytes()}); !errors.Is(err, ErrUnsupportedMedia) {
		t.Fatalf("image without engine: %v", err)
	}
	if got, err := NewExtractor(brokenEngine{}, nil).Extract(ctx, Upload{Data: buf.Bytes()}); err != nil || got != "" {
		t.Fatalf("failing engine: %q %v", got, err)
	}
}

func TestManifestCustomerStoreFailureIsFatal(t *testing.T) {
	f := newFixture(rosario(true))
	f.manifest.d.Customers = downCustomers{}
	_, err := f.manifest.Process(context.Background(), manifestText)
	if err == nil || !strings.Contains(err.Error(), "store unavailable") {
		t.Fatalf("want store error, got %v", err)
	}
	stops, err := f.mem.ListStops(context.Background(), store.StopFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(stops) != 0 {
		t.Fatalf("no stop may be persisted, got %d", len(stops))
	}
}

func TestInvoiceCustomerStoreFailureIsFatal(t *testing.T) {
	f := newFixture(rosario(true))
	f.invoice.d.Customers = downCustomers{}
	_, err := f.invoice.Process(context.Background(), Upload{Data: []byte(invoiceText)})
	if err == nil || !strings.Contains(err.Error(), "store unavailable") {
		t.Fatalf("want store error, got %v", err)
	}
	if f.mem.Writes() != 0 {
		t.Fatalf("nothing should be written, got %d writes", f.mem.Writes())
	}
}

func TestInvoiceOCRFailureParsesNothing(t *testing.T) {
	f := newFixture(rosario(true))
	f.invoice.d.Extractor = NewExtractor(brokenEngine{}, nil)
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	res, err := f.invoice.Process(context.Background(), Upload{Filename: "scan.png", Data: buf.Bytes()})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Linked || res.Invoice.RawText != "" {
		t.Fatalf("empty text should parse to nothing: %+v", res)
	}
}

func TestCanonicalAddress(t *testing.T) {
	cases := map[string]string{
		"San Martin 1200":          "San Martin 1200, Rosario",
		"San Martin 1200, Rosario": "San Martin 1200, Rosario",
		"San Martin 1200, rosario": "San Martin 1200, rosario",
		"":                         "",
	}
	for in, want := range cases {
		if got := CanonicalAddress(in, "Rosario"); got != want {
			t.Fatalf("CanonicalAddress(%q) = %q, want %q", in, got, want)
		}
	}
}
