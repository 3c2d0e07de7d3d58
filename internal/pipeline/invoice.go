package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"granix/internal/blob"
	"granix/internal/customer"
	"granix/internal/events"
	"granix/internal/invoice"
	"granix/internal/model"
)

// ErrBlobUpload wraps failures storing the invoice image. The invoice is
// not persisted in that case.
var ErrBlobUpload = errors.New("invoice image upload failed")

type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv model.Invoice) (model.Invoice, error)
}

type InvoiceLinker interface {
	Link(ctx context.Context, invoiceID, address, clientName string, items []model.LineItem) (model.Stop, bool, error)
}

type InvoiceDeps struct {
	Extractor *Extractor
	Blobs     blob.Uploader // optional
	Customers CustomerResolver
	Store     InvoiceStore
	Linker    InvoiceLinker
	Broker    events.Broker // optional
	Log       *zap.Logger
	City      string // appended to printed addresses; defaults to DefaultCity
}

const DefaultCity = "Rosario"

// CanonicalAddress puts an invoice address in the "<street> <number>, <city>"
// shape manifest stops are stored under, so both match exactly.
func CanonicalAddress(address, city string) string {
	address = strings.TrimSpace(address)
	if address == "" || city == "" {
		return address
	}
	if strings.HasSuffix(strings.ToLower(address), strings.ToLower(", "+city)) {
		return address
	}
	return address + ", " + city
}

type InvoiceService struct {
	d   InvoiceDeps
	now func() time.Time
}

func NewInvoiceService(d InvoiceDeps) *InvoiceService {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Broker == nil {
		d.Broker = events.Nop{}
	}
	if d.City == "" {
		d.City = DefaultCity
	}
	if d.Extractor == nil {
		d.Extractor = NewExtractor(nil, d.Log)
	}
	return &InvoiceService{d: d, now: time.Now}
}

type InvoiceResult struct {
	Invoice        model.Invoice `json:"invoice"`
	TotalFormatted string        `json:"total_formatted,omitempty"`
	Linked         bool          `json:"linked"`
	LinkedStopID   string        `json:"linked_stop_id,omitempty"`
}

// Process recognizes and parses an invoice upload, stores its image and the
// parsed record, then links it to the oldest pending stop at its address.
func (s *InvoiceService) Process(ctx context.Context, u Upload) (InvoiceResult, error) {
	log := s.d.Log
	started := s.now().UTC()
	text, err := s.d.Extractor.Extract(ctx, u)
	if err != nil {
		return InvoiceResult{}, err
	}
	parsed := invoice.Parse(text)

	inv := model.Invoice{
		InvoiceNumber: parsed.InvoiceNumber,
		ClientName:    parsed.ClientName,
		Address:       parsed.Address,
		TotalAmount:   parsed.TotalAmount,
		LineItems:     parsed.Items,
		RawText:       text,
		CreatedAt:     started,
	}
	if s.d.Blobs != nil {
		_, mime := DetectKind(u.Data)
		url, err := s.d.Blobs.Upload(ctx, blob.Key("invoices", u.Filename, started), u.Data, mime)
		if err != nil {
			return InvoiceResult{}, fmt.Errorf("%w: %v", ErrBlobUpload, err)
		}
		inv.ImageURL = url
	}

	address := parsed.Address
	if parsed.HasAddress() {
		address = CanonicalAddress(parsed.Address, s.d.City)
		c, err := s.d.Customers.ResolveOrCreate(ctx, address, customer.Fields{ClientName: parsed.ClientName}, customer.SourceInvoice)
		switch {
		case errors.Is(err, customer.ErrNoAddress):
			log.Warn("customer resolution skipped", zap.String("address", address))
		case err != nil:
			return InvoiceResult{}, fmt.Errorf("resolve customer: %w", err)
		default:
			inv.CustomerID = c.ID
			inv.Coordinates = c.Coordinates
		}
	}

	inv.ProcessedAt = s.now().UTC()
	saved, err := s.d.Store.CreateInvoice(ctx, inv)
	if err != nil {
		return InvoiceResult{}, fmt.Errorf("persist invoice: %w", err)
	}

	res := InvoiceResult{Invoice: saved}
	if saved.TotalAmount != nil {
		res.TotalFormatted = invoice.FormatAmount(*saved.TotalAmount)
	}
	stop, linked, err := s.d.Linker.Link(ctx, saved.ID, address, saved.ClientName, saved.LineItems)
	if err != nil {
		return res, err
	}
	res.Linked = linked
	res.LinkedStopID = stop.ID

	s.d.Broker.Publish(events.TopicDeliveries, events.Event{Type: events.TypeInvoiceProcessed, Data: map[string]any{
		"invoice_id": saved.ID,
		"address":    address,
		"linked":     linked,
		"stop_id":    stop.ID,
	}})
	log.Info("invoice processed",
		zap.String("invoice_id", saved.ID),
		zap.String("invoice_number", saved.InvoiceNumber),
		zap.Int("items", len(saved.LineItems)),
		zap.Bool("linked", linked))
	return res, nil
}
