package store

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"granix/internal/model"
)

// Store is the persistence interface shared by the pipelines and the API.
type Store interface {
	// Customers
	FindCustomerByAddress(ctx context.Context, address string) (model.Customer, error)
	CreateCustomer(ctx context.Context, c model.Customer) (model.Customer, error)
	UpdateCustomer(ctx context.Context, id string, patch CustomerPatch) (model.Customer, error)

	// Delivery stops
	CreateStops(ctx context.Context, stops []model.Stop) ([]model.Stop, error)
	ListStops(ctx context.Context, f StopFilter) ([]model.Stop, error)
	// ClaimOldestPending links the oldest pending_link stop at address in a
	// single atomic update. ErrNotFound when there is none.
	ClaimOldestPending(ctx context.Context, address string, patch LinkPatch) (model.Stop, error)
	// LinkedStopsByAddress returns the most recently linked stop per address.
	LinkedStopsByAddress(ctx context.Context, addresses []string) (map[string]model.Stop, error)

	// Invoices
	CreateInvoice(ctx context.Context, inv model.Invoice) (model.Invoice, error)
	GetInvoice(ctx context.Context, id string) (model.Invoice, error)

	// Daily route snapshots, keyed by YYYY-MM-DD
	SaveDailyRoute(ctx context.Context, date string, r model.DailyRoute) (model.DailyRoute, error)
	GetDailyRoute(ctx context.Context, date string) (model.DailyRoute, error)

	Ping(ctx context.Context) error
}

// CustomerPatch sets only the non-nil fields.
type CustomerPatch struct {
	ClientName           *string
	CommercialName       *string
	DeliveryInstructions *string
	Coordinates          *model.GeoPoint
}

func (p CustomerPatch) Empty() bool {
	return p.ClientName == nil && p.CommercialName == nil && p.DeliveryInstructions == nil && p.Coordinates == nil
}

type LinkPatch struct {
	InvoiceID  string
	ClientName string
	LineItems  []model.LineItem
	LinkedAt   time.Time
}

type StopFilter struct {
	Status     model.StopStatus
	Address    string
	ManifestID string
	Limit      int
}

var ErrNotFound = errors.New("not found")

func applyCustomerPatch(c *model.Customer, p CustomerPatch) {
	if p.ClientName != nil {
		c.ClientName = *p.ClientName
	}
	if p.CommercialName != nil {
		c.CommercialName = *p.CommercialName
	}
	if p.DeliveryInstructions != nil {
		c.DeliveryInstructions = *p.DeliveryInstructions
	}
	if p.Coordinates != nil {
		pt := *p.Coordinates
		c.Coordinates = &pt
	}
}

// mergeDailyRoute overlays next on prev: fields set in next win, the rest
// of prev is kept.
func mergeDailyRoute(prev, next model.DailyRoute) model.DailyRoute {
	out := prev
	if next.ManifestID != "" {
		out.ManifestID = next.ManifestID
	}
	if next.OptimizedIDs != nil {
		out.OptimizedIDs = next.OptimizedIDs
	}
	if next.Loading != nil {
		out.Loading = next.Loading
	}
	if next.Polyline != nil {
		out.Polyline = next.Polyline
	}
	if len(prev.Summary)+len(next.Summary) > 0 {
		out.Summary = make(map[string]int, len(prev.Summary)+len(next.Summary))
		for k, v := range prev.Summary {
			out.Summary[k] = v
		}
		for k, v := range next.Summary {
			out.Summary[k] = v
		}
	}
	out.UpdatedAt = next.UpdatedAt
	return out
}

// stampInvoice fills the timestamps the caller left unset.
func stampInvoice(inv *model.Invoice, now time.Time) {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	if inv.ProcessedAt.IsZero() {
		inv.ProcessedAt = now
	}
}

// cloneDailyRoute copies everything a caller could mutate in place.
func cloneDailyRoute(r model.DailyRoute) model.DailyRoute {
	r.OptimizedIDs = slices.Clone(r.OptimizedIDs)
	r.Loading = slices.Clone(r.Loading)
	r.Polyline = slices.Clone(r.Polyline)
	r.Summary = maps.Clone(r.Summary)
	return r
}
