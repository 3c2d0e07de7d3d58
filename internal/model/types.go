package model

import (
	"errors"
	"time"
)

// Sentinel display values used in place of missing fields. Downstream code
// compares against these instead of nil checks.
const (
	NotFound         = "No encontrado"
	InvoiceNotLinked = "Datos de factura no vinculados"
	ClientNotFound   = "Cliente no encontrado"
	AddressNotFound  = "Dirección no encontrada"
)

type StopType string

const (
	StopInvoice      StopType = "Fa"
	StopDeliveryNote StopType = "Re"
)

type StopStatus string

const (
	StatusPendingLink    StopStatus = "pending_link"
	StatusLinked         StopStatus = "linked"
	StatusReviewRequired StopStatus = "review_required"
)

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Stop is one delivery destination taken from a manifest line. The linker
// fills InvoiceID, ClientName, LineItems and LinkedAt when an invoice for
// the same address arrives.
type Stop struct {
	ID                   string     `json:"id,omitempty"`
	ManifestID           string     `json:"manifest_id,omitempty"`
	Type                 StopType   `json:"type"`
	SourceDocumentNumber string     `json:"source_document_number"`
	CommercialEntity     string     `json:"commercial_entity"`
	DeliveryAddress      string     `json:"delivery_address"`
	PackageCount         int        `json:"package_count"`
	DeliveryInstructions string     `json:"delivery_instructions"`
	Coordinates          *GeoPoint  `json:"coordinates"`
	CustomerID           string     `json:"customer_id,omitempty"`
	Status               StopStatus `json:"status"`
	CreatedAt            time.Time  `json:"created_at"`

	InvoiceID  string     `json:"invoice_id,omitempty"`
	ClientName string     `json:"client_name,omitempty"`
	LineItems  []LineItem `json:"line_items,omitempty"`
	LinkedAt   *time.Time `json:"linked_at,omitempty"`
}

var (
	ErrReviewWithCoordinates = errors.New("review_required stop must not carry coordinates")
	ErrMissingCoordinates    = errors.New("stop without coordinates must be review_required")
	ErrNegativePackages      = errors.New("package_count must be >= 0")
)

// Validate checks the status/coordinates coupling and basic field ranges.
func (s Stop) Validate() error {
	if s.PackageCount < 0 {
		return ErrNegativePackages
	}
	if s.Status == StatusReviewRequired && s.Coordinates != nil {
		return ErrReviewWithCoordinates
	}
	if s.Status != StatusReviewRequired && s.Coordinates == nil {
		return ErrMissingCoordinates
	}
	return nil
}

// StatusFor returns the status a freshly created stop gets.
func StatusFor(coords *GeoPoint) StopStatus {
	if coords == nil {
		return StatusReviewRequired
	}
	return StatusPendingLink
}

type Customer struct {
	ID                   string    `json:"id"`
	Address              string    `json:"address"`
	Coordinates          *GeoPoint `json:"coordinates"`
	ClientName           string    `json:"client_name,omitempty"`
	CommercialName       string    `json:"commercial_name,omitempty"`
	DeliveryInstructions string    `json:"delivery_instructions,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	LastUpdatedAt        time.Time `json:"last_updated_at"`
}

type LineItem struct {
	ProductCode string  `json:"product_code"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	LineTotal   float64 `json:"line_total"`
}

type Invoice struct {
	ID            string     `json:"id"`
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	ClientName    string     `json:"client_name"`
	Address       string     `json:"address"`
	TotalAmount   *float64   `json:"total_amount"`
	LineItems     []LineItem `json:"line_items"`
	RawText       string     `json:"raw_text"`
	ImageURL      string     `json:"image_url,omitempty"`
	CustomerID    string     `json:"customer_id,omitempty"`
	Coordinates   *GeoPoint  `json:"coordinates,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   time.Time  `json:"processed_at"`
}

type RouteStatus string

const (
	RouteOptimized         RouteStatus = "optimized"
	RouteInsufficientStops RouteStatus = "insufficient_stops"
	RouteSkipped           RouteStatus = "skipped" // depot could not be located
)

// RouteResult is the visiting order without the depot.
type RouteResult struct {
	Stops     []Stop      `json:"stops"`
	Status    RouteStatus `json:"status"`
	DistanceM int         `json:"distance_m"`
	Unrouted  []Stop      `json:"unrouted,omitempty"`
}

// LoadingEntry is one position in the truck loading order.
type LoadingEntry struct {
	Position         int        `json:"position"`
	StopID           string     `json:"stop_id,omitempty"`
	DeliveryAddress  string     `json:"delivery_address"`
	CommercialEntity string     `json:"commercial_entity"`
	PackageCount     int        `json:"package_count"`
	ClientName       string     `json:"client_name"`
	LineItems        []LineItem `json:"line_items"`
	Linked           bool       `json:"linked"`
}

// DailyRoute is the per-day snapshot of the last processed manifest.
type DailyRoute struct {
	Date         string         `json:"date"`
	ManifestID   string         `json:"manifest_id,omitempty"`
	OptimizedIDs []string       `json:"optimized_stop_ids"`
	Loading      []LoadingEntry `json:"loading_list"`
	Polyline     []GeoPoint     `json:"polyline"`
	Summary      map[string]int `json:"summary,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
