// Package customer maps delivery addresses to durable customer records.
//
// The lookup-then-create is not transactional: two concurrent calls for a
// new address can both create a record. Lookups always return the oldest.
package customer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"granix/internal/model"
	"granix/internal/store"
)

// Source identifies which document stream supplied the candidate fields.
// Each source owns a disjoint set of customer fields.
type Source int

const (
	SourceManifest Source = iota
	SourceInvoice
)

func (s Source) String() string {
	if s == SourceInvoice {
		return "invoice"
	}
	return "manifest"
}

// Fields are the candidate values read from a document. Sentinel values
// ("No encontrado" and friends) are treated as absent.
type Fields struct {
	CommercialName       string
	ClientName           string
	DeliveryInstructions string
}

var ErrNoAddress = errors.New("customer: no usable address")

// Locator geocodes an address; nil, nil means no match.
type Locator interface {
	Resolve(ctx context.Context, address string) (*model.GeoPoint, error)
}

// Repository is the part of store.Store the resolver needs.
type Repository interface {
	FindCustomerByAddress(ctx context.Context, address string) (model.Customer, error)
	CreateCustomer(ctx context.Context, c model.Customer) (model.Customer, error)
	UpdateCustomer(ctx context.Context, id string, patch store.CustomerPatch) (model.Customer, error)
}

type Resolver struct {
	repo Repository
	geo  Locator
	log  *zap.Logger
}

func NewResolver(repo Repository, geo Locator, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{repo: repo, geo: geo, log: log}
}

// ResolveOrCreate returns the customer for address, creating it (and
// geocoding it) when absent. Existing records are written only when a field
// owned by src actually changes, so repeating a call is a no-op.
func (r *Resolver) ResolveOrCreate(ctx context.Context, address string, f Fields, src Source) (model.Customer, error) {
	address = strings.TrimSpace(address)
	if !usable(address) {
		return model.Customer{}, ErrNoAddress
	}

	existing, err := r.repo.FindCustomerByAddress(ctx, address)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return r.create(ctx, address, f, src)
	case err != nil:
		return model.Customer{}, fmt.Errorf("find customer %q: %w", address, err)
	}

	patch := diff(existing, f, src)
	if existing.Coordinates == nil && r.geo != nil {
		// A previous lookup may have failed transiently.
		if pt, gerr := r.geo.Resolve(ctx, address); gerr == nil && pt != nil {
			patch.Coordinates = pt
		}
	}
	if patch.Empty() {
		return existing, nil
	}
	updated, err := r.repo.UpdateCustomer(ctx, existing.ID, patch)
	if err != nil {
		return model.Customer{}, fmt.Errorf("update customer %s: %w", existing.ID, err)
	}
	r.log.Info("customer updated", zap.String("customer_id", updated.ID), zap.Stringer("source", src))
	return updated, nil
}

func (r *Resolver) create(ctx context.Context, address string, f Fields, src Source) (model.Customer, error) {
	c := model.Customer{Address: address}
	if r.geo != nil {
		pt, err := r.geo.Resolve(ctx, address)
		if err != nil {
			r.log.Warn("geocoding unavailable for new customer", zap.String("address", address), zap.Error(err))
		}
		c.Coordinates = pt
	}
	switch src {
	case SourceManifest:
		c.CommercialName = value(f.CommercialName)
		c.DeliveryInstructions = value(f.DeliveryInstructions)
	case SourceInvoice:
		c.ClientName = value(f.ClientName)
	}
	created, err := r.repo.CreateCustomer(ctx, c)
	if err != nil {
		return model.Customer{}, fmt.Errorf("create customer %q: %w", address, err)
	}
	r.log.Info("customer created", zap.String("customer_id", created.ID), zap.String("address", address),
		zap.Bool("geocoded", created.Coordinates != nil), zap.Stringer("source", src))
	return created, nil
}

func diff(c model.Customer, f Fields, src Source) store.CustomerPatch {
	var p store.CustomerPatch
	changed := func(cur, cand string) *string {
		cand = value(cand)
		if cand == "" || cand == cur {
			return nil
		}
		return &cand
	}
	switch src {
	case SourceManifest:
		p.CommercialName = changed(c.CommercialName, f.CommercialName)
		p.DeliveryInstructions = changed(c.DeliveryInstructions, f.DeliveryInstructions)
	case SourceInvoice:
		p.ClientName = changed(c.ClientName, f.ClientName)
	}
	return p
}

func usable(address string) bool {
	return address != "" && address != model.NotFound && address != model.AddressNotFound
}

// value maps sentinels and blanks to "".
func value(s string) string {
	s = strings.TrimSpace(s)
	switch s {
	case model.NotFound, model.ClientNotFound, model.AddressNotFound, model.InvoiceNotLinked:
		return ""
	}
	return s
}
