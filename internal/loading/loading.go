// Package loading derives the truck loading order from a route: the last
// stop delivered is loaded first.
package loading

import (
	"context"
	"fmt"

	"granix/internal/model"
)

// LinkedLookup returns the most recent linked stop for each address.
type LinkedLookup interface {
	LinkedStopsByAddress(ctx context.Context, addresses []string) (map[string]model.Stop, error)
}

// Reverse returns a reversed copy of stops.
func Reverse(stops []model.Stop) []model.Stop {
	out := make([]model.Stop, len(stops))
	for i, s := range stops {
		out[len(stops)-1-i] = s
	}
	return out
}

type Generator struct {
	linked LinkedLookup
}

func NewGenerator(linked LinkedLookup) *Generator {
	return &Generator{linked: linked}
}

// Build reverses the visiting order and attaches invoice data from linked
// stops at the same address. Entries with no linked stop get the
// InvoiceNotLinked placeholder and an empty item list.
func (g *Generator) Build(ctx context.Context, route []model.Stop) ([]model.LoadingEntry, error) {
	order := Reverse(route)
	entries := make([]model.LoadingEntry, len(order))
	if len(order) == 0 {
		return entries, nil
	}

	addrs := make([]string, 0, len(order))
	seen := map[string]bool{}
	for _, s := range order {
		if !seen[s.DeliveryAddress] {
			seen[s.DeliveryAddress] = true
			addrs = append(addrs, s.DeliveryAddress)
		}
	}
	linked := map[string]model.Stop{}
	if g.linked != nil {
		var err error
		if linked, err = g.linked.LinkedStopsByAddress(ctx, addrs); err != nil {
			return nil, fmt.Errorf("loading list lookup: %w", err)
		}
	}

	for i, s := range order {
		e := model.LoadingEntry{
			Position:         i + 1,
			StopID:           s.ID,
			DeliveryAddress:  s.DeliveryAddress,
			CommercialEntity: s.CommercialEntity,
			PackageCount:     s.PackageCount,
			ClientName:       model.InvoiceNotLinked,
			LineItems:        []model.LineItem{},
		}
		if l, ok := linked[s.DeliveryAddress]; ok {
			e.Linked = true
			e.ClientName = l.ClientName
			if e.ClientName == "" {
				e.ClientName = model.NotFound
			}
			if l.LineItems != nil {
				e.LineItems = l.LineItems
			}
		}
		entries[i] = e
	}
	return entries, nil
}
