// Package linker attaches invoices to the delivery stops they describe.
//
// Invoices and manifests share no identifier; an invoice links to the
// oldest pending stop at the same normalized address, which may belong to
// an earlier day's manifest. An invoice with no match stays unlinked.
package linker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"granix/internal/events"
	"granix/internal/metrics"
	"granix/internal/model"
	"granix/internal/store"
)

// Claimer performs the atomic pending_link -> linked transition.
type Claimer interface {
	ClaimOldestPending(ctx context.Context, address string, patch store.LinkPatch) (model.Stop, error)
}

type Linker struct {
	claims Claimer
	broker events.Broker
	log    *zap.Logger
	now    func() time.Time
}

func New(claims Claimer, broker events.Broker, log *zap.Logger) *Linker {
	if log == nil {
		log = zap.NewNop()
	}
	if broker == nil {
		broker = events.Nop{}
	}
	return &Linker{claims: claims, broker: broker, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Link returns the linked stop and true, or false with a nil error when no
// pending stop exists at address.
func (l *Linker) Link(ctx context.Context, invoiceID, address, clientName string, items []model.LineItem) (model.Stop, bool, error) {
	address = strings.TrimSpace(address)
	if address == "" || address == model.AddressNotFound || address == model.NotFound {
		l.log.Info("invoice has no address; not linking", zap.String("invoice_id", invoiceID))
		metrics.InvoiceLinks.WithLabelValues("miss").Inc()
		return model.Stop{}, false, nil
	}
	stop, err := l.claims.ClaimOldestPending(ctx, address, store.LinkPatch{
		InvoiceID:  invoiceID,
		ClientName: clientName,
		LineItems:  items,
		LinkedAt:   l.now(),
	})
	if errors.Is(err, store.ErrNotFound) {
		l.log.Info("no pending delivery stop for invoice", zap.String("invoice_id", invoiceID), zap.String("address", address))
		metrics.InvoiceLinks.WithLabelValues("miss").Inc()
		return model.Stop{}, false, nil
	}
	if err != nil {
		return model.Stop{}, false, fmt.Errorf("link invoice %s: %w", invoiceID, err)
	}
	metrics.InvoiceLinks.WithLabelValues("linked").Inc()
	l.log.Info("invoice linked", zap.String("invoice_id", invoiceID), zap.String("stop_id", stop.ID), zap.String("address", address))
	l.broker.Publish(events.TopicDeliveries, events.Event{Type: events.TypeStopLinked, Data: map[string]any{
		"stop_id":    stop.ID,
		"invoice_id": invoiceID,
		"address":    address,
		"client":     clientName,
	}})
	return stop, true, nil
}
