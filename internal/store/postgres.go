package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"granix/internal/model"
)

//go:embed schema.sql
var schemaSQL string

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

const customerCols = `id, address, lat, lon, client_name, commercial_name, delivery_instructions, created_at, last_updated_at`

func scanCustomer(row interface{ Scan(...any) error }) (model.Customer, error) {
	var c model.Customer
	var lat, lon sql.NullFloat64
	err := row.Scan(&c.ID, &c.Address, &lat, &lon, &c.ClientName, &c.CommercialName, &c.DeliveryInstructions, &c.CreatedAt, &c.LastUpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Customer{}, ErrNotFound
	}
	if err != nil {
		return model.Customer{}, err
	}
	c.Coordinates = point(lat, lon)
	return c, nil
}

func (p *Postgres) FindCustomerByAddress(ctx context.Context, address string) (model.Customer, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+customerCols+` FROM customers WHERE address=$1 ORDER BY created_at LIMIT 1`, address)
	return scanCustomer(row)
}

func (p *Postgres) CreateCustomer(ctx context.Context, c model.Customer) (model.Customer, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	lat, lon := latLon(c.Coordinates)
	row := p.db.QueryRowContext(ctx, `INSERT INTO customers (id, address, lat, lon, client_name, commercial_name, delivery_instructions)
        VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+customerCols,
		c.ID, c.Address, lat, lon, c.ClientName, c.CommercialName, c.DeliveryInstructions)
	return scanCustomer(row)
}

func (p *Postgres) UpdateCustomer(ctx context.Context, id string, patch CustomerPatch) (model.Customer, error) {
	lat, lon := latLon(patch.Coordinates)
	row := p.db.QueryRowContext(ctx, `UPDATE customers SET
        client_name = COALESCE($2, client_name),
        commercial_name = COALESCE($3, commercial_name),
        delivery_instructions = COALESCE($4, delivery_instructions),
        lat = COALESCE($5, lat),
        lon = COALESCE($6, lon),
        last_updated_at = now()
        WHERE id=$1 RETURNING `+customerCols,
		id, nullString(patch.ClientName), nullString(patch.CommercialName), nullString(patch.DeliveryInstructions), lat, lon)
	return scanCustomer(row)
}

const stopCols = `id, manifest_id, type, source_document_number, commercial_entity, delivery_address, package_count,
    delivery_instructions, lat, lon, COALESCE(customer_id,''), status, created_at,
    COALESCE(invoice_id,''), COALESCE(client_name,''), line_items, linked_at`

func scanStop(row interface{ Scan(...any) error }) (model.Stop, error) {
	var s model.Stop
	var lat, lon sql.NullFloat64
	var items []byte
	var linkedAt sql.NullTime
	err := row.Scan(&s.ID, &s.ManifestID, &s.Type, &s.SourceDocumentNumber, &s.CommercialEntity, &s.DeliveryAddress, &s.PackageCount,
		&s.DeliveryInstructions, &lat, &lon, &s.CustomerID, &s.Status, &s.CreatedAt,
		&s.InvoiceID, &s.ClientName, &items, &linkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Stop{}, ErrNotFound
	}
	if err != nil {
		return model.Stop{}, err
	}
	s.Coordinates = point(lat, lon)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &s.LineItems); err != nil {
			return model.Stop{}, fmt.Errorf("stop %s line_items: %w", s.ID, err)
		}
	}
	if linkedAt.Valid {
		t := linkedAt.Time
		s.LinkedAt = &t
	}
	return s, nil
}

func (p *Postgres) CreateStops(ctx context.Context, stops []model.Stop) ([]model.Stop, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]model.Stop, 0, len(stops))
	for _, s := range stops {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("stop %s: %w", s.SourceDocumentNumber, err)
		}
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now().UTC()
		}
		lat, lon := latLon(s.Coordinates)
		row := tx.QueryRowContext(ctx, `INSERT INTO delivery_items (id, manifest_id, type, source_document_number, commercial_entity,
            delivery_address, package_count, delivery_instructions, lat, lon, customer_id, status, created_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING `+stopCols,
			s.ID, s.ManifestID, string(s.Type), s.SourceDocumentNumber, s.CommercialEntity,
			s.DeliveryAddress, s.PackageCount, s.DeliveryInstructions, lat, lon, nullIfEmpty(s.CustomerID), string(s.Status), s.CreatedAt)
		saved, err := scanStop(row)
		if err != nil {
			return nil, fmt.Errorf("insert stop %s: %w", s.SourceDocumentNumber, err)
		}
		out = append(out, saved)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) ListStops(ctx context.Context, f StopFilter) ([]model.Stop, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	if f.Address != "" {
		add("delivery_address=$%d", f.Address)
	}
	if f.ManifestID != "" {
		add("manifest_id=$%d", f.ManifestID)
	}
	q := `SELECT ` + stopCols + ` FROM delivery_items`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []model.Stop{}
	for rows.Next() {
		s, err := scanStop(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ClaimOldestPending selects and updates in one statement; SKIP LOCKED lets
// two concurrent invoices for the same address claim different stops.
func (p *Postgres) ClaimOldestPending(ctx context.Context, address string, patch LinkPatch) (model.Stop, error) {
	items, err := json.Marshal(nonNilItems(patch.LineItems))
	if err != nil {
		return model.Stop{}, err
	}
	linkedAt := patch.LinkedAt
	if linkedAt.IsZero() {
		linkedAt = time.Now().UTC()
	}
	row := p.db.QueryRowContext(ctx, `UPDATE delivery_items SET
            status='linked', invoice_id=$2, client_name=$3, line_items=$4, linked_at=$5
        WHERE id = (
            SELECT id FROM delivery_items
            WHERE delivery_address=$1 AND status='pending_link'
            ORDER BY created_at, id
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        ) RETURNING `+stopCols,
		address, patch.InvoiceID, patch.ClientName, items, linkedAt)
	return scanStop(row)
}

func (p *Postgres) LinkedStopsByAddress(ctx context.Context, addresses []string) (map[string]model.Stop, error) {
	out := map[string]model.Stop{}
	if len(addresses) == 0 {
		return out, nil
	}
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT ON (delivery_address) `+stopCols+`
        FROM delivery_items
        WHERE status='linked' AND delivery_address = ANY($1)
        ORDER BY delivery_address, linked_at DESC NULLS LAST`, addresses)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		s, err := scanStop(rows)
		if err != nil {
			return nil, err
		}
		out[s.DeliveryAddress] = s
	}
	return out, rows.Err()
}

const invoiceCols = `id, invoice_number, client_name, address, total_amount, line_items, raw_text, image_url,
    COALESCE(customer_id,''), lat, lon, created_at, processed_at`

func scanInvoice(row interface{ Scan(...any) error }) (model.Invoice, error) {
	var inv model.Invoice
	var total, lat, lon sql.NullFloat64
	var items []byte
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.ClientName, &inv.Address, &total, &items, &inv.RawText, &inv.ImageURL,
		&inv.CustomerID, &lat, &lon, &inv.CreatedAt, &inv.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Invoice{}, ErrNotFound
	}
	if err != nil {
		return model.Invoice{}, err
	}
	if total.Valid {
		v := total.Float64
		inv.TotalAmount = &v
	}
	inv.Coordinates = point(lat, lon)
	if err := json.Unmarshal(items, &inv.LineItems); err != nil {
		return model.Invoice{}, fmt.Errorf("invoice %s line_items: %w", inv.ID, err)
	}
	return inv, nil
}

func (p *Postgres) CreateInvoice(ctx context.Context, inv model.Invoice) (model.Invoice, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	items, err := json.Marshal(nonNilItems(inv.LineItems))
	if err != nil {
		return model.Invoice{}, err
	}
	var total any
	if inv.TotalAmount != nil {
		total = *inv.TotalAmount
	}
	stampInvoice(&inv, time.Now().UTC())
	lat, lon := latLon(inv.Coordinates)
	row := p.db.QueryRowContext(ctx, `INSERT INTO invoices (id, invoice_number, client_name, address, total_amount, line_items,
        raw_text, image_url, customer_id, lat, lon, created_at, processed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING `+invoiceCols,
		inv.ID, inv.InvoiceNumber, inv.ClientName, inv.Address, total, items, inv.RawText, inv.ImageURL, nullIfEmpty(inv.CustomerID), lat, lon,
		inv.CreatedAt, inv.ProcessedAt)
	return scanInvoice(row)
}

func (p *Postgres) GetInvoice(ctx context.Context, id string) (model.Invoice, error) {
	return scanInvoice(p.db.QueryRowContext(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE id=$1`, id))
}

// SaveDailyRoute merges into the existing snapshot under a row lock.
func (p *Postgres) SaveDailyRoute(ctx context.Context, date string, r model.DailyRoute) (model.DailyRoute, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DailyRoute{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var prev model.DailyRoute
	var doc []byte
	err = tx.QueryRowContext(ctx, `SELECT doc FROM daily_routes WHERE date=$1 FOR UPDATE`, date).Scan(&doc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return model.DailyRoute{}, err
	default:
		if err := json.Unmarshal(doc, &prev); err != nil {
			return model.DailyRoute{}, fmt.Errorf("daily route %s: %w", date, err)
		}
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	merged := mergeDailyRoute(prev, r)
	merged.Date = date
	b, err := json.Marshal(merged)
	if err != nil {
		return model.DailyRoute{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO daily_routes (date, doc, updated_at) VALUES ($1,$2,$3)
        ON CONFLICT (date) DO UPDATE SET doc=EXCLUDED.doc, updated_at=EXCLUDED.updated_at`, date, b, merged.UpdatedAt); err != nil {
		return model.DailyRoute{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.DailyRoute{}, err
	}
	return merged, nil
}

func (p *Postgres) GetDailyRoute(ctx context.Context, date string) (model.DailyRoute, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM daily_routes WHERE date=$1`, date).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DailyRoute{}, ErrNotFound
	}
	if err != nil {
		return model.DailyRoute{}, err
	}
	var r model.DailyRoute
	if err := json.Unmarshal(doc, &r); err != nil {
		return model.DailyRoute{}, err
	}
	return r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func latLon(p *model.GeoPoint) (any, any) {
	if p == nil {
		return nil, nil
	}
	return p.Lat, p.Lon
}

func point(lat, lon sql.NullFloat64) *model.GeoPoint {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &model.GeoPoint{Lat: lat.Float64, Lon: lon.Float64}
}

func nonNilItems(items []model.LineItem) []model.LineItem {
	if items == nil {
		return []model.LineItem{}
	}
	return items
}
