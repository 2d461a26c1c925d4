package document

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockyard-erp/stockyard-erp/internal/platform/db"
	"github.com/stockyard-erp/stockyard-erp/internal/shared"
)

// Repository persists transport documents, their lines, recipients and the
// per-year numbering counters in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the write operations available inside a document
// transaction.
type TxRepository interface {
	NextNumber(ctx context.Context, docType string, year int) (int, error)
	LockDocument(ctx context.Context, id int64) (State, int, error)
	InsertDocument(ctx context.Context, doc TransportDocument) (int64, error)
	UpdateHeader(ctx context.Context, id int64, updates map[string]any) error
	InsertLine(ctx context.Context, line Line) (int64, error)
	DeleteLine(ctx context.Context, documentID, lineID int64) error
	DeleteDocument(ctx context.Context, id int64) error
	SetState(ctx context.Context, id int64, from, to State) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// NextNumber allocates the next document number for (docType, year). The
// single-statement upsert keeps the sequence gapless and monotonic under
// concurrent allocations; the row lock it takes holds until commit.
func (r *txRepo) NextNumber(ctx context.Context, docType string, year int) (int, error) {
	const query = `
		INSERT INTO document_counters (doc_type, year, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (doc_type, year)
		DO UPDATE SET last_number = document_counters.last_number + 1
		RETURNING last_number`
	var number int
	if err := r.tx.QueryRow(ctx, query, docType, year).Scan(&number); err != nil {
		return 0, fmt.Errorf("allocate number %s/%d: %w", docType, year, err)
	}
	return number, nil
}

func (r *txRepo) InsertDocument(ctx context.Context, doc TransportDocument) (int64, error) {
	const query = `
		INSERT INTO documents (number, year, document_date, transport_at, recipient_id,
			alternate_destination, origin_warehouse_id, transport_reason, goods_appearance,
			package_count, weight_kg, carrier_terms, carrier_name, notes, state, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`
	var id int64
	err := r.tx.QueryRow(ctx, query,
		doc.Number, doc.Year, doc.DocumentDate, doc.TransportAt, doc.RecipientID,
		doc.AlternateDestination, doc.OriginWarehouseID, doc.TransportReason, doc.GoodsAppearance,
		doc.PackageCount, doc.WeightKg, doc.CarrierTerms, doc.CarrierName, doc.Notes,
		string(doc.State), doc.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

// UpdateHeader applies a column/value map built by the service. Column names
// come from a fixed allow-list, never from request input.
func (r *txRepo) UpdateHeader(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("UPDATE documents SET updated_at = NOW()")
	args := []any{id}
	for column, value := range updates {
		args = append(args, value)
		fmt.Fprintf(&sb, ", %s = $%d", column, len(args))
	}
	sb.WriteString(" WHERE id = $1")
	tag, err := r.tx.Exec(ctx, sb.String(), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (r *txRepo) InsertLine(ctx context.Context, line Line) (int64, error) {
	const query = `
		INSERT INTO document_lines (document_id, product_id, lot_id, description,
			quantity, unit_of_measure, unit_price, tax_rate, line_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	var id int64
	err := r.tx.QueryRow(ctx, query,
		line.DocumentID, line.ProductID, line.LotID, line.Description,
		line.Quantity, line.UnitOfMeasure, line.UnitPrice, line.TaxRate, line.LineOrder,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert line: %w", err)
	}
	return id, nil
}

func (r *txRepo) DeleteLine(ctx context.Context, documentID, lineID int64) error {
	tag, err := r.tx.Exec(ctx,
		`DELETE FROM document_lines WHERE id = $1 AND document_id = $2`, lineID, documentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (r *txRepo) DeleteDocument(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM document_lines WHERE document_id = $1`, id); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// LockDocument takes the row lock on a document and returns its current state
// together with the line count. Draft edits and lifecycle transitions lock the
// same row, so they serialize against each other for the rest of the
// transaction.
func (r *txRepo) LockDocument(ctx context.Context, id int64) (State, int, error) {
	const query = `
		SELECT d.state,
		       (SELECT COUNT(*) FROM document_lines dl WHERE dl.document_id = d.id)
		FROM documents d
		WHERE d.id = $1
		FOR UPDATE OF d`
	var state string
	var lineCount int
	if err := r.tx.QueryRow(ctx, query, id).Scan(&state, &lineCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, ErrDocumentNotFound
		}
		return "", 0, err
	}
	return State(state), lineCount, nil
}

// SetState flips the document state with a compare-and-set on the previous
// state so a concurrent transition loses cleanly instead of double-applying.
func (r *txRepo) SetState(ctx context.Context, id int64, from, to State) error {
	const query = `
		UPDATE documents SET state = $2, updated_at = NOW()
		WHERE id = $1 AND state = $3`
	tag, err := r.tx.Exec(ctx, query, id, string(to), string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStateChanged
	}
	return nil
}

// GetDocument loads a document with its lines ordered by line_order.
func (r *Repository) GetDocument(ctx context.Context, id int64) (TransportDocument, error) {
	const query = `
		SELECT id, number, year, document_date, transport_at, recipient_id,
		       alternate_destination, origin_warehouse_id, transport_reason, goods_appearance,
		       package_count, weight_kg, carrier_terms, carrier_name, notes, state,
		       created_by, created_at, updated_at
		FROM documents WHERE id = $1`
	var doc TransportDocument
	var state string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&doc.ID, &doc.Number, &doc.Year, &doc.DocumentDate, &doc.TransportAt, &doc.RecipientID,
		&doc.AlternateDestination, &doc.OriginWarehouseID, &doc.TransportReason, &doc.GoodsAppearance,
		&doc.PackageCount, &doc.WeightKg, &doc.CarrierTerms, &doc.CarrierName, &doc.Notes, &state,
		&doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TransportDocument{}, ErrDocumentNotFound
		}
		return TransportDocument{}, err
	}
	doc.State = State(state)
	doc.Lines, err = r.ListLines(ctx, id)
	if err != nil {
		return TransportDocument{}, err
	}
	return doc, nil
}

// ListLines lists the lines of one document in display order.
func (r *Repository) ListLines(ctx context.Context, documentID int64) ([]Line, error) {
	const query = `
		SELECT id, document_id, product_id, lot_id, description,
		       quantity, unit_of_measure, unit_price, tax_rate, line_order
		FROM document_lines
		WHERE document_id = $1
		ORDER BY line_order, id`
	rows, err := r.pool.Query(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		err := rows.Scan(
			&line.ID, &line.DocumentID, &line.ProductID, &line.LotID, &line.Description,
			&line.Quantity, &line.UnitOfMeasure, &line.UnitPrice, &line.TaxRate, &line.LineOrder,
		)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// appendDocumentFilters writes the shared WHERE conditions for the document
// register. Zero filter fields are ignored.
func appendDocumentFilters(sb *strings.Builder, filter ListFilter) []any {
	args := []any{}
	if filter.Year != 0 {
		args = append(args, filter.Year)
		fmt.Fprintf(sb, " AND d.year = $%d", len(args))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		fmt.Fprintf(sb, " AND d.state = $%d", len(args))
	}
	if filter.RecipientID != 0 {
		args = append(args, filter.RecipientID)
		fmt.Fprintf(sb, " AND d.recipient_id = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		fmt.Fprintf(sb, " AND d.document_date >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		fmt.Fprintf(sb, " AND d.document_date < $%d", len(args))
	}
	return args
}

// CountDocuments returns the register total for the given filter.
func (r *Repository) CountDocuments(ctx context.Context, filter ListFilter) (int, error) {
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM documents d WHERE 1=1")
	args := appendDocumentFilters(&sb, filter)
	var total int
	if err := r.pool.QueryRow(ctx, sb.String(), args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// ListDocuments serves the document register. Filters combine with AND.
// Results come newest first.
func (r *Repository) ListDocuments(ctx context.Context, filter ListFilter) ([]DocumentView, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT d.id, d.number, d.year, d.document_date, d.transport_at, d.recipient_id,
		       d.alternate_destination, d.origin_warehouse_id, d.transport_reason, d.goods_appearance,
		       d.package_count, d.weight_kg, d.carrier_terms, d.carrier_name, d.notes, d.state,
		       d.created_by, d.created_at, d.updated_at,
		       r.name, w.name,
		       COUNT(dl.id), COALESCE(SUM(dl.quantity), 0)
		FROM documents d
		JOIN warehouses w ON w.id = d.origin_warehouse_id
		LEFT JOIN recipients r ON r.id = d.recipient_id
		LEFT JOIN document_lines dl ON dl.document_id = d.id
		WHERE 1=1`)
	args := appendDocumentFilters(&sb, filter)
	sb.WriteString(" GROUP BY d.id, r.name, w.name ORDER BY d.year DESC, d.number DESC")
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	args = append(args, page.PerPage)
	fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	if offset := page.Offset(); offset > 0 {
		args = append(args, offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var views []DocumentView
	for rows.Next() {
		var v DocumentView
		var state string
		err := rows.Scan(
			&v.ID, &v.Number, &v.Year, &v.DocumentDate, &v.TransportAt, &v.RecipientID,
			&v.AlternateDestination, &v.OriginWarehouseID, &v.TransportReason, &v.GoodsAppearance,
			&v.PackageCount, &v.WeightKg, &v.CarrierTerms, &v.CarrierName, &v.Notes, &state,
			&v.CreatedBy, &v.CreatedAt, &v.UpdatedAt,
			&v.RecipientName, &v.WarehouseName,
			&v.LineCount, &v.TotalQuantity,
		)
		if err != nil {
			return nil, err
		}
		v.State = State(state)
		views = append(views, v)
	}
	return views, rows.Err()
}

// GetRecipient retrieves one address-book entry.
func (r *Repository) GetRecipient(ctx context.Context, id int64) (Recipient, error) {
	const query = `
		SELECT id, code, name, address, city, postal_code, province, vat_number, active
		FROM recipients WHERE id = $1`
	var rec Recipient
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Code, &rec.Name, &rec.Address, &rec.City,
		&rec.PostalCode, &rec.Province, &rec.VATNumber, &rec.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recipient{}, ErrRecipientNotFound
		}
		return Recipient{}, err
	}
	return rec, nil
}

// ListRecipients lists active recipients, optionally filtered by a name or
// code substring.
func (r *Repository) ListRecipients(ctx context.Context, search string) ([]Recipient, error) {
	query := `
		SELECT id, code, name, address, city, postal_code, province, vat_number, active
		FROM recipients
		WHERE active`
	args := []any{}
	if search != "" {
		args = append(args, "%"+search+"%")
		query += ` AND (name ILIKE $1 OR code ILIKE $1)`
	}
	query += ` ORDER BY name`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recipients []Recipient
	for rows.Next() {
		var rec Recipient
		err := rows.Scan(
			&rec.ID, &rec.Code, &rec.Name, &rec.Address, &rec.City,
			&rec.PostalCode, &rec.Province, &rec.VATNumber, &rec.Active,
		)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

// CreateRecipient inserts an address-book entry.
func (r *Repository) CreateRecipient(ctx context.Context, rec Recipient) (int64, error) {
	const query = `
		INSERT INTO recipients (code, name, address, city, postal_code, province, vat_number, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING id`
	var id int64
	err := r.pool.QueryRow(ctx, query,
		rec.Code, rec.Name, rec.Address, rec.City, rec.PostalCode, rec.Province, rec.VATNumber,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert recipient: %w", err)
	}
	return id, nil
}

// UpdateRecipient rewrites an address-book entry.
func (r *Repository) UpdateRecipient(ctx context.Context, rec Recipient) error {
	const query = `
		UPDATE recipients
		SET code = $2, name = $3, address = $4, city = $5,
		    postal_code = $6, province = $7, vat_number = $8
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		rec.ID, rec.Code, rec.Name, rec.Address, rec.City, rec.PostalCode, rec.Province, rec.VATNumber,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecipientNotFound
	}
	return nil
}
