package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) InsertBusiness(ctx context.Context, b Business) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO businesses (id, name, email, phone, address, currency, tax_rate, invoice_template_key, contract_template_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, b.ID, b.Name, b.Email, b.Phone, b.Address, b.Currency, b.TaxRate, b.InvoiceTemplateKey, b.ContractTemplateKey)
	if err != nil {
		return fmt.Errorf("insert business: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBusiness(ctx context.Context, businessID string) (Business, error) {
	var b Business
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, address, currency, tax_rate, invoice_template_key, contract_template_key, created_at, updated_at
		FROM businesses
		WHERE id=$1
	`, businessID).Scan(&b.ID, &b.Name, &b.Email, &b.Phone, &b.Address, &b.Currency, &b.TaxRate, &b.InvoiceTemplateKey, &b.ContractTemplateKey, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Business{}, err
	}
	return b, nil
}

func (s *PostgresStore) UpdateBusiness(ctx context.Context, b Business) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE businesses
		SET name=$2, email=$3, phone=$4, address=$5, currency=$6, tax_rate=$7, invoice_template_key=$8, contract_template_key=$9, updated_at=NOW()
		WHERE id=$1
	`, b.ID, b.Name, b.Email, b.Phone, b.Address, b.Currency, b.TaxRate, b.InvoiceTemplateKey, b.ContractTemplateKey)
	if err != nil {
		return fmt.Errorf("update business: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertClient(ctx context.Context, c Client) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, business_id, name, email, phone, address, portal_enabled, portal_slug, portal_password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
	`, c.ID, c.BusinessID, c.Name, c.Email, c.Phone, c.Address, c.PortalEnabled, c.PortalSlug, c.PortalPasswordHash)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetClient(ctx context.Context, clientID string) (Client, error) {
	return s.scanClient(s.db.QueryRowContext(ctx, clientSelect+`WHERE id=$1`, clientID))
}

func (s *PostgresStore) GetClientByPortalSlug(ctx context.Context, slug string) (Client, error) {
	return s.scanClient(s.db.QueryRowContext(ctx, clientSelect+`WHERE portal_slug=$1`, slug))
}

const clientSelect = `
	SELECT id, business_id, name, email, phone, address, portal_enabled, COALESCE(portal_slug, ''), portal_password_hash, created_at, updated_at
	FROM clients
`

func (s *PostgresStore) scanClient(row *sql.Row) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.BusinessID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.PortalEnabled, &c.PortalSlug, &c.PortalPasswordHash, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Client{}, err
	}
	return c, nil
}

func (s *PostgresStore) ListClients(ctx context.Context, businessID string) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, clientSelect+`WHERE business_id=$1 ORDER BY name ASC`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	items := make([]Client, 0)
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.BusinessID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.PortalEnabled, &c.PortalSlug, &c.PortalPasswordHash, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateClient(ctx context.Context, c Client) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET name=$2, email=$3, phone=$4, address=$5, updated_at=NOW()
		WHERE id=$1
	`, c.ID, c.Name, c.Email, c.Phone, c.Address)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	return nil
}

func (s *PostgresStore) PortalSlugTaken(ctx context.Context, slug string) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM clients WHERE portal_slug=$1)`, slug).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check portal slug: %w", err)
	}
	return taken, nil
}

func (s *PostgresStore) SetClientPortalAccess(ctx context.Context, clientID string, enabled bool, slug, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET portal_enabled=$2, portal_slug=NULLIF($3, ''), portal_password_hash=$4, updated_at=NOW()
		WHERE id=$1
	`, clientID, enabled, slug, passwordHash)
	if err != nil {
		return fmt.Errorf("set client portal access: %w", err)
	}
	return nil
}

const documentSelect = `
	SELECT id, business_id, client_id, kind, number, title, status, issued_at_ms, due_at_ms,
		currency, subtotal, discount_amount, tax_rate, tax_amount, total, notes, terms,
		body_text, signed_at_ms, signer_name, template_key, pdf_storage_path,
		portal_needs_upload, portal_upload_in_flight, portal_upload_started_at,
		portal_last_uploaded_hash, portal_last_uploaded_blob_url, portal_last_uploaded_at_ms,
		portal_last_upload_error, created_at, updated_at
	FROM documents
`

func scanDocument(scan func(dest ...any) error) (Document, error) {
	var d Document
	err := scan(
		&d.ID, &d.BusinessID, &d.ClientID, &d.Kind, &d.Number, &d.Title, &d.Status, &d.IssuedAtMs, &d.DueAtMs,
		&d.Currency, &d.Subtotal, &d.DiscountAmount, &d.TaxRate, &d.TaxAmount, &d.Total, &d.Notes, &d.Terms,
		&d.BodyText, &d.SignedAtMs, &d.SignerName, &d.TemplateKey, &d.PDFStoragePath,
		&d.SyncState.NeedsUpload, &d.SyncState.UploadInFlight, &d.SyncState.UploadStartedAt,
		&d.SyncState.LastUploadedHash, &d.SyncState.LastUploadedURL, &d.SyncState.LastUploadedAtMs,
		&d.SyncState.LastUploadError, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	return d, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, d Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (
			id, business_id, client_id, kind, number, title, status, issued_at_ms, due_at_ms,
			currency, subtotal, discount_amount, tax_rate, tax_amount, total, notes, terms,
			body_text, signed_at_ms, signer_name, template_key, pdf_storage_path
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`, d.ID, d.BusinessID, d.ClientID, d.Kind, d.Number, d.Title, d.Status, d.IssuedAtMs, d.DueAtMs,
		d.Currency, d.Subtotal, d.DiscountAmount, d.TaxRate, d.TaxAmount, d.Total, d.Notes, d.Terms,
		d.BodyText, d.SignedAtMs, d.SignerName, d.TemplateKey, d.PDFStoragePath)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, documentSelect+`WHERE id=$1`, documentID)
	return scanDocument(row.Scan)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, businessID string, kind DocumentKind) ([]Document, error) {
	query := documentSelect + `WHERE business_id=$1`
	args := []any{businessID}
	if kind != "" {
		query += ` AND kind=$2`
		args = append(args, kind)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListDocumentsByClient(ctx context.Context, clientID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, documentSelect+`WHERE client_id=$1 ORDER BY updated_at DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list documents by client: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, d Document) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET client_id=$2, number=$3, title=$4, status=$5, issued_at_ms=$6, due_at_ms=$7,
			currency=$8, subtotal=$9, discount_amount=$10, tax_rate=$11, tax_amount=$12, total=$13,
			notes=$14, terms=$15, body_text=$16, signed_at_ms=$17, signer_name=$18,
			template_key=$19, pdf_storage_path=$20, updated_at=NOW()
		WHERE id=$1
	`, d.ID, d.ClientID, d.Number, d.Title, d.Status, d.IssuedAtMs, d.DueAtMs,
		d.Currency, d.Subtotal, d.DiscountAmount, d.TaxRate, d.TaxAmount, d.Total,
		d.Notes, d.Terms, d.BodyText, d.SignedAtMs, d.SignerName,
		d.TemplateKey, d.PDFStoragePath)
	if err != nil {
		return fmt.Errorf("update document content: %w", err)
	}
	return nil
}

// UpdateDocumentSyncState persists the whole portal sync field group in
// one write. Reconciliation always saves the full group, never single
// fields.
func (s *PostgresStore) UpdateDocumentSyncState(ctx context.Context, documentID string, st SyncState) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET portal_needs_upload=$2, portal_upload_in_flight=$3, portal_upload_started_at=$4,
			portal_last_uploaded_hash=$5, portal_last_uploaded_blob_url=$6,
			portal_last_uploaded_at_ms=$7, portal_last_upload_error=$8
		WHERE id=$1
	`, documentID, st.NeedsUpload, st.UploadInFlight, st.UploadStartedAt,
		st.LastUploadedHash, st.LastUploadedURL, st.LastUploadedAtMs, st.LastUploadError)
	if err != nil {
		return fmt.Errorf("update document sync state: %w", err)
	}
	return nil
}

// ListPendingSyncDocumentIDs returns documents that still need a portal
// upload, plus documents whose in-flight marker predates staleBefore
// (attempts abandoned by a dead process).
func (s *PostgresStore) ListPendingSyncDocumentIDs(ctx context.Context, staleBefore time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM documents
		WHERE portal_needs_upload = TRUE
			OR (portal_upload_in_flight = TRUE AND portal_upload_started_at < $1)
		ORDER BY updated_at ASC
	`, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("list pending sync documents: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending sync id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending sync ids: %w", err)
	}
	return ids, nil
}

// MarkClientDocumentsNeedUpload flags every document owned by the client
// for a portal upload. Used when portal access is granted, so the sweep
// publishes the client's existing documents.
func (s *PostgresStore) MarkClientDocumentsNeedUpload(ctx context.Context, clientID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET portal_needs_upload=TRUE WHERE client_id=$1
	`, clientID)
	if err != nil {
		return fmt.Errorf("mark client documents dirty: %w", err)
	}
	return nil
}

// MarkBusinessDocumentsNeedUpload flags every client-owned document of the
// business. Business-level template defaults feed the content fingerprint,
// so changing them invalidates every rendered artifact at once.
func (s *PostgresStore) MarkBusinessDocumentsNeedUpload(ctx context.Context, businessID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET portal_needs_upload=TRUE WHERE business_id=$1 AND client_id IS NOT NULL
	`, businessID)
	if err != nil {
		return fmt.Errorf("mark business documents dirty: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLineItems(ctx context.Context, documentID string) ([]LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, position, description, quantity, unit_price, line_total
		FROM line_items
		WHERE document_id=$1
		ORDER BY position ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	items := make([]LineItem, 0)
	for rows.Next() {
		var item LineItem
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Position, &item.Description, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return items, nil
}

// ReplaceLineItems swaps a document's line items for the given set in a
// single transaction. Positions are reassigned from the slice order.
func (s *PostgresStore) ReplaceLineItems(ctx context.Context, documentID string, items []LineItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace line items: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM line_items WHERE document_id=$1`, documentID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete line items: %w", err)
	}

	for i, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO line_items (id, document_id, position, description, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, documentID, i, item.Description, item.Quantity, item.UnitPrice, item.LineTotal); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert line item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace line items: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertBooking(ctx context.Context, b Booking) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (id, business_id, client_id, title, status, start_at_ms, end_at_ms, price, location, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, b.ID, b.BusinessID, b.ClientID, b.Title, b.Status, b.StartAtMs, b.EndAtMs, b.Price, b.Location, b.Notes)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBooking(ctx context.Context, bookingID string) (Booking, error) {
	var b Booking
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, client_id, title, status, start_at_ms, end_at_ms, price, location, notes, created_at, updated_at
		FROM bookings
		WHERE id=$1
	`, bookingID).Scan(&b.ID, &b.BusinessID, &b.ClientID, &b.Title, &b.Status, &b.StartAtMs, &b.EndAtMs, &b.Price, &b.Location, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Booking{}, err
	}
	return b, nil
}

func (s *PostgresStore) ListBookings(ctx context.Context, businessID string) ([]Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_id, client_id, title, status, start_at_ms, end_at_ms, price, location, notes, created_at, updated_at
		FROM bookings
		WHERE business_id=$1
		ORDER BY start_at_ms ASC
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	items := make([]Booking, 0)
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.BusinessID, &b.ClientID, &b.Title, &b.Status, &b.StartAtMs, &b.EndAtMs, &b.Price, &b.Location, &b.Notes, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateBooking(ctx context.Context, b Booking) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET client_id=$2, title=$3, status=$4, start_at_ms=$5, end_at_ms=$6, price=$7, location=$8, notes=$9, updated_at=NOW()
		WHERE id=$1
	`, b.ID, b.ClientID, b.Title, b.Status, b.StartAtMs, b.EndAtMs, b.Price, b.Location, b.Notes)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	return nil
}

// DeleteDocument removes a document; line items cascade.
func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
