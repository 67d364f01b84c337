package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch implements Searcher using PostgreSQL full-text search as a
// fallback. It only surfaces documents with an uploaded PDF, so both search
// paths describe the same published set.
type PgSearch struct {
	db *sql.DB
}

// NewPgSearch creates a PostgreSQL searcher over published documents.
func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

// Search matches the documents fts column with plainto_tsquery, ranked by ts_rank.
func (p *PgSearch) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	// Published means uploaded AND the owning client still has portal
	// access: disabling a client must hide its documents immediately,
	// even before the reconciler resets them.
	where := `d.fts @@ plainto_tsquery('english', $1) AND d.portal_last_uploaded_blob_url <> ''
		AND EXISTS (SELECT 1 FROM clients c WHERE c.id = d.client_id AND c.portal_enabled)`
	args := []any{q.Text}
	argN := 2

	if q.FilterBusinessID != "" {
		where += fmt.Sprintf(" AND d.business_id = $%d", argN)
		args = append(args, q.FilterBusinessID)
		argN++
	}
	if q.FilterClientID != "" {
		where += fmt.Sprintf(" AND d.client_id = $%d", argN)
		args = append(args, q.FilterClientID)
		argN++
	}
	if q.FilterKind != "" {
		where += fmt.Sprintf(" AND d.kind = $%d", argN)
		args = append(args, string(q.FilterKind))
		argN++
	}

	ctx := context.Background()

	var total int
	countSQL := "SELECT count(*) FROM documents d WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("directory count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.kind, d.id,
			CASE WHEN d.kind = 'contract' THEN d.title ELSE d.number END AS label,
			d.status, coalesce(d.client_id, ''), d.portal_last_uploaded_blob_url
		FROM documents d
		WHERE %s
		ORDER BY ts_rank(d.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("directory query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var kind string
		if err := rows.Scan(&kind, &r.ID, &r.Label, &r.Status, &r.ClientID, &r.PDFURL); err != nil {
			return nil, 0, fmt.Errorf("directory scan: %w", err)
		}
		r.Kind = Kind(kind)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadPublishedEntries returns directory entries for every uploaded document,
// used to rebuild the Meilisearch indexes.
func (p *PgSearch) LoadPublishedEntries(ctx context.Context) ([]InvoiceEntry, []EstimateEntry, []ContractEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.business_id, coalesce(d.client_id, ''), d.kind, d.number, d.title, d.status,
			d.currency, d.total, d.issued_at_ms, coalesce(d.due_at_ms, 0), coalesce(d.signed_at_ms, 0),
			d.portal_last_uploaded_blob_url
		FROM documents d
		WHERE d.portal_last_uploaded_blob_url <> ''
			AND EXISTS (SELECT 1 FROM clients c WHERE c.id = d.client_id AND c.portal_enabled)
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load published documents: %w", err)
	}
	defer rows.Close()

	var (
		invoices  []InvoiceEntry
		estimates []EstimateEntry
		contracts []ContractEntry
	)
	for rows.Next() {
		var (
			id, businessID, clientID, kind  string
			number, title, status, currency string
			pdfURL                          string
			total                           float64
			issuedAtMs, dueAtMs, signedAtMs int64
		)
		if err := rows.Scan(&id, &businessID, &clientID, &kind, &number, &title, &status,
			&currency, &total, &issuedAtMs, &dueAtMs, &signedAtMs, &pdfURL); err != nil {
			return nil, nil, nil, fmt.Errorf("scan published document: %w", err)
		}
		switch Kind(kind) {
		case KindInvoice:
			invoices = append(invoices, InvoiceEntry{
				ID:         id,
				BusinessID: businessID,
				ClientID:   clientID,
				Number:     number,
				Status:     status,
				Currency:   currency,
				Total:      total,
				IssuedAtMs: issuedAtMs,
				DueAtMs:    dueAtMs,
				PDFURL:     pdfURL,
			})
		case KindEstimate:
			estimates = append(estimates, EstimateEntry{
				ID:          id,
				BusinessID:  businessID,
				ClientID:    clientID,
				Number:      number,
				Status:      status,
				Currency:    currency,
				Total:       total,
				IssuedAtMs:  issuedAtMs,
				ExpiresAtMs: dueAtMs,
				PDFURL:      pdfURL,
			})
		case KindContract:
			contracts = append(contracts, ContractEntry{
				ID:         id,
				BusinessID: businessID,
				ClientID:   clientID,
				Title:      title,
				Status:     status,
				IssuedAtMs: issuedAtMs,
				SignedAtMs: signedAtMs,
				PDFURL:     pdfURL,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate published documents: %w", err)
	}

	return invoices, estimates, contracts, nil
}
