package directory

import (
	"context"
	"log/slog"
)

// Service is the facade that tries Meilisearch first and falls back to
// PostgreSQL full-text search.
type Service struct {
	meili  *Meili
	pg     *PgSearch
	logger *slog.Logger
}

// NewService creates a directory service. meili may be nil if Meilisearch
// is not configured.
func NewService(meili *Meili, pg *PgSearch, logger *slog.Logger) *Service {
	return &Service{meili: meili, pg: pg, logger: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch search failed, falling back to postgres", "error", err)
	}

	results, total, err := s.pg.Search(q)
	if err != nil {
		s.logger.Error("postgres directory search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Remove drops a published entry after its document is deleted
// (fire-and-forget; a stale entry is also cleared by the next rebuild).
func (s *Service) Remove(kind Kind, id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.Remove(kind, id); err != nil {
			s.logger.Warn("remove directory entry", "kind", string(kind), "id", id, "error", err)
		}
	}()
}

// Rebuild reloads every published document from Postgres and pushes the
// entries to Meilisearch. Called at startup so the directory survives a
// wiped or freshly provisioned search instance.
func (s *Service) Rebuild(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pg == nil {
		return
	}
	invoices, estimates, contracts, err := s.pg.LoadPublishedEntries(ctx)
	if err != nil {
		s.logger.Error("directory rebuild load failed", "error", err)
		return
	}
	if err := s.meili.IndexInvoices(invoices); err != nil {
		s.logger.Error("directory rebuild invoices failed", "error", err)
	}
	if err := s.meili.IndexEstimates(estimates); err != nil {
		s.logger.Error("directory rebuild estimates failed", "error", err)
	}
	if err := s.meili.IndexContracts(contracts); err != nil {
		s.logger.Error("directory rebuild contracts failed", "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
