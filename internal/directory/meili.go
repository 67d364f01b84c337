package directory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxInvoices  = "fieldledger_invoices"
	idxEstimates = "fieldledger_estimates"
	idxContracts = "fieldledger_contracts"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *slog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the directory indexes.
// The client is returned even when the initial connection fails; the health
// loop reconfigures the indexes once the instance comes back.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxInvoices,
			primaryKey: "id",
			filterable: []string{"businessId", "clientId", "status"},
			searchable: []string{"number"},
		},
		{
			uid:        idxEstimates,
			primaryKey: "id",
			filterable: []string{"businessId", "clientId", "status"},
			searchable: []string{"number"},
		},
		{
			uid:        idxContracts,
			primaryKey: "id",
			filterable: []string{"businessId", "clientId", "status"},
			searchable: []string{"title"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			m.logger.Debug("create index (may already exist)", "index", idx.uid, "error", err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			m.logger.Warn("update filterable attributes", "index", idx.uid, "error", err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			m.logger.Warn("update searchable attributes", "index", idx.uid, "error", err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries all three directories (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		kind Kind
	}{
		{idxInvoices, KindInvoice},
		{idxEstimates, KindEstimate},
		{idxContracts, KindContract},
	}

	for _, ti := range targetIndexes {
		if q.FilterKind != "" && q.FilterKind != ti.kind {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		var filters []string
		if q.FilterBusinessID != "" {
			filters = append(filters, fmt.Sprintf("businessId = %q", q.FilterBusinessID))
		}
		if q.FilterClientID != "" {
			filters = append(filters, fmt.Sprintf("clientId = %q", q.FilterClientID))
		}
		if len(filters) > 0 {
			sr.Filter = filters
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		kind := indexToKind(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, kind))
		}
	}

	return results, total, nil
}

func indexToKind(uid string) Kind {
	switch uid {
	case idxInvoices:
		return KindInvoice
	case idxEstimates:
		return KindEstimate
	case idxContracts:
		return KindContract
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, kind Kind) Result {
	r := Result{Kind: kind}
	r.ID = decodeString(hit, "id")
	r.ClientID = decodeString(hit, "clientId")
	r.Status = decodeString(hit, "status")
	r.PDFURL = decodeString(hit, "pdfUrl")

	switch kind {
	case KindContract:
		r.Label = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
	default:
		r.Label = firstNonBlank(decodeFormattedString(hit, "number"), decodeString(hit, "number"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexInvoice adds or updates an invoice entry in the directory.
func (m *Meili) IndexInvoice(e InvoiceEntry) error {
	_, err := m.client.Index(idxInvoices).AddDocuments([]InvoiceEntry{e}, nil)
	return err
}

// IndexEstimate adds or updates an estimate entry in the directory.
func (m *Meili) IndexEstimate(e EstimateEntry) error {
	_, err := m.client.Index(idxEstimates).AddDocuments([]EstimateEntry{e}, nil)
	return err
}

// IndexContract adds or updates a contract entry in the directory.
func (m *Meili) IndexContract(e ContractEntry) error {
	_, err := m.client.Index(idxContracts).AddDocuments([]ContractEntry{e}, nil)
	return err
}

// Remove deletes a published entry from the directory.
func (m *Meili) Remove(kind Kind, id string) error {
	var uid string
	switch kind {
	case KindInvoice:
		uid = idxInvoices
	case KindEstimate:
		uid = idxEstimates
	case KindContract:
		uid = idxContracts
	default:
		return fmt.Errorf("unknown directory kind %q", kind)
	}
	_, err := m.client.Index(uid).DeleteDocument(id, nil)
	return err
}

// IndexInvoices bulk-indexes invoice entries.
func (m *Meili) IndexInvoices(entries []InvoiceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := m.client.Index(idxInvoices).AddDocuments(entries, nil)
	return err
}

// IndexEstimates bulk-indexes estimate entries.
func (m *Meili) IndexEstimates(entries []EstimateEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := m.client.Index(idxEstimates).AddDocuments(entries, nil)
	return err
}

// IndexContracts bulk-indexes contract entries.
func (m *Meili) IndexContracts(entries []ContractEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := m.client.Index(idxContracts).AddDocuments(entries, nil)
	return err
}
