// Package directory maintains the searchable index of documents published
// to the client portal. Entries are added when an upload lands and removed
// when a document is deleted, so the directory always mirrors what a portal
// viewer can actually download.
package directory

// Kind identifies which directory a published entry belongs to.
type Kind string

const (
	KindInvoice  Kind = "invoice"
	KindEstimate Kind = "estimate"
	KindContract Kind = "contract"
)

// InvoiceEntry is the record published for an uploaded invoice.
type InvoiceEntry struct {
	ID         string  `json:"id"`
	BusinessID string  `json:"businessId"`
	ClientID   string  `json:"clientId"`
	Number     string  `json:"number"`
	Status     string  `json:"status"`
	Currency   string  `json:"currency"`
	Total      float64 `json:"total"`
	IssuedAtMs int64   `json:"issuedAtMs"`
	DueAtMs    int64   `json:"dueAtMs"`
	PDFURL     string  `json:"pdfUrl"`
}

// EstimateEntry is the record published for an uploaded estimate.
// Estimates expire rather than fall due, so the entry carries an expiry
// timestamp where an invoice entry carries a due date.
type EstimateEntry struct {
	ID          string  `json:"id"`
	BusinessID  string  `json:"businessId"`
	ClientID    string  `json:"clientId"`
	Number      string  `json:"number"`
	Status      string  `json:"status"`
	Currency    string  `json:"currency"`
	Total       float64 `json:"total"`
	IssuedAtMs  int64   `json:"issuedAtMs"`
	ExpiresAtMs int64   `json:"expiresAtMs"`
	PDFURL      string  `json:"pdfUrl"`
}

// ContractEntry is the record published for an uploaded contract.
type ContractEntry struct {
	ID         string `json:"id"`
	BusinessID string `json:"businessId"`
	ClientID   string `json:"clientId"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	IssuedAtMs int64  `json:"issuedAtMs"`
	SignedAtMs int64  `json:"signedAtMs"`
	PDFURL     string `json:"pdfUrl"`
}

// Result is a single directory hit returned to the caller.
type Result struct {
	Kind     Kind   `json:"kind"`
	ID       string `json:"id"`
	Label    string `json:"label"`
	Status   string `json:"status"`
	ClientID string `json:"clientId"`
	PDFURL   string `json:"pdfUrl"`
}

// Query describes a directory search request.
type Query struct {
	Text             string
	FilterKind       Kind // empty = all kinds
	FilterBusinessID string
	FilterClientID   string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over the directory.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer publishes entries into the directory. Failures are returned to
// the caller: an upload must not be reported as synced while its directory
// entry is missing.
type Indexer interface {
	IndexInvoice(e InvoiceEntry) error
	IndexEstimate(e EstimateEntry) error
	IndexContract(e ContractEntry) error
	Remove(kind Kind, id string) error
}

// NoopIndexer satisfies Indexer when no search instance is configured. In
// that mode the document rows themselves back the directory via the
// Postgres fallback, so there is nothing to publish.
type NoopIndexer struct{}

func (NoopIndexer) IndexInvoice(InvoiceEntry) error   { return nil }
func (NoopIndexer) IndexEstimate(EstimateEntry) error { return nil }
func (NoopIndexer) IndexContract(ContractEntry) error { return nil }
func (NoopIndexer) Remove(Kind, string) error         { return nil }
