package store

import "time"

type Business struct {
	ID                  string
	Name                string
	Email               string
	Phone               string
	Address             string
	Currency            string
	TaxRate             float64
	InvoiceTemplateKey  string
	ContractTemplateKey string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Client struct {
	ID         string
	BusinessID string
	Name       string
	Email      string
	Phone      string
	Address    string
	// PortalEnabled gates whether this client's documents are synced to
	// the client-facing portal.
	PortalEnabled bool
	// PortalSlug is the stable path segment of the client's portal page.
	// Empty until portal access has been provisioned.
	PortalSlug string
	// PortalPasswordHash is a bcrypt hash protecting the portal link, or
	// empty when the link is open.
	PortalPasswordHash string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type DocumentKind string

const (
	KindInvoice  DocumentKind = "invoice"
	KindEstimate DocumentKind = "estimate"
	KindContract DocumentKind = "contract"
)

// SyncState is the portal sync field group persisted on every document.
// It records the outcome of the last reconciliation attempt and is only
// mutated by document saves (marking dirty) and by the reconciler.
type SyncState struct {
	NeedsUpload    bool
	UploadInFlight bool
	// UploadStartedAt is set when an attempt flips UploadInFlight on.
	// An in-flight marker older than the configured stale window belongs
	// to an attempt that died with its process.
	UploadStartedAt  *time.Time
	LastUploadedHash string
	LastUploadedURL  string
	LastUploadedAtMs int64
	LastUploadError  string
}

type Document struct {
	ID         string
	BusinessID string
	ClientID   *string
	Kind       DocumentKind
	// Number is the human-readable identifier for invoices and estimates.
	Number string
	// Title is the display name for contracts.
	Title      string
	Status     string
	IssuedAtMs int64
	// DueAtMs holds the due date for invoices and the expiry date for
	// estimates. Unused for contracts.
	DueAtMs        *int64
	Currency       string
	Subtotal       float64
	DiscountAmount float64
	TaxRate        float64
	TaxAmount      float64
	Total          float64
	Notes          string
	Terms          string
	// BodyText is the contract prose. Empty for invoices and estimates.
	BodyText   string
	SignedAtMs *int64
	SignerName string
	// TemplateKey overrides the business default render template when set.
	TemplateKey string
	// PDFStoragePath is where the rendered artifact for the current
	// content lives, derived on save from kind and number.
	PDFStoragePath string
	SyncState      SyncState
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type LineItem struct {
	ID          string
	DocumentID  string
	Position    int
	Description string
	Quantity    float64
	UnitPrice   float64
	LineTotal   float64
}

type Booking struct {
	ID         string
	BusinessID string
	ClientID   *string
	Title      string
	Status     string
	StartAtMs  int64
	EndAtMs    int64
	Price      float64
	Location   string
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const (
	BookingStatusScheduled = "scheduled"
	BookingStatusCompleted = "completed"
	BookingStatusCanceled  = "canceled"
)
