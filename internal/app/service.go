// Package app wires the HTTP API to the document store and the portal
// sync engine: CRUD for businesses, clients, documents and bookings,
// portal access provisioning, viewer sessions, and the save-time
// mark-dirty-and-reconcile control flow.
package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"fieldledger/api/internal/analytics"
	"fieldledger/api/internal/auth"
	"fieldledger/api/internal/config"
	"fieldledger/api/internal/directory"
	"fieldledger/api/internal/fingerprint"
	"fieldledger/api/internal/portal"
	"fieldledger/api/internal/render"
	"fieldledger/api/internal/session"
	"fieldledger/api/internal/store"
	"fieldledger/api/internal/util"
)

type dataStore interface {
	InsertBusiness(ctx context.Context, b store.Business) error
	GetBusiness(ctx context.Context, businessID string) (store.Business, error)
	UpdateBusiness(ctx context.Context, b store.Business) error
	InsertClient(ctx context.Context, c store.Client) error
	GetClient(ctx context.Context, clientID string) (store.Client, error)
	GetClientByPortalSlug(ctx context.Context, slug string) (store.Client, error)
	ListClients(ctx context.Context, businessID string) ([]store.Client, error)
	UpdateClient(ctx context.Context, c store.Client) error
	PortalSlugTaken(ctx context.Context, slug string) (bool, error)
	SetClientPortalAccess(ctx context.Context, clientID string, enabled bool, slug, passwordHash string) error
	InsertDocument(ctx context.Context, d store.Document) error
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	ListDocuments(ctx context.Context, businessID string, kind store.DocumentKind) ([]store.Document, error)
	ListDocumentsByClient(ctx context.Context, clientID string) ([]store.Document, error)
	UpdateDocumentContent(ctx context.Context, d store.Document) error
	UpdateDocumentSyncState(ctx context.Context, documentID string, st store.SyncState) error
	DeleteDocument(ctx context.Context, documentID string) error
	ListLineItems(ctx context.Context, documentID string) ([]store.LineItem, error)
	ReplaceLineItems(ctx context.Context, documentID string, items []store.LineItem) error
	MarkClientDocumentsNeedUpload(ctx context.Context, clientID string) error
	MarkBusinessDocumentsNeedUpload(ctx context.Context, businessID string) error
	InsertBooking(ctx context.Context, b store.Booking) error
	GetBooking(ctx context.Context, bookingID string) (store.Booking, error)
	ListBookings(ctx context.Context, businessID string) ([]store.Booking, error)
	UpdateBooking(ctx context.Context, b store.Booking) error
	Ping(ctx context.Context) error
}

// documentReconciler runs one portal reconciliation attempt.
type documentReconciler interface {
	Reconcile(ctx context.Context, documentID string) portal.Result
}

// directoryService is the searchable portal directory.
type directoryService interface {
	Search(q directory.Query) directory.Response
	Remove(kind directory.Kind, id string)
}

// viewerSessions stores portal viewer sessions keyed by token hash.
type viewerSessions interface {
	Save(ctx context.Context, tokenHash string, viewer session.Viewer, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (session.Viewer, error)
	Revoke(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

type Service struct {
	cfg        *config.Config
	store      dataStore
	reconciler documentReconciler
	directory  directoryService
	sessions   viewerSessions
	logger     *slog.Logger
}

func New(cfg *config.Config, st dataStore, rec documentReconciler, dir directoryService, sessions viewerSessions, logger *slog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		store:      st,
		reconciler: rec,
		directory:  dir,
		sessions:   sessions,
		logger:     logger,
	}
}

func (s *Service) APIToken() string { return s.cfg.APIToken }

func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

func (s *Service) SessionsPing(ctx context.Context) error { return s.sessions.Ping(ctx) }

// ── Documents ──

var allowedStatuses = map[store.DocumentKind]map[string]struct{}{
	store.KindInvoice: {
		"draft": {}, "sent": {}, "paid": {}, "overdue": {}, "canceled": {},
	},
	store.KindEstimate: {
		"draft": {}, "sent": {}, "accepted": {}, "declined": {}, "expired": {},
	},
	store.KindContract: {
		"draft": {}, "sent": {}, "signed": {}, "canceled": {},
	},
}

var kindPrefixes = map[store.DocumentKind]string{
	store.KindInvoice:  "inv",
	store.KindEstimate: "est",
	store.KindContract: "con",
}

type LineItemInput struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	LineTotal   float64 `json:"lineTotal"`
}

type DocumentInput struct {
	BusinessID     string          `json:"businessId"`
	ClientID       *string         `json:"clientId"`
	Kind           string          `json:"kind"`
	Number         string          `json:"number"`
	Title          string          `json:"title"`
	Status         string          `json:"status"`
	IssuedAtMs     int64           `json:"issuedAtMs"`
	DueAtMs        *int64          `json:"dueAtMs"`
	Currency       string          `json:"currency"`
	DiscountAmount float64         `json:"discountAmount"`
	TaxRate        float64         `json:"taxRate"`
	Notes          string          `json:"notes"`
	Terms          string          `json:"terms"`
	BodyText       string          `json:"bodyText"`
	SignedAtMs     *int64          `json:"signedAtMs"`
	SignerName     string          `json:"signerName"`
	TemplateKey    string          `json:"templateKey"`
	Items          []LineItemInput `json:"items"`
}

func (s *Service) CreateDocument(ctx context.Context, input DocumentInput) (map[string]any, error) {
	kind := store.DocumentKind(strings.TrimSpace(input.Kind))
	statuses, ok := allowedStatuses[kind]
	if !ok {
		return nil, validationError("kind must be invoice, estimate or contract")
	}
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = "draft"
	}
	if _, ok := statuses[status]; !ok {
		return nil, validationError("invalid status " + strconv.Quote(status) + " for " + string(kind))
	}

	business, err := s.store.GetBusiness(ctx, input.BusinessID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("business not found")
		}
		return nil, err
	}

	doc := store.Document{
		ID:         util.NewID(kindPrefixes[kind]),
		BusinessID: business.ID,
		Kind:       kind,
		Status:     status,
	}
	applyDocumentInput(&doc, input)
	if doc.Currency == "" {
		doc.Currency = business.Currency
	}
	items := buildLineItems(doc.ID, input.Items)
	applyTotals(&doc, items, input)
	doc.PDFStoragePath = render.StoragePath(doc.Kind, documentLabel(doc), doc.ID)

	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if err := s.store.ReplaceLineItems(ctx, doc.ID, items); err != nil {
			return nil, err
		}
	}

	s.markAndTriggerSync(ctx, doc.ID)
	return s.documentPayload(ctx, doc.ID)
}

func (s *Service) SaveDocument(ctx context.Context, documentID string, input DocumentInput) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if status := strings.TrimSpace(input.Status); status != "" {
		if _, ok := allowedStatuses[doc.Kind][status]; !ok {
			return nil, validationError("invalid status " + strconv.Quote(status) + " for " + string(doc.Kind))
		}
		doc.Status = status
	}
	applyDocumentInput(&doc, input)
	items := buildLineItems(doc.ID, input.Items)
	applyTotals(&doc, items, input)
	doc.PDFStoragePath = render.StoragePath(doc.Kind, documentLabel(doc), doc.ID)

	if err := s.store.UpdateDocumentContent(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.store.ReplaceLineItems(ctx, doc.ID, items); err != nil {
		return nil, err
	}

	s.markAndTriggerSync(ctx, doc.ID)
	return s.documentPayload(ctx, doc.ID)
}

func (s *Service) ChangeDocumentStatus(ctx context.Context, documentID, status string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	status = strings.TrimSpace(status)
	if _, ok := allowedStatuses[doc.Kind][status]; !ok {
		return nil, validationError("invalid status " + strconv.Quote(status) + " for " + string(doc.Kind))
	}
	doc.Status = status
	if err := s.store.UpdateDocumentContent(ctx, doc); err != nil {
		return nil, err
	}

	s.markAndTriggerSync(ctx, doc.ID)
	return s.documentPayload(ctx, doc.ID)
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (map[string]any, error) {
	return s.documentPayload(ctx, documentID)
}

func (s *Service) ListDocuments(ctx context.Context, businessID, kind string) (map[string]any, error) {
	if kind != "" {
		if _, ok := allowedStatuses[store.DocumentKind(kind)]; !ok {
			return nil, validationError("kind must be invoice, estimate or contract")
		}
	}
	docs, err := s.store.ListDocuments(ctx, businessID, store.DocumentKind(kind))
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, documentSummary(doc))
	}
	return map[string]any{"documents": items}, nil
}

func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	s.directory.Remove(directory.Kind(doc.Kind), doc.ID)
	return nil
}

// SyncDocument runs one reconciliation attempt synchronously, for explicit
// "sync now" or retry actions. Outcomes are not errors; the result is the
// payload.
func (s *Service) SyncDocument(ctx context.Context, documentID string) portal.Result {
	return s.reconciler.Reconcile(ctx, documentID)
}

func (s *Service) DocumentSyncStatus(ctx context.Context, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return syncPayload(doc.SyncState), nil
}

// markAndTriggerSync recomputes the content fingerprint after a save and,
// when it no longer matches the uploaded artifact, flags the document and
// kicks off an asynchronous reconciliation. Failures here never fail the
// save; the sweep catches anything missed.
func (s *Service) markAndTriggerSync(ctx context.Context, documentID string) {
	changed, err := s.markNeedsUploadIfChanged(ctx, documentID)
	if err != nil {
		s.logger.Warn("mark document dirty", "documentId", documentID, "error", err)
		return
	}
	if changed {
		s.triggerSync(documentID)
	}
}

func (s *Service) markNeedsUploadIfChanged(ctx context.Context, documentID string) (bool, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return false, err
	}
	business, err := s.store.GetBusiness(ctx, doc.BusinessID)
	if err != nil {
		return false, err
	}
	items, err := s.store.ListLineItems(ctx, doc.ID)
	if err != nil {
		return false, err
	}

	hash := fingerprint.Compute(doc, items, render.ResolveTemplateKey(doc, business))
	if hash == doc.SyncState.LastUploadedHash {
		return doc.SyncState.NeedsUpload, nil
	}
	if doc.SyncState.NeedsUpload {
		return true, nil
	}

	st := doc.SyncState
	st.NeedsUpload = true
	if err := s.store.UpdateDocumentSyncState(ctx, doc.ID, st); err != nil {
		return false, err
	}
	return true, nil
}

// triggerSync runs a reconciliation in the background. The attempt gets its
// own context: it must not die with the request that triggered it.
func (s *Service) triggerSync(documentID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		res := s.reconciler.Reconcile(ctx, documentID)
		s.logger.Debug("portal sync triggered", "documentId", documentID, "outcome", string(res.Outcome))
	}()
}

// ── Businesses ──

type BusinessInput struct {
	Name                string  `json:"name"`
	Email               string  `json:"email"`
	Phone               string  `json:"phone"`
	Address             string  `json:"address"`
	Currency            string  `json:"currency"`
	TaxRate             float64 `json:"taxRate"`
	InvoiceTemplateKey  string  `json:"invoiceTemplateKey"`
	ContractTemplateKey string  `json:"contractTemplateKey"`
}

func (s *Service) CreateBusiness(ctx context.Context, input BusinessInput) (map[string]any, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, validationError("name is required")
	}
	b := store.Business{
		ID:                  util.NewID("biz"),
		Name:                strings.TrimSpace(input.Name),
		Email:               input.Email,
		Phone:               input.Phone,
		Address:             input.Address,
		Currency:            input.Currency,
		TaxRate:             input.TaxRate,
		InvoiceTemplateKey:  input.InvoiceTemplateKey,
		ContractTemplateKey: input.ContractTemplateKey,
	}
	if b.Currency == "" {
		b.Currency = "USD"
	}
	if err := s.store.InsertBusiness(ctx, b); err != nil {
		return nil, err
	}
	return map[string]any{"business": businessPayload(b)}, nil
}

func (s *Service) GetBusiness(ctx context.Context, businessID string) (map[string]any, error) {
	b, err := s.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"business": businessPayload(b)}, nil
}

// UpdateBusiness saves business settings. Template defaults feed document
// fingerprints, so changing one invalidates every synced document of the
// business in the same call.
func (s *Service) UpdateBusiness(ctx context.Context, businessID string, input BusinessInput) (map[string]any, error) {
	b, err := s.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	templatesChanged := b.InvoiceTemplateKey != input.InvoiceTemplateKey ||
		b.ContractTemplateKey != input.ContractTemplateKey

	if strings.TrimSpace(input.Name) != "" {
		b.Name = strings.TrimSpace(input.Name)
	}
	b.Email = input.Email
	b.Phone = input.Phone
	b.Address = input.Address
	if input.Currency != "" {
		b.Currency = input.Currency
	}
	b.TaxRate = input.TaxRate
	b.InvoiceTemplateKey = input.InvoiceTemplateKey
	b.ContractTemplateKey = input.ContractTemplateKey

	if err := s.store.UpdateBusiness(ctx, b); err != nil {
		return nil, err
	}
	if templatesChanged {
		if err := s.store.MarkBusinessDocumentsNeedUpload(ctx, b.ID); err != nil {
			s.logger.Warn("mark business documents dirty", "businessId", b.ID, "error", err)
		}
	}
	return map[string]any{"business": businessPayload(b)}, nil
}

// ── Clients and portal access ──

type ClientInput struct {
	BusinessID string `json:"businessId"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
}

func (s *Service) CreateClient(ctx context.Context, input ClientInput) (map[string]any, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, validationError("name is required")
	}
	if _, err := s.store.GetBusiness(ctx, input.BusinessID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("business not found")
		}
		return nil, err
	}
	c := store.Client{
		ID:         util.NewID("cli"),
		BusinessID: input.BusinessID,
		Name:       strings.TrimSpace(input.Name),
		Email:      input.Email,
		Phone:      input.Phone,
		Address:    input.Address,
	}
	if err := s.store.InsertClient(ctx, c); err != nil {
		return nil, err
	}
	return map[string]any{"client": s.clientPayload(c)}, nil
}

func (s *Service) GetClient(ctx context.Context, clientID string) (map[string]any, error) {
	c, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"client": s.clientPayload(c)}, nil
}

func (s *Service) ListClients(ctx context.Context, businessID string) (map[string]any, error) {
	clients, err := s.store.ListClients(ctx, businessID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(clients))
	for _, c := range clients {
		items = append(items, s.clientPayload(c))
	}
	return map[string]any{"clients": items}, nil
}

func (s *Service) UpdateClient(ctx context.Context, clientID string, input ClientInput) (map[string]any, error) {
	c, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Name) != "" {
		c.Name = strings.TrimSpace(input.Name)
	}
	c.Email = input.Email
	c.Phone = input.Phone
	c.Address = input.Address
	if err := s.store.UpdateClient(ctx, c); err != nil {
		return nil, err
	}
	return map[string]any{"client": s.clientPayload(c)}, nil
}

// maxSlugAttempts bounds the portal slug collision loop.
const maxSlugAttempts = 20

// EnableClientPortal grants portal access: provisions a stable slug on
// first enable (numeric suffixes resolve collisions), optionally protects
// the link with a password, and flags the client's documents for upload.
// Re-enabling keeps the existing slug, so portal links stay valid.
func (s *Service) EnableClientPortal(ctx context.Context, clientID, password string) (map[string]any, error) {
	c, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	slug := c.PortalSlug
	if slug == "" {
		slug, err = s.provisionSlug(ctx, c.Name)
		if err != nil {
			return nil, err
		}
	}

	passwordHash := c.PortalPasswordHash
	if password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		passwordHash = string(hashed)
	}

	if err := s.store.SetClientPortalAccess(ctx, c.ID, true, slug, passwordHash); err != nil {
		return nil, err
	}
	if err := s.store.MarkClientDocumentsNeedUpload(ctx, c.ID); err != nil {
		s.logger.Warn("mark client documents dirty", "clientId", c.ID, "error", err)
	}
	docs, err := s.store.ListDocumentsByClient(ctx, c.ID)
	if err == nil {
		for _, doc := range docs {
			s.triggerSync(doc.ID)
		}
	}

	return map[string]any{
		"slug":              slug,
		"url":               s.portalURL(slug),
		"passwordProtected": passwordHash != "",
	}, nil
}

// DisableClientPortal revokes portal access and normalizes the sync state
// of the client's documents right away, so no stale "uploading" marker or
// error banner survives the change. The slug is kept: re-enabling restores
// the same link.
func (s *Service) DisableClientPortal(ctx context.Context, clientID string) error {
	c, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	if err := s.store.SetClientPortalAccess(ctx, c.ID, false, c.PortalSlug, c.PortalPasswordHash); err != nil {
		return err
	}
	docs, err := s.store.ListDocumentsByClient(ctx, c.ID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		res := s.reconciler.Reconcile(ctx, doc.ID)
		if res.Outcome == portal.OutcomeFailed {
			s.logger.Warn("normalize after portal disable", "documentId", doc.ID, "error", res.Message)
		}
	}
	return nil
}

func (s *Service) provisionSlug(ctx context.Context, name string) (string, error) {
	base := slugify(name)
	if base == "" {
		base = "client"
	}
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		candidate := base
		if attempt > 0 {
			candidate = base + "-" + strconv.Itoa(attempt+1)
		}
		taken, err := s.store.PortalSlugTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", conflictError("SLUG_EXHAUSTED", "could not find a free portal slug")
}

func (s *Service) portalURL(slug string) string {
	return strings.TrimRight(s.cfg.PortalBaseURL, "/") + "/portal/" + slug
}

// slugify lowers a client name into a stable path segment: letters and
// digits survive, runs of anything else collapse to single hyphens.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// ── Portal viewer sessions ──

// OpenPortalSession exchanges a portal slug (and its password, when one is
// set) for a signed viewer token backed by a revocable session.
func (s *Service) OpenPortalSession(ctx context.Context, slug, password string) (map[string]any, error) {
	c, err := s.store.GetClientByPortalSlug(ctx, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("portal not found")
		}
		return nil, err
	}
	if !c.PortalEnabled {
		return nil, notFoundError("portal not found")
	}
	if c.PortalPasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(c.PortalPasswordHash), []byte(password)); err != nil {
			return nil, domainError(http.StatusUnauthorized, "INVALID_PASSWORD", "Invalid password", nil)
		}
	}

	token, claims, err := auth.Issue([]byte(s.cfg.TokenSecret), c.ID, c.PortalSlug, s.cfg.PortalSessionTTL)
	if err != nil {
		return nil, err
	}
	viewer := session.Viewer{
		ClientID:   c.ID,
		BusinessID: c.BusinessID,
		Slug:       c.PortalSlug,
	}
	if err := s.sessions.Save(ctx, auth.HashToken(token), viewer, time.Unix(claims.Exp, 0)); err != nil {
		return nil, err
	}

	return map[string]any{
		"token":      token,
		"expiresAt":  claims.Exp,
		"clientName": c.Name,
		"slug":       c.PortalSlug,
	}, nil
}

// PortalViewer resolves a bearer token to its viewer session. Both the
// signature and the Redis-backed session must check out, so revocation
// takes effect ahead of the token's embedded expiry.
func (s *Service) PortalViewer(ctx context.Context, token string) (session.Viewer, error) {
	claims, err := auth.Parse([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return session.Viewer{}, err
	}
	viewer, err := s.sessions.Lookup(ctx, auth.HashToken(token))
	if err != nil {
		return session.Viewer{}, err
	}
	if viewer.ClientID != claims.Sub {
		return session.Viewer{}, auth.ErrInvalidToken
	}
	return viewer, nil
}

// PortalDocuments lists the viewer's published documents: only entries
// with an uploaded artifact appear, whatever their current dirty state.
func (s *Service) PortalDocuments(ctx context.Context, viewer session.Viewer) (map[string]any, error) {
	c, err := s.store.GetClient(ctx, viewer.ClientID)
	if err != nil {
		return nil, err
	}
	if !c.PortalEnabled {
		return nil, notFoundError("portal not found")
	}
	docs, err := s.store.ListDocumentsByClient(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		if doc.SyncState.LastUploadedURL == "" {
			continue
		}
		items = append(items, map[string]any{
			"id":         doc.ID,
			"kind":       string(doc.Kind),
			"label":      documentLabel(doc),
			"status":     doc.Status,
			"currency":   doc.Currency,
			"total":      doc.Total,
			"issuedAtMs": doc.IssuedAtMs,
			"pdfUrl":     doc.SyncState.LastUploadedURL,
		})
	}
	return map[string]any{
		"clientName": c.Name,
		"documents":  items,
	}, nil
}

// ClosePortalSession revokes the session behind a viewer token. Unknown
// tokens are ignored; logout is idempotent.
func (s *Service) ClosePortalSession(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := s.sessions.Revoke(ctx, auth.HashToken(token)); err != nil {
		s.logger.Warn("revoke portal session", "error", err)
	}
}

// ── Bookings and analytics ──

type BookingInput struct {
	BusinessID string  `json:"businessId"`
	ClientID   *string `json:"clientId"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	StartAtMs  int64   `json:"startAtMs"`
	EndAtMs    int64   `json:"endAtMs"`
	Price      float64 `json:"price"`
	Location   string  `json:"location"`
	Notes      string  `json:"notes"`
}

var allowedBookingStatuses = map[string]struct{}{
	store.BookingStatusScheduled: {},
	store.BookingStatusCompleted: {},
	store.BookingStatusCanceled:  {},
}

func (s *Service) CreateBooking(ctx context.Context, input BookingInput) (map[string]any, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, validationError("title is required")
	}
	status := input.Status
	if status == "" {
		status = store.BookingStatusScheduled
	}
	if _, ok := allowedBookingStatuses[status]; !ok {
		return nil, validationError("invalid booking status " + strconv.Quote(status))
	}
	b := store.Booking{
		ID:         util.NewID("bkg"),
		BusinessID: input.BusinessID,
		ClientID:   input.ClientID,
		Title:      strings.TrimSpace(input.Title),
		Status:     status,
		StartAtMs:  input.StartAtMs,
		EndAtMs:    input.EndAtMs,
		Price:      input.Price,
		Location:   input.Location,
		Notes:      input.Notes,
	}
	if err := s.store.InsertBooking(ctx, b); err != nil {
		return nil, err
	}
	return map[string]any{"booking": bookingPayload(b)}, nil
}

func (s *Service) GetBooking(ctx context.Context, bookingID string) (map[string]any, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"booking": bookingPayload(b)}, nil
}

func (s *Service) ListBookings(ctx context.Context, businessID string) (map[string]any, error) {
	bookings, err := s.store.ListBookings(ctx, businessID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, bookingPayload(b))
	}
	return map[string]any{"bookings": items}, nil
}

func (s *Service) UpdateBooking(ctx context.Context, bookingID string, input BookingInput) (map[string]any, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Title) != "" {
		b.Title = strings.TrimSpace(input.Title)
	}
	if input.Status != "" {
		if _, ok := allowedBookingStatuses[input.Status]; !ok {
			return nil, validationError("invalid booking status " + strconv.Quote(input.Status))
		}
		b.Status = input.Status
	}
	b.ClientID = input.ClientID
	b.StartAtMs = input.StartAtMs
	b.EndAtMs = input.EndAtMs
	b.Price = input.Price
	b.Location = input.Location
	b.Notes = input.Notes
	if err := s.store.UpdateBooking(ctx, b); err != nil {
		return nil, err
	}
	return map[string]any{"booking": bookingPayload(b)}, nil
}

func (s *Service) BookingAnalytics(ctx context.Context, businessID string, upcomingDays int) (analytics.Summary, error) {
	bookings, err := s.store.ListBookings(ctx, businessID)
	if err != nil {
		return analytics.Summary{}, err
	}
	return analytics.Summarize(bookings, time.Now(), upcomingDays), nil
}

func (s *Service) SearchDirectory(q directory.Query) directory.Response {
	return s.directory.Search(q)
}

// ── Payload helpers ──

func applyDocumentInput(doc *store.Document, input DocumentInput) {
	doc.ClientID = input.ClientID
	doc.Number = strings.TrimSpace(input.Number)
	doc.Title = strings.TrimSpace(input.Title)
	doc.IssuedAtMs = input.IssuedAtMs
	doc.DueAtMs = input.DueAtMs
	if input.Currency != "" {
		doc.Currency = input.Currency
	}
	doc.Notes = input.Notes
	doc.Terms = input.Terms
	doc.BodyText = input.BodyText
	doc.SignedAtMs = input.SignedAtMs
	doc.SignerName = input.SignerName
	doc.TemplateKey = input.TemplateKey
}

func buildLineItems(documentID string, inputs []LineItemInput) []store.LineItem {
	items := make([]store.LineItem, 0, len(inputs))
	for i, in := range inputs {
		total := in.LineTotal
		if total == 0 {
			total = in.Quantity * in.UnitPrice
		}
		items = append(items, store.LineItem{
			ID:          util.NewID("li"),
			DocumentID:  documentID,
			Position:    i,
			Description: in.Description,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			LineTotal:   total,
		})
	}
	return items
}

// applyTotals recomputes the money fields from the line items. Contracts
// carry no items and keep zero totals.
func applyTotals(doc *store.Document, items []store.LineItem, input DocumentInput) {
	doc.DiscountAmount = input.DiscountAmount
	doc.TaxRate = input.TaxRate
	if doc.Kind == store.KindContract {
		return
	}
	subtotal := 0.0
	for _, item := range items {
		subtotal += item.LineTotal
	}
	doc.Subtotal = subtotal
	taxable := subtotal - doc.DiscountAmount
	if taxable < 0 {
		taxable = 0
	}
	doc.TaxAmount = taxable * doc.TaxRate / 100
	doc.Total = taxable + doc.TaxAmount
}

// documentLabel is the human-readable identifier: numbers for invoices and
// estimates, titles for contracts.
func documentLabel(doc store.Document) string {
	if doc.Kind == store.KindContract {
		return doc.Title
	}
	return doc.Number
}

func (s *Service) documentPayload(ctx context.Context, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListLineItems(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	payload := documentSummary(doc)
	lineItems := make([]map[string]any, 0, len(items))
	for _, item := range items {
		lineItems = append(lineItems, map[string]any{
			"id":          item.ID,
			"description": item.Description,
			"quantity":    item.Quantity,
			"unitPrice":   item.UnitPrice,
			"lineTotal":   item.LineTotal,
		})
	}
	payload["items"] = lineItems
	return map[string]any{"document": payload}, nil
}

func documentSummary(doc store.Document) map[string]any {
	return map[string]any{
		"id":             doc.ID,
		"businessId":     doc.BusinessID,
		"clientId":       doc.ClientID,
		"kind":           string(doc.Kind),
		"number":         doc.Number,
		"title":          doc.Title,
		"status":         doc.Status,
		"issuedAtMs":     doc.IssuedAtMs,
		"dueAtMs":        doc.DueAtMs,
		"currency":       doc.Currency,
		"subtotal":       doc.Subtotal,
		"discountAmount": doc.DiscountAmount,
		"taxRate":        doc.TaxRate,
		"taxAmount":      doc.TaxAmount,
		"total":          doc.Total,
		"notes":          doc.Notes,
		"terms":          doc.Terms,
		"bodyText":       doc.BodyText,
		"signedAtMs":     doc.SignedAtMs,
		"signerName":     doc.SignerName,
		"templateKey":    doc.TemplateKey,
		"sync":           syncPayload(doc.SyncState),
	}
}

// syncPayload derives the user-facing sync state straight from the
// persisted field group; there is no separate status channel.
func syncPayload(st store.SyncState) map[string]any {
	state := "not_published"
	switch {
	case st.UploadInFlight:
		state = "uploading"
	case st.LastUploadError != "":
		state = "failed"
	case st.NeedsUpload:
		state = "pending"
	case st.LastUploadedHash != "":
		state = "up_to_date"
	}
	payload := map[string]any{"state": state}
	if st.LastUploadError != "" {
		payload["error"] = st.LastUploadError
	}
	if st.LastUploadedAtMs > 0 {
		payload["lastUploadedAtMs"] = st.LastUploadedAtMs
	}
	if st.LastUploadedURL != "" {
		payload["pdfUrl"] = st.LastUploadedURL
	}
	return payload
}

func businessPayload(b store.Business) map[string]any {
	return map[string]any{
		"id":                  b.ID,
		"name":                b.Name,
		"email":               b.Email,
		"phone":               b.Phone,
		"address":             b.Address,
		"currency":            b.Currency,
		"taxRate":             b.TaxRate,
		"invoiceTemplateKey":  b.InvoiceTemplateKey,
		"contractTemplateKey": b.ContractTemplateKey,
	}
}

func (s *Service) clientPayload(c store.Client) map[string]any {
	payload := map[string]any{
		"id":            c.ID,
		"businessId":    c.BusinessID,
		"name":          c.Name,
		"email":         c.Email,
		"phone":         c.Phone,
		"address":       c.Address,
		"portalEnabled": c.PortalEnabled,
	}
	if c.PortalSlug != "" {
		payload["portalSlug"] = c.PortalSlug
		payload["portalUrl"] = s.portalURL(c.PortalSlug)
	}
	return payload
}

func bookingPayload(b store.Booking) map[string]any {
	return map[string]any{
		"id":         b.ID,
		"businessId": b.BusinessID,
		"clientId":   b.ClientID,
		"title":      b.Title,
		"status":     b.Status,
		"startAtMs":  b.StartAtMs,
		"endAtMs":    b.EndAtMs,
		"price":      b.Price,
		"location":   b.Location,
		"notes":      b.Notes,
	}
}
