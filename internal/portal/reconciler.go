package portal

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"fieldledger/api/internal/directory"
	"fieldledger/api/internal/fingerprint"
	"fieldledger/api/internal/render"
	"fieldledger/api/internal/store"
	"fieldledger/api/internal/util"
)

// documentStore is the persistence surface reconciliation needs.
type documentStore interface {
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	GetClient(ctx context.Context, clientID string) (store.Client, error)
	GetBusiness(ctx context.Context, businessID string) (store.Business, error)
	ListLineItems(ctx context.Context, documentID string) ([]store.LineItem, error)
	UpdateDocumentSyncState(ctx context.Context, documentID string, st store.SyncState) error
}

// pdfRenderer produces the portal artifact for a document.
type pdfRenderer interface {
	RenderDocumentPDF(ctx context.Context, doc store.Document, items []store.LineItem, client store.Client, business store.Business, templateKey string) ([]byte, error)
}

// blobUploader stores a rendered artifact and returns its retrievable URL.
// Uploading identical bytes repeatedly must be safe.
type blobUploader interface {
	Upload(ctx context.Context, ownerID, documentID, fileName string, pdf []byte) (string, error)
}

// directoryIndexer publishes the document into the portal directory. The
// call shape differs per kind: estimates carry an expiry where invoices
// carry a due date, contracts carry a title and signature timestamp.
type directoryIndexer interface {
	IndexInvoice(e directory.InvoiceEntry) error
	IndexEstimate(e directory.EstimateEntry) error
	IndexContract(e directory.ContractEntry) error
}

// Reconciler brings a document's portal copy in line with its current
// content: render, upload, index, then persist the new sync state. Errors
// never escape Reconcile; every attempt resolves to a Result.
type Reconciler struct {
	store    documentStore
	renderer pdfRenderer
	uploader blobUploader
	indexer  directoryIndexer
	registry *registry
	logger   *slog.Logger
}

func NewReconciler(st documentStore, renderer pdfRenderer, uploader blobUploader, indexer directoryIndexer, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    st,
		renderer: renderer,
		uploader: uploader,
		indexer:  indexer,
		registry: newRegistry(),
		logger:   logger,
	}
}

// Reconcile checks one document against its portal copy and refreshes the
// hosted artifact when the content fingerprint moved. Attempts for the same
// document are serialized; attempts for different documents run freely in
// parallel.
func (r *Reconciler) Reconcile(ctx context.Context, documentID string) Result {
	unlock := r.registry.lock(documentID)
	defer unlock()

	doc, err := r.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{Outcome: OutcomeIneligible}
		}
		r.logger.Warn("portal sync: load document", "documentId", documentID, "error", err)
		return Result{Outcome: OutcomeFailed, Message: displayError(err)}
	}

	client, eligible, err := r.lookupEligibility(ctx, doc)
	if err != nil {
		r.logger.Warn("portal sync: load client", "documentId", doc.ID, "error", err)
		return Result{Outcome: OutcomeFailed, Message: displayError(err)}
	}
	if !eligible {
		r.resetIneligible(ctx, doc)
		return Result{Outcome: OutcomeIneligible}
	}

	business, err := r.store.GetBusiness(ctx, doc.BusinessID)
	if err != nil {
		r.logger.Warn("portal sync: load business", "documentId", doc.ID, "error", err)
		return Result{Outcome: OutcomeFailed, Message: displayError(err)}
	}
	items, err := r.store.ListLineItems(ctx, doc.ID)
	if err != nil {
		r.logger.Warn("portal sync: load line items", "documentId", doc.ID, "error", err)
		return Result{Outcome: OutcomeFailed, Message: displayError(err)}
	}

	templateKey := render.ResolveTemplateKey(doc, business)
	hash := fingerprint.Compute(doc, items, templateKey)

	if hash == doc.SyncState.LastUploadedHash && !doc.SyncState.NeedsUpload {
		st := doc.SyncState
		st.UploadInFlight = false
		st.UploadStartedAt = nil
		st.LastUploadError = ""
		if err := r.store.UpdateDocumentSyncState(ctx, doc.ID, st); err != nil {
			r.logger.Warn("portal sync: persist skip state", "documentId", doc.ID, "error", err)
		}
		return Result{Outcome: OutcomeSkippedUnchanged}
	}

	st := doc.SyncState
	st.UploadInFlight = true
	startedAt := time.Now().UTC()
	st.UploadStartedAt = &startedAt
	st.LastUploadError = ""
	if err := r.store.UpdateDocumentSyncState(ctx, doc.ID, st); err != nil {
		r.logger.Warn("portal sync: persist in-flight state", "documentId", doc.ID, "error", err)
		return Result{Outcome: OutcomeFailed, Message: displayError(err)}
	}

	blobURL, err := r.publish(ctx, doc, items, client, business, templateKey, hash)
	if err != nil {
		return r.recordFailure(ctx, doc.ID, st, err)
	}

	st.NeedsUpload = false
	st.UploadInFlight = false
	st.UploadStartedAt = nil
	st.LastUploadedHash = hash
	st.LastUploadedURL = blobURL
	st.LastUploadedAtMs = util.NowMs()
	st.LastUploadError = ""
	if err := r.store.UpdateDocumentSyncState(ctx, doc.ID, st); err != nil {
		r.logger.Error("portal sync: persist uploaded state", "documentId", doc.ID, "error", err)
		return Result{Outcome: OutcomeFailed, Message: displayError(err)}
	}

	r.logger.Info("portal sync: uploaded", "documentId", doc.ID, "kind", string(doc.Kind), "blobUrl", blobURL)
	return Result{Outcome: OutcomeUploaded}
}

// lookupEligibility resolves the owning client and reports whether the
// document can appear on the portal.
func (r *Reconciler) lookupEligibility(ctx context.Context, doc store.Document) (store.Client, bool, error) {
	if doc.ClientID == nil || *doc.ClientID == "" {
		return store.Client{}, false, nil
	}
	client, err := r.store.GetClient(ctx, *doc.ClientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Client{}, false, nil
		}
		return store.Client{}, false, err
	}
	return client, client.PortalEnabled, nil
}

// resetIneligible normalizes sync state for documents that cannot appear on
// the portal, so no stale "uploading" marker or error banner survives a
// portal access change.
func (r *Reconciler) resetIneligible(ctx context.Context, doc store.Document) {
	st := doc.SyncState
	st.NeedsUpload = false
	st.UploadInFlight = false
	st.UploadStartedAt = nil
	st.LastUploadError = ""
	if err := r.store.UpdateDocumentSyncState(ctx, doc.ID, st); err != nil {
		r.logger.Warn("portal sync: persist ineligible reset", "documentId", doc.ID, "error", err)
	}
}

// publish makes the current content retrievable: upload a fresh artifact
// unless the recorded blob already matches the current fingerprint, then
// refresh the directory entry either way.
func (r *Reconciler) publish(ctx context.Context, doc store.Document, items []store.LineItem, client store.Client, business store.Business, templateKey, hash string) (string, error) {
	blobURL := doc.SyncState.LastUploadedURL
	reuse := blobURL != "" && doc.SyncState.LastUploadedHash == hash

	if !reuse {
		pdf, err := r.renderer.RenderDocumentPDF(ctx, doc, items, client, business, templateKey)
		if err != nil {
			return "", &StageError{Stage: StageRender, Err: err}
		}
		fileName := render.FileName(doc.Kind, documentIdentifier(doc), doc.ID)
		url, err := r.uploader.Upload(ctx, doc.BusinessID, doc.ID, fileName, pdf)
		if err != nil {
			return "", &StageError{Stage: StageUpload, Err: err}
		}
		blobURL = url
	}

	if err := r.indexDocument(doc, blobURL); err != nil {
		return "", &StageError{Stage: StageIndex, Err: err}
	}
	return blobURL, nil
}

func (r *Reconciler) indexDocument(doc store.Document, pdfURL string) error {
	clientID := ""
	if doc.ClientID != nil {
		clientID = *doc.ClientID
	}

	switch doc.Kind {
	case store.KindEstimate:
		return r.indexer.IndexEstimate(directory.EstimateEntry{
			ID:          doc.ID,
			BusinessID:  doc.BusinessID,
			ClientID:    clientID,
			Number:      doc.Number,
			Status:      doc.Status,
			Currency:    doc.Currency,
			Total:       doc.Total,
			IssuedAtMs:  doc.IssuedAtMs,
			ExpiresAtMs: msOrZero(doc.DueAtMs),
			PDFURL:      pdfURL,
		})
	case store.KindContract:
		return r.indexer.IndexContract(directory.ContractEntry{
			ID:         doc.ID,
			BusinessID: doc.BusinessID,
			ClientID:   clientID,
			Title:      doc.Title,
			Status:     doc.Status,
			IssuedAtMs: doc.IssuedAtMs,
			SignedAtMs: msOrZero(doc.SignedAtMs),
			PDFURL:     pdfURL,
		})
	default:
		return r.indexer.IndexInvoice(directory.InvoiceEntry{
			ID:         doc.ID,
			BusinessID: doc.BusinessID,
			ClientID:   clientID,
			Number:     doc.Number,
			Status:     doc.Status,
			Currency:   doc.Currency,
			Total:      doc.Total,
			IssuedAtMs: doc.IssuedAtMs,
			DueAtMs:    msOrZero(doc.DueAtMs),
			PDFURL:     pdfURL,
		})
	}
}

// recordFailure persists the failure on the document and re-flags it dirty
// so a later trigger retries. st carries the pre-attempt hash and URL, which
// stay recorded.
func (r *Reconciler) recordFailure(ctx context.Context, documentID string, st store.SyncState, cause error) Result {
	msg := displayError(cause)
	st.NeedsUpload = true
	st.UploadInFlight = false
	st.UploadStartedAt = nil
	st.LastUploadError = msg
	if err := r.store.UpdateDocumentSyncState(ctx, documentID, st); err != nil {
		r.logger.Error("portal sync: persist failure state", "documentId", documentID, "error", err)
	}
	r.logger.Warn("portal sync: reconcile failed", "documentId", documentID, "error", cause)
	return Result{Outcome: OutcomeFailed, Message: msg}
}

// documentIdentifier is the human-readable name used for the artifact file
// name: invoice and estimate numbers, contract titles.
func documentIdentifier(doc store.Document) string {
	if doc.Kind == store.KindContract {
		return doc.Title
	}
	return doc.Number
}

func msOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
