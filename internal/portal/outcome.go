// Package portal reconciles documents with their client-facing portal
// representation: it decides whether the hosted PDF is stale, re-renders and
// uploads it when needed, and keeps the portal directory entry fresh.
package portal

// Outcome classifies the terminal state of one reconciliation attempt.
type Outcome string

const (
	// OutcomeIneligible covers missing documents and documents whose client
	// has no portal access.
	OutcomeIneligible Outcome = "ineligible"
	// OutcomeSkippedUnchanged means the uploaded artifact already matches
	// the document's current content.
	OutcomeSkippedUnchanged Outcome = "skipped_unchanged"
	// OutcomeUploaded means the portal copy was refreshed.
	OutcomeUploaded Outcome = "uploaded"
	// OutcomeFailed means a render, upload, or index step failed and the
	// document stays flagged for retry.
	OutcomeFailed Outcome = "failed"
)

// Result is what a reconciliation attempt resolves to. Message is set only
// for OutcomeFailed.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message,omitempty"`
}
