// Package fingerprint computes the content hash used to decide whether a
// document's portal representation is stale. The hash covers every field
// that affects the rendered, client-visible artifact and nothing else, so
// it only changes when a client would see a difference.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"fieldledger/api/internal/store"
)

// Field set versions, one per document kind. Bumped whenever a kind's
// serialized field set changes so hashes recorded by older builds never
// compare equal against a different field set. The sets are enumerated
// independently per kind; invoices and contracts do not share a layout.
const (
	invoiceFieldsVersion  = 2 // v2 added the pdf storage path
	contractFieldsVersion = 2 // v2 added the pdf storage path
)

// Compute returns the canonical content hash of a document: a fixed,
// explicitly ordered list of key=value lines joined by newlines and
// digested with SHA-256, hex-encoded lowercase. Dates are serialized as
// integer milliseconds and the resolved template key is part of the
// input, so the hash is stable across runs, platforms and locales.
func Compute(doc store.Document, items []store.LineItem, templateKey string) string {
	var lines []string
	switch doc.Kind {
	case store.KindContract:
		lines = contractLines(doc, templateKey)
	default:
		lines = invoiceLines(doc, items, templateKey)
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func invoiceLines(doc store.Document, items []store.LineItem, templateKey string) []string {
	lines := []string{
		"kind=" + string(doc.Kind),
		"fields=v" + strconv.Itoa(invoiceFieldsVersion),
		"number=" + doc.Number,
		"client=" + clientRef(doc.ClientID),
		"issuedAtMs=" + strconv.FormatInt(doc.IssuedAtMs, 10),
		"dueAtMs=" + optionalMs(doc.DueAtMs),
		"currency=" + doc.Currency,
		"status=" + doc.Status,
	}
	// Line items serialize in storage order. Order is part of the visible
	// artifact, so reordering items must change the hash.
	for i, item := range items {
		lines = append(lines, strconv.Itoa(i)+"|"+item.Description+"|"+amount(item.Quantity)+"|"+amount(item.UnitPrice)+"|"+amount(item.LineTotal))
	}
	lines = append(lines,
		"subtotal="+amount(doc.Subtotal),
		"discount="+amount(doc.DiscountAmount),
		"taxRate="+amount(doc.TaxRate),
		"taxAmount="+amount(doc.TaxAmount),
		"total="+amount(doc.Total),
		"notes="+doc.Notes,
		"terms="+doc.Terms,
		"template="+templateKey,
		"pdfPath="+doc.PDFStoragePath,
	)
	return lines
}

func contractLines(doc store.Document, templateKey string) []string {
	return []string{
		"kind=" + string(doc.Kind),
		"fields=v" + strconv.Itoa(contractFieldsVersion),
		"title=" + doc.Title,
		"client=" + clientRef(doc.ClientID),
		"issuedAtMs=" + strconv.FormatInt(doc.IssuedAtMs, 10),
		"status=" + doc.Status,
		"signedAtMs=" + optionalMs(doc.SignedAtMs),
		"signer=" + doc.SignerName,
		"body=" + doc.BodyText,
		"template=" + templateKey,
		"pdfPath=" + doc.PDFStoragePath,
	}
}

// amount formats a monetary or quantity value with the shortest exact
// decimal representation, so 50.0 always serializes as "50" regardless
// of how the value was produced.
func amount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optionalMs(ms *int64) string {
	if ms == nil {
		return ""
	}
	return strconv.FormatInt(*ms, 10)
}

func clientRef(clientID *string) string {
	if clientID == nil {
		return ""
	}
	return *clientID
}
