package render

import (
	"strings"

	"fieldledger/api/internal/store"
)

// FileName derives the artifact file name for a document: the kind as a
// prefix, then the sanitized human-readable identifier (invoice number
// or contract title), falling back to a truncated form of the document
// id when that is blank.
func FileName(kind store.DocumentKind, identifier, documentID string) string {
	base := sanitizeFilename(identifier)
	if base == "" {
		base = sanitizeFilename(shortID(documentID))
	}
	if base == "" {
		base = "document"
	}
	return string(kind) + "-" + base + ".pdf"
}

// StoragePath is the document-local path the rendered artifact is cached
// under. It participates in the content fingerprint, so renaming a
// document (which moves its artifact) marks it stale.
func StoragePath(kind store.DocumentKind, identifier, documentID string) string {
	return "pdfs/" + FileName(kind, identifier, documentID)
}

// sanitizeFilename creates a safe file name segment: path-unsafe
// characters are dropped, spaces become hyphens, length is capped.
func sanitizeFilename(name string) string {
	result := ""
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result += string(r)
		case r == ' ':
			result += "-"
		case r == '-', r == '_':
			result += string(r)
		default:
			// Skip other characters
		}
	}

	if len(result) > 50 {
		result = result[:50]
	}

	return result
}

// shortID returns the random portion of a prefixed id, truncated.
func shortID(id string) string {
	if i := strings.LastIndexByte(id, '_'); i >= 0 && i+1 < len(id) {
		id = id[i+1:]
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}
