package render

import (
	"strings"
	"testing"

	"fieldledger/api/internal/store"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"INV-0042", "INV-0042"},
		{"Invoice #42 (final)", "Invoice-42-final"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", ""},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name       string
		kind       store.DocumentKind
		identifier string
		documentID string
		expected   string
	}{
		{
			name:       "invoice with number",
			kind:       store.KindInvoice,
			identifier: "INV-0042",
			documentID: "inv_0f1e2d3c4b5a69788796a5b4c3d2e1f0",
			expected:   "invoice-INV-0042.pdf",
		},
		{
			name:       "estimate with number",
			kind:       store.KindEstimate,
			identifier: "EST 12",
			documentID: "inv_0f1e2d3c4b5a69788796a5b4c3d2e1f0",
			expected:   "estimate-EST-12.pdf",
		},
		{
			name:       "contract with title",
			kind:       store.KindContract,
			identifier: "Service Agreement (2026)",
			documentID: "ctr_0f1e2d3c4b5a69788796a5b4c3d2e1f0",
			expected:   "contract-Service-Agreement-2026.pdf",
		},
		{
			name:       "blank identifier falls back to truncated id",
			kind:       store.KindInvoice,
			identifier: "",
			documentID: "inv_0f1e2d3c4b5a69788796a5b4c3d2e1f0",
			expected:   "invoice-0f1e2d3c4b5a.pdf",
		},
		{
			name:       "unsafe-only identifier falls back to truncated id",
			kind:       store.KindInvoice,
			identifier: "###",
			documentID: "inv_0f1e2d3c4b5a69788796a5b4c3d2e1f0",
			expected:   "invoice-0f1e2d3c4b5a.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FileName(tt.kind, tt.identifier, tt.documentID)
			if result != tt.expected {
				t.Errorf("FileName() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestStoragePathTracksFileName(t *testing.T) {
	path := StoragePath(store.KindInvoice, "INV-7", "inv_abc123")
	if path != "pdfs/invoice-INV-7.pdf" {
		t.Errorf("StoragePath() = %q", path)
	}
}

func TestResolveTemplateKey(t *testing.T) {
	invoice := store.Document{Kind: store.KindInvoice}
	contract := store.Document{Kind: store.KindContract}

	tests := []struct {
		name     string
		doc      store.Document
		business store.Business
		expected string
	}{
		{"document override wins", func() store.Document { d := invoice; d.TemplateKey = "modern"; return d }(), store.Business{InvoiceTemplateKey: "classic"}, "modern"},
		{"business invoice default", invoice, store.Business{InvoiceTemplateKey: "modern"}, "modern"},
		{"business contract default", contract, store.Business{ContractTemplateKey: "formal"}, "formal"},
		{"contract ignores invoice default", contract, store.Business{InvoiceTemplateKey: "modern"}, "classic"},
		{"built-in fallback", invoice, store.Business{}, "classic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ResolveTemplateKey(tt.doc, tt.business)
			if result != tt.expected {
				t.Errorf("ResolveTemplateKey() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},       // Spaces encoded as %20, not +
		{"test+sign", "test%2Bsign"},           // + signs are encoded
		{"special<>", "special%3C%3E"},         // Special chars encoded
		{"normal-text.txt", "normal-text.txt"}, // Unreserved chars pass through
		{"", ""},                               // Empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderInvoiceHTML(t *testing.T) {
	due := int64(1766016000000)
	data := TemplateData{
		KindLabel:    "INVOICE",
		Number:       "INV-0042",
		Status:       "sent",
		BusinessName: "Askew Plumbing",
		ClientName:   "Jordan Smith",
		IssuedAtMs:   1765411200000,
		DueAtMs:      &due,
		DueLabel:     "Due",
		Currency:     "USD",
		Items: []TemplateItem{
			{Description: "Labor", Quantity: 2, UnitPrice: 50, LineTotal: 100},
		},
		Subtotal: 100,
		Total:    100,
		Notes:    "Thanks for your business",
	}

	html, err := RenderDocumentHTML(store.KindInvoice, "classic", data)
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}

	for _, want := range []string{"INVOICE", "INV-0042", "Askew Plumbing", "Jordan Smith", "Labor", "100.00", "Thanks for your business"} {
		if !strings.Contains(html, want) {
			t.Errorf("invoice HTML missing %q", want)
		}
	}
}

func TestRenderContractHTML(t *testing.T) {
	signed := int64(1765497600000)
	data := TemplateData{
		Title:        "Service Agreement",
		Status:       "signed",
		BusinessName: "Askew Plumbing",
		ClientName:   "Jordan Smith",
		IssuedAtMs:   1765411200000,
		Body:         "The parties agree as follows.",
		SignerName:   "Jordan Smith",
		SignedAtMs:   &signed,
	}

	html, err := RenderDocumentHTML(store.KindContract, "formal", data)
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}

	for _, want := range []string{"Service Agreement", "The parties agree as follows.", "Jordan Smith"} {
		if !strings.Contains(html, want) {
			t.Errorf("contract HTML missing %q", want)
		}
	}
}

// Unknown template keys must not fail a render; they fall back to the
// classic layout for the kind.
func TestRenderUnknownTemplateFallsBack(t *testing.T) {
	data := TemplateData{KindLabel: "ESTIMATE", Number: "EST-1", BusinessName: "B", ClientName: "C"}

	html, err := RenderDocumentHTML(store.KindEstimate, "no-such-template", data)
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}
	if !strings.Contains(html, "EST-1") {
		t.Error("fallback HTML missing document number")
	}
}
