package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"fieldledger/api/internal/store"
)

// DefaultTemplateKey is the template used when neither the document nor
// the business picks one.
const DefaultTemplateKey = "classic"

// ResolveTemplateKey returns the effective render template for a
// document. A key set on the document wins, then the business default
// for the document's kind, then the built-in default. Fingerprinting
// uses the same resolution, so template changes at the business level
// invalidate stored hashes.
func ResolveTemplateKey(doc store.Document, business store.Business) string {
	if doc.TemplateKey != "" {
		return doc.TemplateKey
	}
	if doc.Kind == store.KindContract {
		if business.ContractTemplateKey != "" {
			return business.ContractTemplateKey
		}
	} else if business.InvoiceTemplateKey != "" {
		return business.InvoiceTemplateKey
	}
	return DefaultTemplateKey
}

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplates map[string]*template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
		"money": func(v float64) string {
			return strconv.FormatFloat(v, 'f', 2, 64)
		},
		"rate": func(v float64) string {
			return strconv.FormatFloat(v, 'f', -1, 64)
		},
		"dateMs": func(ms int64) string {
			if ms == 0 {
				return ""
			}
			return time.UnixMilli(ms).UTC().Format("Jan 2, 2006")
		},
		"optDateMs": func(ms *int64) string {
			if ms == nil {
				return ""
			}
			return time.UnixMilli(*ms).UTC().Format("Jan 2, 2006")
		},
	}

	documentTemplates = make(map[string]*template.Template)
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".html") {
			continue
		}
		content, err := templateFS.ReadFile("templates/" + name)
		if err != nil {
			continue
		}
		key := strings.TrimSuffix(name, ".html")
		documentTemplates[key] = template.Must(template.New(key).Funcs(funcMap).Parse(string(content)))
	}
}

// templateFor picks the parsed template for a kind and template key.
// Estimates render through the invoice layouts. Unknown keys fall back
// to the classic layout for the kind.
func templateFor(kind store.DocumentKind, templateKey string) (*template.Template, error) {
	family := "invoice"
	if kind == store.KindContract {
		family = "contract"
	}
	if tmpl, ok := documentTemplates[family+"-"+templateKey]; ok {
		return tmpl, nil
	}
	if tmpl, ok := documentTemplates[family+"-"+DefaultTemplateKey]; ok {
		return tmpl, nil
	}
	return nil, fmt.Errorf("no template for kind %s key %s", kind, templateKey)
}

// TemplateData holds the fields the document templates render. Invoice
// and estimate documents fill the item and totals fields; contracts fill
// the body and signature fields.
type TemplateData struct {
	KindLabel       string
	Number          string
	Title           string
	Status          string
	BusinessName    string
	BusinessEmail   string
	BusinessPhone   string
	BusinessAddress string
	ClientName      string
	ClientEmail     string
	ClientAddress   string
	IssuedAtMs      int64
	DueAtMs         *int64
	DueLabel        string
	Currency        string
	Items           []TemplateItem
	Subtotal        float64
	Discount        float64
	TaxRate         float64
	TaxAmount       float64
	Total           float64
	Notes           string
	Terms           string
	Body            string
	SignerName      string
	SignedAtMs      *int64
}

type TemplateItem struct {
	Description string
	Quantity    float64
	UnitPrice   float64
	LineTotal   float64
}

// RenderDocumentHTML renders the resolved template for a document kind
// with the provided data.
func RenderDocumentHTML(kind store.DocumentKind, templateKey string, data TemplateData) (string, error) {
	tmpl, err := templateFor(kind, templateKey)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}
