// Package render produces the PDF artifacts uploaded to the client
// portal. Documents render through embedded HTML templates printed by
// headless Chrome.
package render

import (
	"context"
	"fmt"
	"strings"

	"fieldledger/api/internal/store"
)

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// RenderDocumentPDF renders a document to PDF bytes using the given
// resolved template key.
func (s *Service) RenderDocumentPDF(ctx context.Context, doc store.Document, items []store.LineItem, client store.Client, business store.Business, templateKey string) ([]byte, error) {
	html, err := RenderDocumentHTML(doc.Kind, templateKey, buildTemplateData(doc, items, client, business))
	if err != nil {
		return nil, fmt.Errorf("render document html: %w", err)
	}
	return printPDF(ctx, html)
}

func buildTemplateData(doc store.Document, items []store.LineItem, client store.Client, business store.Business) TemplateData {
	data := TemplateData{
		KindLabel:       strings.ToUpper(string(doc.Kind)),
		Number:          doc.Number,
		Title:           doc.Title,
		Status:          doc.Status,
		BusinessName:    business.Name,
		BusinessEmail:   business.Email,
		BusinessPhone:   business.Phone,
		BusinessAddress: business.Address,
		ClientName:      client.Name,
		ClientEmail:     client.Email,
		ClientAddress:   client.Address,
		IssuedAtMs:      doc.IssuedAtMs,
		DueAtMs:         doc.DueAtMs,
		DueLabel:        "Due",
		Currency:        doc.Currency,
		Subtotal:        doc.Subtotal,
		Discount:        doc.DiscountAmount,
		TaxRate:         doc.TaxRate,
		TaxAmount:       doc.TaxAmount,
		Total:           doc.Total,
		Notes:           doc.Notes,
		Terms:           doc.Terms,
		Body:            doc.BodyText,
		SignerName:      doc.SignerName,
		SignedAtMs:      doc.SignedAtMs,
	}
	if doc.Kind == store.KindEstimate {
		data.DueLabel = "Expires"
	}
	for _, item := range items {
		data.Items = append(data.Items, TemplateItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		})
	}
	return data
}
