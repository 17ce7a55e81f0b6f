// Package receipt renders completed sales for printing: an ESC/POS byte
// stream for thermal printers plus a plain-text preview and a printable HTML
// page for browser printing.
package receipt

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"strings"

	"boutika/backend/internal/domain"
)

// Render builds the printable forms for a sale. companyName and currency come
// from the owning company's settings.
func Render(sale *domain.Sale, companyName string, currency string) domain.ReceiptResponse {
	if companyName == "" {
		companyName = "Boutika"
	}
	if currency == "" {
		currency = "XOF"
	}

	lines := []string{
		companyName,
		"========================",
		"Sale: " + sale.ID,
		"Cashier: " + sale.CashierUsername,
		"Date: " + sale.CreatedAt.Format("2006-01-02 15:04:05"),
		"------------------------",
	}
	for _, line := range sale.Lines {
		lines = append(lines, fmt.Sprintf("%s x%d", line.Name, line.Qty))
		lines = append(lines, fmt.Sprintf("  %s", formatAmount(line.UnitPriceCents*int64(line.Qty), currency)))
	}
	lines = append(lines,
		"------------------------",
		fmt.Sprintf("Subtotal : %s", formatAmount(sale.SubtotalCents, currency)),
		fmt.Sprintf("Discount : %s", formatAmount(sale.DiscountCents, currency)),
		fmt.Sprintf("Total    : %s", formatAmount(sale.TotalCents, currency)),
		"========================",
		"Merci / Thank you",
		"",
	)

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	// Partial cut.
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return domain.ReceiptResponse{
		SaleID:       sale.ID,
		EscposBase64: base64.StdEncoding.EncodeToString(escpos),
		PreviewText:  strings.Join(lines, "\n"),
		FileName:     fmt.Sprintf("receipt-%s.bin", sale.ID),
	}
}

func formatAmount(cents int64, currency string) string {
	whole := cents / 100
	frac := cents % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d %s", whole, frac, currency)
}

type receiptLineView struct {
	Label  string
	Amount string
}

type receiptView struct {
	CompanyName string
	SaleID      string
	Cashier     string
	Date        string
	Lines       []receiptLineView
	Subtotal    string
	Discount    string
	Total       string
}

var receiptHTMLTmpl = template.Must(template.New("receipt").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Receipt {{.SaleID}}</title>
  <style>
    body { font-family: monospace; margin: 24px; max-width: 320px; }
    table { width: 100%; border-collapse: collapse; }
    td { padding: 2px 0; font-size: 13px; }
    .amount { text-align: right; }
    hr { border: none; border-top: 1px dashed #999; }
  </style>
</head>
<body>
  <h3>{{.CompanyName}}</h3>
  <p>Sale {{.SaleID}}<br/>Cashier {{.Cashier}}<br/>{{.Date}}</p>
  <hr/>
  <table>
    {{range .Lines}}<tr><td>{{.Label}}</td><td class="amount">{{.Amount}}</td></tr>{{end}}
  </table>
  <hr/>
  <table>
    <tr><td>Subtotal</td><td class="amount">{{.Subtotal}}</td></tr>
    <tr><td>Discount</td><td class="amount">{{.Discount}}</td></tr>
    <tr><td><strong>Total</strong></td><td class="amount"><strong>{{.Total}}</strong></td></tr>
  </table>
  <p>Merci / Thank you</p>
</body>
</html>
`))

// RenderHTML returns a printable HTML page for the sale.
func RenderHTML(sale *domain.Sale, companyName string, currency string) string {
	if companyName == "" {
		companyName = "Boutika"
	}
	if currency == "" {
		currency = "XOF"
	}

	view := receiptView{
		CompanyName: companyName,
		SaleID:      sale.ID,
		Cashier:     sale.CashierUsername,
		Date:        sale.CreatedAt.Format("2006-01-02 15:04"),
		Subtotal:    formatAmount(sale.SubtotalCents, currency),
		Discount:    formatAmount(sale.DiscountCents, currency),
		Total:       formatAmount(sale.TotalCents, currency),
	}
	for _, line := range sale.Lines {
		view.Lines = append(view.Lines, receiptLineView{
			Label:  fmt.Sprintf("%s x%d", line.Name, line.Qty),
			Amount: formatAmount(line.UnitPriceCents*int64(line.Qty), currency),
		})
	}

	var buf bytes.Buffer
	if err := receiptHTMLTmpl.Execute(&buf, view); err != nil {
		return "<!doctype html><html><body><p>Receipt rendering error.</p></body></html>"
	}
	return buf.String()
}
