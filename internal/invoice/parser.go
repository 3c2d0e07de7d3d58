// Package invoice extracts client, address, total and line items from
// recognized invoice text.
package invoice

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"granix/internal/model"
)

var (
	numberRe        = regexp.MustCompile(`(?:Factura|FACTURA)\s*N[°º.]?\s*(\d{4}-\d{8})`)
	clientAddressRe = regexp.MustCompile(`(?s)Sr/Sres\.\s*Cliente[^\n]+\n(.*?)\s*Ven\.:[^\n]*\n(.*?)\s*Transp\.:`)
	numberMarkRe    = regexp.MustCompile(`(?i)(^|[^a-zA-Z])N[°º*\s]+`)
	multiSpaceRe    = regexp.MustCompile(`\s{2,}`)
	totalRe         = regexp.MustCompile(`IMPORTE TOTAL\s+\$\s*([\d.,]+)`)
	itemBlockRe     = regexp.MustCompile(`Articulo\s+Cantidad\s+Descripci.n[\s\S]+?(Subtotal|IMPORTE TOTAL)`)
	itemLineRe      = regexp.MustCompile(`^(\d{4,5})\s+(\d+)\s+(.+?)\s+([\d.,]+(?:,\d{2})?)\s+([\d.,]+(?:,\d{2})?)$`)
)

// Parsed holds what could be read from one invoice. Missing text fields
// carry the sentinels from package model.
type Parsed struct {
	InvoiceNumber string           `json:"invoice_number"`
	ClientName    string           `json:"client_name"`
	Address       string           `json:"address"`
	TotalAmount   *float64         `json:"total_amount"`
	Items         []model.LineItem `json:"line_items"`
}

// HasAddress reports whether the client block yielded an address usable
// for customer lookup and linking.
func (p Parsed) HasAddress() bool {
	return p.Address != "" && p.Address != model.AddressNotFound
}

// Parse never fails; an item whose numbers cannot be read is dropped on its own.
func Parse(text string) Parsed {
	out := Parsed{
		InvoiceNumber: model.NotFound,
		ClientName:    model.ClientNotFound,
		Address:       model.AddressNotFound,
		Items:         []model.LineItem{},
	}

	if m := numberRe.FindStringSubmatch(text); m != nil {
		out.InvoiceNumber = m[1]
	}

	if m := clientAddressRe.FindStringSubmatch(text); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			out.ClientName = name
		}
		if addr := cleanAddress(m[2]); addr != "" {
			out.Address = addr
		}
	}

	if m := totalRe.FindStringSubmatch(text); m != nil {
		if v, err := ParseAmount(m[1]); err == nil {
			out.TotalAmount = &v
		}
	}

	if loc := itemBlockRe.FindStringSubmatchIndex(text); loc != nil {
		for _, line := range strings.Split(text[loc[0]:loc[2]], "\n") {
			if it, ok := parseItem(strings.TrimSpace(line)); ok {
				out.Items = append(out.Items, it)
			}
		}
	}
	return out
}

func parseItem(line string) (model.LineItem, bool) {
	m := itemLineRe.FindStringSubmatch(line)
	if m == nil {
		return model.LineItem{}, false
	}
	qty, err := strconv.Atoi(m[2])
	if err != nil {
		return model.LineItem{}, false
	}
	total, err := ParseAmount(m[5])
	if err != nil {
		return model.LineItem{}, false
	}
	return model.LineItem{
		ProductCode: m[1],
		Description: strings.TrimSpace(m[3]),
		Quantity:    qty,
		LineTotal:   total,
	}, true
}

func cleanAddress(raw string) string {
	s := strings.ReplaceAll(strings.TrimSpace(raw), "\n", " ")
	s = numberMarkRe.ReplaceAllString(s, "${1} ")
	s = strings.ReplaceAll(s, "?", "")
	s = multiSpaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	return titleCase(s)
}

func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) && prevLetter:
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLetter(r):
			b.WriteRune(unicode.ToUpper(r))
		default:
			b.WriteRune(r)
		}
		prevLetter = unicode.IsLetter(r)
	}
	return b.String()
}
