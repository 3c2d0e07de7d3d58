package manifest

import (
	"regexp"
	"strings"
)

// Kind tags what a single manifest line is.
type Kind int

const (
	Unrecognized Kind = iota
	ItemLine
	SummaryLine
	ContinuationLine
)

func (k Kind) String() string {
	switch k {
	case ItemLine:
		return "item"
	case SummaryLine:
		return "summary"
	case ContinuationLine:
		return "continuation"
	default:
		return "unrecognized"
	}
}

var (
	itemLineRe = regexp.MustCompile(`(Fa|Re)\s+(P029[89][\s-]?\d{6,8}(?:\s*\d{1,3})?)(.*)`)
	summaryRe  = regexp.MustCompile(`(?:Cantidad de Facturas:\s*(\d+)\s+)?Cantidad de Remitos:\s*(\d+)\s+Bultos:\s*(\d+)`)
)

// Line is the classified form of one input line. Only the fields relevant
// to Kind are populated.
type Line struct {
	Kind Kind
	Raw  string

	// ItemLine
	Type      string
	RawNumber string
	Rest      string

	// SummaryLine; Invoices is empty when the clause is absent.
	Invoices string
	Remitos  string
	Packages string

	// ContinuationLine
	Text string
}

// Classify tags a line. afterInstruction reports whether the previously
// emitted stop ended with a delivery-instruction clause; only then can a
// plain line continue it.
func Classify(raw string, afterInstruction bool) Line {
	if m := itemLineRe.FindStringSubmatch(raw); m != nil {
		return Line{Kind: ItemLine, Raw: raw, Type: m[1], RawNumber: m[2], Rest: strings.TrimSpace(m[3])}
	}
	if m := summaryRe.FindStringSubmatch(raw); m != nil {
		return Line{Kind: SummaryLine, Raw: raw, Invoices: m[1], Remitos: m[2], Packages: m[3]}
	}
	if afterInstruction {
		if t := strings.TrimSpace(raw); t != "" {
			return Line{Kind: ContinuationLine, Raw: raw, Text: t}
		}
	}
	return Line{Kind: Unrecognized, Raw: raw}
}
