// Package manifest turns recognized delivery-report text into stop entries.
//
// Parsing never fails: lines that match nothing are skipped and fields that
// cannot be found carry the model.NotFound sentinel.
package manifest

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"granix/internal/model"
)

// Entry is one parsed manifest stop before customer resolution.
type Entry struct {
	Type                 model.StopType `json:"type"`
	DocumentNumber       string         `json:"source_document_number"`
	CommercialEntity     string         `json:"commercial_entity"`
	DeliveryAddress      string         `json:"delivery_address"`
	PackageCount         int            `json:"package_count"`
	DeliveryInstructions string         `json:"delivery_instructions"`
}

// HasAddress reports whether an address was recognized on the line.
func (e Entry) HasAddress() bool {
	return e.DeliveryAddress != "" && e.DeliveryAddress != model.NotFound
}

type Result struct {
	Entries       []Entry `json:"stops"`
	TotalInvoices int     `json:"total_invoices"`
	TotalRemitos  int     `json:"total_remitos"`
	TotalPackages int     `json:"total_packages"`
}

type Parser struct {
	log *zap.Logger
}

func NewParser(log *zap.Logger) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{log: log}
}

// Parse scans text line by line.
func (p *Parser) Parse(text string) Result {
	var res Result
	afterInstruction := false
	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line := Classify(raw, afterInstruction)
		switch line.Kind {
		case ItemLine:
			e, hasInstruction := p.parseItem(line)
			res.Entries = append(res.Entries, e)
			afterInstruction = hasInstruction
		case ContinuationLine:
			appendContinuation(&res.Entries[len(res.Entries)-1], line.Text)
		case SummaryLine:
			res.TotalInvoices, res.TotalRemitos, res.TotalPackages = parseSummary(line)
			afterInstruction = false
		default:
			afterInstruction = false
		}
	}
	return res
}

func (p *Parser) parseItem(l Line) (Entry, bool) {
	num, ok := normalizeDocNumber(l.RawNumber)
	if !ok {
		p.log.Warn("document number not in canonical form", zap.String("raw", l.RawNumber), zap.String("cleaned", num))
	}
	e := Entry{
		Type:                 model.StopType(l.Type),
		DocumentNumber:       num,
		CommercialEntity:     model.NotFound,
		DeliveryAddress:      model.NotFound,
		DeliveryInstructions: model.NotFound,
	}

	rest := l.Rest
	instruction := ""
	if loc := instructionRe.FindStringSubmatchIndex(rest); loc != nil {
		instruction = strings.TrimSpace(rest[loc[2]:loc[3]])
		rest = strings.TrimSpace(rest[:loc[0]])
	}

	var found bool
	e.PackageCount, rest, found = splitTrailingCount(rest)
	if !found && instruction != "" {
		// Some reports print the count after the instruction clause.
		e.PackageCount, instruction, _ = splitTrailingCount(instruction)
	}

	if loc := addressRe.FindStringSubmatchIndex(rest); loc != nil {
		entity := cleanEntity(rest[:loc[2]])
		if entity != "" {
			e.CommercialEntity = entity
		}
		e.DeliveryAddress = cleanAddress(rest[loc[2]:loc[1]], entity)
	} else if entity := cleanEntity(rest); entity != "" {
		e.CommercialEntity = entity
	}

	if instruction != "" {
		e.DeliveryInstructions = instruction
	}
	return e, instruction != ""
}

func splitTrailingCount(s string) (int, string, bool) {
	loc := trailingIntRe.FindStringSubmatchIndex(s)
	if loc == nil {
		return 0, s, false
	}
	n, err := strconv.Atoi(s[loc[2]:loc[3]])
	if err != nil || n < 0 {
		return 0, s, false
	}
	return n, strings.TrimSpace(s[:loc[0]]), true
}

func appendContinuation(e *Entry, text string) {
	if e.DeliveryInstructions == model.NotFound || e.DeliveryInstructions == "" {
		e.DeliveryInstructions = text
		return
	}
	e.DeliveryInstructions += " " + text
}

func parseSummary(l Line) (invoices, remitos, packages int) {
	if l.Invoices != "" {
		invoices, _ = strconv.Atoi(l.Invoices)
	}
	remitos, _ = strconv.Atoi(l.Remitos)
	packages, _ = strconv.Atoi(l.Packages)
	return invoices, remitos, packages
}
