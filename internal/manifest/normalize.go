package manifest

import (
	"regexp"
	"strings"
	"unicode"
)

// Street prefixes seen on Rosario manifests. An address is recognized only
// when one of these precedes a house number and the line names the city.
var knownStreets = []string{
	`Pasaje`, `Pje\.`, `Alvear`, `San Juan`, `Zeballos`, `Velez Sarsfield`,
	`Cordiviola`, `Drago`, `Del Valle`, `Andrade`, `Sanchez De Bustamante`,
	`Corrientes`, `Buenos Aires`, `Entre Rios`, `Marco Polo`, `Ibarlucea`,
	`Nansen`, `Reconquista`, `Av\. Alberdi`, `Balcarce`, `3 De Febrero`,
	`Mendoza`, `Rodriguez`, `Santiago`, `San Luis`, `Ayacucho`, `San Martin`,
	`Laprida`, `Arijon`, `Regimiento`, `Artigas`, `Thedy`, `French`,
	`Juan Jose Paso`, `Genova`, `Jose Ingenieros`,
}

var (
	addressRe = regexp.MustCompile(`(?i)((?:` + strings.Join(knownStreets, `|`) + `)[\s\p{L}\p{N}_,.]*?(?:N[°º.]?\s*)?\d+)(?:,\s*[A-ZÁÉÍÓÚÜÑ][a-záéíóúüñA-ZÁÉÍÓÚÜÑ\s]*)*,\s*Rosario`)

	instructionRe  = regexp.MustCompile(`(?i)Entrega:\s*(.*)`)
	trailingIntRe  = regexp.MustCompile(`(\d+)\s*$`)
	docNumberRe    = regexp.MustCompile(`P029[89]-\d{6,11}`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	standaloneNum  = regexp.MustCompile(`\b\d+\b`)
	disallowedRune = regexp.MustCompile(`[^\p{L}\p{N}_\s.,-]`)
	entityNoiseRe  = regexp.MustCompile(`(?i)\b(?:ESQ|SUC|S\.R\.L)\b\.?`)
	numberMarkRe   = regexp.MustCompile(`(?i)\s+N[°º.]?\s*(\d)`)
	lowerDeRe      = regexp.MustCompile(`\bde\b`)
)

// normalizeDocNumber extracts the canonical P0298-/P0299- form. ok is false
// when only the best-effort cleanup could be applied.
func normalizeDocNumber(raw string) (string, bool) {
	compact := whitespaceRe.ReplaceAllString(raw, "")
	if m := docNumberRe.FindString(compact); m != "" {
		return m, true
	}
	return strings.ReplaceAll(compact, "-", ""), false
}

func cleanEntity(s string) string {
	s = strings.ToUpper(s)
	s = standaloneNum.ReplaceAllString(s, "")
	s = disallowedRune.ReplaceAllString(s, "")
	s = entityNoiseRe.ReplaceAllString(s, "")
	s = docNumberRe.ReplaceAllString(s, "")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func cleanAddress(addr, entity string) string {
	addr = numberMarkRe.ReplaceAllString(addr, " ${1}")
	if entity != "" {
		if t := titleCase(entity); strings.Contains(addr, t) {
			addr = strings.TrimSpace(strings.ReplaceAll(addr, t, ""))
		}
	}
	parts := strings.Split(addr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(whitespaceRe.ReplaceAllString(p, " "))
		if p == "" {
			continue
		}
		if strings.EqualFold(p, "rosario") {
			out = append(out, "Rosario")
			continue
		}
		out = append(out, titleCase(p))
	}
	return lowerDeRe.ReplaceAllString(strings.Join(out, ", "), "De")
}

// titleCase upper-cases every letter that follows a non-letter and
// lower-cases the rest.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		prevLetter = false
		b.WriteRune(r)
	}
	return b.String()
}
