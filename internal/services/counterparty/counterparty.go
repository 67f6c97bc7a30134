// Package counterparty normalizes payer/payee names so that statement rows,
// expense entries and history records can be compared.
package counterparty

import (
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

var legalForms = map[string]bool{
	"LLC": true, "INC": true, "LTD": true, "CORP": true, "CO": true, "GMBH": true, "PLC": true,
	"ООО": true, "ОАО": true, "ЗАО": true, "ПАО": true, "АО": true, "ИП": true, "НКО": true,
}

// Normalize upper-cases a name, drops punctuation and legal-form tokens and
// collapses whitespace.
func Normalize(name string) string {
	name = strings.ToUpper(name)
	name = strings.ReplaceAll(name, "Ё", "Е")
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if legalForms[f] {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// Identity is the grouping key for a counterparty: the tax id when known,
// otherwise the normalized name. Empty when neither is present.
func Identity(name, taxID string) string {
	if id := strings.TrimSpace(taxID); id != "" {
		return "tax:" + id
	}
	if n := Normalize(name); n != "" {
		return "name:" + n
	}
	return ""
}

// Same reports whether two counterparties are the same party: equal tax ids
// when both carry one, equal normalized names otherwise.
func Same(nameA, taxA, nameB, taxB string) bool {
	taxA, taxB = strings.TrimSpace(taxA), strings.TrimSpace(taxB)
	if taxA != "" && taxB != "" {
		return taxA == taxB
	}
	a, b := Normalize(nameA), Normalize(nameB)
	return a != "" && a == b
}

// Similarity scores two names in [0,1] as the better of the Levenshtein
// ratio and the token overlap of their normalized forms.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	ratio := levenshtein.RatioForStrings([]rune(na), []rune(nb), levenshtein.DefaultOptions)
	overlap := tokenOverlap(strings.Fields(na), strings.Fields(nb))
	if overlap > ratio {
		return overlap
	}
	return ratio
}

// tokenOverlap is the share of the shorter token list found in the longer.
func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[t] = true
	}
	hits := 0
	for _, t := range a {
		if set[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(a))
}
