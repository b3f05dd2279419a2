package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// HeaderSchema declares what a file's column set must look like
type HeaderSchema struct {
	Required            []string
	Optional            []string
	AllowUnknownHeaders bool
}

// HeaderValidation is the outcome of validating a raw header list. The
// check runs exactly once per job, before any row is processed.
type HeaderValidation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	// Canonical maps each raw header (as it appeared in the file) to its
	// canonical field name. Unresolvable headers map to their normalized
	// form.
	Canonical map[string]string `json:"canonical,omitempty"`
}

var (
	nonWordRe    = regexp.MustCompile(`[^\w\s]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	underscoreRe = regexp.MustCompile(`_+`)
)

// headerAliases maps normalized header spellings to canonical field names
var headerAliases = map[string]string{
	"product_name":         "name",
	"title":                "name",
	"product_title":        "name",
	"product_sku":          "sku",
	"stock_keeping_unit":   "sku",
	"universal_product_id": "upid",
	"product_id":           "upid",
	"unit_price":           "price",
	"price_usd":            "price",
	"product_description":  "description",
	"desc":                 "description",
	"brand_name":           "brand",
	"colour":               "color",
	"variant_color":        "color",
	"variant_size":         "size",
	"compareprice":         "compare_price",
	"compare_at_price":     "compare_price",
	"stock":                "quantity",
	"stock_quantity":       "quantity",
	"qty":                  "quantity",
	"keywords":             "tags",
}

// NormalizeHeader lowercases, collapses whitespace to single underscores,
// strips non-word characters and trims underscores. Idempotent: normalizing
// an already-normalized header is a no-op.
func NormalizeHeader(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	h = nonWordRe.ReplaceAllString(h, "")
	h = whitespaceRe.ReplaceAllString(h, "_")
	h = underscoreRe.ReplaceAllString(h, "_")
	return strings.Trim(h, "_")
}

// CanonicalField resolves a raw header to its canonical field name via the
// alias table; headers with no alias pass through normalized.
func CanonicalField(header string) string {
	normalized := NormalizeHeader(header)
	if canonical, ok := headerAliases[normalized]; ok {
		return canonical
	}
	return normalized
}

// ValidateHeaders checks the raw header list against the schema. All
// violations are reported, not just the first:
//   - duplicate canonical headers are errors
//   - missing required headers are aggregated into one error
//   - unknown headers are warnings when disallowed (the column is ignored)
//   - empty header strings are warnings
func ValidateHeaders(raw []string, s HeaderSchema) HeaderValidation {
	v := HeaderValidation{
		Canonical: make(map[string]string, len(raw)),
	}

	allowed := make(map[string]bool, len(s.Required)+len(s.Optional))
	for _, h := range s.Required {
		allowed[h] = true
	}
	for _, h := range s.Optional {
		allowed[h] = true
	}

	seen := make(map[string]bool, len(raw))
	for _, header := range raw {
		if strings.TrimSpace(header) == "" {
			v.Warnings = append(v.Warnings, "empty header column will be ignored")
			continue
		}

		canonical := CanonicalField(header)
		v.Canonical[header] = canonical

		if seen[canonical] {
			v.Errors = append(v.Errors, fmt.Sprintf("duplicate header: '%s'", canonical))
			continue
		}
		seen[canonical] = true

		if !allowed[canonical] && !s.AllowUnknownHeaders {
			v.Warnings = append(v.Warnings, fmt.Sprintf("unknown header '%s' will be ignored", header))
		}
	}

	var missing []string
	for _, required := range s.Required {
		if !seen[required] {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		v.Errors = append(v.Errors, fmt.Sprintf("missing required headers: %s", strings.Join(missing, ", ")))
	}

	v.Valid = len(v.Errors) == 0
	return v
}

// ProductHeaderSchema is the column schema for product imports
func ProductHeaderSchema() HeaderSchema {
	return HeaderSchema{
		Required: []string{"name", "sku", "upid"},
		Optional: []string{
			"price", "description", "brand", "color", "size", "variant_sku",
			"compare_price", "quantity", "weight", "tags",
		},
	}
}
