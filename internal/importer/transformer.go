package importer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/parser"
	"catalog-import-service/internal/schema"
)

var (
	skuPattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)
	upidPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{2,63}$`)
)

// RowOutcome is one row's validation result: either a staging candidate or
// an error message, never both
type RowOutcome struct {
	RowNumber  int
	Normalized map[string]string
	Candidate  *models.StagingCandidate
	Error      string
}

// TransformRow maps one parsed row through the canonical header mapping and
// validates its fields. Validation is independent per row; duplicate
// detection across the file happens in FlagDuplicates.
func TransformRow(row parser.Row, canonical map[string]string, tenantID string, existing map[string]uuid.UUID, mode models.ImportMode) RowOutcome {
	fields := make(map[string]string, len(row.Fields))
	for rawHeader, value := range row.Fields {
		field, ok := canonical[rawHeader]
		if !ok || field == "" {
			continue // unknown column, ignored per header validation
		}
		fields[field] = strings.TrimSpace(value)
	}

	outcome := RowOutcome{RowNumber: row.Number, Normalized: fields}

	var problems []string
	if fields["name"] == "" {
		problems = append(problems, "name is required")
	}
	if fields["sku"] == "" {
		problems = append(problems, "sku is required")
	} else if !skuPattern.MatchString(fields["sku"]) {
		problems = append(problems, fmt.Sprintf("sku '%s' has an invalid format", fields["sku"]))
	}
	if fields["upid"] == "" {
		problems = append(problems, "upid is required")
	} else if !upidPattern.MatchString(fields["upid"]) {
		problems = append(problems, fmt.Sprintf("upid '%s' has an invalid format", fields["upid"]))
	}
	if p := fields["price"]; p != "" {
		if price, err := strconv.ParseFloat(p, 64); err != nil || price < 0 {
			problems = append(problems, fmt.Sprintf("price '%s' must be a non-negative number", p))
		}
	}
	if q := fields["quantity"]; q != "" {
		if n, err := strconv.Atoi(q); err != nil || n < 0 {
			problems = append(problems, fmt.Sprintf("quantity '%s' must be a non-negative integer", q))
		}
	}
	if cp := fields["compare_price"]; cp != "" {
		if _, err := strconv.ParseFloat(cp, 64); err != nil {
			problems = append(problems, fmt.Sprintf("compare_price '%s' must be a number", cp))
		}
	}
	if len(problems) > 0 {
		outcome.Error = strings.Join(problems, "; ")
		return outcome
	}

	upid := fields["upid"]
	product := models.StagingProduct{
		TenantID:     tenantID,
		RowNumber:    row.Number,
		Action:       models.StagingActionCreate,
		Name:         fields["name"],
		SKU:          fields["sku"],
		UPID:         upid,
		Price:        fields["price"],
		Description:  optionalString(fields["description"]),
		Brand:        optionalString(fields["brand"]),
		ComparePrice: optionalString(fields["compare_price"]),
		Quantity:     parseOptionalInt(fields["quantity"]),
		Weight:       optionalString(fields["weight"]),
		Tags:         parseTags(fields["tags"]),
	}

	if existingID, ok := existing[upid]; ok {
		if mode != models.ImportModeCreateAndEnrich {
			outcome.Error = fmt.Sprintf("upid '%s' already exists in the catalog", upid)
			return outcome
		}
		id := existingID
		product.Action = models.StagingActionUpdate
		product.ExistingEntityID = &id
	}

	candidate := &models.StagingCandidate{
		RowNumber: row.Number,
		Product:   product,
	}

	if fields["variant_sku"] != "" {
		candidate.Variants = append(candidate.Variants, models.StagingVariant{
			TenantID:         tenantID,
			ProductRowNumber: row.Number,
			SKU:              fields["variant_sku"],
			Color:            optionalString(fields["color"]),
			Size:             optionalString(fields["size"]),
			Quantity:         parseOptionalInt(fields["quantity"]),
		})
	}

	outcome.Candidate = candidate
	return outcome
}

// FlagDuplicates scans all outcomes for rows sharing a business identifier.
// Both rows of a duplicate pair are invalidated, each error referencing the
// other's row number. Must run after every row has been individually
// validated.
func FlagDuplicates(outcomes []RowOutcome) {
	byUPID := make(map[string][]int, len(outcomes))
	for i := range outcomes {
		if outcomes[i].Candidate == nil {
			continue
		}
		upid := outcomes[i].Candidate.Product.UPID
		byUPID[upid] = append(byUPID[upid], i)
	}

	for upid, indexes := range byUPID {
		if len(indexes) < 2 {
			continue
		}
		rowNumbers := make([]int, 0, len(indexes))
		for _, i := range indexes {
			rowNumbers = append(rowNumbers, outcomes[i].RowNumber)
		}
		for _, i := range indexes {
			others := make([]string, 0, len(rowNumbers)-1)
			for _, n := range rowNumbers {
				if n != outcomes[i].RowNumber {
					others = append(others, strconv.Itoa(n))
				}
			}
			outcomes[i].Error = fmt.Sprintf("duplicate upid '%s' also appears on row(s) %s", upid, strings.Join(others, ", "))
			outcomes[i].Candidate = nil
		}
	}
}

// ResolveHeaderMapping builds the raw-header -> canonical-field map the
// transformer applies to every row
func ResolveHeaderMapping(headers []string) map[string]string {
	mapping := make(map[string]string, len(headers))
	for _, h := range headers {
		if strings.TrimSpace(h) == "" {
			continue
		}
		mapping[h] = schema.CanonicalField(h)
	}
	return mapping
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func parseOptionalInt(value string) *int {
	if value == "" {
		return nil
	}
	if num, err := strconv.Atoi(value); err == nil {
		return &num
	}
	return nil
}

func parseTags(value string) *models.JSON {
	if value == "" {
		return nil
	}
	tags := strings.Split(value, ",")
	for i := range tags {
		tags[i] = strings.TrimSpace(tags[i])
	}
	tagsJSON := make(models.JSON)
	tagsJSON["tags"] = tags
	return &tagsJSON
}
