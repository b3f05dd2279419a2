package importer

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/parser"
)

func productRow(number int, overrides map[string]string) parser.Row {
	fields := map[string]string{
		"Name":  "Blue Shirt",
		"SKU":   "TSH-BLU-001",
		"UPID":  "UP-1001",
		"Price": "19.99",
	}
	for k, v := range overrides {
		fields[k] = v
	}
	return parser.Row{Number: number, Fields: fields}
}

func productMapping() map[string]string {
	return ResolveHeaderMapping([]string{"Name", "SKU", "UPID", "Price", "Quantity", "Variant SKU", "Color", "Tags"})
}

// ===========================================
// Row Transformation Tests
// ===========================================

func TestTransformRow_ValidCreate(t *testing.T) {
	outcome := TransformRow(productRow(2, nil), productMapping(), "tenant-123", nil, models.ImportModeCreateOnly)

	assert.Empty(t, outcome.Error)
	require.NotNil(t, outcome.Candidate)
	assert.Equal(t, models.StagingActionCreate, outcome.Candidate.Product.Action)
	assert.Equal(t, "Blue Shirt", outcome.Candidate.Product.Name)
	assert.Equal(t, "UP-1001", outcome.Candidate.Product.UPID)
	assert.Equal(t, "tenant-123", outcome.Candidate.Product.TenantID)
	assert.Empty(t, outcome.Candidate.Variants)
}

func TestTransformRow_VariantRow(t *testing.T) {
	row := productRow(3, map[string]string{
		"Variant SKU": "TSH-BLU-001-L",
		"Color":       "blue",
		"Quantity":    "25",
	})

	outcome := TransformRow(row, productMapping(), "tenant-123", nil, models.ImportModeCreateOnly)

	require.NotNil(t, outcome.Candidate)
	require.Len(t, outcome.Candidate.Variants, 1)
	assert.Equal(t, "TSH-BLU-001-L", outcome.Candidate.Variants[0].SKU)
	assert.Equal(t, 3, outcome.Candidate.Variants[0].ProductRowNumber)
	require.NotNil(t, outcome.Candidate.Variants[0].Quantity)
	assert.Equal(t, 25, *outcome.Candidate.Variants[0].Quantity)
}

func TestTransformRow_AllProblemsReported(t *testing.T) {
	row := productRow(4, map[string]string{
		"Name":  "",
		"SKU":   "!!bad!!",
		"Price": "-5",
	})

	outcome := TransformRow(row, productMapping(), "tenant-123", nil, models.ImportModeCreateOnly)

	assert.Nil(t, outcome.Candidate)
	assert.Contains(t, outcome.Error, "name is required")
	assert.Contains(t, outcome.Error, "sku '!!bad!!' has an invalid format")
	assert.Contains(t, outcome.Error, "price '-5' must be a non-negative number")
}

func TestTransformRow_ExistingUPID_CreateOnlyRejected(t *testing.T) {
	existing := map[string]uuid.UUID{"UP-1001": uuid.New()}

	outcome := TransformRow(productRow(2, nil), productMapping(), "tenant-123", existing, models.ImportModeCreateOnly)

	assert.Nil(t, outcome.Candidate)
	assert.Contains(t, outcome.Error, "already exists in the catalog")
}

func TestTransformRow_ExistingUPID_EnrichBecomesUpdate(t *testing.T) {
	existingID := uuid.New()
	existing := map[string]uuid.UUID{"UP-1001": existingID}

	outcome := TransformRow(productRow(2, nil), productMapping(), "tenant-123", existing, models.ImportModeCreateAndEnrich)

	require.NotNil(t, outcome.Candidate)
	assert.Equal(t, models.StagingActionUpdate, outcome.Candidate.Product.Action)
	require.NotNil(t, outcome.Candidate.Product.ExistingEntityID)
	assert.Equal(t, existingID, *outcome.Candidate.Product.ExistingEntityID)
}

func TestTransformRow_TagsParsed(t *testing.T) {
	row := productRow(2, map[string]string{"Tags": "summer, cotton ,sale"})

	outcome := TransformRow(row, productMapping(), "tenant-123", nil, models.ImportModeCreateOnly)

	require.NotNil(t, outcome.Candidate)
	require.NotNil(t, outcome.Candidate.Product.Tags)
	tags := (*outcome.Candidate.Product.Tags)["tags"].([]string)
	assert.Equal(t, []string{"summer", "cotton", "sale"}, tags)
}

// ===========================================
// Duplicate Detection Tests
// ===========================================

func TestFlagDuplicates_BothRowsInvalidated(t *testing.T) {
	mapping := productMapping()
	outcomes := []RowOutcome{
		TransformRow(productRow(2, nil), mapping, "tenant-123", nil, models.ImportModeCreateOnly),
		TransformRow(productRow(3, map[string]string{"UPID": "UP-2002"}), mapping, "tenant-123", nil, models.ImportModeCreateOnly),
		TransformRow(productRow(4, nil), mapping, "tenant-123", nil, models.ImportModeCreateOnly),
	}

	FlagDuplicates(outcomes)

	assert.Nil(t, outcomes[0].Candidate)
	assert.Contains(t, outcomes[0].Error, "duplicate upid 'UP-1001'")
	assert.Contains(t, outcomes[0].Error, "row(s) 4")

	assert.Nil(t, outcomes[2].Candidate)
	assert.Contains(t, outcomes[2].Error, "row(s) 2")

	// The unique row is untouched
	assert.NotNil(t, outcomes[1].Candidate)
	assert.Empty(t, outcomes[1].Error)
}

func TestFlagDuplicates_InvalidRowsIgnored(t *testing.T) {
	mapping := productMapping()
	outcomes := []RowOutcome{
		TransformRow(productRow(2, map[string]string{"Price": "abc"}), mapping, "tenant-123", nil, models.ImportModeCreateOnly),
		TransformRow(productRow(3, nil), mapping, "tenant-123", nil, models.ImportModeCreateOnly),
	}

	FlagDuplicates(outcomes)

	// Row 2 failed field validation; it does not participate in the scan,
	// so row 3 stays valid even though both carry the same upid.
	assert.NotNil(t, outcomes[1].Candidate)
	assert.Empty(t, outcomes[1].Error)
}
