package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHeader(t *testing.T) {
	assert.Equal(t, "product_name", NormalizeHeader("  Product Name  "))
	assert.Equal(t, "unit_price", NormalizeHeader("Unit Price!"))
	assert.Equal(t, "sku", NormalizeHeader("SKU #"))
	assert.Equal(t, "stock_keeping_unit", NormalizeHeader("Stock   Keeping\tUnit"))
}

func TestNormalizeHeader_Idempotent(t *testing.T) {
	inputs := []string{"Product Name", "SKU #", "unit_price", "  Weight (kg)  "}
	for _, input := range inputs {
		once := NormalizeHeader(input)
		assert.Equal(t, once, NormalizeHeader(once), "normalizing %q twice changed the result", input)
	}
}

func TestCanonicalField_Aliases(t *testing.T) {
	assert.Equal(t, "sku", CanonicalField("SKU"))
	assert.Equal(t, "sku", CanonicalField("Product SKU"))
	assert.Equal(t, "sku", CanonicalField("stock_keeping_unit"))
	assert.Equal(t, "upid", CanonicalField("Universal Product ID"))
	assert.Equal(t, "name", CanonicalField("Title"))
	assert.Equal(t, "quantity", CanonicalField("Qty"))

	// No alias: pass through normalized
	assert.Equal(t, "warehouse_zone", CanonicalField("Warehouse Zone"))
}

func TestValidateHeaders_CleanFile(t *testing.T) {
	v := ValidateHeaders([]string{"Name", "SKU", "UPID", "Price", "Description"}, ProductHeaderSchema())

	assert.True(t, v.Valid)
	assert.Empty(t, v.Errors)
	assert.Empty(t, v.Warnings)
	assert.Equal(t, "sku", v.Canonical["SKU"])
	assert.Equal(t, "name", v.Canonical["Name"])
}

func TestValidateHeaders_MinimalRequiredSet(t *testing.T) {
	v := ValidateHeaders([]string{"Product Name", "UPID", "SKU"}, ProductHeaderSchema())

	assert.True(t, v.Valid)
	assert.Empty(t, v.Errors)
	assert.Equal(t, "name", v.Canonical["Product Name"])
}

func TestValidateHeaders_MissingRequiredAggregated(t *testing.T) {
	v := ValidateHeaders([]string{"Name", "Description"}, ProductHeaderSchema())

	assert.False(t, v.Valid)
	require.Len(t, v.Errors, 1)
	assert.Equal(t, "missing required headers: sku, upid", v.Errors[0])
}

func TestValidateHeaders_DuplicateCanonical(t *testing.T) {
	// "SKU" and "Product SKU" collapse to the same canonical field
	v := ValidateHeaders([]string{"Name", "SKU", "Product SKU", "UPID", "Price"}, ProductHeaderSchema())

	assert.False(t, v.Valid)
	require.Len(t, v.Errors, 1)
	assert.Contains(t, v.Errors[0], "duplicate header: 'sku'")
}

func TestValidateHeaders_UnknownAndEmptyAreWarnings(t *testing.T) {
	v := ValidateHeaders([]string{"Name", "SKU", "UPID", "Price", "Warehouse Zone", ""}, ProductHeaderSchema())

	assert.True(t, v.Valid)
	assert.Empty(t, v.Errors)
	require.Len(t, v.Warnings, 2)
	assert.Contains(t, v.Warnings[0], "unknown header 'Warehouse Zone'")
	assert.Contains(t, v.Warnings[1], "empty header")
}
