package parser

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func utf16leBytes(t *testing.T, s string, withBOM bool) []byte {
	t.Helper()
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	out, err := enc.Bytes([]byte(s))
	require.NoError(t, err)
	if withBOM {
		out = append([]byte{0xFF, 0xFE}, out...)
	}
	return out
}

// ===========================================
// Format Detection Tests
// ===========================================

func TestFormatForFilename(t *testing.T) {
	format, err := FormatForFilename("products.csv")
	assert.NoError(t, err)
	assert.Equal(t, FormatCSV, format)

	format, err = FormatForFilename("Products.XLSX")
	assert.NoError(t, err)
	assert.Equal(t, FormatXLSX, format)

	_, err = FormatForFilename("products.pdf")
	assert.Error(t, err)
}

// ===========================================
// Encoding Detection Tests
// ===========================================

func TestDetectEncoding_BOMPrecedence(t *testing.T) {
	assert.Equal(t, EncodingUTF8, DetectEncoding([]byte{0xEF, 0xBB, 0xBF, 'a', 'b'}))
	assert.Equal(t, EncodingUTF16LE, DetectEncoding([]byte{0xFF, 0xFE, 'a', 0x00}))
	assert.Equal(t, EncodingUTF16BE, DetectEncoding([]byte{0xFE, 0xFF, 0x00, 'a'}))
}

func TestDetectEncoding_DefaultsToUTF8(t *testing.T) {
	// Plain ASCII carries no strong statistical signal, so the default
	// policy applies.
	assert.Equal(t, EncodingUTF8, DetectEncoding([]byte("name,sku\nShirt,TSH-001\n")))
}

func TestDecodeBytes_UTF16LE(t *testing.T) {
	raw := utf16leBytes(t, "name,sku\nShirt,TSH-001\n", true)

	decoded, err := DecodeBytes(raw, EncodingUTF16LE)
	assert.NoError(t, err)
	assert.Equal(t, "name,sku\nShirt,TSH-001\n", string(decoded))
}

func TestDecodeBytes_StripsUTF8BOM(t *testing.T) {
	decoded, err := DecodeBytes([]byte{0xEF, 0xBB, 0xBF, 'n', 'a', 'm', 'e'}, EncodingUTF8)
	assert.NoError(t, err)
	assert.Equal(t, "name", string(decoded))
}

// ===========================================
// Preflight Tests
// ===========================================

func TestParse_EmptyFileRejected(t *testing.T) {
	_, err := Parse(strings.NewReader(""), FormatCSV, Options{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestParse_OversizedFileRejected(t *testing.T) {
	_, err := Parse(strings.NewReader("name,sku\na,b\n"), FormatCSV, Options{MaxBytes: 4})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "maximum size")
}

// ===========================================
// CSV Parsing Tests
// ===========================================

func TestParseCSV_QuotedFields(t *testing.T) {
	input := "name,description,price\n" +
		"\"Shirt, Blue\",\"Line one\nLine two\",19.99\n" +
		"\"He said \"\"hi\"\"\",plain,5\n"

	result, err := Parse(strings.NewReader(input), FormatCSV, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "description", "price"}, result.Headers)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Rows, 2)

	assert.Equal(t, 2, result.Rows[0].Number)
	assert.Equal(t, "Shirt, Blue", result.Rows[0].Fields["name"])
	assert.Equal(t, "Line one\nLine two", result.Rows[0].Fields["description"])
	assert.Equal(t, `He said "hi"`, result.Rows[1].Fields["name"])
}

func TestParseCSV_FieldCountMismatchRecordedNotFatal(t *testing.T) {
	input := "name,sku\nShirt,TSH-001\nShort\nPants,PNT-001\n"

	result, err := Parse(strings.NewReader(input), FormatCSV, Options{})
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "FIELD_COUNT_MISMATCH", result.Errors[0].Code)
	assert.Equal(t, 3, result.Errors[0].Row)

	// All three data rows survive; the short one keeps its present fields
	require.Len(t, result.Rows, 3)
	assert.Equal(t, "Pants", result.Rows[2].Fields["name"])
}

func TestParseCSV_HeaderRequiredMarkerStripped(t *testing.T) {
	input := "name *,sku *,price\nShirt,TSH-001,10\n"

	result, err := Parse(strings.NewReader(input), FormatCSV, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "sku", "price"}, result.Headers)
}

func TestParseCSV_UTF16LEInput(t *testing.T) {
	raw := utf16leBytes(t, "name,sku\nTröja,TSH-001\n", true)

	result, err := Parse(bytes.NewReader(raw), FormatCSV, Options{})
	require.NoError(t, err)

	assert.Equal(t, EncodingUTF16LE, result.Encoding)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "Tröja", result.Rows[0].Fields["name"])
}

func TestGenerateCSV_RoundTrip(t *testing.T) {
	headers := []string{"name", "description", "price"}
	rows := [][]string{
		{"Shirt, Blue", "Line one\nLine two", "19.99"},
		{`He said "hi"`, "", "5"},
	}

	var buf bytes.Buffer
	require.NoError(t, GenerateCSV(&buf, headers, rows))

	result, err := Parse(&buf, FormatCSV, Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "Shirt, Blue", result.Rows[0].Fields["name"])
	assert.Equal(t, "Line one\nLine two", result.Rows[0].Fields["description"])
	assert.Equal(t, `He said "hi"`, result.Rows[1].Fields["name"])
}
