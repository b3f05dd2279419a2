package parser

import (
	"bytes"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/unicode"
)

// Encoding names returned by DetectEncoding
const (
	EncodingUTF8    = "UTF-8"
	EncodingUTF16LE = "UTF-16LE"
	EncodingUTF16BE = "UTF-16BE"
)

// detectSampleSize bounds the statistical detection sample
const detectSampleSize = 10 * 1024

// minDetectConfidence is the floor below which statistical detection is
// ignored and the default policy applies
const minDetectConfidence = 50

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// DetectEncoding inspects raw bytes and returns the detected character
// encoding name. Byte-order marks take precedence; otherwise a statistical
// pass runs over the first 10 KB and its result is accepted only above the
// confidence floor. DefaultEncodingPolicy: anything uncertain is UTF-8.
func DetectEncoding(data []byte) string {
	if bytes.HasPrefix(data, bomUTF8) {
		return EncodingUTF8
	}
	if bytes.HasPrefix(data, bomUTF16LE) {
		return EncodingUTF16LE
	}
	if bytes.HasPrefix(data, bomUTF16BE) {
		return EncodingUTF16BE
	}

	sample := data
	if len(sample) > detectSampleSize {
		sample = sample[:detectSampleSize]
	}

	result, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil || result == nil || result.Confidence < minDetectConfidence {
		return EncodingUTF8
	}

	switch result.Charset {
	case "UTF-16LE":
		return EncodingUTF16LE
	case "UTF-16BE":
		return EncodingUTF16BE
	case "UTF-8", "ISO-8859-1", "windows-1252":
		// Latin-1 family content decodes acceptably as UTF-8 for the header
		// and identifier columns this pipeline cares about; anything else
		// falls back to UTF-8 as well.
		return EncodingUTF8
	default:
		return EncodingUTF8
	}
}

// DecodeBytes strips any BOM and decodes data into a UTF-8 string according
// to the given encoding name.
func DecodeBytes(data []byte, encoding string) ([]byte, error) {
	switch encoding {
	case EncodingUTF16LE:
		data = bytes.TrimPrefix(data, bomUTF16LE)
		dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
		return dec.Bytes(data)
	case EncodingUTF16BE:
		data = bytes.TrimPrefix(data, bomUTF16BE)
		dec := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
		return dec.Bytes(data)
	default:
		return bytes.TrimPrefix(data, bomUTF8), nil
	}
}
