package parser

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"
)

// parseCSV decodes the byte buffer and reads it as RFC 4180 CSV. Quoted
// fields may contain delimiters, embedded newlines and doubled quotes. A
// field-count mismatch or a quoting error is recorded against its row and
// parsing continues with the next row.
func parseCSV(data []byte) (*Result, error) {
	encoding := DetectEncoding(data)
	decoded, err := DecodeBytes(data, encoding)
	if err != nil {
		// Encoding failures degrade to the UTF-8 default rather than
		// aborting the parse.
		decoded = bytes.TrimPrefix(data, bomUTF8)
		encoding = EncodingUTF8
	}

	result := &Result{
		Format:   FormatCSV,
		Encoding: encoding,
		Errors:   make([]RowError, 0),
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1 // field-count checks are ours, per row

	headers, err := reader.Read()
	if err != nil {
		result.Errors = append(result.Errors, RowError{
			Row:     1,
			Code:    "HEADER_UNREADABLE",
			Message: "failed to read CSV header row: " + err.Error(),
		})
		return result, nil
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
		headers[i] = strings.TrimSuffix(headers[i], " *")
	}
	result.Headers = headers

	rowNum := 1 // header occupies row 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			result.Errors = append(result.Errors, RowError{
				Row:     rowNum,
				Code:    "MALFORMED_ROW",
				Message: err.Error(),
			})
			continue
		}

		if len(record) != len(headers) {
			result.Errors = append(result.Errors, RowError{
				Row:     rowNum,
				Code:    "FIELD_COUNT_MISMATCH",
				Message: "row has a different number of fields than the header",
			})
		}

		fields := make(map[string]string, len(headers))
		for i, value := range record {
			if i < len(headers) {
				fields[headers[i]] = strings.TrimSpace(value)
			}
		}
		result.Rows = append(result.Rows, Row{Number: rowNum, Fields: fields})
	}

	return result, nil
}

// GenerateCSV writes headers plus rows as RFC 4180 CSV. Used for template
// and failed-row downloads, and as the reference encoder in round-trip
// tests.
func GenerateCSV(w io.Writer, headers []string, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(headers); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
