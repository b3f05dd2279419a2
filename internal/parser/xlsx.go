package parser

import (
	"bytes"
	"strings"

	"github.com/xuri/excelize/v2"
)

// preferredSheet is checked first under DefaultSheetPolicy
const preferredSheet = "Products"

// parseXLSX reads a single worksheet into row field-maps using the first
// row as headers. DefaultSheetPolicy: use the sheet named "Products" when
// present, otherwise the first sheet. Fully blank rows are skipped and all
// cell values are rendered as strings.
func parseXLSX(data []byte, sheet string) (*Result, error) {
	result := &Result{
		Format:   FormatXLSX,
		Encoding: EncodingUTF8,
		Errors:   make([]RowError, 0),
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		result.Errors = append(result.Errors, RowError{
			Row:     0,
			Code:    "WORKBOOK_UNREADABLE",
			Message: "failed to open workbook: " + err.Error(),
		})
		return result, nil
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		result.Errors = append(result.Errors, RowError{
			Row:     0,
			Code:    "NO_WORKSHEET",
			Message: "workbook contains no worksheets",
		})
		return result, nil
	}

	sheetName := sheet
	if sheetName == "" {
		sheetName = sheets[0]
		for _, name := range sheets {
			if strings.EqualFold(name, preferredSheet) {
				sheetName = name
				break
			}
		}
	}

	excelRows, err := f.GetRows(sheetName)
	if err != nil {
		result.Errors = append(result.Errors, RowError{
			Row:     0,
			Code:    "NO_WORKSHEET",
			Message: "failed to read sheet '" + sheetName + "': " + err.Error(),
		})
		return result, nil
	}
	if len(excelRows) == 0 {
		result.Errors = append(result.Errors, RowError{
			Row:     0,
			Code:    "EMPTY_SHEET",
			Message: "sheet '" + sheetName + "' contains no rows",
		})
		return result, nil
	}

	headers := excelRows[0]
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
		headers[i] = strings.TrimSuffix(headers[i], " *")
	}
	result.Headers = headers

	for idx, excelRow := range excelRows[1:] {
		rowNum := idx + 2 // 1-indexed, header is row 1

		blank := true
		for _, v := range excelRow {
			if strings.TrimSpace(v) != "" {
				blank = false
				break
			}
		}
		if blank {
			continue
		}

		if len(excelRow) > len(headers) {
			result.Errors = append(result.Errors, RowError{
				Row:     rowNum,
				Code:    "FIELD_COUNT_MISMATCH",
				Message: "row has more cells than the header",
			})
		}

		fields := make(map[string]string, len(headers))
		for i, value := range excelRow {
			if i < len(headers) {
				fields[headers[i]] = strings.TrimSpace(value)
			}
		}
		result.Rows = append(result.Rows, Row{Number: rowNum, Fields: fields})
	}

	return result, nil
}
