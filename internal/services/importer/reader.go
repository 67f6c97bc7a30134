package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyFile         = errors.New("file has no rows")
	ErrHeaderNotFound    = errors.New("header row not found")
	ErrUnreadableFile    = errors.New("file cannot be read")
	ErrInvalidRequest    = errors.New("invalid import request")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadRows returns the raw cell grid of a statement file. The format is
// chosen by extension.
func ReadRows(fileName string, data []byte) ([][]string, error) {
	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".csv", ".txt":
		rows, err = readCSV(data)
	case ".xlsx":
		rows, err = readXLSX(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}
	return rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		// Bank exports without a BOM are almost always Windows-1251.
		decoded, err := charmap.Windows1251.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding cp1251: %v", ErrUnreadableFile, err)
		}
		data = decoded
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: reading csv: %v", ErrUnreadableFile, err)
	}
	return dropEmptyTail(rows), nil
}

// sniffDelimiter picks the candidate separator that occurs most often in the
// first lines, ignoring quoted text.
func sniffDelimiter(data []byte) rune {
	candidates := []rune{',', ';', '\t'}
	counts := make(map[rune]int, len(candidates))

	lines := strings.SplitN(string(data), "\n", 11)
	if len(lines) > 10 {
		lines = lines[:10]
	}
	for _, line := range lines {
		inQuotes := false
		for _, ch := range line {
			if ch == '"' {
				inQuotes = !inQuotes
				continue
			}
			if inQuotes {
				continue
			}
			for _, c := range candidates {
				if ch == c {
					counts[c]++
				}
			}
		}
	}

	best := ','
	for _, c := range candidates {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

func readXLSX(data []byte) ([][]string, error) {
	xl, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: opening xlsx: %v", ErrUnreadableFile, err)
	}
	defer xl.Close()

	sheet := xl.GetSheetName(0)
	if sheet == "" {
		return nil, ErrEmptyFile
	}
	// Raw values keep amounts free of display formatting; date cells come
	// back as serial numbers and are handled by parseDate.
	rows, err := xl.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: reading sheet %q: %v", ErrUnreadableFile, sheet, err)
	}
	return dropEmptyTail(rows), nil
}

func dropEmptyTail(rows [][]string) [][]string {
	for len(rows) > 0 && isEmptyRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	return rows
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
