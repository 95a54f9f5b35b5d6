package excel

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ImportConfig defines where item ids are read from
type ImportConfig struct {
	FilePath  string // Path to the Excel or CSV file
	Column    string // Column with the item id
	SheetName string // Sheet to read; empty means the first sheet
	StartRow  int    // The row to start importing from (1-based index)
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig(path string) ImportConfig {
	return ImportConfig{
		FilePath: path,
		Column:   "A",
		StartRow: 2, // By default, start from the second row (skip header)
	}
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	Items          []string // Item ids in file order, without blanks and duplicates
	TotalProcessed int
	Skipped        int
	Duplicates     int
}

// LoadCatalog reads item ids from the first column of an .xlsx sheet or a
// .csv file, skipping the header row
func LoadCatalog(path string) ([]string, error) {
	result, err := ImportItems(DefaultImportConfig(path))
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}

// ImportItems imports item ids from an Excel or CSV file
func ImportItems(config ImportConfig) (*ImportResult, error) {
	if config.StartRow < 1 {
		config.StartRow = 1
	}
	if config.Column == "" {
		config.Column = "A"
	}
	if _, err := excelize.ColumnNameToNumber(config.Column); err != nil {
		return nil, fmt.Errorf("invalid column %q: %w", config.Column, err)
	}

	// Check the file extension
	ext := strings.ToLower(filepath.Ext(config.FilePath))
	if ext == ".csv" {
		return importFromCSV(config)
	}
	return importFromExcel(config)
}

// importFromExcel imports item ids from an Excel file
func importFromExcel(config ImportConfig) (*ImportResult, error) {
	f, err := excelize.OpenFile(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := config.SheetName
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}

	result := newResult()
	col := columnToIndex(config.Column)
	for i, row := range rows {
		// Skip header rows
		if i < config.StartRow-1 {
			continue
		}
		var cell string
		if col < len(row) {
			cell = row[col]
		}
		result.add(cell)
	}

	return result.ImportResult, nil
}

// importFromCSV imports item ids from a CSV file
func importFromCSV(config ImportConfig) (*ImportResult, error) {
	file, err := os.Open(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.LazyQuotes = true

	result := newResult()
	col := columnToIndex(config.Column)
	rowNum := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV: %w", err)
		}

		rowNum++
		if rowNum < config.StartRow {
			continue
		}
		var cell string
		if col < len(row) {
			cell = row[col]
		}
		result.add(cell)
	}

	return result.ImportResult, nil
}

type collector struct {
	*ImportResult
	seen map[string]bool
}

func newResult() *collector {
	return &collector{ImportResult: &ImportResult{}, seen: make(map[string]bool)}
}

func (c *collector) add(cell string) {
	c.TotalProcessed++
	item := cleanItem(cell)
	switch {
	case item == "":
		c.Skipped++
	case c.seen[item]:
		c.Duplicates++
	default:
		c.seen[item] = true
		c.Items = append(c.Items, item)
	}
}

// cleanItem удаляет из слова дополнительную информацию в скобках: "go (went, gone)" -> "go"
func cleanItem(item string) string {
	item = strings.Trim(strings.TrimSpace(item), "\"")
	if idx := strings.Index(item, "("); idx > 0 {
		return strings.TrimSpace(item[:idx])
	}
	return strings.TrimSpace(item)
}

// columnToIndex converts an already validated column letter to a zero-based index
func columnToIndex(column string) int {
	n, _ := excelize.ColumnNameToNumber(column)
	return n - 1
}
