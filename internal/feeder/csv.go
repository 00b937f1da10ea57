package feeder

import (
	"encoding/csv"
	"fmt"
	"os"
)

// LoadCSVColumn reads one column of a CSV file. The first row is the header
// containing field names.
func LoadCSVColumn(path, column string) ([]any, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read CSV: %w", err)
	}

	if len(rows) < 2 {
		return nil, fmt.Errorf("CSV file must have at least one header row and one data row")
	}

	header := rows[0]
	col := -1
	for i, field := range header {
		if field == column {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("CSV file has no column %q", column)
	}

	values := make([]any, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, fmt.Errorf("row %d has %d fields, expected %d", i+2, len(row), len(header))
		}
		values = append(values, row[col])
	}
	return values, nil
}
