package feeder

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// LoadJSONField reads field from every object of a JSON array file. Field is
// a gjson path, so nested values such as "user.id" are supported.
func LoadJSONField(path, field string) ([]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open JSON file: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("decode JSON: invalid document in %s", path)
	}

	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("JSON file must contain an array of objects")
	}
	records := root.Array()
	if len(records) == 0 {
		return nil, fmt.Errorf("JSON file contains empty array")
	}

	values := make([]any, 0, len(records))
	for i, record := range records {
		v := record.Get(field)
		if !v.Exists() {
			return nil, fmt.Errorf("record %d has no field %q", i, field)
		}
		values = append(values, v.Value())
	}
	return values, nil
}
