package schema

import (
	"encoding/json"
	"fmt"
	"os"

	"cloud.google.com/go/bigquery"
)

// Column is one field of a declarative table description. RECORD
// columns nest their fields recursively.
type Column struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Mode   string   `json:"mode"`
	Fields []Column `json:"fields,omitempty"`
}

// Table pairs a table id with its column schema, as read from the
// external schema file.
type Table struct {
	ID     string   `json:"id"`
	Schema []Column `json:"schema"`
}

// LoadFile reads the declarative table descriptions used to bootstrap
// absent warehouse tables.
func LoadFile(path string) ([]Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	var tables []Table
	if err := json.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}
	return tables, nil
}

// Build converts a column description into a bigquery.Schema,
// descending into RECORD fields.
func Build(columns []Column) bigquery.Schema {
	built := make(bigquery.Schema, 0, len(columns))
	for _, column := range columns {
		field := &bigquery.FieldSchema{
			Name:     column.Name,
			Type:     bigquery.FieldType(column.Type),
			Required: column.Mode == "REQUIRED",
			Repeated: column.Mode == "REPEATED",
		}
		if field.Type == bigquery.RecordFieldType {
			field.Schema = Build(column.Fields)
		}
		built = append(built, field)
	}
	return built
}
