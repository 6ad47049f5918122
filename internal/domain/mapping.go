package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// FieldType enumerates the value types a mapped column can coerce to.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldInt      FieldType = "int"
	FieldFloat    FieldType = "float"
	FieldDecimal  FieldType = "decimal"
	FieldDate     FieldType = "date"
	FieldDatetime FieldType = "datetime"
	FieldBoolean  FieldType = "boolean"
	FieldFK       FieldType = "fk"
)

var fieldTypes = map[FieldType]bool{
	FieldString: true, FieldInt: true, FieldFloat: true, FieldDecimal: true,
	FieldDate: true, FieldDatetime: true, FieldBoolean: true, FieldFK: true,
}

// FKOnMissing selects the behavior when a foreign-key lookup finds no row.
type FKOnMissing string

const (
	FKCreate FKOnMissing = "create" // insert a placeholder row, use its id
	FKIgnore FKOnMissing = "ignore" // store NULL
	FKError  FKOnMissing = "error"  // reject the row
)

// ForeignKey configures lookup-based resolution for a type=fk column.
type ForeignKey struct {
	Table        string      `json:"table"`
	LookupColumn string      `json:"lookup_column"`
	OnMissing    FKOnMissing `json:"on_missing"`
}

// Validator names an extra per-value check applied after coercion.
type Validator string

const (
	ValidatePlate    Validator = "plate"    // Brazilian plate, Mercosul or pre-2018 format
	ValidateYear     Validator = "year"     // 1900 .. current year + 1
	ValidatePositive Validator = "positive" // numeric value strictly > 0
)

var validators = map[Validator]bool{
	ValidatePlate: true, ValidateYear: true, ValidatePositive: true,
}

// ColumnMapping binds one spreadsheet column to one database column.
type ColumnMapping struct {
	SourceColumn string      `json:"source_column"`
	DBColumn     string      `json:"db_column"`
	Type         FieldType   `json:"type"`
	Required     bool        `json:"required"`
	Unique       bool        `json:"unique"`
	Validate     Validator   `json:"validate,omitempty"`
	FK           *ForeignKey `json:"fk,omitempty"`
}

// UnmarshalJSON accepts "sheet_column" as a legacy alias of
// "source_column"; older saved templates use the former.
func (c *ColumnMapping) UnmarshalJSON(data []byte) error {
	type alias ColumnMapping
	aux := struct {
		*alias
		SheetColumn string `json:"sheet_column"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if c.SourceColumn == "" {
		c.SourceColumn = aux.SheetColumn
	}
	return nil
}

// MappingConfig describes how a spreadsheet materializes into a table.
// Additive presentation fields sometimes present on saved templates
// (entity_display_name, description, icon) are accepted and ignored.
type MappingConfig struct {
	TargetTable string          `json:"target_table"`
	CreateTable bool            `json:"create_table"`
	Columns     []ColumnMapping `json:"columns"`
}

var identRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdentifier reports whether name is a safe SQL identifier. Used for
// every table and column name that reaches dynamic DDL or DML.
func ValidIdentifier(name string) bool {
	return identRegex.MatchString(name)
}

// Validate checks the mapping for structural errors. It rejects unsafe
// identifiers, unknown types and validators, duplicate db_columns, and fk
// blocks inconsistent with the declared type.
func (m *MappingConfig) Validate() error {
	if m.TargetTable == "" {
		return fmt.Errorf("mapping: target_table is required")
	}
	table := m.TargetTable
	if schema, rest, ok := strings.Cut(table, "."); ok {
		if schema != "public" {
			return fmt.Errorf("mapping: schema %q not allowed", schema)
		}
		table = rest
	}
	if !ValidIdentifier(table) {
		return fmt.Errorf("mapping: invalid target_table %q", m.TargetTable)
	}
	if len(m.Columns) == 0 {
		return fmt.Errorf("mapping: at least one column is required")
	}
	seen := make(map[string]bool, len(m.Columns))
	for i := range m.Columns {
		c := &m.Columns[i]
		if c.SourceColumn == "" {
			return fmt.Errorf("mapping: column %d missing source_column", i)
		}
		if !ValidIdentifier(c.DBColumn) {
			return fmt.Errorf("mapping: invalid db_column %q", c.DBColumn)
		}
		if seen[c.DBColumn] {
			return fmt.Errorf("mapping: duplicate db_column %q", c.DBColumn)
		}
		seen[c.DBColumn] = true
		if !fieldTypes[c.Type] {
			return fmt.Errorf("mapping: column %q has unknown type %q", c.DBColumn, c.Type)
		}
		if c.Validate != "" && !validators[c.Validate] {
			return fmt.Errorf("mapping: column %q has unknown validator %q", c.DBColumn, c.Validate)
		}
		if c.Type == FieldFK {
			if c.FK == nil {
				return fmt.Errorf("mapping: column %q is type fk but has no fk block", c.DBColumn)
			}
			if !ValidIdentifier(c.FK.Table) || !ValidIdentifier(c.FK.LookupColumn) {
				return fmt.Errorf("mapping: column %q has unsafe fk identifiers", c.DBColumn)
			}
			switch c.FK.OnMissing {
			case FKCreate, FKIgnore, FKError:
			default:
				return fmt.Errorf("mapping: column %q has unknown on_missing %q", c.DBColumn, c.FK.OnMissing)
			}
		} else if c.FK != nil {
			return fmt.Errorf("mapping: column %q has fk block but type %q", c.DBColumn, c.Type)
		}
	}
	return nil
}

// TableName returns the target table without any schema qualifier.
func (m *MappingConfig) TableName() string {
	if _, rest, ok := strings.Cut(m.TargetTable, "."); ok {
		return rest
	}
	return m.TargetTable
}

// RequiredColumns lists the source column headers the file must contain.
func (m *MappingConfig) RequiredColumns() []string {
	var out []string
	for _, c := range m.Columns {
		if c.Required || c.Unique {
			out = append(out, c.SourceColumn)
		}
	}
	return out
}

// UniqueColumns lists the column mappings used for duplicate detection.
func (m *MappingConfig) UniqueColumns() []ColumnMapping {
	var out []ColumnMapping
	for _, c := range m.Columns {
		if c.Unique {
			out = append(out, c)
		}
	}
	return out
}
