package types

import (
	"regexp"

	"github.com/EdgeKing810/kinesis-db/pkg/dberrors"
)

// FieldType is the declared type of a schema field.
type FieldType int

const (
	TypeString FieldType = iota
	TypeInteger
	TypeFloat
	TypeBoolean
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "String"
	case TypeInteger:
		return "Integer"
	case TypeFloat:
		return "Float"
	case TypeBoolean:
		return "Boolean"
	default:
		return "Unknown"
	}
}

// FieldConstraint describes the validation rules for a single schema field.
type FieldConstraint struct {
	Type     FieldType
	Required bool
	Min      *float64
	Max      *float64
	Pattern  *string
	Unique   bool
	Default  *Value
}

// Validate checks v against the constraint, assuming the field is present.
// Required/default handling is the caller's job (TableSchema.ValidateRecord).
func (c FieldConstraint) Validate(field string, v Value) error {
	if !c.Type.MatchesType(v) {
		return &dberrors.SchemaViolationError{
			Field:  field,
			Reason: "type mismatch: expected " + c.Type.String() + ", got " + v.Kind.String(),
		}
	}

	switch c.Type {
	case TypeString:
		n := float64(len(v.Str))
		if c.Min != nil && n < *c.Min {
			return &dberrors.SchemaViolationError{Field: field, Reason: "string length below minimum"}
		}
		if c.Max != nil && n > *c.Max {
			return &dberrors.SchemaViolationError{Field: field, Reason: "string length exceeds maximum"}
		}
		if c.Pattern != nil {
			re, err := regexp.Compile(*c.Pattern)
			if err != nil {
				return &dberrors.SchemaViolationError{Field: field, Reason: "invalid regex pattern: " + err.Error()}
			}
			if !re.MatchString(v.Str) {
				return &dberrors.SchemaViolationError{Field: field, Reason: "string does not match pattern " + *c.Pattern}
			}
		}
	case TypeInteger, TypeFloat:
		n := v.AsFloat()
		if c.Min != nil && n < *c.Min {
			return &dberrors.SchemaViolationError{Field: field, Reason: "value below minimum"}
		}
		if c.Max != nil && n > *c.Max {
			return &dberrors.SchemaViolationError{Field: field, Reason: "value exceeds maximum"}
		}
	case TypeBoolean:
		// no extra checks
	}
	return nil
}

// TableSchema is the named, versioned set of field constraints for a table.
type TableSchema struct {
	Name    string
	Fields  map[string]FieldConstraint
	Version uint32
}

// ApplyDefaults returns a copy of fields with any missing, defaulted field
// filled in. It does not mutate the input map.
func (s TableSchema) ApplyDefaults(fields map[string]Value) map[string]Value {
	out := make(map[string]Value, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	for name, c := range s.Fields {
		if _, ok := out[name]; !ok && c.Default != nil {
			out[name] = *c.Default
		}
	}
	return out
}

// ValidateRecord checks fields against the schema: no unknown fields (a
// schema that declares no fields accepts any), all required fields
// present (or defaulted), and each present field valid.
func (s TableSchema) ValidateRecord(table string, fields map[string]Value) error {
	if len(s.Fields) > 0 {
		for name := range fields {
			if _, ok := s.Fields[name]; !ok {
				return &dberrors.SchemaViolationError{Table: table, Field: name, Reason: "field is not defined in the schema"}
			}
		}
	}

	for name, c := range s.Fields {
		v, present := fields[name]
		if !present {
			if c.Required && c.Default == nil {
				return &dberrors.SchemaViolationError{Table: table, Field: name, Reason: "required field is missing"}
			}
			continue
		}
		if err := c.Validate(name, v); err != nil {
			if sv, ok := err.(*dberrors.SchemaViolationError); ok {
				sv.Table = table
			}
			return err
		}
	}
	return nil
}

// CanMigrateFrom reports whether s is a valid migration target from old:
// strictly newer version, no field type changes, no newly-required field
// without a default, and no field newly marked unique (migration never
// re-derives a safe uniqueness guarantee, so it is always rejected).
func (s TableSchema) CanMigrateFrom(old TableSchema) error {
	if s.Version <= old.Version {
		return &dberrors.SchemaViolationError{Table: s.Name, Reason: "new schema version must be greater than the current version"}
	}

	for name, newC := range s.Fields {
		oldC, existed := old.Fields[name]
		if !existed {
			if newC.Required && newC.Default == nil {
				return &dberrors.SchemaViolationError{Table: s.Name, Field: name, Reason: "new required field must have a default value"}
			}
			continue
		}
		if oldC.Type != newC.Type {
			return &dberrors.SchemaViolationError{Table: s.Name, Field: name, Reason: "cannot change type of existing field"}
		}
		if !oldC.Required && newC.Required && newC.Default == nil {
			return &dberrors.SchemaViolationError{Table: s.Name, Field: name, Reason: "cannot make field required without a default value"}
		}
		if !oldC.Unique && newC.Unique {
			return &dberrors.SchemaViolationError{Table: s.Name, Field: name, Reason: "cannot add a unique constraint to an existing field without validation"}
		}
	}
	return nil
}

// MigrateFields drops fields no longer in the schema, fills new fields
// from defaults (erroring on a new required field with no default and no
// existing value), and returns the migrated field map. It does not check
// uniqueness; the caller re-validates that across the whole table.
func (s TableSchema) MigrateFields(table string, fields map[string]Value) (map[string]Value, error) {
	out := make(map[string]Value, len(s.Fields))
	for name := range s.Fields {
		if v, ok := fields[name]; ok {
			out[name] = v
		}
	}
	for name, c := range s.Fields {
		if _, ok := out[name]; ok {
			continue
		}
		if c.Default != nil {
			out[name] = *c.Default
		} else if c.Required {
			return nil, &dberrors.SchemaViolationError{Table: table, Field: name, Reason: "missing required field with no default value"}
		}
	}
	if err := s.ValidateRecord(table, out); err != nil {
		return nil, err
	}
	return out, nil
}
