package types

import (
	"testing"

	"github.com/EdgeKing810/kinesis-db/pkg/dberrors"
)

func ageSchema() TableSchema {
	min := 0.0
	max := 150.0
	return TableSchema{
		Name: "people",
		Fields: map[string]FieldConstraint{
			"name": {Type: TypeString, Required: true},
			"age":  {Type: TypeInteger, Required: true, Min: &min, Max: &max},
		},
		Version: 1,
	}
}

func TestValidateRecordRejectsUnknownField(t *testing.T) {
	s := ageSchema()
	err := s.ValidateRecord("people", map[string]Value{
		"name":    NewString("ana"),
		"age":     NewInt(30),
		"surname": NewString("extra"),
	})
	if err == nil {
		t.Fatal("expected an error for an unknown field")
	}
	sv, ok := err.(*dberrors.SchemaViolationError)
	if !ok {
		t.Fatalf("expected *SchemaViolationError, got %T", err)
	}
	if sv.Field != "surname" {
		t.Fatalf("expected the unknown field to be named, got %+v", sv)
	}
}

func TestValidateRecordRejectsMissingRequired(t *testing.T) {
	s := ageSchema()
	if err := s.ValidateRecord("people", map[string]Value{"name": NewString("ana")}); err == nil {
		t.Fatal("expected an error for a missing required field")
	}
}

func TestValidateRecordRejectsOutOfRange(t *testing.T) {
	s := ageSchema()
	err := s.ValidateRecord("people", map[string]Value{"name": NewString("ana"), "age": NewInt(200)})
	if err == nil {
		t.Fatal("expected an error for an out-of-range value")
	}
}

func TestValidateRecordAppliesDefaults(t *testing.T) {
	def := NewInt(18)
	s := TableSchema{
		Name: "people",
		Fields: map[string]FieldConstraint{
			"name": {Type: TypeString, Required: true},
			"age":  {Type: TypeInteger, Required: true, Default: &def},
		},
		Version: 1,
	}
	filled := s.ApplyDefaults(map[string]Value{"name": NewString("ana")})
	if err := s.ValidateRecord("people", filled); err != nil {
		t.Fatalf("expected defaulted record to validate, got %v", err)
	}
	if filled["age"].Int != 18 {
		t.Fatalf("expected default age 18, got %+v", filled["age"])
	}
}

func TestCanMigrateFromRejectsSameVersion(t *testing.T) {
	old := ageSchema()
	newer := old
	newer.Version = old.Version
	if err := newer.CanMigrateFrom(old); err == nil {
		t.Fatal("expected a same/lower version migration to be rejected")
	}
}

func TestCanMigrateFromRejectsTypeChange(t *testing.T) {
	old := ageSchema()
	newer := ageSchema()
	newer.Version = 2
	c := newer.Fields["age"]
	c.Type = TypeFloat
	newer.Fields["age"] = c
	if err := newer.CanMigrateFrom(old); err == nil {
		t.Fatal("expected a field type change to be rejected")
	}
}

func TestCanMigrateFromRejectsNewRequiredWithoutDefault(t *testing.T) {
	old := ageSchema()
	newer := ageSchema()
	newer.Version = 2
	newer.Fields["email"] = FieldConstraint{Type: TypeString, Required: true}
	if err := newer.CanMigrateFrom(old); err == nil {
		t.Fatal("expected a new required field with no default to be rejected")
	}
}

func TestCanMigrateFromAllowsNewOptionalField(t *testing.T) {
	old := ageSchema()
	newer := ageSchema()
	newer.Version = 2
	newer.Fields["email"] = FieldConstraint{Type: TypeString, Required: false}
	if err := newer.CanMigrateFrom(old); err != nil {
		t.Fatalf("expected a new optional field to migrate cleanly, got %v", err)
	}
}

func TestMigrateFieldsDropsRemovedFieldsAndFillsDefaults(t *testing.T) {
	def := NewString("unknown@example.com")
	old := ageSchema()
	newer := TableSchema{
		Name: "people",
		Fields: map[string]FieldConstraint{
			"name":  {Type: TypeString, Required: true},
			"email": {Type: TypeString, Required: true, Default: &def},
		},
		Version: 2,
	}
	if err := newer.CanMigrateFrom(old); err != nil {
		t.Fatalf("expected migration to be valid, got %v", err)
	}

	migrated, err := newer.MigrateFields("people", map[string]Value{
		"name": NewString("ana"),
		"age":  NewInt(30),
	})
	if err != nil {
		t.Fatalf("MigrateFields: %v", err)
	}
	if _, ok := migrated["age"]; ok {
		t.Fatal("expected the dropped age field to be absent after migration")
	}
	if migrated["email"].Str != "unknown@example.com" {
		t.Fatalf("expected the new field to be filled from its default, got %+v", migrated["email"])
	}
}

func TestFieldConstraintPatternValidation(t *testing.T) {
	pattern := "^[a-z]+$"
	c := FieldConstraint{Type: TypeString, Pattern: &pattern}
	if err := c.Validate("code", NewString("abc")); err != nil {
		t.Fatalf("expected a matching string to pass, got %v", err)
	}
	if err := c.Validate("code", NewString("ABC")); err == nil {
		t.Fatal("expected a non-matching string to fail pattern validation")
	}
}
