package rowstore

import (
	"fmt"
	"strings"
)

// FieldType is the type tag of a single row field.
type FieldType uint8

const (
	TypeInvalid FieldType = iota
	TypeBool
	TypeByte
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeDouble
	TypeString
)

var fieldTypeCodes = [...]string{
	TypeInvalid: "",
	TypeBool:    "b",
	TypeByte:    "y",
	TypeInt32:   "i",
	TypeUint32:  "u",
	TypeInt64:   "x",
	TypeUint64:  "t",
	TypeDouble:  "d",
	TypeString:  "s",
}

var fieldTypeNames = [...]string{
	TypeInvalid: "invalid",
	TypeBool:    "bool",
	TypeByte:    "byte",
	TypeInt32:   "int32",
	TypeUint32:  "uint32",
	TypeInt64:   "int64",
	TypeUint64:  "uint64",
	TypeDouble:  "double",
	TypeString:  "string",
}

// ParseFieldType maps a one-letter signature code (b, y, i, u, x, t, d, s)
// to its FieldType.
func ParseFieldType(code string) (FieldType, error) {
	for ft, c := range fieldTypeCodes {
		if c != "" && c == code {
			return FieldType(ft), nil
		}
	}
	return TypeInvalid, fmt.Errorf("unknown field type code %q", code)
}

func (ft FieldType) IsValid() bool {
	return ft > TypeInvalid && int(ft) < len(fieldTypeCodes)
}

// Code returns the signature code of the type, e.g. "s" for TypeString.
func (ft FieldType) Code() string {
	if !ft.IsValid() {
		return ""
	}
	return fieldTypeCodes[ft]
}

func (ft FieldType) String() string {
	if int(ft) >= len(fieldTypeNames) {
		return fmt.Sprintf("invalid type %d", int(ft))
	}
	return fieldTypeNames[ft]
}

// Schema is an ordered list of field types, optionally with column names.
// A Schema must not be changed after it has been passed to NewModel.
type Schema struct {
	fields    []FieldType
	names     []string
	nameIndex map[string]int
}

// NewSchema returns a schema with the given field types. It panics on an
// empty or invalid type list, which is a programming error.
func NewSchema(fields ...FieldType) *Schema {
	if len(fields) == 0 {
		panic("schema must have at least one field")
	}
	for i, ft := range fields {
		if !ft.IsValid() {
			panic(fmt.Errorf("schema field %d has invalid type %v", i, ft))
		}
	}
	return &Schema{fields: append([]FieldType(nil), fields...)}
}

// ParseSchema builds a schema from signature codes, e.g. ParseSchema("i", "s").
func ParseSchema(codes ...string) (*Schema, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("empty schema")
	}
	fields := make([]FieldType, len(codes))
	for i, code := range codes {
		ft, err := ParseFieldType(code)
		if err != nil {
			return nil, fmt.Errorf("schema field %d: %w", i, err)
		}
		fields[i] = ft
	}
	return &Schema{fields: fields}, nil
}

func MustParseSchema(codes ...string) *Schema {
	return must(ParseSchema(codes...))
}

// WithColumnNames assigns column names. The number of names must match the
// number of fields and names must be unique.
func (scm *Schema) WithColumnNames(names ...string) *Schema {
	if len(names) != len(scm.fields) {
		panic(fmt.Errorf("got %d column names for %d fields", len(names), len(scm.fields)))
	}
	idx := make(map[string]int, len(names))
	for i, name := range names {
		if _, dup := idx[name]; dup {
			panic(fmt.Errorf("duplicate column name %q", name))
		}
		idx[name] = i
	}
	scm.names = append([]string(nil), names...)
	scm.nameIndex = idx
	return scm
}

func (scm *Schema) Len() int {
	return len(scm.fields)
}

// Field returns the type of the field at pos, or TypeInvalid if pos is out of
// range.
func (scm *Schema) Field(pos int) FieldType {
	if pos < 0 || pos >= len(scm.fields) {
		return TypeInvalid
	}
	return scm.fields[pos]
}

func (scm *Schema) Fields() []FieldType {
	return append([]FieldType(nil), scm.fields...)
}

func (scm *Schema) HasColumnNames() bool {
	return scm.names != nil
}

func (scm *Schema) ColumnNames() []string {
	return append([]string(nil), scm.names...)
}

// ColumnName returns the name of column pos, or its decimal position when the
// schema has no column names.
func (scm *Schema) ColumnName(pos int) string {
	if pos >= 0 && pos < len(scm.names) {
		return scm.names[pos]
	}
	return fmt.Sprint(pos)
}

func (scm *Schema) ColumnIndex(name string) (int, bool) {
	pos, ok := scm.nameIndex[name]
	return pos, ok
}

// Signature returns the signature codes of all fields.
func (scm *Schema) Signature() []string {
	sig := make([]string, len(scm.fields))
	for i, ft := range scm.fields {
		sig[i] = ft.Code()
	}
	return sig
}

func (scm *Schema) String() string {
	var buf strings.Builder
	buf.WriteByte('(')
	for i, ft := range scm.fields {
		if i > 0 {
			buf.WriteString(", ")
		}
		if scm.names != nil {
			buf.WriteString(scm.names[i])
			buf.WriteByte(' ')
		}
		buf.WriteString(ft.Code())
	}
	buf.WriteByte(')')
	return buf.String()
}
