package types

import "strings"

type TypeID int

const (
	Invalid TypeID = iota
	Boolean
	Integer
	Float
	Varchar
	Bytes
)

func (t TypeID) String() string {
	switch t {
	case Boolean:
		return "BOOLEAN"
	case Integer:
		return "INTEGER"
	case Float:
		return "FLOAT"
	case Varchar:
		return "VARCHAR"
	case Bytes:
		return "BYTES"
	}
	return "INVALID"
}

func (t TypeID) IsNumeric() bool {
	return t == Integer || t == Float
}

// ParseTypeID accepts the type names used in schema declarations
func ParseTypeID(name string) TypeID {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "BOOL", "BOOLEAN":
		return Boolean
	case "INT", "INTEGER", "BIGINT":
		return Integer
	case "FLOAT", "DOUBLE", "NUMBER":
		return Float
	case "VARCHAR", "STRING", "TEXT":
		return Varchar
	case "BYTES", "BLOB", "BINARY":
		return Bytes
	}
	return Invalid
}
