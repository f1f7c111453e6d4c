// Package catalog holds the database's schema metadata: node and relationship
// table definitions, their properties, and per-table statistics. A single
// Manager instance is shared by the binder, planner, loader and
// executor for name resolution and cardinality estimates.
package catalog

import "fmt"

// LogicalType enumerates the property value types the data model supports.
type LogicalType uint8

const (
	TypeBool LogicalType = iota
	TypeInt16
	TypeInt32
	TypeInt64
	TypeFloat
	TypeDouble
	TypeDate
	TypeTimestamp
	TypeInterval
	TypeString
	TypeVarList
	TypeFixedList
	TypeStruct
	TypeInternalID
	TypeSerial
)

func (t LogicalType) String() string {
	switch t {
	case TypeBool:
		return "BOOL"
	case TypeInt16:
		return "INT16"
	case TypeInt32:
		return "INT32"
	case TypeInt64:
		return "INT64"
	case TypeFloat:
		return "FLOAT"
	case TypeDouble:
		return "DOUBLE"
	case TypeDate:
		return "DATE"
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeInterval:
		return "INTERVAL"
	case TypeString:
		return "STRING"
	case TypeVarList:
		return "VAR_LIST"
	case TypeFixedList:
		return "FIXED_LIST"
	case TypeStruct:
		return "STRUCT"
	case TypeInternalID:
		return "INTERNAL_ID"
	case TypeSerial:
		return "SERIAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// FixedWidth returns the on-disk element size for types with a constant
// width, and ok=false for variable-width types (STRING/VAR_LIST use the
// 16-byte descriptor from internal/pager, which this still reports since
// the descriptor itself is fixed-width).
func (t LogicalType) FixedWidth() (size int, ok bool) {
	switch t {
	case TypeBool:
		return 1, true
	case TypeInt16:
		return 2, true
	case TypeInt32, TypeFloat, TypeDate:
		return 4, true
	case TypeInt64, TypeDouble, TypeTimestamp, TypeInterval, TypeInternalID, TypeSerial:
		return 8, true
	case TypeString, TypeVarList:
		return 16, true // descriptor width, see internal/pager/columnfile.go
	default:
		return 0, false
	}
}

// Multiplicity constrains how many relationships of a rel table may touch
// one node on a given end (spec.md's ONE/MANY adjacency direction split).
type Multiplicity uint8

const (
	Many Multiplicity = iota
	One
)

func (m Multiplicity) String() string {
	if m == One {
		return "ONE"
	}
	return "MANY"
}

// Property is one column of a node or rel table.
type Property struct {
	Name       string
	Type       LogicalType
	PropertyID uint32
}

// NodeTableSchema describes one node table.
type NodeTableSchema struct {
	TableID        uint64
	Name           string
	Properties     []Property
	PrimaryKeyName string
	// Collation enables case-insensitive hashing/comparison for STRING
	// primary keys (spec.md §9's resolved primaryKeyCollation option).
	Collation bool
}

// PrimaryKeyProperty returns the schema's declared primary key property.
func (s *NodeTableSchema) PrimaryKeyProperty() (Property, bool) {
	for _, p := range s.Properties {
		if p.Name == s.PrimaryKeyName {
			return p, true
		}
	}
	return Property{}, false
}

// PropertyByName looks up a property by name.
func (s *NodeTableSchema) PropertyByName(name string) (Property, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// RelTableSchema describes one relationship table, connecting exactly one
// source and one destination node table (spec.md's single src/dst-table
// rel model; multi-label rels are out of scope).
type RelTableSchema struct {
	TableID      uint64
	Name         string
	Properties   []Property
	SrcTableID   uint64
	DstTableID   uint64
	Multiplicity struct {
		Fwd Multiplicity // src -> dst direction
		Bwd Multiplicity // dst -> src direction
	}
}

// PropertyByName looks up a property by name.
func (s *RelTableSchema) PropertyByName(name string) (Property, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}
