package binder

// reservedPropertyNames are column names a CSV header may carry that refer
// to implicit, non-property fields (the internal node id, and a rel
// table's from/to endpoint columns) rather than a declared catalog
// property. spec.md §4.11: "A reserved property name... in a CSV header
// is silently skipped."
var reservedPropertyNames = map[string]bool{
	"_id":   true,
	"_from": true,
	"_to":   true,
}

// IsReservedPropertyName reports whether name refers to an implicit field
// rather than a declared property.
func IsReservedPropertyName(name string) bool {
	return reservedPropertyNames[name]
}
