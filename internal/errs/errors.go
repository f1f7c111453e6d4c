// Package errs defines the error-kind taxonomy shared by every other
// package: parser, binder, catalog, bulk loader, transaction manager, and
// storage layer each report failures through one of these typed wrappers
// so a caller can classify an error without string-matching its message.
package errs

import "github.com/pkg/errors"

// Kind classifies an error into the taxonomy a caller can switch on.
type Kind uint8

const (
	KindParse Kind = iota
	KindBinder
	KindCatalog
	KindCopy
	KindTransaction
	KindStorageIO
	KindCorruption
	KindBufferPoolExhausted
	KindPlan
	KindExecution
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "ParseError"
	case KindBinder:
		return "BinderError"
	case KindCatalog:
		return "CatalogError"
	case KindCopy:
		return "CopyError"
	case KindTransaction:
		return "TransactionError"
	case KindStorageIO:
		return "StorageIOError"
	case KindCorruption:
		return "Corruption"
	case KindBufferPoolExhausted:
		return "BufferPoolExhausted"
	case KindPlan:
		return "PlanError"
	case KindExecution:
		return "ExecutionError"
	default:
		return "UnknownError"
	}
}

// Error is a typed, kind-tagged error. Position is set by the parser/binder
// for hooks that must preserve the offending token's line/column.
type Error struct {
	Kind   Kind
	Line   int
	Column int
	cause  error
}

func (e *Error) Error() string {
	if e.Line > 0 || e.Column > 0 {
		return e.Kind.String() + ": " + e.cause.Error()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a Kind error from a format string, matching errors.Errorf's
// call shape so call sites read the same as a plain errors.Errorf.
func New(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, cause: errors.Errorf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving its cause chain.
func Wrap(k Kind, err error, msg string) *Error {
	return &Error{Kind: k, cause: errors.Wrap(err, msg)}
}

// At attaches a source position (1-based line/column) to e, for the
// parser/binder notifier hooks that must preserve the offending token's
// location (testable property 10).
func (e *Error) At(line, col int) *Error {
	e.Line, e.Column = line, col
	return e
}

// Is reports whether err carries Kind k, unwrapping through wrapped causes.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// Named copy-error constructors (spec.md §7's CopyError sub-cases). Each
// wraps a descriptive message under KindCopy so callers can still use Is
// for coarse dispatch while messages stay specific for logging.

func DuplicatePrimaryKey(key interface{}) *Error {
	return New(KindCopy, "duplicate primary key: %v", key)
}

func DanglingRelEndpoint(tableName string, key interface{}) *Error {
	return New(KindCopy, "dangling rel endpoint in table %q: %v", tableName, key)
}

func MultiplicityViolation(tableName string, offset uint64, direction string) *Error {
	return New(KindCopy, "multiplicity violation on table %q offset %d direction %s", tableName, offset, direction)
}

func UnsupportedPkForNpy(typeName string) *Error {
	return New(KindCopy, "unsupported primary key type for NPY copy: %s", typeName)
}

func NpyShapeMismatch(detail string) *Error {
	return New(KindCopy, "NPY shape/type mismatch: %s", detail)
}

func UnparseableCell(tableName, column, raw string) *Error {
	return New(KindCopy, "unparseable cell in table %q column %q: %q", tableName, column, raw)
}

func FixedListLengthMismatch(tableName, column string, want, got int) *Error {
	return New(KindCopy, "fixed-list length mismatch in table %q column %q: want %d, got %d", tableName, column, want, got)
}

func MaxListSizeExceeded(tableName, column string, max, got int) *Error {
	return New(KindCopy, "maximum list size exceeded in table %q column %q: max %d, got %d", tableName, column, max, got)
}

// Named binder-error constructors (spec.md §7's BinderError sub-cases).

func UnresolvedVariable(name string) *Error {
	return New(KindBinder, "variable %q is not defined", name)
}

func UnresolvedProperty(variable, property string) *Error {
	return New(KindBinder, "variable %q has no property %q", variable, property)
}

func UnresolvedTable(name string) *Error {
	return New(KindBinder, "unknown table %q", name)
}

func TypeMismatch(detail string) *Error {
	return New(KindBinder, "type mismatch: %s", detail)
}

func ReservedProperty(name string) *Error {
	return New(KindBinder, "property name %q is reserved", name)
}

func InvalidDDL(detail string) *Error {
	return New(KindBinder, "invalid DDL: %s", detail)
}

// Named parse-error constructors, one per ast.NotificationKind the binder
// escalates (spec.md §4.11, §7).

func NodePatternWithoutParentheses() *Error {
	return New(KindParse, "node pattern must be enclosed in parentheses")
}

func EmptyToken() *Error {
	return New(KindParse, "escaped empty symbolic name is not a valid variable name")
}

func InvalidNotEqualOperator() *Error {
	return New(KindParse, "'!=' is not a valid operator, use '<>'")
}

func NonBinaryComparison() *Error {
	return New(KindParse, "comparison operators do not chain, e.g. 'a < b < c' is invalid")
}

func QueryNotConcludeWithReturn() *Error {
	return New(KindParse, "a non-updating query must conclude with RETURN")
}

func ReturnNotAtEnd() *Error {
	return New(KindParse, "RETURN may only appear as the final query part")
}
