package errs

import (
	stderrors "errors"
	"testing"
)

func TestIsClassifiesWrappedError(t *testing.T) {
	err := DuplicatePrimaryKey(42)
	if !Is(err, KindCopy) {
		t.Fatal("expected DuplicatePrimaryKey to carry KindCopy")
	}
	if Is(err, KindBinder) {
		t.Fatal("did not expect KindBinder match")
	}
}

func TestAtPreservesPosition(t *testing.T) {
	err := New(KindParse, "unexpected token").At(3, 12)
	if err.Line != 3 || err.Column != 12 {
		t.Fatalf("expected line=3 col=12, got line=%d col=%d", err.Line, err.Column)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := New(KindStorageIO, "disk full")
	err := Wrap(KindCatalog, cause, "write shadow")
	if !Is(err, KindCatalog) {
		t.Fatal("expected outer Kind to be KindCatalog")
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("expected the wrapped cause to stay reachable")
	}
}

func TestBinderAndParseConstructorsCarryExpectedKind(t *testing.T) {
	cases := []struct {
		err  *Error
		kind Kind
	}{
		{UnresolvedVariable("a"), KindBinder},
		{UnresolvedProperty("a", "age"), KindBinder},
		{UnresolvedTable("Person"), KindBinder},
		{ReservedProperty("_id"), KindBinder},
		{InvalidDDL("no such table"), KindBinder},
		{NodePatternWithoutParentheses(), KindParse},
		{EmptyToken(), KindParse},
		{InvalidNotEqualOperator(), KindParse},
		{NonBinaryComparison(), KindParse},
		{QueryNotConcludeWithReturn(), KindParse},
		{ReturnNotAtEnd(), KindParse},
	}
	for _, c := range cases {
		if !Is(c.err, c.kind) {
			t.Fatalf("expected %v to carry %v", c.err, c.kind)
		}
	}
}
