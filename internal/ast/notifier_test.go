package ast

import "testing"

func TestNotifierRecordsInEmissionOrder(t *testing.T) {
	var n Notifier
	n.NotifyReturnNotAtEnd(Pos{Line: 1, Col: 5})
	n.NotifyInvalidNotEqualOperator(Pos{Line: 2, Col: 1})

	got := n.Notifications()
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if got[0].Kind != ReturnNotAtEnd || got[1].Kind != InvalidNotEqualOperator {
		t.Fatalf("unexpected kinds: %+v", got)
	}
}

func TestStatementTaggedUnionDispatch(t *testing.T) {
	stmts := []Statement{
		&CreateNodeTableStmt{Name: "Person", PrimaryKey: "id"},
		&DropTableStmt{Name: "Person"},
		&BeginStmt{Mode: TxReadOnly},
	}

	var kinds []string
	for _, s := range stmts {
		switch v := s.(type) {
		case *CreateNodeTableStmt:
			kinds = append(kinds, "create:"+v.Name)
		case *DropTableStmt:
			kinds = append(kinds, "drop:"+v.Name)
		case *BeginStmt:
			if v.Mode == TxReadOnly {
				kinds = append(kinds, "begin:readonly")
			}
		default:
			t.Fatalf("unexpected statement type %T", v)
		}
	}
	want := []string{"create:Person", "drop:Person", "begin:readonly"}
	for i, k := range kinds {
		if k != want[i] {
			t.Fatalf("at %d: got %q want %q", i, k, want[i])
		}
	}
}
