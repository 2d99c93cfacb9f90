package schema

import (
	"testing"

	"github.com/Digithought/quereus-sub003/serr"
)

func newTestTable(name string) *TableDescriptor {
	return &TableDescriptor{
		Name: name,
		Columns: []ColumnDef{
			{Name: "id", TypeName: "INTEGER", NotNull: true},
			{Name: "label", TypeName: "TEXT"},
		},
		PrimaryKey: []int{0},
		ModuleName: "memtable",
	}
}

func TestAddAndGetTable(t *testing.T) {
	r := NewRegistry()
	if err := r.AddTable("", newTestTable("widgets")); err != nil {
		t.Fatalf("AddTable: %v", err)
	}
	got, err := r.GetTable("widgets")
	if err != nil {
		t.Fatalf("GetTable: %v", err)
	}
	if got.Name != "widgets" {
		t.Fatalf("got.Name = %q, want widgets", got.Name)
	}
	if idx := got.ColumnIndex("LABEL"); idx != 1 {
		t.Fatalf("ColumnIndex(LABEL) = %d, want 1 (case-insensitive)", idx)
	}
}

func TestAddTableDuplicateName(t *testing.T) {
	r := NewRegistry()
	if err := r.AddTable("", newTestTable("widgets")); err != nil {
		t.Fatalf("first AddTable: %v", err)
	}
	err := r.AddTable("", newTestTable("widgets"))
	if err == nil {
		t.Fatalf("expected duplicate-name error")
	}
	if !serr.Is(err, serr.KindConstraint) {
		t.Fatalf("expected KindConstraint, got %v", serr.KindOf(err))
	}
}

func TestAddTableDuplicateColumn(t *testing.T) {
	r := NewRegistry()
	tbl := newTestTable("widgets")
	tbl.Columns = append(tbl.Columns, ColumnDef{Name: "ID"})
	err := r.AddTable("", tbl)
	if !serr.Is(err, serr.KindConstraint) {
		t.Fatalf("expected KindConstraint for duplicate column, got %v", err)
	}
}

func TestAddTableInvalidPrimaryKey(t *testing.T) {
	r := NewRegistry()
	tbl := newTestTable("widgets")
	tbl.PrimaryKey = []int{5}
	err := r.AddTable("", tbl)
	if !serr.Is(err, serr.KindMisuse) {
		t.Fatalf("expected KindMisuse for out-of-range PK, got %v", err)
	}
}

func TestDropTable(t *testing.T) {
	r := NewRegistry()
	_ = r.AddTable("", newTestTable("widgets"))
	if err := r.DropTable("", "widgets"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if _, err := r.GetTable("widgets"); err == nil {
		t.Fatalf("expected not-found after drop")
	}
}

func TestRenameTable(t *testing.T) {
	r := NewRegistry()
	_ = r.AddTable("", newTestTable("widgets"))
	before, _ := r.GetTable("widgets")
	beforeID := before.ChangeID
	if err := r.RenameTable("", "widgets", "gadgets"); err != nil {
		t.Fatalf("RenameTable: %v", err)
	}
	got, err := r.GetTable("gadgets")
	if err != nil {
		t.Fatalf("GetTable(gadgets): %v", err)
	}
	if got.ChangeID == beforeID {
		t.Fatalf("RenameTable should assign a fresh ChangeID")
	}
	if _, err := r.GetTable("widgets"); err == nil {
		t.Fatalf("old name should no longer resolve")
	}
}

func TestAddViewRequiresQuery(t *testing.T) {
	r := NewRegistry()
	err := r.AddTable("", &TableDescriptor{
		Name:    "v",
		Columns: []ColumnDef{{Name: "x"}},
		Flags:   Flags{View: true},
	})
	if !serr.Is(err, serr.KindMisuse) {
		t.Fatalf("expected KindMisuse for view without query, got %v", err)
	}
}

func TestAddViewAndDropView(t *testing.T) {
	r := NewRegistry()
	if err := r.AddView("", "v", []ColumnDef{{Name: "x"}}, "SELECT 1"); err != nil {
		t.Fatalf("AddView: %v", err)
	}
	if err := r.DropView("", "v"); err != nil {
		t.Fatalf("DropView: %v", err)
	}
}

func TestQualifiedLookupAcrossSchemas(t *testing.T) {
	r := NewRegistry()
	_ = r.AddTable("temp", newTestTable("scratch"))
	got, err := r.GetTable("temp.scratch")
	if err != nil {
		t.Fatalf("GetTable(temp.scratch): %v", err)
	}
	if got.Name != "scratch" {
		t.Fatalf("got.Name = %q, want scratch", got.Name)
	}
	if _, err := r.GetTable("scratch"); err != nil {
		t.Fatalf("bare name should search every schema: %v", err)
	}
}

func TestDefaultVTabModule(t *testing.T) {
	r := NewRegistry()
	r.DefaultVTabModule = "memtable"
	tbl := newTestTable("widgets")
	tbl.ModuleName = ""
	if err := r.AddTable("", tbl); err != nil {
		t.Fatalf("AddTable: %v", err)
	}
	got, _ := r.GetTable("widgets")
	if got.ModuleName != "memtable" {
		t.Fatalf("ModuleName = %q, want default memtable", got.ModuleName)
	}
}
