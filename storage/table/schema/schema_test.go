package schema

import (
	"testing"

	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/storage/table/column"
	testingpkg "github.com/ryogrid/SemOptDB/testing/testing_assert"
	"github.com/ryogrid/SemOptDB/types"
)

func paper() *Schema {
	return NewSchema("Paper", []*column.Column{
		column.NewColumn("filename", types.Varchar, "name of the file", true),
		column.NewColumn("contents", types.Varchar, "text", true),
	})
}

func TestEqualsIgnoresName(t *testing.T) {
	a := paper()
	b := NewSchema("Other", []*column.Column{
		column.NewColumn("filename", types.Varchar, "a different description", true),
		column.NewColumn("contents", types.Varchar, "", true),
	})
	testingpkg.SimpleAssert(t, a.Equals(b))
	testingpkg.Equals(t, a.Fingerprint(), b.Fingerprint())

	reordered := NewSchema("Paper", []*column.Column{
		column.NewColumn("contents", types.Varchar, "", true),
		column.NewColumn("filename", types.Varchar, "", true),
	})
	testingpkg.SimpleAssert(t, !a.Equals(reordered))
	testingpkg.SimpleAssert(t, !a.Equals(nil))
}

func TestGeneratedAndConflictingColumns(t *testing.T) {
	in := paper()
	out := NewSchema("Extracted", []*column.Column{
		column.NewColumn("filename", types.Varchar, "", true),
		column.NewColumn("title", types.Varchar, "", true),
		column.NewColumn("year", types.Integer, "", false),
	})
	generated := out.GeneratedColumns(in)
	testingpkg.Equals(t, 2, len(generated))
	testingpkg.Equals(t, "title", generated[0].GetColumnName())
	testingpkg.Equals(t, "year", generated[1].GetColumnName())
	testingpkg.SimpleAssert(t, !out.IsDerivableFrom(in))
	testingpkg.SimpleAssert(t, paper().IsDerivableFrom(out) == false)

	conflicting := NewSchema("Bad", []*column.Column{
		column.NewColumn("filename", types.Integer, "", true),
	})
	testingpkg.Equals(t, []string{"filename"}, conflicting.ConflictingColumns(in))
	testingpkg.Equals(t, 0, len(out.ConflictingColumns(in)))
}

func TestNewSchemaFromConfig(t *testing.T) {
	sch, err := NewSchemaFromConfig(&common.SchemaConfig{
		Name: "Email",
		Desc: "an email",
		Columns: []common.ColumnConfig{
			{Name: "sender", Type: "string", Desc: "who sent it", Required: true},
			{Name: "size", Type: "int"},
		},
	})
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, uint32(2), sch.GetColumnCount())
	testingpkg.Equals(t, "an email", sch.GetDesc())
	col, ok := sch.GetColumnByName("size")
	testingpkg.Assert(t, ok, "size must exist")
	testingpkg.Equals(t, types.Integer, col.GetType())
	testingpkg.SimpleAssert(t, !col.IsRequired())
	testingpkg.SimpleAssert(t, sch.NameSet().Contains("sender"))

	_, err = NewSchemaFromConfig(&common.SchemaConfig{Name: "Empty"})
	testingpkg.ErrorIs(t, err, common.ErrInvalidPlan)

	_, err = NewSchemaFromConfig(&common.SchemaConfig{Name: "Bad", Columns: []common.ColumnConfig{{Name: "d", Type: "date"}}})
	testingpkg.ErrorIs(t, err, common.ErrInvalidPlan)

	_, err = NewSchemaFromConfig(&common.SchemaConfig{Name: "Dup", Columns: []common.ColumnConfig{{Name: "a", Type: "int"}, {Name: "a", Type: "int"}}})
	testingpkg.ErrorIs(t, err, common.ErrInvalidPlan)
}
