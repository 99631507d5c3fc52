package planner

import (
	"context"
	"testing"

	"github.com/ryogrid/SemOptDB/catalog"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/storage/table/column"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
	testingpkg "github.com/ryogrid/SemOptDB/testing/testing_assert"
	"github.com/ryogrid/SemOptDB/testing/testing_util"
	"github.com/ryogrid/SemOptDB/types"
)

func newPaperPlan(t *testing.T) *LogicalPlan {
	lp, err := NewLogicalPlan("papers", testing_util.PaperSchema())
	testingpkg.Ok(t, err)
	return lp
}

func TestLogicalPlanChain(t *testing.T) {
	lp := newPaperPlan(t)
	converted, err := lp.Convert(testing_util.ExtractedPaperSchema(), WithDesc("extract title and year"), WithDependsOn("contents"))
	testingpkg.Ok(t, err)
	filtered, err := converted.Filter(NewFilter("the paper is about databases"), WithDependsOn("title"))
	testingpkg.Ok(t, err)
	limited, err := filtered.Limit(3)
	testingpkg.Ok(t, err)

	testingpkg.Equals(t, 1, lp.Len())
	testingpkg.Equals(t, 4, limited.Len())
	ops := limited.Operations()
	testingpkg.Equals(t, ScanOp, ops[0].GetType())
	testingpkg.Equals(t, ConvertOp, ops[1].GetType())
	testingpkg.Equals(t, FilterOp, ops[2].GetType())
	testingpkg.Equals(t, LimitOp, ops[3].GetType())
	testingpkg.Equals(t, []string{"title", "year"}, ops[1].GeneratedColumnNames())
	testingpkg.Assert(t, limited.GetOutputSchema().Equals(testing_util.ExtractedPaperSchema()), "limit keeps schema")

	// builders never modify the receiver and share the prefix
	testingpkg.Equals(t, 2, converted.Len())
	testingpkg.Assert(t, ops[1] == converted.GetTail(), "prefix is shared")
	other, err := converted.Count()
	testingpkg.Ok(t, err)
	testingpkg.Assert(t, other.Operations()[1] == converted.GetTail(), "prefix is shared by siblings")
	testingpkg.Equals(t, 3, other.Len())
}

func TestOperationIDsAreDeterministic(t *testing.T) {
	build := func() *LogicalPlan {
		lp := newPaperPlan(t)
		lp, err := lp.Convert(testing_util.ExtractedPaperSchema(), WithDesc("extract"))
		testingpkg.Ok(t, err)
		lp, err = lp.Filter(NewPredicateFilter("year > 2005"))
		testingpkg.Ok(t, err)
		return lp
	}
	a := build().Operations()
	b := build().Operations()
	for i := range a {
		testingpkg.Equals(t, a[i].GetID(), b[i].GetID())
	}

	// different parameters give different ids
	lp := newPaperPlan(t)
	c1, _ := lp.Limit(1)
	c2, _ := lp.Limit(2)
	testingpkg.Assert(t, c1.GetTail().GetID() != c2.GetTail().GetID(), "ids differ: %s", c1.GetTail().GetID())
}

func TestPlanValidation(t *testing.T) {
	lp := newPaperPlan(t)

	_, err := lp.Convert(testing_util.ExtractedPaperSchema(), WithDependsOn("abstract"))
	testingpkg.ErrorIs(t, err, common.ErrSchemaMismatch)

	conflicting := schema.NewSchema("Bad", []*column.Column{column.NewColumn("filename", types.Integer, "", true)})
	_, err = lp.Convert(conflicting)
	testingpkg.ErrorIs(t, err, common.ErrSchemaMismatch)

	_, err = lp.Filter(NewPredicateFilter("year > 2000"))
	testingpkg.ErrorIs(t, err, common.ErrSchemaMismatch)

	_, err = lp.Filter(Filter{})
	testingpkg.ErrorIs(t, err, common.ErrInvalidPlan)

	_, err = lp.Average("contents")
	testingpkg.ErrorIs(t, err, common.ErrSchemaMismatch)
	_, err = lp.Average("missing")
	testingpkg.ErrorIs(t, err, common.ErrSchemaMismatch)

	_, err = lp.Limit(0)
	testingpkg.ErrorIs(t, err, common.ErrInvalidPlan)
	_, err = lp.Limit(-3)
	testingpkg.ErrorIs(t, err, common.ErrInvalidPlan)

	_, err = lp.UDF("nothing", testing_util.PaperSchema(), nil)
	testingpkg.ErrorIs(t, err, common.ErrInvalidPlan)

	_, err = NewLogicalPlan("", testing_util.PaperSchema())
	testingpkg.ErrorIs(t, err, common.ErrInvalidPlan)

	converted, err := lp.Convert(testing_util.ExtractedPaperSchema())
	testingpkg.Ok(t, err)
	avg, err := converted.Average("year")
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, "average", avg.GetOutputSchema().GetColumn(0).GetColumnName())
}

func TestSpecPlanner(t *testing.T) {
	c := catalog.NewCatalog()
	_, err := c.RegisterSource(testing_util.NewPaperSource("papers", 3))
	testingpkg.Ok(t, err)
	sp := NewSpecPlanner(c)
	sp.RegisterUDF("upper", func(ctx context.Context, in *record.Record) ([]map[string]types.Value, error) {
		return []map[string]types.Value{in.Values()}, nil
	})

	spec := &PlanSpec{
		Source: "papers",
		Operations: []OperationSpec{
			{Kind: "convert", Schema: &common.SchemaConfig{
				Name: "Extracted",
				Columns: []common.ColumnConfig{
					{Name: "filename", Type: "varchar", Required: true},
					{Name: "contents", Type: "varchar", Required: true},
					{Name: "year", Type: "int", Required: true},
				},
			}, DependsOn: []string{"contents"}},
			{Kind: "filter", Predicate: "year >= 2001"},
			{Kind: "udf", Func: "upper", Schema: &common.SchemaConfig{
				Name:    "Same",
				Columns: []common.ColumnConfig{{Name: "year", Type: "int"}},
			}},
			{Kind: "count"},
		},
	}
	lp, err := sp.MakePlan(spec)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, 5, lp.Len())
	testingpkg.Equals(t, CountColumnName, lp.GetOutputSchema().GetColumn(0).GetColumnName())

	_, err = sp.MakePlan(&PlanSpec{Source: "unknown"})
	testingpkg.ErrorIs(t, err, common.ErrSourceNotFound)

	_, err = sp.MakePlan(&PlanSpec{Source: "papers", Operations: []OperationSpec{{Kind: "join"}}})
	testingpkg.ErrorIs(t, err, common.ErrInvalidPlan)

	_, err = sp.MakePlan(&PlanSpec{Source: "papers", Operations: []OperationSpec{{Kind: "udf", Func: "missing", Schema: &common.SchemaConfig{
		Columns: []common.ColumnConfig{{Name: "x", Type: "int"}},
	}}}})
	testingpkg.ErrorIs(t, err, common.ErrInvalidPlan)
}
