package parser

import (
	"testing"

	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/expression"
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/storage/table/column"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
	testingpkg "github.com/ryogrid/SemOptDB/testing/testing_assert"
	"github.com/ryogrid/SemOptDB/types"
)

func paperSchema() *schema.Schema {
	return schema.NewSchema("paper", []*column.Column{
		column.NewColumn("title", types.Varchar, "", true),
		column.NewColumn("year", types.Integer, "", true),
		column.NewColumn("score", types.Float, "", false),
		column.NewColumn("open", types.Boolean, "", false),
	})
}

func makePaper(t *testing.T, title string, year int64, score *float64, open bool) *record.Record {
	values := map[string]types.Value{
		"title": types.NewVarchar(title),
		"year":  types.NewInteger(year),
		"open":  types.NewBoolean(open),
	}
	if score != nil {
		values["score"] = types.NewFloat(*score)
	}
	r, err := record.NewSourceRecord("papers", 0, "scan", paperSchema(), values)
	testingpkg.Ok(t, err)
	return r
}

func evalPredicate(t *testing.T, pred string, r *record.Record) bool {
	info, err := ParsePredicate(paperSchema(), pred)
	testingpkg.Ok(t, err)
	return info.Expression_.Evaluate(r).ToBoolean()
}

func TestSinglePredicate(t *testing.T) {
	info, err := ParsePredicate(paperSchema(), "year >= 2000")
	testingpkg.Ok(t, err)
	comp, ok := info.Expression_.(*expression.Comparison)
	testingpkg.Assert(t, ok, "expression must be a comparison")
	testingpkg.SimpleAssert(t, comp.GetComparisonType() == expression.GreaterThanOrEqual)
	testingpkg.SimpleAssert(t, info.Columns_.Contains("year"))
	testingpkg.Equals(t, 1, info.Columns_.Cardinality())

	r := makePaper(t, "batteries", 2010, nil, false)
	testingpkg.SimpleAssert(t, evalPredicate(t, "year >= 2000", r))
	testingpkg.SimpleAssert(t, !evalPredicate(t, "year < 2000", r))
	testingpkg.SimpleAssert(t, evalPredicate(t, "title = 'batteries'", r))
}

func TestCompoundPredicate(t *testing.T) {
	score := 4.5
	r := makePaper(t, "solid state batteries", 2015, &score, true)

	testingpkg.SimpleAssert(t, evalPredicate(t, "year > 2010 AND title LIKE '%batter%'", r))
	testingpkg.SimpleAssert(t, evalPredicate(t, "(year = 1999 OR score > 4.0) AND year <= 2020", r))
	testingpkg.SimpleAssert(t, !evalPredicate(t, "NOT (year = 2015)", r))
	testingpkg.SimpleAssert(t, evalPredicate(t, "title NOT LIKE 'vision%'", r))
	testingpkg.SimpleAssert(t, evalPredicate(t, "open = TRUE", r))

	info, err := ParsePredicate(paperSchema(), "(year = 1999 OR score > 4.0) AND title != 'x'")
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, 3, info.Columns_.Cardinality())
}

func TestNullPredicate(t *testing.T) {
	r := makePaper(t, "untitled", 2001, nil, false)
	testingpkg.SimpleAssert(t, evalPredicate(t, "score IS NULL", r))
	testingpkg.SimpleAssert(t, !evalPredicate(t, "score IS NOT NULL", r))
	// comparison with NULL is false
	testingpkg.SimpleAssert(t, !evalPredicate(t, "score > 1.0", r))
	testingpkg.SimpleAssert(t, !evalPredicate(t, "score <= 1.0", r))
}

func TestUnknownColumnIsReported(t *testing.T) {
	info, err := ParsePredicate(paperSchema(), "venue = 'VLDB'")
	testingpkg.Ok(t, err)
	testingpkg.SimpleAssert(t, info.Columns_.Contains("venue"))
}

func TestInvalidPredicate(t *testing.T) {
	_, err := ParsePredicate(paperSchema(), "")
	testingpkg.ErrorIs(t, err, common.ErrInvalidPlan)

	_, err = ParsePredicate(paperSchema(), "year >=")
	testingpkg.ErrorIs(t, err, common.ErrInvalidPlan)
}
