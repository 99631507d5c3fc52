package parser

import (
	"strings"

	"github.com/cockroachdb/errors"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pingcap/parser"
	"github.com/pingcap/parser/ast"
	_ "github.com/pingcap/tidb/types/parser_driver"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/execution/expression"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
)

// PredicateInfo is the result of parsing a filter predicate
type PredicateInfo struct {
	Expression_ expression.Expression
	// attribute names the predicate refers
	Columns_ mapset.Set[string]
}

func parseWhere(pred string) (ast.ExprNode, error) {
	p := parser.New()
	sqlStr := "SELECT * FROM dummy WHERE " + pred

	stmtNode, err := p.ParseOneStmt(sqlStr, "", "")
	if err != nil {
		return nil, err
	}
	sel, ok := stmtNode.(*ast.SelectStmt)
	if !ok || sel.Where == nil {
		return nil, errors.Newf("%q is not a predicate", pred)
	}
	return sel.Where, nil
}

// ParsePredicate parses a SQL boolean expression such as
// "year >= 2000 AND title LIKE '%battery%'". column types are taken from
// schema_ when it has the column. unknown columns are reported in Columns_
// and are not an error here.
func ParsePredicate(schema_ *schema.Schema, pred string) (*PredicateInfo, error) {
	if strings.TrimSpace(pred) == "" {
		return nil, errors.Mark(errors.New("empty predicate"), common.ErrInvalidPlan)
	}
	where, err := parseWhere(pred)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parsing predicate %q", pred), common.ErrInvalidPlan)
	}

	cdv := &ChildDataVisitor{make([]interface{}, 0)}
	where.Accept(cdv)
	cols := mapset.NewThreadUnsafeSet[string]()
	for _, data := range cdv.ChildDatas_ {
		if colName, ok := data.(*string); ok {
			cols.Add(*colName)
		}
	}

	v := NewBinaryOpVisitor(schema_)
	where.Accept(v)
	if v.err != nil {
		return nil, errors.Mark(errors.Wrapf(v.err, "predicate %q", pred), common.ErrInvalidPlan)
	}
	common.ShPrintf(common.DEBUG_INFO, "predicate parsed: %s\n", expression.PrintExpTree(v.Expression_))

	return &PredicateInfo{v.Expression_, cols}, nil
}
