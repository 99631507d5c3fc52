package planner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/parser"
	"github.com/ryogrid/SemOptDB/storage/table/column"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
	"github.com/ryogrid/SemOptDB/types"
)

const (
	CountColumnName   = "count"
	AverageColumnName = "average"
)

// LogicalPlan is a scan root followed by a chain of operations. every
// builder method returns a new plan and leaves the receiver unchanged.
type LogicalPlan struct {
	sourceID string
	tail     *LogicalOperation
}

type opOptions struct {
	desc        string
	dependsOn   []string
	cardinality Cardinality
}

type OpOption func(*opOptions)

func WithDesc(desc string) OpOption {
	return func(o *opOptions) { o.desc = desc }
}

// WithDependsOn declares the input attributes the operation reads
func WithDependsOn(fields ...string) OpOption {
	return func(o *opOptions) { o.dependsOn = append(o.dependsOn, fields...) }
}

func WithCardinality(c Cardinality) OpOption {
	return func(o *opOptions) { o.cardinality = c }
}

func applyOptions(opts []OpOption) *opOptions {
	ret := &opOptions{dependsOn: make([]string, 0), cardinality: OneToOne}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// NewLogicalPlan creates a plan which only scans sourceID
func NewLogicalPlan(sourceID string, sourceSchema *schema.Schema) (*LogicalPlan, error) {
	if sourceID == "" {
		return nil, errors.Mark(errors.New("source id is empty"), common.ErrInvalidPlan)
	}
	if sourceSchema == nil || sourceSchema.GetColumnCount() == 0 {
		return nil, errors.Mark(errors.Newf("source %s has no schema", sourceID), common.ErrInvalidPlan)
	}
	scan := &LogicalOperation{
		opType:       ScanOp,
		depth:        0,
		outputSchema: sourceSchema,
		sourceID:     sourceID,
		dependsOn:    make([]string, 0),
	}
	scan.id = makeOpID(nil, ScanOp, sourceID, schemaParam(sourceSchema))
	return &LogicalPlan{sourceID, scan}, nil
}

func (lp *LogicalPlan) GetSourceID() string {
	return lp.sourceID
}

func (lp *LogicalPlan) Len() int {
	return lp.tail.depth + 1
}

func (lp *LogicalPlan) GetOutputSchema() *schema.Schema {
	return lp.tail.outputSchema
}

func (lp *LogicalPlan) GetTail() *LogicalOperation {
	return lp.tail
}

// Operations returns the chain from scan to tail
func (lp *LogicalPlan) Operations() []*LogicalOperation {
	ret := make([]*LogicalOperation, lp.Len())
	for op := lp.tail; op != nil; op = op.parent {
		ret[op.depth] = op
	}
	return ret
}

func (lp *LogicalPlan) Explain() string {
	var sb strings.Builder
	for i, op := range lp.Operations() {
		sb.WriteString(strings.Repeat("  ", i))
		sb.WriteString(op.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

func (lp *LogicalPlan) mismatch(opType LogicalOpType, format string, args ...interface{}) error {
	return common.NewStageError(common.ErrSchemaMismatch, lp.Len(), opType.String(), format, args...)
}

func (lp *LogicalPlan) invalid(opType LogicalOpType, format string, args ...interface{}) error {
	return common.NewStageError(common.ErrInvalidPlan, lp.Len(), opType.String(), format, args...)
}

func (lp *LogicalPlan) checkDependsOn(opType LogicalOpType, fields []string) error {
	input := lp.tail.outputSchema
	missing := mapset.NewThreadUnsafeSet[string](fields...).Difference(input.NameSet())
	if missing.Cardinality() > 0 {
		names := missing.ToSlice()
		return lp.mismatch(opType, "attributes %v are not in input schema %s", names, input)
	}
	return nil
}

func (lp *LogicalPlan) appendOp(op *LogicalOperation, params ...string) *LogicalPlan {
	op.parent = lp.tail
	op.depth = lp.tail.depth + 1
	op.inputSchema = lp.tail.outputSchema
	op.id = makeOpID(lp.tail, op.opType, params...)
	return &LogicalPlan{lp.sourceID, op}
}

// Convert produces records of outSchema. attributes which exist in the input
// with the same name are copied, the rest are generated.
func (lp *LogicalPlan) Convert(outSchema *schema.Schema, opts ...OpOption) (*LogicalPlan, error) {
	if outSchema == nil || outSchema.GetColumnCount() == 0 {
		return nil, lp.invalid(ConvertOp, "output schema is empty")
	}
	o := applyOptions(opts)
	if err := lp.checkDependsOn(ConvertOp, o.dependsOn); err != nil {
		return nil, err
	}
	if conflicts := outSchema.ConflictingColumns(lp.tail.outputSchema); len(conflicts) > 0 {
		return nil, lp.mismatch(ConvertOp, "attributes %v are redeclared with a different type", conflicts)
	}
	op := &LogicalOperation{
		opType:       ConvertOp,
		outputSchema: outSchema,
		desc:         o.desc,
		dependsOn:    o.dependsOn,
		cardinality:  o.cardinality,
	}
	return lp.appendOp(op, schemaParam(outSchema), o.desc, joinParams(o.dependsOn), o.cardinality.String()), nil
}

// Filter keeps records which satisfy f. output schema equals input schema.
func (lp *LogicalPlan) Filter(f Filter, opts ...OpOption) (*LogicalPlan, error) {
	if (f.Text == "") == (f.Predicate == "") {
		return nil, lp.invalid(FilterOp, "exactly one of condition text or predicate is needed")
	}
	o := applyOptions(opts)
	if err := lp.checkDependsOn(FilterOp, o.dependsOn); err != nil {
		return nil, err
	}
	op := &LogicalOperation{
		opType:       FilterOp,
		outputSchema: lp.tail.outputSchema,
		desc:         o.desc,
		dependsOn:    o.dependsOn,
		filter:       f,
	}
	if f.IsPredicate() {
		info, err := parser.ParsePredicate(lp.tail.outputSchema, f.Predicate)
		if err != nil {
			return nil, lp.invalid(FilterOp, "%v", err)
		}
		if err := lp.checkDependsOn(FilterOp, info.Columns_.ToSlice()); err != nil {
			return nil, err
		}
		op.predicate = info.Expression_
	}
	return lp.appendOp(op, f.Text, f.Predicate, o.desc, joinParams(o.dependsOn)), nil
}

// Count aggregates all input records into one record with "count"
func (lp *LogicalPlan) Count(opts ...OpOption) (*LogicalPlan, error) {
	o := applyOptions(opts)
	outSchema := schema.NewSchema("Count", []*column.Column{
		column.NewColumn(CountColumnName, types.Integer, "number of input records", true),
	})
	op := &LogicalOperation{
		opType:       AggregateOp,
		outputSchema: outSchema,
		desc:         o.desc,
		dependsOn:    o.dependsOn,
		aggFunc:      CountAgg,
	}
	return lp.appendOp(op, CountAgg.String()), nil
}

// Average aggregates a numeric attribute into one record with "average".
// NULL values are skipped.
func (lp *LogicalPlan) Average(field string, opts ...OpOption) (*LogicalPlan, error) {
	o := applyOptions(opts)
	col, ok := lp.tail.outputSchema.GetColumnByName(field)
	if !ok {
		return nil, lp.mismatch(AggregateOp, "attribute %s is not in input schema %s", field, lp.tail.outputSchema)
	}
	if !col.GetType().IsNumeric() {
		return nil, lp.mismatch(AggregateOp, "attribute %s is %s, average needs a numeric attribute", field, col.GetType())
	}
	outSchema := schema.NewSchema("Average", []*column.Column{
		column.NewColumn(AverageColumnName, types.Float, "average of "+field, false),
	})
	op := &LogicalOperation{
		opType:       AggregateOp,
		outputSchema: outSchema,
		desc:         o.desc,
		dependsOn:    []string{field},
		aggFunc:      AverageAgg,
		aggField:     field,
	}
	return lp.appendOp(op, AverageAgg.String(), field), nil
}

// Limit passes the first k records and stops upstream work afterwards
func (lp *LogicalPlan) Limit(k int64) (*LogicalPlan, error) {
	if k <= 0 {
		return nil, lp.invalid(LimitOp, "limit must be positive: %d", k)
	}
	op := &LogicalOperation{
		opType:       LimitOp,
		outputSchema: lp.tail.outputSchema,
		dependsOn:    make([]string, 0),
		limit:        k,
	}
	return lp.appendOp(op, strconv.FormatInt(k, 10)), nil
}

// UDF applies fn to every record. name identifies the function in plan ids
// and statistics.
func (lp *LogicalPlan) UDF(name string, outSchema *schema.Schema, fn UDFFunc, opts ...OpOption) (*LogicalPlan, error) {
	if fn == nil {
		return nil, lp.invalid(UDFOp, "function %s is nil", name)
	}
	if outSchema == nil || outSchema.GetColumnCount() == 0 {
		return nil, lp.invalid(UDFOp, "output schema is empty")
	}
	o := applyOptions(opts)
	if err := lp.checkDependsOn(UDFOp, o.dependsOn); err != nil {
		return nil, err
	}
	op := &LogicalOperation{
		opType:       UDFOp,
		outputSchema: outSchema,
		desc:         o.desc,
		dependsOn:    o.dependsOn,
		cardinality:  o.cardinality,
		udfName:      name,
		udf:          fn,
	}
	return lp.appendOp(op, name, schemaParam(outSchema), joinParams(o.dependsOn)), nil
}

func (lp *LogicalPlan) String() string {
	ops := lp.Operations()
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, op.opType.String())
	}
	return fmt.Sprintf("LogicalPlan(%s: %s)", lp.sourceID, strings.Join(names, " -> "))
}
