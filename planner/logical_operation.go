package planner

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ryogrid/SemOptDB/execution/expression"
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
	"github.com/ryogrid/SemOptDB/types"
	"github.com/spaolacci/murmur3"
)

type LogicalOpType int

const (
	ScanOp LogicalOpType = iota
	ConvertOp
	FilterOp
	AggregateOp
	LimitOp
	UDFOp
)

func (t LogicalOpType) String() string {
	switch t {
	case ScanOp:
		return "scan"
	case ConvertOp:
		return "convert"
	case FilterOp:
		return "filter"
	case AggregateOp:
		return "aggregate"
	case LimitOp:
		return "limit"
	case UDFOp:
		return "udf"
	}
	return "unknown"
}

type Cardinality int

const (
	OneToOne Cardinality = iota
	OneToMany
)

func (c Cardinality) String() string {
	if c == OneToMany {
		return "one-to-many"
	}
	return "one-to-one"
}

type AggregateFunc int

const (
	CountAgg AggregateFunc = iota
	AverageAgg
)

func (f AggregateFunc) String() string {
	if f == AverageAgg {
		return "average"
	}
	return "count"
}

// UDFFunc maps one record to zero or more attribute maps of the output schema
type UDFFunc func(ctx context.Context, in *record.Record) ([]map[string]types.Value, error)

// Filter is a natural language condition evaluated by a model, or a SQL
// boolean predicate evaluated locally. exactly one of them is set.
type Filter struct {
	Text      string
	Predicate string
}

func NewFilter(text string) Filter {
	return Filter{Text: text}
}

func NewPredicateFilter(pred string) Filter {
	return Filter{Predicate: pred}
}

func (f Filter) IsPredicate() bool {
	return f.Predicate != ""
}

func (f Filter) String() string {
	if f.IsPredicate() {
		return f.Predicate
	}
	return f.Text
}

// LogicalOperation is a node of the singly linked operation chain. nodes are
// never modified after creation, so plans share their common prefix.
type LogicalOperation struct {
	id           string
	opType       LogicalOpType
	parent       *LogicalOperation
	depth        int
	inputSchema  *schema.Schema
	outputSchema *schema.Schema
	desc         string
	dependsOn    []string

	// scan
	sourceID string
	// convert
	cardinality Cardinality
	// filter
	filter    Filter
	predicate expression.Expression
	// aggregate
	aggFunc  AggregateFunc
	aggField string
	// limit
	limit int64
	// udf
	udfName string
	udf     UDFFunc
}

func (op *LogicalOperation) GetID() string {
	return op.id
}

func (op *LogicalOperation) GetType() LogicalOpType {
	return op.opType
}

func (op *LogicalOperation) GetParent() *LogicalOperation {
	return op.parent
}

// GetDepth returns the stage index. scan is 0.
func (op *LogicalOperation) GetDepth() int {
	return op.depth
}

// GetInputSchema returns nil for scan
func (op *LogicalOperation) GetInputSchema() *schema.Schema {
	return op.inputSchema
}

func (op *LogicalOperation) GetOutputSchema() *schema.Schema {
	return op.outputSchema
}

func (op *LogicalOperation) GetDesc() string {
	return op.desc
}

func (op *LogicalOperation) GetDependsOn() []string {
	return append([]string{}, op.dependsOn...)
}

func (op *LogicalOperation) GetSourceID() string {
	return op.sourceID
}

func (op *LogicalOperation) GetCardinality() Cardinality {
	return op.cardinality
}

func (op *LogicalOperation) GetFilter() Filter {
	return op.filter
}

// GetPredicate returns nil for natural language filters
func (op *LogicalOperation) GetPredicate() expression.Expression {
	return op.predicate
}

func (op *LogicalOperation) GetAggregateFunc() AggregateFunc {
	return op.aggFunc
}

func (op *LogicalOperation) GetAggregateField() string {
	return op.aggField
}

func (op *LogicalOperation) GetLimit() int64 {
	return op.limit
}

func (op *LogicalOperation) GetUDF() UDFFunc {
	return op.udf
}

func (op *LogicalOperation) GetUDFName() string {
	return op.udfName
}

// GeneratedColumnNames returns output attributes of a convert which are not
// copied from input
func (op *LogicalOperation) GeneratedColumnNames() []string {
	if op.opType != ConvertOp {
		return []string{}
	}
	ret := make([]string, 0)
	for _, col := range op.outputSchema.GeneratedColumns(op.inputSchema) {
		ret = append(ret, col.GetColumnName())
	}
	return ret
}

func (op *LogicalOperation) String() string {
	switch op.opType {
	case ScanOp:
		return fmt.Sprintf("Scan(%s) -> %s", op.sourceID, op.outputSchema)
	case ConvertOp:
		return fmt.Sprintf("Convert[%s] -> %s", op.cardinality, op.outputSchema)
	case FilterOp:
		return fmt.Sprintf("Filter(%s)", op.filter)
	case AggregateOp:
		if op.aggFunc == AverageAgg {
			return fmt.Sprintf("Aggregate(average(%s))", op.aggField)
		}
		return "Aggregate(count)"
	case LimitOp:
		return fmt.Sprintf("Limit(%d)", op.limit)
	case UDFOp:
		return fmt.Sprintf("UDF(%s) -> %s", op.udfName, op.outputSchema)
	}
	return "Unknown"
}

// makeOpID is deterministic: the same chain of operations always gets the same ids
func makeOpID(parent *LogicalOperation, opType LogicalOpType, params ...string) string {
	h := murmur3.New128()
	if parent != nil {
		h.Write([]byte(parent.id))
	}
	h.Write([]byte{0, byte(opType)})
	for _, p := range params {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	hash := h.Sum(nil)
	return fmt.Sprintf("%s-%08x", opType, uint32(binary.LittleEndian.Uint64(hash)))
}

func schemaParam(s *schema.Schema) string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%s:%x", s.GetName(), s.Fingerprint())
}

func joinParams(vals []string) string {
	return strings.Join(vals, ",")
}
