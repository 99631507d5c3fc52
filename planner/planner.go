package planner

import (
	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/catalog"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
)

type Planner interface {
	MakePlan(*PlanSpec) (*LogicalPlan, error)
}

// SpecPlanner builds logical plans from PlanSpec against registered sources
type SpecPlanner struct {
	catalog_ *catalog.Catalog
	udfs     map[string]UDFFunc
}

func NewSpecPlanner(c *catalog.Catalog) *SpecPlanner {
	return &SpecPlanner{c, make(map[string]UDFFunc)}
}

// RegisterUDF makes fn available to "udf" operations under name
func (sp *SpecPlanner) RegisterUDF(name string, fn UDFFunc) {
	sp.udfs[name] = fn
}

func (sp *SpecPlanner) MakePlan(spec *PlanSpec) (*LogicalPlan, error) {
	if spec == nil {
		return nil, errors.Mark(errors.New("plan spec is nil"), common.ErrInvalidPlan)
	}
	meta, err := sp.catalog_.GetSourceByName(spec.Source)
	if err != nil {
		return nil, err
	}
	lp, err := NewLogicalPlan(spec.Source, meta.Schema())
	if err != nil {
		return nil, err
	}

	for i, opSpec := range spec.Operations {
		stage := i + 1
		switch opSpec.Kind {
		case "convert", "udf":
			var outSchema *schema.Schema
			outSchema, err = schema.NewSchemaFromConfig(opSpec.Schema)
			if err != nil {
				return nil, common.NewStageError(common.ErrInvalidPlan, stage, opSpec.Kind, "%v", err)
			}
			card, ok := parseCardinality(opSpec.Cardinality)
			if !ok {
				return nil, common.NewStageError(common.ErrInvalidPlan, stage, opSpec.Kind, "unknown cardinality %q", opSpec.Cardinality)
			}
			opts := append(opSpec.options(), WithCardinality(card))
			if opSpec.Kind == "convert" {
				lp, err = lp.Convert(outSchema, opts...)
			} else {
				fn, found := sp.udfs[opSpec.Func]
				if !found {
					return nil, common.NewStageError(common.ErrInvalidPlan, stage, opSpec.Kind, "function %q is not registered", opSpec.Func)
				}
				lp, err = lp.UDF(opSpec.Func, outSchema, fn, opts...)
			}
		case "filter":
			if opSpec.Predicate != "" {
				lp, err = lp.Filter(NewPredicateFilter(opSpec.Predicate), opSpec.options()...)
			} else {
				lp, err = lp.Filter(NewFilter(opSpec.Condition), opSpec.options()...)
			}
		case "count":
			lp, err = lp.Count(opSpec.options()...)
		case "average":
			lp, err = lp.Average(opSpec.Field, opSpec.options()...)
		case "limit":
			lp, err = lp.Limit(opSpec.Limit)
		default:
			return nil, common.NewStageError(common.ErrInvalidPlan, stage, opSpec.Kind, "unknown operation kind")
		}
		if err != nil {
			return nil, err
		}
	}
	return lp, nil
}
