package parser

import (
	ptypes "github.com/pingcap/tidb/types"
	driver "github.com/pingcap/tidb/types/parser_driver"
	"github.com/ryogrid/SemOptDB/types"
)

func ValueExprToValue(expr *driver.ValueExpr) *types.Value {
	var ret types.Value
	switch expr.Datum.Kind() {
	case ptypes.KindNull:
		ret = types.NewNull(types.Invalid)
	case ptypes.KindInt64:
		ret = types.NewInteger(expr.Datum.GetInt64())
	case ptypes.KindUint64:
		ret = types.NewInteger(int64(expr.Datum.GetUint64()))
	case ptypes.KindFloat32, ptypes.KindFloat64:
		ret = types.NewFloat(expr.Datum.GetFloat64())
	case ptypes.KindMysqlDecimal:
		fval, err := expr.Datum.GetMysqlDecimal().ToFloat64()
		if err != nil {
			ret = types.NewVarchar(expr.Datum.GetMysqlDecimal().String())
		} else {
			ret = types.NewFloat(fval)
		}
	default:
		ret = types.NewVarchar(expr.Datum.GetString())
	}
	return &ret
}
