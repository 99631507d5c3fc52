package types

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Value is an immutable attribute value. All values have a type and
// comparison functions. Integer and Float compare with each other.
type Value struct {
	valueType TypeID
	isNull    bool
	integer   *int64
	boolean   *bool
	varchar   *string
	float     *float64
	bytes     []byte
}

func NewInteger(value int64) Value {
	return Value{valueType: Integer, integer: &value}
}

func NewFloat(value float64) Value {
	return Value{valueType: Float, float: &value}
}

func NewBoolean(value bool) Value {
	return Value{valueType: Boolean, boolean: &value}
}

func NewVarchar(value string) Value {
	return Value{valueType: Varchar, varchar: &value}
}

func NewBytes(value []byte) Value {
	copied := make([]byte, len(value))
	copy(copied, value)
	return Value{valueType: Bytes, bytes: copied}
}

// NewNull returns NULL of valueType. value fields are initialized to default value.
func NewNull(valueType TypeID) Value {
	ret := Value{valueType: valueType, isNull: true}
	ret.integer = new(int64)
	ret.float = new(float64)
	ret.boolean = new(bool)
	ret.varchar = new(string)
	return ret
}

// NewValueFromInterface converts a go value (typically decoded from JSON or msgpack)
func NewValueFromInterface(data interface{}) (Value, error) {
	switch v := data.(type) {
	case nil:
		return NewNull(Invalid), nil
	case Value:
		return v, nil
	case *Value:
		return *v, nil
	case int:
		return NewInteger(int64(v)), nil
	case int8:
		return NewInteger(int64(v)), nil
	case int16:
		return NewInteger(int64(v)), nil
	case int32:
		return NewInteger(int64(v)), nil
	case int64:
		return NewInteger(v), nil
	case uint:
		return NewInteger(int64(v)), nil
	case uint8:
		return NewInteger(int64(v)), nil
	case uint16:
		return NewInteger(int64(v)), nil
	case uint32:
		return NewInteger(int64(v)), nil
	case uint64:
		return NewInteger(int64(v)), nil
	case float32:
		return NewFloat(float64(v)), nil
	case float64:
		return NewFloat(v), nil
	case string:
		return NewVarchar(v), nil
	case bool:
		return NewBoolean(v), nil
	case []byte:
		return NewBytes(v), nil
	}
	return Value{}, errors.Newf("unsupported value type %T", data)
}

// Coerce converts v to valueType when a lossless or textual conversion exists
func Coerce(v Value, valueType TypeID) (Value, error) {
	if v.valueType == valueType {
		return v, nil
	}
	if v.IsNull() {
		return NewNull(valueType), nil
	}
	switch valueType {
	case Integer:
		switch v.valueType {
		case Float:
			if *v.float == float64(int64(*v.float)) {
				return NewInteger(int64(*v.float)), nil
			}
		case Varchar:
			if i, err := strconv.ParseInt(strings.TrimSpace(*v.varchar), 10, 64); err == nil {
				return NewInteger(i), nil
			}
		case Boolean:
			if *v.boolean {
				return NewInteger(1), nil
			}
			return NewInteger(0), nil
		}
	case Float:
		switch v.valueType {
		case Integer:
			return NewFloat(float64(*v.integer)), nil
		case Varchar:
			if f, err := strconv.ParseFloat(strings.TrimSpace(*v.varchar), 64); err == nil {
				return NewFloat(f), nil
			}
		}
	case Boolean:
		switch v.valueType {
		case Integer:
			return NewBoolean(*v.integer != 0), nil
		case Varchar:
			if b, err := strconv.ParseBool(strings.TrimSpace(*v.varchar)); err == nil {
				return NewBoolean(b), nil
			}
		}
	case Varchar:
		return NewVarchar(v.ToString()), nil
	case Bytes:
		if v.valueType == Varchar {
			return NewBytes([]byte(*v.varchar)), nil
		}
	}
	return Value{}, errors.Newf("can not convert %s value %q to %s", v.valueType, v.ToString(), valueType)
}

func (v Value) ValueType() TypeID {
	return v.valueType
}

func (v Value) IsNull() bool {
	return v.isNull
}

func (v Value) IsValid() bool {
	return v.valueType != Invalid || v.isNull
}

// if you use this to get column value
// NULL value check is needed in general
func (v Value) ToBoolean() bool {
	return *v.boolean
}

// if you use this to get column value
// NULL value check is needed in general
func (v Value) ToInteger() int64 {
	return *v.integer
}

// if you use this to get column value
// NULL value check is needed in general
func (v Value) ToFloat() float64 {
	return *v.float
}

// if you use this to get column value
// NULL value check is needed in general
func (v Value) ToVarchar() string {
	return *v.varchar
}

func (v Value) ToBytes() []byte {
	return v.bytes
}

// ToNumeric returns Integer and Float values as float64
func (v Value) ToNumeric() (float64, bool) {
	if v.isNull {
		return 0, false
	}
	switch v.valueType {
	case Integer:
		return float64(*v.integer), true
	case Float:
		return *v.float, true
	}
	return 0, false
}

func (v Value) ToString() string {
	if v.isNull {
		return "NULL"
	}
	switch v.valueType {
	case Integer:
		return strconv.FormatInt(*v.integer, 10)
	case Float:
		return strconv.FormatFloat(*v.float, 'g', -1, 64)
	case Varchar:
		return *v.varchar
	case Boolean:
		return strconv.FormatBool(*v.boolean)
	case Bytes:
		return string(v.bytes)
	}
	return ""
}

// ToInterface returns go native value. NULL is nil.
func (v Value) ToInterface() interface{} {
	if v.isNull {
		return nil
	}
	switch v.valueType {
	case Integer:
		return *v.integer
	case Float:
		return *v.float
	case Varchar:
		return *v.varchar
	case Boolean:
		return *v.boolean
	case Bytes:
		return v.bytes
	}
	return nil
}

func (v Value) String() string {
	return fmt.Sprintf("%s(%s)", v.valueType, v.ToString())
}

// compare returns -1, 0, 1 and false when two values are not comparable
func (v Value) compare(right Value) (int, bool) {
	if lf, ok := v.ToNumeric(); ok {
		rf, ok2 := right.ToNumeric()
		if !ok2 {
			return 0, false
		}
		switch {
		case lf < rf:
			return -1, true
		case lf > rf:
			return 1, true
		}
		return 0, true
	}
	if v.valueType != right.valueType {
		return 0, false
	}
	switch v.valueType {
	case Varchar:
		return strings.Compare(*v.varchar, *right.varchar), true
	case Boolean:
		switch {
		case *v.boolean == *right.boolean:
			return 0, true
		case !*v.boolean:
			return -1, true
		}
		return 1, true
	case Bytes:
		return bytes.Compare(v.bytes, right.bytes), true
	}
	return 0, false
}

func (v Value) CompareEquals(right Value) bool {
	if v.IsNull() && right.IsNull() {
		return true
	} else if v.IsNull() || right.IsNull() {
		return false
	}
	c, ok := v.compare(right)
	return ok && c == 0
}

func (v Value) CompareNotEquals(right Value) bool {
	if v.IsNull() && right.IsNull() {
		return false
	} else if v.IsNull() || right.IsNull() {
		return true
	}
	c, ok := v.compare(right)
	return !ok || c != 0
}

func (v Value) CompareGreaterThan(right Value) bool {
	if v.IsNull() || right.IsNull() {
		return false
	}
	c, ok := v.compare(right)
	return ok && c > 0
}

func (v Value) CompareGreaterThanOrEqual(right Value) bool {
	if v.IsNull() || right.IsNull() {
		return false
	}
	c, ok := v.compare(right)
	return ok && c >= 0
}

func (v Value) CompareLessThan(right Value) bool {
	if v.IsNull() || right.IsNull() {
		return false
	}
	c, ok := v.compare(right)
	return ok && c < 0
}

func (v Value) CompareLessThanOrEqual(right Value) bool {
	if v.IsNull() || right.IsNull() {
		return false
	}
	c, ok := v.compare(right)
	return ok && c <= 0
}

func (v Value) Add(other *Value) *Value {
	if other.IsNull() {
		return &v
	}
	if v.IsNull() {
		return other
	}

	switch v.valueType {
	case Integer:
		if other.valueType == Float {
			ret := NewFloat(float64(*v.integer) + *other.float)
			return &ret
		}
		ret := NewInteger(*v.integer + *other.integer)
		return &ret
	case Float:
		f, _ := other.ToNumeric()
		ret := NewFloat(*v.float + f)
		return &ret
	default:
		panic("Add is implemented to Integer and Float only.")
	}
}
