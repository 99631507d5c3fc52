package types

import (
	"testing"

	testingpkg "github.com/ryogrid/SemOptDB/testing/testing_assert"
)

func TestCompareAcrossNumericTypes(t *testing.T) {
	i := NewInteger(3)
	f := NewFloat(3.0)
	testingpkg.SimpleAssert(t, i.CompareEquals(f))
	testingpkg.SimpleAssert(t, NewFloat(3.5).CompareGreaterThan(i))
	testingpkg.SimpleAssert(t, i.CompareLessThanOrEqual(NewFloat(3.5)))
	// different kinds never compare equal
	testingpkg.SimpleAssert(t, !NewVarchar("3").CompareEquals(i))
	testingpkg.SimpleAssert(t, NewVarchar("3").CompareNotEquals(i))
}

func TestNullComparison(t *testing.T) {
	null := NewNull(Integer)
	testingpkg.SimpleAssert(t, null.IsNull())
	testingpkg.SimpleAssert(t, null.CompareEquals(NewNull(Varchar)))
	testingpkg.SimpleAssert(t, !null.CompareEquals(NewInteger(0)))
	testingpkg.SimpleAssert(t, !null.CompareGreaterThan(NewInteger(-1)))
	testingpkg.SimpleAssert(t, !null.CompareLessThan(NewInteger(1)))
	testingpkg.Equals(t, "NULL", null.ToString())
	testingpkg.Equals(t, nil, null.ToInterface())
}

func TestCoerce(t *testing.T) {
	v, err := Coerce(NewVarchar(" 2021 "), Integer)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, int64(2021), v.ToInteger())

	v, err = Coerce(NewVarchar("1.25"), Float)
	testingpkg.Ok(t, err)
	testingpkg.InDelta(t, 1.25, v.ToFloat(), 1e-9)

	v, err = Coerce(NewFloat(4.0), Integer)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, int64(4), v.ToInteger())

	_, err = Coerce(NewFloat(4.5), Integer)
	testingpkg.Nok(t, err)

	_, err = Coerce(NewVarchar("many"), Integer)
	testingpkg.Nok(t, err)

	v, err = Coerce(NewVarchar("true"), Boolean)
	testingpkg.Ok(t, err)
	testingpkg.SimpleAssert(t, v.ToBoolean())

	v, err = Coerce(NewNull(Varchar), Integer)
	testingpkg.Ok(t, err)
	testingpkg.SimpleAssert(t, v.IsNull())
	testingpkg.Equals(t, Integer, v.ValueType())
}

func TestNewValueFromInterface(t *testing.T) {
	v, err := NewValueFromInterface(float64(2))
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, Float, v.ValueType())

	v, err = NewValueFromInterface(int32(7))
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, int64(7), v.ToInteger())

	v, err = NewValueFromInterface(nil)
	testingpkg.Ok(t, err)
	testingpkg.SimpleAssert(t, v.IsNull())

	_, err = NewValueFromInterface(struct{}{})
	testingpkg.Nok(t, err)
}

func TestAdd(t *testing.T) {
	a := NewInteger(2)
	b := NewFloat(0.5)
	testingpkg.InDelta(t, 2.5, a.Add(&b).ToFloat(), 1e-9)
	null := NewNull(Integer)
	testingpkg.Equals(t, int64(2), a.Add(&null).ToInteger())
}

func TestParseTypeID(t *testing.T) {
	testingpkg.Equals(t, Integer, ParseTypeID("int"))
	testingpkg.Equals(t, Varchar, ParseTypeID(" text "))
	testingpkg.Equals(t, Float, ParseTypeID("NUMBER"))
	testingpkg.Equals(t, Invalid, ParseTypeID("date"))
}
