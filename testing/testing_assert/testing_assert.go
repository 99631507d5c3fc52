package testing_assert

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Assert fails the test if the condition is false.
func Assert(tb testing.TB, condition bool, msg string, v ...interface{}) {
	tb.Helper()
	require.Truef(tb, condition, msg, v...)
}

func AssertFalse(tb testing.TB, condition bool, msg string, v ...interface{}) {
	tb.Helper()
	require.Falsef(tb, condition, msg, v...)
}

// SimpleAssert records a failure and continues
func SimpleAssert(tb testing.TB, condition bool) {
	tb.Helper()
	assert.True(tb, condition)
}

// Ok fails the test if an err is not nil.
func Ok(tb testing.TB, err error) {
	tb.Helper()
	require.NoError(tb, err)
}

// Nok fails the test if an err is nil.
func Nok(tb testing.TB, err error) {
	tb.Helper()
	require.Error(tb, err)
}

// Equals fails the test if exp is not equal to act.
func Equals(tb testing.TB, exp, act interface{}) {
	tb.Helper()
	require.Equal(tb, exp, act)
}

// InDelta fails the test if exp and act differ more than delta
func InDelta(tb testing.TB, exp, act float64, delta float64) {
	tb.Helper()
	require.InDelta(tb, exp, act, delta)
}

// ErrorIs fails the test if err is not marked as target
func ErrorIs(tb testing.TB, err error, target error) {
	tb.Helper()
	require.Truef(tb, errors.Is(err, target), "expected %v to be %v", err, target)
}
