package expression

import (
	"regexp"
	"strings"

	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/types"
)

// Like evaluates "expr [NOT] LIKE pattern". '%' and '_' are wildcards and
// matching ignores case. Bytes attributes are matched as text.
type Like struct {
	*AbstractExpression
	pattern string
	re      *regexp.Regexp
	not     bool
}

func NewLike(child Expression, pattern string, not bool) Expression {
	return &Like{&AbstractExpression{[2]Expression{child, nil}, types.Boolean}, pattern, likeToRegexp(pattern), not}
}

func likeToRegexp(pattern string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("(?is)^")
	escaped := false
	for _, ch := range pattern {
		switch {
		case escaped:
			sb.WriteString(regexp.QuoteMeta(string(ch)))
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '%':
			sb.WriteString(".*")
		case ch == '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}

func (e *Like) Evaluate(r *record.Record) types.Value {
	val := e.children[0].Evaluate(r)
	if val.IsNull() {
		return types.NewBoolean(false)
	}
	matched := e.re.MatchString(val.ToString())
	return types.NewBoolean(matched != e.not)
}

func (e *Like) GetPattern() string {
	return e.pattern
}
