package inference

import (
	"strings"

	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
	"github.com/ryogrid/SemOptDB/types"
)

const (
	copyRulePrefix    = "copy:"
	extractRulePrefix = "extract:"
)

// Program is a synthesized extraction program. each output attribute maps to
// a rule: "copy:<input attribute>" or "extract:<key>" which reads a
// "key: value" line from the textual attributes of the input.
type Program map[string]string

func CopyRule(attr string) string {
	return copyRulePrefix + attr
}

func ExtractRule(key string) string {
	return extractRulePrefix + key
}

// Apply runs the program on in. attributes whose rule is missing or does not
// produce a value of the declared type are returned as unresolved.
func (p Program) Apply(in *record.Record, outSchema *schema.Schema, fields []string) (map[string]types.Value, []string) {
	values := make(map[string]types.Value, len(fields))
	unresolved := make([]string, 0)
	for _, f := range fields {
		col, ok := outSchema.GetColumnByName(f)
		if !ok {
			unresolved = append(unresolved, f)
			continue
		}
		rule, ok := p[f]
		if !ok {
			unresolved = append(unresolved, f)
			continue
		}
		var raw types.Value
		found := false
		switch {
		case strings.HasPrefix(rule, copyRulePrefix):
			raw, found = in.GetValue(strings.TrimPrefix(rule, copyRulePrefix))
			found = found && !raw.IsNull()
		case strings.HasPrefix(rule, extractRulePrefix):
			var text string
			text, found = ExtractKeyedValue(in, strings.TrimPrefix(rule, extractRulePrefix))
			raw = types.NewVarchar(text)
		}
		if !found {
			unresolved = append(unresolved, f)
			continue
		}
		val, err := types.Coerce(raw, col.GetType())
		if err != nil {
			unresolved = append(unresolved, f)
			continue
		}
		values[f] = val
	}
	return values, unresolved
}

// RecordText joins textual attributes of r
func RecordText(r *record.Record) string {
	var sb strings.Builder
	sch := r.GetSchema()
	for i := uint32(0); i < sch.GetColumnCount(); i++ {
		val := r.GetValueAt(i)
		if val.IsNull() {
			continue
		}
		switch val.ValueType() {
		case types.Varchar, types.Bytes:
			sb.WriteString(val.ToString())
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// ExtractKeyedValue finds a "key: value" line in textual attributes of r.
// key matching ignores case and treats '_' and ' ' as the same.
func ExtractKeyedValue(r *record.Record, key string) (string, bool) {
	norm := func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", " "))
	}
	want := norm(key)
	for _, line := range strings.Split(RecordText(r), "\n") {
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		if norm(line[:idx]) == want {
			return strings.TrimSpace(line[idx+1:]), true
		}
	}
	return "", false
}
