package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ryogrid/SemOptDB/common"
	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/storage/table/column"
	"github.com/ryogrid/SemOptDB/types"
	"github.com/spaolacci/murmur3"
)

const (
	conventionalCallFactor = 0.5
	batchCostFactor        = 0.8
	batchLatencyFactor     = 0.25
	synthesizeCostFactor   = 10.0
	synthesizeTimeFactor   = 3.0
	listSeparator          = ";"
)

var judgeStopWords = map[string]bool{
	"the": true, "that": true, "this": true, "with": true, "about": true, "from": true,
	"record": true, "paper": true, "file": true, "which": true, "whether": true, "their": true,
	"there": true, "should": true, "must": true, "have": true, "does": true, "into": true,
}

// SimulatedClient answers requests deterministically from record contents and
// model cards. it reads "key: value" lines for generated attributes and
// answers a fraction (1 - quality) of questions wrongly, chosen by hashing.
type SimulatedClient struct {
	registry *ModelRegistry
	// when positive, Invoke sleeps Latency * SleepScale
	SleepScale float64
}

func NewSimulatedClient(registry *ModelRegistry) *SimulatedClient {
	if registry == nil {
		registry = NewDefaultModelRegistry()
	}
	return &SimulatedClient{registry: registry}
}

func (sc *SimulatedClient) Invoke(ctx context.Context, req *Request) (*Response, error) {
	card, err := sc.registry.GetModelCard(req.Model)
	if err != nil {
		return nil, errors.Mark(err, ErrUnrecoverable)
	}
	var resp *Response
	switch req.Task {
	case GenerateTask:
		resp, err = sc.generate(card, req)
	case JudgeTask:
		resp = sc.judge(card, req)
	case SynthesizeTask:
		resp = sc.synthesize(card, req)
	default:
		return nil, errors.Mark(errors.Newf("unknown task %d", req.Task), ErrUnrecoverable)
	}
	if err != nil {
		return nil, err
	}
	if sc.SleepScale > 0 {
		timer := time.NewTimer(time.Duration(float64(resp.Latency) * sc.SleepScale))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	common.ShPrintf(common.DEBUG_INFO_DETAIL, "SimulatedClient: %s %s %d inputs cost=%f\n", req.Model, req.Task, len(req.Inputs), resp.Cost)
	return resp, nil
}

func hashFraction(parts ...string) float64 {
	h := murmur3.Sum64([]byte(strings.Join(parts, "\x00")))
	return float64(h%10000) / 10000.0
}

func latencyOf(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func (sc *SimulatedClient) generate(card ModelCard, req *Request) (*Response, error) {
	if req.OutputSchema == nil {
		return nil, errors.Mark(errors.New("generate request without output schema"), ErrUnrecoverable)
	}
	fields := req.Fields
	callFactor := 1.0
	if len(req.Inputs) > 0 {
		generated := req.OutputSchema.GeneratedColumns(req.Inputs[0].GetSchema())
		if len(fields) < len(generated) {
			callFactor = conventionalCallFactor
		}
	}
	resp := &Response{Outputs: make([][]map[string]types.Value, len(req.Inputs))}
	for i, in := range req.Inputs {
		values := make(map[string]types.Value, len(fields))
		lists := make(map[string][]string)
		for _, f := range fields {
			col, ok := req.OutputSchema.GetColumnByName(f)
			if !ok {
				return nil, errors.Mark(errors.Newf("attribute %s is not in output schema", f), ErrUnrecoverable)
			}
			text, found := ExtractKeyedValue(in, f)
			if req.OneToMany && found && strings.Contains(text, listSeparator) {
				lists[f] = strings.Split(text, listSeparator)
				continue
			}
			values[f] = sc.answer(card, in, col, text, found)
		}
		resp.Outputs[i] = sc.expand(card, in, req, values, lists)
	}
	n := float64(len(req.Inputs))
	resp.Cost = card.CostPerRecord * n * callFactor
	resp.Latency = latencyOf(card.SecondsPerRecord * callFactor)
	if len(req.Inputs) > 1 {
		resp.Cost *= batchCostFactor
		resp.Latency = latencyOf(card.SecondsPerRecord * callFactor * (1 + batchLatencyFactor*(n-1)))
	}
	return resp, nil
}

// expand produces one output per element of list valued attributes
func (sc *SimulatedClient) expand(card ModelCard, in *record.Record, req *Request, values map[string]types.Value, lists map[string][]string) []map[string]types.Value {
	if len(lists) == 0 {
		return []map[string]types.Value{values}
	}
	n := 0
	for _, l := range lists {
		if len(l) > n {
			n = len(l)
		}
	}
	ret := make([]map[string]types.Value, 0, n)
	for idx := 0; idx < n; idx++ {
		out := make(map[string]types.Value, len(values)+len(lists))
		for k, v := range values {
			out[k] = v
		}
		for f, l := range lists {
			col, _ := req.OutputSchema.GetColumnByName(f)
			text := strings.TrimSpace(l[idx%len(l)])
			out[f] = sc.answer(card, in, col, text, true)
		}
		ret = append(ret, out)
	}
	return ret
}

func (sc *SimulatedClient) answer(card ModelCard, in *record.Record, col *column.Column, text string, found bool) types.Value {
	var val types.Value
	if found {
		coerced, err := types.Coerce(types.NewVarchar(text), col.GetType())
		if err == nil {
			val = coerced
		} else {
			found = false
		}
	}
	if !found {
		if !col.IsRequired() {
			return types.NewNull(col.GetType())
		}
		val = fabricate(col, RecordText(in))
	}
	if hashFraction(card.Name, col.GetColumnName(), RecordText(in)) >= card.Quality {
		return corrupt(val)
	}
	return val
}

// fabricate makes a deterministic value when the input has nothing to extract
func fabricate(col *column.Column, text string) types.Value {
	h := murmur3.Sum64([]byte(col.GetColumnName() + "\x00" + text))
	switch col.GetType() {
	case types.Integer:
		return types.NewInteger(int64(h % 3000))
	case types.Float:
		return types.NewFloat(float64(h%10000) / 10.0)
	case types.Boolean:
		return types.NewBoolean(h%2 == 0)
	case types.Bytes:
		return types.NewBytes([]byte(fmt.Sprintf("%s-%06x", col.GetColumnName(), h&0xffffff)))
	}
	return types.NewVarchar(fmt.Sprintf("%s-%06x", col.GetColumnName(), h&0xffffff))
}

func corrupt(val types.Value) types.Value {
	switch val.ValueType() {
	case types.Integer:
		return types.NewInteger(val.ToInteger() + 1)
	case types.Float:
		return types.NewFloat(val.ToFloat() + 0.5)
	case types.Boolean:
		return types.NewBoolean(!val.ToBoolean())
	case types.Bytes:
		return types.NewBytes(append(append([]byte{}, val.ToBytes()...), '?'))
	}
	return types.NewVarchar(val.ToString() + "?")
}

func judgeKeywords(condition string) []string {
	ret := make([]string, 0)
	for _, w := range strings.FieldsFunc(strings.ToLower(condition), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
	}) {
		if len(w) >= 4 && !judgeStopWords[w] {
			ret = append(ret, w)
		}
	}
	return ret
}

func (sc *SimulatedClient) judge(card ModelCard, req *Request) *Response {
	keywords := judgeKeywords(req.Condition)
	resp := &Response{Passed: make([]bool, len(req.Inputs))}
	for i, in := range req.Inputs {
		text := strings.ToLower(RecordText(in))
		passed := false
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				passed = true
				break
			}
		}
		if hashFraction(card.Name, req.Condition, text) >= card.Quality {
			passed = !passed
		}
		resp.Passed[i] = passed
	}
	resp.Cost = card.CostPerRecord * float64(len(req.Inputs))
	resp.Latency = latencyOf(card.SecondsPerRecord)
	return resp
}

// synthesize keeps rules which reproduce every exemplar
func (sc *SimulatedClient) synthesize(card ModelCard, req *Request) *Response {
	program := make(Program)
	for _, f := range req.Fields {
		candidates := []string{ExtractRule(f)}
		if len(req.Exemplars) > 0 {
			for _, name := range req.Exemplars[0].Input.GetSchema().ColumnNames() {
				candidates = append(candidates, CopyRule(name))
			}
		}
		for _, rule := range candidates {
			ok := len(req.Exemplars) > 0
			for _, ex := range req.Exemplars {
				want, has := ex.Output[f]
				got, _ := Program{f: rule}.Apply(ex.Input, req.OutputSchema, []string{f})
				gv, resolved := got[f]
				if !has || !resolved || !gv.CompareEquals(want) {
					ok = false
					break
				}
			}
			if ok {
				program[f] = rule
				break
			}
		}
		// a weaker code model drops rules
		if rule, found := program[f]; found && hashFraction(card.Name, f, rule) >= card.CodeQuality {
			delete(program, f)
		}
	}
	return &Response{
		Program: program,
		Cost:    card.CostPerRecord * synthesizeCostFactor,
		Latency: latencyOf(card.SecondsPerRecord * synthesizeTimeFactor),
	}
}
