package inference

import (
	"context"
	"testing"

	"github.com/ryogrid/SemOptDB/storage/record"
	"github.com/ryogrid/SemOptDB/storage/table/column"
	"github.com/ryogrid/SemOptDB/storage/table/schema"
	testingpkg "github.com/ryogrid/SemOptDB/testing/testing_assert"
	"github.com/ryogrid/SemOptDB/types"
)

var (
	inSchema = schema.NewSchema("Doc", []*column.Column{
		column.NewColumn("contents", types.Varchar, "", true),
	})
	outSchema = schema.NewSchema("Extracted", []*column.Column{
		column.NewColumn("contents", types.Varchar, "", true),
		column.NewColumn("title", types.Varchar, "", true),
		column.NewColumn("year", types.Integer, "", true),
		column.NewColumn("venue", types.Varchar, "", false),
	})
)

func newDoc(t *testing.T, idx int64, contents string) *record.Record {
	r, err := record.NewSourceRecord("docs", idx, "scan-0", inSchema, map[string]types.Value{"contents": types.NewVarchar(contents)})
	testingpkg.Ok(t, err)
	return r
}

func newPerfectClient() *SimulatedClient {
	registry := NewDefaultModelRegistry()
	registry.Register(ModelCard{Name: "oracle", CostPerRecord: 0.01, SecondsPerRecord: 1, Quality: 1.0, CodeQuality: 1.0})
	return NewSimulatedClient(registry)
}

func TestGenerateExtractsKeyedValues(t *testing.T) {
	sc := newPerfectClient()
	doc := newDoc(t, 0, "title: A Study\nyear: 2004\n")
	resp, err := sc.Invoke(context.Background(), &Request{
		Task: GenerateTask, Model: "oracle", Inputs: []*record.Record{doc},
		Fields: []string{"title", "year", "venue"}, OutputSchema: outSchema,
	})
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, 1, len(resp.Outputs))
	out := resp.Outputs[0][0]
	testingpkg.Equals(t, "A Study", out["title"].ToVarchar())
	testingpkg.Equals(t, int64(2004), out["year"].ToInteger())
	testingpkg.Assert(t, out["venue"].IsNull(), "optional missing attribute is null")
	testingpkg.InDelta(t, 0.01, resp.Cost, 1e-12)
}

func TestGenerateIsDeterministic(t *testing.T) {
	sc := NewSimulatedClient(nil)
	docs := []*record.Record{newDoc(t, 0, "title: one\nyear: 2001\n"), newDoc(t, 1, "title: two\nyear: 2002\n")}
	req := &Request{Task: GenerateTask, Model: "mixtral-8x7b", Inputs: docs, Fields: []string{"title", "year", "venue"}, OutputSchema: outSchema}
	a, err := sc.Invoke(context.Background(), req)
	testingpkg.Ok(t, err)
	b, err := sc.Invoke(context.Background(), req)
	testingpkg.Ok(t, err)
	for i := range docs {
		testingpkg.Assert(t, a.Outputs[i][0]["title"].CompareEquals(b.Outputs[i][0]["title"]), "same answer")
		testingpkg.Assert(t, a.Outputs[i][0]["year"].CompareEquals(b.Outputs[i][0]["year"]), "same answer")
	}
	// batched calls are discounted
	card, _ := NewDefaultModelRegistry().GetModelCard("mixtral-8x7b")
	testingpkg.InDelta(t, card.CostPerRecord*2*batchCostFactor, a.Cost, 1e-12)
}

func TestGenerateOneToMany(t *testing.T) {
	sc := newPerfectClient()
	doc := newDoc(t, 0, "title: a;b;c\nyear: 1999\n")
	resp, err := sc.Invoke(context.Background(), &Request{
		Task: GenerateTask, Model: "oracle", Inputs: []*record.Record{doc},
		Fields: []string{"title", "year"}, OutputSchema: outSchema, OneToMany: true,
	})
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, 3, len(resp.Outputs[0]))
	testingpkg.Equals(t, "b", resp.Outputs[0][1]["title"].ToVarchar())
	testingpkg.Equals(t, int64(1999), resp.Outputs[0][2]["year"].ToInteger())
}

func TestJudge(t *testing.T) {
	sc := newPerfectClient()
	docs := []*record.Record{newDoc(t, 0, "title: on databases\n"), newDoc(t, 1, "title: on vision\n")}
	resp, err := sc.Invoke(context.Background(), &Request{
		Task: JudgeTask, Model: "oracle", Inputs: docs, Condition: "the paper is about databases",
	})
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, []bool{true, false}, resp.Passed)
}

func TestUnknownModelIsUnrecoverable(t *testing.T) {
	sc := NewSimulatedClient(nil)
	_, err := sc.Invoke(context.Background(), &Request{Task: JudgeTask, Model: "no-such-model"})
	testingpkg.ErrorIs(t, err, ErrUnrecoverable)
}

func TestCancelledInvoke(t *testing.T) {
	sc := newPerfectClient()
	sc.SleepScale = 1
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sc.Invoke(ctx, &Request{Task: JudgeTask, Model: "oracle", Inputs: []*record.Record{newDoc(t, 0, "x")}, Condition: "x"})
	testingpkg.ErrorIs(t, err, context.Canceled)
}

func TestSynthesizeAndApply(t *testing.T) {
	sc := newPerfectClient()
	doc := newDoc(t, 0, "title: First\nyear: 2010\n")
	resp, err := sc.Invoke(context.Background(), &Request{
		Task: SynthesizeTask, Model: "oracle", Fields: []string{"title", "year"}, OutputSchema: outSchema,
		Exemplars: []Exemplar{{Input: doc, Output: map[string]types.Value{
			"title": types.NewVarchar("First"),
			"year":  types.NewInteger(2010),
		}}},
	})
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, ExtractRule("title"), resp.Program["title"])

	other := newDoc(t, 1, "title: Second\n")
	values, unresolved := resp.Program.Apply(other, outSchema, []string{"title", "year", "contents"})
	testingpkg.Equals(t, "Second", values["title"].ToVarchar())
	testingpkg.Equals(t, []string{"year", "contents"}, unresolved)

	copied, unresolved := Program{"contents": CopyRule("contents")}.Apply(other, outSchema, []string{"contents"})
	testingpkg.Equals(t, 0, len(unresolved))
	testingpkg.Equals(t, "title: Second\n", copied["contents"].ToVarchar())
}

func TestExtractKeyedValue(t *testing.T) {
	doc := newDoc(t, 0, "Publication Year: 2012\nnot a pair\n")
	v, ok := ExtractKeyedValue(doc, "publication_year")
	testingpkg.Assert(t, ok, "key found")
	testingpkg.Equals(t, "2012", v)
	_, ok = ExtractKeyedValue(doc, "author")
	testingpkg.AssertFalse(t, ok, "key missing")
}
