package inference

import (
	"sort"

	"github.com/cockroachdb/errors"
)

// ModelCard holds the prior knowledge about a model which naive estimates use
type ModelCard struct {
	Name string
	// USD per record for a single bonded call
	CostPerRecord    float64
	SecondsPerRecord float64
	// expected fraction of correct answers in [0, 1]
	Quality float64
	// expected fraction of correct synthesized programs in [0, 1]
	CodeQuality float64
}

var defaultModelCards = map[string]ModelCard{
	"gpt-4": {
		Name:             "gpt-4",
		CostPerRecord:    0.03,
		SecondsPerRecord: 6.0,
		Quality:          0.92,
		CodeQuality:      0.85,
	},
	"gpt-3.5-turbo": {
		Name:             "gpt-3.5-turbo",
		CostPerRecord:    0.002,
		SecondsPerRecord: 2.5,
		Quality:          0.78,
		CodeQuality:      0.60,
	},
	"mixtral-8x7b": {
		Name:             "mixtral-8x7b",
		CostPerRecord:    0.0006,
		SecondsPerRecord: 1.5,
		Quality:          0.70,
		CodeQuality:      0.45,
	},
}

// ModelRegistry maps model names to cards
type ModelRegistry struct {
	cards map[string]ModelCard
}

func NewDefaultModelRegistry() *ModelRegistry {
	ret := &ModelRegistry{make(map[string]ModelCard)}
	for k, v := range defaultModelCards {
		ret.cards[k] = v
	}
	return ret
}

func (mr *ModelRegistry) Register(card ModelCard) {
	mr.cards[card.Name] = card
}

func (mr *ModelRegistry) GetModelCard(name string) (ModelCard, error) {
	card, ok := mr.cards[name]
	if !ok {
		return ModelCard{}, errors.Newf("unknown model %s", name)
	}
	return card, nil
}

// Names returns registered model names in lexical order
func (mr *ModelRegistry) Names() []string {
	ret := make([]string, 0, len(mr.cards))
	for name := range mr.cards {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}
