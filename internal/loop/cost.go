package loop

import (
	"strings"

	"tandem/internal/types"
)

// modelRates is USD per million tokens, keyed by model id prefix.
type modelRates struct {
	input  float64
	output float64
}

var ratesByPrefix = []struct {
	prefix string
	rates  modelRates
}{
	{"claude-opus", modelRates{input: 15.0, output: 75.0}},
	{"claude-sonnet", modelRates{input: 3.0, output: 15.0}},
	{"claude-haiku", modelRates{input: 0.80, output: 4.0}},
	{"claude-3-5-haiku", modelRates{input: 0.80, output: 4.0}},
}

var defaultRates = modelRates{input: 3.0, output: 15.0}

// estimateCost converts one call's token usage into a USD estimate. Cache
// reads are billed at a tenth of the input rate, cache writes at 1.25x,
// matching provider pricing closely enough for session accounting.
func estimateCost(model string, u types.Usage) float64 {
	rates := defaultRates
	for _, entry := range ratesByPrefix {
		if strings.HasPrefix(model, entry.prefix) {
			rates = entry.rates
			break
		}
	}

	const mtok = 1_000_000.0
	cost := float64(u.InputTokens) * rates.input / mtok
	cost += float64(u.OutputTokens) * rates.output / mtok
	cost += float64(u.CacheReadTokens) * rates.input * 0.1 / mtok
	cost += float64(u.CacheCreationTokens) * rates.input * 1.25 / mtok
	return cost
}
