package model

// ModelPricing holds per-million-token prices in dollars for one model.
type ModelPricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

var modelPricing = map[string]ModelPricing{
	"llama-3.3-70b-versatile":     {InputPerMTok: 0.59, OutputPerMTok: 0.79},
	"llama-3.1-8b-instant":        {InputPerMTok: 0.05, OutputPerMTok: 0.08},
	"openai/gpt-oss-120b":         {InputPerMTok: 0.15, OutputPerMTok: 0.75},
	"qwen/qwen3-32b":              {InputPerMTok: 0.29, OutputPerMTok: 0.59},
	"moonshotai/kimi-k2-instruct": {InputPerMTok: 1.00, OutputPerMTok: 3.00},
}

// fallback for models missing from the table; priced at the most expensive
// entry so an unknown model never slips under the cost ceiling
var defaultPricing = ModelPricing{InputPerMTok: 1.00, OutputPerMTok: 3.00}

// PricingFor returns the pricing for a model identifier.
func PricingFor(modelID string) ModelPricing {
	if p, ok := modelPricing[modelID]; ok {
		return p
	}
	return defaultPricing
}

// EstimateCost gives the worst-case dollar cost of a completion request,
// assuming every requested token is consumed as output.
func EstimateCost(modelID string, promptTokens, maxTokens int) float64 {
	p := PricingFor(modelID)
	return float64(promptTokens)/1e6*p.InputPerMTok + float64(maxTokens)/1e6*p.OutputPerMTok
}
