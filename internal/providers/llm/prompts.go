package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"jobengine/internal/domain"
	"jobengine/internal/engine"
)

const systemPrompt = "You are a market research assistant for Indonesian small businesses. Respond only with valid JSON."

const defaultLocale = "id-ID"

type analysisInput struct {
	Product  string `json:"product"`
	Category string `json:"category"`
	Region   string `json:"region"`
	Price    string `json:"price"`
	Notes    string `json:"notes"`
}

type discoveryInput struct {
	Query    string `json:"query"`
	Category string `json:"category"`
	Budget   string `json:"budget"`
	Limit    int    `json:"limit"`
}

func buildPrompt(req engine.Request) (string, error) {
	locale := coalesce(req.Locale, defaultLocale)
	country := coalesce(req.Country, "ID")
	sb := &strings.Builder{}

	switch req.Kind {
	case domain.JobKindMarketAnalysis:
		var in analysisInput
		if err := json.Unmarshal(req.Input, &in); err != nil {
			return "", fmt.Errorf("decode market analysis input: %w", err)
		}
		sb.WriteString("Analyse the market for a product. Respond strictly with JSON matching this schema: ")
		sb.WriteString(`{"summary":string,"demand":"low"|"medium"|"high","target_segments":string[],"price_range":{"min":number,"max":number,"currency":string},"channels":string[],"competitors":string[],"risks":string[],"recommendations":string[]}`)
		fmt.Fprintf(sb, ". Write in locale '%s' for a seller in country %s. Input: product=%q, category=%q, region=%q, price=%q, notes=%q.",
			locale, country, in.Product, in.Category, in.Region, in.Price, in.Notes)
	case domain.JobKindProductDiscovery:
		var in discoveryInput
		if err := json.Unmarshal(req.Input, &in); err != nil {
			return "", fmt.Errorf("decode product discovery input: %w", err)
		}
		limit := in.Limit
		if limit <= 0 || limit > 10 {
			limit = 5
		}
		sb.WriteString("Suggest products a small business could sell. Respond strictly with JSON matching this schema: ")
		sb.WriteString(`{"products":[{"name":string,"reason":string,"estimated_margin":string,"keywords":string[]}],"trends":string[]}`)
		fmt.Fprintf(sb, ". Return exactly %d products. Write in locale '%s' for country %s. Input: query=%q, category=%q, budget=%q.",
			limit, locale, country, in.Query, in.Category, in.Budget)
	default:
		return "", fmt.Errorf("llm provider does not serve %s", req.Kind)
	}
	return sb.String(), nil
}

func coalesce(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

// extractJSONFragment strips code fences and prose around the first JSON
// object or array in a model reply.
func extractJSONFragment(raw string) string {
	text := trimCodeFence(strings.TrimSpace(raw))
	if text == "" {
		return ""
	}
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

func trimCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```JSON")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
