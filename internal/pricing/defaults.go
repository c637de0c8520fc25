package pricing

import (
	"context"

	"github.com/shopspring/decimal"
)

// defaultModelRates is the platform's starting base price list for LLM models, $/min.
var defaultModelRates = []RateInput{
	{ProviderID: "openai", ItemID: "gpt-4.1", Rate: decimal.RequireFromString("0.10")},
	{ProviderID: "openai", ItemID: "gpt-4.1-mini", Rate: decimal.RequireFromString("0.06")},
	{ProviderID: "openai", ItemID: "gpt-4.1-nano", Rate: decimal.RequireFromString("0.04")},
	{ProviderID: "openai", ItemID: "gpt-4o", Rate: decimal.RequireFromString("0.10")},
	{ProviderID: "openai", ItemID: "gpt-4o-mini", Rate: decimal.RequireFromString("0.06")},
	{ProviderID: "openai", ItemID: "o3", Rate: decimal.RequireFromString("0.20")},
	{ProviderID: "openai", ItemID: "o3-mini", Rate: decimal.RequireFromString("0.10")},
	{ProviderID: "openai", ItemID: "o4-mini", Rate: decimal.RequireFromString("0.10")},
	{ProviderID: "openai", ItemID: "gpt-3.5-turbo", Rate: decimal.RequireFromString("0.04")},
	{ProviderID: "anthropic", ItemID: "claude-3-5-sonnet-20241022", Rate: decimal.RequireFromString("0.12")},
	{ProviderID: "anthropic", ItemID: "claude-3-5-haiku-20241022", Rate: decimal.RequireFromString("0.06")},
	{ProviderID: "anthropic", ItemID: "claude-3-opus-20240229", Rate: decimal.RequireFromString("0.25")},
	{ProviderID: "google", ItemID: "gemini-1.5-pro", Rate: decimal.RequireFromString("0.10")},
	{ProviderID: "google", ItemID: "gemini-1.5-flash", Rate: decimal.RequireFromString("0.04")},
	{ProviderID: "groq", ItemID: "llama-3.3-70b-versatile", Rate: decimal.RequireFromString("0.04")},
	{ProviderID: "groq", ItemID: "llama-3.1-8b-instant", Rate: decimal.RequireFromString("0.02")},
	{ProviderID: "deepseek", ItemID: "deepseek-chat", Rate: decimal.RequireFromString("0.06")},
	{ProviderID: "mistral", ItemID: "mistral-large-latest", Rate: decimal.RequireFromString("0.10")},
	{ProviderID: "mistral", ItemID: "mistral-small-latest", Rate: decimal.RequireFromString("0.04")},
}

var defaultTranscriberRates = []RateInput{
	{ProviderID: TranscriberProvider, ItemID: "deepgram", Rate: decimal.RequireFromString("0.02")},
	{ProviderID: TranscriberProvider, ItemID: "assembly-ai", Rate: decimal.RequireFromString("0.03")},
	{ProviderID: TranscriberProvider, ItemID: "azure", Rate: decimal.RequireFromString("0.02")},
	{ProviderID: TranscriberProvider, ItemID: "11labs", Rate: decimal.RequireFromString("0.03")},
	{ProviderID: TranscriberProvider, ItemID: "gladia", Rate: decimal.RequireFromString("0.03")},
	{ProviderID: TranscriberProvider, ItemID: "google", Rate: decimal.RequireFromString("0.02")},
	{ProviderID: TranscriberProvider, ItemID: "openai", Rate: decimal.RequireFromString("0.02")},
	{ProviderID: TranscriberProvider, ItemID: "speechmatics", Rate: decimal.RequireFromString("0.03")},
	{ProviderID: TranscriberProvider, ItemID: "talkscriber", Rate: decimal.RequireFromString("0.02")},
	{ProviderID: TranscriberProvider, ItemID: "cartesia", Rate: decimal.RequireFromString("0.02")},
}

// SeedDefaults writes the default GLOBAL price list if no GLOBAL rate exists yet.
// It returns the number of entries written (0 when already seeded).
func (s *Service) SeedDefaults(ctx context.Context) (int, error) {
	n, err := s.repo.CountRates(ctx, ScopeGlobal)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	now := s.clock().UTC()
	all := make([]RateEntry, 0, len(defaultModelRates)+len(defaultTranscriberRates))
	for _, list := range [][]RateInput{defaultModelRates, defaultTranscriberRates} {
		for _, in := range list {
			all = append(all, RateEntry{Scope: ScopeGlobal, ProviderID: in.ProviderID, ItemID: in.ItemID, Rate: in.Rate, UpdatedAt: now})
		}
	}
	if err := s.repo.UpsertRates(ctx, all); err != nil {
		return 0, err
	}
	return len(all), nil
}
