package dify

import "time"

// Usage accumulates token and price accounting across the turns of a
// translation session. Currency is carried through unchanged; the API
// reports a uniform currency for all turns of a conversation.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	PromptPrice      float64 `json:"prompt_price,omitempty"`
	CompletionPrice  float64 `json:"completion_price,omitempty"`
	TotalPrice       float64 `json:"total_price,omitempty"`
	Currency         string  `json:"currency,omitempty"`
}

// Add sums v into u.
func (u *Usage) Add(v Usage) {
	u.PromptTokens += v.PromptTokens
	u.CompletionTokens += v.CompletionTokens
	u.TotalTokens += v.TotalTokens
	u.PromptPrice += v.PromptPrice
	u.CompletionPrice += v.CompletionPrice
	u.TotalPrice += v.TotalPrice
	if v.Currency != "" {
		u.Currency = v.Currency
	}
}

// Result carries the metadata of a completed translation call.
type Result struct {
	Usage    Usage
	Turns    int
	Duration time.Duration
}
