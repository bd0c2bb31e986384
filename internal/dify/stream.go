package dify

import (
	"encoding/json"
	"strconv"
	"strings"
)

// streamPrefix is the literal marker in front of every event line the
// service emits in streaming mode.
const streamPrefix = "data: "

// eventKind classifies a decoded event record. The service emits more event
// names than we care about; everything unknown is ignorable by design of the
// protocol (forward compatibility), while an exchange-level error always
// carries either the "error" event name or an error field.
type eventKind int

const (
	kindAnswer eventKind = iota
	kindEnd
	kindError
	kindIgnore
)

// streamEvent is the decoded shape of one event record. Blocking responses
// use the same shape as a single object.
type streamEvent struct {
	Event          string         `json:"event"`
	Answer         string         `json:"answer"`
	ConversationID string         `json:"conversation_id"`
	Metadata       *eventMetadata `json:"metadata"`
	ErrorText      string         `json:"error"`
	Code           string         `json:"code"`
	Message        string         `json:"message"`
	Status         int            `json:"status"`
}

type eventMetadata struct {
	Usage *wireUsage `json:"usage"`
}

// wireUsage is the usage object as the API serializes it. Price fields come
// over the wire as decimal strings.
type wireUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	PromptPrice      string `json:"prompt_price"`
	CompletionPrice  string `json:"completion_price"`
	TotalPrice       string `json:"total_price"`
	Currency         string `json:"currency"`
}

func (e *streamEvent) kind() eventKind {
	if e.Event == "error" || e.ErrorText != "" {
		return kindError
	}
	switch e.Event {
	case "message", "agent_message":
		return kindAnswer
	case "message_end":
		return kindEnd
	case "":
		// Blocking responses and some chat deployments omit the event name.
		if e.Answer != "" {
			return kindAnswer
		}
		return kindIgnore
	default:
		return kindIgnore
	}
}

// usage returns the usage carried by a terminal event, or nil.
func (e *streamEvent) usage() *Usage {
	if e.Metadata == nil || e.Metadata.Usage == nil {
		return nil
	}
	w := e.Metadata.Usage
	return &Usage{
		PromptTokens:     w.PromptTokens,
		CompletionTokens: w.CompletionTokens,
		TotalTokens:      w.TotalTokens,
		PromptPrice:      parsePrice(w.PromptPrice),
		CompletionPrice:  parsePrice(w.CompletionPrice),
		TotalPrice:       parsePrice(w.TotalPrice),
		Currency:         w.Currency,
	}
}

func (e *streamEvent) errorMessage() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.ErrorText != "":
		return e.ErrorText
	default:
		return "unspecified API error"
	}
}

func parsePrice(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// decodeStreamLine decodes one line of a streaming response. It returns nil
// for blank lines, lines without the expected prefix, and lines whose
// payload is not valid JSON; such lines are transport noise and must not
// abort the exchange.
func decodeStreamLine(line string) *streamEvent {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, streamPrefix) {
		return nil
	}
	var ev streamEvent
	if err := json.Unmarshal([]byte(line[len(streamPrefix):]), &ev); err != nil {
		return nil
	}
	return &ev
}
