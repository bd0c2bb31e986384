package dify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sony/gobreaker"
)

func TestNewClient_NoAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	if err == nil {
		t.Fatal("Expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "API key") {
		t.Errorf("Expected API key error, got: %v", err)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if client.config.Endpoint != DefaultEndpoint {
		t.Errorf("Expected default endpoint, got %q", client.config.Endpoint)
	}
	if client.config.Query != DefaultQuery {
		t.Errorf("Expected default query, got %q", client.config.Query)
	}
	if client.config.ResponseMode != ResponseModeStreaming {
		t.Errorf("Expected streaming mode, got %q", client.config.ResponseMode)
	}
	if client.config.MaxCompletionTokens != DefaultMaxCompletionTokens {
		t.Errorf("Expected default ceiling, got %d", client.config.MaxCompletionTokens)
	}
	if client.limiter != nil {
		t.Error("Expected no rate limiter by default")
	}
}

// newTestClient points a client at a test server.
func newTestClient(t *testing.T, url, mode string) *Client {
	t.Helper()

	client, err := NewClient(Config{
		APIKey:       "test-key",
		Endpoint:     url,
		User:         "tester",
		ResponseMode: mode,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

// writeEndEvent emits a message_end record with the given completion count.
func writeEndEvent(w http.ResponseWriter, conversationID string, completionTokens int) {
	fmt.Fprintf(w, `data: {"event":"message_end","conversation_id":"%s","metadata":{"usage":{"prompt_tokens":1000,"completion_tokens":%d,"total_tokens":%d,"prompt_price":"0.001","completion_price":"0.002","total_price":"0.003","currency":"USD"}}}`+"\n\n",
		conversationID, completionTokens, 1000+completionTokens)
}

func TestTranslate_SingleTurnStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Expected bearer auth, got %q", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Inputs.TargetLanguage != "ja" {
			t.Errorf("Expected target language ja, got %q", req.Inputs.TargetLanguage)
		}
		if req.Inputs.InputContent != "# Title" {
			t.Errorf("Expected input content, got %q", req.Inputs.InputContent)
		}
		if req.Query != DefaultQuery {
			t.Errorf("Expected default query, got %q", req.Query)
		}
		if req.ConversationID != "" {
			t.Errorf("Expected empty conversation_id on first turn, got %q", req.ConversationID)
		}
		if req.User != "tester" {
			t.Errorf("Expected user tester, got %q", req.User)
		}

		fmt.Fprint(w, "data: {\"event\":\"message\",\"answer\":\"# タ\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"ping\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message\",\"answer\":\"イトル\"}\n\n")
		writeEndEvent(w, "conv-1", 40)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ResponseModeStreaming)
	text, result, err := client.Translate(context.Background(), "# Title", "ja", nil)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	if text != "# タイトル" {
		t.Errorf("Expected '# タイトル', got %q", text)
	}
	if result.Turns != 1 {
		t.Errorf("Expected 1 turn, got %d", result.Turns)
	}
	if result.Usage.TotalTokens != 1040 {
		t.Errorf("Expected 1040 total tokens, got %d", result.Usage.TotalTokens)
	}
	if result.Usage.TotalPrice != 0.003 {
		t.Errorf("Expected total price 0.003, got %v", result.Usage.TotalPrice)
	}
	if result.Usage.Currency != "USD" {
		t.Errorf("Expected currency USD, got %q", result.Usage.Currency)
	}
}

func TestTranslate_MalformedLinesSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"event\":\"message\",\"answer\":\"part one\"}\n\n")
		fmt.Fprint(w, "this line has no prefix\n")
		fmt.Fprint(w, "data: {not json at all\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message\",\"answer\":\" part two\"}\n\n")
		writeEndEvent(w, "conv-1", 40)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ResponseModeStreaming)
	text, _, err := client.Translate(context.Background(), "input", "en", nil)
	if err != nil {
		t.Fatalf("Translate failed despite noise tolerance: %v", err)
	}
	if text != "part one part two" {
		t.Errorf("Expected 'part one part two', got %q", text)
	}
}

func TestTranslate_ErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"event\":\"message\",\"answer\":\"partial\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"error\",\"status\":400,\"code\":\"invalid_param\",\"message\":\"bad input\"}\n\n")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ResponseModeStreaming)
	text, _, err := client.Translate(context.Background(), "input", "en", nil)
	if err == nil {
		t.Fatal("Expected error from error event")
	}
	if text != "" {
		t.Errorf("Expected no partial text on failure, got %q", text)
	}

	var terr *TranslationError
	if !errors.As(err, &terr) {
		t.Fatalf("Expected *TranslationError, got %T: %v", err, err)
	}
	if terr.Code != "invalid_param" || terr.Message != "bad input" {
		t.Errorf("Unexpected error details: %+v", terr)
	}
}

func TestTranslate_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ResponseModeStreaming)
	_, _, err := client.Translate(context.Background(), "input", "en", nil)

	var terr *TranslationError
	if !errors.As(err, &terr) {
		t.Fatalf("Expected *TranslationError, got %T: %v", err, err)
	}
	if terr.Status != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", terr.Status)
	}
}

func TestTranslate_NoText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEndEvent(w, "conv-1", 40)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ResponseModeStreaming)
	_, _, err := client.Translate(context.Background(), "input", "en", nil)
	if err == nil {
		t.Fatal("Expected error for empty translation")
	}
	if !strings.Contains(err.Error(), "no translation received") {
		t.Errorf("Expected 'no translation received' error, got: %v", err)
	}
}

func TestTranslate_ContinuationLoop(t *testing.T) {
	const turns = 4
	texts := []string{"alpha bravo ", "charlie delta ", "echo foxtrot ", "golf hotel"}

	var mu sync.Mutex
	var requests []chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		mu.Lock()
		requests = append(requests, req)
		turn := len(requests)
		mu.Unlock()
		fmt.Fprintf(w, "data: {\"event\":\"message\",\"answer\":%q}\n\n", texts[turn-1])
		if turn < turns {
			// At the ceiling: truncated, expect a continuation
			writeEndEvent(w, "conv-42", DefaultMaxCompletionTokens)
		} else {
			writeEndEvent(w, "conv-42", 100)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ResponseModeStreaming)
	text, result, err := client.Translate(context.Background(), "long document", "en", nil)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	if len(requests) != turns {
		t.Fatalf("Expected %d turns, got %d", turns, len(requests))
	}
	if result.Turns != turns {
		t.Errorf("Expected result.Turns %d, got %d", turns, result.Turns)
	}

	// First turn starts a new conversation with the translate query
	if requests[0].ConversationID != "" || requests[0].Query != DefaultQuery {
		t.Errorf("Unexpected first turn request: %+v", requests[0])
	}
	// Continuation turns reuse the conversation with the continue directive
	for i := 1; i < turns; i++ {
		if requests[i].ConversationID != "conv-42" {
			t.Errorf("Turn %d: expected conversation_id conv-42, got %q", i+1, requests[i].ConversationID)
		}
		if requests[i].Query != continueQuery {
			t.Errorf("Turn %d: expected continue query, got %q", i+1, requests[i].Query)
		}
	}

	if want := strings.Join(texts, ""); text != want {
		t.Errorf("Expected %q, got %q", want, text)
	}

	// Cumulative usage is the sum over all turns
	wantCompletion := 3*DefaultMaxCompletionTokens + 100
	if result.Usage.CompletionTokens != wantCompletion {
		t.Errorf("Expected %d completion tokens, got %d", wantCompletion, result.Usage.CompletionTokens)
	}
	if result.Usage.TotalTokens != 4*1000+wantCompletion {
		t.Errorf("Expected %d total tokens, got %d", 4*1000+wantCompletion, result.Usage.TotalTokens)
	}
}

func TestTranslate_OverlapAcrossTurns(t *testing.T) {
	var sentences strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sentences, "line %02d of the translated output. ", i)
	}
	firstTurn := sentences.String() + "the quick brown fox"
	secondTurn := lastChars(firstTurn, overlapWindow) + " jumps over the lazy dog"

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			fmt.Fprintf(w, "data: {\"event\":\"message\",\"answer\":%q}\n\n", firstTurn)
			writeEndEvent(w, "conv-7", DefaultMaxCompletionTokens)
			return
		}
		fmt.Fprintf(w, "data: {\"event\":\"message\",\"answer\":%q}\n\n", secondTurn)
		writeEndEvent(w, "conv-7", 50)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ResponseModeStreaming)
	text, _, err := client.Translate(context.Background(), "doc", "en", nil)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	want := firstTurn + " jumps over the lazy dog"
	if text != want {
		t.Errorf("Expected overlap-merged text %q, got %q", want, text)
	}
	if strings.Count(text, "the quick brown fox") != 1 {
		t.Error("Continuation overlap was duplicated")
	}
}

func TestTranslate_Blocking(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.ResponseMode != ResponseModeBlocking {
			t.Errorf("Expected blocking mode, got %q", req.ResponseMode)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"event":"message","answer":"translated text","conversation_id":"conv-9","metadata":{"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15,"currency":"USD"}}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ResponseModeBlocking)
	text, result, err := client.Translate(context.Background(), "input", "fr", nil)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if text != "translated text" {
		t.Errorf("Expected 'translated text', got %q", text)
	}
	if result.Turns != 1 || result.Usage.TotalTokens != 15 {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestTranslate_BlockingError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error":"quota exceeded"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ResponseModeBlocking)
	_, _, err := client.Translate(context.Background(), "input", "fr", nil)

	var terr *TranslationError
	if !errors.As(err, &terr) {
		t.Fatalf("Expected *TranslationError, got %T: %v", err, err)
	}
	if !strings.Contains(terr.Message, "quota exceeded") {
		t.Errorf("Expected quota message, got %q", terr.Message)
	}
}

func TestTranslate_OversizedEventLine(t *testing.T) {
	// One event line carrying a multi-megabyte fragment must survive intact.
	huge := strings.Repeat("oversized fragment payload ", 80000)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "data: {\"event\":\"message\",\"answer\":%q}\n\n", huge)
		writeEndEvent(w, "conv-1", 40)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ResponseModeStreaming)
	text, _, err := client.Translate(context.Background(), "input", "en", nil)
	if err != nil {
		t.Fatalf("Translate failed on oversized line: %v", err)
	}
	if text != huge {
		t.Errorf("Oversized fragment was not preserved: got %d chars, want %d", len(text), len(huge))
	}
}

func TestTranslate_BreakerIgnoresDocumentErrors(t *testing.T) {
	// A run of bad documents must not fail-fast the healthy ones behind it.
	const badCalls = 8

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= badCalls {
			fmt.Fprint(w, "data: {\"event\":\"error\",\"status\":400,\"code\":\"invalid_param\",\"message\":\"bad document\"}\n\n")
			return
		}
		fmt.Fprint(w, "data: {\"event\":\"message\",\"answer\":\"healthy\"}\n\n")
		writeEndEvent(w, "conv-1", 40)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ResponseModeStreaming)
	for i := 0; i < badCalls; i++ {
		_, _, err := client.Translate(context.Background(), "poison", "en", nil)
		var terr *TranslationError
		if !errors.As(err, &terr) {
			t.Fatalf("Call %d: expected *TranslationError, got %T: %v", i+1, err, err)
		}
	}

	text, _, err := client.Translate(context.Background(), "fine", "en", nil)
	if err != nil {
		t.Fatalf("Healthy file failed after bad documents: %v", err)
	}
	if text != "healthy" {
		t.Errorf("Expected 'healthy', got %q", text)
	}
}

func TestTranslate_BreakerOpensOnServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ResponseModeStreaming)
	for i := 0; i < 6; i++ {
		_, _, err := client.Translate(context.Background(), "input", "en", nil)
		var terr *TranslationError
		if !errors.As(err, &terr) {
			t.Fatalf("Call %d: expected *TranslationError, got %T: %v", i+1, err, err)
		}
	}

	_, _, err := client.Translate(context.Background(), "input", "en", nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("Expected open circuit after consecutive server errors, got %v", err)
	}
	if calls != 6 {
		t.Errorf("Expected 6 requests to reach the server, got %d", calls)
	}
}

func TestTranslate_StreamWithoutTerminalRecord(t *testing.T) {
	// A stream that ends without message_end keeps what arrived and cannot
	// be considered truncated.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"event\":\"message\",\"answer\":\"partial but usable\"}\n\n")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ResponseModeStreaming)
	text, result, err := client.Translate(context.Background(), "input", "en", nil)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if text != "partial but usable" {
		t.Errorf("Expected kept fragments, got %q", text)
	}
	if result.Turns != 1 || result.Usage.TotalTokens != 0 {
		t.Errorf("Expected single turn with zero usage, got %+v", result)
	}
}
