package dify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	// DefaultEndpoint is the chat-messages endpoint of the translation
	// service.
	DefaultEndpoint = "https://dify.guance.com/v1/chat-messages"

	// DefaultQuery instructs the service to translate the supplied input.
	DefaultQuery = "请翻译。"

	// continueQuery is sent on continuation turns of the same conversation.
	continueQuery = "请继续。"

	// DefaultMaxCompletionTokens is the assumed per-turn output ceiling. A
	// turn whose completion-token count reaches it is treated as truncated.
	DefaultMaxCompletionTokens = 4096
)

// ResponseMode selects how the service delivers a turn's output.
const (
	ResponseModeStreaming = "streaming"
	ResponseModeBlocking  = "blocking"
)

// TranslationError reports an exchange-level failure: a non-success HTTP
// status, an explicit error payload, or a complete exchange that produced
// no text.
type TranslationError struct {
	Status  int // HTTP status, 0 when not applicable
	Code    string
	Message string
}

func (e *TranslationError) Error() string {
	switch {
	case e.Status != 0 && e.Code != "":
		return fmt.Sprintf("translation failed (status %d, code %s): %s", e.Status, e.Code, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("translation failed (status %d): %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("translation failed: %s", e.Message)
	}
}

// WorkerContext identifies the worker driving a translation call and its
// position in that worker's assignment. It is owned exclusively by the
// calling worker for the duration of the call; two concurrent calls must
// never share one.
type WorkerContext struct {
	ID    int    // worker index
	Item  int    // 1-based position of the current file in the assignment
	Total int    // total files assigned to this worker
	Path  string // relative path being translated
}

func (w *WorkerContext) String() string {
	return fmt.Sprintf("worker %d [%d/%d] %s", w.ID, w.Item, w.Total, w.Path)
}

// Config configures a Client.
type Config struct {
	APIKey              string
	Endpoint            string // DefaultEndpoint if empty
	User                string
	Query               string // DefaultQuery if empty
	ResponseMode        string // ResponseModeStreaming if empty
	MaxCompletionTokens int    // DefaultMaxCompletionTokens if 0
	RequestsPerMinute   int    // 0 = unlimited
	HTTPClient          *http.Client
}

// Client talks to the translation service. One Client is safe for
// concurrent use by multiple workers; per-call state lives in a session.
type Client struct {
	config  Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewClient creates a client. A missing API key is a configuration error
// and is reported before any work begins.
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Dify API key not found: set DIFY_API_KEY or pass --api-key")
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Query == "" {
		config.Query = DefaultQuery
	}
	if config.ResponseMode == "" {
		config.ResponseMode = ResponseModeStreaming
	}
	if config.MaxCompletionTokens <= 0 {
		config.MaxCompletionTokens = DefaultMaxCompletionTokens
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		// No per-call timeout: a large document can legitimately stream
		// for a long time.
		httpClient = &http.Client{}
	}

	var limiter *rate.Limiter
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1)
	}

	return &Client{
		config: config,
		client: httpClient,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "dify",
			// A document-level rejection says nothing about service
			// health; only transport errors and server-side failures
			// count toward opening the circuit.
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				var terr *TranslationError
				if errors.As(err, &terr) {
					return terr.Status < http.StatusInternalServerError
				}
				return false
			},
		}),
		limiter: limiter,
	}, nil
}

// chatRequest is the request body of one turn.
type chatRequest struct {
	Inputs         chatInputs `json:"inputs"`
	Query          string     `json:"query"`
	ResponseMode   string     `json:"response_mode"`
	ConversationID string     `json:"conversation_id"`
	User           string     `json:"user"`
}

type chatInputs struct {
	TargetLanguage string `json:"target_language"`
	InputContent   string `json:"input_content"`
}

// turnResult is what one request/response exchange produced.
type turnResult struct {
	text           string
	conversationID string
	usage          *Usage // nil when the terminal record carried none
}

// Translate translates text into targetLanguage, transparently continuing
// truncated turns. It returns the stitched translation and the session's
// cumulative usage metadata. wctx may be nil.
func (c *Client) Translate(ctx context.Context, text, targetLanguage string, wctx *WorkerContext) (string, *Result, error) {
	start := time.Now()
	sess := &session{}

	for {
		query := c.config.Query
		if sess.turns > 0 {
			query = continueQuery
		}

		turn, err := c.doTurn(ctx, text, targetLanguage, query, sess.conversationID)
		if err != nil {
			return "", nil, err
		}

		sess.append(turn.text)
		sess.turns++
		if turn.conversationID != "" {
			sess.conversationID = turn.conversationID
		}
		if turn.usage == nil {
			break
		}
		sess.usage.Add(*turn.usage)
		if turn.usage.CompletionTokens < c.config.MaxCompletionTokens {
			break
		}
		// Output hit the per-turn ceiling: the turn was truncated, continue
		// the same conversation.
		if wctx != nil {
			fmt.Printf("  %s: response truncated at %d tokens, continuing (turn %d)\n",
				wctx, turn.usage.CompletionTokens, sess.turns+1)
		}
	}

	translated := sess.text.String()
	if translated == "" {
		return "", nil, &TranslationError{Message: "no translation received from API"}
	}

	return translated, &Result{
		Usage:    sess.usage,
		Turns:    sess.turns,
		Duration: time.Since(start),
	}, nil
}

// doTurn performs one request/response exchange through the rate limiter
// and circuit breaker.
func (c *Client) doTurn(ctx context.Context, text, targetLanguage, query, conversationID string) (*turnResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.exchange(ctx, text, targetLanguage, query, conversationID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*turnResult), nil
}

func (c *Client) exchange(ctx context.Context, text, targetLanguage, query, conversationID string) (*turnResult, error) {
	body, err := json.Marshal(chatRequest{
		Inputs: chatInputs{
			TargetLanguage: targetLanguage,
			InputContent:   text,
		},
		Query:          query,
		ResponseMode:   c.config.ResponseMode,
		ConversationID: conversationID,
		User:           c.config.User,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TranslationError{
			Status:  resp.StatusCode,
			Message: string(bytes.TrimSpace(detail)),
		}
	}

	if c.config.ResponseMode == ResponseModeBlocking {
		return readBlocking(resp.Body)
	}
	return readStream(resp.Body)
}

// readStream consumes a streaming response. Answer fragments are appended
// in arrival order; the turn ends at the terminal record. Malformed lines
// are skipped as transport noise.
func readStream(r io.Reader) (*turnResult, error) {
	turn := &turnResult{}
	var fragments bytes.Buffer

	// ReadString rather than a Scanner: a single event line can carry a
	// whole document fragment and must not be bounded by a token size.
	reader := bufio.NewReader(r)
	for {
		line, readErr := reader.ReadString('\n')
		if ev := decodeStreamLine(line); ev != nil {
			switch ev.kind() {
			case kindAnswer:
				fragments.WriteString(ev.Answer)
				if ev.ConversationID != "" {
					turn.conversationID = ev.ConversationID
				}
			case kindEnd:
				if ev.ConversationID != "" {
					turn.conversationID = ev.ConversationID
				}
				turn.usage = ev.usage()
				turn.text = fragments.String()
				return turn, nil
			case kindError:
				return nil, &TranslationError{
					Status:  ev.Status,
					Code:    ev.Code,
					Message: ev.errorMessage(),
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read response stream: %w", readErr)
		}
	}

	// Stream ended without a terminal record: keep what arrived. Without a
	// usage payload the turn cannot be considered truncated.
	turn.text = fragments.String()
	return turn, nil
}

// readBlocking consumes a blocking response: a single JSON object with the
// same shape as a streaming event.
func readBlocking(r io.Reader) (*turnResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var ev streamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if ev.kind() == kindError {
		return nil, &TranslationError{
			Status:  ev.Status,
			Code:    ev.Code,
			Message: ev.errorMessage(),
		}
	}

	return &turnResult{
		text:           ev.Answer,
		conversationID: ev.ConversationID,
		usage:          ev.usage(),
	}, nil
}
