package classification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/otherjamesbrown/relief/pkg/buildinfo"
	"github.com/otherjamesbrown/relief/pkg/logging"
	"github.com/otherjamesbrown/relief/pkg/triage"
)

const systemPrompt = `You triage short social media posts written during disasters.
Return a single JSON object and nothing else, shaped as:
{"classification":{"isHelpRequest":bool,"urgency":"High|Medium|Low|Needs Review|Not Applicable","confidence":0..1,"categories":[string]},
 "extractedDetails":{"names":[string],"contacts":{"phones":[string],"emails":[string]},
  "locations":[{"name":string,"coordinates":{"latitude":number,"longitude":number}}],
  "helpType":"Medical|Food|Shelter|Rescue|Evacuation|Information|Other",
  "quantities":[{"item":string,"amount":number,"unit":string}]}}
Omit coordinates when unknown.`

// maxResponseBytes bounds how much of a remote response is read.
const maxResponseBytes = 1 << 20

// RemoteClassifier classifies text through an OpenAI-compatible
// /v1/chat/completions endpoint.
type RemoteClassifier struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     logging.Logger
}

// NewRemoteClassifier creates a remote classifier. Requests are bounded by
// cfg.Timeout and throttled to cfg.RequestsPerMinute.
func NewRemoteClassifier(cfg Config, logger logging.Logger) *RemoteClassifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = logging.MustGlobal()
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}

	return &RemoteClassifier{
		cfg:        cfg,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		logger:     logger.With(logging.F("component", "remote_classifier")),
	}
}

// Name returns the backend identifier.
func (c *RemoteClassifier) Name() string {
	return fmt.Sprintf("%s-%s", BackendRemote, c.cfg.Model)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// remotePayload is the document the model is asked to return.
type remotePayload struct {
	Classification *struct {
		IsHelpRequest *bool    `json:"isHelpRequest"`
		Urgency       string   `json:"urgency"`
		Confidence    *float64 `json:"confidence"`
		Categories    []string `json:"categories"`
	} `json:"classification"`
	ExtractedDetails json.RawMessage `json:"extractedDetails,omitempty"`
}

// remoteDetails is the expected shape of extractedDetails. The pipeline
// extracts entities locally, so the remote copy is only checked.
type remoteDetails struct {
	Names    []string `json:"names"`
	Contacts *struct {
		Phones []string `json:"phones"`
		Emails []string `json:"emails"`
	} `json:"contacts"`
	Locations []struct {
		Name        string `json:"name"`
		Coordinates *struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"coordinates"`
	} `json:"locations"`
	HelpType   string `json:"helpType"`
	Quantities []struct {
		Item   string  `json:"item"`
		Amount float64 `json:"amount"`
		Unit   string  `json:"unit"`
	} `json:"quantities"`
}

// Classify calls the remote endpoint. Remote failures of any kind produce
// the fallback verdict with a nil error. Only cancellation of ctx itself is
// returned as an error.
func (c *RemoteClassifier) Classify(ctx context.Context, text string) (*Result, error) {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cls, raw, err := c.classify(callCtx, text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var remoteErr *RemoteError
		if !errors.As(err, &remoteErr) {
			remoteErr = &RemoteError{Code: ErrUnavailable, Message: err.Error()}
		}
		c.logger.Warn("Remote classification failed, using fallback",
			logging.Err(err),
			logging.F("reason", remoteErr.Code),
			logging.F("duration", time.Since(start)))
		return &Result{
			Classification: Fallback(),
			Raw:            raw,
			Fallback:       true,
			FallbackReason: remoteErr.Code,
		}, nil
	}

	c.logger.Debug("Remote classification complete",
		logging.F("urgency", string(cls.Urgency)),
		logging.F("confidence", cls.Confidence),
		logging.F("duration", time.Since(start)))
	return &Result{Classification: cls, Raw: raw}, nil
}

func (c *RemoteClassifier) classify(ctx context.Context, text string) (triage.Classification, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return triage.Classification{}, "", &RemoteError{Code: ErrRateLimited, Message: fmt.Sprintf("limiter wait: %v", err)}
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0.1, // Low temperature for structured output
		MaxTokens:   512,
	})
	if err != nil {
		return triage.Classification{}, "", &RemoteError{Code: ErrParseFailure, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := fmt.Sprintf("%s/v1/chat/completions", c.cfg.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return triage.Classification{}, "", &RemoteError{Code: ErrUnavailable, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", buildinfo.UserAgent())
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return triage.Classification{}, "", &RemoteError{Code: ErrTimeout, Message: "request timeout"}
		}
		return triage.Classification{}, "", &RemoteError{Code: ErrUnavailable, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return triage.Classification{}, "", &RemoteError{Code: ErrTimeout, Message: "read timeout"}
		}
		return triage.Classification{}, "", &RemoteError{Code: ErrParseFailure, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return triage.Classification{}, string(respBody), &RemoteError{Code: ErrRateLimited, Message: "HTTP 429"}
	}
	if resp.StatusCode != http.StatusOK {
		return triage.Classification{}, string(respBody), &RemoteError{
			Code:    ErrUnavailable,
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Details: string(respBody),
		}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return triage.Classification{}, string(respBody), &RemoteError{Code: ErrParseFailure, Message: fmt.Sprintf("parse response: %v", err)}
	}
	if len(chatResp.Choices) == 0 {
		return triage.Classification{}, string(respBody), &RemoteError{Code: ErrParseFailure, Message: "no choices in response"}
	}

	content := chatResp.Choices[0].Message.Content
	cls, err := parsePayload(content)
	return cls, content, err
}

// parsePayload validates the model's JSON document.
func parsePayload(content string) (triage.Classification, error) {
	// Models sometimes wrap JSON in markdown fences.
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var payload remotePayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return triage.Classification{}, &RemoteError{Code: ErrParseFailure, Message: fmt.Sprintf("parse JSON: %v", err), Details: content}
	}

	p := payload.Classification
	if p == nil {
		return triage.Classification{}, &RemoteError{Code: ErrInvalidResponse, Message: "missing classification"}
	}
	if p.IsHelpRequest == nil {
		return triage.Classification{}, &RemoteError{Code: ErrInvalidResponse, Message: "missing isHelpRequest"}
	}
	urgency, ok := triage.ParseUrgency(p.Urgency)
	if !ok {
		return triage.Classification{}, &RemoteError{Code: ErrInvalidResponse, Message: fmt.Sprintf("unknown urgency %q", p.Urgency)}
	}
	if p.Confidence == nil || *p.Confidence < 0 || *p.Confidence > 1 || *p.Confidence != *p.Confidence {
		return triage.Classification{}, &RemoteError{Code: ErrInvalidResponse, Message: "confidence outside [0,1]"}
	}

	if err := checkDetails(payload.ExtractedDetails); err != nil {
		return triage.Classification{}, err
	}

	return triage.Classification{
		IsHelpRequest: *p.IsHelpRequest,
		Urgency:       urgency,
		Confidence:    *p.Confidence,
		Categories:    dedupe(p.Categories),
	}, nil
}

// checkDetails rejects an extractedDetails document that does not match
// remoteDetails. An absent or null document is accepted.
func checkDetails(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '{' {
		return &RemoteError{Code: ErrInvalidResponse, Message: "extractedDetails is not an object"}
	}

	var details remoteDetails
	if err := json.Unmarshal(trimmed, &details); err != nil {
		return &RemoteError{Code: ErrInvalidResponse, Message: fmt.Sprintf("extractedDetails: %v", err)}
	}
	if details.HelpType != "" {
		if _, ok := triage.ParseHelpType(details.HelpType); !ok {
			return &RemoteError{Code: ErrInvalidResponse, Message: fmt.Sprintf("unknown helpType %q", details.HelpType)}
		}
	}
	for _, loc := range details.Locations {
		if strings.TrimSpace(loc.Name) == "" {
			return &RemoteError{Code: ErrInvalidResponse, Message: "location without name"}
		}
	}
	return nil
}

// dedupe lower-cases and de-duplicates categories, keeping first-seen order.
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
