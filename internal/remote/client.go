// Package remote is the HTTP client for the exam API. Only the contract
// the engine relies on is modeled here; transport retry/backoff lives with
// the callers (the autosave pipeline retries on its own schedule).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
)

// AttemptPayload is the server's answer to GET attempt: the authoritative
// time/page state read exactly once on load, plus whatever the last sync
// persisted.
type AttemptPayload struct {
	SessionToken     string            `json:"session_token"`
	RemainingSeconds int               `json:"remaining_seconds"`
	TotalPages       int               `json:"total_pages"`
	TotalQuestions   int               `json:"total_questions"`
	Pages            []model.Page      `json:"pages"`
	SavedAnswers     model.AnswerMap   `json:"saved_answers,omitempty"`
	SavedAudioCounts model.AudioCounts `json:"saved_audio_counts,omitempty"`
	SavedPageIndex   *int              `json:"saved_page_index,omitempty"`
	Category         model.Category    `json:"category"`
	Meta             model.TestMeta    `json:"test_meta"`
}

// SavedAnswer is one answer entry on the wire.
type SavedAnswer struct {
	QuestionID string           `json:"question_id"`
	Type       model.AnswerType `json:"type"`
	Values     []string         `json:"values"`
}

// SaveRequest is the POST saveAnswers payload. An empty Answers slice is a
// legal probe: it validates the session without persisting anything new.
type SaveRequest struct {
	Answers          []SavedAnswer     `json:"answers"`
	AudioCounts      model.AudioCounts `json:"audio_counts,omitempty"`
	CurrentPageIndex int               `json:"current_page_index"`
	Meta             map[string]any    `json:"meta,omitempty"`
}

// BuildSaveRequest flattens the in-memory answer map into the wire shape,
// ordered by question id for stable payloads.
func BuildSaveRequest(answers model.AnswerMap, counts model.AudioCounts, pageIndex int, meta map[string]any) SaveRequest {
	ids := make([]string, 0, len(answers))
	for id := range answers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]SavedAnswer, 0, len(ids))
	for _, id := range ids {
		e := answers[id]
		items = append(items, SavedAnswer{QuestionID: id, Type: e.Type, Values: e.Values})
	}
	return SaveRequest{
		Answers:          items,
		AudioCounts:      counts,
		CurrentPageIndex: pageIndex,
		Meta:             meta,
	}
}

// StatusPayload is the GET packageStatus response.
type StatusPayload struct {
	Status model.PackageStatus `json:"status"`
}

// Client talks to the exam API over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a Client for the given API base URL.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "remote_client").Logger(),
	}
}

// GetAttempt loads the attempt, optionally presenting an existing credential
// so the server can hand back the same session.
func (c *Client) GetAttempt(ctx context.Context, attemptID, credential string) (*AttemptPayload, error) {
	var payload AttemptPayload
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/attempts/%s", attemptID), credential, nil, &payload)
	if err != nil {
		return nil, err
	}
	return &payload, nil
}

// SaveAnswers synchronizes answers, audio counts and page index.
func (c *Client) SaveAnswers(ctx context.Context, attemptID string, req SaveRequest, credential string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/attempts/%s/answers", attemptID), credential, req, nil)
}

// Submit finalizes the attempt.
func (c *Client) Submit(ctx context.Context, attemptID string, answers model.AnswerMap, credential string) error {
	req := BuildSaveRequest(answers, nil, 0, nil)
	body := map[string]any{"answers": req.Answers}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/attempts/%s/submit", attemptID), credential, body, nil)
}

// BeaconSave is the fire-and-forget page-unload save. Delivery is not
// guaranteed and no response is handled.
func (c *Client) BeaconSave(attemptID string, req SaveRequest) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/attempts/%s/beacon", attemptID), "", req, nil); err != nil {
			c.log.Debug().Err(err).Str("attempt_id", attemptID).Msg("beacon save dropped")
		}
	}()
}

// PackageStatus is the pre-flight probe used before Next/Submit/expiry.
func (c *Client) PackageStatus(ctx context.Context, attemptID string) (model.PackageStatus, error) {
	var payload StatusPayload
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/attempts/%s/package-status", attemptID), "", nil, &payload)
	if err != nil {
		return "", err
	}
	return payload.Status, nil
}

// Cleanup is the best-effort destructive cleanup of an abandoned attempt.
func (c *Client) Cleanup(ctx context.Context, attemptID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/attempts/%s/cleanup", attemptID), "", nil, nil)
}

// envelope mirrors the exam API response shape.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error,omitempty"`
}

type errorBody struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
	Reason  string  `json:"reason,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path, credential string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Code: ErrInternal}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Code: ErrInternal}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Reason = env.Error.Reason
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}
