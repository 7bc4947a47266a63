package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second, zerolog.Nop())
}

func writeEnvelope(w http.ResponseWriter, status int, data any, errBody map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"data": data}
	if errBody != nil {
		body["error"] = errBody
	}
	_ = json.NewEncoder(w).Encode(body)
}

func TestGetAttemptDecodesEnvelope(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/attempts/a1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		idx := 2
		writeEnvelope(w, http.StatusOK, AttemptPayload{
			SessionToken:     "fresh-token",
			RemainingSeconds: 90,
			TotalPages:       3,
			TotalQuestions:   6,
			SavedPageIndex:   &idx,
			Meta:             model.TestMeta{Mode: model.ModeSingle},
		}, nil)
	})

	payload, err := c.GetAttempt(context.Background(), "a1", "tok")
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if payload.SessionToken != "fresh-token" || payload.RemainingSeconds != 90 {
		t.Errorf("payload = %+v", payload)
	}
	if payload.SavedPageIndex == nil || *payload.SavedPageIndex != 2 {
		t.Errorf("SavedPageIndex = %v", payload.SavedPageIndex)
	}
}

func TestErrorEnvelopeBecomesAPIError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusForbidden, nil, map[string]any{
			"code":    "TOKEN_EXPIRED",
			"message": "Session token expired",
			"reason":  "session_expired",
		})
	})

	err := c.SaveAnswers(context.Background(), "a1", SaveRequest{}, "stale")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error type %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Code != ErrTokenExpired || apiErr.Reason != ReasonSessionExpired {
		t.Errorf("classified as %+v", apiErr)
	}
	if !IsSessionInvalid(err) {
		t.Error("403 session_expired not classified as session-invalid")
	}
}

func TestNonEnvelopeErrorStillClassifies(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	err := c.SaveAnswers(context.Background(), "a1", SaveRequest{}, "tok")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error type %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadGateway {
		t.Errorf("status = %d", apiErr.Status)
	}
	if !IsTransient(err) {
		t.Error("502 without envelope should be transient")
	}
}

func TestClassificationTable(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		invalid   bool
		draft     bool
		transient bool
	}{
		{"404", &APIError{Status: 404, Code: ErrNotFound}, true, false, false},
		{"401", &APIError{Status: 401, Code: ErrTokenRequired}, true, false, false},
		{"403 wrong attempt", &APIError{Status: 403, Code: ErrTokenInvalid, Reason: ReasonWrongAttempt}, true, false, false},
		{"403 session invalidated", &APIError{Status: 403, Code: ErrSessionInvalidated, Reason: ReasonSessionNotFound}, true, false, false},
		{"409 draft", &APIError{Status: 409, Code: ErrExamNotPublished}, false, true, false},
		{"500", &APIError{Status: 500, Code: ErrInternal}, false, false, true},
		{"400 validation", &APIError{Status: 400, Code: ErrValidation}, false, false, true},
	}
	for _, tc := range cases {
		if got := IsSessionInvalid(tc.err); got != tc.invalid {
			t.Errorf("%s: IsSessionInvalid = %v, want %v", tc.name, got, tc.invalid)
		}
		if got := IsDraft(tc.err); got != tc.draft {
			t.Errorf("%s: IsDraft = %v, want %v", tc.name, got, tc.draft)
		}
		if got := IsTransient(tc.err); got != tc.transient {
			t.Errorf("%s: IsTransient = %v, want %v", tc.name, got, tc.transient)
		}
	}
}

func TestBuildSaveRequestOrdersByQuestionID(t *testing.T) {
	req := BuildSaveRequest(model.AnswerMap{
		"q3": {Type: model.AnswerTypeChoice, Values: []string{"c"}},
		"q1": {Type: model.AnswerTypeChoice, Values: []string{"a"}},
		"q2": {Type: model.AnswerTypeEssay, Values: []string{"b"}},
	}, model.AudioCounts{"k": 1}, 4, nil)

	if len(req.Answers) != 3 {
		t.Fatalf("answers = %d, want 3", len(req.Answers))
	}
	for i, want := range []string{"q1", "q2", "q3"} {
		if req.Answers[i].QuestionID != want {
			t.Errorf("answer[%d] = %s, want %s", i, req.Answers[i].QuestionID, want)
		}
	}
	if req.CurrentPageIndex != 4 {
		t.Errorf("page index = %d", req.CurrentPageIndex)
	}
}

func TestEmptySaveRequestIsALegalProbe(t *testing.T) {
	var gotBody SaveRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeEnvelope(w, http.StatusOK, map[string]any{"saved": 0}, nil)
	})

	if err := c.SaveAnswers(context.Background(), "a1", BuildSaveRequest(nil, nil, 0, nil), "tok"); err != nil {
		t.Fatalf("probe save: %v", err)
	}
	if len(gotBody.Answers) != 0 {
		t.Errorf("probe carried %d answers", len(gotBody.Answers))
	}
}
