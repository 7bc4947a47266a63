package simserver

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/remote"
)

func testFixture() Fixture {
	return Fixture{
		AttemptID:        "a1",
		RemainingSeconds: 300,
		Category:         model.Category{ID: "c1", Name: "Reading"},
		Meta:             model.TestMeta{Mode: model.ModeSingle, RecordID: "rec-1"},
		Pages: []model.Page{
			{Index: 0, Questions: []model.Question{
				{ID: "q1", Type: model.AnswerTypeChoice},
				{ID: "q2", Type: model.AnswerTypeEssay},
			}},
		},
	}
}

func newTestServer(t *testing.T) (*Server, *remote.Client) {
	t.Helper()
	cfg := &config.Config{JWTSecret: "test-secret", SessionTokenTTL: time.Hour}
	s := New(cfg, []Fixture{testFixture()}, zerolog.Nop())
	httpSrv := httptest.NewServer(s.Router())
	t.Cleanup(httpSrv.Close)
	return s, remote.NewClient(httpSrv.URL+"/api/v1", 2*time.Second, zerolog.Nop())
}

func TestAttemptLifecycleOverHTTP(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestServer(t)

	payload, err := client.GetAttempt(ctx, "a1", "")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if payload.SessionToken == "" {
		t.Fatal("no session token issued")
	}
	if payload.RemainingSeconds <= 0 || payload.RemainingSeconds > 300 {
		t.Errorf("RemainingSeconds = %d", payload.RemainingSeconds)
	}
	if payload.TotalPages != 1 || payload.TotalQuestions != 2 {
		t.Errorf("totals = (%d, %d)", payload.TotalPages, payload.TotalQuestions)
	}

	req := remote.BuildSaveRequest(model.AnswerMap{
		"q1": {Type: model.AnswerTypeChoice, Values: []string{"A"}},
	}, model.AudioCounts{"q1:0": 1}, 0, nil)
	if err := client.SaveAnswers(ctx, "a1", req, payload.SessionToken); err != nil {
		t.Fatalf("save: %v", err)
	}

	answers, counts, _, submitted, ok := srv.SavedState("a1")
	if !ok || submitted {
		t.Fatalf("saved state: ok=%v submitted=%v", ok, submitted)
	}
	if answers["q1"].Values[0] != "A" || counts["q1:0"] != 1 {
		t.Errorf("server state = %v / %v", answers, counts)
	}

	if err := client.Submit(ctx, "a1", model.AnswerMap{
		"q1": {Type: model.AnswerTypeChoice, Values: []string{"A"}},
		"q2": {Type: model.AnswerTypeEssay, Values: []string{"text"}},
	}, payload.SessionToken); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, _, _, submitted, _ := srv.SavedState("a1"); !submitted {
		t.Error("attempt not marked submitted")
	}

	// A submitted attempt reads back as gone.
	if _, err := client.GetAttempt(ctx, "a1", ""); !remote.IsSessionInvalid(err) {
		t.Errorf("re-fetch after submit: %v, want session-invalid", err)
	}
}

func TestSaveWithoutCredentialIsRejected(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t)

	err := client.SaveAnswers(ctx, "a1", remote.SaveRequest{Answers: []remote.SavedAnswer{}}, "")
	apiErr, ok := err.(*remote.APIError)
	if !ok || apiErr.Status != 401 || apiErr.Code != remote.ErrTokenRequired {
		t.Errorf("save without token: %v", err)
	}
}

func TestSessionInvalidationAfterTakeover(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestServer(t)

	payload, err := client.GetAttempt(ctx, "a1", "")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}

	srv.ExpireSession("a1")

	err = client.SaveAnswers(ctx, "a1", remote.SaveRequest{Answers: []remote.SavedAnswer{}}, payload.SessionToken)
	if !remote.IsSessionInvalid(err) {
		t.Errorf("save with superseded credential: %v, want session-invalid", err)
	}
	apiErr := err.(*remote.APIError)
	if apiErr.Code != remote.ErrSessionInvalidated || apiErr.Reason != remote.ReasonSessionNotFound {
		t.Errorf("classified as %+v", apiErr)
	}
}

func TestWithdrawnPackageRejectsSavesAsDraft(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestServer(t)

	payload, err := client.GetAttempt(ctx, "a1", "")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}

	srv.WithdrawPackage("a1")

	status, err := client.PackageStatus(ctx, "a1")
	if err != nil {
		t.Fatalf("package status: %v", err)
	}
	if status != model.PackageDraft {
		t.Errorf("status = %s, want DRAFT", status)
	}

	err = client.SaveAnswers(ctx, "a1", remote.SaveRequest{Answers: []remote.SavedAnswer{}}, payload.SessionToken)
	if !remote.IsDraft(err) {
		t.Errorf("save against draft package: %v, want draft classification", err)
	}
}

func TestSavedPageIndexAndCountsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestServer(t)

	payload, _ := client.GetAttempt(ctx, "a1", "")

	forward := remote.BuildSaveRequest(nil, model.AudioCounts{"k": 3}, 2, nil)
	if err := client.SaveAnswers(ctx, "a1", forward, payload.SessionToken); err != nil {
		t.Fatalf("forward save: %v", err)
	}
	// A stale client syncing older values must not walk state backward.
	backward := remote.BuildSaveRequest(nil, model.AudioCounts{"k": 1}, 0, nil)
	if err := client.SaveAnswers(ctx, "a1", backward, payload.SessionToken); err != nil {
		t.Fatalf("backward save: %v", err)
	}

	_, counts, pageIndex, _, _ := srv.SavedState("a1")
	if pageIndex != 2 {
		t.Errorf("pageIndex = %d, want 2", pageIndex)
	}
	if counts["k"] != 3 {
		t.Errorf("counts[k] = %d, want 3", counts["k"])
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t)

	if err := client.Cleanup(ctx, "a1"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if err := client.Cleanup(ctx, "a1"); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
	if _, err := client.GetAttempt(ctx, "a1", ""); !remote.IsSessionInvalid(err) {
		t.Errorf("fetch after cleanup: %v, want session-invalid", err)
	}
}

func TestUnknownAttemptIs404(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t)

	_, err := client.GetAttempt(ctx, "nope", "")
	apiErr, ok := err.(*remote.APIError)
	if !ok || apiErr.Status != 404 || apiErr.Code != remote.ErrNotFound {
		t.Errorf("unknown attempt: %v", err)
	}
}
