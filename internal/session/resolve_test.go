package session

import (
	"testing"

	"github.com/stemsi/exstem-session/internal/model"
)

func ptr(v int) *int { return &v }

func TestResolvePageIndexTakesForwardMost(t *testing.T) {
	cases := []struct {
		name          string
		local, server *int
		totalPages    int
		want          int
	}{
		{"both missing", nil, nil, 5, 0},
		{"local only", ptr(2), nil, 5, 2},
		{"server only", nil, ptr(3), 5, 3},
		{"local ahead", ptr(4), ptr(1), 5, 4},
		{"server ahead", ptr(1), ptr(4), 5, 4},
		{"equal", ptr(2), ptr(2), 5, 2},
		{"clamped to last page", ptr(9), ptr(3), 5, 4},
		{"negative sources ignored", ptr(-3), ptr(-1), 5, 0},
		{"single page", ptr(7), ptr(2), 1, 0},
		{"zero total pages", ptr(7), nil, 0, 7},
	}
	for _, tc := range cases {
		if got := ResolvePageIndex(tc.local, tc.server, tc.totalPages); got != tc.want {
			t.Errorf("%s: ResolvePageIndex = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestResolveAnswersPrecedence(t *testing.T) {
	nav := model.AnswerMap{"q1": {Values: []string{"nav"}}}
	local := model.AnswerMap{"q1": {Values: []string{"local"}}, "q2": {Values: []string{"x"}}}
	server := model.AnswerMap{"q1": {Values: []string{"server"}}}

	if got := ResolveAnswers(nav, local, server); got["q1"].Values[0] != "nav" {
		t.Errorf("nav present: restored %q", got["q1"].Values[0])
	}
	if got := ResolveAnswers(nil, local, server); got["q1"].Values[0] != "local" || len(got) != 2 {
		t.Errorf("nav absent: restored %v", got)
	}
	if got := ResolveAnswers(nil, nil, server); got["q1"].Values[0] != "server" {
		t.Errorf("only server: restored %v", got)
	}
	if got := ResolveAnswers(nil, nil, nil); got == nil || len(got) != 0 {
		t.Errorf("all absent: restored %v, want empty map", got)
	}
}

func TestResolveAnswersReturnsACopy(t *testing.T) {
	local := model.AnswerMap{"q1": {Values: []string{"v"}}}
	got := ResolveAnswers(nil, local, nil)
	got["q2"] = model.AnswerEntry{Values: []string{"added"}}
	if _, ok := local["q2"]; ok {
		t.Error("resolution returned the source map, not a copy")
	}
}

func TestResolveAudioCountsPrecedence(t *testing.T) {
	local := model.AudioCounts{"k": 2}
	server := model.AudioCounts{"k": 5}

	if got := ResolveAudioCounts(nil, local, server); got["k"] != 2 {
		t.Errorf("local should win over server, got %d", got["k"])
	}
	if got := ResolveAudioCounts(nil, nil, server); got["k"] != 5 {
		t.Errorf("server fallback, got %d", got["k"])
	}
}

func TestComputeRouteSingleCategory(t *testing.T) {
	meta := model.TestMeta{Mode: model.ModeSingle}

	if r := computeRoute(meta, "c1", true); r.Kind != RouteResults || r.Checkpoint != nil {
		t.Errorf("completed single: %+v", r)
	}
	if r := computeRoute(meta, "c1", false); r.Kind != RouteDashboard {
		t.Errorf("aborted single: %+v", r)
	}
}

func TestComputeRouteMultiCategoryWithRemainingWork(t *testing.T) {
	meta := model.TestMeta{
		Mode:                 model.ModeMulti,
		RecordID:             "rec-9",
		PreparedCategories:   []string{"c1", "c2", "c3"},
		CompletedCategoryIDs: []string{"c0"},
		CategoryNames:        map[string]string{"c1": "One", "c2": "Two"},
	}

	r := computeRoute(meta, "c2", true)
	if r.Kind != RouteOverview || r.Checkpoint == nil {
		t.Fatalf("completed multi with remaining: %+v", r)
	}
	cp := r.Checkpoint
	if cp.RecordID != "rec-9" {
		t.Errorf("RecordID = %q", cp.RecordID)
	}
	if len(cp.PreparedCategories) != 2 || cp.PreparedCategories[0] != "c1" || cp.PreparedCategories[1] != "c3" {
		t.Errorf("PreparedCategories = %v, want [c1 c3]", cp.PreparedCategories)
	}
	if len(cp.CompletedCategoryIDs) != 2 || cp.CompletedCategoryIDs[1] != "c2" {
		t.Errorf("CompletedCategoryIDs = %v, want [c0 c2]", cp.CompletedCategoryIDs)
	}
}

func TestComputeRouteMultiCategoryLastOneDone(t *testing.T) {
	meta := model.TestMeta{
		Mode:                 model.ModeMulti,
		PreparedCategories:   []string{"c2"},
		CompletedCategoryIDs: []string{"c1"},
	}
	if r := computeRoute(meta, "c2", true); r.Kind != RouteResults {
		t.Errorf("final category completed: %+v", r)
	}
}

func TestComputeRouteMultiCategoryAbort(t *testing.T) {
	meta := model.TestMeta{
		Mode:               model.ModeMulti,
		PreparedCategories: []string{"c1", "c2"},
	}

	r := computeRoute(meta, "c2", false)
	if r.Kind != RouteOverview || r.Checkpoint == nil {
		t.Fatalf("aborted multi: %+v", r)
	}
	if len(r.Checkpoint.PreparedCategories) != 1 || r.Checkpoint.PreparedCategories[0] != "c1" {
		t.Errorf("PreparedCategories = %v, want [c1]", r.Checkpoint.PreparedCategories)
	}
	if len(r.Checkpoint.CompletedCategoryIDs) != 0 {
		t.Errorf("aborted run must not mark the category completed: %v", r.Checkpoint.CompletedCategoryIDs)
	}
}
