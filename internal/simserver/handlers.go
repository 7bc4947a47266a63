package simserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/remote"
	"github.com/stemsi/exstem-session/internal/validator"
)

type savedAnswerBody struct {
	QuestionID string   `json:"question_id" binding:"required"`
	Type       string   `json:"type"`
	Values     []string `json:"values"`
}

// saveAnswersRequest accepts an empty answers array: that is the engine's
// session-validity probe.
type saveAnswersRequest struct {
	Answers          []savedAnswerBody `json:"answers" binding:"dive"`
	AudioCounts      map[string]int    `json:"audio_counts"`
	CurrentPageIndex int               `json:"current_page_index" binding:"min=0"`
	Meta             map[string]any    `json:"meta"`
}

type submitRequest struct {
	Answers []savedAnswerBody `json:"answers" binding:"dive"`
}

// GET /attempts/:attempt_id
// Hands out the attempt with a fresh session credential and whatever state
// the last sync persisted. The remaining time is computed server-side; the
// client reads it exactly once.
func (s *Server) handleGetAttempt(c *gin.Context) {
	attemptID := c.Param("attempt_id")

	s.mu.Lock()
	st, ok := s.attempts[attemptID]
	if !ok {
		s.mu.Unlock()
		Fail(c, http.StatusNotFound, remote.ErrNotFound)
		return
	}
	if st.submitted {
		s.mu.Unlock()
		Fail(c, http.StatusNotFound, remote.ErrNotFound)
		return
	}

	token, jti, err := s.mintToken(attemptID)
	if err != nil {
		s.mu.Unlock()
		Fail(c, http.StatusInternalServerError, remote.ErrInternal)
		return
	}
	st.jti = jti

	remaining := int(time.Until(st.deadline).Seconds())
	if remaining < 0 {
		remaining = 0
	}

	totalQuestions := 0
	for _, p := range st.fixture.Pages {
		totalQuestions += len(p.Questions)
	}
	pageIndex := st.pageIndex

	payload := remote.AttemptPayload{
		SessionToken:     token,
		RemainingSeconds: remaining,
		TotalPages:       len(st.fixture.Pages),
		TotalQuestions:   totalQuestions,
		Pages:            st.fixture.Pages,
		SavedAnswers:     st.answers.Clone(),
		SavedAudioCounts: st.counts.Clone(),
		SavedPageIndex:   &pageIndex,
		Category:         st.fixture.Category,
		Meta:             st.fixture.Meta,
	}
	s.mu.Unlock()

	Success(c, http.StatusOK, payload)
}

// POST /attempts/:attempt_id/answers
func (s *Server) handleSaveAnswers(c *gin.Context) {
	attemptID := c.Param("attempt_id")

	var req saveAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		FailWithFields(c, http.StatusBadRequest, remote.ErrValidation, fields)
		return
	}

	s.mu.Lock()
	st, ok := s.attempts[attemptID]
	if !ok || st.submitted {
		s.mu.Unlock()
		Fail(c, http.StatusNotFound, remote.ErrNotFound)
		return
	}
	if !s.authorizeLocked(c, st, attemptID) {
		s.mu.Unlock()
		return
	}
	if st.status == model.PackageDraft {
		s.mu.Unlock()
		Fail(c, http.StatusConflict, remote.ErrExamNotPublished)
		return
	}

	s.applySaveLocked(st, req)
	s.mu.Unlock()

	Success(c, http.StatusOK, gin.H{"saved": len(req.Answers)})
}

// POST /attempts/:attempt_id/submit
// Finalizes the attempt exactly once.
func (s *Server) handleSubmit(c *gin.Context) {
	attemptID := c.Param("attempt_id")

	var req submitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		FailWithFields(c, http.StatusBadRequest, remote.ErrValidation, fields)
		return
	}

	s.mu.Lock()
	st, ok := s.attempts[attemptID]
	if !ok {
		s.mu.Unlock()
		Fail(c, http.StatusNotFound, remote.ErrNotFound)
		return
	}
	if !s.authorizeLocked(c, st, attemptID) {
		s.mu.Unlock()
		return
	}
	if st.status == model.PackageDraft {
		s.mu.Unlock()
		Fail(c, http.StatusConflict, remote.ErrExamNotPublished)
		return
	}

	for _, a := range req.Answers {
		st.answers[a.QuestionID] = model.AnswerEntry{Type: model.AnswerType(a.Type), Values: a.Values}
	}
	st.submitted = true
	s.mu.Unlock()

	Success(c, http.StatusOK, gin.H{"submitted": true})
}

// POST /attempts/:attempt_id/beacon
// Best-effort unload save: no credential, no failure contract.
func (s *Server) handleBeacon(c *gin.Context) {
	attemptID := c.Param("attempt_id")

	var req saveAnswersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Success(c, http.StatusOK, gin.H{"accepted": false})
		return
	}

	s.mu.Lock()
	if st, ok := s.attempts[attemptID]; ok && !st.submitted && st.status != model.PackageDraft {
		s.applySaveLocked(st, req)
	}
	s.mu.Unlock()

	Success(c, http.StatusOK, gin.H{"accepted": true})
}

// GET /attempts/:attempt_id/package-status
func (s *Server) handlePackageStatus(c *gin.Context) {
	attemptID := c.Param("attempt_id")

	s.mu.Lock()
	st, ok := s.attempts[attemptID]
	if !ok {
		s.mu.Unlock()
		Fail(c, http.StatusNotFound, remote.ErrNotFound)
		return
	}
	status := st.status
	s.mu.Unlock()

	Success(c, http.StatusOK, remote.StatusPayload{Status: status})
}

// POST /attempts/:attempt_id/cleanup
// Destructive and idempotent: deleting a missing attempt still succeeds.
func (s *Server) handleCleanup(c *gin.Context) {
	attemptID := c.Param("attempt_id")

	s.mu.Lock()
	delete(s.attempts, attemptID)
	s.mu.Unlock()

	Success(c, http.StatusOK, gin.H{"cleaned": true})
}

// authorizeLocked validates the Bearer credential against the attempt's
// single valid session. Writes the failure response itself and returns
// false when the caller must stop. Call with s.mu held.
func (s *Server) authorizeLocked(c *gin.Context, st *attemptState, attemptID string) bool {
	header := c.GetHeader("Authorization")
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" || raw == header {
		Fail(c, http.StatusUnauthorized, remote.ErrTokenRequired)
		return false
	}

	claims, err := s.parseToken(raw)
	if err != nil {
		if err == errTokenExpired {
			FailWithReason(c, http.StatusForbidden, remote.ErrTokenExpired, remote.ReasonSessionExpired)
		} else {
			FailWithReason(c, http.StatusForbidden, remote.ErrTokenInvalid, remote.ReasonInvalidToken)
		}
		return false
	}
	if claims.AttemptID != attemptID {
		FailWithReason(c, http.StatusForbidden, remote.ErrTokenInvalid, remote.ReasonWrongAttempt)
		return false
	}
	if st.jti == "" || st.jti != claims.ID {
		// Session superseded by another device or reset server-side.
		FailWithReason(c, http.StatusForbidden, remote.ErrSessionInvalidated, remote.ReasonSessionNotFound)
		return false
	}
	return true
}

// applySaveLocked merges a save payload. Audio counts and the page index
// are monotonic: the server never walks them backward. Call with s.mu held.
func (s *Server) applySaveLocked(st *attemptState, req saveAnswersRequest) {
	for _, a := range req.Answers {
		st.answers[a.QuestionID] = model.AnswerEntry{Type: model.AnswerType(a.Type), Values: a.Values}
	}
	for key, n := range req.AudioCounts {
		if n > st.counts[key] {
			st.counts[key] = n
		}
	}
	if req.CurrentPageIndex > st.pageIndex {
		st.pageIndex = req.CurrentPageIndex
	}
}
