// Package simserver is an in-memory exam API implementing the contract the
// session engine consumes. It backs the demo binary and the integration
// tests, including fault-injection switches for every abort path the
// engine has to survive.
package simserver

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// Fixture seeds one attempt on the server.
type Fixture struct {
	AttemptID        string
	RemainingSeconds int
	Pages            []model.Page
	Category         model.Category
	Meta             model.TestMeta
}

// attemptState is the server's authoritative view of one attempt.
type attemptState struct {
	fixture   Fixture
	deadline  time.Time
	status    model.PackageStatus
	answers   model.AnswerMap
	counts    model.AudioCounts
	pageIndex int
	submitted bool
	jti       string
}

// Server holds all attempt state behind one mutex; every handler is a
// short critical section.
type Server struct {
	mu       sync.Mutex
	attempts map[string]*attemptState
	secret   []byte
	tokenTTL time.Duration
	log      zerolog.Logger
}

// New seeds a server with the given fixtures.
func New(cfg *config.Config, fixtures []Fixture, log zerolog.Logger) *Server {
	s := &Server{
		attempts: make(map[string]*attemptState),
		secret:   []byte(cfg.JWTSecret),
		tokenTTL: cfg.SessionTokenTTL,
		log:      log.With().Str("component", "simserver").Logger(),
	}
	for _, f := range fixtures {
		s.attempts[f.AttemptID] = &attemptState{
			fixture:  f,
			deadline: time.Now().Add(time.Duration(f.RemainingSeconds) * time.Second),
			status:   model.PackagePublished,
			answers:  model.AnswerMap{},
			counts:   model.AudioCounts{},
		}
	}
	return s
}

// ─── Fault injection ───────────────────────────────────────────────────

// WithdrawPackage flips the attempt's package to DRAFT, simulating the
// author unpublishing mid-session.
func (s *Server) WithdrawPackage(attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.attempts[attemptID]; ok {
		st.status = model.PackageDraft
	}
}

// ExpireSession invalidates the current session credential, simulating a
// server-side reset or takeover from another device.
func (s *Server) ExpireSession(attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.attempts[attemptID]; ok {
		st.jti = ""
	}
}

// DropAttempt deletes the attempt entirely, simulating server-side loss.
func (s *Server) DropAttempt(attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, attemptID)
}

// ─── Test inspection ───────────────────────────────────────────────────

// SavedState reports what the server has persisted for an attempt.
func (s *Server) SavedState(attemptID string) (answers model.AnswerMap, counts model.AudioCounts, pageIndex int, submitted, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, found := s.attempts[attemptID]
	if !found {
		return nil, nil, 0, false, false
	}
	return st.answers.Clone(), st.counts.Clone(), st.pageIndex, st.submitted, true
}
