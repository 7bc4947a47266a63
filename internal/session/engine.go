// Package session is the top-level orchestrator for one timed test
// attempt. It composes the deadline timer, the countdown-abort controller,
// the audio gate and the autosave pipeline into a single state machine:
//
//	loading → active → {expiring, aborting, submitting} → terminal
//
// The hosting view layer feeds it input events (answer edits, Next/Submit,
// visibility changes) and renders the state it exposes. Browser back
// navigation is the host's concern: it must re-push history state itself to
// keep the student inside the timed flow.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/audio"
	"github.com/stemsi/exstem-session/internal/autosave"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/countdown"
	"github.com/stemsi/exstem-session/internal/localstore"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/remote"
	"github.com/stemsi/exstem-session/internal/timer"
)

// State is the orchestrator's lifecycle state.
type State string

const (
	StateLoading    State = "loading"
	StateActive     State = "active"
	StateExpiring   State = "expiring"
	StateSubmitting State = "submitting"
	StateAborting   State = "aborting"
	StateFinished   State = "finished"
	StateAborted    State = "aborted"
)

// AbortReason distinguishes the user-visible abort messages. Mechanics are
// identical for all three.
type AbortReason string

const (
	AbortReasonDraft          AbortReason = "draft"
	AbortReasonSessionInvalid AbortReason = "session_invalid"
	AbortReasonNotFound       AbortReason = "not_found"
)

var (
	// ErrNotActive is returned when an input event arrives outside the
	// active state.
	ErrNotActive = errors.New("session is not active")
	// ErrIncompleteAnswers blocks a manual submit with unanswered blanks
	// on the final page. Surfaced locally, never sent remotely.
	ErrIncompleteAnswers = errors.New("final page has unanswered questions")
	// ErrDeadlinePassed is returned by Next when the clock already ran out.
	ErrDeadlinePassed = errors.New("deadline has passed")
)

// RemoteAPI is the slice of the exam API the orchestrator consumes.
type RemoteAPI interface {
	GetAttempt(ctx context.Context, attemptID, credential string) (*remote.AttemptPayload, error)
	SaveAnswers(ctx context.Context, attemptID string, req remote.SaveRequest, credential string) error
	Submit(ctx context.Context, attemptID string, answers model.AnswerMap, credential string) error
	BeaconSave(attemptID string, req remote.SaveRequest)
	PackageStatus(ctx context.Context, attemptID string) (model.PackageStatus, error)
	Cleanup(ctx context.Context, attemptID string) error
}

// MediaController pauses every playable media element the host mounted.
// Called on deadline expiry so no audio outlives the attempt.
type MediaController interface {
	PauseAll()
}

// NavState is state carried through in-app navigation, the highest-
// precedence restoration source.
type NavState struct {
	Answers     model.AnswerMap
	AudioCounts model.AudioCounts
}

// Deps are the engine's collaborators.
type Deps struct {
	Store localstore.Store
	API   RemoteAPI
	Gate  *audio.Gate
	Media MediaController
	Log   zerolog.Logger
}

// Callbacks surface engine events to the host. All may be nil. They are
// invoked from timer goroutines; hosts must marshal onto their own loop.
type Callbacks struct {
	OnStateChange     func(state State)
	OnDeadlineTick    func(remainingSeconds int)
	OnAbortStarted    func(reason AbortReason)
	OnAbortTick       func(remainingSeconds int)
	OnValidationError func(message string)
	OnRoute           func(route Route)
}

// Option configures an Engine.
type Option func(*Engine)

// WithTickInterval overrides the cadence of the deadline and abort clocks.
// Tests use a short interval.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) { e.tickInterval = d }
}

// Engine runs one attempt end to end. All exported methods are safe for
// interleaved use from the host loop and the engine's own timer callbacks.
type Engine struct {
	cfg  *config.Config
	deps Deps
	cb   Callbacks
	log  zerolog.Logger

	tickInterval time.Duration
	clock        *timer.DeadlineTimer
	abortCtl     *countdown.Controller
	pipeline     *autosave.Pipeline

	mu                sync.Mutex
	state             State
	attemptID         string
	credential        string
	attempt           *model.Attempt
	answers           model.AnswerMap
	audioCounts       model.AudioCounts
	pageIndex         int
	expireFired       bool
	finalized         bool
	cleanupSuppressed bool
}

// New creates an engine for one attempt. Call Load to begin.
func New(cfg *config.Config, deps Deps, cb Callbacks, opts ...Option) *Engine {
	e := &Engine{
		cfg:          cfg,
		deps:         deps,
		cb:           cb,
		log:          deps.Log.With().Str("component", "session_engine").Logger(),
		tickInterval: time.Second,
		state:        StateLoading,
		answers:      model.AnswerMap{},
		audioCounts:  model.AudioCounts{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.clock = timer.New(timer.WithInterval(e.tickInterval))
	e.abortCtl = countdown.New(cfg.AbortCountdownSeconds, cfg.AbortHardTimeout,
		countdown.WithInterval(e.tickInterval))
	return e
}

// Load fetches the attempt, restores state from every known source and
// transitions to active. nav may be nil.
func (e *Engine) Load(ctx context.Context, attemptID string, nav *NavState) error {
	e.mu.Lock()
	e.attemptID = attemptID
	e.mu.Unlock()
	e.setState(StateLoading)

	credential, err := e.deps.Store.GetSessionToken(ctx, attemptID)
	if err != nil {
		e.log.Warn().Err(err).Msg("credential read failed, loading without one")
	}

	payload, err := e.deps.API.GetAttempt(ctx, attemptID, credential)
	if err != nil {
		if reason, fatal := abortReasonFor(err); fatal {
			e.startAbort(reason)
			return nil
		}
		return err
	}

	if err := e.deps.Store.SaveSessionToken(ctx, attemptID, payload.SessionToken); err != nil {
		e.log.Warn().Err(err).Msg("credential write failed")
	}

	local, err := e.deps.Store.GetLocal(ctx, attemptID)
	if err != nil {
		e.log.Warn().Err(err).Msg("local cache read failed, restoring without it")
	}

	var localIdx *int
	var localAnswers model.AnswerMap
	var localCounts model.AudioCounts
	if local != nil {
		localIdx = local.CurrentPageIndex
		localAnswers = local.Answers
		localCounts = local.AudioCounts
	}
	var navAnswers model.AnswerMap
	var navCounts model.AudioCounts
	if nav != nil {
		navAnswers = nav.Answers
		navCounts = nav.AudioCounts
	}

	e.mu.Lock()
	e.credential = payload.SessionToken
	e.attempt = &model.Attempt{
		ID:               attemptID,
		SessionToken:     payload.SessionToken,
		RemainingSeconds: payload.RemainingSeconds,
		TotalPages:       payload.TotalPages,
		TotalQuestions:   payload.TotalQuestions,
		Pages:            payload.Pages,
		Category:         payload.Category,
		Meta:             payload.Meta,
	}
	e.pageIndex = ResolvePageIndex(localIdx, payload.SavedPageIndex, payload.TotalPages)
	e.answers = ResolveAnswers(navAnswers, localAnswers, payload.SavedAnswers)
	e.audioCounts = ResolveAudioCounts(navCounts, localCounts, payload.SavedAudioCounts)
	meta := payload.Meta
	category := payload.Category
	e.mu.Unlock()

	// Abandoned records from other attempts are safe to drop now; never
	// this one.
	if _, err := e.deps.Store.ValidateAndCleanup(ctx, attemptID); err != nil {
		e.log.Warn().Err(err).Msg("cache cleanup failed")
	}
	e.persistMeta(ctx, meta, category)

	e.clock.OnTick(func(remaining int) {
		if e.cb.OnDeadlineTick != nil {
			e.cb.OnDeadlineTick(remaining)
		}
	})
	e.clock.OnExpire(func() { e.handleExpiry() })
	// Seed once from the server's authoritative value; the clock is ours
	// from here on.
	e.clock.SetRemaining(payload.RemainingSeconds)

	e.pipeline = autosave.New(
		autosave.Config{
			AttemptID:    attemptID,
			Credential:   payload.SessionToken,
			Period:       e.cfg.AutosavePeriod,
			InitialDelay: e.cfg.AutosaveInitialDelay,
			Debounce:     e.cfg.LocalDebounce,
			MinGap:       e.cfg.MinSyncGap,
		},
		e.deps.Store,
		e.deps.API,
		e.snapshot,
		func(err error) { e.startAbort(sessionAbortReason(err)) },
		func(err error) { e.startAbort(AbortReasonDraft) },
		e.log,
	)
	e.pipeline.Start()
	e.pipeline.MarkChanged()

	e.setState(StateActive)
	e.log.Info().
		Str("attempt_id", attemptID).
		Int("remaining_seconds", payload.RemainingSeconds).
		Int("page_index", e.PageIndex()).
		Msg("session restored")
	return nil
}

// SetAnswer records one answer entry and schedules the mirrors.
func (e *Engine) SetAnswer(questionID string, entry model.AnswerEntry) error {
	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return ErrNotActive
	}
	e.answers[questionID] = entry
	e.mu.Unlock()

	e.pipeline.MarkChanged()
	return nil
}

// RecordAudioPlay bumps the play count for a synthetic audio key and
// returns the new count.
func (e *Engine) RecordAudioPlay(key string) int {
	e.mu.Lock()
	e.audioCounts[key]++
	count := e.audioCounts[key]
	active := e.state == StateActive
	e.mu.Unlock()

	if active {
		e.pipeline.MarkChanged()
	}
	return count
}

// CanPlayAudio reports whether the maximum-plays policy still permits the
// key. maxPlays <= 0 means unlimited.
func (e *Engine) CanPlayAudio(key string, maxPlays int) bool {
	if maxPlays <= 0 {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.audioCounts[key] < maxPlays
}

// Next validates the deadline and the remote session, then advances the
// page pointer by exactly one. A transient probe failure is tolerated; a
// classified failure starts the abort flow.
func (e *Engine) Next(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return ErrNotActive
	}
	e.mu.Unlock()

	if e.clock.Expired() || e.clock.Remaining() <= 0 {
		e.handleExpiry()
		return ErrDeadlinePassed
	}

	if aborted := e.probeContent(ctx); aborted {
		return nil
	}

	// The save doubles as the session-validity probe. It goes through the
	// pipeline's rate gate so rapid page turns collapse into one
	// reconciliation window; a classified failure surfaces through the
	// pipeline callbacks and opens the abort flow.
	e.pipeline.SaveNow()

	e.mu.Lock()
	if e.state == StateActive && e.attempt != nil && e.pageIndex < e.attempt.TotalPages-1 {
		e.pageIndex++
	}
	e.mu.Unlock()

	e.pipeline.MarkChanged()
	return nil
}

// Submit finalizes the attempt. It is blocked locally until every question
// on the final page has a non-empty value for every expected blank.
func (e *Engine) Submit(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return ErrNotActive
	}
	if msg := validateFinalPage(e.attempt, e.answers); msg != "" {
		e.mu.Unlock()
		if e.cb.OnValidationError != nil {
			e.cb.OnValidationError(msg)
		}
		return ErrIncompleteAnswers
	}
	e.state = StateSubmitting
	e.mu.Unlock()
	e.notifyState(StateSubmitting)

	if aborted := e.probeContent(ctx); aborted {
		return nil
	}

	if err := e.pipeline.Flush(ctx); err != nil {
		if !remote.IsTransient(err) {
			// The pipeline callbacks already opened the abort flow; do not
			// issue a submit against a session known to be dead.
			return nil
		}
		e.log.Warn().Err(err).Msg("final sync failed, submitting anyway")
	}

	e.mu.Lock()
	answers := e.answers.Clone()
	attemptID := e.attemptID
	e.mu.Unlock()

	if err := e.deps.API.Submit(ctx, attemptID, answers, e.credentialValue()); err != nil {
		if reason, fatal := abortReasonFor(err); fatal {
			e.startAbort(reason)
			return nil
		}
		e.mu.Lock()
		e.state = StateActive
		e.mu.Unlock()
		e.notifyState(StateActive)
		return err
	}

	e.finalize(ctx)
	return nil
}

// ConfirmAbort completes the abort countdown on behalf of the user.
func (e *Engine) ConfirmAbort() {
	e.abortCtl.Confirm()
}

// VisibilityChanged handles tab-hidden/tab-visible transitions. Hidden
// suppresses unmount cleanup and fires an opportunistic save; visible
// re-arms cleanup and immediately reconciles if anything is dirty.
func (e *Engine) VisibilityChanged(hidden bool) {
	e.mu.Lock()
	e.cleanupSuppressed = hidden
	active := e.state == StateActive
	e.mu.Unlock()

	if hidden {
		if active {
			// Opportunistic save, sharing the same minimum-gap window as
			// every other sync trigger.
			e.pipeline.SaveNow()
		}
		return
	}

	if active && e.pipeline.Dirty() {
		e.pipeline.SyncNow()
	}
}

// PageUnloading marks the teardown as a reload (not an abandonment) and
// fires the best-effort beacon save.
func (e *Engine) PageUnloading() {
	e.mu.Lock()
	e.cleanupSuppressed = true
	active := e.state == StateActive
	attemptID := e.attemptID
	e.mu.Unlock()

	if !active {
		return
	}
	snap := e.snapshot()
	e.deps.API.BeaconSave(attemptID, remote.BuildSaveRequest(snap.Answers, snap.AudioCounts, snap.PageIndex, snap.Meta))
}

// NavigateAway tears the engine down after an intentional in-app
// navigation. An unfinished attempt is destructively cleaned up remotely
// and locally — unless the teardown was flagged as a reload, or the
// attempt already finalized (those two paths are mutually exclusive with
// this one by design).
func (e *Engine) NavigateAway(ctx context.Context) {
	e.mu.Lock()
	suppressed := e.cleanupSuppressed
	finalized := e.finalized
	terminal := e.state == StateFinished || e.state == StateAborted
	attemptID := e.attemptID
	e.mu.Unlock()

	e.Close()

	if finalized || terminal || suppressed || attemptID == "" {
		return
	}
	if err := e.deps.API.Cleanup(ctx, attemptID); err != nil {
		e.log.Debug().Err(err).Msg("remote cleanup failed, best effort")
	}
	if err := e.deps.Store.ClearLocal(ctx, attemptID); err != nil {
		e.log.Warn().Err(err).Msg("local clear failed")
	}
}

// Close cancels every timer and the pipeline. Safe to call repeatedly.
func (e *Engine) Close() {
	e.clock.Stop()
	e.abortCtl.Cancel()
	if e.pipeline != nil {
		e.pipeline.Close()
	}
}

// ─── Observable state ──────────────────────────────────────────────────

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// PageIndex returns the current page pointer.
func (e *Engine) PageIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pageIndex
}

// Remaining returns the deadline clock's remaining seconds.
func (e *Engine) Remaining() int {
	return e.clock.Remaining()
}

// Answers returns a copy of the current answer map.
func (e *Engine) Answers() model.AnswerMap {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.answers.Clone()
}

// Progress returns answered questions as a 0-100 percentage.
func (e *Engine) Progress() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attempt == nil {
		return 0
	}
	return e.answers.ProgressPercent(e.attempt.TotalQuestions)
}

// ─── Internal transitions ──────────────────────────────────────────────

// handleExpiry runs the deadline path: stop all audio, re-validate the
// content, then force-submit whatever answers exist. Idempotent against
// duplicate firing.
func (e *Engine) handleExpiry() {
	e.mu.Lock()
	if e.expireFired || e.finalized ||
		e.state == StateAborting || e.state == StateFinished || e.state == StateAborted {
		e.mu.Unlock()
		return
	}
	e.expireFired = true
	e.state = StateExpiring
	attemptID := e.attemptID
	e.mu.Unlock()
	e.notifyState(StateExpiring)

	if e.deps.Media != nil {
		e.deps.Media.PauseAll()
	}
	if e.deps.Gate != nil {
		e.deps.Gate.Release(e.deps.Gate.Owner())
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RequestTimeout)
	defer cancel()

	if aborted := e.probeContent(ctx); aborted {
		return
	}

	e.mu.Lock()
	answers := e.answers.Clone()
	e.mu.Unlock()

	// Forced submit: empty-answer checks do not apply here.
	if err := e.deps.API.Submit(ctx, attemptID, answers, e.credentialValue()); err != nil {
		if reason, fatal := abortReasonFor(err); fatal {
			e.startAbort(reason)
			return
		}
		e.log.Warn().Err(err).Msg("forced submit failed transiently, finalizing anyway")
	}

	e.finalize(ctx)
}

// probeContent checks the package is still live. Returns true when the
// probe started an abort (caller must stop). Transient failures are
// tolerated.
func (e *Engine) probeContent(ctx context.Context) bool {
	e.mu.Lock()
	attemptID := e.attemptID
	e.mu.Unlock()

	status, err := e.deps.API.PackageStatus(ctx, attemptID)
	if err != nil {
		if reason, fatal := abortReasonFor(err); fatal {
			e.startAbort(reason)
			return true
		}
		e.log.Debug().Err(err).Msg("package probe failed transiently, tolerated")
		return false
	}
	if status == model.PackageDraft {
		e.startAbort(AbortReasonDraft)
		return true
	}
	return false
}

// startAbort enters the aborting state and opens the countdown modal. The
// completion — user confirm or timeout, whichever first — runs the
// cleanup-and-route step exactly once.
func (e *Engine) startAbort(reason AbortReason) {
	e.mu.Lock()
	if e.finalized || e.state == StateAborting ||
		e.state == StateFinished || e.state == StateAborted {
		e.mu.Unlock()
		return
	}
	e.state = StateAborting
	e.mu.Unlock()

	e.clock.Stop()
	if e.pipeline != nil {
		e.pipeline.Close()
	}

	e.notifyState(StateAborting)
	if e.cb.OnAbortStarted != nil {
		e.cb.OnAbortStarted(reason)
	}
	e.abortCtl.OnTick(func(remaining int) {
		if e.cb.OnAbortTick != nil {
			e.cb.OnAbortTick(remaining)
		}
	})
	e.abortCtl.Start(func() { e.finishAbort() })
	e.log.Warn().Str("reason", string(reason)).Msg("abort flow started")
}

func (e *Engine) finishAbort() {
	e.mu.Lock()
	attemptID := e.attemptID
	var meta model.TestMeta
	var categoryID string
	if e.attempt != nil {
		meta = e.attempt.Meta
		categoryID = e.attempt.Category.ID
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RequestTimeout)
	defer cancel()

	if err := e.deps.API.Cleanup(ctx, attemptID); err != nil {
		e.log.Debug().Err(err).Msg("remote cleanup failed, best effort")
	}
	if err := e.deps.Store.ClearLocal(ctx, attemptID); err != nil {
		e.log.Warn().Err(err).Msg("local clear failed")
	}

	route := computeRoute(meta, categoryID, false)

	e.mu.Lock()
	e.state = StateAborted
	e.mu.Unlock()
	e.notifyState(StateAborted)
	if e.cb.OnRoute != nil {
		e.cb.OnRoute(route)
	}
}

// finalize marks the attempt done, clears local state and routes onward.
// The finalized flag keeps unmount cleanup from ever firing against a
// completed attempt.
func (e *Engine) finalize(ctx context.Context) {
	e.mu.Lock()
	e.finalized = true
	attemptID := e.attemptID
	var meta model.TestMeta
	var categoryID string
	if e.attempt != nil {
		meta = e.attempt.Meta
		categoryID = e.attempt.Category.ID
	}
	e.mu.Unlock()

	e.Close()

	if err := e.deps.Store.ClearLocal(ctx, attemptID); err != nil {
		e.log.Warn().Err(err).Msg("local clear failed")
	}

	route := computeRoute(meta, categoryID, true)

	e.mu.Lock()
	e.state = StateFinished
	e.mu.Unlock()
	e.notifyState(StateFinished)
	if e.cb.OnRoute != nil {
		e.cb.OnRoute(route)
	}
	e.log.Info().Str("attempt_id", attemptID).Str("route", string(route.Kind)).Msg("attempt finalized")
}

// ─── Helpers ───────────────────────────────────────────────────────────

func (e *Engine) snapshot() autosave.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	meta := map[string]any{}
	if e.attempt != nil {
		meta["record_id"] = e.attempt.Meta.RecordID
		meta["mode"] = string(e.attempt.Meta.Mode)
		meta["category_id"] = e.attempt.Category.ID
	}
	return autosave.Snapshot{
		Answers:     e.answers.Clone(),
		AudioCounts: e.audioCounts.Clone(),
		PageIndex:   e.pageIndex,
		Meta:        meta,
	}
}

// persistMeta writes the run bookkeeping into the local record so the
// dashboard can route a resumed or abandoned attempt without the server.
func (e *Engine) persistMeta(ctx context.Context, meta model.TestMeta, category model.Category) {
	e.mu.Lock()
	attemptID := e.attemptID
	e.mu.Unlock()

	mode := meta.Mode
	categoryID := category.ID
	recordID := meta.RecordID
	partial := model.PersistedPartial{
		CategoryIDs:          meta.PreparedCategories,
		CompletedCategoryIDs: meta.CompletedCategoryIDs,
		PreparedCategories:   meta.PreparedCategories,
		CategoryNames:        meta.CategoryNames,
		CurrentCategoryID:    &categoryID,
		RecordID:             &recordID,
		Mode:                 &mode,
	}
	if err := e.deps.Store.SaveLocal(ctx, attemptID, partial); err != nil {
		e.log.Warn().Err(err).Msg("meta persist failed")
	}
}

func (e *Engine) credentialValue() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.credential
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.notifyState(s)
}

func (e *Engine) notifyState(s State) {
	if e.cb.OnStateChange != nil {
		e.cb.OnStateChange(s)
	}
}

// validateFinalPage returns a blocking message when the last page is not
// fully answered, or "" when submit may proceed.
func validateFinalPage(attempt *model.Attempt, answers model.AnswerMap) string {
	if attempt == nil {
		return "attempt is not loaded"
	}
	if answers.AnsweredCount() == 0 {
		return "no answers to submit"
	}
	if len(attempt.Pages) == 0 {
		return ""
	}
	last := attempt.Pages[len(attempt.Pages)-1]
	for _, q := range last.Questions {
		entry, ok := answers[q.ID]
		if !ok || !entry.Answered(q.BlankCount()) {
			return "answer every question on this page before submitting"
		}
	}
	return ""
}

// abortReasonFor classifies an API failure into an abort reason. The
// second return is false for transient failures, which never abort.
func abortReasonFor(err error) (AbortReason, bool) {
	switch {
	case remote.IsDraft(err):
		return AbortReasonDraft, true
	case remote.IsSessionInvalid(err):
		return sessionAbortReason(err), true
	}
	return "", false
}

// sessionAbortReason splits session-death into not-found vs credential
// failure so the host can phrase the modal, mechanics being identical.
func sessionAbortReason(err error) AbortReason {
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return AbortReasonNotFound
	}
	return AbortReasonSessionInvalid
}
