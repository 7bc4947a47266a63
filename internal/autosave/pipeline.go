// Package autosave implements the two-tier write path for attempt state: a
// debounced mirror to the local persistence layer on every change, and a
// rate-limited, change-detected reconciliation to the remote session store.
// Local writes always succeed even when offline; remote writes degrade
// gracefully and retry at-least-once on the fixed period.
package autosave

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/localstore"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/remote"
)

// Snapshot is one consistent view of the live attempt state, taken by the
// pipeline at transmission time so deferred sends carry the latest data.
type Snapshot struct {
	Answers     model.AnswerMap
	AudioCounts model.AudioCounts
	PageIndex   int
	Meta        map[string]any
}

// Saver is the remote write operation the pipeline needs.
type Saver interface {
	SaveAnswers(ctx context.Context, attemptID string, req remote.SaveRequest, credential string) error
}

// Config carries the pipeline's identity and schedule.
type Config struct {
	AttemptID    string
	Credential   string
	Period       time.Duration
	InitialDelay time.Duration
	Debounce     time.Duration
	MinGap       time.Duration
}

// Pipeline mirrors in-memory state to the local store (debounced) and to
// the remote store (periodic, dirty-flagged, change-detected). The remote
// effect never overlaps itself: a period that finds a request in flight
// skips, it does not queue.
type Pipeline struct {
	cfg    Config
	store  localstore.Store
	saver  Saver
	source func() Snapshot
	log    zerolog.Logger

	onSessionInvalid func(err error)
	onDraftDetected  func(err error)

	ctx    context.Context
	cancel context.CancelFunc
	gate   *RateGate

	mu         sync.Mutex
	dirty      bool
	halted     bool
	inFlight   bool
	hasDigest  bool
	lastDigest uint64
	debounce   *time.Timer
}

// New wires a pipeline. source must be safe to call from timer goroutines.
func New(
	cfg Config,
	store localstore.Store,
	saver Saver,
	source func() Snapshot,
	onSessionInvalid func(err error),
	onDraftDetected func(err error),
	log zerolog.Logger,
) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:              cfg,
		store:            store,
		saver:            saver,
		source:           source,
		onSessionInvalid: onSessionInvalid,
		onDraftDetected:  onDraftDetected,
		log:              log.With().Str("component", "autosave").Str("attempt_id", cfg.AttemptID).Logger(),
		ctx:              ctx,
		cancel:           cancel,
		gate:             NewRateGate(cfg.MinGap),
	}
}

// Start arms the periodic reconciliation: one attempt after the initial
// delay, then one per period.
func (p *Pipeline) Start() {
	go func() {
		select {
		case <-time.After(p.cfg.InitialDelay):
		case <-p.ctx.Done():
			return
		}
		p.SyncNow()

		ticker := time.NewTicker(p.cfg.Period)
		defer ticker.Stop()
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.SyncNow()
			}
		}
	}()
}

// MarkChanged flags the state dirty and (re)schedules the debounced local
// mirror. Cancel-and-restart, trailing edge only: rapid typing produces one
// local write, not one per keystroke.
func (p *Pipeline) MarkChanged() {
	p.mu.Lock()
	p.dirty = true
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.cfg.Debounce, p.writeLocal)
	p.mu.Unlock()
}

// Dirty reports whether in-memory state has changed since the last
// successful remote write.
func (p *Pipeline) Dirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

// Halted reports whether a classified failure stopped pipeline-initiated
// syncs.
func (p *Pipeline) Halted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// SyncNow requests an immediate reconciliation, subject to the dirty flag,
// the single-flight guard and the rate gate. Used by the periodic tick and
// by visibility-restore passive recovery.
func (p *Pipeline) SyncNow() {
	p.mu.Lock()
	skip := !p.dirty || p.halted || p.inFlight
	p.mu.Unlock()
	if skip {
		return
	}
	p.gate.Request(func() {
		p.sync(p.ctx, false)
	})
}

// SaveNow flags the state dirty and requests an immediate gated
// reconciliation. Page-advance and tab-hidden saves come through here so
// every trigger shares one minimum-gap window; the digest check still
// drops the send when nothing actually changed.
func (p *Pipeline) SaveNow() {
	p.mu.Lock()
	p.dirty = true
	p.mu.Unlock()
	p.SyncNow()
}

// Flush sends the current state unconditionally and synchronously,
// bypassing the dirty flag and rate gate. Used for the final forced sync
// before submit.
func (p *Pipeline) Flush(ctx context.Context) error {
	return p.sync(ctx, true)
}

// Close tears the pipeline down: cancels the interval, the in-flight
// request's context, the debounce timer and any deferred gate firing.
func (p *Pipeline) Close() {
	p.cancel()
	p.gate.Stop()
	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
}

// writeLocal mirrors the snapshot into the local persistence layer.
func (p *Pipeline) writeLocal() {
	snap := p.source()
	idx := snap.PageIndex
	partial := model.PersistedPartial{
		Answers:          snap.Answers,
		AudioCounts:      snap.AudioCounts,
		CurrentPageIndex: &idx,
	}
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	defer cancel()
	if err := p.store.SaveLocal(ctx, p.cfg.AttemptID, partial); err != nil {
		p.log.Warn().Err(err).Msg("local mirror write failed")
	}
}

func (p *Pipeline) sync(ctx context.Context, force bool) error {
	p.mu.Lock()
	if p.inFlight || (p.halted && !force) {
		p.mu.Unlock()
		return nil
	}
	p.inFlight = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	snap := p.source()
	d := digest(snap)

	p.mu.Lock()
	if !force && p.hasDigest && d == p.lastDigest {
		// Nothing actually changed since the last successful write.
		p.dirty = false
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	req := remote.BuildSaveRequest(snap.Answers, snap.AudioCounts, snap.PageIndex, snap.Meta)
	err := p.saver.SaveAnswers(ctx, p.cfg.AttemptID, req, p.cfg.Credential)
	if err == nil {
		p.mu.Lock()
		p.dirty = false
		p.hasDigest = true
		p.lastDigest = d
		p.mu.Unlock()
		return nil
	}

	switch {
	case remote.IsSessionInvalid(err):
		p.mu.Lock()
		p.halted = true
		p.mu.Unlock()
		if p.onSessionInvalid != nil {
			p.onSessionInvalid(err)
		}
	case remote.IsDraft(err):
		p.mu.Lock()
		p.halted = true
		p.mu.Unlock()
		if p.onDraftDetected != nil {
			p.onDraftDetected(err)
		}
	default:
		// Transient: keep the dirty data, the next period retries.
		p.log.Debug().Err(err).Msg("remote sync failed, will retry")
	}
	return err
}

// digest hashes the (answers, audioCounts, pageIndex) tuple. Map keys
// marshal in sorted order, so equal states hash equally.
func digest(snap Snapshot) uint64 {
	raw, err := json.Marshal(struct {
		Answers     model.AnswerMap   `json:"a"`
		AudioCounts model.AudioCounts `json:"c"`
		PageIndex   int               `json:"p"`
	}{snap.Answers, snap.AudioCounts, snap.PageIndex})
	if err != nil {
		return 0
	}
	return xxhash.Sum64(raw)
}
