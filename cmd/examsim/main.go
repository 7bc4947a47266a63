package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/stemsi/exstem-session/internal/audio"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/localstore"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/remote"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/simserver"
)

// noopMedia satisfies the engine's media hook; the simulator has no real
// playback elements.
type noopMedia struct{}

func (noopMedia) PauseAll() {}

func main() {
	var scenario string
	flag.StringVar(&scenario, "scenario", "normal", "normal | draft | expire | drop")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("scenario", scenario).Msg("Starting exam session simulator")

	// ─── Start Stub Exam Server ────────────────────────────────────────
	fixture := demoFixture()
	sim := simserver.New(cfg, []simserver.Fixture{fixture}, log)

	srv := &http.Server{Addr: ":" + cfg.SimPort, Handler: sim.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Stub server error")
		}
	}()
	defer srv.Close()
	time.Sleep(200 * time.Millisecond) // Let the listener come up.

	// ─── Wire the Engine ───────────────────────────────────────────────
	api := remote.NewClient(fmt.Sprintf("http://localhost:%s/api/v1", cfg.SimPort), cfg.RequestTimeout, log)
	store := localstore.NewMemoryStore()

	routeCh := make(chan session.Route, 1)
	engine := session.New(cfg,
		session.Deps{Store: store, API: api, Gate: audio.Default, Media: noopMedia{}, Log: log},
		session.Callbacks{
			OnStateChange: func(s session.State) {
				log.Info().Str("state", string(s)).Msg("state change")
			},
			OnAbortStarted: func(reason session.AbortReason) {
				log.Warn().Str("reason", string(reason)).Msg("abort countdown opened")
			},
			OnValidationError: func(msg string) {
				log.Warn().Str("message", msg).Msg("submit blocked")
			},
			OnRoute: func(r session.Route) {
				routeCh <- r
			},
		},
	)
	defer engine.Close()

	ctx := context.Background()

	// ─── Run the Script ────────────────────────────────────────────────
	if err := engine.Load(ctx, fixture.AttemptID, nil); err != nil {
		log.Fatal().Err(err).Msg("Load failed")
	}

	switch scenario {
	case "draft":
		sim.WithdrawPackage(fixture.AttemptID)
	case "expire":
		sim.ExpireSession(fixture.AttemptID)
	case "drop":
		sim.DropAttempt(fixture.AttemptID)
	}

	for pageIdx, page := range fixture.Pages {
		for i, q := range page.Questions {
			_ = engine.SetAnswer(q.ID, model.AnswerEntry{
				Type:   q.Type,
				Values: []string{fmt.Sprintf("demo answer %d", i+1)},
			})
		}
		if pageIdx < len(fixture.Pages)-1 {
			if err := engine.Next(ctx); err != nil {
				log.Warn().Err(err).Msg("Next rejected")
			}
		}
	}

	if err := engine.Submit(ctx); err != nil {
		log.Warn().Err(err).Msg("Submit rejected")
	}

	// Abort flows route after their countdown; give them room.
	select {
	case route := <-routeCh:
		log.Info().
			Str("route", string(route.Kind)).
			Interface("checkpoint", route.Checkpoint).
			Msg("Simulation finished")
	case <-time.After(cfg.AbortHardTimeout + 5*time.Second):
		log.Error().Str("state", string(engine.State())).Msg("Simulation timed out without a route")
	}
}

func demoFixture() simserver.Fixture {
	return simserver.Fixture{
		AttemptID:        "demo-attempt",
		RemainingSeconds: 600,
		Category:         model.Category{ID: "cat-listening", Name: "Listening"},
		Meta: model.TestMeta{
			Mode:               model.ModeSingle,
			RecordID:           "rec-1",
			PreparedCategories: []string{"cat-listening"},
			CategoryNames:      map[string]string{"cat-listening": "Listening"},
		},
		Pages: []model.Page{
			{
				Index: 0,
				Questions: []model.Question{
					{ID: "q1", Type: model.AnswerTypeChoice, Prompt: "Pick one"},
					{ID: "q2", Type: model.AnswerTypeEssay, Prompt: "Explain"},
				},
			},
			{
				Index: 1,
				Questions: []model.Question{
					{ID: "q3", Type: model.AnswerTypeFillBlanks, Prompt: "Fill", Template: "The answer is [blank]"},
				},
			},
		},
	}
}
