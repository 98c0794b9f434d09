package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/verte-zerg/dcsf/internal/clock"
	"github.com/verte-zerg/dcsf/internal/engine"
	"github.com/verte-zerg/dcsf/internal/model"
)

// ErrStalled is returned when the engine stops scheduling work before the
// session finishes.
var ErrStalled = errors.New("simulation stalled")

// Config describes one simulated session.
type Config struct {
	Run      model.RunConfig
	Observer Observer
	// Persister, when set, receives the finished session.
	Persister engine.Persister
	Logger    *zap.Logger
	TrialCap  int
	// Start is the virtual start time; zero means time.Now.
	Start time.Time
}

// Result is the outcome of a simulated session.
type Result struct {
	Record     model.SessionRecord
	Submission engine.Submission
	History    []model.SessionSummary
	// Missed counts trials the observer did not answer, including replies
	// too slow for the trial window.
	Missed int
}

// Run drives a complete session in virtual time. In manual mode the
// simulated operator picks a random direction on the stimulus axis before
// every trial.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if err := model.Validate(cfg.Observer); err != nil {
		return Result{}, fmt.Errorf("invalid observer: %w", err)
	}
	start := cfg.Start
	if start.IsZero() {
		start = time.Now()
	}
	loop := clock.NewManual(start)
	rnd := rand.New(rand.NewSource(cfg.Run.Seed + 2))
	dirs := axis(cfg.Run.Basic.Orientation)

	var (
		eng    *engine.Engine
		missed int
	)
	operate := func() {
		loop.AfterFunc(0, func() {
			eng.SetOperatorDirection(dirs[rnd.Intn(len(dirs))])
		})
	}
	listener := func(ev engine.Event) {
		snap := ev.Snapshot
		switch {
		case ev.Kind == engine.EventTrialStarted:
			resp, ok := cfg.Observer.Answer(rnd, snap.Direction, snap.Contrast)
			window := snap.Module.Duration() + snap.Module.Interval()
			if !ok || cfg.Observer.Latency >= window {
				missed++
				return
			}
			module, trial := snap.ModuleIndex, snap.Trial
			loop.AfterFunc(cfg.Observer.Latency, func() {
				// A reply belongs to the trial it was drawn for.
				if now := eng.Snapshot(); now.ModuleIndex != module || now.Trial != trial {
					return
				}
				eng.SubmitResponse(resp)
			})
		case ev.Kind == engine.EventPhaseChanged && snap.Phase == engine.PhaseAwaitingOperator:
			operate()
		case ev.Kind == engine.EventTrialResolved && snap.Mode == model.ModeManual:
			operate()
		}
	}
	eng = engine.New(engine.Options{
		Loop:      loop,
		Persister: cfg.Persister,
		Logger:    cfg.Logger,
		Listener:  listener,
		TrialCap:  cfg.TrialCap,
	})
	if err := eng.Start(cfg.Run); err != nil {
		return Result{}, err
	}
	for eng.State() != engine.StateFinished {
		if err := ctx.Err(); err != nil {
			eng.Reset()
			return Result{}, err
		}
		if !loop.Next() {
			return Result{}, ErrStalled
		}
	}
	loop.Flush()

	rec, _ := eng.Record()
	snap := eng.Snapshot()
	return Result{
		Record:     rec,
		Submission: snap.Submission,
		History:    snap.History,
		Missed:     missed,
	}, nil
}
