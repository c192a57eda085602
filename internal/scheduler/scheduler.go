// Package scheduler fires dispatch passes on a cron or interval schedule and
// on demand. Triggers never queue up: while a pass runs, at most one more is
// remembered and every further trigger is coalesced into it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"reminder-dispatcher/internal/logx"
	"reminder-dispatcher/internal/worker"
)

// RunFunc runs one pass; (*worker.Dispatcher).RunPass fits.
type RunFunc func(ctx context.Context) (worker.PassReport, error)

type Config struct {
	Schedule   string
	RunOnStart bool
	Timezone   string // IANA name; empty = local time
}

type TriggerResult int

const (
	Accepted TriggerResult = iota
	Coalesced
)

func (r TriggerResult) String() string {
	if r == Coalesced {
		return "coalesced"
	}
	return "accepted"
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	spec   ParsedSpec
	parser cron.Parser
	run    RunFunc

	c      *cron.Cron
	entry  cron.EntryID
	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, run RunFunc, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log,
		cfg:    cfg,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		run:    run,
		kick:   make(chan struct{}, 1),
	}
	spec, err := s.compile(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	s.spec = spec
	return s, nil
}

func (s *Service) compile(raw string) (ParsedSpec, error) {
	spec, err := ParseSchedule(raw)
	if err != nil {
		return ParsedSpec{}, err
	}
	if _, err := s.parser.Parse(spec.Expr()); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return spec, nil
}

// Trigger asks for a pass. It never blocks.
func (s *Service) Trigger(source string) TriggerResult {
	select {
	case s.kick <- struct{}{}:
		s.log.Debug("pass requested", logx.String("source", source))
		return Accepted
	default:
		s.log.Debug("pass request coalesced", logx.String("source", source))
		return Coalesced
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := s.location()
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	id, err := c.AddFunc(s.spec.Expr(), func() { s.Trigger("schedule") })
	if err != nil {
		return fmt.Errorf("register schedule: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.c, s.entry, s.cancel = c, id, cancel
	s.done = make(chan struct{})
	go s.loop(runCtx, s.done)

	if s.cfg.RunOnStart {
		s.Trigger("start")
	}
	c.Start()
	s.log.Info("scheduler started",
		logx.String("schedule", s.spec.Expr()),
		logx.String("tz", loc.String()),
		logx.Bool("run_on_start", s.cfg.RunOnStart),
	)
	return nil
}

// Stop halts the schedule, cancels the pass in flight (keys already started
// still finish) and waits for the runner until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel, done := s.c, s.cancel, s.done
	s.c, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	<-c.Stop().Done()
	cancel()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Reschedule swaps the schedule of a running service.
func (s *Service) Reschedule(raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, err := s.compile(raw)
	if err != nil {
		return err
	}
	if spec.Expr() == s.spec.Expr() {
		return nil
	}
	s.spec = spec
	s.cfg.Schedule = raw
	if s.c == nil {
		return nil
	}
	id, err := s.c.AddFunc(spec.Expr(), func() { s.Trigger("schedule") })
	if err != nil {
		return fmt.Errorf("register schedule: %w", err)
	}
	s.c.Remove(s.entry)
	s.entry = id
	s.log.Info("schedule changed", logx.String("schedule", spec.Expr()))
	return nil
}

// Next is when the schedule fires next; zero when not started.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

func (s *Service) Schedule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec.Expr()
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	_, err := s.run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, worker.ErrPassInFlight):
		// a manual `pass` or another caller holds the dispatcher
		s.log.Debug("pass skipped, another is in flight")
	case ctx.Err() != nil:
		s.log.Info("pass interrupted by shutdown")
	default:
		s.log.Warn("pass failed", logx.Err(err))
	}
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
