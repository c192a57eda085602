package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"reminder-dispatcher/internal/audit"
	"reminder-dispatcher/internal/logx"
	"reminder-dispatcher/internal/model"
	"reminder-dispatcher/internal/notify"
	"reminder-dispatcher/internal/store"
)

var ErrPassInFlight = errors.New("dispatch pass already in flight")

// Settings are the per-deployment dispatch policies. They can be swapped at
// runtime with Apply; a running pass keeps the settings it started with.
type Settings struct {
	Content string
	Delay   time.Duration
	Filter  KeyFilter
	Retry   RetryPolicy
	Schema  model.Schema
}

func (s Settings) withDefaults() Settings {
	if s.Filter == nil {
		s.Filter = AnyKey{}
	}
	if s.Retry == nil {
		s.Retry = Unbounded{}
	}
	if s.Schema == (model.Schema{}) {
		s.Schema = model.DefaultSchema()
	}
	return s
}

type Options struct {
	// Workers bounds per-batch parallelism. 1 keeps keys strictly sequential.
	Workers int
	// KeyTimeout caps one key's store and notify calls. It is detached from
	// shutdown so a key in progress is never cut between send and delete.
	KeyTimeout time.Duration
	// MaxBatches stops a pass over a keyspace that never finishes iterating.
	MaxBatches int
	// Clock is injected by tests. Defaults to time.Now.
	Clock func() time.Time
}

// Dispatcher runs dispatch passes against a record store.
type Dispatcher struct {
	store  store.RecordStore
	client notify.Client
	audit  audit.Store
	log    logx.Logger
	opts   Options

	mu       sync.RWMutex
	settings Settings

	running atomic.Bool

	lastMu sync.Mutex
	last   *PassReport
}

func NewDispatcher(st store.RecordStore, client notify.Client, settings Settings, opts Options, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.KeyTimeout <= 0 {
		opts.KeyTimeout = 30 * time.Second
	}
	if opts.MaxBatches <= 0 {
		opts.MaxBatches = defaultMaxBatches
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Dispatcher{
		store:    st,
		client:   client,
		log:      log,
		opts:     opts,
		settings: settings.withDefaults(),
	}
}

// SetAudit installs the delivery audit log. nil disables it.
func (d *Dispatcher) SetAudit(a audit.Store) { d.audit = a }

// Apply swaps dispatch policies. It takes effect on the next pass.
func (d *Dispatcher) Apply(s Settings) {
	s = s.withDefaults()
	d.mu.Lock()
	d.settings = s
	d.mu.Unlock()
	d.log.Info("dispatch settings applied",
		logx.Duration("delay", s.Delay),
		logx.String("filter", s.Filter.String()),
		logx.String("retry", s.Retry.String()),
	)
}

func (d *Dispatcher) Settings() Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings
}

// Running reports whether a pass is in flight.
func (d *Dispatcher) Running() bool { return d.running.Load() }

// LastReport returns the report of the most recently finished pass.
func (d *Dispatcher) LastReport() (PassReport, bool) {
	d.lastMu.Lock()
	defer d.lastMu.Unlock()
	if d.last == nil {
		return PassReport{}, false
	}
	return *d.last, true
}

type pass struct {
	id       string
	now      time.Time
	settings Settings
	ages     AgeEvaluator
	log      logx.Logger
	tally    *tally
}

// RunPass walks the whole keyspace once. It refuses to start while another
// pass is running and returns ErrPassInFlight without touching the store.
// Per-key failures never fail the pass; the returned error is only set when
// enumeration itself stopped early.
func (d *Dispatcher) RunPass(ctx context.Context) (PassReport, error) {
	if !d.running.CompareAndSwap(false, true) {
		return PassReport{}, ErrPassInFlight
	}
	defer d.running.Store(false)

	settings := d.Settings()
	p := &pass{
		id:       uuid.NewString(),
		now:      d.opts.Clock(),
		settings: settings,
		ages:     AgeEvaluator{Threshold: settings.Delay, Layout: settings.Schema.TimeLayout},
		tally:    &tally{},
	}
	p.log = d.log.With(logx.String("pass", p.id))
	p.tally.update(func(r *PassReport) {
		r.ID = p.id
		r.Started = p.now
	})
	p.log.Debug("pass started", logx.Duration("delay", settings.Delay))

	err := d.walk(ctx, p)

	report := p.tally.snapshot()
	report.Duration = d.opts.Clock().Sub(p.now)
	if err != nil {
		report.Error = err.Error()
	}
	d.lastMu.Lock()
	d.last = &report
	d.lastMu.Unlock()

	fields := []logx.Field{
		logx.Duration("took", report.Duration),
		logx.Int("scanned", report.Scanned),
		logx.Int("sent", report.Sent),
		logx.Int("send_failed", report.SendFailed),
		logx.Int("deferred", report.Deferred),
		logx.Int("malformed", report.Malformed+report.Exhausted),
	}
	switch {
	case err != nil:
		p.log.Warn("pass stopped early", append(fields, logx.Err(err))...)
	case report.Sent > 0 || report.SendFailed > 0 || report.Malformed > 0 || report.Exhausted > 0:
		p.log.Info("pass finished", fields...)
	default:
		p.log.Debug("pass finished", fields...)
	}
	return report, err
}

func (d *Dispatcher) walk(ctx context.Context, p *pass) error {
	truncated, err := walkKeys(ctx, d.store, d.opts.MaxBatches, func(b scanBatch) error {
		p.tally.update(func(r *PassReport) {
			r.Batches++
			r.Scanned += b.Scanned
			r.Duplicates += b.Duplicates
		})
		return d.dispatchBatch(ctx, p, b.Keys)
	})
	if truncated {
		p.tally.update(func(r *PassReport) { r.Truncated = true })
		p.log.Warn("pass hit batch cap before end of iteration; coverage is partial",
			logx.Int("max_batches", d.opts.MaxBatches))
	}
	return err
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, p *pass, keys []string) error {
	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	for _, key := range keys {
		// Stop handing out keys on shutdown; keys already started finish.
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			p.tally.add(d.process(ctx, p, key))
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (d *Dispatcher) process(ctx context.Context, p *pass, key string) keyResult {
	log := p.log.With(logx.String("key", key))
	s := p.settings

	if !s.Filter.Eligible(key) {
		log.Debug("key skipped by filter", logx.String("filter", s.Filter.String()))
		return resultFiltered
	}

	kctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.KeyTimeout)
	defer cancel()

	fields, err := d.store.GetAll(kctx, key)
	if err != nil {
		log.Warn("read record failed", logx.Err(err))
		return resultReadFailed
	}
	if len(fields) == 0 {
		log.Debug("record vanished since scan")
		return resultVanished
	}

	rec, err := model.ParseRecord(key, fields, s.Schema)
	if err != nil {
		log.Warn("malformed record left for operator", logx.Err(err))
		return resultMalformed
	}
	log = log.With(logx.String("identity", rec.Identity))

	switch p.ages.Classify(rec.ReceivedAt, p.now) {
	case VerdictIndeterminate:
		log.Warn("malformed record left for operator", logx.Err(model.ErrBadTimestamp))
		return resultMalformed
	case VerdictDeferred:
		log.Debug("record deferred", logx.Duration("remaining", p.ages.Remaining(rec.ReceivedAt, p.now)))
		return resultDeferred
	}

	if s.Retry.Tracks() {
		switch s.Retry.Decide(rec.Attempts, rec.LastAttempt.Time(), p.now) {
		case RetryWait:
			log.Debug("record backing off", logx.Int("attempts", rec.Attempts))
			return resultBackingOff
		case RetryExhausted:
			log.Warn("malformed record left for operator",
				logx.Err(&model.MalformedError{Key: key, Reason: model.ErrAttemptsExhausted}),
				logx.Int("attempts", rec.Attempts))
			return resultExhausted
		}
	}

	out := d.client.Send(kctx, rec.Identity, s.Content)
	if !out.OK {
		logFields := []logx.Field{logx.String("reason", out.Reason)}
		if out.Status != 0 {
			logFields = append(logFields, logx.Int("status", out.Status))
		}
		if s.Retry.Tracks() {
			n, err := d.store.RecordAttempt(kctx, key, d.opts.Clock())
			if err != nil {
				log.Warn("record attempt failed", logx.Err(err))
			}
			logFields = append(logFields, logx.Int("attempts", n))
		}
		log.Warn("notification failed; record kept for retry", logFields...)
		d.appendAudit(kctx, p, rec, audit.ActionSendFailed, out.String())
		return resultSendFailed
	}

	log.Info("notification sent")
	d.appendAudit(kctx, p, rec, audit.ActionSent, "")

	if err := d.store.Delete(kctx, key); err != nil {
		log.Error("delete after successful send failed; record will be notified again", logx.Err(err))
		d.appendAudit(kctx, p, rec, audit.ActionDeleteFailed, err.Error())
		return resultDeleteFailed
	}
	return resultDelivered
}

func (d *Dispatcher) appendAudit(ctx context.Context, p *pass, rec model.PendingRecord, action audit.Action, errText string) {
	if d.audit == nil {
		return
	}
	err := d.audit.Append(ctx, audit.Entry{
		At:       d.opts.Clock(),
		PassID:   p.id,
		Key:      rec.Key,
		Identity: rec.Identity,
		Action:   action,
		Error:    strings.TrimSpace(errText),
	})
	if err != nil {
		p.log.Warn("audit append failed", logx.String("key", rec.Key), logx.Err(err))
	}
}
