// Package scheduler owns the live cron timers for automations and keeps them
// consistent with each automation's persisted status and trigger. It holds no
// durable state of its own: the store says WHAT to schedule, the in-memory
// entry set is a cache of WHEN.
package scheduler

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"invomat/internal/automation"
	"invomat/internal/automation/engine"
	"invomat/pkg/logx"
)

// fallbackCron is armed when a trigger's expression does not parse:
// weekly, Monday 9:00 (standard cron numbering).
const fallbackCron = "0 9 * * 1"

// Config controls the scheduler service.
type Config struct {
	Enabled        bool
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	Timezone       string // IANA TZ, e.g. "Europe/Paris"
}

// Engine is the slice of the automation engine the scheduler drives.
type Engine interface {
	Create(ctx context.Context, ownerID, accountID string, cfg *automation.Config) (*engine.CreateResult, error)
	Run(ctx context.Context, id string) (*engine.RunResult, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Delete(ctx context.Context, id string, deleteTable bool) error
	Get(ctx context.Context, id string) (*automation.Automation, error)
}

// Store is the persistence slice used for startup recovery and next-run
// bookkeeping.
type Store interface {
	ListAutomationsByStatus(ctx context.Context, status automation.Status) ([]*automation.Automation, error)
	UpdateAutomation(ctx context.Context, id string, mutate func(*automation.Automation) error) error
}

type job struct {
	automationID string
}

// runState serializes runs per automation id: a fire that finds the previous
// run still in flight is skipped, not queued.
type runState struct {
	mu      sync.Mutex
	running bool
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

type Service struct {
	cfg    Config
	eng    Engine
	st     Store
	log    logx.Logger
	parser cron.Parser
	now    func() time.Time

	mu        sync.Mutex
	c         *cron.Cron
	loc       *time.Location
	entries   map[string]cron.EntryID
	queue     chan job
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	smu    sync.Mutex
	states map[string]*runState
}

func New(cfg Config, eng Engine, st Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		eng: eng,
		st:  st,
		log: log,
		// 5-field specs only; automations never carry descriptors or seconds.
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:     time.Now,
		entries: map[string]cron.EntryID{},
		states:  map[string]*runState{},
	}
}

// Start is idempotent. It spins up the worker pool, starts the cron runner
// and recovers every status=active automation from the store.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return nil
	}
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(context.Background())

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	queueSize := s.cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	s.queue = make(chan job, queueSize)

	s.loc = s.loadLocation()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in scheduler worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}
	s.c.Start()
	s.mu.Unlock()

	// Startup recovery: the store is the source of truth for what to schedule.
	active, err := s.st.ListAutomationsByStatus(ctx, automation.StatusActive)
	if err != nil {
		s.log.Error("startup recovery failed", logx.Err(err))
		return err
	}
	for _, a := range active {
		if err := s.Schedule(ctx, a); err != nil {
			s.log.Error("recovery schedule failed", logx.String("automation_id", a.ID), logx.Err(err))
		}
	}
	s.log.Info("scheduler started",
		logx.Int("workers", workers),
		logx.String("tz", s.loc.String()),
		logx.Int("recovered", len(active)))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	s.stopCh = nil
	s.runCancel = nil
	s.c = nil
	s.queue = nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; workers finishing in background")
	}
}

// Schedule arms (or replaces) the timer for an automation. The old entry is
// removed and the new one installed under the same lock, so there is never a
// window with zero or two timers for the same id. An unparseable expression
// falls back to weekly Monday 9:00 instead of failing the operation.
func (s *Service) Schedule(ctx context.Context, a *automation.Automation) error {
	spec, err := s.parser.Parse(remapDow(a.Trigger.Cron))
	if err != nil {
		s.log.Warn("invalid cron expression; using fallback",
			logx.String("automation_id", a.ID),
			logx.String("cron", a.Trigger.Cron),
			logx.Err(err))
		spec, _ = s.parser.Parse(fallbackCron)
	}

	id := a.ID
	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		s.log.Warn("scheduler not running; timer not armed", logx.String("automation_id", id))
		return nil
	}
	if old, ok := s.entries[id]; ok {
		s.c.Remove(old)
	}
	eid := s.c.Schedule(spec, cron.FuncJob(func() { s.onFire(id) }))
	s.entries[id] = eid
	loc := s.loc
	s.mu.Unlock()

	next := spec.Next(s.now().In(loc))
	s.persistNextRun(ctx, id, next)
	s.log.Info("automation scheduled",
		logx.String("automation_id", id),
		logx.String("cron", a.Trigger.Cron),
		logx.Time("next_run", next))
	return nil
}

// Unschedule removes the timer for an id. A missing timer is not an error.
func (s *Service) Unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eid, ok := s.entries[id]
	if !ok {
		return
	}
	if s.c != nil {
		s.c.Remove(eid)
	}
	delete(s.entries, id)
}

// NextRun reports the next fire time of a scheduled automation.
func (s *Service) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eid, ok := s.entries[id]
	if !ok || s.c == nil {
		return time.Time{}, false
	}
	e := s.c.Entry(eid)
	if !e.Valid() {
		return time.Time{}, false
	}
	return e.Next, true
}

// Snapshot returns the scheduled ids and their next fire times.
func (s *Service) Snapshot() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for id, eid := range s.entries {
		if s.c == nil {
			break
		}
		if e := s.c.Entry(eid); e.Valid() {
			out[id] = e.Next
		}
	}
	return out
}

func (s *Service) onFire(id string) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return
	}
	select {
	case q <- job{automationID: id}:
	default:
		s.log.Warn("scheduler queue full; run skipped", logx.String("automation_id", id))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execOne(ctx, j)
		}
	}
}

// execOne runs one fired automation. A run error is logged only; the timer
// stays armed for the next occurrence.
func (s *Service) execOne(ctx context.Context, j job) {
	st := s.state(j.automationID)
	if !st.tryAcquire() {
		s.log.Debug("previous run still in flight; skipping", logx.String("automation_id", j.automationID))
		return
	}
	defer st.release()

	if s.cfg.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DefaultTimeout)
		defer cancel()
	}

	res, err := s.eng.Run(ctx, j.automationID)
	if err != nil {
		s.log.Error("fired run failed", logx.String("automation_id", j.automationID), logx.Err(err))
	} else if res != nil && res.Err != nil {
		s.log.Warn("fired run completed with error", logx.String("automation_id", j.automationID), logx.Err(res.Err))
	}

	if next, ok := s.NextRun(j.automationID); ok {
		s.persistNextRun(ctx, j.automationID, next)
	}
}

func (s *Service) state(id string) *runState {
	s.smu.Lock()
	defer s.smu.Unlock()
	st, ok := s.states[id]
	if !ok {
		st = &runState{}
		s.states[id] = st
	}
	return st
}

func (s *Service) persistNextRun(ctx context.Context, id string, next time.Time) {
	err := s.st.UpdateAutomation(ctx, id, func(a *automation.Automation) error {
		n := next
		a.NextRun = &n
		return nil
	})
	if err != nil {
		s.log.Warn("next-run bookkeeping failed", logx.String("automation_id", id), logx.Err(err))
	}
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// remapDow converts a trigger expression's day-of-week field from the
// 0=Monday convention used by parsed triggers to standard cron 0=Sunday.
// Non-numeric fields (e.g. "*") pass through untouched.
func remapDow(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return expr
	}
	d, err := strconv.Atoi(fields[4])
	if err != nil || d < 0 || d > 6 {
		return expr
	}
	fields[4] = strconv.Itoa((d + 1) % 7)
	return strings.Join(fields, " ")
}
