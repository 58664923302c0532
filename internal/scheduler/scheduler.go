// Package scheduler drives the mention-to-payment pipeline. It owns poll
// state exclusively: cursor, consecutive error count and backoff live on the
// scheduler goroutine and nothing else mutates them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tipbot/internal/command"
	"tipbot/internal/domain"
	"tipbot/internal/observability"
	"tipbot/internal/resolver"
	"tipbot/internal/social"
	"tipbot/internal/storage"
)

// State is the scheduler's lifecycle state.
type State string

const (
	StateIdle    State = "IDLE"
	StatePolling State = "POLLING"
	StateBackoff State = "BACKOFF"
	StateStopped State = "STOPPED"
)

// Backoff policy applied per fetch failure classification.
const (
	rateLimitBackoffBase = 60 * time.Second
	networkBackoff       = 30 * time.Second
	otherBackoffStep     = 30 * time.Second
	otherBackoffAfter    = 5
	backoffCap           = 900 * time.Second
)

// DefaultBatchLimit caps mentions handled per poll cycle (platform page size).
const DefaultBatchLimit = 100

// AccountResolver maps handles to ledger accounts.
type AccountResolver interface {
	Resolve(ctx context.Context, handle string) (*domain.AccountLink, error)
}

// PaymentExecutor runs the transfer for a parsed command.
type PaymentExecutor interface {
	Execute(ctx context.Context, mentionID string, cmd *domain.Command, sender, recipient *domain.AccountLink) (*domain.TransferRecord, error)
}

// BalanceSource reads account balances for dry runs.
type BalanceSource interface {
	GetBalance(ctx context.Context, accountID, token string) (decimal.Decimal, error)
}

// OutcomeReplier posts outcome replies. Implementations swallow post errors.
type OutcomeReplier interface {
	Outcome(ctx context.Context, m *domain.Mention, rec *domain.TransferRecord)
	ParseFailure(ctx context.Context, m *domain.Mention, perr *command.ParseError)
	ResolutionFailure(ctx context.Context, m *domain.Mention, handle string)
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	State             State  `json:"state"`
	Active            bool   `json:"active"`
	BackoffMs         int64  `json:"backoffMs"`
	ConsecutiveErrors int    `json:"consecutiveErrors"`
	LastPollTime      int64  `json:"lastPollTime"` // ms, last successful cycle
	Cursor            string `json:"cursor"`
}

// Options configures Scheduler.
type Options struct {
	Source   social.MentionSource
	Parser   *command.Parser
	Resolver AccountResolver
	Executor PaymentExecutor
	Replies  OutcomeReplier
	Dedup    storage.DedupStore
	Cursor   storage.PollCursorStore
	// Links and Balances power TestCommand dry runs. Either may be nil,
	// which skips the corresponding simulation step.
	Links    storage.AccountLinkStore
	Balances BalanceSource
	// Metrics is optional.
	Metrics *observability.Metrics
	Logger  *log.Logger
	// BatchLimit caps mentions per cycle. Defaults to DefaultBatchLimit.
	BatchLimit int
}

// Scheduler polls for mentions and runs each through the pipeline. Cycles
// are single-flight: every cycle runs on the scheduler goroutine, so a tick
// arriving mid-cycle coalesces instead of overlapping.
type Scheduler struct {
	source   social.MentionSource
	parser   *command.Parser
	resolver AccountResolver
	executor PaymentExecutor
	replies  OutcomeReplier
	dedup    storage.DedupStore
	cursorDB storage.PollCursorStore
	links    storage.AccountLinkStore
	balances BalanceSource
	metrics  *observability.Metrics
	logger   *log.Logger
	batch    int

	mu           sync.Mutex
	state        State
	consecutive  int
	backoff      time.Duration
	backoffUntil time.Time
	lastSuccess  time.Time
	lastAttempt  time.Time
	cursor       string

	interval time.Duration
	trigger  chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	started  bool
	stopped  bool
}

// New creates a Scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("mention source is required")
	}
	if opts.Parser == nil {
		return nil, fmt.Errorf("parser is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.Replies == nil {
		return nil, fmt.Errorf("reply dispatcher is required")
	}
	if opts.Dedup == nil {
		return nil, fmt.Errorf("dedup store is required")
	}
	if opts.Cursor == nil {
		return nil, fmt.Errorf("cursor store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	batch := opts.BatchLimit
	if batch <= 0 {
		batch = DefaultBatchLimit
	}
	return &Scheduler{
		source:   opts.Source,
		parser:   opts.Parser,
		resolver: opts.Resolver,
		executor: opts.Executor,
		replies:  opts.Replies,
		dedup:    opts.Dedup,
		cursorDB: opts.Cursor,
		links:    opts.Links,
		balances: opts.Balances,
		metrics:  opts.Metrics,
		logger:   logger,
		batch:    batch,
		state:    StateIdle,
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start loads the persisted cursor and begins polling. The first cycle runs
// immediately, then every interval unless a backoff window is open.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is stopped")
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.interval = interval
	s.mu.Unlock()

	cursor, err := s.cursorDB.Get(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load poll cursor: %w", err)
	}
	s.mu.Lock()
	s.cursor = cursor
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Printf("[scheduler] started, interval=%s cursor=%q", interval, cursor)
	return nil
}

// Stop halts polling. Non-preemptive: a cycle in flight finishes first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	close(s.done)
	if started {
		s.wg.Wait()
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.Printf("[scheduler] stopped")
}

// Status returns a snapshot of the poll state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	backoffMs := int64(0)
	if remaining := time.Until(s.backoffUntil); remaining > 0 {
		backoffMs = remaining.Milliseconds()
	}

	var lastPoll int64
	if !s.lastSuccess.IsZero() {
		lastPoll = s.lastSuccess.UnixMilli()
	}

	return Status{
		State:             s.state,
		Active:            s.started && !s.stopped,
		BackoffMs:         backoffMs,
		ConsecutiveErrors: s.consecutive,
		LastPollTime:      lastPoll,
		Cursor:            s.cursor,
	}
}

// TriggerPollNow requests an immediate cycle, bypassing any backoff window.
// No-op if a trigger is already pending or the scheduler is stopped.
func (s *Scheduler) TriggerPollNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// DryRun reports what executing a command would do without doing it.
type DryRun struct {
	Command *domain.Command

	// RecipientLinked is false when execution would auto-provision an
	// account for the recipient.
	RecipientLinked    bool
	RecipientAccountID string

	// Sender fields are populated only when a sender handle was given.
	SenderLinked    bool
	SenderAccountID string
	BalanceKnown    bool
	SenderBalance   decimal.Decimal
	SufficientFunds bool
}

// TestCommand parses text and simulates resolution and execution as a dry
// run. Account links are looked up but never provisioned, the sender's
// balance is read but no transfer is submitted, and no reply is posted.
// senderHandle may be empty to skip the sender-side simulation.
func (s *Scheduler) TestCommand(ctx context.Context, senderHandle, text string) (*DryRun, error) {
	cmd, err := s.parser.Parse(text)
	if err != nil {
		return nil, err
	}
	run := &DryRun{Command: cmd}
	if s.links == nil {
		return run, nil
	}

	recipient, err := s.links.GetByHandle(ctx, normalizeHandle(cmd.RecipientHandle))
	switch {
	case err == nil:
		run.RecipientLinked = true
		run.RecipientAccountID = recipient.AccountID
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("look up recipient link: %w", err)
	}

	if senderHandle == "" {
		return run, nil
	}
	sender, err := s.links.GetByHandle(ctx, normalizeHandle(senderHandle))
	if errors.Is(err, storage.ErrNotFound) {
		return run, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up sender link: %w", err)
	}
	run.SenderLinked = true
	run.SenderAccountID = sender.AccountID

	if s.balances == nil {
		return run, nil
	}
	balance, err := s.balances.GetBalance(ctx, sender.AccountID, cmd.Token)
	if err != nil {
		return nil, fmt.Errorf("get sender balance: %w", err)
	}
	run.BalanceKnown = true
	run.SenderBalance = balance
	run.SufficientFunds = balance.GreaterThanOrEqual(cmd.Amount)
	return run, nil
}

func normalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(handle, "@"))
}

// run is the scheduler goroutine: the only place poll state is mutated.
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	s.pollCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Watchdog checks lag at interval granularity.
	watchdog := time.NewTicker(s.interval)
	defer watchdog.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.trigger:
			s.pollCycle(ctx)
		case <-ticker.C:
			if s.inBackoff() {
				continue
			}
			s.pollCycle(ctx)
		case <-watchdog.C:
			if s.stalled() {
				s.logger.Printf("[scheduler] watchdog: no poll for over %s, restarting loop", 3*s.interval)
				s.mu.Lock()
				s.consecutive = 0
				s.backoff = 0
				s.backoffUntil = time.Time{}
				s.mu.Unlock()
				s.pollCycle(ctx)
			}
		}
	}
}

func (s *Scheduler) inBackoff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.backoffUntil)
}

// stalled reports whether the loop has gone quiet beyond the watchdog
// threshold. Open backoff windows are intentional silence, not a stall.
// The anchor is the last attempt, not the last success: a loop that keeps
// attempting and failing is alive, and its cadence belongs to the backoff
// policy. A restart there would reset the consecutive-error escalation.
func (s *Scheduler) stalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Now().Before(s.backoffUntil) {
		return false
	}
	anchor := s.lastAttempt
	if s.backoffUntil.After(anchor) {
		anchor = s.backoffUntil
	}
	if anchor.IsZero() {
		return false
	}
	return time.Since(anchor) > 3*s.interval
}

// pollCycle fetches one batch and pipelines each mention sequentially in
// ascending id order.
func (s *Scheduler) pollCycle(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.state = StatePolling
	s.lastAttempt = time.Now()
	cursor := s.cursor
	s.mu.Unlock()

	start := time.Now()
	mentions, err := s.source.FetchMentions(ctx, cursor)
	if err != nil {
		s.recordFetchFailure(err)
		return
	}

	if len(mentions) > s.batch {
		mentions = mentions[:s.batch]
	}
	domain.SortMentions(mentions)

	// The cursor advances only past mentions that reached a terminal
	// outcome. The first non-terminal mention pins it there so the next
	// fetch sees that mention again; dedup skips the finished ones that
	// get refetched alongside it.
	advanced := false
	pinned := false
	for _, m := range mentions {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		terminal := s.processMention(ctx, m)
		if !terminal {
			pinned = true
		}
		if pinned {
			continue
		}

		s.mu.Lock()
		if domain.CompareMentionIDs(m.ID, s.cursor) > 0 {
			s.cursor = m.ID
			advanced = true
		}
		cursor = s.cursor
		s.mu.Unlock()
	}

	if advanced {
		if err := s.cursorDB.Set(ctx, cursor); err != nil {
			// Dedup absorbs the replay a stale cursor causes on restart.
			s.logger.Printf("[scheduler] persist cursor %q failed: %v", cursor, err)
		}
	}

	now := time.Now()
	s.mu.Lock()
	s.consecutive = 0
	s.backoff = 0
	s.backoffUntil = time.Time{}
	s.lastSuccess = now
	s.state = StateIdle
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PollCyclesTotal.WithLabelValues("success").Inc()
		s.metrics.PollCycleDuration.Observe(time.Since(start).Seconds())
		s.metrics.MentionsFetched.Add(float64(len(mentions)))
		s.metrics.BackoffSeconds.Set(0)
		s.metrics.ConsecutiveErrors.Set(0)
		s.metrics.LastSuccessfulPoll.Set(float64(now.Unix()))
	}

	if len(mentions) > 0 {
		s.logger.Printf("[scheduler] cycle done: %d mentions, cursor=%s", len(mentions), cursor)
	}
}

// recordFetchFailure applies the backoff policy for a classified fetch error.
func (s *Scheduler) recordFetchFailure(err error) {
	kind := social.FetchUnknown
	var ferr *social.FetchError
	if errors.As(err, &ferr) {
		kind = ferr.Kind
	}

	s.mu.Lock()
	s.consecutive++
	s.backoff = nextBackoff(kind, s.consecutive, s.backoff)
	if s.backoff > 0 {
		s.backoffUntil = time.Now().Add(s.backoff)
		s.state = StateBackoff
	} else {
		s.backoffUntil = time.Time{}
		s.state = StateIdle
	}
	consecutive := s.consecutive
	backoff := s.backoff
	s.mu.Unlock()

	s.logger.Printf("[scheduler] fetch failed (%s, %d consecutive), backoff=%s: %v",
		kind, consecutive, backoff, err)

	if s.metrics != nil {
		s.metrics.PollCyclesTotal.WithLabelValues("error").Inc()
		s.metrics.BackoffSeconds.Set(backoff.Seconds())
		s.metrics.ConsecutiveErrors.Set(float64(consecutive))
	}
}

// nextBackoff computes the delay after a fetch failure. consecutive counts
// this failure; prev is the backoff currently in force (zero if none).
func nextBackoff(kind social.FetchKind, consecutive int, prev time.Duration) time.Duration {
	switch kind {
	case social.FetchRateLimited:
		d := rateLimitBackoffBase
		if prev >= rateLimitBackoffBase {
			d = prev * 2
		}
		if d > backoffCap {
			d = backoffCap
		}
		return d
	case social.FetchNetworkError:
		return networkBackoff
	default:
		if consecutive < otherBackoffAfter {
			return 0
		}
		d := time.Duration(consecutive-otherBackoffAfter+1) * otherBackoffStep
		if d > backoffCap {
			d = backoffCap
		}
		return d
	}
}

// processMention runs one mention through the pipeline and reports whether
// it reached a terminal outcome. Non-terminal mentions must stay reachable:
// the cursor may not advance past them. Panics are contained here so a
// poisoned mention never takes down the batch.
func (s *Scheduler) processMention(ctx context.Context, m *domain.Mention) (terminal bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("[scheduler] panic processing mention %s: %v", m.ID, r)
			terminal = false
		}
	}()

	processed, err := s.dedup.IsProcessed(ctx, m.ID)
	if err != nil {
		s.logger.Printf("[scheduler] dedup check for %s failed: %v", m.ID, err)
		return false
	}
	if processed {
		if s.metrics != nil {
			s.metrics.MentionsSkipped.Inc()
		}
		return true
	}

	cmd, err := s.parser.Parse(m.Text)
	if err != nil {
		var perr *command.ParseError
		if !errors.As(err, &perr) {
			perr = &command.ParseError{Reason: command.ReasonInvalidSyntax, Detail: err.Error()}
		}
		if s.metrics != nil {
			s.metrics.ParseFailures.WithLabelValues(string(perr.Reason)).Inc()
		}
		s.replies.ParseFailure(ctx, m, perr)
		return s.markProcessed(ctx, m.ID)
	}

	sender, err := s.resolver.Resolve(ctx, m.AuthorHandle)
	if err != nil {
		return s.replyResolutionFailure(ctx, m, m.AuthorHandle, err)
	}

	recipient, err := s.resolver.Resolve(ctx, cmd.RecipientHandle)
	if err != nil {
		return s.replyResolutionFailure(ctx, m, cmd.RecipientHandle, err)
	}

	rec, err := s.executor.Execute(ctx, m.ID, cmd, sender, recipient)
	if err != nil {
		// Infrastructure failed before any submission outcome existed. The
		// mention stays unmarked and keeps the cursor pinned; the next cycle
		// refetches it and the transfer record lookup keeps the retry
		// idempotent.
		s.logger.Printf("[scheduler] execute for mention %s failed: %v", m.ID, err)
		return false
	}

	if s.metrics != nil && rec.Terminal() {
		s.metrics.TransfersTotal.WithLabelValues(rec.Status).Inc()
	}

	s.replies.Outcome(ctx, m, rec)
	return s.markProcessed(ctx, m.ID)
}

func (s *Scheduler) replyResolutionFailure(ctx context.Context, m *domain.Mention, handle string, err error) bool {
	var rerr *resolver.ResolutionError
	if errors.As(err, &rerr) {
		s.logger.Printf("[scheduler] resolution for @%s failed on mention %s: %v", handle, m.ID, err)
	} else {
		s.logger.Printf("[scheduler] unexpected resolve error for @%s on mention %s: %v", handle, m.ID, err)
	}
	if s.metrics != nil {
		s.metrics.ResolutionFailures.Inc()
	}
	s.replies.ResolutionFailure(ctx, m, handle)
	return s.markProcessed(ctx, m.ID)
}

// markProcessed records the terminal outcome in the dedup ledger. A failed
// write means the outcome is not durable, so the mention is reported
// non-terminal and will be refetched.
func (s *Scheduler) markProcessed(ctx context.Context, mentionID string) bool {
	if err := s.dedup.MarkProcessed(ctx, mentionID); err != nil {
		s.logger.Printf("[scheduler] mark processed %s failed: %v", mentionID, err)
		return false
	}
	if s.metrics != nil {
		s.metrics.MentionsProcessed.Inc()
	}
	return true
}
