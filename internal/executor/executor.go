// Package executor submits validated orders to the exchange and tracks them
// to a terminal state.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/polymirror/copybot/internal/domain"
)

// Validator is the risk-manager surface the executor needs.
type Validator interface {
	Validate(req domain.OrderRequest, snap domain.MarketSnapshot) error
	Release(requestID string)
	OnFill(ctx context.Context, req domain.OrderRequest, fill domain.Fill, terminal bool)
}

// SnapshotSource supplies the latest market snapshot for validation.
type SnapshotSource interface {
	Snapshot(marketID string) (domain.MarketSnapshot, bool)
}

// SubmissionChecker is implemented by gateways that can locate an order from
// its request alone, for reconciling submissions whose response was lost.
type SubmissionChecker interface {
	LookupOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error)
}

// Config holds submission and tracking parameters.
type Config struct {
	StatusPollInterval time.Duration
	SubmitTimeout      time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	ObserveOnly        bool // validate and log, never submit
}

// tracked is one order being driven to a terminal state.
type tracked struct {
	req          domain.OrderRequest
	orderID      string
	status       domain.OrderStatus
	reportedFill float64 // shares already passed to OnFill
	submittedAt  time.Time
}

// Executor consumes order requests, validates them against risk, submits
// them immediate-or-cancel, and polls pending orders until terminal. Fills
// are reported to risk exactly once per filled share; arbitrage pair legs
// are cancelled together when one leg dies unfilled.
type Executor struct {
	cfg       Config
	gateway   domain.Gateway
	risk      Validator
	snapshots SnapshotSource
	logger    *slog.Logger
	in        <-chan domain.OrderRequest

	mu      sync.Mutex
	pending map[string]*tracked // gateway order ID -> state
	pairs   map[string][]string // pair ID -> gateway order IDs

	onReject func(req domain.OrderRequest, reason string) // optional notification hook
	onFilled func(req domain.OrderRequest, fill domain.Fill)
}

// New creates an Executor reading requests from in.
func New(cfg Config, gateway domain.Gateway, risk Validator, snapshots SnapshotSource, in <-chan domain.OrderRequest, logger *slog.Logger) *Executor {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Executor{
		cfg:       cfg,
		gateway:   gateway,
		risk:      risk,
		snapshots: snapshots,
		in:        in,
		logger:    logger.With(slog.String("component", "order_executor")),
		pending:   make(map[string]*tracked),
		pairs:     make(map[string][]string),
	}
}

// SetRejectHook registers a callback invoked on risk or venue rejection.
func (e *Executor) SetRejectHook(fn func(req domain.OrderRequest, reason string)) { e.onReject = fn }

// SetFillHook registers a callback invoked on each confirmed fill.
func (e *Executor) SetFillHook(fn func(req domain.OrderRequest, fill domain.Fill)) { e.onFilled = fn }

// Run processes requests and polls pending orders until ctx is cancelled,
// then drains: pending orders get one final status check and open ones are
// cancelled so nothing rests on the book unattended.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("order executor started",
		slog.Bool("observe_only", e.cfg.ObserveOnly),
		slog.Duration("status_poll_interval", e.cfg.StatusPollInterval),
	)

	ticker := time.NewTicker(e.cfg.StatusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			e.logger.Info("order executor stopped")
			return ctx.Err()
		case req, ok := <-e.in:
			if !ok {
				e.drain()
				e.logger.Info("order executor stopped")
				return nil
			}
			e.process(ctx, req)
		case <-ticker.C:
			e.pollPending(ctx)
		}
	}
}

// process validates and submits one request.
func (e *Executor) process(ctx context.Context, req domain.OrderRequest) {
	snap, _ := e.snapshots.Snapshot(req.MarketID)

	if err := e.risk.Validate(req, snap); err != nil {
		if re, ok := domain.IsRejection(err); ok {
			e.logger.Info("order rejected by risk",
				slog.String("request", req.ID),
				slog.String("market", req.MarketID),
				slog.String("source", string(req.Source)),
				slog.String("reason", string(re.Reason)),
				slog.String("detail", re.Detail),
			)
			if e.onReject != nil {
				e.onReject(req, string(re.Reason))
			}
			e.failSibling(ctx, req)
			return
		}
		e.logger.Error("order validation failed", slog.String("error", err.Error()))
		return
	}

	if e.cfg.ObserveOnly {
		e.risk.Release(req.ID)
		e.logger.Info("order suppressed (observe mode)",
			slog.String("request", req.ID),
			slog.String("market", req.MarketID),
			slog.Float64("size_usd", req.SizeUSD),
		)
		return
	}

	e.submit(ctx, req)
}

// submit places the order, retrying transient failures with bounded backoff.
// A failed submission is reconciled through a status lookup before any
// retry, so a response lost in transit never doubles the position.
func (e *Executor) submit(ctx context.Context, req domain.OrderRequest) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := e.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				e.risk.Release(req.ID)
				return
			}
		}

		subCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
		ack, err := e.gateway.SubmitOrder(subCtx, req)
		cancel()

		switch {
		case err == nil && ack.Status == domain.OrderStatusRejected:
			e.risk.Release(req.ID)
			e.logger.Warn("order rejected by venue",
				slog.String("request", req.ID),
				slog.String("market", req.MarketID),
				slog.String("message", ack.Message),
			)
			if e.onReject != nil {
				e.onReject(req, ack.Message)
			}
			e.failSibling(ctx, req)
			return

		case err == nil:
			e.track(req, ack)
			e.logger.Info("order submitted",
				slog.String("request", req.ID),
				slog.String("order", ack.OrderID),
				slog.String("market", req.MarketID),
				slog.String("source", string(req.Source)),
				slog.Float64("size_usd", req.SizeUSD),
			)
			// Filled-on-ack is common for immediate-or-cancel.
			if ack.Status.Terminal() {
				e.pollPending(ctx)
			}
			return

		case domain.IsTransient(err) || subCtxExpired(err):
			lastErr = err
			// The order may have landed despite the error.
			if ack, found := e.reconcile(ctx, req); found {
				e.track(req, ack)
				e.logger.Info("order reconciled after lost submission",
					slog.String("request", req.ID),
					slog.String("order", ack.OrderID),
				)
				if ack.Status.Terminal() {
					e.pollPending(ctx)
				}
				return
			}
			e.logger.Warn("order submission failed, will retry",
				slog.String("request", req.ID),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)

		default:
			e.risk.Release(req.ID)
			e.logger.Error("order submission failed terminally",
				slog.String("request", req.ID),
				slog.String("error", err.Error()),
			)
			e.failSibling(ctx, req)
			return
		}
	}

	e.risk.Release(req.ID)
	e.logger.Error("order submission exhausted retries",
		slog.String("request", req.ID),
		slog.String("error", lastErr.Error()),
	)
	e.failSibling(ctx, req)
}

// reconcile asks the gateway whether the order landed despite the failed
// submission call. A not-found answer (or a gateway without lookup support)
// means retrying is safe.
func (e *Executor) reconcile(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, bool) {
	checker, ok := e.gateway.(SubmissionChecker)
	if !ok {
		return domain.OrderAck{}, false
	}
	ack, err := checker.LookupOrder(ctx, req)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.Debug("submission lookup failed",
				slog.String("request", req.ID),
				slog.String("error", err.Error()),
			)
		}
		return domain.OrderAck{}, false
	}
	return ack, true
}

func (e *Executor) track(req domain.OrderRequest, ack domain.OrderAck) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[ack.OrderID] = &tracked{
		req:         req,
		orderID:     ack.OrderID,
		status:      ack.Status,
		submittedAt: time.Now().UTC(),
	}
	if req.PairID != "" {
		e.pairs[req.PairID] = append(e.pairs[req.PairID], ack.OrderID)
	}
}

// pollPending refreshes every tracked order and settles fills. Each filled
// share is reported to risk exactly once; a repeat poll returning the same
// numbers is a no-op.
func (e *Executor) pollPending(ctx context.Context) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, orderID := range ids {
		update, err := e.gateway.OrderStatus(ctx, orderID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Debug("status poll failed",
				slog.String("order", orderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.applyUpdate(ctx, orderID, update)
	}
}

func (e *Executor) applyUpdate(ctx context.Context, orderID string, update domain.OrderUpdate) {
	e.mu.Lock()
	t, ok := e.pending[orderID]
	if !ok {
		e.mu.Unlock()
		return
	}
	newShares := update.FilledShares - t.reportedFill
	terminal := update.Status.Terminal()
	t.status = update.Status
	if newShares > 0 {
		t.reportedFill = update.FilledShares
	}
	req := t.req
	if terminal {
		delete(e.pending, orderID)
	}
	e.mu.Unlock()

	if newShares > 0 {
		fill := domain.Fill{
			OrderID: orderID,
			Price:   update.FilledPrice,
			Shares:  newShares,
			SizeUSD: newShares * update.FilledPrice,
			Time:    time.Now().UTC(),
		}
		e.risk.OnFill(ctx, req, fill, terminal)
		e.logger.Info("order fill",
			slog.String("order", orderID),
			slog.String("market", req.MarketID),
			slog.Float64("shares", newShares),
			slog.Float64("price", update.FilledPrice),
			slog.Bool("terminal", terminal),
		)
		if e.onFilled != nil {
			e.onFilled(req, fill)
		}
		return
	}

	if terminal {
		// Terminal with nothing (new) filled: release whatever notional is
		// still reserved.
		e.risk.Release(req.ID)
		e.logger.Info("order closed without fill",
			slog.String("order", orderID),
			slog.String("status", string(update.Status)),
		)
		if update.Status != domain.OrderStatusFilled && t.reportedFill == 0 {
			e.failSibling(ctx, req)
		}
	}
}

// failSibling cancels the other leg of an arbitrage pair when one leg dies
// unfilled; a half-executed pair is a directional position, not an arbitrage.
func (e *Executor) failSibling(ctx context.Context, req domain.OrderRequest) {
	if req.PairID == "" {
		return
	}
	e.mu.Lock()
	siblings := append([]string(nil), e.pairs[req.PairID]...)
	delete(e.pairs, req.PairID)
	e.mu.Unlock()

	for _, orderID := range siblings {
		e.mu.Lock()
		t, pending := e.pending[orderID]
		e.mu.Unlock()
		if !pending || t.req.ID == req.ID {
			continue
		}
		if err := e.gateway.CancelOrder(ctx, orderID); err != nil {
			e.logger.Warn("sibling cancel failed",
				slog.String("order", orderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.logger.Info("sibling leg cancelled",
			slog.String("order", orderID),
			slog.String("pair", req.PairID),
		)
	}
}

// drain runs on shutdown: one last status sweep, then cancel whatever is
// still open. Uses a fresh short-lived context because the run context is
// already dead.
func (e *Executor) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	e.pollPending(ctx)

	e.mu.Lock()
	remaining := make([]*tracked, 0, len(e.pending))
	for _, t := range e.pending {
		remaining = append(remaining, t)
	}
	e.mu.Unlock()

	for _, t := range remaining {
		if err := e.gateway.CancelOrder(ctx, t.orderID); err != nil {
			e.logger.Warn("shutdown cancel failed",
				slog.String("order", t.orderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.risk.Release(t.req.ID)
		e.logger.Info("order cancelled on shutdown", slog.String("order", t.orderID))
	}
}

// PendingCount returns how many orders are still being tracked.
func (e *Executor) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func subCtxExpired(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
