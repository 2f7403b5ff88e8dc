// Package bot is the composition root: it verifies and deduplicates inbound
// webhook deliveries, resolves per-user session state, routes to a handler,
// and guarantees the user always gets a reply while real work runs on a
// bounded pool.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/Zimbwa03/nerdx-bot/internal/ai"
	"github.com/Zimbwa03/nerdx-bot/internal/catalog"
	"github.com/Zimbwa03/nerdx-bot/internal/history"
	"github.com/Zimbwa03/nerdx-bot/internal/ledger"
	"github.com/Zimbwa03/nerdx-bot/internal/metrics"
	"github.com/Zimbwa03/nerdx-bot/internal/outbound"
	"github.com/Zimbwa03/nerdx-bot/internal/profile"
	"github.com/Zimbwa03/nerdx-bot/internal/ratelimit"
	"github.com/Zimbwa03/nerdx-bot/internal/session"
)

// action keys shared with the catalog cost table.
const (
	actionQuestion = "question"
	actionExam     = "exam"
)

// welcome credits granted on registration.
const welcomeCredits = 75

// DispatcherConfig wires the dispatcher's collaborators.
type DispatcherConfig struct {
	Sessions  session.Store
	TTLPolicy session.TTLPolicy
	Ledger    *ledger.Ledger
	Limiter   *ratelimit.Limiter
	Selector  *history.Selector
	Profiles  profile.Store
	Catalog   *catalog.Catalog
	AI        *ai.Client // nil disables generation; the catalog bank serves instead
	Sender    outbound.Sender
	Metrics   *metrics.Collector
	Logger    *log.Logger

	QuestionCooldown time.Duration
	ExamCooldown     time.Duration

	// Maintenance short-circuits every delivery with a static reply.
	Maintenance *atomic.Bool
}

// Dispatcher processes one inbound message end to end.
type Dispatcher struct {
	cfg    DispatcherConfig
	logger *log.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Maintenance == nil {
		cfg.Maintenance = &atomic.Bool{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector()
	}
	if cfg.QuestionCooldown <= 0 {
		cfg.QuestionCooldown = 60 * time.Second
	}
	if cfg.ExamCooldown <= 0 {
		cfg.ExamCooldown = 5 * time.Minute
	}
	return &Dispatcher{cfg: cfg, logger: cfg.Logger}
}

// Process handles a deduplicated delivery. It always attempts a reply; the
// full error is logged while the user sees the mapped message. The returned
// error reports the handler outcome for observability, the user-facing reply
// has already been sent by the time it surfaces.
func (d *Dispatcher) Process(ctx context.Context, in Inbound) error {
	if d.cfg.Maintenance.Load() {
		d.send(ctx, in.From, d.cfg.Catalog.Texts.Maintenance)
		return nil
	}

	sess, err := d.resolveSession(ctx, in.From)
	switch {
	case errors.Is(err, ErrSessionExpired):
		d.send(ctx, in.From, "Your previous activity timed out, taking you back to the menu.")
		sess = nil
	case err != nil:
		d.logger.Printf("[dispatch] session resolve failed user=%s err=%v", in.From, err)
		d.send(ctx, in.From, genericFailureText)
		return err
	}

	if err := d.route(ctx, sess, in); err != nil {
		d.logger.Printf("[dispatch] handler failed user=%s msg=%s err=%v", in.From, in.MessageID, err)
		d.sendFailure(ctx, in.From, err)
		return err
	}
	return nil
}

// resolveSession loads the session and enforces per-variant staleness: a
// stale record is cleared and reported as ErrSessionExpired so the user lands
// on a safe default instead of resuming a dead flow.
func (d *Dispatcher) resolveSession(ctx context.Context, userID string) (*session.Session, error) {
	sess, err := d.cfg.Sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if sess.Expired(d.cfg.TTLPolicy, time.Now()) {
		if err := d.cfg.Sessions.Clear(ctx, userID); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}
	return sess, nil
}

const genericFailureText = "Something went wrong on our side. Please try again."

func (d *Dispatcher) sendFailure(ctx context.Context, userID string, err error) {
	var insufficient *ledger.InsufficientCreditsError
	var text string
	switch {
	case errors.As(err, &insufficient):
		text = fmt.Sprintf(
			"You need %d credits for this but have %d (short by %d). Reply BUY to top up.",
			insufficient.Required, insufficient.Balance, insufficient.Shortage)
	case errors.Is(err, ai.ErrRateLimited), errors.Is(err, ai.ErrTimeout), errors.Is(err, ai.ErrUnavailable):
		text = "Our tutor is a bit busy right now. Please try again in a moment."
	case errors.Is(err, session.ErrVersionConflict):
		text = genericFailureText
	case errors.Is(err, outbound.ErrSendFailed):
		// nothing to tell the user on a delivery failure
		return
	default:
		text = genericFailureText
	}
	d.send(ctx, userID, text)
}

// send delivers a plain text reply, logging delivery failures.
func (d *Dispatcher) send(ctx context.Context, userID, text string) {
	d.sendMessage(ctx, outbound.Message{To: userID, Text: text})
}

func (d *Dispatcher) sendMessage(ctx context.Context, msg outbound.Message) {
	err := d.cfg.Sender.Send(ctx, msg)
	d.cfg.Metrics.RecordReply(err)
	if err != nil {
		d.logger.Printf("[dispatch] outbound send failed user=%s err=%v", msg.To, err)
	}
}
