package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skywatch-bsky/skywatch-automod/dedupe"
	"github.com/skywatch-bsky/skywatch-automod/threshold"
)

// ModerationService is the boundary to the remote moderation API. The
// concrete client runs every call through the rate gate; this engine never
// talks to the network directly.
type ModerationService interface {
	ApplyAccountLabel(ctx context.Context, did, label string) error
	ApplyPostLabel(ctx context.Context, uri, cid, label string) error
	ReportAccount(ctx context.Context, did, reason string) error
	CommentAccount(ctx context.Context, did, comment string) error
}

// AccountLabelAction is produced when a tracked-label threshold is crossed,
// and consumed exactly once by the dispatch step.
type AccountLabelAction struct {
	DID          string
	Config       TrackedLabelConfig
	CurrentCount int
}

// Narrative is the human-readable summary recorded on reports.
func (a *AccountLabelAction) Narrative() string {
	if a.Config.AccountComment != "" {
		return a.Config.AccountComment
	}
	return fmt.Sprintf("account crossed threshold: %d posts labeled %v within %d days",
		a.CurrentCount, a.Config.Labels, a.Config.WindowDays)
}

// ActionResult records which steps of a compound account action actually
// completed. Each step pointer is set (to true) only when that step
// succeeded; a step that failed or was never attempted stays nil.
type ActionResult struct {
	Labeled   *bool
	Reported  *bool
	Commented *bool

	// Skipped means the dedupe claim found the action already attempted.
	Skipped bool
	Success bool
	Err     error
}

// Engine converts threshold crossings into compound account-level actions.
type Engine struct {
	Logger  *slog.Logger
	Tracker threshold.Tracker
	Dedupe  dedupe.Store
	Mod     ModerationService
	Configs []TrackedLabelConfig
}

func NewEngine(tracker threshold.Tracker, dd dedupe.Store, mod ModerationService, configs []TrackedLabelConfig, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for i := range configs {
		if err := configs[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &Engine{
		Logger:  logger.With("system", "escalation"),
		Tracker: tracker,
		Dedupe:  dd,
		Mod:     mod,
		Configs: configs,
	}, nil
}

// HandleLabelEvent records one labeled-post event for an account and returns
// an action for every tracked-label config whose threshold the event
// crossed. Most labels are not tracked; those return nil immediately.
//
// Error handling is intentionally split: single-label configs use the
// pipelined track-and-count path and swallow store errors into a nil result
// for that config (the hot ingestion path stays alive); multi-label configs
// use the two-step track/count path and propagate store errors, since
// silently losing escalation state is worse than a crashed caller retrying.
func (e *Engine) HandleLabelEvent(ctx context.Context, did, val, member string, now time.Time) ([]*AccountLabelAction, error) {
	var actions []*AccountLabelAction
	for i := range e.Configs {
		cfg := e.Configs[i]
		if !cfg.Matches(val) {
			continue
		}
		window := cfg.Window()

		var count int
		if len(cfg.Labels) == 1 {
			c, err := e.Tracker.TrackAndCount(ctx, did, val, member, now, window)
			if err != nil {
				e.Logger.Warn("tracked label store round-trip failed, skipping evaluation", "did", did, "val", val, "err", err)
				trackErrorCount.Inc()
				continue
			}
			count = c
		} else {
			if err := e.Tracker.TrackEvent(ctx, did, val, member, now, window); err != nil {
				return nil, fmt.Errorf("tracking label event: %w", err)
			}
			c, err := e.Tracker.CountInWindow(ctx, did, cfg.Labels, window, now)
			if err != nil {
				return nil, fmt.Errorf("counting label window: %w", err)
			}
			count = c
		}

		if count < cfg.Threshold {
			continue
		}
		e.Logger.Info("tracked label threshold crossed", "did", did, "val", val, "count", count, "accountLabel", cfg.EffectiveAccountLabel())
		thresholdCrossedCount.WithLabelValues(cfg.EffectiveAccountLabel()).Inc()
		actions = append(actions, &AccountLabelAction{
			DID:          did,
			Config:       cfg,
			CurrentCount: count,
		})
	}
	return actions, nil
}

// DispatchAccountAction executes one compound account action: apply the
// account label (always), file a report (if configured), add a comment (if
// configured), in that order, aborting on the first failure. A dedupe claim
// taken up front makes each crossing act at most once; losers skip rather
// than wait. Remote failures are recorded in the result, never propagated
// as an error.
func (e *Engine) DispatchAccountAction(ctx context.Context, a *AccountLabelAction) (*ActionResult, error) {
	res := &ActionResult{}
	label := a.Config.EffectiveAccountLabel()
	logger := e.Logger.With("did", a.DID, "accountLabel", label)

	if e.Dedupe != nil && !e.Dedupe.Claim(ctx, dedupe.NSAccountLabel, dedupe.AccountKey(a.DID, label)) {
		logger.Debug("account action already claimed, skipping")
		res.Skipped = true
		return res, nil
	}

	if err := e.Mod.ApplyAccountLabel(ctx, a.DID, label); err != nil {
		logger.Error("applying account label failed", "err", err)
		actionStepFailCount.WithLabelValues("label").Inc()
		res.Err = err
		return res, nil
	}
	done := true
	res.Labeled = &done
	actionLabelCount.Inc()

	if a.Config.ReportAcct {
		if err := e.Mod.ReportAccount(ctx, a.DID, a.Narrative()); err != nil {
			logger.Error("reporting account failed", "err", err)
			actionStepFailCount.WithLabelValues("report").Inc()
			res.Err = err
			return res, nil
		}
		reported := true
		res.Reported = &reported
		actionReportCount.Inc()
	}

	if a.Config.CommentAcct {
		if err := e.Mod.CommentAccount(ctx, a.DID, a.Config.AccountComment); err != nil {
			logger.Error("commenting account failed", "err", err)
			actionStepFailCount.WithLabelValues("comment").Inc()
			res.Err = err
			return res, nil
		}
		commented := true
		res.Commented = &commented
		actionCommentCount.Inc()
	}

	res.Success = true
	logger.Info("account escalation dispatched", "count", a.CurrentCount, "reported", a.Config.ReportAcct, "commented", a.Config.CommentAcct)
	return res, nil
}

// ProcessLabelEvent is the convenience entry point for rule evaluators:
// evaluate the event against every config and dispatch whatever crossed.
func (e *Engine) ProcessLabelEvent(ctx context.Context, did, val, member string, now time.Time) ([]*ActionResult, error) {
	actions, err := e.HandleLabelEvent(ctx, did, val, member, now)
	if err != nil {
		return nil, err
	}
	var results []*ActionResult
	for _, a := range actions {
		res, err := e.DispatchAccountAction(ctx, a)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
