package anchor

import (
	"context"
	"errors"
	"time"

	"github.com/tcredex/ledgerd/internal/ledger/model"
	"github.com/tcredex/ledgerd/internal/ledger/repository"
	"go.uber.org/zap"
)

// ledgerAPI is the slice of the ledger service the publisher consumes.
// *service.LedgerService satisfies it.
type ledgerAPI interface {
	GetLatestHash(ctx context.Context) (*model.TipInfo, error)
	RecordAnchor(ctx context.Context, eventID int64, hash string, t model.AnchorType, externalRef string, metadata map[string]any) (*model.LedgerAnchor, error)
	LatestAnchorFor(ctx context.Context, t model.AnchorType) (*model.LedgerAnchor, error)
}

// MetricsRecordFunc is an optional callback for recording anchor attempts.
type MetricsRecordFunc func(target string, success bool)

// Publisher pushes the current chain tip to every configured target on a
// cadence independent of event volume. Anchoring is best-effort: a failed
// attempt weakens external tamper evidence until the next success but never
// affects ledger correctness, so failures are logged and skipped, not raised.
type Publisher struct {
	ledger    ledgerAPI
	targets   []Target
	interval  time.Duration
	timeout   time.Duration
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// NewPublisher creates a Publisher over the given targets.
func NewPublisher(ledger ledgerAPI, targets []Target, interval time.Duration, logger *zap.Logger) *Publisher {
	if interval == 0 {
		interval = time.Hour
	}
	return &Publisher{
		ledger:   ledger,
		targets:  targets,
		interval: interval,
		timeout:  30 * time.Second,
		logger:   logger,
	}
}

// SetMetricsFunc installs a callback invoked once per target attempt.
func (p *Publisher) SetMetricsFunc(fn MetricsRecordFunc) { p.onMetrics = fn }

// Run publishes on a ticker until ctx is cancelled. It fires once
// immediately so a fresh deployment is anchored without waiting a full
// interval.
func (p *Publisher) Run(ctx context.Context) {
	p.RunOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce reads the current tip and publishes it to every target whose most
// recent receipt does not already cover it. It returns the receipts recorded
// in this pass.
func (p *Publisher) RunOnce(ctx context.Context) []model.LedgerAnchor {
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tip, err := p.ledger.GetLatestHash(runCtx)
	if errors.Is(err, repository.ErrNotFound) {
		p.logger.Debug("anchor pass skipped: ledger is empty")
		return nil
	}
	if err != nil {
		p.logger.Warn("anchor pass: cannot read chain tip", zap.Error(err))
		return nil
	}

	var recorded []model.LedgerAnchor
	for _, target := range p.targets {
		receipt := p.publishOne(runCtx, target, tip)
		if receipt != nil {
			recorded = append(recorded, *receipt)
		}
	}
	return recorded
}

func (p *Publisher) publishOne(ctx context.Context, target Target, tip *model.TipInfo) *model.LedgerAnchor {
	// Idempotence: a tip already witnessed by this target is not re-published.
	last, err := p.ledger.LatestAnchorFor(ctx, target.Type())
	if err == nil && last.AnchoredHash == tip.Hash {
		p.logger.Debug("anchor up to date",
			zap.String("target", string(target.Type())),
			zap.Int64("event_id", tip.EventID),
		)
		return nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		p.logger.Warn("anchor pass: cannot read last receipt",
			zap.String("target", string(target.Type())), zap.Error(err))
		return nil
	}

	ref, metadata, err := target.Publish(ctx, tip)
	if err != nil {
		if p.onMetrics != nil {
			p.onMetrics(string(target.Type()), false)
		}
		p.logger.Warn("anchor publish failed",
			zap.String("target", string(target.Type())),
			zap.Int64("event_id", tip.EventID),
			zap.Error(err),
		)
		return nil
	}

	receipt, err := p.ledger.RecordAnchor(ctx, tip.EventID, tip.Hash, target.Type(), ref, metadata)
	if err != nil {
		if p.onMetrics != nil {
			p.onMetrics(string(target.Type()), false)
		}
		p.logger.Warn("anchor published but receipt not recorded",
			zap.String("target", string(target.Type())),
			zap.String("external_ref", ref),
			zap.Error(err),
		)
		return nil
	}

	if p.onMetrics != nil {
		p.onMetrics(string(target.Type()), true)
	}
	p.logger.Info("chain tip anchored",
		zap.String("target", string(target.Type())),
		zap.Int64("event_id", tip.EventID),
		zap.String("external_ref", ref),
	)
	return receipt
}
