// Package health probes the service's dependencies: the invoice database
// and each fiscal chain resource.
package health

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/facturo/facturo/internal/chainledger"
)

// Pinger is the database liveness probe. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker verifies the database connection and that every configured chain
// is readable.
type Checker struct {
	db     Pinger
	chains map[string]chainledger.Ledger
	logger *zap.Logger
}

// New creates a Checker. db may be nil when the deployment runs without a
// database (memory store).
func New(db Pinger, chains map[string]chainledger.Ledger, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{db: db, chains: chains, logger: logger}
}

// Check runs all probes and returns the first failure.
func (c *Checker) Check(ctx context.Context) error {
	if c.db != nil {
		if err := c.db.Ping(ctx); err != nil {
			c.logger.Warn("health: database ping failed", zap.Error(err))
			return fmt.Errorf("database: %w", err)
		}
	}

	for name, chain := range c.chains {
		if _, err := chain.Len(ctx); err != nil {
			c.logger.Warn("health: chain unreadable",
				zap.String("profile", name),
				zap.Error(err),
			)
			return fmt.Errorf("chain %s: %w", name, err)
		}
	}
	return nil
}

// VerifyChains walks every chain end to end. Heavier than Check; intended
// for startup and audits, not the liveness probe.
func (c *Checker) VerifyChains(ctx context.Context) error {
	for name, chain := range c.chains {
		if err := chain.Verify(ctx); err != nil {
			return fmt.Errorf("chain %s: %w", name, err)
		}
		n, _ := chain.Len(ctx)
		head, _ := chain.LastFingerprint(ctx)
		c.logger.Info("chain verified",
			zap.String("profile", name),
			zap.Int("entries", n),
			zap.String("head", head),
		)
	}
	return nil
}
