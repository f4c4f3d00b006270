package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"levercore/internal/domain"
	"levercore/internal/ports"
)

// Ledger owns per-trader collateral bookkeeping. Every mutation for a
// given trader runs under that trader's mutex, so a user-initiated call
// and a liquidation sweep can never interleave on the same account.
type Ledger struct {
	accounts ports.AccountRepository
	logger   ports.Logger

	mu    sync.Mutex // guards locks map only
	locks map[string]*sync.Mutex
}

// New creates a ledger backed by the given account repository.
func New(accounts ports.AccountRepository, logger ports.Logger) (*Ledger, error) {
	if accounts == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Ledger")
	}
	return &Ledger{
		accounts: accounts,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// lockFor returns the mutex serializing operations for one trader,
// creating it on first use. Accounts are never deleted, so the map only
// grows with the trader set.
func (l *Ledger) lockFor(trader string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[trader]
	if !ok {
		m = &sync.Mutex{}
		l.locks[trader] = m
	}
	return m
}

// WithAccount runs fn with the trader's account while holding the
// trader's mutex. A missing account is materialized lazily with zero
// balances; fn (or the caller's repository transaction) is responsible
// for persisting any mutation it makes.
func (l *Ledger) WithAccount(ctx context.Context, trader string, fn func(acct *domain.Account) error) error {
	if trader == "" {
		return fmt.Errorf("%w: trader address is required", ports.ErrValidation)
	}
	m := l.lockFor(trader)
	m.Lock()
	defer m.Unlock()

	acct, err := l.accounts.FindAccount(ctx, trader)
	if err != nil {
		return fmt.Errorf("failed to load account for %s: %w", trader, err)
	}
	if acct == nil {
		acct = &domain.Account{Trader: trader, CreatedAt: time.Now().UTC()}
	}
	return fn(acct)
}

// Deposit credits amount to the trader's total and available collateral.
// The account is created on first deposit.
func (l *Ledger) Deposit(ctx context.Context, trader string, amount float64) (*domain.Account, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive, got %.8f", ports.ErrValidation, amount)
	}
	var out *domain.Account
	err := l.WithAccount(ctx, trader, func(acct *domain.Account) error {
		acct.TotalCollateral += amount
		acct.AvailableCollateral += amount
		acct.UpdatedAt = time.Now().UTC()
		if err := l.accounts.SaveAccount(ctx, acct); err != nil {
			return fmt.Errorf("failed to persist deposit for %s: %w", trader, err)
		}
		out = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info(ctx, "Deposit applied", map[string]interface{}{"trader": trader, "amount": amount, "available": out.AvailableCollateral})
	return out, nil
}

// Withdraw debits amount from the trader's total and available
// collateral. Locked collateral cannot be withdrawn.
func (l *Ledger) Withdraw(ctx context.Context, trader string, amount float64) (*domain.Account, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive, got %.8f", ports.ErrValidation, amount)
	}
	var out *domain.Account
	err := l.WithAccount(ctx, trader, func(acct *domain.Account) error {
		if amount > acct.AvailableCollateral {
			return fmt.Errorf("%w: requested %.8f, available %.8f", ports.ErrInsufficientFunds, amount, acct.AvailableCollateral)
		}
		acct.TotalCollateral -= amount
		acct.AvailableCollateral -= amount
		acct.UpdatedAt = time.Now().UTC()
		if err := l.accounts.SaveAccount(ctx, acct); err != nil {
			return fmt.Errorf("failed to persist withdrawal for %s: %w", trader, err)
		}
		out = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info(ctx, "Withdrawal applied", map[string]interface{}{"trader": trader, "amount": amount, "available": out.AvailableCollateral})
	return out, nil
}

// Account returns a read-only snapshot of the trader's account, or
// nil when the trader has never deposited.
func (l *Ledger) Account(ctx context.Context, trader string) (*domain.Account, error) {
	return l.accounts.FindAccount(ctx, trader)
}

// Lock moves amount from available to locked collateral on an account
// already held under the trader's mutex. Total is unchanged.
func Lock(acct *domain.Account, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: lock amount must be positive", ports.ErrValidation)
	}
	if amount > acct.AvailableCollateral {
		return fmt.Errorf("%w: requested %.8f, available %.8f", ports.ErrInsufficientFunds, amount, acct.AvailableCollateral)
	}
	acct.AvailableCollateral -= amount
	acct.LockedCollateral += amount
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

// Unlock moves amount from locked back to available collateral.
func Unlock(acct *domain.Account, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: unlock amount must be positive", ports.ErrValidation)
	}
	if amount > acct.LockedCollateral {
		return fmt.Errorf("%w: requested %.8f, locked %.8f", ports.ErrValidation, amount, acct.LockedCollateral)
	}
	acct.LockedCollateral -= amount
	acct.AvailableCollateral += amount
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

// SettleClose releases a position's locked collateral and credits the
// settlement return: the locked amount leaves both locked and total, the
// return (collateral plus net PnL, floored at zero) enters available and
// total. Net effect on total is the realized PnL when the return is
// positive.
func SettleClose(acct *domain.Account, collateral, collateralReturn, netPnl float64) {
	acct.LockedCollateral -= collateral
	acct.TotalCollateral -= collateral
	acct.AvailableCollateral += collateralReturn
	acct.TotalCollateral += collateralReturn
	acct.RealizedPnl += netPnl
	acct.UpdatedAt = time.Now().UTC()
}

// SettleLiquidation removes the full locked collateral from the account.
// Nothing returns to available: the trader realizes the entire loss.
func SettleLiquidation(acct *domain.Account, collateral float64) {
	acct.LockedCollateral -= collateral
	acct.TotalCollateral -= collateral
	acct.RealizedPnl -= collateral
	acct.LiquidationCount++
	acct.UpdatedAt = time.Now().UTC()
}
