package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"levercore/internal/domain"
	"levercore/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the account, position, trade and liquidation
// repository interfaces from ports using SQLite. Settlement calls run in
// a single transaction with a status-guarded position update, which is
// what makes the transition out of open exactly-once.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/levercore.db" // Default path
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from
	// a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite store ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		trader TEXT PRIMARY KEY,
		total_collateral REAL NOT NULL DEFAULT 0,
		locked_collateral REAL NOT NULL DEFAULT 0,
		available_collateral REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		liquidation_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		pair TEXT NOT NULL,
		side TEXT NOT NULL,
		leverage INTEGER NOT NULL,
		status TEXT NOT NULL,
		collateral REAL NOT NULL,
		notional REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL DEFAULT NULL,
		liquidation_price REAL NOT NULL,
		stop_loss REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		entry_fee REAL NOT NULL DEFAULT 0,
		exit_fee REAL DEFAULT NULL,
		funding_fees REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		margin_ratio REAL NOT NULL DEFAULT 0,
		realized_pnl REAL DEFAULT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id INTEGER NOT NULL,
		owner TEXT NOT NULL,
		pair TEXT NOT NULL,
		type TEXT NOT NULL,
		side TEXT NOT NULL,
		leverage INTEGER NOT NULL,
		collateral REAL NOT NULL,
		notional REAL NOT NULL,
		price REAL NOT NULL,
		pnl REAL NOT NULL DEFAULT 0,
		fee REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS liquidations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id INTEGER NOT NULL,
		owner TEXT NOT NULL,
		pair TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		liquidation_price REAL NOT NULL,
		mark_price REAL NOT NULL,
		collateral_lost REAL NOT NULL,
		insurance_fee REAL NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_owner_status ON positions (owner, status);
	CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status);
	CREATE INDEX IF NOT EXISTS idx_trades_owner_created ON trades (owner, created_at);
	CREATE INDEX IF NOT EXISTS idx_liquidations_owner ON liquidations (owner, created_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on any error.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error(ctx, rbErr, "Transaction rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// --- AccountRepository Implementation ---

// FindAccount retrieves an account by trader address.
func (r *Repository) FindAccount(ctx context.Context, trader string) (*domain.Account, error) {
	const query = `
	SELECT trader, total_collateral, locked_collateral, available_collateral,
	       realized_pnl, liquidation_count, created_at, updated_at
	FROM accounts WHERE trader = ?`

	acct := &domain.Account{}
	err := r.db.QueryRowContext(ctx, query, trader).Scan(
		&acct.Trader, &acct.TotalCollateral, &acct.LockedCollateral, &acct.AvailableCollateral,
		&acct.RealizedPnl, &acct.LiquidationCount, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("%w: account %s: %v", ports.ErrQueryFailed, trader, err)
	}
	return acct, nil
}

// SaveAccount inserts or updates an account row.
func (r *Repository) SaveAccount(ctx context.Context, acct *domain.Account) error {
	_, err := r.db.ExecContext(ctx, upsertAccountQuery, upsertAccountArgs(acct)...)
	if err != nil {
		return fmt.Errorf("%w: account %s: %v", ports.ErrUpdateFailed, acct.Trader, err)
	}
	return nil
}

const upsertAccountQuery = `
	INSERT INTO accounts (trader, total_collateral, locked_collateral, available_collateral,
	                      realized_pnl, liquidation_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(trader) DO UPDATE SET
		total_collateral = excluded.total_collateral,
		locked_collateral = excluded.locked_collateral,
		available_collateral = excluded.available_collateral,
		realized_pnl = excluded.realized_pnl,
		liquidation_count = excluded.liquidation_count,
		updated_at = excluded.updated_at`

func upsertAccountArgs(acct *domain.Account) []interface{} {
	createdAt := acct.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := acct.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	return []interface{}{
		acct.Trader, acct.TotalCollateral, acct.LockedCollateral, acct.AvailableCollateral,
		acct.RealizedPnl, acct.LiquidationCount, createdAt, updatedAt,
	}
}

// --- PositionRepository Implementation ---

// OpenPosition persists the account mutation, the new position and its
// OPEN trade record in one transaction.
func (r *Repository) OpenPosition(ctx context.Context, acct *domain.Account, pos *domain.Position, rec *domain.Trade) (int64, error) {
	const insertPosition = `
	INSERT INTO positions (owner, pair, side, leverage, status, collateral, notional,
	                       entry_price, liquidation_price, stop_loss, take_profit,
	                       entry_fee, funding_fees, unrealized_pnl, margin_ratio, opened_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var id int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertAccountQuery, upsertAccountArgs(acct)...); err != nil {
			return fmt.Errorf("failed to save account %s: %w", acct.Trader, err)
		}
		result, err := tx.ExecContext(ctx, insertPosition,
			pos.Owner, pos.Pair, pos.Side, pos.Leverage, pos.Status, pos.Collateral, pos.Notional,
			pos.EntryPrice, pos.LiquidationPrice, pos.StopLoss, pos.TakeProfit,
			pos.EntryFee, pos.FundingFees, pos.UnrealizedPnl, pos.MarginRatio, pos.OpenedAt)
		if err != nil {
			return fmt.Errorf("failed to insert position for %s: %w", pos.Owner, err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID for position: %w", err)
		}
		rec.PositionID = id
		if err := insertTrade(ctx, tx, rec); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	pos.ID = id
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "owner": pos.Owner, "pair": pos.Pair})
	return id, nil
}

// SettlePosition transitions a position out of open atomically with the
// account mutation and audit rows. The UPDATE is guarded on the open
// status; losing the guard means another path already settled and the
// whole transaction is abandoned with ErrPositionClosed.
func (r *Repository) SettlePosition(ctx context.Context, acct *domain.Account, pos *domain.Position, rec *domain.Trade, liq *domain.Liquidation) error {
	const settle = `
	UPDATE positions
	SET status = ?, exit_price = ?, exit_fee = ?, realized_pnl = ?,
	    unrealized_pnl = ?, margin_ratio = ?, closed_at = ?
	WHERE id = ? AND status = ?`

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, settle,
			pos.Status, pos.ExitPrice, pos.ExitFee, pos.RealizedPnl,
			pos.UnrealizedPnl, pos.MarginRatio, pos.ClosedAt,
			pos.ID, domain.StatusOpen)
		if err != nil {
			return fmt.Errorf("failed to settle position %d: %w", pos.ID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected for position %d: %w", pos.ID, err)
		}
		if affected == 0 {
			return fmt.Errorf("position %d: %w", pos.ID, ports.ErrPositionClosed)
		}
		if _, err := tx.ExecContext(ctx, upsertAccountQuery, upsertAccountArgs(acct)...); err != nil {
			return fmt.Errorf("failed to save account %s: %w", acct.Trader, err)
		}
		if err := insertTrade(ctx, tx, rec); err != nil {
			return err
		}
		if liq != nil {
			const insertLiq = `
			INSERT INTO liquidations (position_id, owner, pair, side, entry_price,
			                          liquidation_price, mark_price, collateral_lost,
			                          insurance_fee, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
			if _, err := tx.ExecContext(ctx, insertLiq,
				liq.PositionID, liq.Owner, liq.Pair, liq.Side, liq.EntryPrice,
				liq.LiquidationPrice, liq.MarkPrice, liq.CollateralLost,
				liq.InsuranceFee, liq.CreatedAt); err != nil {
				return fmt.Errorf("failed to insert liquidation for position %d: %w", liq.PositionID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Debug(ctx, "Position settled", map[string]interface{}{"positionID": pos.ID, "status": pos.Status})
	return nil
}

// UpdateMarks persists the sweep-refreshed read fields of an open position.
func (r *Repository) UpdateMarks(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions SET unrealized_pnl = ?, margin_ratio = ?
	WHERE id = ? AND status = ?`

	_, err := r.db.ExecContext(ctx, query, pos.UnrealizedPnl, pos.MarginRatio, pos.ID, domain.StatusOpen)
	if err != nil {
		return fmt.Errorf("%w: marks for position %d: %v", ports.ErrUpdateFailed, pos.ID, err)
	}
	return nil
}

const selectPosition = `
	SELECT id, owner, pair, side, leverage, status, collateral, notional,
	       entry_price, COALESCE(exit_price, 0), liquidation_price, stop_loss, take_profit,
	       entry_fee, COALESCE(exit_fee, 0), funding_fees, unrealized_pnl, margin_ratio,
	       COALESCE(realized_pnl, 0), opened_at, closed_at
	FROM positions`

// FindByID retrieves a position by its unique ID.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	row := r.db.QueryRowContext(ctx, selectPosition+` WHERE id = ?`, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query position by ID %d: %w", id, err)
	}
	return pos, nil
}

// FindOpen retrieves every open position across all traders.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	return r.queryPositions(ctx, selectPosition+` WHERE status = ? ORDER BY opened_at ASC`, domain.StatusOpen)
}

// FindOpenByOwner retrieves the open positions of one trader.
func (r *Repository) FindOpenByOwner(ctx context.Context, owner string) ([]*domain.Position, error) {
	return r.queryPositions(ctx, selectPosition+` WHERE owner = ? AND status = ? ORDER BY opened_at DESC`, owner, domain.StatusOpen)
}

// FindByOwner retrieves all positions of one trader, newest first.
func (r *Repository) FindByOwner(ctx context.Context, owner string) ([]*domain.Position, error) {
	return r.queryPositions(ctx, selectPosition+` WHERE owner = ? ORDER BY opened_at DESC`, owner)
}

func (r *Repository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: positions: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// OpenInterest sums the notional size of all open positions.
func (r *Repository) OpenInterest(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(notional), 0) FROM positions WHERE status = ?`
	var oi float64
	if err := r.db.QueryRowContext(ctx, query, domain.StatusOpen).Scan(&oi); err != nil {
		return 0, fmt.Errorf("failed to sum open interest: %w", err)
	}
	return oi, nil
}

// --- TradeRepository Implementation ---

func insertTrade(ctx context.Context, tx *sql.Tx, rec *domain.Trade) error {
	const query = `
	INSERT INTO trades (position_id, owner, pair, type, side, leverage,
	                    collateral, notional, price, pnl, fee, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := tx.ExecContext(ctx, query,
		rec.PositionID, rec.Owner, rec.Pair, rec.Type, rec.Side, rec.Leverage,
		rec.Collateral, rec.Notional, rec.Price, rec.Pnl, rec.Fee, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert trade record for position %d: %w", rec.PositionID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID for trade record: %w", err)
	}
	rec.ID = id
	return nil
}

// FindTradesByOwner retrieves the most recent trade records for a trader.
func (r *Repository) FindTradesByOwner(ctx context.Context, owner string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, position_id, owner, pair, type, side, leverage,
	       collateral, notional, price, pnl, fee, created_at
	FROM trades WHERE owner = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, query, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: trades for %s: %v", ports.ErrQueryFailed, owner, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		rec := &domain.Trade{}
		if err := rows.Scan(
			&rec.ID, &rec.PositionID, &rec.Owner, &rec.Pair, &rec.Type, &rec.Side, &rec.Leverage,
			&rec.Collateral, &rec.Notional, &rec.Price, &rec.Pnl, &rec.Fee, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade record: %w", err)
		}
		trades = append(trades, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// TotalFees sums the fees recorded across all trade records.
func (r *Repository) TotalFees(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(fee), 0) FROM trades`
	var fees float64
	if err := r.db.QueryRowContext(ctx, query).Scan(&fees); err != nil {
		return 0, fmt.Errorf("failed to sum fees: %w", err)
	}
	return fees, nil
}

// --- LiquidationRepository Implementation ---

// FindLiquidationsByOwner retrieves a trader's liquidations, newest first.
func (r *Repository) FindLiquidationsByOwner(ctx context.Context, owner string, limit int) ([]*domain.Liquidation, error) {
	const query = `
	SELECT id, position_id, owner, pair, side, entry_price, liquidation_price,
	       mark_price, collateral_lost, insurance_fee, created_at
	FROM liquidations WHERE owner = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, query, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: liquidations for %s: %v", ports.ErrQueryFailed, owner, err)
	}
	defer rows.Close()

	liqs := make([]*domain.Liquidation, 0)
	for rows.Next() {
		liq := &domain.Liquidation{}
		if err := rows.Scan(
			&liq.ID, &liq.PositionID, &liq.Owner, &liq.Pair, &liq.Side, &liq.EntryPrice,
			&liq.LiquidationPrice, &liq.MarkPrice, &liq.CollateralLost, &liq.InsuranceFee, &liq.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan liquidation record: %w", err)
		}
		liqs = append(liqs, liq)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating liquidation rows: %w", err)
	}
	return liqs, nil
}

// CountLiquidations returns the total number of liquidations recorded.
func (r *Repository) CountLiquidations(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM liquidations`
	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count liquidations: %w", err)
	}
	return count, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var closedAt sql.NullTime
	var status string
	err := s.Scan(
		&p.ID, &p.Owner, &p.Pair, &p.Side, &p.Leverage, &status, &p.Collateral, &p.Notional,
		&p.EntryPrice, &p.ExitPrice, &p.LiquidationPrice, &p.StopLoss, &p.TakeProfit,
		&p.EntryFee, &p.ExitFee, &p.FundingFees, &p.UnrealizedPnl, &p.MarginRatio,
		&p.RealizedPnl, &p.OpenedAt, &closedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}
