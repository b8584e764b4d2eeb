package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.PositionStore and ports.TradeLedger over
// a single SQLite file. ProfileStore, CooldownStore and
// RiskMetricsStore (below) wrap the same underlying *sql.DB to cover
// ports.ProfileRepository, ports.CooldownRepository and
// ports.RiskMetricsRepository without colliding method names. Money
// fields are stored as TEXT so decimal.Decimal round-trips exactly;
// only indicator-adjacent or purely informational columns use REAL.
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
		dbPath = "./data/engine.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
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

	// A single writer connection avoids SQLITE_BUSY under WAL; the
	// Trader already serializes writes per (profile, symbol).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")
	return repo, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	environment TEXT NOT NULL,
	exchange TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	universe TEXT NOT NULL DEFAULT '',
	timeframes TEXT NOT NULL DEFAULT '',
	disabled INTEGER NOT NULL DEFAULT 0,
	disabled_reason TEXT NOT NULL DEFAULT '',
	use_limit_orders INTEGER NOT NULL DEFAULT 0,
	limit_patience_pct TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS positions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	profile_id INTEGER NOT NULL,
	pos_key TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	qty TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	sl_price TEXT NOT NULL,
	tp_price TEXT NOT NULL,
	original_sl_price TEXT NOT NULL DEFAULT '0',
	leverage INTEGER NOT NULL,
	margin_mode TEXT NOT NULL,
	status TEXT NOT NULL,
	order_type TEXT NOT NULL,
	entry_order_id TEXT NOT NULL DEFAULT '',
	sl_order_id TEXT NOT NULL DEFAULT '',
	tp_order_id TEXT NOT NULL DEFAULT '',
	entry_time TIMESTAMP NOT NULL,
	entry_confidence REAL NOT NULL DEFAULT 0,
	feature_snapshot BLOB,
	config_version TEXT NOT NULL DEFAULT '',
	sl_created_at TIMESTAMP,
	tp_created_at TIMESTAMP,
	profit_locked INTEGER NOT NULL DEFAULT 0,
	tp_extended INTEGER NOT NULL DEFAULT 0,
	emergency_tightened INTEGER NOT NULL DEFAULT 0,
	starter_position INTEGER NOT NULL DEFAULT 0,
	waiting_sync_reason TEXT NOT NULL DEFAULT '',
	waiting_sync_since TIMESTAMP
);

-- At most one ACTIVE|PENDING|WAITING_SYNC row per (profile_id, pos_key),
-- enforced at the database level rather than only in application code.
CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_active_key
	ON positions(profile_id, pos_key)
	WHERE status IN ('PENDING', 'ACTIVE', 'WAITING_SYNC');

CREATE INDEX IF NOT EXISTS idx_positions_profile_status ON positions(profile_id, status);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	profile_id INTEGER NOT NULL,
	pos_key TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	exit_price TEXT NOT NULL,
	qty TEXT NOT NULL,
	pnl TEXT NOT NULL,
	fees TEXT NOT NULL,
	exit_reason TEXT NOT NULL,
	entry_time TIMESTAMP NOT NULL,
	exit_time TIMESTAMP NOT NULL,
	feature_snapshot BLOB
);

CREATE INDEX IF NOT EXISTS idx_trades_profile_symbol_time ON trades(profile_id, symbol, exit_time);

CREATE TABLE IF NOT EXISTS cooldowns (
	profile_id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	PRIMARY KEY (profile_id, symbol)
);

CREATE TABLE IF NOT EXISTS risk_metrics (
	profile_id INTEGER PRIMARY KEY,
	peak_balance TEXT NOT NULL,
	daily_loss TEXT NOT NULL,
	daily_reset_date TEXT NOT NULL,
	starting_balance TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

func (r *Repository) initializeSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to execute schema initialization: %w", err)
		}
		r.logger.Debug(ctx, "schema objects already exist, ignoring")
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

// --- PositionStore ---

func (r *Repository) UpsertActive(ctx context.Context, pos *domain.Position) error {
	if pos.ID != 0 {
		return r.updatePosition(ctx, pos)
	}
	return r.insertPosition(ctx, pos)
}

func (r *Repository) insertPosition(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT INTO positions (
		profile_id, pos_key, symbol, side, timeframe, qty, entry_price, sl_price, tp_price,
		original_sl_price, leverage, margin_mode, status, order_type, entry_order_id, sl_order_id, tp_order_id,
		entry_time, entry_confidence, feature_snapshot, config_version,
		sl_created_at, tp_created_at, profit_locked, tp_extended, emergency_tightened,
		starter_position, waiting_sync_reason, waiting_sync_since
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

	result, err := r.db.ExecContext(ctx, query,
		pos.ProfileID, pos.PosKey, pos.Symbol, string(pos.Side), pos.Timeframe,
		pos.Qty.String(), pos.EntryPrice.String(), pos.SLPrice.String(), pos.TPPrice.String(),
		pos.OriginalSLPrice.String(), pos.Leverage, string(pos.MarginMode), string(pos.Status), string(pos.OrderType),
		pos.EntryOrderID, pos.SLOrderID, pos.TPOrderID,
		pos.EntryTime, pos.EntryConfidence, pos.FeatureSnapshot, pos.ConfigVersion,
		nullTime(pos.SLCreatedAt), nullTime(pos.TPCreatedAt), pos.ProfitLocked, pos.TPExtended, pos.EmergencyTightened,
		pos.StarterPosition, string(pos.WaitingSyncReason), nullTime(pos.WaitingSyncSince),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return fmt.Errorf("insert position %s: %w", pos.PosKey, ports.ErrConflictActiveExists)
		}
		return fmt.Errorf("insert position %s: %w", pos.PosKey, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert position %s: get last insert id: %w", pos.PosKey, err)
	}
	pos.ID = id
	return nil
}

func (r *Repository) updatePosition(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions SET
		qty=?, entry_price=?, sl_price=?, tp_price=?, original_sl_price=?, leverage=?, margin_mode=?,
		status=?, order_type=?, entry_order_id=?, sl_order_id=?, tp_order_id=?,
		entry_confidence=?, feature_snapshot=?, config_version=?,
		sl_created_at=?, tp_created_at=?, profit_locked=?, tp_extended=?, emergency_tightened=?,
		starter_position=?, waiting_sync_reason=?, waiting_sync_since=?
	WHERE id=?`

	result, err := r.db.ExecContext(ctx, query,
		pos.Qty.String(), pos.EntryPrice.String(), pos.SLPrice.String(), pos.TPPrice.String(), pos.OriginalSLPrice.String(),
		pos.Leverage, string(pos.MarginMode), string(pos.Status), string(pos.OrderType),
		pos.EntryOrderID, pos.SLOrderID, pos.TPOrderID,
		pos.EntryConfidence, pos.FeatureSnapshot, pos.ConfigVersion,
		nullTime(pos.SLCreatedAt), nullTime(pos.TPCreatedAt), pos.ProfitLocked, pos.TPExtended, pos.EmergencyTightened,
		pos.StarterPosition, string(pos.WaitingSyncReason), nullTime(pos.WaitingSyncSince),
		pos.ID,
	)
	if err != nil {
		return fmt.Errorf("update position %d: %w", pos.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update position %d: rows affected: %w", pos.ID, err)
	}
	if rows == 0 {
		return fmt.Errorf("update position %d: %w", pos.ID, ports.ErrNotFound)
	}
	return nil
}

func (r *Repository) GetActive(ctx context.Context, profileID int64, posKey string) (*domain.Position, error) {
	row := r.db.QueryRowContext(ctx, selectPositionColumns+`
		FROM positions WHERE profile_id = ? AND pos_key = ? AND status IN ('PENDING','ACTIVE','WAITING_SYNC')`,
		profileID, posKey)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active position %s/%s: %w", posKey, err.Error(), err)
	}
	return pos, nil
}

func (r *Repository) ListActive(ctx context.Context, profileID int64) ([]*domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, selectPositionColumns+`
		FROM positions WHERE profile_id = ? AND status IN ('PENDING','ACTIVE','WAITING_SYNC') ORDER BY entry_time`,
		profileID)
	if err != nil {
		return nil, fmt.Errorf("list active positions for profile %d: %w", profileID, err)
	}
	return scanPositions(rows)
}

func (r *Repository) ListAllActive(ctx context.Context) ([]*domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, selectPositionColumns+`
		FROM positions WHERE status IN ('PENDING','ACTIVE','WAITING_SYNC') ORDER BY profile_id, entry_time`)
	if err != nil {
		return nil, fmt.Errorf("list all active positions: %w", err)
	}
	return scanPositions(rows)
}

func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	row := r.db.QueryRowContext(ctx, selectPositionColumns+`FROM positions WHERE id = ?`, id)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find position %d: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find position %d: %w", id, err)
	}
	return pos, nil
}

// Finalize transactionally closes the position row and appends the
// trade record in one write, so a crash between the two is impossible
// (spec §4.2: "the store write must be atomic").
func (r *Repository) Finalize(ctx context.Context, posID int64, status domain.PositionStatus, trade *domain.Trade) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finalize position %d: begin tx: %w", posID, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE positions SET status = ? WHERE id = ?`, string(status), posID)
	if err != nil {
		return fmt.Errorf("finalize position %d: %w", posID, err)
	}
	if rows, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("finalize position %d: rows affected: %w", posID, err)
	} else if rows == 0 {
		return fmt.Errorf("finalize position %d: %w", posID, ports.ErrNotFound)
	}

	if trade != nil {
		const tradeQuery = `
		INSERT INTO trades (profile_id, pos_key, symbol, side, entry_price, exit_price, qty, pnl, fees, exit_reason, entry_time, exit_time, feature_snapshot)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`
		_, err = tx.ExecContext(ctx, tradeQuery,
			trade.ProfileID, trade.PosKey, trade.Symbol, string(trade.Side),
			trade.EntryPrice.String(), trade.ExitPrice.String(), trade.Qty.String(), trade.PNL.String(), trade.Fees.String(),
			string(trade.ExitReason), trade.EntryTime, trade.ExitTime, trade.FeatureSnapshot,
		)
		if err != nil {
			return fmt.Errorf("finalize position %d: insert trade: %w", posID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("finalize position %d: commit: %w", posID, err)
	}
	return nil
}

func (r *Repository) MarkWaitingSync(ctx context.Context, posID int64, reason domain.WaitingSyncReason) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE positions SET status = ?, waiting_sync_reason = ?, waiting_sync_since = ? WHERE id = ?`,
		string(domain.StatusWaitingSync), string(reason), time.Now(), posID)
	if err != nil {
		return fmt.Errorf("mark waiting sync %d: %w", posID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("mark waiting sync %d: %w", posID, ports.ErrNotFound)
	}
	return nil
}

func (r *Repository) ClearWaitingSync(ctx context.Context, posID int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE positions SET status = ?, waiting_sync_reason = '', waiting_sync_since = NULL WHERE id = ?`,
		string(domain.StatusActive), posID)
	if err != nil {
		return fmt.Errorf("clear waiting sync %d: %w", posID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("clear waiting sync %d: %w", posID, ports.ErrNotFound)
	}
	return nil
}

const selectPositionColumns = `
SELECT id, profile_id, pos_key, symbol, side, timeframe, qty, entry_price, sl_price, tp_price, original_sl_price,
       leverage, margin_mode, status, order_type, entry_order_id, sl_order_id, tp_order_id,
       entry_time, entry_confidence, feature_snapshot, config_version,
       sl_created_at, tp_created_at, profit_locked, tp_extended, emergency_tightened,
       starter_position, waiting_sync_reason, waiting_sync_since
`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var side, timeframe, qty, entryPrice, slPrice, tpPrice, origSL, marginMode, status, orderType string
	var slCreatedAt, tpCreatedAt, waitingSyncSince sql.NullTime
	var waitingSyncReason string

	err := s.Scan(
		&p.ID, &p.ProfileID, &p.PosKey, &p.Symbol, &side, &timeframe, &qty, &entryPrice, &slPrice, &tpPrice, &origSL,
		&p.Leverage, &marginMode, &status, &orderType, &p.EntryOrderID, &p.SLOrderID, &p.TPOrderID,
		&p.EntryTime, &p.EntryConfidence, &p.FeatureSnapshot, &p.ConfigVersion,
		&slCreatedAt, &tpCreatedAt, &p.ProfitLocked, &p.TPExtended, &p.EmergencyTightened,
		&p.StarterPosition, &waitingSyncReason, &waitingSyncSince,
	)
	if err != nil {
		return nil, err
	}

	p.Side = domain.OrderSide(side)
	p.Timeframe = timeframe
	p.Qty = mustDecimal(qty)
	p.EntryPrice = mustDecimal(entryPrice)
	p.SLPrice = mustDecimal(slPrice)
	p.TPPrice = mustDecimal(tpPrice)
	p.OriginalSLPrice = mustDecimal(origSL)
	p.MarginMode = domain.MarginMode(marginMode)
	p.Status = domain.PositionStatus(status)
	p.OrderType = domain.OrderType(orderType)
	p.WaitingSyncReason = domain.WaitingSyncReason(waitingSyncReason)
	if slCreatedAt.Valid {
		p.SLCreatedAt = slCreatedAt.Time
	}
	if tpCreatedAt.Valid {
		p.TPCreatedAt = tpCreatedAt.Time
	}
	if waitingSyncSince.Valid {
		p.WaitingSyncSince = waitingSyncSince.Time
	}
	return p, nil
}

func scanPositions(rows *sql.Rows) ([]*domain.Position, error) {
	defer rows.Close()
	out := make([]*domain.Position, 0)
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return out, nil
}

// --- TradeLedger ---

func (r *Repository) ListRecent(ctx context.Context, profileID int64, symbol string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT profile_id, pos_key, symbol, side, entry_price, exit_price, qty, pnl, fees, exit_reason, entry_time, exit_time, feature_snapshot
	FROM trades WHERE profile_id = ? AND symbol = ? ORDER BY exit_time DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, profileID, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent trades for %s: %w", symbol, err)
	}
	defer rows.Close()

	out := make([]*domain.Trade, 0, limit)
	for rows.Next() {
		t := &domain.Trade{}
		var side, entryPrice, exitPrice, qty, pnl, fees, exitReason string
		if err := rows.Scan(&t.ProfileID, &t.PosKey, &t.Symbol, &side, &entryPrice, &exitPrice, &qty, &pnl, &fees, &exitReason, &t.EntryTime, &t.ExitTime, &t.FeatureSnapshot); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		t.Side = domain.OrderSide(side)
		t.EntryPrice = mustDecimal(entryPrice)
		t.ExitPrice = mustDecimal(exitPrice)
		t.Qty = mustDecimal(qty)
		t.PNL = mustDecimal(pnl)
		t.Fees = mustDecimal(fees)
		t.ExitReason = domain.ExitReason(exitReason)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) CountToday(ctx context.Context, profileID int64, symbol string, loc *time.Location) (int, error) {
	if loc == nil {
		loc = time.Local
	}
	start := time.Now().In(loc).Truncate(24 * time.Hour)
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE profile_id = ? AND symbol = ? AND exit_time >= ?`,
		profileID, symbol, start).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count today's trades for %s: %w", symbol, err)
	}
	return count, nil
}

func (r *Repository) SumPNL(ctx context.Context, profileID int64) (decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT pnl FROM trades WHERE profile_id = ?`, profileID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum pnl for profile %d: %w", profileID, err)
	}
	defer rows.Close()
	total := decimal.Zero
	for rows.Next() {
		var pnl string
		if err := rows.Scan(&pnl); err != nil {
			return decimal.Zero, fmt.Errorf("sum pnl for profile %d: scan: %w", profileID, err)
		}
		total = total.Add(mustDecimal(pnl))
	}
	return total, rows.Err()
}

// ProfileStore implements ports.ProfileRepository. It is a distinct
// type (rather than more methods on Repository) because
// ports.ProfileRepository, ports.CooldownRepository and
// ports.RiskMetricsRepository all declare a method named Get with
// different signatures — Go forbids overloading, so each port gets its
// own thin handle onto the shared *sql.DB.
type ProfileStore struct {
	db     *sql.DB
	logger ports.Logger
}

// NewProfileStore wraps an open Repository's database handle.
func NewProfileStore(r *Repository) *ProfileStore {
	return &ProfileStore{db: r.db, logger: r.logger}
}

func (s *ProfileStore) ListActive(ctx context.Context) ([]*domain.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, environment, exchange, active, universe, timeframes, disabled, disabled_reason, use_limit_orders, limit_patience_pct FROM profiles WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("list active profiles: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *ProfileStore) Get(ctx context.Context, id int64) (*domain.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, environment, exchange, active, universe, timeframes, disabled, disabled_reason, use_limit_orders, limit_patience_pct FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get profile %d: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %d: %w", id, err)
	}
	return p, nil
}

func (s *ProfileStore) Disable(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET disabled = 1, disabled_reason = ? WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("disable profile %d: %w", id, err)
	}
	return nil
}

func scanProfile(s scanner) (*domain.Profile, error) {
	p := &domain.Profile{}
	var env, universe, timeframes, limitPatiencePct string
	var active, disabled, useLimitOrders bool
	if err := s.Scan(&p.ID, &p.Name, &env, &p.Exchange, &active, &universe, &timeframes, &disabled, &p.DisabledReason, &useLimitOrders, &limitPatiencePct); err != nil {
		return nil, err
	}
	p.Environment = domain.Environment(env)
	p.Active = active
	p.Disabled = disabled
	p.UseLimitOrders = useLimitOrders
	if universe != "" {
		p.Universe = strings.Split(universe, ",")
	}
	if timeframes != "" {
		p.Timeframes = strings.Split(timeframes, ",")
	}
	if d, err := decimal.NewFromString(limitPatiencePct); err == nil {
		p.LimitPatiencePct = d
	}
	return p, nil
}

// CooldownStore implements ports.CooldownRepository.
type CooldownStore struct {
	db *sql.DB
}

// NewCooldownStore wraps an open Repository's database handle.
func NewCooldownStore(r *Repository) *CooldownStore {
	return &CooldownStore{db: r.db}
}

func (s *CooldownStore) Get(ctx context.Context, profileID int64, symbol string) (*domain.Cooldown, error) {
	row := s.db.QueryRowContext(ctx, `SELECT profile_id, symbol, expires_at FROM cooldowns WHERE profile_id = ? AND symbol = ?`, profileID, symbol)
	cd := &domain.Cooldown{}
	err := row.Scan(&cd.ProfileID, &cd.Symbol, &cd.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cooldown %d/%s: %w", profileID, symbol, err)
	}
	return cd, nil
}

func (s *CooldownStore) Set(ctx context.Context, cd *domain.Cooldown) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cooldowns (profile_id, symbol, expires_at) VALUES (?,?,?)
		 ON CONFLICT(profile_id, symbol) DO UPDATE SET expires_at = excluded.expires_at`,
		cd.ProfileID, cd.Symbol, cd.ExpiresAt)
	if err != nil {
		return fmt.Errorf("set cooldown %d/%s: %w", cd.ProfileID, cd.Symbol, err)
	}
	return nil
}

// RiskMetricsStore implements ports.RiskMetricsRepository.
type RiskMetricsStore struct {
	db *sql.DB
}

// NewRiskMetricsStore wraps an open Repository's database handle.
func NewRiskMetricsStore(r *Repository) *RiskMetricsStore {
	return &RiskMetricsStore{db: r.db}
}

func (s *RiskMetricsStore) Get(ctx context.Context, profileID int64) (*domain.RiskMetrics, error) {
	row := s.db.QueryRowContext(ctx, `SELECT profile_id, peak_balance, daily_loss, daily_reset_date, starting_balance, updated_at FROM risk_metrics WHERE profile_id = ?`, profileID)
	rm := &domain.RiskMetrics{}
	var peak, dailyLoss, starting string
	err := row.Scan(&rm.ProfileID, &peak, &dailyLoss, &rm.DailyResetDate, &starting, &rm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get risk metrics %d: %w", profileID, err)
	}
	rm.PeakBalance = mustDecimal(peak)
	rm.DailyLoss = mustDecimal(dailyLoss)
	rm.StartingBalance = mustDecimal(starting)
	return rm, nil
}

func (s *RiskMetricsStore) Save(ctx context.Context, rm *domain.RiskMetrics) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO risk_metrics (profile_id, peak_balance, daily_loss, daily_reset_date, starting_balance, updated_at)
		 VALUES (?,?,?,?,?,?)
		 ON CONFLICT(profile_id) DO UPDATE SET
		   peak_balance=excluded.peak_balance, daily_loss=excluded.daily_loss,
		   daily_reset_date=excluded.daily_reset_date, starting_balance=excluded.starting_balance, updated_at=excluded.updated_at`,
		rm.ProfileID, rm.PeakBalance.String(), rm.DailyLoss.String(), rm.DailyResetDate, rm.StartingBalance.String(), rm.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save risk metrics %d: %w", rm.ProfileID, err)
	}
	return nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
