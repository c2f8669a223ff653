package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/moonpad/farm-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Mutations that touch both a farm and a position run in one transaction
// together with the audit append.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const farmColumns = `id, owner, staking_token, reward_token, status, created_at,
	reward_rate::TEXT, duration, lock_period, min_stake::TEXT, max_stake::TEXT, paused,
	config_created_at, config_updated_at,
	total_deposited::TEXT, available::TEXT, distributed::TEXT, last_calculated_at,
	total_staked::TEXT, unique_stakers, current_apy::TEXT, rewards_distributed::TEXT,
	avg_stake_duration, stats_updated_at`

func (s *PostgresStore) CreateFarm(ctx context.Context, farm *model.Farm, entry *model.AuditEntry) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM farms WHERE staking_token = $1 AND status <> 'closed')`,
			farm.StakingToken).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicateFarm, farm.StakingToken)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO farms (id, owner, staking_token, reward_token, status, created_at,
				reward_rate, duration, lock_period, min_stake, max_stake, paused,
				config_created_at, config_updated_at,
				total_deposited, available, distributed, last_calculated_at,
				total_staked, unique_stakers, current_apy, rewards_distributed,
				avg_stake_duration, stats_updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6,
				$7::NUMERIC, $8, $9, $10::NUMERIC, $11::NUMERIC, $12, $13, $14,
				$15::NUMERIC, $16::NUMERIC, $17::NUMERIC, $18,
				$19::NUMERIC, $20, $21::NUMERIC, $22::NUMERIC, $23, $24)`,
			farm.ID, farm.Owner, farm.StakingToken, farm.RewardToken, farm.Status, farm.CreatedAt,
			farm.Config.RewardRate.String(), farm.Config.Duration, farm.Config.LockPeriod,
			farm.Config.MinStake.String(), farm.Config.MaxStake.String(), farm.Config.Paused,
			farm.Config.CreatedAt, farm.Config.UpdatedAt,
			farm.Pool.TotalDeposited.String(), farm.Pool.Available.String(),
			farm.Pool.Distributed.String(), farm.Pool.LastCalculatedAt,
			farm.Stats.TotalStaked.String(), farm.Stats.UniqueStakers,
			farm.Stats.CurrentAPY.String(), farm.Stats.RewardsDistributed.String(),
			farm.Stats.AvgStakeDuration, farm.Stats.LastUpdated,
		)
		if err != nil {
			return err
		}
		return insertAudit(ctx, tx, entry)
	})
}

func (s *PostgresStore) GetFarm(ctx context.Context, id string) (*model.Farm, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+farmColumns+` FROM farms WHERE id = $1`, id)
	farm, err := scanFarm(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: farm %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get farm %s: %w", id, err)
	}
	return farm, nil
}

func (s *PostgresStore) ListFarms(ctx context.Context) ([]model.Farm, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+farmColumns+` FROM farms ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var farms []model.Farm
	for rows.Next() {
		farm, err := scanFarm(rows)
		if err != nil {
			return nil, err
		}
		farms = append(farms, *farm)
	}
	return farms, rows.Err()
}

func (s *PostgresStore) UpdateFarm(ctx context.Context, farm *model.Farm, entry *model.AuditEntry) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := updateFarm(ctx, tx, farm); err != nil {
			return err
		}
		return insertAudit(ctx, tx, entry)
	})
}

func (s *PostgresStore) GetPosition(ctx context.Context, farmID, address string) (*model.Position, error) {
	var p model.Position
	var staked, accumulated string

	err := s.pool.QueryRow(ctx,
		`SELECT id, farm_id, address, staked_amount::TEXT, staked_at, last_accrued_at,
		        accumulated::TEXT, lock_expires_at
		 FROM positions WHERE farm_id = $1 AND address = $2`, farmID, address).
		Scan(&p.ID, &p.FarmID, &p.Address, &staked, &p.StakedAt, &p.LastAccruedAt,
			&accumulated, &p.LockExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: position %s/%s", ErrNotFound, farmID, address)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", farmID, address, err)
	}

	p.StakedAmount, _ = decimal.NewFromString(staked)
	p.Accumulated, _ = decimal.NewFromString(accumulated)
	return &p, nil
}

func (s *PostgresStore) ListFarmPositions(ctx context.Context, farmID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, farm_id, address, staked_amount::TEXT, staked_at, last_accrued_at,
		        accumulated::TEXT, lock_expires_at
		 FROM positions WHERE farm_id = $1 ORDER BY staked_at`, farmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListUserPositions(ctx context.Context, address string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, farm_id, address, staked_amount::TEXT, staked_at, last_accrued_at,
		        accumulated::TEXT, lock_expires_at
		 FROM positions WHERE address = $1 ORDER BY staked_at`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) PutPosition(ctx context.Context, farm *model.Farm, pos *model.Position, entry *model.AuditEntry) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := updateFarm(ctx, tx, farm); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO positions (id, farm_id, address, staked_amount, staked_at,
				last_accrued_at, accumulated, lock_expires_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7::NUMERIC, $8)
			 ON CONFLICT (farm_id, address) DO UPDATE SET
				staked_amount = EXCLUDED.staked_amount,
				last_accrued_at = EXCLUDED.last_accrued_at,
				accumulated = EXCLUDED.accumulated,
				lock_expires_at = EXCLUDED.lock_expires_at`,
			pos.ID, pos.FarmID, pos.Address, pos.StakedAmount.String(), pos.StakedAt,
			pos.LastAccruedAt, pos.Accumulated.String(), pos.LockExpiresAt,
		)
		if err != nil {
			return err
		}
		return insertAudit(ctx, tx, entry)
	})
}

func (s *PostgresStore) DeletePosition(ctx context.Context, farm *model.Farm, pos *model.Position, entry *model.AuditEntry) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := updateFarm(ctx, tx, farm); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`DELETE FROM positions WHERE farm_id = $1 AND address = $2`,
			pos.FarmID, pos.Address)
		if err != nil {
			return err
		}
		return insertAudit(ctx, tx, entry)
	})
}

func (s *PostgresStore) AuditEntries(ctx context.Context, farmID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 1 << 30 // no limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, farm_id, action, principal, payload, ts
		 FROM audit_entries WHERE farm_id = $1 ORDER BY ts DESC, id DESC LIMIT $2`,
		farmID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.FarmID, &e.Action, &e.Principal, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("%w: audit entry %s: %v", ErrCorrupted, e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// withTx runs fn in a transaction, translating storage-level failures into
// the store error taxonomy.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return translateErr(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return translateErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return translateErr(err)
	}
	return nil
}

// translateErr maps PostgreSQL error classes onto the store sentinels.
func translateErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "53100" { // disk_full
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}

func updateFarm(ctx context.Context, tx pgx.Tx, farm *model.Farm) error {
	tag, err := tx.Exec(ctx,
		`UPDATE farms SET status = $2, reward_rate = $3::NUMERIC, duration = $4,
			lock_period = $5, min_stake = $6::NUMERIC, max_stake = $7::NUMERIC,
			paused = $8, config_updated_at = $9,
			total_deposited = $10::NUMERIC, available = $11::NUMERIC,
			distributed = $12::NUMERIC, last_calculated_at = $13,
			total_staked = $14::NUMERIC, unique_stakers = $15,
			current_apy = $16::NUMERIC, rewards_distributed = $17::NUMERIC,
			avg_stake_duration = $18, stats_updated_at = $19
		 WHERE id = $1`,
		farm.ID, farm.Status,
		farm.Config.RewardRate.String(), farm.Config.Duration, farm.Config.LockPeriod,
		farm.Config.MinStake.String(), farm.Config.MaxStake.String(),
		farm.Config.Paused, farm.Config.UpdatedAt,
		farm.Pool.TotalDeposited.String(), farm.Pool.Available.String(),
		farm.Pool.Distributed.String(), farm.Pool.LastCalculatedAt,
		farm.Stats.TotalStaked.String(), farm.Stats.UniqueStakers,
		farm.Stats.CurrentAPY.String(), farm.Stats.RewardsDistributed.String(),
		farm.Stats.AvgStakeDuration, farm.Stats.LastUpdated,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: farm %s", ErrNotFound, farm.ID)
	}
	return nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, entry *model.AuditEntry) error {
	if entry == nil {
		return nil
	}
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO audit_entries (id, farm_id, action, principal, payload, ts)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.FarmID, entry.Action, entry.Principal, payload, entry.Timestamp)
	return err
}

// pgxRow abstracts QueryRow results and Rows for shared scanning.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanFarm(row pgxRow) (*model.Farm, error) {
	var f model.Farm
	var rewardRate, minStake, maxStake string
	var totalDeposited, available, distributed string
	var totalStaked, currentAPY, rewardsDistributed string

	err := row.Scan(&f.ID, &f.Owner, &f.StakingToken, &f.RewardToken, &f.Status, &f.CreatedAt,
		&rewardRate, &f.Config.Duration, &f.Config.LockPeriod, &minStake, &maxStake, &f.Config.Paused,
		&f.Config.CreatedAt, &f.Config.UpdatedAt,
		&totalDeposited, &available, &distributed, &f.Pool.LastCalculatedAt,
		&totalStaked, &f.Stats.UniqueStakers, &currentAPY, &rewardsDistributed,
		&f.Stats.AvgStakeDuration, &f.Stats.LastUpdated)
	if err != nil {
		return nil, err
	}

	f.Config.RewardRate, _ = decimal.NewFromString(rewardRate)
	f.Config.MinStake, _ = decimal.NewFromString(minStake)
	f.Config.MaxStake, _ = decimal.NewFromString(maxStake)
	f.Pool.TotalDeposited, _ = decimal.NewFromString(totalDeposited)
	f.Pool.Available, _ = decimal.NewFromString(available)
	f.Pool.Distributed, _ = decimal.NewFromString(distributed)
	f.Stats.TotalStaked, _ = decimal.NewFromString(totalStaked)
	f.Stats.CurrentAPY, _ = decimal.NewFromString(currentAPY)
	f.Stats.RewardsDistributed, _ = decimal.NewFromString(rewardsDistributed)

	return &f, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanPositions(rows pgxRows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var staked, accumulated string

		if err := rows.Scan(&p.ID, &p.FarmID, &p.Address, &staked, &p.StakedAt,
			&p.LastAccruedAt, &accumulated, &p.LockExpiresAt); err != nil {
			return nil, err
		}

		p.StakedAmount, _ = decimal.NewFromString(staked)
		p.Accumulated, _ = decimal.NewFromString(accumulated)

		positions = append(positions, p)
	}
	return positions, rows.Err()
}
