package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/SkynetNext/game-server/internal/domain"
	"github.com/SkynetNext/game-server/internal/errs"
	"github.com/SkynetNext/game-server/internal/logger"
	"github.com/SkynetNext/game-server/internal/retry"
)

// postgres error codes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresOptions configures NewPostgres
type PostgresOptions struct {
	DSN               string
	MaxConns          int32
	ConnectRetries    int
	ConnectRetryDelay time.Duration
}

// Postgres is a Repository on a pgx connection pool
type Postgres struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

// NewPostgres connects to the database, retrying until it answers a ping
func NewPostgres(ctx context.Context, opts PostgresOptions) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	err = retry.Do(ctx, retry.Config{MaxRetries: opts.ConnectRetries, RetryDelay: opts.ConnectRetryDelay}, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			logger.L.Warn("postgres not ready", zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return NewPostgresFromPool(pool), nil
}

// NewPostgresFromPool wraps an existing pool
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, q: pool}
}

// Ping checks database connectivity
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) GetOrCreatePlayer(ctx context.Context, deviceID string) (domain.PlayerID, error) {
	var id domain.PlayerID
	err := p.tx(ctx, func(q querier) error {
		err := q.QueryRow(ctx,
			`INSERT INTO players (id, device_id) VALUES ($1, $2)
			 ON CONFLICT (device_id) DO NOTHING
			 RETURNING id`,
			domain.NewPlayerID(), deviceID,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return q.QueryRow(ctx, `SELECT id FROM players WHERE device_id = $1`, deviceID).Scan(&id)
		}
		if err != nil {
			return err
		}

		for _, rt := range domain.ResourceTypes {
			if _, err := q.Exec(ctx,
				`INSERT INTO resources (player_id, type, amount) VALUES ($1, $2, 0)`,
				id, int16(rt),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.PlayerID{}, errs.Wrap(errs.CreatePlayerFailed, err)
	}
	return id, nil
}

func (p *Postgres) GetBalance(ctx context.Context, playerID domain.PlayerID, rt domain.ResourceType) (int64, error) {
	var amount int64
	err := p.q.QueryRow(ctx,
		`SELECT amount FROM resources WHERE player_id = $1 AND type = $2`,
		playerID, int16(rt),
	).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errs.Newf(errs.ResourceNotFound, "%s balance not found for player %s", rt, playerID)
	}
	if err != nil {
		return 0, errs.Wrap(errs.GetResourceFailed, err)
	}
	return amount, nil
}

func (p *Postgres) SetBalance(ctx context.Context, playerID domain.PlayerID, rt domain.ResourceType, amount int64) error {
	tag, err := p.q.Exec(ctx,
		`UPDATE resources SET amount = $3, updated_at = NOW() WHERE player_id = $1 AND type = $2`,
		playerID, int16(rt), amount,
	)
	if err != nil {
		return errs.Wrap(errs.UpdateResourceFailed, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.Newf(errs.ResourceNotFound, "%s balance not found for player %s", rt, playerID)
	}
	return nil
}

func (p *Postgres) FriendIDs(ctx context.Context, playerID domain.PlayerID) ([]domain.PlayerID, error) {
	rows, err := p.q.Query(ctx,
		`SELECT friend_id FROM friendships WHERE player_id = $1 ORDER BY created_at`,
		playerID,
	)
	if err != nil {
		return nil, errs.Wrap(errs.GetFriendIDsFailed, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[domain.PlayerID])
	if err != nil {
		return nil, errs.Wrap(errs.GetFriendIDsFailed, err)
	}
	return ids, nil
}

func (p *Postgres) AddFriendship(ctx context.Context, playerID, friendID domain.PlayerID) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO friendships (player_id, friend_id) VALUES ($1, $2), ($2, $1)`,
		playerID, friendID,
	)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return errs.New(errs.FriendshipAlreadyExists, "players are already friends")
		case pgForeignKeyViolation:
			return errs.New(errs.PlayerNotFound, "player not found")
		}
	}
	return errs.Wrap(errs.AddFriendshipFailed, err)
}

// InTx runs fn inside a database transaction. Nested calls reuse the
// outer transaction.
func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if p.inTx {
		return fn(ctx, p)
	}
	err := p.tx(ctx, func(q querier) error {
		return fn(ctx, &Postgres{pool: p.pool, q: q, inTx: true})
	})
	return errs.Wrap(errs.TransactionFailed, err)
}

func (p *Postgres) tx(ctx context.Context, fn func(q querier) error) error {
	if p.inTx {
		return fn(p.q)
	}
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(tx)
	})
}
