//go:build integration

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/SkynetNext/game-server/internal/domain"
	"github.com/SkynetNext/game-server/internal/errs"
)

func setupPostgres(t *testing.T) *Postgres {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("game"),
		tcpostgres.WithUsername("game"),
		tcpostgres.WithPassword("game"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrator, err := NewMigrator(dsn)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewPostgresFromPool(pool)
}

func TestPostgres_Repository(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()

	p1, err := repo.GetOrCreatePlayer(ctx, "d1")
	require.NoError(t, err)
	again, err := repo.GetOrCreatePlayer(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, p1, again)
	p2, err := repo.GetOrCreatePlayer(ctx, "d2")
	require.NoError(t, err)

	bal, err := repo.GetBalance(ctx, p1, domain.Rolls)
	require.NoError(t, err)
	assert.Zero(t, bal)

	require.NoError(t, repo.SetBalance(ctx, p1, domain.Coins, 500))
	bal, err = repo.GetBalance(ctx, p1, domain.Coins)
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)

	_, err = repo.GetBalance(ctx, domain.NewPlayerID(), domain.Coins)
	assert.True(t, errs.Is(err, errs.ResourceNotFound))

	require.NoError(t, repo.AddFriendship(ctx, p1, p2))
	err = repo.AddFriendship(ctx, p2, p1)
	assert.True(t, errs.Is(err, errs.FriendshipAlreadyExists))
	err = repo.AddFriendship(ctx, p1, domain.NewPlayerID())
	assert.True(t, errs.Is(err, errs.PlayerNotFound))

	friends, err := repo.FriendIDs(ctx, p2)
	require.NoError(t, err)
	assert.Equal(t, []domain.PlayerID{p1}, friends)
}

func TestPostgres_InTxRollsBack(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()

	a, _ := repo.GetOrCreatePlayer(ctx, "a")
	b, _ := repo.GetOrCreatePlayer(ctx, "b")
	require.NoError(t, repo.SetBalance(ctx, a, domain.Coins, 100))

	boom := errors.New("fault after debit")
	err := repo.InTx(ctx, func(ctx context.Context, tx Repository) error {
		require.NoError(t, tx.SetBalance(ctx, a, domain.Coins, 0))
		return boom
	})
	assert.True(t, errs.Is(err, errs.TransactionFailed))

	bal, _ := repo.GetBalance(ctx, a, domain.Coins)
	assert.Equal(t, int64(100), bal)

	err = repo.InTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.SetBalance(ctx, a, domain.Coins, 40); err != nil {
			return err
		}
		return tx.SetBalance(ctx, b, domain.Coins, 60)
	})
	require.NoError(t, err)
	balA, _ := repo.GetBalance(ctx, a, domain.Coins)
	balB, _ := repo.GetBalance(ctx, b, domain.Coins)
	assert.Equal(t, int64(40), balA)
	assert.Equal(t, int64(60), balB)
}
