package repository_test

import (
	"context"
	"testing"

	"escrow/models"
	"escrow/repository"
	"escrow/repository/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	testDB := testutil.SetupTestDatabase(t)
	ctx := context.Background()

	accountRepo := repository.NewAccountRepository(testDB.DB)
	ledgerRepo := repository.NewLedgerRepository(testDB.DB)

	account := testutil.CreateTestAccount()
	require.NoError(t, accountRepo.Create(ctx, account))

	t.Run("new account has zero balance", func(t *testing.T) {
		balance, err := ledgerRepo.Balance(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})

	t.Run("balance cache tracks the settled fold", func(t *testing.T) {
		entries := []*models.LedgerEntry{
			testutil.CreateTestEntry(account.ID, "tx-1", 10000),
			testutil.CreateTestEntry(account.ID, "tx-2", 25000),
			testutil.CreateTestEntry(account.ID, "tx-3", -5000),
		}
		for _, entry := range entries {
			require.NoError(t, ledgerRepo.Append(ctx, entry))
			require.NoError(t, ledgerRepo.ApplyToBalance(ctx, account.ID, entry.Amount))
		}

		// A pending entry must not count either way
		pending := testutil.CreateTestEntry(account.ID, "tx-4", 99999)
		pending.Status = models.EntryStatusPending
		require.NoError(t, ledgerRepo.Append(ctx, pending))

		balance, err := ledgerRepo.Balance(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(30000), balance)

		fold, err := ledgerRepo.FoldBalance(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, balance, fold)
	})

	t.Run("duplicate external ref is rejected", func(t *testing.T) {
		dup := testutil.CreateTestEntry(account.ID, "tx-1", 777)
		err := ledgerRepo.Append(ctx, dup)
		assert.ErrorIs(t, err, models.ErrDuplicateExternalRef)
	})

	t.Run("same external ref on another account is allowed", func(t *testing.T) {
		other := testutil.CreateTestAccount()
		require.NoError(t, accountRepo.Create(ctx, other))

		entry := testutil.CreateTestEntry(other.ID, "tx-1", 500)
		assert.NoError(t, ledgerRepo.Append(ctx, entry))
	})

	t.Run("reversal restores the fold", func(t *testing.T) {
		original := testutil.CreateTestEntry(account.ID, "tx-rev-src", 4000)
		require.NoError(t, ledgerRepo.Append(ctx, original))
		require.NoError(t, ledgerRepo.ApplyToBalance(ctx, account.ID, original.Amount))

		reversal := testutil.CreateTestEntry(account.ID, "rev-src", -4000)
		reversal.Kind = models.EntryKindReversal
		require.NoError(t, ledgerRepo.Append(ctx, reversal))
		require.NoError(t, ledgerRepo.MarkReversed(ctx, account.ID, original.ID, reversal.ID))
		require.NoError(t, ledgerRepo.ApplyToBalance(ctx, account.ID, reversal.Amount))

		stored, err := ledgerRepo.GetByID(ctx, account.ID, original.ID)
		require.NoError(t, err)
		assert.Equal(t, models.EntryStatusReversed, stored.Status)
		require.NotNil(t, stored.ReversedBy)
		assert.Equal(t, reversal.ID, *stored.ReversedBy)

		balance, err := ledgerRepo.Balance(ctx, account.ID)
		require.NoError(t, err)
		fold, err := ledgerRepo.FoldBalance(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, balance, fold)
	})

	t.Run("entries page by id cursor", func(t *testing.T) {
		all, err := ledgerRepo.EntriesSince(ctx, account.ID, 0, 100)
		require.NoError(t, err)
		require.NotEmpty(t, all)

		// Ids strictly increase
		for i := 1; i < len(all); i++ {
			assert.Greater(t, all[i].ID, all[i-1].ID)
		}

		rest, err := ledgerRepo.EntriesSince(ctx, account.ID, all[0].ID, 100)
		require.NoError(t, err)
		assert.Len(t, rest, len(all)-1)
	})

	t.Run("balance for unknown account reports not found", func(t *testing.T) {
		_, err := ledgerRepo.Balance(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, models.ErrAccountNotFound)
	})
}

func TestLedgerRepository_MarkSettled_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	testDB := testutil.SetupTestDatabase(t)
	ctx := context.Background()

	accountRepo := repository.NewAccountRepository(testDB.DB)
	ledgerRepo := repository.NewLedgerRepository(testDB.DB)

	account := testutil.CreateTestAccount()
	require.NoError(t, accountRepo.Create(ctx, account))

	pending := testutil.CreateTestEntry(account.ID, "tx-p", 1500)
	pending.Status = models.EntryStatusPending
	require.NoError(t, ledgerRepo.Append(ctx, pending))

	require.NoError(t, ledgerRepo.MarkSettled(ctx, account.ID, pending.ID))

	// Settling twice is an invalid transition
	err := ledgerRepo.MarkSettled(ctx, account.ID, pending.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}
