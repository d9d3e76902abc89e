package repository_test

import (
	"context"
	"testing"
	"time"

	"escrow/models"
	"escrow/repository"
	"escrow/repository/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributionRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	testDB := testutil.SetupTestDatabase(t)
	ctx := context.Background()

	accountRepo := repository.NewAccountRepository(testDB.DB)
	ledgerRepo := repository.NewLedgerRepository(testDB.DB)
	distributionRepo := repository.NewDistributionRepository(testDB.DB)

	account := testutil.CreateTestAccount()
	require.NoError(t, accountRepo.Create(ctx, account))

	t.Run("in-flight accounting follows the state machine", func(t *testing.T) {
		first := testutil.CreateTestDistribution(account.ID, 10000)
		require.NoError(t, distributionRepo.Create(ctx, first))
		second := testutil.CreateTestDistribution(account.ID, 25000)
		require.NoError(t, distributionRepo.Create(ctx, second))

		sum, err := distributionRepo.SumInFlight(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(35000), sum)

		count, err := distributionRepo.CountInFlight(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		// Rejection releases the reservation
		require.NoError(t, distributionRepo.TransitionStatus(ctx, second.ID, models.DistributionStatusPendingApproval, models.DistributionStatusRejected))

		sum, err = distributionRepo.SumInFlight(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), sum)

		// Approval and execution keep it reserved
		require.NoError(t, distributionRepo.SetApproved(ctx, first.ID, "ops:bob"))
		require.NoError(t, distributionRepo.TransitionStatus(ctx, first.ID, models.DistributionStatusApproved, models.DistributionStatusExecuting))

		sum, err = distributionRepo.SumInFlight(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), sum)

		// Settlement links the ledger entry and releases the reservation
		entry := testutil.CreateTestEntry(account.ID, first.IdempotencyKey(), -10000)
		entry.Kind = models.EntryKindDistribution
		require.NoError(t, ledgerRepo.Append(ctx, entry))
		require.NoError(t, distributionRepo.SetSettled(ctx, first.ID, entry.ID))

		sum, err = distributionRepo.SumInFlight(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), sum)

		stored, err := distributionRepo.GetByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DistributionStatusSettled, stored.Status)
		require.NotNil(t, stored.LedgerEntryID)
		assert.Equal(t, entry.ID, *stored.LedgerEntryID)
		require.NotNil(t, stored.ApprovedBy)
		assert.Equal(t, "ops:bob", *stored.ApprovedBy)
	})

	t.Run("conditional transition fails once state moved on", func(t *testing.T) {
		request := testutil.CreateTestDistribution(account.ID, 100)
		require.NoError(t, distributionRepo.Create(ctx, request))
		require.NoError(t, distributionRepo.SetApproved(ctx, request.ID, "ops:bob"))

		err := distributionRepo.SetApproved(ctx, request.ID, "ops:carol")
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("attempts increment", func(t *testing.T) {
		request := testutil.CreateTestDistribution(account.ID, 100)
		require.NoError(t, distributionRepo.Create(ctx, request))

		require.NoError(t, distributionRepo.IncrementAttempts(ctx, request.ID))
		require.NoError(t, distributionRepo.IncrementAttempts(ctx, request.ID))

		stored, err := distributionRepo.GetByID(ctx, request.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, stored.Attempts)
	})

	t.Run("stale executing listing", func(t *testing.T) {
		request := testutil.CreateTestDistribution(account.ID, 100)
		require.NoError(t, distributionRepo.Create(ctx, request))
		require.NoError(t, distributionRepo.SetApproved(ctx, request.ID, "ops:bob"))
		require.NoError(t, distributionRepo.TransitionStatus(ctx, request.ID, models.DistributionStatusApproved, models.DistributionStatusExecuting))

		// Everything just updated is younger than the deadline
		stale, err := distributionRepo.ListStaleExecuting(ctx, time.Now().UTC().Add(-time.Minute))
		require.NoError(t, err)
		assert.Empty(t, stale)

		// With a future deadline the executing request is stale
		stale, err = distributionRepo.ListStaleExecuting(ctx, time.Now().UTC().Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, request.ID, stale[0].ID)
	})
}
