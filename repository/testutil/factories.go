package testutil

import (
	"escrow/models"

	"github.com/google/uuid"
)

// CreateTestAccount creates an active fundraiser account with default values
func CreateTestAccount() *models.MasterAccount {
	return &models.MasterAccount{
		ID:        uuid.NewString(),
		Type:      models.AccountTypeFundraiser,
		OwnerID:   "owner-1",
		OwnerKind: models.OwnerKindUser,
		Currency:  "KES",
		Status:    models.AccountStatusActive,
		RiskLevel: models.RiskLevelLow,
	}
}

// CreateTestEntry creates a settled contribution entry for an account
func CreateTestEntry(accountID, externalRef string, amount int64) *models.LedgerEntry {
	return &models.LedgerEntry{
		AccountID:   accountID,
		Amount:      amount,
		Currency:    "KES",
		Kind:        models.EntryKindContribution,
		ExternalRef: externalRef,
		Status:      models.EntryStatusSettled,
	}
}

// CreateTestDistribution creates a pending_approval distribution request
func CreateTestDistribution(accountID string, amount int64) *models.DistributionRequest {
	return &models.DistributionRequest{
		AccountID: accountID,
		Amount:    amount,
		PayeeRef:  "payee-1",
		Status:    models.DistributionStatusPendingApproval,
		Reason:    "vendor payment",
	}
}
