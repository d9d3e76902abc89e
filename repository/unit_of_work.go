package repository

import (
	"context"
	"fmt"

	"escrow/database"
	"escrow/events"
	"escrow/service"
	"github.com/jackc/pgx/v5"
)

// unitOfWork implements the UnitOfWork interface
type unitOfWork struct {
	db               *database.DB
	tx               pgx.Tx
	ctx              context.Context
	transactionalBus *events.TransactionalBus
	accountRepo      service.AccountRepository
	ledgerRepo       service.LedgerRepository
	distributionRepo service.DistributionRepository
	reconRepo        service.ReconciliationRepository
	riskRepo         service.RiskRepository
	auditRepo        service.AuditRepository
}

type unitOfWorkFactory struct {
	db       *database.DB
	eventBus *events.Bus
}

// NewUnitOfWorkFactory creates a new UnitOfWork factory
func NewUnitOfWorkFactory(db *database.DB, eventBus *events.Bus) service.UnitOfWorkFactory {
	return &unitOfWorkFactory{
		db:       db,
		eventBus: eventBus,
	}
}

func (f *unitOfWorkFactory) Create() service.UnitOfWork {
	return &unitOfWork{
		db:               f.db,
		transactionalBus: events.NewTransactionalBus(f.eventBus),
	}
}

// Begin starts a new transaction
func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return fmt.Errorf("transaction already started")
	}

	tx, err := u.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	u.tx = tx
	u.ctx = ctx

	// Create repositories with the transaction
	u.accountRepo = newAccountRepositoryWithTx(tx)
	u.ledgerRepo = newLedgerRepositoryWithTx(tx)
	u.distributionRepo = newDistributionRepositoryWithTx(tx)
	u.reconRepo = newReconciliationRepositoryWithTx(tx)
	u.riskRepo = newRiskRepositoryWithTx(tx)
	u.auditRepo = newAuditRepositoryWithTx(tx)

	return nil
}

// Commit commits the transaction
func (u *unitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("no transaction to commit")
	}

	if err := u.tx.Commit(u.ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	u.tx = nil

	// Flush pending events after successful commit
	if u.transactionalBus != nil {
		u.transactionalBus.Flush(u.ctx)
	}

	return nil
}

// Rollback rolls back the transaction
func (u *unitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Nothing to rollback
	}

	err := u.tx.Rollback(u.ctx)
	if err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	u.tx = nil

	// Discard pending events on rollback
	if u.transactionalBus != nil {
		u.transactionalBus.Discard()
	}

	return nil
}

// AccountRepository returns the account repository for this unit of work
func (u *unitOfWork) AccountRepository() service.AccountRepository {
	if u.accountRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.accountRepo
}

// LedgerRepository returns the ledger repository for this unit of work
func (u *unitOfWork) LedgerRepository() service.LedgerRepository {
	if u.ledgerRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.ledgerRepo
}

// DistributionRepository returns the distribution repository for this unit of work
func (u *unitOfWork) DistributionRepository() service.DistributionRepository {
	if u.distributionRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.distributionRepo
}

// ReconciliationRepository returns the reconciliation repository for this unit of work
func (u *unitOfWork) ReconciliationRepository() service.ReconciliationRepository {
	if u.reconRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.reconRepo
}

// RiskRepository returns the risk signal repository for this unit of work
func (u *unitOfWork) RiskRepository() service.RiskRepository {
	if u.riskRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.riskRepo
}

// AuditRepository returns the audit repository for this unit of work
func (u *unitOfWork) AuditRepository() service.AuditRepository {
	if u.auditRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.auditRepo
}

// EventBus returns the transactional event bus for this unit of work
func (u *unitOfWork) EventBus() service.EventPublisher {
	if u.transactionalBus == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.transactionalBus
}
