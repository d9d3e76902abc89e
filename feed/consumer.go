package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"escrow/models"
	"escrow/service"
	log "github.com/sirupsen/logrus"
)

const (
	// RiskSignalSubject carries account risk assessments from the external
	// risk engine, one subject token per account id.
	RiskSignalSubject = "risk.signal.*"

	// SettlementSnapshotSubject carries balance snapshots from the
	// settlement rail.
	SettlementSnapshotSubject = "settlement.snapshot.*"
)

// riskSignalMessage is the wire shape of a risk feed message
type riskSignalMessage struct {
	AccountID   string    `json:"accountId"`
	RiskLevel   string    `json:"riskLevel"`
	Flags       []string  `json:"flags"`
	SARRequired bool      `json:"sarRequired"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// Consumer subscribes to the risk and settlement feeds and routes messages to
// the registry and reconciliation services.
type Consumer struct {
	client         *NATSClient
	registry       service.RegistryService
	reconciliation service.ReconciliationService
}

// NewConsumer creates a feed consumer over an unconnected NATS client
func NewConsumer(natsServers string, registry service.RegistryService, reconciliation service.ReconciliationService) *Consumer {
	return &Consumer{
		client:         NewNATSClient(natsServers),
		registry:       registry,
		reconciliation: reconciliation,
	}
}

// Start connects to NATS, ensures both streams exist, and subscribes the
// handlers.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if err := c.client.EnsureRiskStream(); err != nil {
		return fmt.Errorf("failed to ensure risk stream: %w", err)
	}
	if err := c.client.EnsureSettlementStream(); err != nil {
		return fmt.Errorf("failed to ensure settlement stream: %w", err)
	}

	if err := c.client.Subscribe(RiskSignalSubject, c.handleRiskSignal); err != nil {
		return err
	}
	if err := c.client.Subscribe(SettlementSnapshotSubject, c.handleSettlementSnapshot); err != nil {
		return err
	}

	log.Info("Feed consumer started")
	return nil
}

// Stop closes the NATS connection
func (c *Consumer) Stop() error {
	return c.client.Close()
}

// Client returns the underlying NATS client, shared with the payout rail
func (c *Consumer) Client() *NATSClient {
	return c.client
}

// handleRiskSignal applies one risk feed message. A malformed message or one
// for an unknown account is dropped (acked) rather than redelivered forever.
func (c *Consumer) handleRiskSignal(data []byte) error {
	var msg riskSignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.WithError(err).Error("Dropping malformed risk signal message")
		return nil
	}

	signal := models.RiskSignal{
		AccountID:   msg.AccountID,
		RiskLevel:   models.RiskLevel(msg.RiskLevel),
		Flags:       msg.Flags,
		SARRequired: msg.SARRequired,
		ReceivedAt:  msg.ReceivedAt,
	}

	err := c.registry.ApplyRiskSignal(context.Background(), signal)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			log.WithField("accountID", msg.AccountID).Warn("Dropping risk signal for unknown account")
			return nil
		}
		return err
	}

	log.WithFields(log.Fields{
		"accountID": signal.AccountID,
		"riskLevel": signal.RiskLevel,
	}).Info("Risk signal applied")
	return nil
}

// handleSettlementSnapshot runs reconciliation for one snapshot. Out-of-order
// snapshots are expected from the rail and acked after logging; anything else
// that fails is NAKed for redelivery.
func (c *Consumer) handleSettlementSnapshot(data []byte) error {
	var snapshot models.SettlementSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		log.WithError(err).Error("Dropping malformed settlement snapshot")
		return nil
	}

	run, err := c.reconciliation.Run(context.Background(), snapshot)
	if err != nil {
		if errors.Is(err, models.ErrStaleSnapshot) {
			log.WithFields(log.Fields{
				"accountID": snapshot.AccountID,
				"asOf":      snapshot.AsOf,
			}).Warn("Dropping stale settlement snapshot")
			return nil
		}
		if errors.Is(err, models.ErrAccountNotFound) {
			log.WithField("accountID", snapshot.AccountID).Warn("Dropping settlement snapshot for unknown account")
			return nil
		}
		return err
	}

	log.WithFields(log.Fields{
		"accountID": snapshot.AccountID,
		"runID":     run.ID,
		"variance":  run.Variance,
		"status":    run.Status,
	}).Info("Settlement snapshot reconciled")
	return nil
}
