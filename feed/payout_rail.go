package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"escrow/models"
	"escrow/service"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// PayoutSubject is the request-reply subject of the payout rail bridge.
const PayoutSubject = "payout.execute"

type payoutRequestMessage struct {
	PayeeRef       string `json:"payeeRef"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type payoutReplyMessage struct {
	Status string `json:"status"` // "ok" or "rejected"
	Reason string `json:"reason,omitempty"`
}

// NATSPayoutRail executes distributions through the payout rail bridge over
// NATS request-reply. The bridge deduplicates on the idempotency key, so
// repeating a request after a timeout is safe.
type NATSPayoutRail struct {
	nc *nats.Conn
}

// NewNATSPayoutRail creates a payout rail client over an established
// connection.
func NewNATSPayoutRail(nc *nats.Conn) *NATSPayoutRail {
	return &NATSPayoutRail{nc: nc}
}

// Execute sends one payout request and waits for the bridge's verdict. A
// rejected reply wraps models.ErrPayoutRejected; transport errors and
// timeouts are returned as-is for the caller's retry policy.
func (r *NATSPayoutRail) Execute(ctx context.Context, req service.PayoutRequest) error {
	payload, err := json.Marshal(payoutRequestMessage{
		PayeeRef:       req.PayeeRef,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payout request: %w", err)
	}

	msg, err := r.nc.RequestWithContext(ctx, PayoutSubject, payload)
	if err != nil {
		return fmt.Errorf("payout rail request failed: %w", err)
	}

	var reply payoutReplyMessage
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("failed to unmarshal payout reply: %w", err)
	}

	switch reply.Status {
	case "ok":
		log.WithFields(log.Fields{
			"payeeRef":       req.PayeeRef,
			"amount":         req.Amount,
			"idempotencyKey": req.IdempotencyKey,
		}).Info("Payout executed")
		return nil
	case "rejected":
		return fmt.Errorf("%s: %w", reply.Reason, models.ErrPayoutRejected)
	default:
		return fmt.Errorf("unexpected payout reply status %q", reply.Status)
	}
}
