package receipts

import (
	"context"
	"log/slog"
	"time"

	"github.com/skillmint/skillmint/internal/payout"
)

// Recorder issues a settlement receipt for every terminal payout event.
// It satisfies the payout service's EventPublisher so receipt issuance
// rides the same hook as the ops feed.
type Recorder struct {
	svc    *Service
	logger *slog.Logger
}

// NewRecorder creates a recorder backed by svc. A nil or signing-disabled
// service makes every event a no-op.
func NewRecorder(svc *Service, logger *slog.Logger) *Recorder {
	return &Recorder{svc: svc, logger: logger}
}

// PublishPayout issues a receipt for completed and failed payouts.
// Intermediate lifecycle events are ignored.
func (r *Recorder) PublishPayout(event string, p *payout.PayoutTransaction) {
	var status string
	switch event {
	case "payout.completed":
		status = "completed"
	case "payout.failed":
		status = "failed"
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.svc.IssueReceipt(ctx, IssueRequest{
		PayoutID:  p.ID,
		RewardID:  p.RewardID,
		Recipient: p.Recipient,
		Amount:    p.Amount,
		TxHash:    p.TxHash,
		Status:    status,
	})
	if err != nil {
		r.logger.Error("failed to issue settlement receipt",
			"payoutId", p.ID, "status", status, "error", err)
	}
}

var _ payout.EventPublisher = (*Recorder)(nil)
