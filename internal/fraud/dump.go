package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/skillmint/skillmint/internal/chain"
	"github.com/skillmint/skillmint/internal/idgen"
	"github.com/skillmint/skillmint/internal/logging"
	"github.com/skillmint/skillmint/internal/metrics"
	"github.com/skillmint/skillmint/internal/payout"
	"github.com/skillmint/skillmint/internal/token"
)

const (
	// A transfer out within instantDumpWindow of the payout blocks the
	// wallet; within flagDumpWindow it is flagged for review.
	instantDumpWindow = 5 * time.Minute
	flagDumpWindow    = time.Hour

	// Destinations collecting dumps from this many distinct rewarded
	// wallets are promoted to flagged sinks.
	sinkPromotionThreshold = 3

	// dumpLookback bounds how far back each sweep inspects.
	dumpLookback = time.Hour

	// estimated block interval, used to place event logs in time.
	blockInterval = 2 * time.Second

	dumpSweepPayoutLimit = 500
)

// OutboundReader is the slice of the chain client the monitor reads.
type OutboundReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	OutboundTransfers(ctx context.Context, from common.Address, fromBlock, toBlock uint64) ([]chain.TokenTransfer, error)
}

// PayoutSource lists recently settled payouts. The payout store
// satisfies this.
type PayoutSource interface {
	ListCompletedSince(ctx context.Context, since time.Time, limit int) ([]*payout.PayoutTransaction, error)
}

// DumpMonitor inspects rewarded wallets' outbound transfers and
// promotes repeat destinations to flagged sinks.
type DumpMonitor struct {
	store   Store
	ledger  OutboundReader
	payouts PayoutSource
	now     func() time.Time
}

// NewDumpMonitor creates the post-payout dump monitor.
func NewDumpMonitor(store Store, ledger OutboundReader, payouts PayoutSource) *DumpMonitor {
	return &DumpMonitor{store: store, ledger: ledger, payouts: payouts, now: time.Now}
}

// Sweep scans every payout settled within the lookback window for
// outbound transfers from its recipient. Returns the number of new dump
// records created.
func (m *DumpMonitor) Sweep(ctx context.Context) (int, error) {
	log := logging.FromContext(ctx)
	now := m.now()

	head, err := m.ledger.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("dump sweep head: %w", err)
	}
	blocksBack := uint64(dumpLookback / blockInterval)
	fromBlock := uint64(0)
	if head > blocksBack {
		fromBlock = head - blocksBack
	}

	recent, err := m.payouts.ListCompletedSince(ctx, now.Add(-dumpLookback), dumpSweepPayoutLimit)
	if err != nil {
		return 0, fmt.Errorf("dump sweep payouts: %w", err)
	}

	created := 0
	for _, pt := range recent {
		transfers, err := m.ledger.OutboundTransfers(ctx, common.HexToAddress(pt.Recipient), fromBlock, head)
		if err != nil {
			log.Warn("outbound transfer scan failed",
				"recipient", pt.Recipient, "error", err)
			continue
		}
		for _, tr := range transfers {
			isNew, err := m.inspect(ctx, pt, tr, head, now)
			if err != nil {
				return created, err
			}
			if isNew {
				created++
			}
		}
	}
	return created, nil
}

func (m *DumpMonitor) inspect(ctx context.Context, pt *payout.PayoutTransaction, tr chain.TokenTransfer, head uint64, now time.Time) (bool, error) {
	// Event logs carry block numbers, not timestamps; place the
	// transfer in time from its distance to the head.
	txTime := now.Add(-time.Duration(head-tr.BlockNumber) * blockInterval)
	elapsed := txTime.Sub(pt.CompletedAt)
	if elapsed < 0 {
		// Outbound before the payout settled: unrelated funds.
		return false, nil
	}

	sinkFlagged, err := m.store.IsFlaggedSink(ctx, tr.To)
	if err != nil {
		return false, fmt.Errorf("sink check: %w", err)
	}

	var severity Severity
	switch {
	case elapsed <= instantDumpWindow:
		severity = SeverityBlocked
	case elapsed <= flagDumpWindow:
		severity = SeveritySuspicious
	case sinkFlagged:
		// First hop into a known sink is suspicious on its own, even at
		// dump speeds that would otherwise pass.
		severity = SeveritySuspicious
	default:
		return false, nil
	}

	rec := &DumpRecord{
		ID:             idgen.WithPrefix("dmp_"),
		Wallet:         pt.Recipient,
		Destination:    tr.To,
		Amount:         token.Format(tr.Amount),
		DumpTxHash:     tr.TxHash,
		ElapsedSeconds: int64(elapsed.Seconds()),
		Severity:       severity,
		CreatedAt:      now,
	}
	isNew, err := m.store.RecordDump(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("record dump: %w", err)
	}
	if !isNew {
		return false, nil
	}
	metrics.FraudFindings.WithLabelValues("dump_monitor", string(severity)).Inc()

	if severity == SeverityBlocked {
		err := m.store.AddToBlacklist(ctx, &BlacklistEntry{
			Address:   pt.Recipient,
			Reason:    fmt.Sprintf("instant dump: %s tokens out %ds after payout", rec.Amount, rec.ElapsedSeconds),
			Severity:  SeverityBlocked,
			Source:    "dump_monitor",
			CreatedAt: now,
		})
		if err != nil {
			return true, fmt.Errorf("blacklist dumping wallet: %w", err)
		}
	}

	senders, err := m.store.AddSinkSender(ctx, tr.To, pt.Recipient)
	if err != nil {
		return true, fmt.Errorf("sink sender: %w", err)
	}
	if senders >= sinkPromotionThreshold && !sinkFlagged {
		if err := m.store.FlagSink(ctx, tr.To); err != nil {
			return true, fmt.Errorf("flag sink: %w", err)
		}
		logging.FromContext(ctx).Warn("sink address flagged",
			"address", tr.To, "unique_senders", senders)
	}
	return true, nil
}
