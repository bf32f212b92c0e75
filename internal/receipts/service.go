package receipts

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/skillmint/skillmint/internal/idgen"
)

// Service implements receipt business logic.
type Service struct {
	store  Store
	signer *Signer
}

// NewService creates a new receipt service.
// If signer is nil, IssueReceipt is a no-op (signing disabled).
func NewService(store Store, signer *Signer) *Service {
	return &Service{
		store:  store,
		signer: signer,
	}
}

// IssueReceipt signs and persists a receipt. Nil-safe: returns nil if service or signer is nil.
func (s *Service) IssueReceipt(ctx context.Context, req IssueRequest) error {
	if s == nil || s.signer == nil {
		return nil
	}

	payload := receiptPayload{
		Amount:    req.Amount,
		PayoutID:  req.PayoutID,
		Recipient: strings.ToLower(req.Recipient),
		RewardID:  req.RewardID,
		Status:    req.Status,
		TxHash:    strings.ToLower(req.TxHash),
	}

	// Compute payload hash
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("receipts: failed to marshal payload: %w", err)
	}
	hash := sha256.Sum256(data)
	payloadHash := fmt.Sprintf("%x", hash)

	// Sign
	sig, issuedAt, expiresAt, err := s.signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("receipts: failed to sign: %w", err)
	}

	receipt := &Receipt{
		ID:          idgen.WithPrefix("rcpt_"),
		PayoutID:    req.PayoutID,
		RewardID:    req.RewardID,
		Recipient:   strings.ToLower(req.Recipient),
		Amount:      req.Amount,
		TxHash:      strings.ToLower(req.TxHash),
		Status:      req.Status,
		PayloadHash: payloadHash,
		Signature:   sig,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}

	return s.store.Create(ctx, receipt)
}

// Get returns a receipt by ID.
func (s *Service) Get(ctx context.Context, id string) (*Receipt, error) {
	return s.store.Get(ctx, id)
}

// ListByRecipient returns receipts for a beneficiary wallet.
func (s *Service) ListByRecipient(ctx context.Context, recipient string, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByRecipient(ctx, strings.ToLower(recipient), limit)
}

// ListByPayout returns receipts for a payout, newest first. A payout that
// failed and was later retried to completion has one receipt per outcome.
func (s *Service) ListByPayout(ctx context.Context, payoutID string) ([]*Receipt, error) {
	return s.store.ListByPayout(ctx, payoutID)
}

// Verify checks whether a receipt's signature is valid.
func (s *Service) Verify(ctx context.Context, receiptID string) (*VerifyResponse, error) {
	if s.signer == nil {
		return &VerifyResponse{
			Valid:     false,
			ReceiptID: receiptID,
			Error:     ErrSigningDisabled.Error(),
		}, nil
	}

	receipt, err := s.store.Get(ctx, receiptID)
	if err != nil {
		return &VerifyResponse{
			Valid:     false,
			ReceiptID: receiptID,
			Error:     ErrReceiptNotFound.Error(),
		}, nil
	}

	payload := receiptPayload{
		Amount:    receipt.Amount,
		PayoutID:  receipt.PayoutID,
		Recipient: receipt.Recipient,
		RewardID:  receipt.RewardID,
		Status:    receipt.Status,
		TxHash:    receipt.TxHash,
	}

	valid := s.signer.Verify(payload, receipt.Signature)

	resp := &VerifyResponse{
		Valid:     valid,
		ReceiptID: receiptID,
	}

	if valid && time.Now().After(receipt.ExpiresAt) {
		resp.Expired = true
	}

	if !valid {
		resp.Error = "signature verification failed"
	}

	return resp, nil
}
