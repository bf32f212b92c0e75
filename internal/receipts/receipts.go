// Package receipts provides cryptographic settlement receipts.
//
// Every settled payout produces an HMAC-signed receipt that the
// beneficiary (or an auditor) can independently verify against the
// treasury's receipt secret without trusting the API response.
package receipts

import (
	"context"
	"errors"
	"time"
)

var (
	ErrReceiptNotFound = errors.New("receipts: not found")
	ErrSigningDisabled = errors.New("receipts: signing disabled (no HMAC secret configured)")
)

// Receipt is a cryptographically signed proof that the engine settled
// (or terminally failed) a payout.
type Receipt struct {
	ID          string    `json:"id"`
	PayoutID    string    `json:"payoutId"`
	RewardID    string    `json:"rewardId"`
	Recipient   string    `json:"recipient"` // beneficiary wallet
	Amount      string    `json:"amount"`    // SKILL amount
	TxHash      string    `json:"txHash,omitempty"`
	Status      string    `json:"status"`      // "completed" or "failed"
	PayloadHash string    `json:"payloadHash"` // SHA-256 of canonical payload
	Signature   string    `json:"signature"`   // HMAC-SHA256 signature
	IssuedAt    time.Time `json:"issuedAt"`    // when the receipt was signed
	ExpiresAt   time.Time `json:"expiresAt"`   // when the signature expires
	CreatedAt   time.Time `json:"createdAt"`
}

// IssueRequest is the input for creating a receipt.
type IssueRequest struct {
	PayoutID  string
	RewardID  string
	Recipient string
	Amount    string
	TxHash    string
	Status    string
}

// VerifyRequest is the input for verifying a receipt signature.
type VerifyRequest struct {
	ReceiptID string `json:"receiptId" binding:"required"`
}

// VerifyResponse is the result of receipt verification.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	ReceiptID string `json:"receiptId"`
	Expired   bool   `json:"expired,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Store persists receipt data.
type Store interface {
	Create(ctx context.Context, receipt *Receipt) error
	Get(ctx context.Context, id string) (*Receipt, error)
	ListByRecipient(ctx context.Context, recipient string, limit int) ([]*Receipt, error)
	ListByPayout(ctx context.Context, payoutID string) ([]*Receipt, error)
}

// receiptPayload is the canonical struct signed by HMAC.
// Field order must be deterministic (JSON marshalling of struct is by field order).
type receiptPayload struct {
	Amount    string `json:"amount"`
	PayoutID  string `json:"payoutId"`
	Recipient string `json:"recipient"`
	RewardID  string `json:"rewardId"`
	Status    string `json:"status"`
	TxHash    string `json:"txHash"`
}
