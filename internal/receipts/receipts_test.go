package receipts

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/skillmint/skillmint/internal/payout"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	testRecipient = "0x1111111111111111111111111111111111111111"
	testSecret    = "test-hmac-secret-for-receipts"
)

func newTestService() *Service {
	return NewService(NewMemoryStore(), NewSigner(testSecret))
}

func issueTestReceipt(t *testing.T, svc *Service, payoutID, status string) {
	t.Helper()
	err := svc.IssueReceipt(context.Background(), IssueRequest{
		PayoutID:  payoutID,
		RewardID:  "rwd_" + payoutID,
		Recipient: testRecipient,
		Amount:    "250",
		TxHash:    "0xABCDEF",
		Status:    status,
	})
	if err != nil {
		t.Fatalf("IssueReceipt failed: %v", err)
	}
}

func TestIssueReceipt_Success(t *testing.T) {
	svc := newTestService()
	issueTestReceipt(t, svc, "pay_1", "completed")

	receipts, err := svc.ListByRecipient(context.Background(), testRecipient, 10)
	if err != nil {
		t.Fatalf("ListByRecipient failed: %v", err)
	}
	if len(receipts) != 1 {
		t.Fatalf("expected 1 receipt, got %d", len(receipts))
	}

	r := receipts[0]
	if r.PayoutID != "pay_1" {
		t.Errorf("expected payout pay_1, got %s", r.PayoutID)
	}
	if r.RewardID != "rwd_pay_1" {
		t.Errorf("expected reward rwd_pay_1, got %s", r.RewardID)
	}
	if r.Recipient != testRecipient {
		t.Errorf("expected recipient %s, got %s", testRecipient, r.Recipient)
	}
	if r.Amount != "250" {
		t.Errorf("expected amount 250, got %s", r.Amount)
	}
	if r.TxHash != "0xabcdef" {
		t.Errorf("expected lowercased tx hash, got %s", r.TxHash)
	}
	if r.Signature == "" {
		t.Error("expected non-empty signature")
	}
	if r.PayloadHash == "" {
		t.Error("expected non-empty payload hash")
	}
	if r.IssuedAt.IsZero() {
		t.Error("expected non-zero issuedAt")
	}
	// Should expire ~30 days from now
	expectedExpiry := time.Now().Add(30 * 24 * time.Hour)
	if r.ExpiresAt.Before(expectedExpiry.Add(-time.Minute)) {
		t.Errorf("expiresAt too early: %v", r.ExpiresAt)
	}
}

func TestIssueReceipt_NilSigner(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil) // no signer

	err := svc.IssueReceipt(context.Background(), IssueRequest{
		PayoutID:  "pay_1",
		RewardID:  "rwd_1",
		Recipient: testRecipient,
		Amount:    "1",
		Status:    "completed",
	})
	if err != nil {
		t.Fatalf("expected nil error for nil signer, got %v", err)
	}

	// No receipt should be stored
	receipts, _ := svc.ListByRecipient(context.Background(), testRecipient, 10)
	if len(receipts) != 0 {
		t.Errorf("expected 0 receipts with nil signer, got %d", len(receipts))
	}
}

func TestIssueReceipt_NilService(t *testing.T) {
	var svc *Service
	err := svc.IssueReceipt(context.Background(), IssueRequest{
		PayoutID:  "pay_1",
		RewardID:  "rwd_1",
		Recipient: testRecipient,
		Amount:    "1",
		Status:    "completed",
	})
	if err != nil {
		t.Fatalf("expected nil error for nil service, got %v", err)
	}
}

func TestVerify_Valid(t *testing.T) {
	svc := newTestService()
	issueTestReceipt(t, svc, "pay_1", "completed")

	receipts, _ := svc.ListByRecipient(context.Background(), testRecipient, 10)
	if len(receipts) == 0 {
		t.Fatal("no receipts found")
	}

	resp, err := svc.Verify(context.Background(), receipts[0].ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !resp.Valid {
		t.Errorf("expected valid receipt, got invalid: %s", resp.Error)
	}
	if resp.Expired {
		t.Error("expected not expired")
	}
}

func TestVerify_InvalidSignature(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, NewSigner(testSecret))

	issueTestReceipt(t, svc, "pay_1", "completed")

	receipts, _ := svc.ListByRecipient(context.Background(), testRecipient, 10)
	if len(receipts) == 0 {
		t.Fatal("no receipts found")
	}

	// Tamper with the signature in the store
	r := receipts[0]
	r.Signature = "deadbeef"
	store.mu.Lock()
	store.receipts[r.ID] = r
	store.mu.Unlock()

	resp, err := svc.Verify(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if resp.Valid {
		t.Error("expected invalid for tampered signature")
	}
}

func TestVerify_NotFound(t *testing.T) {
	svc := newTestService()

	resp, err := svc.Verify(context.Background(), "nonexistent_id")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if resp.Valid {
		t.Error("expected invalid for not-found receipt")
	}
	if resp.Error != ErrReceiptNotFound.Error() {
		t.Errorf("expected not_found error, got %s", resp.Error)
	}
}

func TestVerify_SigningDisabled(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)

	resp, err := svc.Verify(context.Background(), "any_id")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if resp.Valid {
		t.Error("expected invalid when signing disabled")
	}
	if resp.Error != ErrSigningDisabled.Error() {
		t.Errorf("expected signing_disabled error, got %s", resp.Error)
	}
}

func TestListByPayout_RetriedPayout(t *testing.T) {
	svc := newTestService()

	// A payout that failed once and completed on retry keeps both receipts.
	issueTestReceipt(t, svc, "pay_retry", "failed")
	issueTestReceipt(t, svc, "pay_retry", "completed")
	issueTestReceipt(t, svc, "pay_other", "completed")

	receipts, err := svc.ListByPayout(context.Background(), "pay_retry")
	if err != nil {
		t.Fatalf("ListByPayout failed: %v", err)
	}
	if len(receipts) != 2 {
		t.Errorf("expected 2 receipts for retried payout, got %d", len(receipts))
	}
}

func TestListByRecipient_Limit(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		issueTestReceipt(t, svc, "pay_"+string(rune('a'+i)), "completed")
	}

	receipts, err := svc.ListByRecipient(ctx, testRecipient, 3)
	if err != nil {
		t.Fatalf("ListByRecipient failed: %v", err)
	}
	if len(receipts) != 3 {
		t.Errorf("expected 3 receipts (limited), got %d", len(receipts))
	}
}

func TestSigner_SignAndVerify(t *testing.T) {
	s := NewSigner(testSecret)

	payload := map[string]string{"key": "value"}
	sig, issuedAt, expiresAt, err := s.Sign(payload)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if sig == "" || issuedAt.IsZero() || expiresAt.IsZero() {
		t.Fatal("expected non-empty signature, issuedAt, expiresAt")
	}
	if !expiresAt.After(issuedAt) {
		t.Error("expected expiry after issuance")
	}

	if !s.Verify(payload, sig) {
		t.Error("expected Verify to return true for valid signature")
	}

	if s.Verify(payload, "wrong_signature") {
		t.Error("expected Verify to return false for wrong signature")
	}

	// Tampered payload
	if s.Verify(map[string]string{"key": "tampered"}, sig) {
		t.Error("expected Verify to return false for tampered payload")
	}
}

func TestSigner_Nil(t *testing.T) {
	s := NewSigner("")
	if s != nil {
		t.Error("expected nil signer for empty secret")
	}

	sig, _, _, err := s.Sign(map[string]string{"key": "value"})
	if err != nil {
		t.Errorf("expected nil error for nil signer, got %v", err)
	}
	if sig != "" {
		t.Error("expected empty signature for nil signer")
	}

	if s.Verify(map[string]string{"key": "value"}, "anything") {
		t.Error("expected Verify to return false for nil signer")
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := newTestService()

	_, err := svc.Get(context.Background(), "nonexistent")
	if err != ErrReceiptNotFound {
		t.Errorf("expected ErrReceiptNotFound, got %v", err)
	}
}

func TestRecorder_TerminalEventsOnly(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, NewSigner(testSecret))
	rec := NewRecorder(svc, discardLogger())

	pt := &payout.PayoutTransaction{
		ID:        "pay_1",
		RewardID:  "rwd_1",
		Recipient: testRecipient,
		Amount:    "100",
		TxHash:    "0xfeed",
		Status:    payout.StatusCompleted,
	}

	rec.PublishPayout("payout.enqueued", pt)
	rec.PublishPayout("payout.processing", pt)
	rec.PublishPayout("payout.completed", pt)

	receipts, err := svc.ListByPayout(context.Background(), "pay_1")
	if err != nil {
		t.Fatalf("ListByPayout failed: %v", err)
	}
	if len(receipts) != 1 {
		t.Fatalf("expected 1 receipt (terminal event only), got %d", len(receipts))
	}
	if receipts[0].Status != "completed" {
		t.Errorf("expected completed receipt, got %s", receipts[0].Status)
	}
}
