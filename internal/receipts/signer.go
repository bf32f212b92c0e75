package receipts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Receipts are proof documents a learner can hand to a third party, so
// signatures stay valid well past settlement.
const receiptValidity = 30 * 24 * time.Hour

// Signer signs settlement receipt payloads with HMAC-SHA256 over their
// canonical JSON encoding.
type Signer struct {
	secret []byte
}

// NewSigner creates an HMAC signer. An empty secret disables signing;
// the returned nil Signer is safe to pass around.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) mac(payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	h := hmac.New(sha256.New, s.secret)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Sign computes the payload signature and its validity window.
func (s *Signer) Sign(payload interface{}) (signature string, issuedAt, expiresAt time.Time, err error) {
	if s == nil {
		return "", time.Time{}, time.Time{}, nil
	}
	sig, err := s.mac(payload)
	if err != nil {
		return "", time.Time{}, time.Time{}, err
	}
	now := time.Now().UTC()
	return sig, now, now.Add(receiptValidity), nil
}

// Verify checks the payload signature in constant time.
func (s *Signer) Verify(payload interface{}, signature string) bool {
	if s == nil {
		return false
	}
	expected, err := s.mac(payload)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
