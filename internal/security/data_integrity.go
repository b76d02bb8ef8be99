// Package security provides cryptographic signing for served yield payloads.
package security

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// DataIntegrityService signs outgoing yield payloads so downstream consumers
// can verify they were produced by this service and have not been altered.
type DataIntegrityService struct {
	privateKey       *ecdsa.PrivateKey
	publicKeyEncoded string
	validity         time.Duration
}

// NewDataIntegrityService generates a fresh signing key. Keys are ephemeral
// per process; consumers read the current public key from /status.
func NewDataIntegrityService(validity time.Duration) (*DataIntegrityService, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	publicKeyBytes := crypto.FromECDSAPub(&privateKey.PublicKey)
	publicKeyEncoded := base64.StdEncoding.EncodeToString(publicKeyBytes)

	logrus.Infof("Data integrity service initialized with public key: %s...", publicKeyEncoded[:16])
	return &DataIntegrityService{
		privateKey:       privateKey,
		publicKeyEncoded: publicKeyEncoded,
		validity:         validity,
	}, nil
}

// SignedPayload wraps a payload with its signature metadata.
type SignedPayload struct {
	Payload   json.RawMessage `json:"payload"`
	Signature struct {
		Value      string `json:"value"`
		PublicKey  string `json:"public_key"`
		Algorithm  string `json:"algorithm"`
		Timestamp  int64  `json:"timestamp"`
		ValidUntil int64  `json:"valid_until"`
	} `json:"_signature"`
}

// SignPayload hashes the JSON encoding of payload and signs the digest.
func (s *DataIntegrityService) SignPayload(payload any) (*SignedPayload, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	hash := sha256.Sum256(payloadBytes)
	signature, err := crypto.Sign(hash[:], s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	now := time.Now()
	signed := &SignedPayload{Payload: payloadBytes}
	signed.Signature.Value = base64.StdEncoding.EncodeToString(signature)
	signed.Signature.PublicKey = s.publicKeyEncoded
	signed.Signature.Algorithm = "ECDSA-secp256k1-SHA256"
	signed.Signature.Timestamp = now.Unix()
	signed.Signature.ValidUntil = now.Add(s.validity).Unix()

	return signed, nil
}

// VerifyPayload checks a signed payload against its embedded signature.
func (s *DataIntegrityService) VerifyPayload(signed *SignedPayload) (bool, error) {
	if time.Now().Unix() > signed.Signature.ValidUntil {
		return false, fmt.Errorf("signature expired at %v", time.Unix(signed.Signature.ValidUntil, 0))
	}

	signatureBytes, err := base64.StdEncoding.DecodeString(signed.Signature.Value)
	if err != nil {
		return false, fmt.Errorf("invalid signature encoding: %w", err)
	}
	publicKeyBytes, err := base64.StdEncoding.DecodeString(signed.Signature.PublicKey)
	if err != nil {
		return false, fmt.Errorf("invalid public key encoding: %w", err)
	}

	hash := sha256.Sum256(signed.Payload)

	// Drop the recovery id; VerifySignature expects the 64-byte form.
	if len(signatureBytes) == 65 {
		signatureBytes = signatureBytes[:64]
	}
	return crypto.VerifySignature(publicKeyBytes, hash[:], signatureBytes), nil
}

// PublicKey returns the base64-encoded public key of this process.
func (s *DataIntegrityService) PublicKey() string {
	return s.publicKeyEncoded
}
