// Package security makes persisted SYI results tamper-evident. Each stored
// snapshot is hashed and signed so the history table can be audited and
// replayed with confidence that no row was altered after the fact.
package security

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/stableyield-index/internal/model"
	"github.com/yourorg/stableyield-index/internal/storage"
)

// ResultSigner signs calculation snapshots with a secp256k1 key.
type ResultSigner struct {
	privateKey *ecdsa.PrivateKey
	publicKey  string
}

// NewResultSigner generates a fresh signing key. Keys are per-process; the
// public key is persisted alongside every signature so old rows stay
// verifiable across restarts.
func NewResultSigner() (*ResultSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}

	pub := hex.EncodeToString(crypto.CompressPubkey(&key.PublicKey))
	logrus.WithField("public_key", pub[:16]+"...").Info("Result signer initialized")

	return &ResultSigner{privateKey: key, publicKey: pub}, nil
}

// PublicKey returns the hex-encoded compressed public key.
func (s *ResultSigner) PublicKey() string {
	return s.publicKey
}

// Sign wraps a result in a storage record carrying its hash and signature.
func (s *ResultSigner) Sign(result model.SYIResult) (storage.Record, error) {
	digest, err := hashResult(result)
	if err != nil {
		return storage.Record{}, err
	}

	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return storage.Record{}, fmt.Errorf("signing result: %w", err)
	}

	return storage.Record{
		Result:    result,
		Hash:      hex.EncodeToString(digest),
		Signature: hex.EncodeToString(sig),
		PublicKey: s.publicKey,
	}, nil
}

// Verify checks a stored record's signature against its embedded public key.
func Verify(record storage.Record) (bool, error) {
	digest, err := hashResult(record.Result)
	if err != nil {
		return false, err
	}

	pub, err := hex.DecodeString(record.PublicKey)
	if err != nil {
		return false, fmt.Errorf("decoding public key: %w", err)
	}
	sig, err := hex.DecodeString(record.Signature)
	if err != nil {
		return false, fmt.Errorf("decoding signature: %w", err)
	}
	if len(sig) < 64 {
		return false, fmt.Errorf("signature too short: %d bytes", len(sig))
	}

	// drop the recovery byte; VerifySignature wants the 64-byte form
	return crypto.VerifySignature(pub, digest, sig[:64]), nil
}

// hashResult computes the Keccak256 digest of the canonical JSON encoding.
func hashResult(result model.SYIResult) ([]byte, error) {
	canonical, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result for signing: %w", err)
	}
	return crypto.Keccak256(canonical), nil
}
