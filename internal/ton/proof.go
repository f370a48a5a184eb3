package ton

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/tonkeeper/tongo/ton"
)

// TON Connect proof verification
// Based on: https://docs.ton.org/develop/dapps/ton-connect/sign

// ConnectProof represents the proof sent by TON Connect
type ConnectProof struct {
	Timestamp int64  `json:"timestamp"`
	Domain    Domain `json:"domain"`
	Signature string `json:"signature"`
	Payload   string `json:"payload"`
}

// Domain represents the domain part of the proof
type Domain struct {
	LengthBytes int    `json:"lengthBytes"`
	Value       string `json:"value"`
}

// WalletAccount represents wallet account info from TON Connect
type WalletAccount struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
}

// VerifyProof checks that the wallet owner signed the proof for allowedDomain
func VerifyProof(account WalletAccount, proof ConnectProof, allowedDomain string, now time.Time) error {
	if now.Sub(time.Unix(proof.Timestamp, 0)) > ProofTTL {
		return errors.New("proof expired")
	}
	if proof.Domain.Value != allowedDomain {
		return fmt.Errorf("domain mismatch: expected %s, got %s", allowedDomain, proof.Domain.Value)
	}

	pubKey, err := hex.DecodeString(account.PublicKey)
	if err != nil {
		return fmt.Errorf("invalid public key format: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return errors.New("invalid public key size")
	}

	signature, err := base64.StdEncoding.DecodeString(proof.Signature)
	if err != nil {
		return fmt.Errorf("invalid signature format: %w", err)
	}

	message, err := ProofMessage(account.Address, proof)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pubKey, message, signature) {
		return errors.New("invalid signature")
	}
	return nil
}

// ProofMessage builds the digest a wallet signs:
// sha256(0xffff ++ "ton-connect" ++ sha256("ton-proof-item-v2/" ++ wc ++ hash ++ len ++ domain ++ ts ++ payload))
func ProofMessage(address string, proof ConnectProof) ([]byte, error) {
	acc, err := ton.ParseAccountID(address)
	if err != nil {
		return nil, ErrInvalidAddress
	}

	var msg []byte
	msg = append(msg, []byte("ton-proof-item-v2/")...)
	msg = binary.BigEndian.AppendUint32(msg, uint32(acc.Workchain))
	msg = append(msg, acc.Address[:]...)
	msg = binary.LittleEndian.AppendUint32(msg, uint32(proof.Domain.LengthBytes))
	msg = append(msg, []byte(proof.Domain.Value)...)
	msg = binary.LittleEndian.AppendUint64(msg, uint64(proof.Timestamp))
	msg = append(msg, []byte(proof.Payload)...)
	inner := sha256.Sum256(msg)

	full := append([]byte{0xff, 0xff}, []byte("ton-connect")...)
	full = append(full, inner[:]...)
	digest := sha256.Sum256(full)
	return digest[:], nil
}
