// Package signer derives the operator's account identity from a BIP-39
// mnemonic. The chain address is the hex-encoded Ed25519 public key in
// canonical form.
package signer

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"

	"trackchain/go-client/pkg/models"
)

const hkdfInfoAccount = "trackchain/account/signing/v1"

var (
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrMnemonicRequired = errors.New("mnemonic is required")
)

// Identity holds the derived account keys. The private key never leaves
// this package's callers; only Address goes on the wire.
type Identity struct {
	Address    string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// New generates a fresh mnemonic and the identity derived from it. The
// mnemonic is returned exactly once for the operator to store.
func New() (mnemonic string, id Identity, err error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", Identity{}, err
	}
	mnemonic, err = bip39.NewMnemonic(entropy)
	if err != nil {
		return "", Identity{}, err
	}
	id, err = FromMnemonic(mnemonic)
	return mnemonic, id, err
}

// FromMnemonic deterministically derives the account identity. The same
// mnemonic always yields the same address.
func FromMnemonic(mnemonic string) (Identity, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return Identity{}, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return Identity{}, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")
	signingSeed, err := hkdfExpand(seed, hkdfInfoAccount, ed25519.SeedSize)
	if err != nil {
		return Identity{}, err
	}

	priv := ed25519.NewKeyFromSeed(signingSeed)
	pub := priv.Public().(ed25519.PublicKey)
	return Identity{
		Address:    models.CanonicalOwner(hex.EncodeToString(pub)),
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// Sign signs payload with the account key.
func (id Identity) Sign(payload []byte) []byte {
	return ed25519.Sign(id.PrivateKey, payload)
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
