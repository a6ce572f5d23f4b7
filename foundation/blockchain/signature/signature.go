// Package signature provides helper functions for handling the blockchain
// signature needs.
package signature

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/hdevalence/ed25519consensus"
)

// Key and signature sizes used by the canonical encodings.
const (
	PublicKeySize = ed25519.PublicKeySize
	SignatureSize = ed25519.SignatureSize
	HashSize      = sha256.Size
)

// ZeroHash represents a hash code of zeros.
const ZeroHash string = "0x0000000000000000000000000000000000000000000000000000000000000000"

// =============================================================================

// Keypair is the ed25519 key material of an account.
type Keypair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// MakeKeypair derives the keypair for a passphrase. The seed of the private
// key is the SHA-256 of the passphrase.
func MakeKeypair(secret string) Keypair {
	seed := sha256.Sum256([]byte(secret))
	privateKey := ed25519.NewKeyFromSeed(seed[:])

	return Keypair{
		PublicKey:  privateKey.Public().(ed25519.PublicKey),
		PrivateKey: privateKey,
	}
}

// PublicKeyHex returns the public key in the hex form used by votes and
// membership lists.
func (kp Keypair) PublicKeyHex() string {
	return hex.EncodeToString(kp.PublicKey)
}

// =============================================================================

// Hash returns the SHA-256 of the data.
func Hash(data []byte) [HashSize]byte {
	return sha256.Sum256(data)
}

// HashString returns the hex representation of the hash of the data.
func HashString(data []byte) string {
	hash := sha256.Sum256(data)
	return hexutil.Encode(hash[:])
}

// Sign signs the hash with the keypair's private key.
func Sign(hash []byte, kp Keypair) []byte {
	return ed25519.Sign(kp.PrivateKey, hash)
}

// Verify checks the signature of the hash against the public key. Malformed
// keys or signatures never verify.
func Verify(hash []byte, sig []byte, publicKey []byte) bool {
	if len(publicKey) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}

	return ed25519consensus.Verify(ed25519.PublicKey(publicKey), hash, sig)
}

// IDFromHash renders the numeric identifier of a hash: the first eight bytes
// read in reverse order as an unsigned decimal.
func IDFromHash(hash [HashSize]byte) string {
	return strconv.FormatUint(binary.LittleEndian.Uint64(hash[:8]), 10)
}

// DecodePublicKey decodes a hex encoded public key and checks its size.
func DecodePublicKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}

	if len(key) != PublicKeySize {
		return nil, hex.ErrLength
	}

	return key, nil
}
