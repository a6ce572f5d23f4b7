package block

import (
	"bytes"
	"encoding/binary"
	"math"
	"strconv"

	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/cockroachdb/errors"
)

// headerSize is the length of the encoding without the signature.
const headerSize = 4 + 4 + 8 + 4 + 8 + 8 + 8 + 4 + signature.HashSize + signature.PublicKeySize

// GetBytes returns the canonical encoding of the block header:
//
//	version LE (4) | timestamp LE (4) | previous block BE (8)
//	number of transactions LE (4) | total amount LE (8) | total fee LE (8)
//	reward LE (8) | payload length LE (4) | payload hash (32)
//	generator public key (32) | signature (64, optional)
func GetBytes(b Block, skipSignature bool) ([]byte, error) {
	switch {
	case b.Timestamp < 0 || b.Timestamp > math.MaxUint32:
		return nil, errors.Newf("timestamp %d out of range", b.Timestamp)
	case b.NumberOfTransactions < 0 || b.NumberOfTransactions > math.MaxUint32:
		return nil, errors.Newf("number of transactions %d out of range", b.NumberOfTransactions)
	case b.PayloadLength < 0 || b.PayloadLength > math.MaxUint32:
		return nil, errors.Newf("payload length %d out of range", b.PayloadLength)
	case len(b.PayloadHash) != signature.HashSize:
		return nil, errors.Newf("payload hash has %d bytes", len(b.PayloadHash))
	case len(b.GeneratorPublicKey) != signature.PublicKeySize:
		return nil, errors.Newf("generator public key has %d bytes", len(b.GeneratorPublicKey))
	}

	var previous uint64
	if b.PreviousBlock != "" {
		n, err := strconv.ParseUint(b.PreviousBlock, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "previous block %q", b.PreviousBlock)
		}
		previous = n
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + signature.SignatureSize)

	var b4 [4]byte
	var b8 [8]byte

	binary.LittleEndian.PutUint32(b4[:], b.Version)
	buf.Write(b4[:])

	binary.LittleEndian.PutUint32(b4[:], uint32(b.Timestamp))
	buf.Write(b4[:])

	binary.BigEndian.PutUint64(b8[:], previous)
	buf.Write(b8[:])

	binary.LittleEndian.PutUint32(b4[:], uint32(b.NumberOfTransactions))
	buf.Write(b4[:])

	for _, v := range []int64{b.TotalAmount, b.TotalFee, b.Reward} {
		binary.LittleEndian.PutUint64(b8[:], uint64(v))
		buf.Write(b8[:])
	}

	binary.LittleEndian.PutUint32(b4[:], uint32(b.PayloadLength))
	buf.Write(b4[:])

	buf.Write(b.PayloadHash)
	buf.Write(b.GeneratorPublicKey)

	if !skipSignature && len(b.BlockSignature) > 0 {
		buf.Write(b.BlockSignature)
	}

	return buf.Bytes(), nil
}

// Hash returns the SHA-256 of the encoding without the signature. The
// signature and the id are computed over it.
func Hash(b Block) ([signature.HashSize]byte, error) {
	data, err := GetBytes(b, true)
	if err != nil {
		return [signature.HashSize]byte{}, err
	}
	return signature.Hash(data), nil
}

// GetID returns the identifier of the block.
func GetID(b Block) (string, error) {
	hash, err := Hash(b)
	if err != nil {
		return "", err
	}
	return signature.IDFromHash(hash), nil
}

// Sign returns the generator's signature of the block.
func Sign(b Block, kp signature.Keypair) ([]byte, error) {
	hash, err := Hash(b)
	if err != nil {
		return nil, err
	}
	return signature.Sign(hash[:], kp), nil
}

// VerifySignature checks the block signature against the generator key.
func VerifySignature(b Block) (bool, error) {
	hash, err := Hash(b)
	if err != nil {
		return false, err
	}
	return signature.Verify(hash[:], b.BlockSignature, b.GeneratorPublicKey), nil
}
