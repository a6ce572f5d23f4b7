package transaction

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/cockroachdb/errors"
)

// encode writes the canonical byte layout of a transaction:
//
//	type (1) | timestamp LE (4) | sender key (32) | requester key (32, optional)
//	recipient BE (8) | amount LE (8) | asset | signature (64, optional)
//	second signature (64, optional)
//
// The fee is not part of the encoding.
func encode(tx Tx, asset []byte, skipSignature bool, skipSecondSignature bool) ([]byte, error) {
	if tx.Timestamp < 0 || tx.Timestamp > math.MaxUint32 {
		return nil, errors.Newf("timestamp %d out of range", tx.Timestamp)
	}
	if len(tx.SenderPublicKey) != signature.PublicKeySize {
		return nil, errors.Newf("sender public key has %d bytes", len(tx.SenderPublicKey))
	}
	if n := len(tx.RequesterPublicKey); n != 0 && n != signature.PublicKeySize {
		return nil, errors.Newf("requester public key has %d bytes", n)
	}
	if tx.Amount < 0 {
		return nil, errors.Newf("negative amount %d", tx.Amount)
	}

	var recipient uint64
	if tx.RecipientID != "" {
		n, err := accounts.AddressNumber(tx.RecipientID)
		if err != nil {
			return nil, err
		}
		recipient = n
	}

	var buf bytes.Buffer
	buf.Grow(1 + 4 + 32 + 32 + 8 + 8 + len(asset) + 64 + 64)

	buf.WriteByte(byte(tx.Type))

	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], uint32(tx.Timestamp))
	buf.Write(b4[:])

	buf.Write(tx.SenderPublicKey)
	if len(tx.RequesterPublicKey) > 0 {
		buf.Write(tx.RequesterPublicKey)
	}

	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], recipient)
	buf.Write(b8[:])

	binary.LittleEndian.PutUint64(b8[:], uint64(tx.Amount))
	buf.Write(b8[:])

	buf.Write(asset)

	if !skipSignature && len(tx.Signature) > 0 {
		buf.Write(tx.Signature)
	}
	if !skipSecondSignature && len(tx.SignSignature) > 0 {
		buf.Write(tx.SignSignature)
	}

	return buf.Bytes(), nil
}
