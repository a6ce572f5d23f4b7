package transaction

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jmoiron/sqlx"
)

// dbTx is the row layout of the transactions table.
type dbTx struct {
	ID                 string `db:"id"`
	BlockID            string `db:"block_id"`
	Position           int    `db:"position"`
	Type               int    `db:"type"`
	Timestamp          int64  `db:"timestamp"`
	SenderPublicKey    []byte `db:"sender_public_key"`
	RequesterPublicKey []byte `db:"requester_public_key"`
	SenderID           string `db:"sender_id"`
	RecipientID        string `db:"recipient_id"`
	Amount             int64  `db:"amount"`
	Fee                int64  `db:"fee"`
	Signature          []byte `db:"signature"`
	SignSignature      []byte `db:"sign_signature"`
	Signatures         string `db:"signatures"`
}

func toDBTx(tx Tx, blockID string, position int) dbTx {
	sigs := make([]string, len(tx.Signatures))
	for i, sig := range tx.Signatures {
		sigs[i] = hexutil.Encode(sig)
	}

	return dbTx{
		ID:                 tx.ID,
		BlockID:            blockID,
		Position:           position,
		Type:               int(tx.Type),
		Timestamp:          tx.Timestamp,
		SenderPublicKey:    tx.SenderPublicKey,
		RequesterPublicKey: tx.RequesterPublicKey,
		SenderID:           tx.SenderID,
		RecipientID:        tx.RecipientID,
		Amount:             tx.Amount,
		Fee:                tx.Fee,
		Signature:          tx.Signature,
		SignSignature:      tx.SignSignature,
		Signatures:         strings.Join(sigs, ","),
	}
}

func (row dbTx) toTx() (Tx, error) {
	tx := Tx{
		ID:                 row.ID,
		BlockID:            row.BlockID,
		Type:               Type(row.Type),
		Timestamp:          row.Timestamp,
		SenderPublicKey:    row.SenderPublicKey,
		RequesterPublicKey: row.RequesterPublicKey,
		SenderID:           row.SenderID,
		RecipientID:        row.RecipientID,
		Amount:             row.Amount,
		Fee:                row.Fee,
		Signature:          row.Signature,
		SignSignature:      row.SignSignature,
	}

	if row.Signatures != "" {
		for _, s := range strings.Split(row.Signatures, ",") {
			sig, err := hexutil.Decode(s)
			if err != nil {
				return Tx{}, errors.Wrapf(err, "decode signature of %s", row.ID)
			}
			tx.Signatures = append(tx.Signatures, sig)
		}
	}

	return tx, nil
}

// =============================================================================

// Save stores a confirmed transaction and its asset under the block.
func (p *Processor) Save(ctx context.Context, tx Tx, blockID string, position int) error {
	h, err := p.registry.Handler(tx.Type)
	if err != nil {
		return err
	}

	const q = `
	INSERT INTO transactions
		(id, block_id, position, type, timestamp, sender_public_key, requester_public_key,
		sender_id, recipient_id, amount, fee, signature, sign_signature, signatures)
	VALUES
		(:id, :block_id, :position, :type, :timestamp, :sender_public_key, :requester_public_key,
		:sender_id, :recipient_id, :amount, :fee, :signature, :sign_signature, :signatures)`

	ext := p.accounts.DB().Ext(ctx)

	if _, err := sqlx.NamedExecContext(ctx, ext, q, toDBTx(tx, blockID, position)); err != nil {
		return errors.Wrapf(err, "save transaction %s", tx.ID)
	}

	if err := h.DBSave(ctx, ext, tx); err != nil {
		return errors.Wrapf(err, "save asset of %s", tx.ID)
	}

	return nil
}

// QueryByBlock returns the transactions of the block in their position
// order, assets included.
func (p *Processor) QueryByBlock(ctx context.Context, blockID string) ([]Tx, error) {
	const q = `
	SELECT
		id, block_id, position, type, timestamp, sender_public_key, requester_public_key,
		sender_id, recipient_id, amount, fee, signature, sign_signature, signatures
	FROM
		transactions
	WHERE
		block_id = ?
	ORDER BY
		position`

	ext := p.accounts.DB().Ext(ctx)

	var rows []dbTx
	if err := sqlx.SelectContext(ctx, ext, &rows, q, blockID); err != nil {
		return nil, errors.Wrapf(err, "query transactions of %s", blockID)
	}

	txs := make([]Tx, 0, len(rows))
	for _, row := range rows {
		tx, err := row.toTx()
		if err != nil {
			return nil, err
		}

		h, err := p.registry.Handler(tx.Type)
		if err != nil {
			return nil, err
		}

		if err := h.DBRead(ctx, ext, &tx); err != nil {
			return nil, errors.Wrapf(err, "read asset of %s", tx.ID)
		}

		txs = append(txs, tx)
	}

	return txs, nil
}
