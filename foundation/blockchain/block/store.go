package block

import (
	"context"
	"database/sql"

	"github.com/ardanlabs/dpos/foundation/blockchain/database"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

// dbBlock is the row layout of the blocks table.
type dbBlock struct {
	ID                   string `db:"id"`
	Version              uint32 `db:"version"`
	Timestamp            int64  `db:"timestamp"`
	Height               int64  `db:"height"`
	PreviousBlock        string `db:"previous_block"`
	NumberOfTransactions int    `db:"number_of_transactions"`
	TotalAmount          int64  `db:"total_amount"`
	TotalFee             int64  `db:"total_fee"`
	Reward               int64  `db:"reward"`
	PayloadLength        int    `db:"payload_length"`
	PayloadHash          []byte `db:"payload_hash"`
	GeneratorPublicKey   []byte `db:"generator_public_key"`
	BlockSignature       []byte `db:"block_signature"`
}

func toDBBlock(b Block) dbBlock {
	return dbBlock{
		ID:                   b.ID,
		Version:              b.Version,
		Timestamp:            b.Timestamp,
		Height:               b.Height,
		PreviousBlock:        b.PreviousBlock,
		NumberOfTransactions: b.NumberOfTransactions,
		TotalAmount:          b.TotalAmount,
		TotalFee:             b.TotalFee,
		Reward:               b.Reward,
		PayloadLength:        b.PayloadLength,
		PayloadHash:          b.PayloadHash,
		GeneratorPublicKey:   b.GeneratorPublicKey,
		BlockSignature:       b.BlockSignature,
	}
}

func (row dbBlock) toBlock() Block {
	return Block{
		ID:                   row.ID,
		Version:              row.Version,
		Timestamp:            row.Timestamp,
		Height:               row.Height,
		PreviousBlock:        row.PreviousBlock,
		NumberOfTransactions: row.NumberOfTransactions,
		TotalAmount:          row.TotalAmount,
		TotalFee:             row.TotalFee,
		Reward:               row.Reward,
		PayloadLength:        row.PayloadLength,
		PayloadHash:          row.PayloadHash,
		GeneratorPublicKey:   row.GeneratorPublicKey,
		BlockSignature:       row.BlockSignature,
	}
}

const selectBlocks = `
	SELECT
		id, version, timestamp, height, previous_block, number_of_transactions,
		total_amount, total_fee, reward, payload_length, payload_hash,
		generator_public_key, block_signature
	FROM
		blocks`

// =============================================================================

// Store persists blocks and their transactions.
type Store struct {
	db   *database.DB
	proc *transaction.Processor
}

// NewStore constructs a block store.
func NewStore(db *database.DB, proc *transaction.Processor) *Store {
	return &Store{
		db:   db,
		proc: proc,
	}
}

// Save stores the block and its transactions in one atomic scope.
func (s *Store) Save(ctx context.Context, b Block) error {
	return s.db.Atomic(ctx, "save block", func(ctx context.Context) error {
		const q = `
		INSERT INTO blocks
			(id, version, timestamp, height, previous_block, number_of_transactions,
			total_amount, total_fee, reward, payload_length, payload_hash,
			generator_public_key, block_signature)
		VALUES
			(:id, :version, :timestamp, :height, :previous_block, :number_of_transactions,
			:total_amount, :total_fee, :reward, :payload_length, :payload_hash,
			:generator_public_key, :block_signature)`

		if _, err := sqlx.NamedExecContext(ctx, s.db.Ext(ctx), q, toDBBlock(b)); err != nil {
			return errors.Wrapf(err, "save block %s", b.ID)
		}

		for i, tx := range b.Transactions {
			if err := s.proc.Save(ctx, tx, b.ID, i); err != nil {
				return err
			}
		}

		return nil
	})
}

// Delete removes the block. Its transactions and their assets go with it.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.Ext(ctx).ExecContext(ctx, "DELETE FROM blocks WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "delete block %s", id)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return errors.Wrapf(ErrNotFound, "delete block %s", id)
	}
	return nil
}

// Latest returns the block at the tip of the chain with its transactions.
func (s *Store) Latest(ctx context.Context) (Block, error) {
	return s.one(ctx, selectBlocks+" ORDER BY height DESC LIMIT 1")
}

// ByID returns the block with its transactions.
func (s *Store) ByID(ctx context.Context, id string) (Block, error) {
	return s.one(ctx, selectBlocks+" WHERE id = ?", id)
}

// ByHeight returns the block at the height with its transactions.
func (s *Store) ByHeight(ctx context.Context, height int64) (Block, error) {
	return s.one(ctx, selectBlocks+" WHERE height = ?", height)
}

// Headers returns the blocks between both heights inclusive, in height
// order, without their transactions.
func (s *Store) Headers(ctx context.Context, from int64, to int64) ([]Block, error) {
	var rows []dbBlock
	q := selectBlocks + " WHERE height BETWEEN ? AND ? ORDER BY height"
	if err := sqlx.SelectContext(ctx, s.db.Ext(ctx), &rows, q, from, to); err != nil {
		return nil, errors.Wrapf(err, "query blocks %d to %d", from, to)
	}

	blocks := make([]Block, len(rows))
	for i, row := range rows {
		blocks[i] = row.toBlock()
	}

	return blocks, nil
}

// Count returns the number of stored blocks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.Ext(ctx).QueryRowxContext(ctx, "SELECT COUNT(*) FROM blocks").Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count blocks")
	}
	return n, nil
}

func (s *Store) one(ctx context.Context, q string, args ...any) (Block, error) {
	var row dbBlock
	if err := sqlx.GetContext(ctx, s.db.Ext(ctx), &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Block{}, ErrNotFound
		}
		return Block{}, errors.Wrap(err, "query block")
	}

	b := row.toBlock()

	txs, err := s.proc.QueryByBlock(ctx, b.ID)
	if err != nil {
		return Block{}, err
	}
	b.Transactions = txs

	return b, nil
}
