package block

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"slices"
	"time"

	"github.com/ardanlabs/dpos/foundation/blockchain/reward"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/ardanlabs/dpos/foundation/blockchain/slots"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ardanlabs/dpos/foundation/validate"
	"github.com/cockroachdb/errors"
)

// Config represents the configuration required to assemble and validate
// blocks.
type Config struct {
	Processor        *transaction.Processor
	Schedule         reward.Schedule
	Slots            slots.Slots
	MaxPayloadLength int
	MaxTxsPerBlock   int
	Now              func() time.Time
}

// Assembler builds and validates blocks.
type Assembler struct {
	proc             *transaction.Processor
	schedule         reward.Schedule
	slots            slots.Slots
	maxPayloadLength int
	maxTxsPerBlock   int
	now              func() time.Time
}

// NewAssembler constructs an assembler for the configuration.
func NewAssembler(cfg Config) *Assembler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Assembler{
		proc:             cfg.Processor,
		schedule:         cfg.Schedule,
		slots:            cfg.Slots,
		maxPayloadLength: cfg.MaxPayloadLength,
		maxTxsPerBlock:   cfg.MaxTxsPerBlock,
		now:              now,
	}
}

// CreateArgs carries the inputs of a new block.
type CreateArgs struct {
	Previous     Block
	Transactions []transaction.Tx
	Timestamp    int64
	Keypair      signature.Keypair
}

// Create builds and signs the block following the previous one. The
// candidates are ordered by type then amount, keeping their input order on
// ties, and included while the payload stays within its limits.
func (a *Assembler) Create(args CreateArgs) (Block, error) {
	txs := slices.Clone(args.Transactions)
	slices.SortStableFunc(txs, func(x, y transaction.Tx) int {
		if c := cmp.Compare(x.Type, y.Type); c != 0 {
			return c
		}
		return cmp.Compare(x.Amount, y.Amount)
	})

	payload := sha256.New()
	var size int
	var totalAmount, totalFee int64
	included := make([]transaction.Tx, 0, min(len(txs), a.maxTxsPerBlock))

	for _, tx := range txs {
		if len(included) == a.maxTxsPerBlock {
			break
		}

		data, err := a.proc.GetBytes(tx, false, false)
		if err != nil {
			return Block{}, errors.Wrapf(err, "encode %s", tx.ID)
		}

		if size+len(data) > a.maxPayloadLength {
			break
		}

		size += len(data)
		payload.Write(data)
		totalAmount += tx.Amount
		totalFee += tx.Fee
		included = append(included, tx)
	}

	height := args.Previous.Height + 1

	b := Block{
		Version:              Version,
		Timestamp:            args.Timestamp,
		Height:               height,
		PreviousBlock:        args.Previous.ID,
		NumberOfTransactions: len(included),
		TotalAmount:          totalAmount,
		TotalFee:             totalFee,
		Reward:               a.schedule.CalcReward(height),
		PayloadLength:        size,
		PayloadHash:          payload.Sum(nil),
		GeneratorPublicKey:   []byte(args.Keypair.PublicKey),
		Transactions:         included,
	}

	sig, err := Sign(b, args.Keypair)
	if err != nil {
		return Block{}, err
	}
	b.BlockSignature = sig

	if b.ID, err = GetID(b); err != nil {
		return Block{}, err
	}

	return b, nil
}

// Normalize checks the block schema and every transaction it carries.
func (a *Assembler) Normalize(b *Block) error {
	if err := validate.Check(b); err != nil {
		return errors.Wrap(err, "normalize block")
	}

	for i := range b.Transactions {
		if err := a.proc.Normalize(&b.Transactions[i]); err != nil {
			return errors.Wrapf(err, "normalize transaction %d", i)
		}
	}

	return nil
}

// Verify checks the block against the previous block and returns every
// violation found.
func (a *Assembler) Verify(b Block, prev Block) error {
	var errs error
	fail := func(err error, format string, args ...any) {
		errs = errors.CombineErrors(errs, errors.Wrapf(err, format, args...))
	}

	if b.Version != Version {
		fail(ErrVersion, "%d", b.Version)
	}

	if b.PreviousBlock != prev.ID {
		fail(ErrPreviousBlock, "got %q, expected %q", b.PreviousBlock, prev.ID)
	}
	if b.Height != prev.Height+1 {
		fail(ErrHeight, "got %d, expected %d", b.Height, prev.Height+1)
	}

	if expected := a.schedule.CalcReward(b.Height); b.Reward != expected {
		fail(ErrReward, "got %d, expected %d", b.Reward, expected)
	}

	ok, err := VerifySignature(b)
	switch {
	case err != nil:
		fail(ErrSignature, "%s", err)
	case !ok:
		fail(ErrSignature, "%s", b.ID)
	}

	if id, err := GetID(b); err != nil || id != b.ID {
		fail(ErrID, "got %s, computed %s", b.ID, id)
	}

	if b.PayloadLength > a.maxPayloadLength {
		fail(ErrPayload, "length %d above %d", b.PayloadLength, a.maxPayloadLength)
	}
	if len(b.Transactions) != b.NumberOfTransactions {
		fail(ErrPayload, "carries %d transactions, header says %d", len(b.Transactions), b.NumberOfTransactions)
	}
	if len(b.Transactions) > a.maxTxsPerBlock {
		fail(ErrPayload, "%d transactions above %d", len(b.Transactions), a.maxTxsPerBlock)
	}

	payload := sha256.New()
	var size int
	var totalAmount, totalFee int64
	seen := make(map[string]struct{}, len(b.Transactions))

	for _, tx := range b.Transactions {
		if _, exists := seen[tx.ID]; exists {
			fail(ErrDuplicateTx, "%s", tx.ID)
		}
		seen[tx.ID] = struct{}{}

		data, err := a.proc.GetBytes(tx, false, false)
		if err != nil {
			fail(ErrPayload, "encode %s: %s", tx.ID, err)
			continue
		}

		size += len(data)
		payload.Write(data)
		totalAmount += tx.Amount
		totalFee += tx.Fee
	}

	if size != b.PayloadLength {
		fail(ErrPayload, "length %d, header says %d", size, b.PayloadLength)
	}
	if hash := payload.Sum(nil); !bytes.Equal(hash, b.PayloadHash) {
		fail(ErrPayload, "payload hash mismatch")
	}
	if totalAmount != b.TotalAmount || totalFee != b.TotalFee {
		fail(ErrTotals, "amount %d fee %d, header says %d and %d", totalAmount, totalFee, b.TotalAmount, b.TotalFee)
	}

	if a.slots.SlotNumber(b.Timestamp) <= a.slots.SlotNumber(prev.Timestamp) {
		fail(ErrTimestamp, "slot %d not after previous slot %d", a.slots.SlotNumber(b.Timestamp), a.slots.SlotNumber(prev.Timestamp))
	}
	if a.slots.SlotNumber(b.Timestamp) > a.slots.CurrentSlot(a.now()) {
		fail(ErrTimestamp, "slot %d is in the future", a.slots.SlotNumber(b.Timestamp))
	}

	return errs
}
