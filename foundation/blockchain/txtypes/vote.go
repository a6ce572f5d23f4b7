package txtypes

import (
	"context"
	"database/sql"
	"regexp"
	"slices"
	"strings"

	"github.com/ardanlabs/dpos/foundation/blockchain/accounts"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/ardanlabs/dpos/foundation/validate"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

var _ transaction.Handler = (*Vote)(nil)

var voteRE = regexp.MustCompile(`^[-+][0-9a-f]{64}$`)

// Vote adds and removes votes of the sender for delegates. A vote is the
// delegate's public key in hex prefixed by + or -.
type Vote struct {
	base
	fee           int64
	exceptions    []string
	maxVotes      int
	maxVotesPerTx int
}

// CalculateFee implements transaction.Handler.
func (h *Vote) CalculateFee(tx transaction.Tx) int64 {
	return h.fee
}

// Create implements transaction.Handler. Votes are sent to self.
func (h *Vote) Create(tx *transaction.Tx, args transaction.CreateArgs) error {
	tx.RecipientID = accounts.AddressFromPublicKey(args.Sender.PublicKey)
	tx.Asset.Vote = &transaction.VoteAsset{Votes: args.Votes}
	return nil
}

// Verify implements transaction.Handler.
func (h *Vote) Verify(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	if tx.RecipientID != sender.Address {
		return errors.Wrap(transaction.ErrInvalidRecipient, "vote must be sent to self")
	}
	if tx.Amount != 0 {
		return errors.Wrap(transaction.ErrInvalidAmount, "vote carries an amount")
	}
	if tx.Asset.Vote == nil {
		return errors.Wrap(transaction.ErrInvalidAsset, "missing vote asset")
	}

	votes := tx.Asset.Vote.Votes
	if len(votes) == 0 || len(votes) > h.maxVotesPerTx {
		return errors.Wrapf(transaction.ErrInvalidAsset, "%d votes, allowed 1 to %d", len(votes), h.maxVotesPerTx)
	}

	seen := make(map[string]struct{}, len(votes))
	for _, v := range votes {
		if !voteRE.MatchString(v) {
			return errors.Wrapf(transaction.ErrInvalidAsset, "invalid vote %q", v)
		}

		key := v[1:]
		if _, exists := seen[key]; exists && !slices.Contains(h.exceptions, tx.ID) {
			return errors.Wrapf(ErrDuplicateVote, "%s", key)
		}
		seen[key] = struct{}{}
	}

	return h.checkDelegates(ctx, votes, sender.Delegates)
}

// checkDelegates checks the votes against the current votes of the
// sender: a delegate can only be added once and removed when voted for.
func (h *Vote) checkDelegates(ctx context.Context, votes []string, current []string) error {
	total := len(current)

	for _, v := range votes {
		key := v[1:]
		voted := slices.Contains(current, key)

		switch v[0] {
		case '+':
			if voted {
				return errors.Wrapf(transaction.ErrInvalidAsset, "already voted for delegate %s", key)
			}
			total++
		case '-':
			if !voted {
				return errors.Wrapf(transaction.ErrInvalidAsset, "not voted for delegate %s", key)
			}
			total--
		}

		publicKey, err := signature.DecodePublicKey(key)
		if err != nil {
			return errors.Wrapf(transaction.ErrInvalidAsset, "vote %q: %s", v, err)
		}

		delegate, err := h.accounts.Get(ctx, accounts.Filter{PublicKey: publicKey})
		if err != nil {
			if errors.Is(err, accounts.ErrNotFound) {
				return errors.Wrapf(transaction.ErrInvalidAsset, "delegate %s not found", key)
			}
			return err
		}
		if !delegate.IsDelegate {
			return errors.Wrapf(transaction.ErrInvalidAsset, "%s is not a delegate", key)
		}
	}

	if total > h.maxVotes {
		return errors.Wrapf(ErrVoteLimit, "%d votes, allowed %d", total, h.maxVotes)
	}

	return nil
}

// GetBytes implements transaction.Handler.
func (h *Vote) GetBytes(tx transaction.Tx) ([]byte, error) {
	if tx.Asset.Vote == nil {
		return nil, errors.New("missing vote asset")
	}
	return []byte(strings.Join(tx.Asset.Vote.Votes, "")), nil
}

// ObjectNormalize implements transaction.Handler.
func (h *Vote) ObjectNormalize(tx *transaction.Tx) error {
	if err := onlyAsset(*tx, tx.Asset.Vote != nil); err != nil {
		return err
	}
	return validate.Check(tx.Asset.Vote)
}

// Apply moves the confirmed votes of the sender.
func (h *Vote) Apply(ctx context.Context, tx transaction.Tx, blk transaction.BlockRef, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, blk, voteOps(accounts.Delegates, tx.Asset.Vote.Votes, false)...)
}

// Undo reverts the confirmed votes of the sender.
func (h *Vote) Undo(ctx context.Context, tx transaction.Tx, blk transaction.BlockRef, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, blk, voteOps(accounts.Delegates, tx.Asset.Vote.Votes, true)...)
}

// ApplyUnconfirmed moves the pending votes of the sender.
func (h *Vote) ApplyUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	if err := h.checkDelegates(ctx, tx.Asset.Vote.Votes, sender.UDelegates); err != nil {
		return err
	}
	return h.merge(ctx, sender.Address, transaction.BlockRef{}, voteOps(accounts.UDelegates, tx.Asset.Vote.Votes, false)...)
}

// UndoUnconfirmed reverts the pending votes of the sender.
func (h *Vote) UndoUnconfirmed(ctx context.Context, tx transaction.Tx, sender accounts.Account) error {
	return h.merge(ctx, sender.Address, transaction.BlockRef{}, voteOps(accounts.UDelegates, tx.Asset.Vote.Votes, true)...)
}

// voteOps converts votes into membership ops. The inverse runs the votes
// backwards with each op inverted.
func voteOps(m accounts.Membership, votes []string, inverse bool) []accounts.Op {
	ops := make([]accounts.Op, 0, len(votes))
	for _, v := range votes {
		op := accounts.MembershipAdd(m, v[1:])
		if v[0] == '-' {
			op = accounts.MembershipRemove(m, v[1:])
		}
		ops = append(ops, op)
	}

	if inverse {
		slices.Reverse(ops)
		for i := range ops {
			ops[i] = ops[i].Inverse()
		}
	}

	return ops
}

// DBSave implements transaction.Handler.
func (h *Vote) DBSave(ctx context.Context, e sqlx.ExecerContext, tx transaction.Tx) error {
	const q = `INSERT INTO tx_votes (transaction_id, votes) VALUES (?, ?)`
	_, err := e.ExecContext(ctx, q, tx.ID, strings.Join(tx.Asset.Vote.Votes, ","))
	return err
}

// DBRead implements transaction.Handler.
func (h *Vote) DBRead(ctx context.Context, q sqlx.QueryerContext, tx *transaction.Tx) error {
	var votes string
	if err := q.QueryRowxContext(ctx, `SELECT votes FROM tx_votes WHERE transaction_id = ?`, tx.ID).Scan(&votes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Newf("missing vote asset of %s", tx.ID)
		}
		return err
	}

	tx.Asset.Vote = &transaction.VoteAsset{Votes: strings.Split(votes, ",")}
	return nil
}
