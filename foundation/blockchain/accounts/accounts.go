// Package accounts owns the ledger account records. It is the only package
// that writes balances, delegate and vote state, and every write goes
// through a Diff merged inside an atomic scope.
package accounts

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/ardanlabs/dpos/foundation/blockchain/database"
	"github.com/ardanlabs/dpos/foundation/blockchain/signature"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jmoiron/sqlx"
)

// Set of error variables for the account store.
var (
	ErrNotFound     = errors.New("account not found")
	ErrInvalidDelta = errors.New("invalid delta")
)

// Account is the ledger record of an address. Fields prefixed with U hold
// the unconfirmed view, updated when transactions enter the pool.
type Account struct {
	Address          string        `db:"address" json:"address"`
	PublicKey        hexutil.Bytes `db:"public_key" json:"public_key,omitempty"`
	SecondPublicKey  hexutil.Bytes `db:"second_public_key" json:"second_public_key,omitempty"`
	SecondSignature  bool          `db:"second_signature" json:"second_signature"`
	USecondSignature bool          `db:"u_second_signature" json:"u_second_signature"`
	Balance          int64         `db:"balance" json:"balance"`
	UBalance         int64         `db:"u_balance" json:"u_balance"`
	IsDelegate       bool          `db:"is_delegate" json:"is_delegate"`
	UIsDelegate      bool          `db:"u_is_delegate" json:"u_is_delegate"`
	Username         string        `db:"username" json:"username,omitempty"`
	UUsername        string        `db:"u_username" json:"u_username,omitempty"`
	Vote             int64         `db:"vote" json:"vote"`
	Multimin         int64         `db:"multimin" json:"multimin"`
	UMultimin        int64         `db:"u_multimin" json:"u_multimin"`
	Multilifetime    int64         `db:"multilifetime" json:"multilifetime"`
	UMultilifetime   int64         `db:"u_multilifetime" json:"u_multilifetime"`
	ProducedBlocks   int64         `db:"produced_blocks" json:"produced_blocks"`
	MissedBlocks     int64         `db:"missed_blocks" json:"missed_blocks"`
	Fees             int64         `db:"fees" json:"fees"`
	Rewards          int64         `db:"rewards" json:"rewards"`
	BlockID          string        `db:"block_id" json:"block_id,omitempty"`

	Delegates        []string `db:"-" json:"delegates"`
	UDelegates       []string `db:"-" json:"u_delegates"`
	Contacts         []string `db:"-" json:"contacts"`
	UContacts        []string `db:"-" json:"u_contacts"`
	Multisignatures  []string `db:"-" json:"multisignatures"`
	UMultisignatures []string `db:"-" json:"u_multisignatures"`
}

// Exists reports whether the account was loaded from the store.
func (a Account) Exists() bool {
	return a.Address != ""
}

// IsMultisignature reports whether the confirmed account requires
// co-signatures.
func (a Account) IsMultisignature() bool {
	return len(a.Multisignatures) > 0
}

// Filter selects accounts. Zero fields do not constrain the result.
type Filter struct {
	Address    string
	Addresses  []string
	PublicKey  []byte
	Username   string
	UUsername  string
	IsDelegate bool
}

// =============================================================================

// AddressFromPublicKey returns the ledger address of a public key: the first
// eight bytes of its SHA-256 read in reverse, as a decimal, suffixed by L.
func AddressFromPublicKey(publicKey []byte) string {
	hash := sha256.Sum256(publicKey)
	return signature.IDFromHash(hash) + "L"
}

// AddressNumber returns the numeric part of an address.
func AddressNumber(address string) (uint64, error) {
	if !strings.HasSuffix(address, "L") {
		return 0, errors.Newf("invalid address %q", address)
	}

	n, err := strconv.ParseUint(strings.TrimSuffix(address, "L"), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid address %q", address)
	}

	return n, nil
}

// =============================================================================

// Store manages the set of accounts in the ledger.
type Store struct {
	db *database.DB
}

// NewStore constructs a store over the ledger database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// DB returns the database the store writes to.
func (s *Store) DB() *database.DB {
	return s.db
}

const selectAccounts = `
	SELECT
		address, COALESCE(public_key, X'') AS public_key,
		COALESCE(second_public_key, X'') AS second_public_key, second_signature, u_second_signature,
		balance, u_balance, is_delegate, u_is_delegate, username, u_username, vote,
		multimin, u_multimin, multilifetime, u_multilifetime, produced_blocks,
		missed_blocks, fees, rewards, block_id
	FROM accounts`

// Get returns the single account matching the filter.
func (s *Store) Get(ctx context.Context, filter Filter) (Account, error) {
	accounts, err := s.query(ctx, filter, 1)
	if err != nil {
		return Account{}, err
	}

	if len(accounts) == 0 {
		return Account{}, ErrNotFound
	}

	return accounts[0], nil
}

// GetAll returns every account matching the filter, ordered by address.
func (s *Store) GetAll(ctx context.Context, filter Filter) ([]Account, error) {
	return s.query(ctx, filter, 0)
}

// SetAccountAndGet makes sure the account owning the public key exists and
// knows its public key, then returns it.
func (s *Store) SetAccountAndGet(ctx context.Context, publicKey []byte) (Account, error) {
	if len(publicKey) != signature.PublicKeySize {
		return Account{}, errors.Newf("invalid public key length %d", len(publicKey))
	}

	address := AddressFromPublicKey(publicKey)

	var acc Account
	err := s.db.Atomic(ctx, "set account", func(ctx context.Context) error {
		ext := s.db.Ext(ctx)

		const q = `
		INSERT INTO accounts (address, public_key) VALUES (?, ?)
		ON CONFLICT (address) DO UPDATE SET public_key = excluded.public_key
		WHERE accounts.public_key IS NULL`

		if _, err := ext.ExecContext(ctx, q, address, publicKey); err != nil {
			return errors.Wrapf(err, "set account %s", address)
		}

		var err error
		acc, err = s.Get(ctx, Filter{Address: address})
		return err
	})

	return acc, err
}

// Fields holds column values written by Upsert.
type Fields map[Field]any

// Upsert creates the account if needed and writes the fields.
func (s *Store) Upsert(ctx context.Context, address string, fields Fields) error {
	ops := make([]Op, 0, len(fields))
	for f, v := range fields {
		ops = append(ops, SetField(f, v))
	}

	_, err := s.Merge(ctx, address, Diff{Ops: ops})
	return err
}

// Remove deletes the account and its membership rows.
func (s *Store) Remove(ctx context.Context, address string) error {
	_, err := s.db.Ext(ctx).ExecContext(ctx, "DELETE FROM accounts WHERE address = ?", address)
	return errors.Wrapf(err, "remove %s", address)
}

// =============================================================================

// query loads the accounts matching the filter along with their
// membership lists.
func (s *Store) query(ctx context.Context, filter Filter, limit int) ([]Account, error) {
	var where []string
	var args []any

	if filter.Address != "" {
		where = append(where, "address = ?")
		args = append(args, filter.Address)
	}
	if len(filter.Addresses) > 0 {
		where = append(where, "address IN (?)")
		args = append(args, filter.Addresses)
	}
	if len(filter.PublicKey) > 0 {
		where = append(where, "public_key = ?")
		args = append(args, filter.PublicKey)
	}
	if filter.Username != "" {
		where = append(where, "username = ?")
		args = append(args, filter.Username)
	}
	if filter.UUsername != "" {
		where = append(where, "u_username = ?")
		args = append(args, filter.UUsername)
	}
	if filter.IsDelegate {
		where = append(where, "is_delegate = 1")
	}

	q := selectAccounts
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY address"
	if limit > 0 {
		q += " LIMIT " + strconv.Itoa(limit)
	}

	ext := s.db.Ext(ctx)

	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query accounts")
	}

	var accounts []Account
	if err := sqlx.SelectContext(ctx, ext, &accounts, ext.Rebind(q), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "query accounts")
	}

	if len(accounts) == 0 {
		return nil, nil
	}

	if err := s.loadMemberships(ctx, ext, accounts); err != nil {
		return nil, err
	}

	return accounts, nil
}

// loadMemberships fills the membership lists of the accounts with one
// query per membership table.
func (s *Store) loadMemberships(ctx context.Context, ext sqlx.ExtContext, accounts []Account) error {
	index := make(map[string]int, len(accounts))
	addresses := make([]string, len(accounts))
	for i, acc := range accounts {
		index[acc.Address] = i
		addresses[i] = acc.Address
	}

	for _, m := range memberships {
		q, args, err := sqlx.In("SELECT account_id, dependent_id FROM "+m.table()+" WHERE account_id IN (?) ORDER BY rowid", addresses)
		if err != nil {
			return errors.Wrapf(err, "load %s", m)
		}

		var rows []struct {
			AccountID   string `db:"account_id"`
			DependentID string `db:"dependent_id"`
		}
		if err := sqlx.SelectContext(ctx, ext, &rows, ext.Rebind(q), args...); err != nil {
			return errors.Wrapf(err, "load %s", m)
		}

		for _, row := range rows {
			acc := &accounts[index[row.AccountID]]
			list := m.list(acc)
			*list = append(*list, row.DependentID)
		}
	}

	return nil
}

// PublicKeyHex renders a public key the way membership lists store it.
func PublicKeyHex(publicKey []byte) string {
	return hex.EncodeToString(publicKey)
}
