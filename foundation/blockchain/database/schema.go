package database

// schema holds the statements creating the ledger tables. Boolean columns
// hold 0 or 1, public keys and signatures are blobs, membership lists keep
// the hex public key (or address for contacts) of the member.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		address             TEXT    PRIMARY KEY,
		public_key          BLOB,
		second_public_key   BLOB,
		second_signature    INTEGER NOT NULL DEFAULT 0,
		u_second_signature  INTEGER NOT NULL DEFAULT 0,
		balance             INTEGER NOT NULL DEFAULT 0,
		u_balance           INTEGER NOT NULL DEFAULT 0,
		is_delegate         INTEGER NOT NULL DEFAULT 0,
		u_is_delegate       INTEGER NOT NULL DEFAULT 0,
		username            TEXT    NOT NULL DEFAULT '',
		u_username          TEXT    NOT NULL DEFAULT '',
		vote                INTEGER NOT NULL DEFAULT 0,
		multimin            INTEGER NOT NULL DEFAULT 0,
		u_multimin          INTEGER NOT NULL DEFAULT 0,
		multilifetime       INTEGER NOT NULL DEFAULT 0,
		u_multilifetime     INTEGER NOT NULL DEFAULT 0,
		produced_blocks     INTEGER NOT NULL DEFAULT 0,
		missed_blocks       INTEGER NOT NULL DEFAULT 0,
		fees                INTEGER NOT NULL DEFAULT 0,
		rewards             INTEGER NOT NULL DEFAULT 0,
		block_id            TEXT    NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS accounts_public_key ON accounts (public_key)`,
	`CREATE INDEX IF NOT EXISTS accounts_username ON accounts (username)`,

	`CREATE TABLE IF NOT EXISTS account_delegates (
		account_id   TEXT NOT NULL REFERENCES accounts (address) ON DELETE CASCADE,
		dependent_id TEXT NOT NULL,
		UNIQUE (account_id, dependent_id)
	)`,
	`CREATE TABLE IF NOT EXISTS account_u_delegates (
		account_id   TEXT NOT NULL REFERENCES accounts (address) ON DELETE CASCADE,
		dependent_id TEXT NOT NULL,
		UNIQUE (account_id, dependent_id)
	)`,
	`CREATE TABLE IF NOT EXISTS account_contacts (
		account_id   TEXT NOT NULL REFERENCES accounts (address) ON DELETE CASCADE,
		dependent_id TEXT NOT NULL,
		UNIQUE (account_id, dependent_id)
	)`,
	`CREATE TABLE IF NOT EXISTS account_u_contacts (
		account_id   TEXT NOT NULL REFERENCES accounts (address) ON DELETE CASCADE,
		dependent_id TEXT NOT NULL,
		UNIQUE (account_id, dependent_id)
	)`,
	`CREATE TABLE IF NOT EXISTS account_multisignatures (
		account_id   TEXT NOT NULL REFERENCES accounts (address) ON DELETE CASCADE,
		dependent_id TEXT NOT NULL,
		UNIQUE (account_id, dependent_id)
	)`,
	`CREATE TABLE IF NOT EXISTS account_u_multisignatures (
		account_id   TEXT NOT NULL REFERENCES accounts (address) ON DELETE CASCADE,
		dependent_id TEXT NOT NULL,
		UNIQUE (account_id, dependent_id)
	)`,

	`CREATE TABLE IF NOT EXISTS round_ledger (
		address  TEXT    NOT NULL,
		amount   INTEGER NOT NULL,
		delegate TEXT    NOT NULL,
		block_id TEXT    NOT NULL,
		round    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS round_ledger_round ON round_ledger (round)`,
	`CREATE TABLE IF NOT EXISTS round_ledger_snapshot (
		address  TEXT    NOT NULL,
		amount   INTEGER NOT NULL,
		delegate TEXT    NOT NULL,
		block_id TEXT    NOT NULL,
		round    INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS round_snapshots (
		round INTEGER PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS votes_snapshot (
		round   INTEGER NOT NULL,
		address TEXT    NOT NULL,
		vote    INTEGER NOT NULL,
		PRIMARY KEY (round, address)
	)`,

	`CREATE TABLE IF NOT EXISTS blocks (
		id                     TEXT    PRIMARY KEY,
		version                INTEGER NOT NULL,
		timestamp              INTEGER NOT NULL,
		height                 INTEGER NOT NULL UNIQUE,
		previous_block         TEXT    NOT NULL DEFAULT '',
		number_of_transactions INTEGER NOT NULL,
		total_amount           INTEGER NOT NULL,
		total_fee              INTEGER NOT NULL,
		reward                 INTEGER NOT NULL,
		payload_length         INTEGER NOT NULL,
		payload_hash           BLOB    NOT NULL,
		generator_public_key   BLOB    NOT NULL,
		block_signature        BLOB
	)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id                   TEXT    PRIMARY KEY,
		block_id             TEXT    NOT NULL REFERENCES blocks (id) ON DELETE CASCADE,
		position             INTEGER NOT NULL,
		type                 INTEGER NOT NULL,
		timestamp            INTEGER NOT NULL,
		sender_public_key    BLOB    NOT NULL,
		requester_public_key BLOB,
		sender_id            TEXT    NOT NULL,
		recipient_id         TEXT    NOT NULL DEFAULT '',
		amount               INTEGER NOT NULL,
		fee                  INTEGER NOT NULL,
		signature            BLOB,
		sign_signature       BLOB,
		signatures           TEXT    NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_block_id ON transactions (block_id)`,

	`CREATE TABLE IF NOT EXISTS tx_signatures (
		transaction_id TEXT PRIMARY KEY REFERENCES transactions (id) ON DELETE CASCADE,
		public_key     BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tx_delegates (
		transaction_id TEXT PRIMARY KEY REFERENCES transactions (id) ON DELETE CASCADE,
		username       TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tx_votes (
		transaction_id TEXT PRIMARY KEY REFERENCES transactions (id) ON DELETE CASCADE,
		votes          TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tx_usernames (
		transaction_id TEXT PRIMARY KEY REFERENCES transactions (id) ON DELETE CASCADE,
		alias          TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tx_contacts (
		transaction_id TEXT PRIMARY KEY REFERENCES transactions (id) ON DELETE CASCADE,
		address        TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tx_multisignatures (
		transaction_id TEXT    PRIMARY KEY REFERENCES transactions (id) ON DELETE CASCADE,
		min            INTEGER NOT NULL,
		lifetime       INTEGER NOT NULL,
		keysgroup      TEXT    NOT NULL
	)`,
}

// resetOrder lists the tables Reset clears, children first.
var resetOrder = []string{
	"tx_signatures",
	"tx_delegates",
	"tx_votes",
	"tx_usernames",
	"tx_contacts",
	"tx_multisignatures",
	"transactions",
	"blocks",
	"round_ledger",
	"round_ledger_snapshot",
	"votes_snapshot",
	"round_snapshots",
	"account_delegates",
	"account_u_delegates",
	"account_contacts",
	"account_u_contacts",
	"account_multisignatures",
	"account_u_multisignatures",
	"accounts",
}
