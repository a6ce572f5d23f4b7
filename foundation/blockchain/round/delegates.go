package round

import (
	"context"
	"crypto/sha256"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

// GenerateDelegateList returns the public keys of the delegates forging
// the round, in slot order. The top delegates by vote are taken as they
// stood when the round was settled, or as they stand now for a round not
// settled yet, and shuffled with a seed derived from the round number.
func (e *Engine) GenerateDelegateList(ctx context.Context, round int64) ([][]byte, error) {
	const q = `
	SELECT
		a.public_key
	FROM
		accounts a
	LEFT JOIN
		votes_snapshot s ON s.address = a.address AND s.round = ?
	WHERE
		a.is_delegate = 1 AND a.public_key IS NOT NULL
	ORDER BY
		COALESCE(s.vote, a.vote) DESC, a.public_key ASC
	LIMIT ?`

	var keys [][]byte
	if err := sqlx.SelectContext(ctx, e.db.Ext(ctx), &keys, q, round, e.delegates); err != nil {
		return nil, errors.Wrapf(err, "generate delegate list for round %d", round)
	}

	shuffle(keys, round)

	return keys, nil
}

// shuffle reorders the list in place. Each SHA-256 of the seed drives up
// to four swaps before it is hashed again.
func shuffle(list [][]byte, round int64) {
	seed := sha256.Sum256([]byte(strconv.FormatInt(round, 10)))

	n := len(list)
	for i := 0; i < n; i++ {
		for x := 0; x < 4 && i < n; i, x = i+1, x+1 {
			j := int(seed[x]) % n
			list[i], list[j] = list[j], list[i]
		}
		seed = sha256.Sum256(seed[:])
	}
}
