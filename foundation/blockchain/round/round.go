// Package round settles forging rounds: at the last block of every round
// it moves vote weight from the round ledger onto delegates, records the
// delegates that missed their slot and shares fees and rewards among the
// generators of the round.
package round

// Calc returns the round the height belongs to.
func Calc(height int64, delegates int) int64 {
	d := int64(delegates)
	return (height + d - 1) / d
}

// FirstHeight returns the height of the first block of the round.
func FirstHeight(round int64, delegates int) int64 {
	return (round-1)*int64(delegates) + 1
}

// LastHeight returns the height of the last block of the round.
func LastHeight(round int64, delegates int) int64 {
	return round * int64(delegates)
}

// =============================================================================

// Change is what one generator of a round receives.
type Change struct {
	Fees          int64
	FeesRemaining int64
	Rewards       int64
	Balance       int64
}

// Changes splits the fees of a round evenly among its generators. The part
// of the fees that does not divide evenly is reported as FeesRemaining and
// must be given to exactly one generator.
type Changes struct {
	fees    int64
	rewards []int64
	count   int64
}

// NewChanges constructs the changes of a round with the given total fees
// and the reward of every block, in block order.
func NewChanges(fees int64, rewards []int64) Changes {
	return Changes{
		fees:    fees,
		rewards: rewards,
		count:   int64(len(rewards)),
	}
}

// At returns the change for the generator of the i-th block.
func (c Changes) At(i int) Change {
	if c.count == 0 {
		return Change{}
	}

	share := c.fees / c.count
	remaining := c.fees - share*c.count

	var reward int64
	if i >= 0 && i < len(c.rewards) {
		reward = c.rewards[i]
	}

	return Change{
		Fees:          share,
		FeesRemaining: remaining,
		Rewards:       reward,
		Balance:       share + reward,
	}
}
