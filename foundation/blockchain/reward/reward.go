// Package reward implements the milestone based block reward schedule and
// the circulating supply it implies.
package reward

// Schedule describes how the block reward changes with height. The reward
// is zero below Offset, then steps through Milestones every Distance blocks
// and stays on the last milestone forever.
type Schedule struct {
	Milestones  []int64
	Offset      int64
	Distance    int64
	TotalAmount int64
}

// CalcMilestone returns the index of the milestone in effect at the height.
func (s Schedule) CalcMilestone(height int64) int {
	if len(s.Milestones) == 0 || s.Distance <= 0 {
		return 0
	}

	location := (height - s.Offset) / s.Distance
	lastMile := int64(len(s.Milestones) - 1)

	switch {
	case location < 0:
		return 0
	case location > lastMile:
		return int(lastMile)
	}

	return int(location)
}

// CalcReward returns the reward for forging a block at the height.
func (s Schedule) CalcReward(height int64) int64 {
	if height < s.Offset || len(s.Milestones) == 0 {
		return 0
	}

	return s.Milestones[s.CalcMilestone(height)]
}

// CalcSupply returns the total supply once the block at the height has
// been forged.
func (s Schedule) CalcSupply(height int64) int64 {
	supply := s.TotalAmount
	if height < s.Offset || len(s.Milestones) == 0 || s.Distance <= 0 {
		return supply
	}

	milestone := s.CalcMilestone(height)
	last := len(s.Milestones) - 1

	// Number of rewarded blocks, counting the offset block itself.
	remaining := height - s.Offset + 1

	for i := 0; i <= milestone; i++ {
		var amount int64

		if remaining < s.Distance {
			amount = remaining % s.Distance
		} else {
			amount = s.Distance
			remaining -= s.Distance

			if remaining > 0 && i == last {
				amount += remaining
			}
		}

		supply += amount * s.Milestones[i]
	}

	return supply
}
