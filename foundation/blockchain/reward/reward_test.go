package reward_test

import (
	"testing"

	"github.com/ardanlabs/dpos/foundation/blockchain/reward"
	"github.com/stretchr/testify/require"
)

func network() reward.Schedule {
	return reward.Schedule{
		Milestones:  []int64{500000000, 400000000, 300000000, 200000000, 100000000},
		Offset:      1451520,
		Distance:    3000000,
		TotalAmount: 10000000000000000,
	}
}

func TestCalcMilestone(t *testing.T) {
	s := network()

	require.Equal(t, 0, s.CalcMilestone(1))
	require.Equal(t, 0, s.CalcMilestone(1451520))
	require.Equal(t, 0, s.CalcMilestone(1451520+2999999))
	require.Equal(t, 1, s.CalcMilestone(1451520+3000000))
	require.Equal(t, 4, s.CalcMilestone(1451520+4*3000000))
	require.Equal(t, 4, s.CalcMilestone(1451520+40*3000000))
}

func TestCalcReward(t *testing.T) {
	s := network()

	tt := []struct {
		height int64
		reward int64
	}{
		{1, 0},
		{1451519, 0},
		{1451520, 500000000},
		{1451520 + 2999999, 500000000},
		{1451520 + 3000000, 400000000},
		{1451520 + 2*3000000, 300000000},
		{1451520 + 3*3000000, 200000000},
		{1451520 + 4*3000000, 100000000},
		{1451520 + 100*3000000, 100000000},
	}

	for _, tst := range tt {
		require.Equal(t, tst.reward, s.CalcReward(tst.height), "height %d", tst.height)
	}
}

func TestCalcSupplyNetwork(t *testing.T) {
	s := network()

	require.Equal(t, s.TotalAmount, s.CalcSupply(1))
	require.Equal(t, s.TotalAmount, s.CalcSupply(1451519))
	require.Equal(t, s.TotalAmount+500000000, s.CalcSupply(1451520))
	require.Equal(t, s.TotalAmount+3000000*500000000+400000000, s.CalcSupply(1451520+3000000))
}

func TestCalcSupplySegments(t *testing.T) {
	s := reward.Schedule{
		Milestones:  []int64{5, 4, 3},
		Offset:      10,
		Distance:    100,
		TotalAmount: 1000,
	}

	tt := []struct {
		height int64
		supply int64
	}{
		{9, 1000},
		{10, 1005},
		{109, 1500},
		{110, 1504},
		{209, 1900},
		{210, 1903},
		{360, 2353},
	}

	for _, tst := range tt {
		require.Equal(t, tst.supply, s.CalcSupply(tst.height), "height %d", tst.height)
	}
}

func TestCalcSupplyMonotonic(t *testing.T) {
	s := reward.Schedule{
		Milestones:  []int64{5, 4, 3},
		Offset:      10,
		Distance:    100,
		TotalAmount: 1000,
	}

	prev := s.CalcSupply(1)
	for h := int64(2); h < 600; h++ {
		supply := s.CalcSupply(h)
		require.Equal(t, prev+s.CalcReward(h), supply, "height %d", h)
		prev = supply
	}
}
