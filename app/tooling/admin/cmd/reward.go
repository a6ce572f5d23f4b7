package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var (
	fromHeight int64
	toHeight   int64
	step       int64
)

var rewardCmd = &cobra.Command{
	Use:   "reward",
	Short: "Print the block reward schedule",
	RunE:  rewardRun,
}

func init() {
	rootCmd.AddCommand(rewardCmd)
	rewardCmd.Flags().Int64VarP(&fromHeight, "from", "f", 1, "First height.")
	rewardCmd.Flags().Int64VarP(&toHeight, "to", "t", 0, "Last height, defaults to the end of the last milestone.")
	rewardCmd.Flags().Int64VarP(&step, "step", "s", 0, "Distance between heights, defaults to the milestone distance.")
}

func rewardRun(cmd *cobra.Command, args []string) error {
	gen, err := loadGenesis()
	if err != nil {
		return err
	}

	schedule := gen.Schedule()

	if step == 0 {
		step = schedule.Distance
	}
	if toHeight == 0 {
		toHeight = schedule.Offset + schedule.Distance*int64(len(schedule.Milestones))
	}
	if fromHeight < 1 || step < 1 || toHeight < fromHeight {
		return errors.Newf("invalid range from[%d] to[%d] step[%d]", fromHeight, toHeight, step)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HEIGHT\tMILESTONE\tREWARD\tSUPPLY")
	for height := fromHeight; height <= toHeight; height += step {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\n", height, schedule.CalcMilestone(height), schedule.CalcReward(height), schedule.CalcSupply(height))
	}

	return w.Flush()
}
