package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func NewRoundsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rounds [list|view]",
		Short: "Training rounds",
		Long:  `List and view the rounds of the latest training run.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List rounds",
		Long:  `List round records.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			r, err := fsdk.ListRounds(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, r)
		},
	}

	viewCmd := &cobra.Command{
		Use:   "view <round>",
		Short: "View round",
		Long:  `View a round's participants, failures and evaluation.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			n, err := strconv.Atoi(args[0])
			if err != nil {
				logErrorCmd(*cmd, fmt.Errorf("invalid round number %q", args[0]))

				return
			}

			r, err := fsdk.GetRound(n)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, r)
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(viewCmd)

	cmd.PersistentFlags().Uint64VarP(
		&defOffset,
		"offset",
		"o",
		defOffset,
		"Offset",
	)

	cmd.PersistentFlags().Uint64VarP(
		&defLimit,
		"limit",
		"l",
		defLimit,
		"Limit",
	)

	return cmd
}
