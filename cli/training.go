package cli

import (
	"github.com/absmach/fedmob/pkg/sdk"
	"github.com/spf13/cobra"
)

var trainingCfg sdk.TrainingConfig

func NewTrainingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "training [start|status|stop]",
		Short: "Training runs",
		Long:  `Start, inspect and stop federated training runs.`,
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start training",
		Long: `Start a training run. Unset flags take the hub defaults.

Examples:
  # Start with defaults
  fedmob-cli training start

  # Five rounds over at least three phones
  fedmob-cli training start --rounds 5 --min-available 3 --epochs 2`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			s, err := fsdk.StartTraining(trainingCfg)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, s)
		},
	}

	flags := startCmd.Flags()
	flags.IntVar(&trainingCfg.NumRounds, "rounds", 0, "Number of rounds")
	flags.IntVar(&trainingCfg.MinAvailable, "min-available", 0, "Peers required before a round starts")
	flags.IntVar(&trainingCfg.MinFit, "min-fit", 0, "Peers sampled for training")
	flags.IntVar(&trainingCfg.MinEvaluate, "min-evaluate", 0, "Peers sampled for evaluation")
	flags.IntVar(&trainingCfg.Epochs, "epochs", 0, "Local epochs per round")
	flags.IntVar(&trainingCfg.BatchSize, "batch-size", 0, "Local batch size")
	flags.Float64Var(&trainingCfg.LearningRate, "learning-rate", 0, "Local learning rate")
	flags.StringVar(&trainingCfg.ModelVariant, "model-variant", "", "Model variant sent to peers")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Training status",
		Long:  `Show the state of the current or last training run.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			s, err := fsdk.TrainingStatus()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, s)
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop training",
		Long:  `Cancel the running training run.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := fsdk.StopTraining(); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	cmd.AddCommand(startCmd)
	cmd.AddCommand(statusCmd)
	cmd.AddCommand(stopCmd)

	return cmd
}
