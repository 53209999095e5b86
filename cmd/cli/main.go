package main

import (
	"log"

	"github.com/absmach/fedmob/cli"
	"github.com/absmach/fedmob/pkg/sdk"
	"github.com/spf13/cobra"
)

const (
	defHubURL          = "http://localhost:8765"
	defTLSVerification = false
)

func main() {
	var hubURL string

	rootCmd := &cobra.Command{
		Use:   "fedmob-cli",
		Short: "FedMob CLI",
		Long:  `FedMob CLI is a command line interface for the federated learning hub.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			sdkConf := sdk.Config{
				HubURL:          hubURL,
				TLSVerification: defTLSVerification,
			}
			cli.SetSDK(sdk.NewSDK(sdkConf))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&hubURL, "hub-url", "u", defHubURL, "Hub HTTP API URL")

	rootCmd.AddCommand(cli.NewPeersCmd())
	rootCmd.AddCommand(cli.NewRoundsCmd())
	rootCmd.AddCommand(cli.NewTrainingCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
