package cli

import (
	"github.com/absmach/fedmob/pkg/sdk"
	"github.com/spf13/cobra"
)

var (
	defOffset uint64 = 0
	defLimit  uint64 = 10
)

var fsdk sdk.SDK

func SetSDK(s sdk.SDK) {
	fsdk = s
}

func NewPeersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers [list|view|disconnect|summary]",
		Short: "Connected peers",
		Long:  `List, view and disconnect peers connected to the hub.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List peers",
		Long:  `List connected peers.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			p, err := fsdk.ListPeers(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, p)
		},
	}

	viewCmd := &cobra.Command{
		Use:   "view <id>",
		Short: "View peer",
		Long:  `View a connected peer's state, round and progress.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			p, err := fsdk.GetPeer(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, p)
		},
	}

	disconnectCmd := &cobra.Command{
		Use:   "disconnect <id>",
		Short: "Disconnect peer",
		Long:  `Close a peer's connection and abort its outstanding requests.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := fsdk.DisconnectPeer(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Peer summary",
		Long:  `Show connected, training and idle peer totals.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			s, err := fsdk.Summary()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, s)
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(viewCmd)
	cmd.AddCommand(disconnectCmd)
	cmd.AddCommand(summaryCmd)

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
