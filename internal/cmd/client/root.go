package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the logfan client.
// It registers the publish, tail, connections and health commands.
func NewRoot(baseURL BaseURLFunc, grpcAddr AddrFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "logfan",
		Short: "logfan client commands",
	}
	AddCommands(root, baseURL, grpcAddr)
	return root
}

// AddCommands registers the client commands on root.
func AddCommands(root *cobra.Command, baseURL BaseURLFunc, grpcAddr AddrFunc) {
	root.AddCommand(
		newPublishCommand(baseURL),
		newTailCommand(baseURL),
		newConnectionsCommand(baseURL),
		newHealthCommand(grpcAddr),
	)
}
