package cmd

import (
	"os"

	"github.com/ledgermesh/blockcoord/logx"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "blockcoordd",
	Short: "Block Coordinator node CLI",
	Long:  "Command line interface for running and managing a ledger node's Block Coordinator.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "command execution failed:", err)
		os.Exit(1)
	}
}
