package cmd

import (
	"github.com/spf13/cobra"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Withdrawal credential tools",
}

func init() {
	rootCmd.AddCommand(credentialsCmd)
}
