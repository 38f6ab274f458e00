package cli

import (
	"github.com/spf13/cobra"
)

var rateCmd = &cobra.Command{
	Use:   "rate SYMBOL",
	Short: "Display the current funding rate for a symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Rate(cmd.Context(), args[0])
	},
}
