package cli

import (
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history SYMBOL DDMMYY",
	Short: "Display a symbol's settlements on a given date",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().History(cmd.Context(), args[0], args[1])
	},
}
