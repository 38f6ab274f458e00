package cli

import (
	"github.com/spf13/cobra"
)

var topLimit int

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Display the most extreme current funding rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Top(cmd.Context(), topLimit)
	},
}

func init() {
	topCmd.Flags().IntVar(&topLimit, "limit", 10, "Number of symbols to display")
}
