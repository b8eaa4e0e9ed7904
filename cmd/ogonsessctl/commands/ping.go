package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Verify the configured token resolves against the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := client.get(cmd.Context(), "/ping", nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			fmt.Println("ok")
			return nil
		},
	}
}
