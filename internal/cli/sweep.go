package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire lapsed offers once and exit",
	Long: `Run a single expiry sweep against the configured store.

Useful from an external scheduler when serve runs with --no-sweeper.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close(logger)

		st, err := a.sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("scanned=%d expired=%d stale=%d rematched=%d failed=%d\n",
			st.Scanned, st.Expired, st.Stale, st.Rematched, st.Failed)
		return nil
	},
}

