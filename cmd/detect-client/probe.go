package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/live-detect-client/internal/config"
	"github.com/dj-oyu/live-detect-client/internal/health"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check whether the detection service is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := config.NewStore(cfg.BaseURL)
		mon := health.NewMonitor(store, cfg.Timeout)
		status := mon.ProbeNow(cmd.Context())
		snap := mon.Snapshot()

		if jsonOutput {
			if err := printJSON(map[string]any{
				"base_url": store.BaseURL(),
				"health":   snap,
			}); err != nil {
				return err
			}
		} else {
			fmt.Printf("%s: %s\n", store.BaseURL(), status)
			if snap.LastError != "" {
				fmt.Printf("  %s\n", snap.LastError)
			}
			if snap.ModelLoaded != nil {
				fmt.Printf("  model loaded: %t\n", *snap.ModelLoaded)
			}
		}

		if status != health.Online {
			return fmt.Errorf("detection service is %s", status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
