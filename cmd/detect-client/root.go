package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dj-oyu/live-detect-client/internal/config"
	"github.com/dj-oyu/live-detect-client/internal/logger"
)

var (
	cfgFile    string
	jsonOutput bool

	v   = viper.New()
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "detect-client",
	Short: "Realtime capture and detection client",
	Long: `Samples frames from a capture source, sends them to a remote detection
service and draws the returned boxes over the live view.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		level, err := logger.ParseLevel(loaded.LogLevel)
		if err != nil {
			return err
		}
		logger.Init(level, os.Stderr, loaded.LogColor)
		cfg = loaded
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	config.SetDefaults(v)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	pf.BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	pf.String("base-url", "", "Detection service base URL (default $DETECT_API_URL or "+config.DefaultBaseURL+")")
	pf.Duration("timeout", config.DefaultConfig().Timeout, "Deadline of one detection exchange or probe")
	pf.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	pf.Bool("log-color", true, "Enable colored log output")

	bindFlags(pf, map[string]string{
		"base_url":  "base-url",
		"timeout":   "timeout",
		"log_level": "log-level",
		"log_color": "log-color",
	})
}

// bindFlags maps config keys to flag names.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func printJSON(payload any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
