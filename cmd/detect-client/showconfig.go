package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/live-detect-client/internal/config"
)

// configView is the printable form of config.Config. Durations are shown
// as strings so the output can be fed back through --config.
type configView struct {
	Addr          string     `yaml:"addr" json:"addr"`
	BaseURL       string     `yaml:"base_url" json:"base_url"`
	Interval      string     `yaml:"interval" json:"interval"`
	Timeout       string     `yaml:"timeout" json:"timeout"`
	UILogCapacity int        `yaml:"ui_log_capacity" json:"ui_log_capacity"`
	Persist       bool       `yaml:"persist" json:"persist"`
	AutoStart     bool       `yaml:"auto_start" json:"auto_start"`
	Source        sourceView `yaml:"source" json:"source"`
	LogLevel      string     `yaml:"log_level" json:"log_level"`
	LogColor      bool       `yaml:"log_color" json:"log_color"`
}

type sourceView struct {
	Kind   string        `yaml:"kind" json:"kind"`
	Path   string        `yaml:"path,omitempty" json:"path,omitempty"`
	URL    string        `yaml:"url,omitempty" json:"url,omitempty"`
	Region config.Region `yaml:"region,omitempty" json:"region,omitempty"`
}

func newConfigView(c config.Config) configView {
	return configView{
		Addr:          c.Addr,
		BaseURL:       config.NewStore(c.BaseURL).BaseURL(),
		Interval:      c.Interval.String(),
		Timeout:       c.Timeout.String(),
		UILogCapacity: c.UILogCapacity,
		Persist:       c.Persist,
		AutoStart:     c.AutoStart,
		Source: sourceView{
			Kind:   c.Source.Kind,
			Path:   c.Source.Path,
			URL:    c.Source.URL,
			Region: c.Source.Region,
		},
		LogLevel: c.LogLevel,
		LogColor: c.LogColor,
	}
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		view := newConfigView(cfg)
		if jsonOutput {
			return printJSON(view)
		}
		data, err := yaml.Marshal(view)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
