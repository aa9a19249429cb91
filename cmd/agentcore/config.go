package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/agentcore/internal/config"
)

const apiKeySetting = "anthropic.api_key"

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show the effective configuration",
	Long: `Without arguments, prints every setting after files, AGENTCORE_*
environment variables and defaults are merged. With a dot-notation key such
as pool.max_agents, prints that value alone. The API key is always masked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return showConfigKey(cmd.OutOrStdout(), current, args[0])
		}
		return showConfig(cmd.OutOrStdout(), current)
	},
}

func showConfig(w io.Writer, a *app) error {
	settings := printable(a.viper.AllSettings()).(map[string]any)
	if anth, ok := settings["anthropic"].(map[string]any); ok {
		anth["api_key"] = maskedKey(a.cfg)
	}

	source := a.viper.ConfigFileUsed()
	if source == "" {
		source = "(defaults only, no file found)"
	}
	fmt.Fprintf(w, "# config file: %s\n", source)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

func showConfigKey(w io.Writer, a *app, key string) error {
	key = strings.ToLower(key)
	if !isLeafKey(a.viper, key) {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if key == apiKeySetting {
		fmt.Fprintln(w, maskedKey(a.cfg))
		return nil
	}
	fmt.Fprintln(w, printable(a.viper.Get(key)))
	return nil
}

func isLeafKey(v *viper.Viper, key string) bool {
	for _, k := range v.AllKeys() {
		if k == key {
			return true
		}
	}
	return false
}

func maskedKey(cfg *config.Config) string {
	key, source, err := config.APIKey(cfg)
	if err != nil {
		return config.MaskAPIKey("")
	}
	return fmt.Sprintf("%s (%s)", config.MaskAPIKey(key), source)
}

// printable renders durations as strings so they read like the config file.
func printable(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = printable(val)
		}
		return out
	case time.Duration:
		return t.String()
	default:
		return v
	}
}
