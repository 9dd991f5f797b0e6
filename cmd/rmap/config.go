package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the configuration after defaults, the config file, environment
variables (RMAP_DATA_DIR, RMAP_MAILTO, OPENALEX_BASE_URL, RMAP_LOG_LEVEL)
and flags have been applied.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		path := resolvedConfigPath()
		cfg := mustLoadConfig()

		_, err := os.Stat(path)
		resp := ConfigResponse{Path: path, Exists: err == nil, Config: cfg}

		if humanOutput {
			out, err := yaml.Marshal(cfg)
			if err != nil {
				exitWithError(ExitError, "encoding config: %v", err)
			}
			if resp.Exists {
				outputHuman("# %s\n", path)
			} else {
				outputHuman("# %s (not found, using defaults)\n", path)
			}
			outputHuman("%s", out)
			return
		}
		outputJSON(resp)
	},
}
