package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marcus/gridsync/internal/output"
	"github.com/marcus/gridsync/internal/syncconfig"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Show the effective client configuration",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token := "(none)"
		if syncconfig.GetToken() != "" {
			token = "(set)"
		}
		dataset := syncconfig.GetDataset()
		if dataset == "" {
			dataset = "(none)"
		}
		fmt.Printf("url:          %s\n", syncconfig.GetServerURL())
		fmt.Printf("token:        %s\n", token)
		fmt.Printf("dataset:      %s\n", dataset)
		fmt.Printf("cache_margin: %d\n", syncconfig.GetCacheMargin())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set url, token, dataset or cache_margin in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			return err
		}
		if err := setConfigKey(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := syncconfig.SaveConfig(cfg); err != nil {
			return err
		}
		output.Success("Set %s", args[0])
		return nil
	},
}

func setConfigKey(cfg *syncconfig.Config, key, value string) error {
	switch key {
	case "url":
		cfg.URL = value
	case "token":
		cfg.Token = value
	case "dataset":
		cfg.Dataset = value
	case "cache_margin":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("cache_margin must be a non-negative integer")
		}
		cfg.CacheMargin = &n
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
}
