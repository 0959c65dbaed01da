package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string
var verbose bool
var cacheDir string
var logger *zap.SugaredLogger

var rootCmd = &cobra.Command{
	Use:   "httpswatch",
	Short: "Scan domains for HTTPS best practices (HTTPS enforcement, certificate quality, HSTS)",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// init config
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath("$HOME")
			viper.SetConfigName(".httpswatch")
			viper.SetConfigType("yaml")
		}

		_ = viper.ReadInConfig()
		applyConfigDefaults()

		if cacheDir == "" {
			cacheDir = viper.GetString("cache_dir")
		}
		if cacheDir == "" {
			cacheDir = "./cache"
		}
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return fmt.Errorf("failed to create cache directory: %s", err.Error())
		}
		if abs, err := filepath.Abs(cacheDir); err == nil {
			cacheDir = abs
		}

		// init logger
		var l *zap.Logger
		if verbose {
			l, _ = zap.NewDevelopment()
		} else {
			l, _ = zap.NewProduction()
		}
		logger = l.Sugar()

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.httpswatch.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-third-parties", "", "directory for caching third-party data (preload lists, augmented CA bundles)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(versionCmd)
}
