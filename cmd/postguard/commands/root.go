// Package commands implements the postguard CLI's command tree.
package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DorAlter/postguard/internal/xlog"
	"github.com/DorAlter/postguard/pkg/config"
)

var (
	cfgFile    string
	pkgURLFlag string
	devLog     bool

	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "postguard",
	Short: "PostGuard - attribute-based end-to-end encryption",
	Long: `postguard seals and unseals streams under attribute policies, using a
Private Key Generator (PKG) to turn disclosed identity attributes into
decryption and signing keys.

Use "postguard [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if pkgURLFlag != "" {
			loaded.PKG.BaseURL = pkgURLFlag
		}
		cfg = loaded

		if devLog {
			log, err = xlog.NewDevelopment()
		} else {
			log, err = xlog.New()
		}
		return err
	},
}

// Execute runs the root command. Called by main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/postguard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&pkgURLFlag, "pkg-url", "", "PKG base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&devLog, "dev", false, "use human-readable development logging")

	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(unsealCmd)
	rootCmd.AddCommand(deriveCmd)
	rootCmd.AddCommand(pkgServeCmd)
}
