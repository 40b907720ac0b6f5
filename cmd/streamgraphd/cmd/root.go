// Package cmd implements the CLI commands for streamgraphd.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// rootCmd is the base command when streamgraphd is called without a
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "streamgraphd",
	Short: "Runs a declarative media pipeline graph",
	Long: `streamgraphd loads a JSON graph description naming filter modules and
their port connections, builds the corresponding pipeline, starts every
source, and waits for end-of-stream or a captured exception.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./streamgraph.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override logging.format (json, text)")

	mustBindPFlag(viper.GetViper(), "logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag(viper.GetViper(), "logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding
// fails, the same lint-driven helper the teacher's root command uses.
func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
