// Package cmd defines and implements the CLI commands for the article2md executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/config"
	"github.com/JakeFAU/article2md/internal/logging"
)

// runtimeKeyType is the key for storing the runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime carries what every subcommand needs once configuration is loaded.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "article2md",
		Short: "Convert web articles into Markdown documents with local images.",
		Long: `article2md fetches articles from the web, strips navigation and other
non-content markup, and writes one Markdown document per article. Images are
downloaded next to the document and referenced by relative path.

Run "article2md convert" for one-off batches or "article2md serve" to accept
jobs over HTTP.`,
		SilenceUsage: true,

		// Runs before any subcommand: load config, then build the logger from it.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindConfigFlags(v, cmd); err != nil {
				return err
			}
			cfg, err := config.LoadWith(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			logger.Debug("configuration loaded", zap.String("config_file", cfgFile))

			ctx := context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := resolveRuntime(cmd.Context()); err == nil {
				_ = rt.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	flags.String("log-level", "", "minimum log level (debug, info, warn, error)")
	flags.Bool("dev", true, "human-readable development logging")
	configFlag(flags, "log-level", "logging.level")
	configFlag(flags, "dev", "logging.development")

	cmd.AddCommand(newConvertCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	if ctx == nil {
		return nil, errors.New("command context not initialized")
	}
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "article2md:", err)
		os.Exit(1)
	}
}

// configKeyAnnotation marks a flag as overriding a config key. Binding is
// deferred to the running command so subcommands can share key names.
const configKeyAnnotation = "article2md_config_key"

func configFlag(flags *pflag.FlagSet, name, key string) {
	if err := flags.SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("annotate flag %s: %v", name, err))
	}
}

func bindConfigFlags(v *viper.Viper, cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(fl *pflag.Flag) {
		keys := fl.Annotations[configKeyAnnotation]
		if len(keys) == 0 || bindErr != nil {
			return
		}
		if err := v.BindPFlag(keys[0], fl); err != nil {
			bindErr = fmt.Errorf("bind flag %s: %w", fl.Name, err)
		}
	})
	return bindErr
}
