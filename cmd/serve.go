package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/article2md/internal/server"
)

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the conversion HTTP service",
		Long: `Starts an HTTP API that accepts conversion jobs, runs them on a worker
pool, and reports per-job status and progress events. Documents are written
under <output.dir>/<job_id>.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			a, err := server.Build(rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("build service: %w", err)
			}
			if err := a.Run(cmd.Context()); err != nil {
				return fmt.Errorf("run service: %w", err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int("port", 0, "listen port (overrides server.port)")
	flags.Int("workers", 0, "number of conversion workers (overrides server.workers)")
	flags.StringP("out", "o", "", "root output directory")
	configFlag(flags, "port", "server.port")
	configFlag(flags, "workers", "server.workers")
	configFlag(flags, "out", "output.dir")
	return cmd
}
