package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/app"
	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/batch"
	"github.com/JakeFAU/article2md/internal/id/uuid"
	"github.com/JakeFAU/article2md/internal/progress"
	progresssinks "github.com/JakeFAU/article2md/internal/progress/sinks"
)

type convertFlags struct {
	files    []string
	urlsFile string
	baseURL  string
}

// newConvertCmd creates the 'convert' subcommand.
func newConvertCmd() *cobra.Command {
	var f convertFlags
	cmd := &cobra.Command{
		Use:   "convert [URL...]",
		Short: "Convert articles to Markdown",
		Long: `Converts each URL, and each local HTML file given with --file, into a
Markdown document under the output directory. Requests run one after another;
a failed request never stops the batch.

The first interrupt (Ctrl-C) asks the batch to stop at the next checkpoint and
keeps the documents already written. A second interrupt cancels immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, args, f)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&f.files, "file", nil, "local HTML file to convert (repeatable)")
	flags.StringVar(&f.urlsFile, "urls-file", "", `file with one URL per line ("-" for stdin)`)
	flags.StringVar(&f.baseURL, "base-url", "", "base URL for resolving links in --file documents")
	flags.StringP("out", "o", "", "output directory")
	flags.Bool("images", true, "download images next to the document")
	flags.Bool("filter", true, "remove navigation and other non-content blocks")
	flags.Bool("shared-browser", true, "reuse one browser across requests")
	flags.Bool("ignore-ssl", false, "skip TLS certificate verification")
	flags.String("proxy", "", "proxy URL for page and image requests")
	flags.Bool("compact-image-names", false, "rename downloaded images to a short sequence")

	configFlag(flags, "out", "output.dir")
	configFlag(flags, "images", "options.download_images")
	configFlag(flags, "filter", "options.filter_non_content")
	configFlag(flags, "shared-browser", "options.use_shared_browser")
	configFlag(flags, "ignore-ssl", "options.ignore_ssl")
	configFlag(flags, "proxy", "options.proxy")
	configFlag(flags, "compact-image-names", "options.compact_image_names")
	return cmd
}

func runConvert(cmd *cobra.Command, args []string, f convertFlags) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	logger := rt.logger

	requests, err := collectRequests(cmd.InOrStdin(), args, f)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		return errors.New("nothing to convert: pass URLs, --file or --urls-file")
	}

	conv, err := app.New(rt.cfg, logger)
	if err != nil {
		return fmt.Errorf("init converter: %w", err)
	}
	defer conv.Close()

	hubCfg := rt.cfg.Progress
	hubCfg.Logger = logger.Named("progress_hub")
	hub := progress.NewHub(hubCfg, progresssinks.NewLogSink(logger.Named("progress")))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	batchID, err := uuid.NewUUIDGenerator().NewID()
	if err != nil {
		return fmt.Errorf("batch id: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	var stop atomic.Bool
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				if stop.CompareAndSwap(false, true) {
					logger.Warn("stop requested; finishing the current step")
					continue
				}
				logger.Warn("second interrupt; canceling")
				cancel()
				return
			}
		}
	}()

	opts := rt.cfg.Options
	opts.OutDir = rt.cfg.Output.Dir
	sum, err := conv.Runner().Run(ctx, batch.Batch{
		Requests: requests,
		Options:  opts,
		Stop:     stop.Load,
		Progress: progress.NewReporter(hub, batchID),
	})
	if err != nil {
		return fmt.Errorf("run batch: %w", err)
	}
	printSummary(cmd.OutOrStdout(), sum)
	if sum.Total > 0 && sum.Succeeded == 0 && sum.Status == batch.StatusCompleted {
		return errors.New("no request converted")
	}
	return nil
}

// collectRequests gathers URLs from args and --urls-file, then files, in
// that order. Blank lines and lines starting with # are skipped.
func collectRequests(stdin io.Reader, args []string, f convertFlags) ([]article.SourceRequest, error) {
	var out []article.SourceRequest
	for _, arg := range args {
		if arg = strings.TrimSpace(arg); arg != "" {
			out = append(out, article.URLRequest(arg))
		}
	}
	if f.urlsFile != "" {
		var r io.Reader = stdin
		if f.urlsFile != "-" {
			file, err := os.Open(f.urlsFile)
			if err != nil {
				return nil, fmt.Errorf("open urls file: %w", err)
			}
			defer file.Close()
			r = file
		}
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			out = append(out, article.URLRequest(line))
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read urls file: %w", err)
		}
	}
	for _, path := range f.files {
		out = append(out, article.SourceRequest{Kind: article.KindFile, Value: path, BaseURL: f.baseURL})
	}
	return out, nil
}

func printSummary(w io.Writer, sum batch.Summary) {
	for _, item := range sum.Items {
		if item.Err != nil {
			fmt.Fprintf(w, "FAIL  %s: %v\n", item.Source, item.Err)
			continue
		}
		fmt.Fprintf(w, "OK    %s -> %s", item.Source, item.Path)
		if item.Images.Found > 0 {
			fmt.Fprintf(w, " (images %d/%d)", item.Images.Downloaded, item.Images.Found)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%s: %d succeeded, %d failed, %d total in %s\n",
		sum.Status, sum.Succeeded, sum.Failed, sum.Total, sum.Duration.Round(time.Millisecond))
}
