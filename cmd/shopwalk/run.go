package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/shopwalk/internal/browser"
	"github.com/nao1215/shopwalk/internal/config"
	"github.com/nao1215/shopwalk/internal/driver"
	shoplog "github.com/nao1215/shopwalk/internal/log"
	"github.com/nao1215/shopwalk/internal/model"
	"github.com/nao1215/shopwalk/internal/pipeline"
	"github.com/nao1215/shopwalk/internal/proxy"
	"github.com/nao1215/shopwalk/internal/report"
)

// errAllSessionsFailed is returned when no session of a run succeeded.
var errAllSessionsFailed = errors.New("all sessions failed")

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [query...]",
		Short: "Open the search results page for each query",
		Long: `Run opens the site's landing page in a browser and then navigates to the
search results for each query. Every query is a separate session with its
own browser.

Examples:
  # Search for one term
  shopwalk run "green tea"

  # Search three terms, two at a time, rotating through the proxy pool
  shopwalk run --proxy-mode sequential --batch 2 rice noodles miso

  # Pin one proxy from the pool and block landing page images and trackers
  shopwalk run --proxy-mode tokyo-1 --optimize "green tea"

  # Use a named site from the site file and write a Markdown report
  shopwalk run --site market -m -o report.md "green tea"

Proxy modes:
  none         connect directly (default)
  sequential   rotate through the active proxies in file order
  random       pick an active proxy at random for every attempt
  <id>         always use the proxy with this ID; unknown IDs connect directly

Proxy file (default: $XDG_CONFIG_HOME/shopwalk/proxies.yaml):
  proxies:
    - id: tokyo-1
      name: Tokyo residential
      server: http://203.0.113.10:3128
      username: alice
      password: secret
    - id: osaka-socks
      server: socks5://203.0.113.20:1080
      active: false`,
		Args: cobra.ArbitraryArgs,
		RunE: runRunCmd,
	}

	// Proxy flags
	cmd.Flags().StringP("proxy-mode", "p", config.DefaultProxyMode,
		"Proxy selection: none, sequential, random or a proxy ID")
	cmd.Flags().String("proxies", "",
		"Proxy file path (default: "+config.DefaultProxyFile()+")")

	// Browser flags
	cmd.Flags().Bool("optimize", false,
		"Block images, fonts, media and trackers while the landing page loads")
	cmd.Flags().Bool("headless", true,
		"Run the browser without a window")

	// Session flags
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each session attempt")
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of concurrent sessions")
	cmd.Flags().IntP("retries", "r", config.DefaultRetries,
		"Extra attempts after a failed one; each selects a proxy again")

	// Site flags
	cmd.Flags().StringP("config", "c", "",
		"Site file path (default: .shopwalk in current or home directory)")
	cmd.Flags().StringP("site", "s", "",
		"Named site from the site file")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")

	return cmd
}

// runRunCmd executes the run command.
func runRunCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)

	// Set up context with signal handling for graceful shutdown
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Warn("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	summary, err := runSessions(ctx, cfg, newBrowserOpener(cfg, logger), cmd.ErrOrStderr(), logger)
	if err != nil {
		return err
	}

	if err := outputReport(cfg, summary, cmd.OutOrStdout()); err != nil {
		return err
	}

	if summary.Succeeded == 0 && summary.Failed > 0 {
		return fmt.Errorf("%w (%d of %d)", errAllSessionsFailed, summary.Failed, len(summary.Sessions))
	}
	return nil
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from cobra command flags and the site file.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()

	var err error

	cfg.ProxyMode, err = cmd.Flags().GetString("proxy-mode")
	if err != nil {
		return nil, err
	}

	cfg.ProxyFile, err = cmd.Flags().GetString("proxies")
	if err != nil {
		return nil, err
	}

	cfg.Optimize, err = cmd.Flags().GetBool("optimize")
	if err != nil {
		return nil, err
	}

	cfg.Headless, err = cmd.Flags().GetBool("headless")
	if err != nil {
		return nil, err
	}

	cfg.Timeout, err = cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, err
	}

	cfg.BatchSize, err = cmd.Flags().GetInt("batch")
	if err != nil {
		return nil, err
	}

	cfg.Retries, err = cmd.Flags().GetInt("retries")
	if err != nil {
		return nil, err
	}

	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg.SiteName, err = cmd.Flags().GetString("site")
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplySiteFile(); err != nil {
		return nil, fmt.Errorf("failed to load site file: %w", err)
	}

	cfg.JSONReport, err = cmd.Flags().GetBool("json")
	if err != nil {
		return nil, err
	}

	cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown")
	if err != nil {
		return nil, err
	}

	cfg.ReportFile, err = cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}

	cfg.Verbose = getVerboseFlag(cmd)
	cfg.Queries = args

	return cfg, nil
}

// setupLogger creates a logger that redacts proxy credentials.
func setupLogger(w io.Writer, verbose bool) *slog.Logger {
	return shoplog.NewSecureLogger(w, verbose)
}

// newBrowserOpener returns an Opener that launches Chrome for every attempt.
func newBrowserOpener(cfg *config.Config, logger *slog.Logger) driver.Opener {
	base := browser.Options{
		Headless:    cfg.Headless,
		UserAgent:   cfg.Site.UserAgent,
		ProfileRoot: config.BrowserProfileDir(),
	}
	return driver.OpenerFunc(func(ctx context.Context, p *proxy.Descriptor) (driver.Page, error) {
		page, err := browser.Open(ctx, base.WithProxy(p), logger)
		if err != nil {
			return nil, err
		}
		return page, nil
	})
}

// loadRegistry loads the proxy pool. Mode none skips the file entirely.
func loadRegistry(cfg *config.Config, logger *slog.Logger) *proxy.Registry {
	if cfg.ProxyMode == proxy.ModeNone {
		return nil
	}
	return proxy.Load(cfg.ResolvedProxyFile(), proxy.WithLogger(logger))
}

// runSessions runs one session per query and summarizes them. Progress
// lines go to progress. The error is non-nil only for setup failures and
// cancellation.
func runSessions(
	ctx context.Context,
	cfg *config.Config,
	opener driver.Opener,
	progress io.Writer,
	logger *slog.Logger,
) (*model.RunSummary, error) {
	registry := loadRegistry(cfg, logger)

	d, err := driver.New(cfg, registry, opener, driver.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	fmt.Fprintf(progress, "Running %d session(s) against %s (concurrency: %d)...\n\n",
		len(cfg.Queries), cfg.Site.LandingURL, cfg.BatchSize)

	startTime := time.Now()

	bp := pipeline.NewBatchProcessor(d.Run(),
		pipeline.WithConcurrency(cfg.BatchSize),
		pipeline.WithBatchLogger(logger),
	)

	records := make([]*model.SessionRecord, len(cfg.Queries))
	var mu sync.Mutex
	err = bp.ProcessBatchWithCallback(ctx, cfg.Queries, func(record *model.SessionRecord, index int) {
		mu.Lock()
		defer mu.Unlock()

		records[index] = record
		status := "done"
		if !record.Succeeded() {
			status = "failed: " + record.Error
		}
		fmt.Fprintf(progress, "[%d/%d] %q %s\n", index+1, len(cfg.Queries), record.Query, status)
	})

	summary := model.NewRunSummary(startTime, records)
	fmt.Fprintf(progress, "\nCompleted in %s\n", summary.Duration.Round(time.Millisecond))

	if err != nil {
		return summary, fmt.Errorf("run interrupted: %w", err)
	}
	return summary, nil
}

// outputReport writes the summary in the requested format to the report
// file, or to stdout when none is set.
func outputReport(cfg *config.Config, summary *model.RunSummary, stdout io.Writer) error {
	output := stdout
	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		// Reports carry proxy identities, so only the owner may read them.
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	var writer report.Writer
	switch {
	case cfg.JSONReport:
		writer = report.NewFullJSONWriter(output, getVersion(), report.WithPrettyPrint())
	case cfg.MarkdownReport:
		writer = report.NewMarkdownWriter(output)
	default:
		writer = report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose))
	}

	if _, err := writer.Write(summary); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
