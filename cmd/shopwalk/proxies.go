package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/shopwalk/internal/config"
	"github.com/nao1215/shopwalk/internal/egress"
	"github.com/nao1215/shopwalk/internal/proxy"
)

// defaultCheckConcurrency is the number of proxies probed at once.
const defaultCheckConcurrency = 4

// NewProxiesCmd creates the proxies command and its subcommands.
func NewProxiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "Inspect the proxy pool",
		Long: `Proxies lists the active proxies of the pool or checks that each of them
opens a tunnel.

Inactive entries and entries with an invalid server are skipped, exactly as
they are when sessions select a proxy. Credentials are never printed.`,
	}

	cmd.PersistentFlags().String("proxies", "",
		"Proxy file path (default: "+config.DefaultProxyFile()+")")

	cmd.AddCommand(newProxiesListCmd())
	cmd.AddCommand(newProxiesCheckCmd())

	return cmd
}

// newProxiesListCmd creates the proxies list command.
func newProxiesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the active proxies",
		Args:  cobra.NoArgs,
		RunE:  runProxiesListCmd,
	}

	cmd.Flags().BoolP("json", "j", false, "Output JSON")

	return cmd
}

// newProxiesCheckCmd creates the proxies check command.
func newProxiesCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that every active proxy opens a tunnel",
		Long: `Check connects to every active proxy and asks it for a tunnel to the
target. No traffic is sent through the tunnel.

The default target is the landing page host of the site file, or
` + egress.DefaultTarget + ` when there is no site file.

Examples:
  # Check the default pool
  shopwalk proxies check

  # Check against a specific target with a short timeout
  shopwalk proxies check --target shop.example.com:443 -t 5s`,
		Args: cobra.NoArgs,
		RunE: runProxiesCheckCmd,
	}

	cmd.Flags().String("target", "",
		"Tunnel destination as host:port")
	cmd.Flags().DurationP("timeout", "t", egress.DefaultTimeout,
		"Timeout for each probe")
	cmd.Flags().IntP("concurrency", "n", defaultCheckConcurrency,
		"Number of proxies probed at once")
	cmd.Flags().StringP("config", "c", "",
		"Site file path used to derive the default target")
	cmd.Flags().BoolP("json", "j", false, "Output JSON")

	return cmd
}

// registryFromFlags loads the pool named by --proxies.
func registryFromFlags(cmd *cobra.Command) (*proxy.Registry, error) {
	path, err := cmd.Flags().GetString("proxies")
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = config.DefaultProxyFile()
	}
	logger := setupLogger(cmd.ErrOrStderr(), getVerboseFlag(cmd))
	return proxy.Load(path, proxy.WithLogger(logger)), nil
}

// runProxiesListCmd executes the proxies list command.
func runProxiesListCmd(cmd *cobra.Command, _ []string) error {
	registry, err := registryFromFlags(cmd)
	if err != nil {
		return err
	}

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	return writeProxyList(cmd.OutOrStdout(), registry.ListAvailable(), asJSON)
}

// writeProxyList prints summaries as a table or as JSON.
func writeProxyList(w io.Writer, summaries []proxy.Summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	if len(summaries) == 0 {
		_, err := fmt.Fprintln(w, "No active proxies.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSERVER")
	for _, s := range summaries {
		name := s.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, name, s.Server)
	}
	return tw.Flush()
}

// runProxiesCheckCmd executes the proxies check command.
func runProxiesCheckCmd(cmd *cobra.Command, _ []string) error {
	registry, err := registryFromFlags(cmd)
	if err != nil {
		return err
	}

	target, err := cmd.Flags().GetString("target")
	if err != nil {
		return err
	}
	if target == "" {
		configPath, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		target = defaultCheckTarget(configPath)
	}

	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}

	concurrency, err := cmd.Flags().GetInt("concurrency")
	if err != nil {
		return err
	}

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger := setupLogger(cmd.ErrOrStderr(), getVerboseFlag(cmd))
	prober := egress.NewProber(egress.WithTimeout(timeout), egress.WithLogger(logger))
	results := prober.CheckAll(ctx, registry.Descriptors(), target, concurrency)

	if err := writeCheckResults(cmd.OutOrStdout(), target, results, asJSON); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Status != egress.StatusOK {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d proxies failed the check", failed, len(results))
	}
	return nil
}

// defaultCheckTarget derives host:port from the site file's landing page.
func defaultCheckTarget(configPath string) string {
	cfg := config.NewConfig()
	cfg.ConfigFilePath = configPath
	if err := cfg.ApplySiteFile(); err != nil {
		return egress.DefaultTarget
	}
	if t := targetFromURL(cfg.Site.LandingURL); t != "" {
		return t
	}
	return egress.DefaultTarget
}

// targetFromURL returns host:port for rawURL, using the scheme's default
// port when none is given. It returns "" when rawURL has no host.
func targetFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// writeCheckResults prints probe results as a table or as JSON.
func writeCheckResults(w io.Writer, target string, results []egress.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "No active proxies.")
		return err
	}

	fmt.Fprintf(w, "Target: %s\n\n", target)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSERVER\tSTATUS\tLATENCY\tDETAIL")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Proxy.ID, r.Proxy.Server, r.StatusText, r.Latency.Round(time.Millisecond), r.Detail)
	}
	return tw.Flush()
}
