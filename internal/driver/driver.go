package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/shopwalk/internal/config"
	"github.com/nao1215/shopwalk/internal/filter"
	"github.com/nao1215/shopwalk/internal/model"
	"github.com/nao1215/shopwalk/internal/pipeline"
	"github.com/nao1215/shopwalk/internal/proxy"
)

// Page is a browser page a session drives.
type Page interface {
	pipeline.Navigator

	// Install attaches a filter session to the page's request stream.
	Install(ctx context.Context, session *filter.Session) error

	// Close releases the page and its browser.
	Close() error
}

// Opener opens a page routed through p. A nil p means a direct connection.
type Opener interface {
	Open(ctx context.Context, p *proxy.Descriptor) (Page, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, p *proxy.Descriptor) (Page, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, p *proxy.Descriptor) (Page, error) {
	return f(ctx, p)
}

// Driver runs sessions against one site.
//
// Design decision: The Driver holds no per-session state. Each call to
// RunSession builds its own page, filter session and pipeline, so it can be
// handed to pipeline.BatchProcessor and run concurrently.
type Driver struct {
	cfg      *config.Config
	registry *proxy.Registry
	opener   Opener
	detector filter.PhaseDetector
	logger   *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// New creates a Driver. A nil registry means every session connects
// directly. The site's phase patterns are compiled here so a bad pattern
// fails before any browser starts.
func New(cfg *config.Config, registry *proxy.Registry, opener Opener, opts ...Option) (*Driver, error) {
	d := &Driver{
		cfg:      cfg,
		registry: registry,
		opener:   opener,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	if cfg.Optimize {
		detector, err := filter.NewPatternDetector(cfg.Site.Patterns())
		if err != nil {
			return nil, fmt.Errorf("cannot detect the results page: %w", err)
		}
		d.detector = detector
	}

	return d, nil
}

// RunSession runs query through up to 1+Retries attempts and returns the
// record of the last one. It never returns nil and never fails: errors are
// recorded on the record. Cancellation of ctx stops further retries.
func (d *Driver) RunSession(ctx context.Context, query string) *model.SessionRecord {
	record := model.NewSessionRecord(query)
	start := time.Now()

	attempts := 1 + max(d.cfg.Retries, 0)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			record.ResetAttempt()
		}
		record.Attempts = attempt

		err := d.attempt(ctx, record)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			d.logger.Warn("session attempt failed, retrying",
				"session", record.ID,
				"attempt", attempt,
				"error", err,
			)
		}
	}

	record.Duration = time.Since(start)
	return record
}

// Run is RunSession with the signature pipeline.BatchProcessor expects.
func (d *Driver) Run() pipeline.SessionFunc {
	return d.RunSession
}

// attempt makes one try, bounded by the configured timeout.
func (d *Driver) attempt(ctx context.Context, record *model.SessionRecord) error {
	actx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	desc := d.selectProxy(record)

	page, err := d.opener.Open(actx, desc)
	if err != nil {
		return d.fail(record, fmt.Errorf("failed to open browser: %w", err))
	}
	defer func() {
		if err := page.Close(); err != nil {
			d.logger.Debug("failed to close browser", "session", record.ID, "error", err)
		}
	}()

	var session *filter.Session
	if d.cfg.Optimize {
		session = d.newFilterSession()
		if err := page.Install(actx, session); err != nil {
			return d.fail(record, fmt.Errorf("failed to install request filter: %w", err))
		}
		record.Optimized = true
	}

	p := pipeline.New(pipeline.WithLogger(d.logger))
	p.AddSteps(pipeline.SessionSteps(page, d.cfg.Site.LandingURL, d.cfg.Site.SearchURL)...)
	d.logger.Debug("running session", "session", record.ID, "steps", p.StepNames())
	err = p.Execute(actx, record)

	if session != nil {
		record.Filter = session.Stats()
		d.logger.Info("request filter tally",
			"session", record.ID,
			"state", record.Filter.State.String(),
			"blocked", record.Filter.Blocked,
			"allowed", record.Filter.Allowed,
		)
	}

	return err
}

// selectProxy picks this attempt's proxy and records its summary.
func (d *Driver) selectProxy(record *model.SessionRecord) *proxy.Descriptor {
	if d.registry == nil {
		return nil
	}
	p, ok := d.registry.Select(d.cfg.ProxyMode)
	if !ok {
		return nil
	}
	summary := p.Summary()
	record.Proxy = &summary
	d.logger.Debug("selected proxy", "session", record.ID, "proxy", p.ID)
	return &p
}

// newFilterSession builds a fresh filter session for one page.
func (d *Driver) newFilterSession() *filter.Session {
	opts := []filter.Option{
		filter.WithRules(filter.DefaultRules(filter.RuleOptions{
			ExtraTrackers:   d.cfg.Site.ExtraTrackers,
			ExtraCDNDomains: d.cfg.Site.CDNDomains,
		})),
		filter.WithLogger(d.logger),
	}
	if d.detector != nil {
		opts = append(opts, filter.WithDetector(d.detector))
	}
	return filter.NewSession(opts...)
}

// fail records err on the record and returns it.
func (d *Driver) fail(record *model.SessionRecord, err error) error {
	record.SetError(err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		record.TimedOut = true
	}
	return err
}
