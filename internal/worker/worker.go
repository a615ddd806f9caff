package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/galpt/go-cfer/internal/aliases"
	"github.com/galpt/go-cfer/internal/cf"
	"github.com/galpt/go-cfer/internal/config"
	"github.com/galpt/go-cfer/internal/logging"
	"github.com/galpt/go-cfer/internal/routes"
)

type Options struct {
	Logger *logging.Logger
	DryRun bool

	// API overrides the Cloudflare client built from the config.
	API routes.API
}

type Worker struct {
	opts Options
}

func New(opts Options) *Worker {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Worker{opts: opts}
}

func (w *Worker) begin(cfg *config.Config, op string) (*logging.Logger, routes.API) {
	logger := w.opts.Logger.With("run", uuid.NewString(), "op", op, "zone", cfg.ZoneID)
	api := w.opts.API
	if api == nil {
		api = cf.NewClient(cfg, logger)
	}
	return logger, api
}

// Import parses the export named by cfg and creates one forwarding rule per alias.
func (w *Worker) Import(ctx context.Context, cfg *config.Config) (routes.Summary, error) {
	logger, api := w.begin(cfg, "import")

	found, err := aliases.New(&aliases.Options{Logger: logger}).Extract(cfg)
	if err != nil {
		return routes.Summary{}, fmt.Errorf("parsing aliases: %w", err)
	}

	fwd := routes.Forwarder{
		Destination: cfg.DestinationAddress,
		Domain:      cfg.Domain,
		Label:       cfg.Source.Label(),
	}
	rules := fwd.BuildRules(found)

	if w.opts.DryRun {
		for _, rule := range rules {
			logger.Status(rule.Matchers[0].Value, "dry-run")
		}
		logger.Infof("dry-run: would create %d rule(s) forwarding to %s", len(rules), cfg.DestinationAddress)
		return routes.Summary{Total: len(rules)}, nil
	}

	logger.Infof("Creating %d rule(s) forwarding to %s...", len(rules), cfg.DestinationAddress)
	sum, err := routes.Import(ctx, api, rules, logger)
	if err != nil {
		return sum, fmt.Errorf("creating aliases: %w", err)
	}
	logger.Infof("Created %d rule(s), %d already existed", sum.Succeeded, sum.Conflicts)
	return sum, nil
}

// Delete removes the rules named by cfg, or every rule but the catch-all.
func (w *Worker) Delete(ctx context.Context, cfg *config.Config) (routes.Summary, error) {
	logger, api := w.begin(cfg, "delete")

	var ids map[string]struct{}
	if cfg.DeleteAll {
		logger.Infof("Listing routing rules...")
		listed, err := routes.ListIDs(ctx, api)
		if err != nil {
			return routes.Summary{}, fmt.Errorf("listing routing rules: %w", err)
		}
		ids = listed
	} else {
		ids = routes.IDSet(cfg.RouteIDs)
	}

	if w.opts.DryRun {
		for _, id := range routes.SortedIDs(ids) {
			logger.Status(id, "dry-run")
		}
		logger.Infof("dry-run: would delete %d rule(s)", len(ids))
		return routes.Summary{Total: len(ids)}, nil
	}

	if len(ids) == 0 {
		logger.Infof("No routing rules to delete")
		return routes.Summary{}, nil
	}

	logger.Infof("Deleting %d rule(s)...", len(ids))
	sum, err := routes.Delete(ctx, api, ids, logger)
	if err != nil {
		return sum, fmt.Errorf("deleting routing rules: %w", err)
	}
	logger.Infof("Deleted %d rule(s)", sum.Succeeded)
	return sum, nil
}
