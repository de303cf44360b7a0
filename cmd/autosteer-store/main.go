// Package main implements autosteer-store, the command line front end of the
// AutoSteer result store: it serves the read API, prints aggregations and
// exports experience for training.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/autosteer/autosteer/internal/app"
	"github.com/autosteer/autosteer/internal/config"
	"github.com/autosteer/autosteer/internal/export"
	"github.com/autosteer/autosteer/internal/observability"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// globalFlags are accepted by every subcommand.
type globalFlags struct {
	configFile    string
	resultsDir    string
	suite         string
	extensionPath string
	logLevel      string
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	fs.StringVar(&g.resultsDir, "results-dir", "", "Directory holding one SQLite file per suite")
	fs.StringVar(&g.suite, "suite", "", "Tested database, selects <results-dir>/<suite>.sqlite")
	fs.StringVar(&g.extensionPath, "extension", "", "Loadable SQLite extension providing median")
	fs.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "autosteer-store - result store of the AutoSteer optimizer exploration\n\n")
	fmt.Fprintf(w, "Usage: autosteer-store <command> [options]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  serve       Serve the read API\n")
	fmt.Fprintf(w, "  median      Print median runtimes per query configuration\n")
	fmt.Fprintf(w, "  best        Print the ranked alternative configurations\n")
	fmt.Fprintf(w, "  experience  Extract a train/test split and optionally export it\n")
	fmt.Fprintf(w, "  snapshot    Copy the result database to a file or archive it\n")
	fmt.Fprintf(w, "  version     Show version information\n")
	fmt.Fprintf(w, "\nEnvironment Variables:\n")
	fmt.Fprintf(w, "  AUTOSTEER_RESULTS_DIR    Directory of result databases\n")
	fmt.Fprintf(w, "  AUTOSTEER_SUITE          Tested database name\n")
	fmt.Fprintf(w, "  AUTOSTEER_EXTENSION_PATH Loadable median extension\n")
	fmt.Fprintf(w, "  AUTOSTEER_EXPORT_TYPE    Export storage type (local, s3)\n")
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "version":
		fmt.Fprintf(stdout, "autosteer-store version %s (commit: %s)\n", version, commit)
		return 0
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var g globalFlags
	g.register(fs)

	var (
		addr      string
		benchmark string
		ratio     float64
		doExport  bool
		out       string
		archive   bool
	)
	switch cmd {
	case "serve":
		fs.StringVar(&addr, "addr", "", "HTTP listen address of the read API")
	case "median":
	case "best":
		fs.StringVar(&benchmark, "benchmark", "", "Only rank queries whose path contains this string")
	case "experience":
		fs.StringVar(&benchmark, "benchmark", "", "Only extract queries whose path contains this string")
		fs.Float64Var(&ratio, "ratio", -1, "Training ratio (default from configuration)")
		fs.BoolVar(&doExport, "export", false, "Upload the split to export storage instead of printing it")
	case "snapshot":
		fs.StringVar(&out, "out", "", "Destination file of the database copy")
		fs.BoolVar(&archive, "archive", false, "Upload the copy to export storage")
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		usage(stderr)
		return 2
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(g)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}

	logger, err := observability.NewLogger(stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(stderr, "failed to create logger: %v\n", err)
		return 1
	}
	logger = log.With(logger, "suite", cfg.Suite)

	application, err := app.New(cfg, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to create application", "err", err)
		return 1
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = application.Serve(ctx, nil)
	case "median":
		err = runMedian(ctx, application, stdout)
	case "best":
		err = runBest(ctx, application, benchmark, stdout)
	case "experience":
		if ratio < 0 {
			ratio = cfg.Experience.TrainingRatio
		}
		if benchmark == "" {
			benchmark = cfg.Experience.BenchmarkFilter
		}
		err = runExperience(ctx, application, benchmark, ratio, doExport, stdout)
	case "snapshot":
		err = runSnapshot(ctx, application, out, archive, stdout)
	}
	if err != nil {
		level.Error(logger).Log("msg", cmd+" failed", "err", err)
		return 1
	}
	return 0
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(g globalFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if g.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(g.configFile); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if g.resultsDir != "" {
		cfg.ResultsDir = g.resultsDir
	}
	if g.suite != "" {
		cfg.Suite = g.suite
	}
	if g.extensionPath != "" {
		cfg.ExtensionPath = g.extensionPath
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	return cfg, nil
}

func runMedian(ctx context.Context, a *app.App, w io.Writer) error {
	store, err := a.Store(ctx)
	if err != nil {
		return err
	}
	medians, err := store.MedianRuntimes(ctx)
	if err != nil {
		return err
	}
	for _, m := range medians {
		fmt.Fprintf(w, "%s\t%d\t%s\t%.6f\n", m.Path, m.NumDisabledRules, displayRules(m.DisabledRules), m.MedianRuntime)
	}
	return nil
}

func runBest(ctx context.Context, a *app.App, benchmark string, w io.Writer) error {
	store, err := a.Store(ctx)
	if err != nil {
		return err
	}
	alts, err := store.BestAlternativeConfiguration(ctx, benchmark)
	if err != nil {
		return err
	}
	for _, alt := range alts {
		fmt.Fprintf(w, "%s\t%d\t%s\t%.6f\t%.6f\t%.6f\t%d\n", alt.Path, alt.NumDisabledRules, alt.DisabledRules,
			alt.Runtime, alt.RuntimeBaseline, alt.Savings, alt.Rank)
	}
	return nil
}

func runExperience(ctx context.Context, a *app.App, benchmark string, ratio float64, doExport bool, w io.Writer) error {
	store, err := a.Store(ctx)
	if err != nil {
		return err
	}
	split, err := store.Experience(ctx, benchmark, ratio)
	if err != nil {
		return err
	}

	if !doExport {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(split)
	}

	exporter, err := a.Exporter(ctx)
	if err != nil {
		return err
	}
	m, err := exporter.Export(ctx, export.Request{
		Suite:         a.Config().Suite,
		Benchmark:     benchmark,
		TrainingRatio: ratio,
		Split:         split,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", m.ID)
	return nil
}

func runSnapshot(ctx context.Context, a *app.App, out string, archive bool, w io.Writer) error {
	store, err := a.Store(ctx)
	if err != nil {
		return err
	}

	if archive {
		exporter, err := a.Exporter(ctx)
		if err != nil {
			return err
		}
		object, err := exporter.ArchiveDatabase(ctx, store, a.Config().Suite)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\n", object)
		return nil
	}

	if out == "" {
		return fmt.Errorf("snapshot requires -out or -archive")
	}
	return store.Snapshot(ctx, out)
}

func displayRules(rules string) string {
	if rules == "" {
		return "-"
	}
	return rules
}
