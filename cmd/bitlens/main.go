package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens"
	"github.com/kailas-cloud/bitlens/internal/config"
	logpkg "github.com/kailas-cloud/bitlens/internal/logger"
	"github.com/kailas-cloud/bitlens/internal/version"
)

const usageText = `Usage: bitlens [-config file] [-env env] <command> [flags]

Commands:
  serve     run the HTTP API
  filter    match a record file against keyword filters
  bake      fingerprint a record file into a dataset
  search    radius search over a dataset
  datasets  list registered datasets
  publish   upload a dataset to the archive
  fetch     download a published dataset
  delete    unregister a dataset and remove its files
  health    check catalog, embedder, cache and archive
  usage     show token usage
  version   print build information

Run "bitlens <command> -h" for command flags.
`

// errUsage signals bad arguments; the usage text was already printed.
var errUsage = errors.New("invalid arguments")

type globalFlags struct {
	configPath string
	env        string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "bitlens: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("bitlens", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usageText) }

	var g globalFlags
	fs.StringVar(&g.configPath, "config", "", "config file (default config/<env>.yaml)")
	fs.StringVar(&g.env, "env", config.GetEnv(), "environment: local, dev, docker, prod")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	name, rest := fs.Arg(0), fs.Args()[1:]
	if name == "version" {
		fmt.Fprintf(stdout, "bitlens %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		fs.Usage()
		return errUsage
	}

	cmdFlags := flag.NewFlagSet(name, flag.ContinueOnError)
	cmdFlags.SetOutput(stderr)
	runCmd := cmd.setup(cmdFlags)
	if err := cmdFlags.Parse(rest); err != nil {
		return errUsage
	}

	cfg, err := g.load()
	if err != nil {
		return err
	}
	logEnv := logpkg.EnvCLI
	if name == "serve" {
		logEnv = g.env
	}
	logger, err := logpkg.NewLogger(logEnv, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	eng, err := bitlens.New(ctx, bitlens.WithConfig(cfg), bitlens.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			logger.Warn("Close failed", zap.Error(cerr))
		}
	}()

	return runCmd(ctx, &env{eng: eng, logger: logger, stdout: stdout, globals: g})
}

func (g globalFlags) load() (config.Config, error) {
	if g.configPath != "" {
		return config.LoadFile(g.configPath)
	}
	return config.Load(g.env)
}
