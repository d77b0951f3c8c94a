// Command livepatch instruments a target binary's functions, intercepts
// its first uncaught panic, synthesizes and validates a patch through an
// LLM oracle, and hot-swaps it in via checkpoint/restore so the target
// resumes without a cold restart.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/livepatch/livepatch/internal/config"
	"github.com/livepatch/livepatch/internal/modechan"
	"github.com/livepatch/livepatch/internal/supervisor"
	"github.com/livepatch/livepatch/internal/telemetry"
	"github.com/livepatch/livepatch/internal/wdir"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  livepatch --wdir PATH [--source PATH] [--throw-exception] [--llm-model {gpt5|qwen|llama}] [--ignore-repair] -- TARGET_BINARY [args...]")
}

func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				cancel(fmt.Errorf("stopped by signal %s", sig.String()))
			case <-stopCh:
				return
			}
		}
	}()
	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel(nil)
	}
	return ctx, cleanup
}

type cliArgs struct {
	wdir           string
	source         string
	throwException bool
	llmModel       string
	ignoreRepair   bool
	configPath     string
	target         string
	targetArgs     []string
}

func parseArgs(args []string) (cliArgs, error) {
	var a cliArgs
	a.llmModel = "gpt5"

	i := 0
	for ; i < len(args); i++ {
		switch args[i] {
		case "--wdir":
			i++
			if i >= len(args) {
				return a, fmt.Errorf("--wdir requires a value")
			}
			a.wdir = args[i]
		case "--source":
			i++
			if i >= len(args) {
				return a, fmt.Errorf("--source requires a value")
			}
			a.source = args[i]
		case "--throw-exception":
			a.throwException = true
		case "--llm-model":
			i++
			if i >= len(args) {
				return a, fmt.Errorf("--llm-model requires a value")
			}
			switch args[i] {
			case "gpt5", "qwen", "llama":
				a.llmModel = args[i]
			default:
				return a, fmt.Errorf("--llm-model: unknown model %q", args[i])
			}
		case "--ignore-repair":
			a.ignoreRepair = true
		case "--config":
			i++
			if i >= len(args) {
				return a, fmt.Errorf("--config requires a value")
			}
			a.configPath = args[i]
		case "--":
			i++
			goto target
		default:
			return a, fmt.Errorf("unknown flag %q", args[i])
		}
	}
target:
	if i >= len(args) {
		return a, fmt.Errorf("missing -- TARGET_BINARY")
	}
	a.target = args[i]
	a.targetArgs = args[i+1:]

	if a.wdir == "" {
		return a, fmt.Errorf("--wdir is required")
	}
	if a.source == "" {
		a.source = filepath.Dir(a.target)
		fmt.Fprintf(os.Stderr, "livepatch: --source not given, defaulting to %q\n", a.source)
	}
	return a, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(rawArgs []string) int {
	args, err := parseArgs(rawArgs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "livepatch:", err)
		usage()
		return 1
	}

	cfg, err := config.Load(args.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "livepatch:", err)
		return 1
	}
	cfg.SourceRoots = append(cfg.SourceRoots, args.source)

	dir, err := wdir.Open(args.wdir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "livepatch:", err)
		return 1
	}

	mode := modechan.New(dir.ProcessMode())
	log := telemetry.Open(dir.ReporterSyncLog())

	sup := supervisor.New(dir, mode, log, supervisor.Options{
		Target:       args.target,
		Args:         args.targetArgs,
		SourceRoot:   args.source,
		IgnoreRepair: args.ignoreRepair,
	})

	ctx, cleanup := signalCancelContext()
	defer cleanup()

	code, err := sup.Run(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "livepatch:", err)
	}
	return code
}
