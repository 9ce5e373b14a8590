package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/forgeline/forgeline/internal/agents"
	"github.com/forgeline/forgeline/internal/archive"
	"github.com/forgeline/forgeline/internal/config"
	"github.com/forgeline/forgeline/internal/llm"
	"github.com/forgeline/forgeline/internal/memory"
	"github.com/forgeline/forgeline/internal/natsbus"
	"github.com/forgeline/forgeline/internal/scheduler"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/internal/telegram"
	"github.com/forgeline/forgeline/internal/vault"
	"github.com/forgeline/forgeline/internal/web"
	"github.com/forgeline/forgeline/internal/workflow"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("forgeline %s\n", version)
	case "serve":
		err = runServe()
	case "run":
		err = runWorkflow(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: forgeline <command>

Commands:
  serve      Start the forgeline service (API, scheduler, bot)
  run        Execute a single workflow from the command line
  export     Export a run's generated project as tar.zst
  version    Print version
`)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting forgeline", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	events, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer events.Close()

	// Secrets vault
	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v = vault.New(cfg.Vault.Passphrase)
	} else {
		slog.Warn("vault passphrase not set, secrets API disabled")
	}

	orch, mem, err := buildOrchestrator(cfg, db, events)
	if err != nil {
		return err
	}

	// Scheduler
	sched := scheduler.New(db, orch, events, cfg.Scheduler)
	go sched.Start(ctx)

	// Telegram bot
	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(cfg.Telegram, orch, db)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		go bot.Start(ctx)
		slog.Info("telegram bot started")
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	// Web API
	if cfg.Web.Enabled {
		var memStore web.MemoryStore
		if mem != nil {
			memStore = mem
		}
		srv := web.NewServer(db, bus, orch, memStore, cfg.Web, v, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()
	return nil
}

// buildOrchestrator wires the optional collaborators (LLM, memory)
// around the workflow orchestrator.
func buildOrchestrator(cfg *config.Config, db *store.Store, events *natsbus.Client) (*workflow.Orchestrator, *memory.Store, error) {
	var completer agents.Completer
	client, err := llm.New(cfg.LLM)
	switch {
	case err == nil:
		completer = client
		slog.Info("llm enabled", "provider", client.Provider(), "model", cfg.LLM.Model)
	case err == llm.ErrDisabled:
		slog.Warn("llm provider not configured, plans use templates only")
	default:
		return nil, nil, fmt.Errorf("init llm: %w", err)
	}

	var mem *memory.Store
	var memWriter workflow.MemoryWriter
	if cfg.Memory.Enabled {
		embedder, err := memory.NewOpenAIEmbedder(cfg.Embedding)
		if err != nil {
			return nil, nil, fmt.Errorf("init embedder: %w", err)
		}
		mem = memory.NewStore(cfg.Memory.Path, embedder)
		memWriter = mem
		slog.Info("memory enabled", "path", cfg.Memory.Path)
	}

	orch := workflow.New("aws", cfg.Workspace.BasePath, completer, memWriter, db, events)
	return orch, mem, nil
}

func runWorkflow(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	task := fs.String("task", "", "free-text task description")
	dataset := fs.String("dataset", "", "path to a CSV dataset")
	cloud := fs.String("cloud", "", "cloud provider (aws, gcp, azure)")
	name := fs.String("name", "", "project name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if (*task == "") == (*dataset == "") {
		return fmt.Errorf("exactly one of -task or -dataset is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	orch, _, err := buildOrchestrator(cfg, db, nil)
	if err != nil {
		return err
	}

	req := workflow.Request{
		Kind:          agents.KindFreeText,
		Input:         *task,
		CloudProvider: *cloud,
		ProjectName:   *name,
	}
	if *dataset != "" {
		req.Kind = agents.KindTabular
		req.Input = *dataset
	}

	res := orch.Execute(context.Background(), req, func(message, phase string) {
		fmt.Println(message)
	})

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !res.Success {
		return fmt.Errorf("workflow failed: %s", res.Error)
	}
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	runID := fs.String("run", "", "workflow run id")
	output := fs.String("f", "", "output archive path (.tar.zst)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" || *output == "" {
		return fmt.Errorf("-run and -f are required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	run, err := db.GetWorkflowRun(*runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", *runID)
	}
	if run.ProjectPath == "" {
		return fmt.Errorf("run %s has no generated project", *runID)
	}

	if err := archive.PackFile(*output, run.ProjectPath); err != nil {
		return err
	}

	info, err := os.Stat(*output)
	if err != nil {
		return err
	}
	fmt.Printf("Exported %s (%s)\n", *output, archive.FormatSize(info.Size()))
	return nil
}
