package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/autodrive/core/internal/agentcli"
	"github.com/autodrive/core/internal/alertbus"
	"github.com/autodrive/core/internal/archive"
	"github.com/autodrive/core/internal/backlog"
	"github.com/autodrive/core/internal/clusterbus"
	"github.com/autodrive/core/internal/git"
	"github.com/autodrive/core/internal/housekeeper"
	"github.com/autodrive/core/internal/metrics"
	coreNats "github.com/autodrive/core/internal/nats"
	"github.com/autodrive/core/internal/pipeline"
	"github.com/autodrive/core/internal/progresslog"
	"github.com/autodrive/core/internal/quotes"
	"github.com/autodrive/core/internal/rolehub"
	"github.com/autodrive/core/internal/runlock"
	"github.com/autodrive/core/internal/sessionpool"
	"github.com/autodrive/core/internal/statusserver"
	"github.com/autodrive/core/internal/topology"
)

// ANSI color codes for terminal output
const (
	colorGreen = "\033[32m"
	colorReset = "\033[0m"
)

func main() {
	home := flag.String("home", "data", "Directory holding backlog, progress log, and lock state")
	backlogPath := flag.String("backlog", "", "Feature backlog JSON file (default: <home>/feature_list.json)")
	progressPath := flag.String("progress", "", "Progress log file (default: <home>/progress.log)")
	goalsPath := flag.String("goals", "", "JSON file of dependency-bearing goals to seed the pipeline with")
	agentsPath := flag.String("agents", os.Getenv("AUTODRIVE_AGENTS_CONFIG"), "Agent CLI registry YAML (skips agent dispatch if unset)")
	archivePath := flag.String("archive", os.Getenv("AUTODRIVE_ARCHIVE_PATH"), "SQLite archive path (default: <home>/archive.db)")
	natsURL := flag.String("nats", os.Getenv("AUTODRIVE_NATS_URL"), "NATS URL for cluster telemetry (disabled if unset)")
	natsEmbed := flag.Bool("nats-embed", os.Getenv("AUTODRIVE_NATS_EMBED") != "", "run an in-process NATS+JetStream broker instead of dialing -nats")
	natsEmbedPort := flag.Int("nats-embed-port", 4222, "port for the embedded NATS broker")
	statusAddr := flag.String("status-addr", os.Getenv("AUTODRIVE_STATUS_ADDR"), "Address for the status/websocket server (disabled if unset)")
	repoPath := flag.String("repo", os.Getenv("AUTODRIVE_REPO_PATH"), "Git checkout that write-access roles operate against (branching/diffing disabled if unset)")
	flag.Parse()

	if *backlogPath == "" {
		*backlogPath = filepath.Join(*home, "feature_list.json")
	}
	if *progressPath == "" {
		*progressPath = filepath.Join(*home, "progress.log")
	}
	if *archivePath == "" {
		*archivePath = filepath.Join(*home, "archive.db")
	}

	if err := os.MkdirAll(*home, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create home directory: %v\n", err)
		os.Exit(1)
	}

	lockPath := filepath.Join(*home, "autodrive.lock")
	locked, unlock, err := runlock.Acquire(lockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to acquire instance lock: %v\n", err)
		os.Exit(1)
	}
	if !locked {
		fmt.Fprintf(os.Stderr, "Another auto-drive core already owns %s\n", *home)
		os.Exit(1)
	}
	defer unlock()

	quotes.Init(*home)

	fmt.Print(colorGreen)
	printBanner()
	fmt.Println("  " + quotes.SpawnQuote())
	fmt.Print(colorReset)

	if outcome, err := housekeeper.RunIfDue(*home); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: housekeeping failed: %v\n", err)
	} else if outcome != nil {
		fmt.Printf("  Housekeeper: removed %d session days, %d worktrees, reclaimed %d bytes\n",
			outcome.SessionDaysRemoved, outcome.WorktreesRemoved,
			outcome.SessionBytesReclaimed+outcome.WorktreeBytesReclaimed)
	}

	bl, err := backlog.Load(*backlogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load backlog: %v\n", err)
		os.Exit(1)
	}
	progress := progresslog.New(*progressPath)
	hub := rolehub.New(64)
	pl := pipeline.New()
	recorder := metrics.NewMemoryRecorder()

	alerts := alertbus.New(alertbus.NewDesktopToast("autodrive-core"), alertbus.NewTerminalChannel(os.Stderr))
	if url := os.Getenv("AUTODRIVE_SLACK_WEBHOOK_URL"); url != "" {
		alerts.AddChannel(alertbus.NewSlackChannel(alertbus.SlackConfig{
			WebhookURL: url,
			Channel:    os.Getenv("AUTODRIVE_SLACK_CHANNEL"),
			Username:   "autodrive-core",
		}))
	}
	if url := os.Getenv("AUTODRIVE_DISCORD_WEBHOOK_URL"); url != "" {
		alerts.AddChannel(alertbus.NewDiscordChannel(alertbus.DiscordConfig{
			WebhookURL: url,
			Username:   "autodrive-core",
		}))
	}
	if host := os.Getenv("AUTODRIVE_SMTP_HOST"); host != "" {
		port, _ := strconv.Atoi(os.Getenv("AUTODRIVE_SMTP_PORT"))
		alerts.AddChannel(alertbus.NewEmailChannel(alertbus.EmailConfig{
			SMTPHost: host,
			SMTPPort: port,
			Username: os.Getenv("AUTODRIVE_SMTP_USERNAME"),
			Password: os.Getenv("AUTODRIVE_SMTP_PASSWORD"),
			From:     os.Getenv("AUTODRIVE_SMTP_FROM"),
			To:       strings.Split(os.Getenv("AUTODRIVE_SMTP_TO"), ","),
		}))
	}

	var archiveStore *archive.Store
	if *archivePath != "" {
		archiveStore, err = archive.Open(*archivePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to open archive: %v\n", err)
		} else {
			defer archiveStore.Close()
			fmt.Printf("  Archive opened at %s\n", *archivePath)
		}
	}

	var bus *clusterbus.Bus
	if *natsEmbed {
		embedded, err := coreNats.NewEmbeddedServer(coreNats.EmbeddedServerConfig{
			Port:      *natsEmbedPort,
			JetStream: true,
			DataDir:   filepath.Join(*home, "nats-jetstream"),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to configure embedded NATS broker: %v\n", err)
		} else if err := embedded.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to start embedded NATS broker: %v\n", err)
		} else {
			defer embedded.Shutdown()
			*natsURL = embedded.URL()
			fmt.Printf("  Embedded NATS broker listening on %s\n", *natsURL)
		}
	}
	if *natsURL != "" {
		bus, err = clusterbus.Connect(*natsURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to connect cluster bus: %v\n", err)
		} else {
			defer bus.Close()
			fmt.Printf("  Cluster bus connected to %s\n", *natsURL)
		}
	}

	poolCfg := sessionpool.DefaultConfig()
	pool := sessionpool.New(poolCfg,
		sessionpool.WithRecorder(recorder),
		sessionpool.WithAlertPublisher(&alertbus.PoolPublisher{Bus: alerts}),
	)
	pool.Warmup()

	var registry *agentcli.Registry
	if *agentsPath != "" {
		registry, err = agentcli.Load(*agentsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to load agent registry: %v\n", err)
		}
	}

	var repo *git.Git
	if *repoPath != "" {
		repo = git.New(*repoPath)
		fmt.Printf("  Write-access roles will branch/diff in %s\n", *repoPath)
	}

	var statusSrv *statusserver.Server
	var httpSrv *http.Server
	if *statusAddr != "" {
		statusSrv = statusserver.New(func() interface{} {
			return map[string]interface{}{
				"pool_metrics":  pool.Metrics(),
				"stage_counts":  pl.StageCounts(),
				"backlog_size":  len(bl.Features()),
				"roles":         hub.Roles(),
				"utilization":   pool.Utilization(),
			}
		})
		httpSrv = &http.Server{Addr: *statusAddr, Handler: statusSrv.Handler()}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "Status server error: %v\n", err)
			}
		}()
		fmt.Printf("  Status server listening on %s\n", *statusAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drv := &driver{
		pipeline: pl,
		hub:      hub,
		pool:     pool,
		progress: progress,
		backlog:  bl,
		registry: registry,
		archive:  archiveStore,
		bus:      bus,
		status:   statusSrv,
		repo:     repo,
		branched: make(map[string]bool),
	}

	if *goalsPath != "" {
		goals, err := loadGoals(*goalsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load goals: %v\n", err)
		} else if err := drv.seed(ctx, goals); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to seed goals: %v\n", err)
		}
	}

	go drv.runResultLoop(ctx)
	go drv.runMaintenanceLoop(ctx)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown

	fmt.Println()
	fmt.Println("Shutting down (signal received)... " + quotes.ShutdownQuote())
	cancel()
	pool.Shutdown()

	if httpSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Status server shutdown error: %v\n", err)
		}
	}

	fmt.Println("Goodbye!")
}

// loadGoals reads a dependency-bearing task batch for the topology resolver.
func loadGoals(path string) ([]topology.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var goals []topology.Task
	if err := json.Unmarshal(data, &goals); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return goals, nil
}

// runAgentCommand executes a resolved agentcli command to completion,
// returning its combined output and whether it exited cleanly.
func runAgentCommand(ctx context.Context, cmd agentcli.Command) (string, bool, time.Duration) {
	start := time.Now()
	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	out, err := c.CombinedOutput()
	return string(out), err == nil, time.Since(start)
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════════╗")
	fmt.Println("║              auto-drive execution core                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════╝")
}
