package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/oakd/internal/app"
	"github.com/dotcommander/oakd/internal/embeddings"
	"github.com/dotcommander/oakd/internal/identity"
	"github.com/dotcommander/oakd/internal/llm"
	"github.com/dotcommander/oakd/internal/processor"
	"github.com/dotcommander/oakd/internal/relay"
	"github.com/dotcommander/oakd/internal/scheduler"
	"github.com/dotcommander/oakd/internal/server"
	"github.com/dotcommander/oakd/internal/store"
	"github.com/dotcommander/oakd/internal/tunnel"
	"github.com/dotcommander/oakd/internal/vector"
)

// NewServeCmd starts oakd as a headless daemon: the hook/tool-call HTTP
// surface plus the background scheduler loop, sharing one relational store
// handle and one vector store handle. Grounded on telnet2-opencode's own
// serve command for the start-goroutine/signal-wait/graceful-shutdown shape.
func NewServeCmd(version string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the oakd daemon (hook surface, tool-call surface, scheduler)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(version, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP address to listen on (overrides config.yaml http_addr)")

	return cmd
}

func runServe(version, addrOverride string) error {
	settings := app.EffectiveSettings()
	if addrOverride != "" {
		settings.HTTPAddr = addrOverride
	}

	bearerToken, err := app.EnsureBearerToken(&settings)
	if err != nil {
		return cmdErr(fmt.Errorf("ensure bearer token: %w", err))
	}

	dbPath, err := app.GetDBPath()
	if err != nil {
		return cmdErr(err)
	}
	db, err := store.InitDBWithPath(dbPath)
	if err != nil {
		return cmdErr(fmt.Errorf("init database: %w", err))
	}
	defer db.Close()

	machineID := resolveMachineID()

	embedder := embeddings.NewOpenAIEmbedder(
		settings.EmbeddingBaseURL,
		os.Getenv(settings.EmbeddingAPIKeyEnv),
		settings.EmbeddingModel,
		embeddings.DimensionForModel(settings.EmbeddingModel),
	)
	vs, err := vector.New(settings.VectorStoreDir, embedder)
	if err != nil {
		return cmdErr(fmt.Errorf("open vector store: %w", err))
	}
	defer vs.Close()

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = settings.HTTPAddr
	srvCfg.BearerToken = bearerToken
	srvCfg.MachineID = machineID
	srvCfg.Version = version
	srvCfg.RelevanceThreshold = settings.RelevanceThreshold
	srv := server.New(srvCfg, db, vs)

	backend := buildExtractionBackend(settings)
	proc := processor.New(db, vs, backend, machineID, processor.Config{
		MaxActivities:           settings.MaxActivitiesPerBatch,
		MaxUserPromptChars:      settings.MaxUserPromptChars,
		MaxContextChars:         settings.MaxContextChars,
		MinOutputTokens:         settings.MinOutputTokens,
		ContextTokens:           settings.ContextTokens,
		MaxObservationsPerBatch: settings.MaxObservationsPerBatch,
	})

	instances := scheduler.NewInstancesFromConfig(settings.Instances, settings.LLMAgent)
	sched := scheduler.New(db, instances, scheduler.Config{
		Interval:               time.Duration(settings.SchedulerIntervalSec) * time.Second,
		StopTimeout:            time.Duration(settings.SchedulerStopTimeoutSec) * time.Second,
		WatchdogBuffer:         time.Duration(settings.WatchdogBufferSec) * time.Second,
		WatchdogDefaultTimeout: time.Duration(settings.WatchdogDefaultTimeoutSec) * time.Second,
	})

	ctx, cancelScheduler := context.WithCancel(context.Background())
	stop := make(chan struct{})
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		sched.Run(ctx, stop, proc)
	}()

	go func() {
		slog.Info("oakd serving", "addr", settings.HTTPAddr, "version", version)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err.Error())
		}
	}()

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	if settings.CloudRelayEnabled {
		client := relay.New(
			settings.CloudRelayWorkerURL,
			os.Getenv(settings.CloudRelayTokenEnv),
			settings.HTTPAddr,
			bearerToken,
			time.Duration(settings.CloudRelayToolTimeoutSec)*time.Second,
			time.Duration(settings.CloudRelayReconnectMaxSec)*time.Second,
		)
		go func() {
			defer close(relayDone)
			client.Run(relayCtx)
		}()
	} else {
		close(relayDone)
	}

	var tunnelProvider tunnel.Provider
	if settings.TunnelEnabled {
		tunnelProvider = buildTunnelProvider(settings)
		if _, portStr, ok := splitAddr(settings.HTTPAddr); ok {
			if port, err := strconv.Atoi(portStr); err == nil {
				go func() {
					if _, err := tunnelProvider.Start(relayCtx, port); err != nil {
						slog.Error("tunnel failed to start", "error", err.Error())
					}
				}()
			} else {
				slog.Error("tunnel not started: could not parse http_addr port", "http_addr", settings.HTTPAddr)
			}
		} else {
			slog.Error("tunnel not started: could not parse http_addr", "http_addr", settings.HTTPAddr)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	close(stop)
	cancelScheduler()
	<-schedulerDone

	if tunnelProvider != nil {
		if err := tunnelProvider.Stop(); err != nil {
			slog.Error("tunnel shutdown error", "error", err.Error())
		}
	}
	cancelRelay()
	<-relayDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err.Error())
	}

	slog.Info("oakd stopped")
	return nil
}

// buildTunnelProvider selects the tunnel.Provider per settings.TunnelProvider.
// cloudflared is the only implementation today; an unrecognized value still
// falls back to it rather than refusing to start the daemon.
func buildTunnelProvider(settings app.Settings) tunnel.Provider {
	switch settings.TunnelProvider {
	default:
		return tunnel.NewCloudflaredProvider(settings.TunnelBinaryPath)
	}
}

// splitAddr splits an "host:port" address into its host and port parts,
// returning ok=false if it cannot be parsed.
func splitAddr(addr string) (host, port string, ok bool) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", "", false
	}
	return h, p, true
}

// buildExtractionBackend selects the processor Backend per
// settings.ExtractionBackend. A Runner construction failure (CLI not found
// in PATH, say) degrades to a nil Backend rather than refusing to start --
// ingestion and retrieval still work with no LLM configured at all, they
// just never produce extracted observations.
func buildExtractionBackend(settings app.Settings) processor.Backend {
	switch settings.ExtractionBackend {
	case "http":
		return processor.NewHTTPBackend(llm.NewClient(
			settings.ExtractionBaseURL,
			os.Getenv(settings.ExtractionAPIKeyEnv),
			settings.ExtractionModel,
		))
	default:
		runner, err := llm.NewRunner(settings.LLMAgent)
		if err != nil {
			slog.Warn("no extraction backend available, batches will classify only", "error", err.Error())
			return nil
		}
		return processor.NewCLIBackend(runner)
	}
}

// resolveMachineID returns this machine's stable identity for
// SourceMachineID stamping and team-backup attribution: the hashed
// identity.MachineID, so the raw hostname/username never appears in rows or
// in the backup file name that backup.ListTeamFiles excludes as this
// machine's own.
func resolveMachineID() string {
	return identity.MachineID()
}
