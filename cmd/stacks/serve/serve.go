// Package servecmder provides the serve command: the composition root that
// wires configuration, gateways, the job tracker, the ingest runner and the
// API server together.
package servecmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/stacks/api"
	"github.com/papercomputeco/stacks/pkg/chunker"
	"github.com/papercomputeco/stacks/pkg/config"
	"github.com/papercomputeco/stacks/pkg/dotdir"
	"github.com/papercomputeco/stacks/pkg/ingest"
	"github.com/papercomputeco/stacks/pkg/logger"
	"github.com/papercomputeco/stacks/pkg/pipeline"
	"github.com/papercomputeco/stacks/pkg/retrieval"
)

const sweepInterval = time.Minute

// shutdownTimeout bounds how long queued and running jobs may drain on
// shutdown before they are cancelled.
const shutdownTimeout = 30 * time.Second

type ServeCommander struct {
	// Flag targets. Values reach cfg through viper so that
	// flag > env > config file > default holds for every key.
	listen          string
	vectorProvider  string
	vectorTarget    string
	collection      string
	embedProvider   string
	embedTarget     string
	embedModel      string
	embedDimensions uint
	batchSize       uint
	workers         uint
	jobsProvider    string
	jobsDSN         string
	eventsProvider  string
	eventsBrokers   string
	maxPassages     uint
	maxContextChars uint

	jsonLogs   bool
	disableMCP bool
	debug      bool

	cfg     *config.Config
	dataDir string
	logger  *slog.Logger
}

// serveFlags are the registry flags bound to viper for this command.
var serveFlags = []string{
	config.FlagAPIListen,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagCollection,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagBatchSize,
	config.FlagWorkers,
	config.FlagJobsProvider,
	config.FlagJobsDSN,
	config.FlagEventsProvider,
	config.FlagEventsBrokers,
	config.FlagMaxPassages,
	config.FlagMaxContextChars,
}

const serveLongDesc string = `Run the stacks API server and ingest workers.

Documents posted to the server are chunked, embedded in batches by a pool of
background workers and stored in the configured vector store. Job progress
can be polled while ingestion runs, and retrieval context is assembled on
demand.

When no embedding provider is configured (embedding.provider = "none", or a
provider without credentials) the server runs in simulation mode: jobs still
advance and report progress but nothing is embedded or stored.

Configuration is read from config.toml in the .stacks/ directory, STACKS_*
environment variables and the flags below, in increasing precedence.

Examples:
  stacks serve
  stacks serve --listen :9000 --vector-store-provider qdrant --vector-store-target localhost:6334
  STACKS_EMBEDDING_API_KEY=sk-... stacks serve --embedding-provider openai`

const serveShortDesc string = "Run the stacks API server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, serveFlags)

			cmder.cfg, err = config.FromViper(v)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cmder.dataDir, err = dotdir.NewManager().Target(configDir)
			if err != nil {
				return fmt.Errorf("resolving data directory: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &cmder.vectorProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &cmder.vectorTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagCollection, &cmder.collection)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &cmder.embedProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &cmder.embedTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &cmder.embedModel)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &cmder.embedDimensions)
	config.AddUintFlag(cmd, config.Flags, config.FlagBatchSize, &cmder.batchSize)
	config.AddUintFlag(cmd, config.Flags, config.FlagWorkers, &cmder.workers)
	config.AddStringFlag(cmd, config.Flags, config.FlagJobsProvider, &cmder.jobsProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagJobsDSN, &cmder.jobsDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsProvider, &cmder.eventsProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsBrokers, &cmder.eventsBrokers)
	config.AddUintFlag(cmd, config.Flags, config.FlagMaxPassages, &cmder.maxPassages)
	config.AddUintFlag(cmd, config.Flags, config.FlagMaxContextChars, &cmder.maxContextChars)
	cmd.Flags().BoolVar(&cmder.jsonLogs, "json-logs", false, "Emit JSON structured logs")
	cmd.Flags().BoolVar(&cmder.disableMCP, "no-mcp", false, "Do not mount the MCP endpoint at /mcp")

	return cmd
}

func (c *ServeCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	format := logger.FormatPretty
	if c.jsonLogs {
		format = logger.FormatJSON
	}
	terminal := logger.New(logger.WithDebug(c.debug), logger.WithFormat(format))

	logFile, err := dotdir.NewManager().OpenServeLog(c.dataDir)
	if err != nil {
		return err
	}
	defer logFile.Close()

	c.logger = logger.Multi(
		terminal,
		logger.New(logger.WithDebug(c.debug), logger.WithFormat(logger.FormatJSON), logger.WithWriter(logFile)),
	)

	svc, closePublisher, err := c.buildService(ctx)
	if err != nil {
		return err
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Shutdown(drainCtx); err != nil {
			c.logger.Warn("error closing pipeline", "error", err)
		}
		if err := closePublisher(); err != nil {
			c.logger.Warn("error closing event publisher", "error", err)
		}
	}()

	server, err := api.NewServer(api.Config{
		ListenAddr: c.cfg.API.Listen,
		Retrieval: retrieval.Options{
			MaxPassages:     int(c.cfg.Retrieval.MaxPassages),
			MaxContextChars: int(c.cfg.Retrieval.MaxContextChars),
		},
		DisableMCP: c.disableMCP,
	}, svc, c.logger)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go svc.RunSweeper(sweepCtx, sweepInterval)

	// Channel to capture errors from the server goroutine
	errChan := make(chan error, 1)

	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
	}

	// The HTTP server stops first so no new jobs arrive while the runner drains.
	if err := server.Shutdown(); err != nil {
		c.logger.Warn("error shutting down API server", "error", err)
	}
	return nil
}

// buildService constructs every collaborator of the pipeline. The returned
// close func releases the event publisher, which the pipeline does not own.
func (c *ServeCommander) buildService(ctx context.Context) (*pipeline.Service, func() error, error) {
	cfg := c.cfg

	embedder, err := c.newEmbedder()
	if err != nil {
		return nil, nil, err
	}

	driver, err := c.newVectorDriver()
	if err != nil {
		closeQuietly(embedder)
		return nil, nil, err
	}

	tracker, err := c.newTracker(ctx)
	if err != nil {
		closeQuietly(embedder, driver)
		return nil, nil, err
	}

	publisher, err := c.newPublisher()
	if err != nil {
		closeQuietly(embedder, driver, tracker)
		return nil, nil, err
	}

	runnerConfig := &ingest.Config{
		Embedder:               embedder,
		Driver:                 driver,
		Tracker:                tracker,
		Publisher:              publisher,
		NumWorkers:             cfg.Ingest.Workers,
		QueueSize:              cfg.Ingest.QueueSize,
		BatchSize:              int(cfg.Ingest.BatchSize),
		BatchInterval:          millis(cfg.Ingest.BatchIntervalMS),
		CallTimeout:            millis(cfg.Ingest.CallTimeoutMS),
		MaxConsecutiveFailures: int(cfg.Ingest.MaxConsecutiveFailures),
		UpsertRetries:          int(cfg.Ingest.UpsertRetries),
		SimulationInterval:     millis(cfg.Ingest.SimulationIntervalMS),
		JobTimeout:             millis(cfg.Ingest.JobTimeoutMS),
		Logger:                 c.logger,
	}
	runner, err := ingest.NewRunner(runnerConfig)
	if err != nil {
		closeQuietly(embedder, driver, tracker, publisher)
		return nil, nil, fmt.Errorf("creating ingest runner: %w", err)
	}

	svc, err := pipeline.New(pipeline.Config{
		Runner:   runner,
		Tracker:  tracker,
		Driver:   driver,
		Embedder: embedder,
		Chunking: chunker.Options{
			TargetSize: int(cfg.Chunking.TargetSize),
			Overlap:    int(cfg.Chunking.OverlapOrDefault()),
		},
		CallTimeout: millis(cfg.Ingest.CallTimeoutMS),
		Logger:      c.logger,
	})
	if err != nil {
		runner.Close()
		closeQuietly(embedder, driver, tracker, publisher)
		return nil, nil, fmt.Errorf("creating pipeline: %w", err)
	}

	return svc, publisher.Close, nil
}

func millis(ms uint) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
