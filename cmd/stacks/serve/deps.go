package servecmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/papercomputeco/stacks/pkg/credentials"
	"github.com/papercomputeco/stacks/pkg/embeddings"
	embeddingutils "github.com/papercomputeco/stacks/pkg/embeddings/utils"
	"github.com/papercomputeco/stacks/pkg/eventstream"
	"github.com/papercomputeco/stacks/pkg/eventstream/kafka"
	"github.com/papercomputeco/stacks/pkg/eventstream/nop"
	"github.com/papercomputeco/stacks/pkg/jobs"
	"github.com/papercomputeco/stacks/pkg/jobs/sqlstore"
	"github.com/papercomputeco/stacks/pkg/vector"
	vectorutils "github.com/papercomputeco/stacks/pkg/vector/utils"
)

const (
	defaultVectorDBFile = "stacks.db"
	defaultJobsDBFile   = "jobs.db"
)

// newEmbedder returns a nil embedder, and so simulation mode, when the
// provider is disabled or lacks credentials.
func (c *ServeCommander) newEmbedder() (embeddings.Embedder, error) {
	e := c.cfg.Embedding

	apiKey := e.APIKey
	if apiKey == "" {
		key, err := c.resolveKey(e.Provider)
		if err != nil {
			return nil, err
		}
		apiKey = key
	}

	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: e.Provider,
		TargetURL:    e.Target,
		Model:        e.Model,
		APIKey:       apiKey,
		Dimensions:   e.Dimensions,
		Timeout:      millis(c.cfg.Ingest.CallTimeoutMS),
	})
	if errors.Is(err, embeddings.ErrNotConfigured) {
		c.logger.Warn("no embedding provider configured, running in simulation mode",
			"provider", e.Provider,
		)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	c.logger.Info("using embedding provider",
		"provider", e.Provider,
		"model", e.Model,
		"dimensions", e.Dimensions,
	)
	return embedder, nil
}

func (c *ServeCommander) newVectorDriver() (vector.Driver, error) {
	vs := c.cfg.VectorStore

	target := vs.Target
	if target == "" && (vs.Provider == "sqlite" || vs.Provider == "sqlitevec") {
		target = filepath.Join(c.dataDir, defaultVectorDBFile)
	}

	apiKey, err := c.resolveKey(vs.Provider)
	if err != nil {
		return nil, err
	}

	driver, err := vectorutils.NewVectorDriver(&vectorutils.NewVectorDriverOpts{
		ProviderType:   vs.Provider,
		TargetURL:      target,
		CollectionName: vs.Collection,
		APIKey:         apiKey,
		Dimensions:     c.cfg.Embedding.Dimensions,
		Logger:         c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating vector driver: %w", err)
	}

	c.logger.Info("using vector store",
		"provider", vs.Provider,
		"target", target,
		"collection", vs.Collection,
	)
	return driver, nil
}

func (c *ServeCommander) newTracker(ctx context.Context) (jobs.Tracker, error) {
	j := c.cfg.Jobs
	retention := millis(j.RetentionMS)

	switch j.Provider {
	case "", "memory":
		c.logger.Info("using in-memory job tracker")
		return jobs.NewMemoryTracker(jobs.MemoryTrackerConfig{Retention: retention}), nil

	case "sqlite":
		path := j.DSN
		if path == "" {
			path = filepath.Join(c.dataDir, defaultJobsDBFile)
		}
		store, err := sqlstore.NewSQLite(ctx, path, sqlstore.Options{Retention: retention})
		if err != nil {
			return nil, fmt.Errorf("creating SQLite job tracker: %w", err)
		}
		c.logger.Info("using SQLite job tracker", "path", path)
		return store, nil

	case "postgres":
		if j.DSN == "" {
			return nil, errors.New("jobs.dsn is required for the postgres job tracker")
		}
		store, err := sqlstore.NewPostgres(ctx, j.DSN, sqlstore.Options{Retention: retention})
		if err != nil {
			return nil, fmt.Errorf("creating PostgreSQL job tracker: %w", err)
		}
		c.logger.Info("using PostgreSQL job tracker")
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported job tracker provider: %s", j.Provider)
	}
}

func (c *ServeCommander) newPublisher() (eventstream.Publisher, error) {
	ev := c.cfg.Events

	switch ev.Provider {
	case "", "none":
		return nop.NewPublisher(), nil

	case "kafka":
		publisher, err := kafka.NewPublisher(kafka.Config{
			Brokers: splitBrokers(ev.Brokers),
			Topic:   ev.Topic,
		})
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		c.logger.Info("publishing job events to kafka",
			"brokers", ev.Brokers,
			"topic", ev.Topic,
		)
		return publisher, nil

	default:
		return nil, fmt.Errorf("unsupported events provider: %s", ev.Provider)
	}
}

// resolveKey looks up a stored or environment API key for provider. Providers
// that take no key resolve to "".
func (c *ServeCommander) resolveKey(provider string) (string, error) {
	if !credentials.IsSupportedProvider(provider) {
		return "", nil
	}

	mgr, err := credentials.NewManager(c.dataDir)
	if err != nil {
		return "", fmt.Errorf("loading credentials: %w", err)
	}
	return mgr.Resolve(provider)
}

func splitBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func closeQuietly(closers ...io.Closer) {
	for _, c := range closers {
		if c != nil {
			_ = c.Close()
		}
	}
}
