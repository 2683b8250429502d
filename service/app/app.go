// Package app assembles the graph pipeline and its optional sinks from
// configuration. It is shared by the server, the worker and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/walletgraph/service/accountinfo"
	"github.com/brojonat/walletgraph/service/classify"
	"github.com/brojonat/walletgraph/service/config"
	"github.com/brojonat/walletgraph/service/db"
	"github.com/brojonat/walletgraph/service/fetcher"
	"github.com/brojonat/walletgraph/service/graph"
	"github.com/brojonat/walletgraph/service/graphdb"
	"github.com/brojonat/walletgraph/service/helius"
	"github.com/brojonat/walletgraph/service/metrics"
	natspkg "github.com/brojonat/walletgraph/service/nats"
	"github.com/brojonat/walletgraph/service/pipeline"
	"github.com/brojonat/walletgraph/service/solana"
	"github.com/brojonat/walletgraph/service/transfers"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Components holds the wired dependencies. Store, Publisher and Exporter are
// nil when their backing service is not configured.
type Components struct {
	Config     *config.Config
	Classifier *classify.StaticClassifier
	Helius     *helius.Client
	Fetcher    *fetcher.Fetcher
	Resolver   *accountinfo.Resolver
	Store      *db.Store
	Publisher  *natspkg.JetStreamPublisher
	Exporter   *graphdb.Repository

	pool        *pgxpool.Pool
	graphClient graphdb.Client
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New connects to every configured backend. On error, anything already
// opened is closed.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (_ *Components, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Components{Config: cfg, metrics: m, logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	tables, err := classify.LoadTables(cfg.KnownWalletsFile)
	if err != nil {
		return nil, err
	}
	c.Classifier = classify.New(tables)
	logger.Info("loaded classification tables",
		"programs", len(tables.Programs),
		"exchanges", len(tables.Exchanges),
		"overrides", cfg.KnownWalletsFile,
	)

	c.Helius, err = helius.NewClient(cfg.HeliusBaseURL, cfg.HeliusAPIKey, nil, m, logger)
	if err != nil {
		return nil, err
	}

	extractor := transfers.NewExtractor(c.Classifier, transfers.Options{
		DustThreshold:         cfg.DustThreshold,
		AllowedTypes:          transfers.DefaultAllowedTypes,
		IncludeTokenTransfers: cfg.IncludeTokenTransfers,
		AdmitExchanges:        cfg.AdmitExchanges,
	}, m)
	c.Fetcher = fetcher.New(c.Helius, extractor, logger,
		fetcher.WithMaxTransactions(cfg.MaxTransactions),
		fetcher.WithMetrics(m),
	)

	if cfg.DatabaseURL != "" {
		c.pool, err = db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		c.Store = db.NewStore(c.pool, cfg.AccountCacheTTL, m)
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, account info store and query log disabled")
	}

	solanaClient := solana.NewClient(solana.NewRPCClient(cfg.SolanaRPCURL), solana.EndpointLabel(cfg.SolanaRPCURL), m, logger)
	var store accountinfo.Store
	if c.Store != nil {
		store = c.Store
	}
	c.Resolver = accountinfo.NewResolver(solanaClient, nil, store, accountinfo.Options{
		BatchSize:  cfg.AccountBatchSize,
		BatchDelay: cfg.AccountBatchDelay,
	}, m, logger)

	if cfg.NATSURL != "" {
		c.Publisher, err = natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS_URL not set, graph events disabled")
	}

	if cfg.Neo4jURI != "" {
		c.graphClient, err = graphdb.NewNeo4jClient(ctx, graphdb.Options{
			URI:      cfg.Neo4jURI,
			Database: cfg.Neo4jDatabase,
			Username: cfg.Neo4jUsername,
			Password: cfg.Neo4jPassword,
		})
		if err != nil {
			return nil, err
		}
		c.Exporter = graphdb.New(c.graphClient)
		logger.Info("connected to neo4j", "uri", cfg.Neo4jURI)
	} else {
		logger.Warn("NEO4J_URI not set, graph export disabled")
	}

	return c, nil
}

// Builder creates a pipeline builder. With inlineSinks, Run delivers to the
// configured sinks itself; without, the caller delivers (the worker does so
// from separate activities).
func (c *Components) Builder(inlineSinks bool) (*pipeline.Builder, error) {
	pc := pipeline.Config{
		Fetcher:    c.Fetcher,
		Resolver:   c.Resolver,
		Classifier: c.Classifier,
		Engine: graph.Options{
			MinValueUSD:   c.Config.MinValueUSD,
			NativeUSDRate: c.Config.NativeUSDRate,
		},
		DefaultWindowDays: c.Config.DefaultWindowDays,
		Metrics:           c.metrics,
		Logger:            c.logger,
	}
	if inlineSinks {
		pc.Recorder = c.Recorder()
		pc.Publisher = c.GraphPublisher()
		pc.Exporter = c.GraphExporter()
	}
	b, err := pipeline.New(pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return b, nil
}

// Recorder returns the query log, or a nil interface when disabled.
func (c *Components) Recorder() pipeline.QueryRecorder {
	if c.Store == nil {
		return nil
	}
	return c.Store
}

// GraphPublisher returns the event publisher, or a nil interface when disabled.
func (c *Components) GraphPublisher() pipeline.Publisher {
	if c.Publisher == nil {
		return nil
	}
	return c.Publisher
}

// GraphExporter returns the graph database exporter, or a nil interface when
// disabled.
func (c *Components) GraphExporter() pipeline.Exporter {
	if c.Exporter == nil {
		return nil
	}
	return c.Exporter
}

// Close releases every open connection.
func (c *Components) Close() {
	if c.Publisher != nil {
		c.Publisher.Close()
	}
	if c.graphClient != nil {
		if err := c.graphClient.Close(context.Background()); err != nil {
			c.logger.Warn("failed to close neo4j client", "error", err)
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}
}
