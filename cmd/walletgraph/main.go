package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "walletgraph",
		Usage: "Solana wallet counterparty graph CLI",
		Description: `A command-line tool for building and inspecting wallet counterparty graphs.

Build graphs locally or through the server, follow background jobs, and
inspect the query log, graph events and the graph database.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Graph commands
			{
				Name:  "graph",
				Usage: "Build and inspect counterparty graphs",
				Subcommands: []*cli.Command{
					buildGraphCommand(),
					getGraphCommand(),
					streamGraphCommand(),
					storedGraphCommand(),
				},
			},
			classifyCommand(),
			// Raw indexer access
			{
				Name:  "tx",
				Usage: "Indexer transaction commands",
				Subcommands: []*cli.Command{
					getTransactionCommand(),
				},
			},
			// Background job commands (HTTP API)
			{
				Name:  "jobs",
				Usage: "Background graph job commands",
				Subcommands: []*cli.Command{
					startJobCommand(),
					jobStatusCommand(),
					awaitJobCommand(),
				},
			},
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					listQueriesCommand(),
					getQueryCommand(),
					pruneAccountsCommand(),
				},
			},
			// NATS graph event commands
			{
				Name:  "nats",
				Usage: "NATS graph event commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "walletgraph server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "neo4j-uri",
				Usage:   "Neo4j connection URI",
				EnvVars: []string{"NEO4J_URI"},
				Value:   "neo4j://localhost:7687",
			},
			&cli.StringFlag{
				Name:    "neo4j-username",
				Usage:   "Neo4j username",
				EnvVars: []string{"NEO4J_USERNAME"},
				Value:   "neo4j",
			},
			&cli.StringFlag{
				Name:    "neo4j-password",
				Usage:   "Neo4j password",
				EnvVars: []string{"NEO4J_PASSWORD"},
			},
			&cli.StringFlag{
				Name:    "neo4j-database",
				Usage:   "Neo4j database name",
				EnvVars: []string{"NEO4J_DATABASE"},
				Value:   "neo4j",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to the JSON output (implies --json, string results print raw)",
			},
		},
	}
}
