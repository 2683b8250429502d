package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/brojonat/walletgraph/service/db"
	"github.com/urfave/cli/v2"
)

func listQueriesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-queries",
		Usage:   "List recent graph queries from the query log",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "Only list queries for this wallet",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of queries",
				Value:   20,
			},
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "Read the query log through the server instead of the database",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var queries []queryRow
			if c.Bool("remote") {
				records, err := newServerClient(c).Queries(ctx, c.String("address"), c.Int("limit"))
				if err != nil {
					return fmt.Errorf("failed to list queries: %w", err)
				}
				for _, r := range records {
					queries = append(queries, queryRow{
						ID: r.ID, Address: r.Address, WindowDays: r.WindowDays, Status: r.Status,
						TransactionCount: r.TransactionCount, CounterpartyCount: r.CounterpartyCount,
						NetFlow: r.NetFlow.String(), CreatedAt: r.CreatedAt,
					})
				}
				if wantJSON(c) {
					return outputJSON(c, records)
				}
			} else {
				store, closer, err := getStore(c)
				if err != nil {
					return err
				}
				defer closer()

				rows, err := store.ListGraphQueries(ctx, c.String("address"), int32(c.Int("limit")))
				if err != nil {
					return fmt.Errorf("failed to list queries: %w", err)
				}
				if wantJSON(c) {
					if rows == nil {
						rows = []*db.GraphQuery{}
					}
					return outputJSON(c, rows)
				}
				for _, r := range rows {
					queries = append(queries, queryRow{
						ID: r.ID, Address: r.Address, WindowDays: r.WindowDays, Status: r.Status,
						TransactionCount: r.TransactionCount, CounterpartyCount: r.CounterpartyCount,
						NetFlow: r.NetFlow.String(), CreatedAt: r.CreatedAt,
					})
				}
			}

			// Pretty table output
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tADDRESS\tDAYS\tSTATUS\tTXS\tCOUNTERPARTIES\tNET FLOW\tCREATED")
			for _, q := range queries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%s\t%s\n",
					q.ID,
					q.Address,
					q.WindowDays,
					q.Status,
					q.TransactionCount,
					q.CounterpartyCount,
					q.NetFlow,
					q.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d queries\n", len(queries))
			return nil
		},
	}
}

// queryRow is the table form shared by the local and remote query listings.
type queryRow struct {
	ID                string
	Address           string
	WindowDays        int
	Status            string
	TransactionCount  int
	CounterpartyCount int
	NetFlow           string
	CreatedAt         time.Time
}

func getQueryCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-query",
		Usage:     "Show one graph query from the query log",
		Aliases:   []string{"get"},
		ArgsUsage: "<query-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "Read the query log through the server instead of the database",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: query id")
			}
			id := c.Args().First()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var q *db.GraphQuery
			if c.Bool("remote") {
				r, err := newServerClient(c).Query(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to get query: %w", err)
				}
				q = &db.GraphQuery{
					ID:                  r.ID,
					Address:             r.Address,
					WindowDays:          r.WindowDays,
					Status:              r.Status,
					Message:             r.Message,
					RawTransactionCount: r.RawTransactionCount,
					TransactionCount:    r.TransactionCount,
					CounterpartyCount:   r.CounterpartyCount,
					TotalSent:           r.TotalSent,
					TotalReceived:       r.TotalReceived,
					NetFlow:             r.NetFlow,
					Truncated:           r.Truncated,
					Stats:               r.Stats,
					StartedAt:           r.StartedAt,
					CompletedAt:         r.CompletedAt,
					CreatedAt:           r.CreatedAt,
				}
			} else {
				store, closer, err := getStore(c)
				if err != nil {
					return err
				}
				defer closer()

				q, err = store.GetGraphQuery(ctx, id)
				if errors.Is(err, db.ErrNotFound) {
					return fmt.Errorf("query %s not found", id)
				}
				if err != nil {
					return fmt.Errorf("failed to get query: %w", err)
				}
			}

			if wantJSON(c) {
				return outputJSON(c, q)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID:\t%s\n", q.ID)
			fmt.Fprintf(w, "Address:\t%s\n", q.Address)
			fmt.Fprintf(w, "Window:\t%d days\n", q.WindowDays)
			fmt.Fprintf(w, "Status:\t%s\n", q.Status)
			if q.Message != "" {
				fmt.Fprintf(w, "Message:\t%s\n", q.Message)
			}
			fmt.Fprintf(w, "Transactions:\t%d of %d fetched\n", q.TransactionCount, q.RawTransactionCount)
			fmt.Fprintf(w, "Truncated:\t%v\n", q.Truncated)
			fmt.Fprintf(w, "Counterparties:\t%d (%d exchanges)\n", q.CounterpartyCount, q.Stats.ExchangeCount)
			fmt.Fprintf(w, "Sent:\t%s\n", q.TotalSent.String())
			fmt.Fprintf(w, "Received:\t%s\n", q.TotalReceived.String())
			fmt.Fprintf(w, "Net flow:\t%s\n", q.NetFlow.String())
			fmt.Fprintf(w, "Started:\t%s\n", q.StartedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Duration:\t%s\n", q.CompletedAt.Sub(q.StartedAt))
			return w.Flush()
		},
	}
}

func pruneAccountsCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune-accounts",
		Usage: "Delete expired entries from the account info store",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "ttl",
				Usage:   "Account info lifetime",
				EnvVars: []string{"ACCOUNT_CACHE_TTL"},
				Value:   db.DefaultAccountInfoTTL,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStoreWithTTL(c, c.Duration("ttl"))
			if err != nil {
				return err
			}
			defer closer()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			n, err := store.DeleteExpiredAccountInfos(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Deleted %d expired account info entries\n", n)
			return nil
		},
	}
}

// getStore creates a database store from CLI context.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	return getStoreWithTTL(c, db.DefaultAccountInfoTTL)
}

func getStoreWithTTL(c *cli.Context, ttl time.Duration) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dbURL)
	if err != nil {
		return nil, nil, err
	}

	store := db.NewStore(pool, ttl, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}
