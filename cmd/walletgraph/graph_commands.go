package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/walletgraph/client"
	"github.com/brojonat/walletgraph/service/app"
	"github.com/brojonat/walletgraph/service/config"
	"github.com/brojonat/walletgraph/service/graph"
	"github.com/brojonat/walletgraph/service/graphdb"
	"github.com/brojonat/walletgraph/service/pipeline"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

// viewFlags are the request and presentation options shared by the graph
// commands.
func viewFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "days",
			Aliases: []string{"d"},
			Usage:   "Lookback window in days (0 uses the configured default)",
		},
		&cli.StringFlag{
			Name:  "min-usd",
			Usage: "Minimum native transfer value in USD (empty uses the configured default)",
		},
		&cli.IntFlag{
			Name:  "max-nodes",
			Usage: "Maximum number of graph nodes to show",
		},
		&cli.StringFlag{
			Name:  "token",
			Usage: "Only keep counterparties that moved this token (symbol or mint)",
		},
		&cli.IntFlag{
			Name:  "min-tx",
			Usage: "Only keep counterparties with at least this many transactions",
		},
		&cli.IntFlag{
			Name:  "top",
			Usage: "Number of top counterparties to list",
		},
	}
}

// graphOptions reads the view flags.
func graphOptions(c *cli.Context) (client.GraphOptions, error) {
	opts := client.GraphOptions{
		Days:     c.Int("days"),
		MaxNodes: c.Int("max-nodes"),
		Token:    c.String("token"),
		MinTx:    c.Int("min-tx"),
		Top:      c.Int("top"),
	}
	if opts.Days < 0 {
		return opts, fmt.Errorf("--days cannot be negative")
	}
	if s := c.String("min-usd"); s != "" {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return opts, fmt.Errorf("invalid --min-usd %q: %w", s, err)
		}
		if v.IsNegative() {
			return opts, fmt.Errorf("--min-usd cannot be negative")
		}
		opts.MinUSD = decimal.NewNullDecimal(v)
	}
	return opts, nil
}

func requireAddress(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("requires exactly one argument: wallet address")
	}
	return c.Args().First(), nil
}

func buildGraphCommand() *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "Build a graph locally using the environment configuration",
		ArgsUsage: "<address>",
		Flags: append(viewFlags(),
			&cli.BoolFlag{
				Name:  "deliver",
				Usage: "Deliver the result to the configured query log, NATS and Neo4j",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log pipeline activity to stderr",
			},
		),
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}
			opts, err := graphOptions(c)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if c.Bool("verbose") {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: level}))

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			components, err := app.New(ctx, cfg, nil, logger)
			if err != nil {
				return err
			}
			defer components.Close()

			builder, err := components.Builder(c.Bool("deliver"))
			if err != nil {
				return err
			}

			res, err := builder.Run(ctx, pipeline.Request{
				Address:     address,
				WindowDays:  opts.Days,
				MinValueUSD: opts.MinUSD,
			}, func(msg string) {
				fmt.Fprintln(c.App.ErrWriter, msg)
			})
			if err != nil {
				return fmt.Errorf("failed to build graph: %w", err)
			}

			if opts.MaxNodes <= 0 {
				opts.MaxNodes = cfg.MaxRenderNodes
			}
			resp := responseFromResult(res, opts)
			if wantJSON(c) {
				return outputJSON(c, resp)
			}
			printGraph(c.App.Writer, resp)
			return nil
		},
	}
}

func getGraphCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Build a graph through the server",
		ArgsUsage: "<address>",
		Flags: append(viewFlags(),
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Minute,
			},
		),
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}
			opts, err := graphOptions(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			resp, err := newServerClient(c).Graph(ctx, address, opts)
			if err != nil {
				return fmt.Errorf("failed to get graph: %w", err)
			}

			if wantJSON(c) {
				return outputJSON(c, resp)
			}
			printGraph(c.App.Writer, resp)
			return nil
		},
	}
}

func streamGraphCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Build a graph through the server websocket, printing progress",
		ArgsUsage: "<address>",
		Flags:     viewFlags(),
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}
			opts, err := graphOptions(c)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			resp, err := newServerClient(c).StreamGraph(ctx, address, opts, func(msg string) {
				fmt.Fprintf(c.App.ErrWriter, "[%s] %s\n", time.Now().Format("15:04:05"), msg)
			})
			if err != nil {
				return fmt.Errorf("failed to stream graph: %w", err)
			}

			if wantJSON(c) {
				return outputJSON(c, resp)
			}
			printGraph(c.App.Writer, resp)
			return nil
		},
	}
}

func storedGraphCommand() *cli.Command {
	return &cli.Command{
		Name:      "stored",
		Usage:     "List the counterparties exported to Neo4j for a wallet",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of counterparties",
				Value:   graph.DefaultTopLimit,
			},
		},
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			gc, err := graphdb.NewNeo4jClient(ctx, graphdb.Options{
				URI:      c.String("neo4j-uri"),
				Database: c.String("neo4j-database"),
				Username: c.String("neo4j-username"),
				Password: c.String("neo4j-password"),
			})
			if err != nil {
				return fmt.Errorf("failed to connect to neo4j: %w", err)
			}
			defer gc.Close(context.Background())

			stored, err := graphdb.New(gc).Counterparties(ctx, address, c.Int("limit"))
			if err != nil {
				return err
			}

			if wantJSON(c) {
				return outputJSON(c, stored)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "COUNTERPARTY\tLABEL\tEXCHANGE\tTXS\tNET FLOW\tDIRECTION")
			for _, cp := range stored {
				fmt.Fprintf(w, "%s\t%s\t%v\t%d\t%s\t%s\n",
					cp.Address,
					cp.Label,
					cp.IsExchange,
					cp.TransactionCount,
					cp.NetFlow,
					cp.Direction,
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d counterparties\n", len(stored))
			return nil
		},
	}
}

func newServerClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, nil)
}

// responseFromResult applies the view options to a locally built result so
// it prints the same way as a server response.
func responseFromResult(res *pipeline.Result, opts client.GraphOptions) *client.GraphResponse {
	resp := &client.GraphResponse{
		QueryID:             res.QueryID,
		Address:             res.Address,
		WindowDays:          res.WindowDays,
		Status:              res.Status,
		Message:             res.Message,
		RawTransactionCount: res.RawTransactionCount,
		TransactionCount:    res.TransactionCount,
		Truncated:           res.Truncated,
		DurationMS:          res.Duration().Milliseconds(),
		TopCounterparties:   []graph.Node{},
	}
	if res.Graph == nil {
		return resp
	}

	g := graph.FilterByToken(res.Graph, opts.Token)
	g = graph.FilterByMinTransactions(g, opts.MinTx)
	resp.Summary = graph.Summarize(g)
	resp.TopCounterparties = graph.TopCounterparties(g, opts.Top)
	resp.Graph = graph.Limit(g, opts.MaxNodes)
	return resp
}

// printGraph writes a human readable summary of a graph response.
func printGraph(out io.Writer, resp *client.GraphResponse) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Address:\t%s\n", resp.Address)
	fmt.Fprintf(w, "Window:\t%d days\n", resp.WindowDays)
	fmt.Fprintf(w, "Status:\t%s\n", resp.Status)
	if resp.Message != "" {
		fmt.Fprintf(w, "Message:\t%s\n", resp.Message)
	}
	txLine := fmt.Sprintf("%d of %d fetched", resp.TransactionCount, resp.RawTransactionCount)
	if resp.Truncated {
		txLine += " (truncated)"
	}
	fmt.Fprintf(w, "Transactions:\t%s\n", txLine)
	fmt.Fprintf(w, "Duration:\t%s\n", (time.Duration(resp.DurationMS) * time.Millisecond).String())

	if resp.Graph != nil {
		st := resp.Graph.Stats
		fmt.Fprintf(w, "Counterparties:\t%d (%d exchanges)\n", st.TotalCounterparties, st.ExchangeCount)
		fmt.Fprintf(w, "Sent:\t%s\n", st.TotalSent.String())
		fmt.Fprintf(w, "Received:\t%s\n", st.TotalReceived.String())
		fmt.Fprintf(w, "Net flow:\t%s\n", st.NetFlow.String())
		fmt.Fprintf(w, "Filtered:\t%d below $%s, %d non-wallet accounts\n",
			st.FilteredByValue, st.MinValueUSD.String(), st.FilteredByAccountType)
	}
	w.Flush()

	if len(resp.TopCounterparties) == 0 {
		return
	}

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COUNTERPARTY\tLABEL\tTXS\tSENT\tRECEIVED\tNET\tTOKENS")
	for _, n := range resp.TopCounterparties {
		if n.Stats == nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%v\n",
			n.Address,
			n.Label,
			n.Stats.TransactionCount,
			n.Stats.TotalSent.String(),
			n.Stats.TotalReceived.String(),
			n.Stats.NetFlow.String(),
			n.Stats.TokensInvolved,
		)
	}
	w.Flush()
}
