package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/brojonat/walletgraph/client"
	"github.com/brojonat/walletgraph/service/classify"
	"github.com/brojonat/walletgraph/service/graph"
	"github.com/brojonat/walletgraph/service/helius"
	"github.com/brojonat/walletgraph/service/transfers"
	"github.com/urfave/cli/v2"
)

func classifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Classify addresses as exchange, program or user wallets",
		ArgsUsage: "<address> [address...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "tables",
				Usage:   "YAML file extending the embedded classification tables",
				EnvVars: []string{"KNOWN_WALLETS_FILE"},
			},
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "Ask the server instead of classifying locally",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("requires at least one argument: address")
			}

			var results []*client.Classification
			if c.Bool("remote") {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				sc := newServerClient(c)
				for _, addr := range c.Args().Slice() {
					res, err := sc.Classify(ctx, addr)
					if err != nil {
						return fmt.Errorf("failed to classify %s: %w", addr, err)
					}
					results = append(results, res)
				}
			} else {
				tables, err := classify.LoadTables(c.String("tables"))
				if err != nil {
					return err
				}
				classifier := classify.New(tables)
				for _, addr := range c.Args().Slice() {
					results = append(results, classifyLocal(classifier, addr))
				}
			}

			if wantJSON(c) {
				if len(results) == 1 {
					return outputJSON(c, results[0])
				}
				return outputJSON(c, results)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tKIND\tNAME\tLIKELY USER\tLABEL")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", r.Address, r.Kind, r.Name, r.IsLikelyUser, r.DisplayLabel)
			}
			return w.Flush()
		},
	}
}

// classifyLocal mirrors the server's classify response.
func classifyLocal(c *classify.StaticClassifier, address string) *client.Classification {
	res := c.Classify(address)
	out := &client.Classification{
		Address:      address,
		Kind:         string(res.Kind),
		Name:         res.Name,
		IsLikelyUser: c.IsLikelyUserWallet(address),
		DisplayLabel: graph.TruncateAddress(address),
	}
	if res.Kind == classify.KindExchange {
		out.ExchangeLabel = classify.ExchangeLabel(res.Name)
		out.DisplayLabel = out.ExchangeLabel
	}
	return out
}

func getTransactionCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Fetch one enhanced transaction from Helius",
		ArgsUsage: "<signature>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "helius-api-key",
				Usage:   "Helius API key",
				EnvVars: []string{"HELIUS_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "helius-url",
				Usage:   "Helius API base URL",
				EnvVars: []string{"HELIUS_BASE_URL"},
				Value:   helius.DefaultBaseURL,
			},
			&cli.StringFlag{
				Name:  "root",
				Usage: "Show the transfers admitted for this wallet instead of the raw record",
			},
			&cli.BoolFlag{
				Name:  "include-tokens",
				Usage: "Admit token transfers when --root is set",
			},
			&cli.BoolFlag{
				Name:  "admit-exchanges",
				Usage: "Keep exchange hot wallets as counterparties when --root is set",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}
			signature := c.Args().First()

			hc, err := helius.NewClient(c.String("helius-url"), c.String("helius-api-key"), nil, nil, nil)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			raw, err := hc.GetTransaction(ctx, signature)
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}
			if raw == nil {
				return fmt.Errorf("transaction %s not found", signature)
			}

			root := c.String("root")
			if root == "" {
				return outputJSON(c, raw)
			}

			classifier, err := classify.NewDefault()
			if err != nil {
				return err
			}
			opts := transfers.DefaultOptions()
			opts.IncludeTokenTransfers = c.Bool("include-tokens")
			opts.AdmitExchanges = c.Bool("admit-exchanges")
			parsed := transfers.NewExtractor(classifier, opts, nil).Extract(*raw, root)
			if parsed == nil {
				fmt.Fprintf(c.App.ErrWriter, "transaction %s (%s/%s) has no admitted transfers for %s\n",
					signature, raw.Type, raw.Source, root)
				return nil
			}

			if wantJSON(c) {
				return outputJSON(c, parsed)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Signature:\t%s\n", parsed.Signature)
			fmt.Fprintf(w, "Time:\t%s\n", time.Unix(parsed.Timestamp, 0).UTC().Format(time.RFC3339))
			fmt.Fprintf(w, "Type:\t%s\n", parsed.Type)
			fmt.Fprintln(w)
			fmt.Fprintln(w, "DIRECTION\tCOUNTERPARTY\tAMOUNT\tTOKEN")
			for _, t := range parsed.Transfers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Direction, t.Counterparty, t.Amount.String(), t.Token)
			}
			return w.Flush()
		},
	}
}
