package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/walletgraph/client"
	"github.com/urfave/cli/v2"
)

func startJobCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a background graph job on the server",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "days",
				Aliases: []string{"d"},
				Usage:   "Lookback window in days (0 uses the configured default)",
			},
			&cli.StringFlag{
				Name:  "min-usd",
				Usage: "Minimum native transfer value in USD",
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Wait for the job to finish",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Poll interval when waiting",
				Value: 2 * time.Second,
			},
		},
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

			sc := newServerClient(c)
			job, err := sc.StartJob(ctx, address, opts.Days, opts.MinUSD)
			if err != nil {
				return fmt.Errorf("failed to start job: %w", err)
			}
			fmt.Fprintf(c.App.ErrWriter, "started job %s\n", job.WorkflowID)

			if c.Bool("wait") {
				job, err = sc.AwaitJob(ctx, job.WorkflowID, c.Duration("interval"))
				if err != nil {
					return fmt.Errorf("failed waiting for job: %w", err)
				}
			}
			return outputJob(c, job)
		},
	}
}

func jobStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the state of a graph job",
		ArgsUsage: "<workflow-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: workflow id")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			job, err := newServerClient(c).GetJob(ctx, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get job: %w", err)
			}
			return outputJob(c, job)
		},
	}
}

func awaitJobCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Wait for a graph job to finish",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Poll interval",
				Value: 2 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up after this long",
				Value: 15 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: workflow id")
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			job, err := newServerClient(c).AwaitJob(ctx, c.Args().First(), c.Duration("interval"))
			if err != nil {
				return fmt.Errorf("failed waiting for job: %w", err)
			}
			return outputJob(c, job)
		},
	}
}

func outputJob(c *cli.Context, job *client.Job) error {
	if wantJSON(c) {
		return outputJSON(c, job)
	}
	printJob(c.App.Writer, job)
	if job.Status == "failed" {
		return fmt.Errorf("job %s failed: %s", job.WorkflowID, job.Error)
	}
	return nil
}

func printJob(out io.Writer, job *client.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Workflow ID:\t%s\n", job.WorkflowID)
	if job.RunID != "" {
		fmt.Fprintf(w, "Run ID:\t%s\n", job.RunID)
	}
	fmt.Fprintf(w, "Status:\t%s\n", job.Status)
	if job.Error != "" {
		fmt.Fprintf(w, "Error:\t%s\n", job.Error)
	}
	if job.Result != nil {
		fmt.Fprintf(w, "Recorded:\t%v\n", job.Result.Recorded)
		fmt.Fprintf(w, "Published:\t%v\n", job.Result.Published)
		fmt.Fprintf(w, "Exported:\t%v\n", job.Result.Exported)
	}
	w.Flush()

	if job.Result == nil || job.Result.Result == nil {
		return
	}
	res := job.Result.Result
	fmt.Fprintln(out)
	printGraph(out, responseFromResult(res, client.GraphOptions{}))
}
