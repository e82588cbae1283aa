package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/lead-scraper/internal/scraper"
	"github.com/JakeFAU/lead-scraper/internal/server"
)

type jobsOptions struct {
	server string
	apiKey string
	asJSON bool
}

func newJobsCmd() *cobra.Command {
	opts := &jobsOptions{}
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect stored jobs",
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", "", "read from a running API instead of the configured store")
	cmd.PersistentFlags().StringVar(&opts.apiKey, "api-key", "", "API key for --server")

	list := &cobra.Command{
		Use:   "list",
		Short: "List every job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := withJobReader(cmd.Context(), opts, func(ctx context.Context, r jobReader) (any, error) {
				return r.List(ctx)
			})
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJob(cmd.OutOrStdout(), jobs)
			}
			return renderJobTable(cmd.OutOrStdout(), jobs.([]scraper.Job))
		},
	}
	list.Flags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of a table")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Print one job document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := withJobReader(cmd.Context(), opts, func(ctx context.Context, r jobReader) (any, error) {
				return r.Get(ctx, args[0])
			})
			if err != nil {
				return err
			}
			return printJob(cmd.OutOrStdout(), job)
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}

// jobReader is the read side shared by a JobStore and the API client.
type jobReader interface {
	Get(ctx context.Context, id string) (scraper.Job, error)
	List(ctx context.Context) ([]scraper.Job, error)
}

type remoteReader struct{ c *apiClient }

func (r remoteReader) Get(ctx context.Context, id string) (scraper.Job, error) { return r.c.get(ctx, id) }
func (r remoteReader) List(ctx context.Context) ([]scraper.Job, error)         { return r.c.list(ctx) }

func withJobReader(ctx context.Context, opts *jobsOptions, fn func(context.Context, jobReader) (any, error)) (any, error) {
	if opts.server != "" {
		return fn(ctx, remoteReader{c: newAPIClient(opts.server, opts.apiKey)})
	}
	rt, err := runtimeFrom(ctx)
	if err != nil {
		return nil, err
	}
	store, release, err := server.BuildStore(ctx, rt.cfg, rt.logger)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	defer release()
	return fn(ctx, store)
}

func renderJobTable(out io.Writer, jobs []scraper.Job) error {
	table := tablewriter.NewWriter(out)
	table.Header("ID", "Status", "Location", "Type", "Results", "Emails", "Created")
	for _, job := range jobs {
		emails := 0
		for _, l := range job.Results {
			emails += len(l.Emails)
		}
		if err := table.Append(
			job.ID,
			string(job.Status),
			job.Location,
			string(job.Type),
			strconv.Itoa(len(job.Results)),
			strconv.Itoa(emails),
			job.CreatedAt.Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("render table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	return nil
}
