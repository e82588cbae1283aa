package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/lead-scraper/internal/scheduler"
	"github.com/JakeFAU/lead-scraper/internal/scraper"
	"github.com/JakeFAU/lead-scraper/internal/server"
)

type scrapeOptions struct {
	location string
	radius   float64
	kind     string
	wait     bool
	timeout  time.Duration
	server   string
	apiKey   string
}

func newScrapeCmd() *cobra.Command {
	opts := &scrapeOptions{}
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Submit a scraping job",
		Long: `Submit a job for --location. Without --server the job runs in this process
and the command waits for it to finish. With --server the job is submitted to a
running API and --wait polls it until it is completed or failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := scheduler.SubmitRequest{Location: opts.location, Type: opts.kind}
			if cmd.Flags().Changed("radius") {
				r := opts.radius
				req.Radius = &r
			}
			if opts.server != "" {
				return runRemoteScrape(cmd.Context(), cmd.OutOrStdout(), opts, req)
			}
			if !opts.wait {
				return errors.New("--wait=false requires --server; in-process jobs end with the command")
			}
			return runLocalScrape(cmd, opts, req)
		},
	}
	cmd.Flags().StringVar(&opts.location, "location", "", "place to search, e.g. \"Springfield\"")
	cmd.Flags().Float64Var(&opts.radius, "radius", scheduler.DefaultRadius, "search radius in km")
	cmd.Flags().StringVar(&opts.kind, "type", string(scraper.FilterBoth), "hotels, restaurants or both")
	cmd.Flags().BoolVar(&opts.wait, "wait", true, "wait for the job to reach a terminal status")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "give up waiting after this long")
	cmd.Flags().StringVar(&opts.server, "server", "", "base URL of a running lead-scraper API")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "API key for --server (defaults to auth.api_key)")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

func runLocalScrape(cmd *cobra.Command, opts *scrapeOptions, req scheduler.SubmitRequest) error {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return err
	}
	app, err := server.Build(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout+time.Second)
		defer cancel()
		_ = app.Close(ctx)
	}()

	job, err := app.Scheduler().Submit(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}
	rt.logger.Info("job submitted, waiting for completion")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	final, err := app.Scheduler().Wait(ctx, job.ID)
	if err != nil {
		return err
	}
	return printJob(cmd.OutOrStdout(), final)
}

func runRemoteScrape(ctx context.Context, out io.Writer, opts *scrapeOptions, req scheduler.SubmitRequest) error {
	key := opts.apiKey
	if key == "" {
		if rt, err := runtimeFrom(ctx); err == nil && rt.cfg.Auth.Enabled {
			key = rt.cfg.Auth.APIKey
		}
	}
	client := newAPIClient(opts.server, key)
	job, err := client.submit(ctx, req)
	if err != nil {
		return err
	}
	if opts.wait {
		ctx, cancel := context.WithTimeout(ctx, opts.timeout)
		defer cancel()
		job, err = client.wait(ctx, job.ID, time.Second)
		if err != nil {
			return err
		}
	}
	return printJob(out, job)
}

func printJob(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
