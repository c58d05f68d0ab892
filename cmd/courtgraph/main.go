// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/courtgraph"
	"github.com/poiesic/courtgraph/ai"
	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/ingestion"
	"github.com/poiesic/courtgraph/reembed"
	"github.com/poiesic/courtgraph/search"
	"github.com/poiesic/courtgraph/source/courtlistener"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "courtgraph",
		Usage: "Ingest court records and search them semantically",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest-judge",
				Usage:     "Ingest a judge's opinions together with their clusters, dockets, courts, and citations",
				ArgsUsage: "JUDGE_ID",
				Action:    ingestJudgeCommand,
				Flags: withFlags(dbFlags(), embeddingFlags(), sourceFlags(), []cli.Flag{
					&cli.IntFlag{
						Name:  "max-opinions",
						Usage: "Maximum number of opinions to ingest",
						Value: ingestion.DefaultMaxOpinions,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of opinions processed concurrently",
						Value: 8,
					},
					&cli.BoolFlag{
						Name:  "no-citations",
						Usage: "Skip citation edges",
					},
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Serve Prometheus metrics on this address while the run is active",
					},
				}),
			},
			{
				Name:   "fetch-courts",
				Usage:  "Ingest the court list",
				Action: fetchCourtsCommand,
				Flags: withFlags(dbFlags(), embeddingFlags(), sourceFlags(), []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of courts to fetch (0 for all)",
					},
				}),
			},
			{
				Name:      "search",
				Usage:     "Rank opinions, dockets, and judges against a query",
				ArgsUsage: "QUERY...",
				Action:    searchCommand,
				Flags: withFlags(dbFlags(), embeddingFlags(), []cli.Flag{
					&cli.IntFlag{
						Name:  "k",
						Usage: "Neighbors requested from each embedding space",
						Value: search.DefaultPerSpaceK,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of fused results",
						Value: search.DefaultResultCap,
					},
					&cli.IntFlag{
						Name:  "min-per-space",
						Usage: "Results reserved for each space before filling by relevance",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Deadline for the whole query",
						Value: search.DefaultTimeout,
					},
				}),
			},
			{
				Name:      "similar-dockets",
				Usage:     "List the dockets nearest to a stored docket",
				ArgsUsage: "DOCKET_ID",
				Action:    similarDocketsCommand,
				Flags: withFlags(dbFlags(), embeddingFlags(), []cli.Flag{
					&cli.IntFlag{
						Name:  "k",
						Usage: "Number of dockets to list",
						Value: 5,
					},
				}),
			},
			{
				Name:      "citations",
				Usage:     "Show citation edges of an opinion, or every dangling edge",
				ArgsUsage: "[OPINION_ID]",
				Action:    citationsCommand,
				Flags: withFlags(dbFlags(), []cli.Flag{
					&cli.BoolFlag{
						Name:  "dangling",
						Usage: "List every edge whose target opinion is not stored",
					},
				}),
			},
			{
				Name:   "reembed",
				Usage:  "Regenerate missing or stale embeddings",
				Action: reembedCommand,
				Flags: withFlags(dbFlags(), embeddingFlags(), []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of records to process in each batch",
						Value: reembed.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N records",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
					&cli.StringSliceFlag{
						Name:  "kind",
						Usage: "Embedding space to process (opinion, docket, judge); repeatable",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Regenerate embeddings that are already current",
					},
				}),
			},
			{
				Name:      "judge",
				Usage:     "Show a stored judge and the opinions attributed to them",
				ArgsUsage: "JUDGE_ID",
				Action:    judgeCommand,
				Flags:     dbFlags(),
			},
			{
				Name:   "stats",
				Usage:  "Count stored records per kind",
				Action: statsCommand,
				Flags:  dbFlags(),
			},
			{
				Name:   "runs",
				Usage:  "List recorded ingestion runs",
				Action: runsCommand,
				Flags: withFlags(dbFlags(), []cli.Flag{
					&cli.StringFlag{
						Name:  "judge",
						Usage: "Only list runs for this judge",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs to list",
						Value: 10,
					},
				}),
			},
		},
	}
}

func withFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func dbFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "db",
			Aliases:  []string{"d"},
			Usage:    "Path to BadgerDB database directory",
			EnvVars:  []string{"COURTGRAPH_DB"},
			Required: true,
		},
	}
}

func embeddingFlags() []cli.Flag {
	defaults := ai.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL",
			Value: defaults.EmbeddingHost,
		},
		&cli.StringFlag{
			Name:  "embedding-model",
			Usage: "Embedding model name",
			Value: defaults.EmbeddingModel,
		},
		&cli.IntFlag{
			Name:  "embedding-dimensions",
			Usage: "Expected embedding length (0 takes the length of the first vector)",
		},
		&cli.StringFlag{
			Name:    "embedding-token",
			Usage:   "API key for the embedding service",
			EnvVars: []string{"OPENAI_API_KEY"},
		},
	}
}

func sourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "source-url",
			Usage: "CourtListener API root",
			Value: courtlistener.DefaultBaseURL,
		},
		&cli.StringFlag{
			Name:    "source-token",
			Usage:   "CourtListener API token",
			EnvVars: []string{"COURTLISTENER_API_TOKEN"},
		},
		&cli.Float64Flag{
			Name:  "rate",
			Usage: "Maximum source requests per second",
			Value: 2,
		},
	}
}

func openDatabase(c *cli.Context) (*courtgraph.Database, error) {
	dbPath := c.String("db")
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	opts := []courtgraph.DatabaseOption{courtgraph.WithLogger(slog.Default())}
	if c.IsSet("embedding-host") || c.IsSet("embedding-model") || c.IsSet("embedding-dimensions") || c.String("embedding-token") != "" {
		aiConfig := ai.NewConfig(
			ai.WithEmbeddingHost(c.String("embedding-host")),
			ai.WithEmbeddingModel(c.String("embedding-model")),
			ai.WithEmbeddingDimensions(c.Int("embedding-dimensions")),
			ai.WithToken(c.String("embedding-token")),
		)
		if err := aiConfig.Validate(); err != nil {
			return nil, fmt.Errorf("invalid AI configuration: %w", err)
		}
		opts = append(opts, courtgraph.WithAIConfig(aiConfig))
	}

	db, err := courtgraph.NewDatabase(dbPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func newSource(c *cli.Context) (*courtlistener.Client, error) {
	return courtlistener.NewClient(
		courtlistener.WithBaseURL(c.String("source-url")),
		courtlistener.WithToken(c.String("source-token")),
		courtlistener.WithLogger(slog.Default()),
	)
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func ingestJudgeCommand(c *cli.Context) error {
	judgeID := strings.TrimSpace(c.Args().First())
	if judgeID == "" {
		return fmt.Errorf("judge id is required")
	}
	if c.Int("workers") <= 0 {
		return fmt.Errorf("workers must be greater than 0")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	src, err := newSource(c)
	if err != nil {
		return fmt.Errorf("failed to create record source: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	ingestor, err := db.NewIngestor(src,
		ingestion.WithPoolSize(c.Int("workers")),
		ingestion.WithRateLimiter(newLimiter(c.Float64("rate"))),
		ingestion.WithCitations(!c.Bool("no-citations")),
		ingestion.WithRegisterer(reg),
	)
	if err != nil {
		return fmt.Errorf("failed to create ingestor: %w", err)
	}
	defer ingestor.Release()

	if addr := c.String("metrics-addr"); addr != "" {
		srv := serveMetrics(addr, reg)
		defer srv.Close()
	}

	ctx, stop := signalContext(c)
	defer stop()

	out, err := ingestor.IngestJudge(ctx, core.ID(judgeID), c.Int("max-opinions"))
	if out != nil {
		printOutcome(c, out)
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	return srv
}

func printOutcome(c *cli.Context, out *core.RunOutcome) {
	w := c.App.Writer
	fmt.Fprintf(w, "Judge %s: %s\n", out.JudgeID, out.FinishedAt.Sub(out.StartedAt).Round(time.Millisecond))
	for _, kind := range []core.EntityKind{core.KindCourt, core.KindJudge, core.KindDocket, core.KindCluster, core.KindOpinion, core.KindCitation} {
		name := kind.String()
		fmt.Fprintf(w, "  %-9s created %d, updated %d\n", name, out.Created[name], out.Updated[name])
	}
	for _, s := range out.Skipped {
		fmt.Fprintf(w, "  skipped %s at %s (%s): %s\n", s.OpinionID, s.Stage, s.Class, s.Reason)
	}
	if n := len(out.CitationFailures); n > 0 {
		fmt.Fprintf(w, "  citation failures: %d\n", n)
	}
	if out.EmbeddingFailures > 0 {
		fmt.Fprintf(w, "  embedding failures: %d\n", out.EmbeddingFailures)
	}
	if out.Canceled {
		fmt.Fprintln(w, "  run was canceled")
	}
	if out.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", out.Error)
	}
}

func fetchCourtsCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	src, err := newSource(c)
	if err != nil {
		return fmt.Errorf("failed to create record source: %w", err)
	}
	ingestor, err := db.NewIngestor(src, ingestion.WithRateLimiter(newLimiter(c.Float64("rate"))))
	if err != nil {
		return fmt.Errorf("failed to create ingestor: %w", err)
	}
	defer ingestor.Release()

	ctx, stop := signalContext(c)
	defer stop()

	n, err := ingestor.IngestCourts(ctx, c.Int("limit"))
	fmt.Fprintf(c.App.Writer, "Stored %d courts\n", n)
	return err
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query is required")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	ranker, err := db.NewRanker(
		search.WithPerSpaceK(c.Int("k")),
		search.WithResultCap(c.Int("limit")),
		search.WithMinPerSpace(c.Int("min-per-space")),
		search.WithTimeout(c.Duration("timeout")),
	)
	if err != nil {
		return err
	}

	resp, err := ranker.Query(c.Context, query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Found %d hits for %q\n", len(resp.Results), resp.Query)
	for i, r := range resp.Results {
		fmt.Fprintf(w, "%d: %-7s %s [%0.3f] %s\n", i, r.Kind, r.ID, r.Relevance, describe(r))
	}
	for kind, err := range resp.Errors {
		fmt.Fprintf(w, "warning: %s space unavailable: %v\n", kind, err)
	}
	return nil
}

func describe(r search.Result) string {
	switch {
	case r.Opinion != nil:
		text := []rune(strings.Join(strings.Fields(r.Opinion.PlainText), " "))
		if len(text) > 80 {
			text = append(text[:80], '.', '.', '.')
		}
		return string(text)
	case r.Docket != nil:
		return r.Docket.CaseName
	case r.Judge != nil:
		return r.Judge.FullName()
	}
	return ""
}

func similarDocketsCommand(c *cli.Context) error {
	docketID := strings.TrimSpace(c.Args().First())
	if docketID == "" {
		return fmt.Errorf("docket id is required")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	ranker, err := db.NewRanker()
	if err != nil {
		return err
	}
	hits, err := ranker.SimilarDockets(c.Context, core.ID(docketID), c.Int("k"))
	if err != nil {
		return fmt.Errorf("similar dockets failed: %w", err)
	}
	for i, h := range hits {
		fmt.Fprintf(c.App.Writer, "%d: %s [%0.3f]\n", i, h.Id, h.Distance)
	}
	return nil
}

func citationsCommand(c *cli.Context) error {
	opinionID := strings.TrimSpace(c.Args().First())
	if opinionID == "" && !c.Bool("dangling") {
		return fmt.Errorf("opinion id or --dangling is required")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	w := c.App.Writer
	if c.Bool("dangling") {
		refs, err := db.Citations().DanglingCitations(c.Context)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			fmt.Fprintf(w, "%s -> %s\n", ref.CitingID, ref.CitedID)
		}
		return nil
	}

	from, err := db.Citations().CitationsFrom(c.Context, core.ID(opinionID))
	if err != nil {
		return err
	}
	to, err := db.Citations().CitationsTo(c.Context, core.ID(opinionID))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s cites %d opinions\n", opinionID, len(from))
	for _, ref := range from {
		mark := ""
		if ref.Dangling {
			mark = " (not stored)"
		}
		fmt.Fprintf(w, "  -> %s%s\n", ref.CitedID, mark)
	}
	fmt.Fprintf(w, "%s is cited by %d opinions\n", opinionID, len(to))
	for _, ref := range to {
		fmt.Fprintf(w, "  <- %s\n", ref.CitingID)
	}
	return nil
}

func reembedCommand(c *cli.Context) error {
	config := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		Force:          c.Bool("force"),
	}
	if config.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if config.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}
	for _, name := range c.StringSlice("kind") {
		kind, err := parseKind(name)
		if err != nil {
			return err
		}
		config.Kinds = append(config.Kinds, kind)
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	reembedder, err := db.NewReembedder(config, c.App.ErrWriter)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(c)
	defer stop()

	summary, err := reembedder.Run(ctx)
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Generated %d embeddings in %s\n", summary.Generated(), summary.Elapsed.Round(time.Millisecond))
	return nil
}

func parseKind(name string) (core.EntityKind, error) {
	for _, kind := range core.EmbeddedKinds {
		if strings.EqualFold(name, kind.String()) {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("invalid kind %q: must be one of opinion, docket, judge", name)
}

func judgeCommand(c *cli.Context) error {
	judgeID := strings.TrimSpace(c.Args().First())
	if judgeID == "" {
		return fmt.Errorf("judge id is required")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	judge, err := db.Entities().GetJudge(c.Context, core.ID(judgeID))
	if err != nil {
		return err
	}
	ids, err := db.Entities().OpinionsByAuthor(c.Context, judge.Id)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "%s (%s)\n", judge.FullName(), judge.Id)
	for _, p := range judge.Positions {
		fmt.Fprintf(w, "  %s %s %s-%s\n", p.PositionType, p.Court, p.DateStart, p.DateEnd)
	}
	fmt.Fprintf(w, "%d opinions\n", len(ids))
	for _, id := range ids {
		op, err := db.Entities().GetOpinion(c.Context, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s %-11s cluster %s\n", op.Id, op.Type, op.ClusterID)
	}
	return nil
}

func statsCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	w := c.App.Writer
	for _, kind := range []core.EntityKind{core.KindCourt, core.KindJudge, core.KindDocket, core.KindCluster, core.KindOpinion} {
		n, err := db.Entities().Count(c.Context, kind)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-9s %d\n", kind, n)
	}
	dangling, err := db.Citations().DanglingCitations(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%-9s %d dangling\n", "citation", len(dangling))
	return nil
}

func runsCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.Runs().ListRuns(c.Context, core.ID(c.String("judge")), c.Int("limit"))
	if err != nil {
		return err
	}
	w := c.App.Writer
	for _, run := range runs {
		status := "ok"
		switch {
		case run.Error != "":
			status = "failed"
		case run.Canceled:
			status = "canceled"
		}
		fmt.Fprintf(w, "%s  %-10s %-8s opinions %d, skipped %d\n",
			run.StartedAt.Format(time.RFC3339), run.JudgeID, status, run.Committed(core.KindOpinion), len(run.Skipped))
	}
	return nil
}

func setupLogger(c *cli.Context) error {
	level, err := parseLogLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", s)
}
