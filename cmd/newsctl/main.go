package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brendte/news-router/internal/app"
	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/internal/queries"
	"github.com/brendte/news-router/pkg/config"
	"github.com/brendte/news-router/pkg/logger"
)

// newsctl is a CLI for operating a newsrouter deployment from the shell.
//
// Usage:
//
//	newsctl feed   add --url <feed-url>
//	newsctl feed   list
//	newsctl user   create --email <email>
//	newsctl query  create --user <id> --body "<text>" [--threshold 0.3]
//	newsctl query  scores --id <id> [--limit 10]
//	newsctl cycle  run
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	args := flag.Args()
	if len(args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		slog.Error("failed to initialise", "error", err)
		os.Exit(1)
	}

	err = run(ctx, a, args[0], args[1], args[2:])
	a.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App, group, cmd string, args []string) error {
	switch group + " " + cmd {
	case "feed add":
		return cmdFeedAdd(ctx, a, args)
	case "feed list":
		return cmdFeedList(ctx, a)
	case "user create":
		return cmdUserCreate(ctx, a, args)
	case "query create":
		return cmdQueryCreate(ctx, a, args)
	case "query scores":
		return cmdQueryScores(ctx, a, args)
	case "cycle run":
		return cmdCycleRun(ctx, a)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s %s", group, cmd)
	}
}

func cmdFeedAdd(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("feed add", flag.ExitOnError)
	url := fs.String("url", "", "RSS or Atom feed URL")
	fs.Parse(args)
	if *url == "" {
		return errors.New("--url is required")
	}
	f, err := a.Store.EnsureFeed(ctx, *url)
	if err != nil {
		return err
	}
	fmt.Printf("Feed %d: %s\n", f.ID, f.URL)
	return nil
}

func cmdFeedList(ctx context.Context, a *app.App) error {
	feeds, err := a.Store.Feeds(ctx)
	if err != nil {
		return err
	}
	if len(feeds) == 0 {
		fmt.Println("No feeds registered.")
		return nil
	}
	fmt.Printf("%-6s  %s\n", "ID", "URL")
	for _, f := range feeds {
		fmt.Printf("%-6d  %s\n", f.ID, f.URL)
	}
	fmt.Printf("\nTotal: %d feed(s)\n", len(feeds))
	return nil
}

func cmdUserCreate(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("user create", flag.ExitOnError)
	email := fs.String("email", "", "user email")
	fs.Parse(args)
	if *email == "" {
		return errors.New("--email is required")
	}
	u, err := a.Store.CreateUser(ctx, *email)
	if err != nil {
		return err
	}
	fmt.Printf("User %d created for %s\n", u.ID, u.Email)
	return nil
}

func cmdQueryCreate(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("query create", flag.ExitOnError)
	user := fs.Int64("user", 0, "owning user id")
	body := fs.String("body", "", "query text")
	threshold := fs.Float64("threshold", 0, "minimum score for delivery (0 keeps the default)")
	fs.Parse(args)

	q, err := a.Queries.Create(ctx, queries.Request{UserID: *user, Body: *body, Threshold: *threshold})
	if err != nil {
		return err
	}
	fmt.Printf("Query %d created for user %d (threshold %.2f)\n", q.ID, q.UserID, q.ThresholdOr(a.Config.Router.DefaultThreshold))
	return nil
}

func cmdQueryScores(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("query scores", flag.ExitOnError)
	id := fs.Int64("id", 0, "query id")
	limit := fs.Int("limit", 10, "rows to print")
	fs.Parse(args)

	q, err := a.Store.QueryByID(ctx, *id)
	if err != nil {
		return err
	}
	scores, err := a.Ranker.ScoreAll(ctx, news.KindArticles, q)
	if err != nil {
		return err
	}
	fmt.Printf("%-10s  %-8s  %s\n", "Article", "Score", "Routed")
	for i, s := range scores {
		if i == *limit {
			break
		}
		mark := ""
		if s.Score >= q.ThresholdOr(a.Config.Router.DefaultThreshold) {
			mark = "yes"
		}
		fmt.Printf("%-10d  %-8.4f  %s\n", s.DocumentID, s.Score, mark)
	}
	fmt.Printf("\n%d article(s) share at least one term with query %d\n", len(scores), q.ID)
	return nil
}

func cmdCycleRun(ctx context.Context, a *app.App) error {
	report, err := a.Coordinator.RunCycle(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Cycle %s finished in %s\n", report.CycleID, report.Duration.Round(time.Millisecond))
	fmt.Printf("  Feeds:      %d (%d failed)\n", report.Crawl.Feeds, report.Crawl.FeedErrors)
	fmt.Printf("  Entries:    %d new, %d duplicate, %d incomplete\n",
		report.Crawl.EntriesCreated, report.Crawl.Duplicates, report.Crawl.Incomplete)
	fmt.Printf("  Articles:   %d created, %d fetch failures\n", report.Crawl.ArticlesCreated, report.Crawl.FetchFailures)
	fmt.Printf("  Indexed:    %d (%d failed)\n", report.Index.Indexed, report.Index.Failed)
	fmt.Printf("  Routed:     %d articles, %d deliveries\n", report.Route.Articles, report.Route.Deliveries)
	for _, e := range report.Errors {
		fmt.Printf("  Error:      %s\n", e)
	}
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: newsctl [-config path] <group> <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  feed add       Register a feed")
	fmt.Fprintln(os.Stderr, "  feed list      List registered feeds")
	fmt.Fprintln(os.Stderr, "  user create    Create a user")
	fmt.Fprintln(os.Stderr, "  query create   Create a standing query and route existing articles to it")
	fmt.Fprintln(os.Stderr, "  query scores   Rank articles against a query")
	fmt.Fprintln(os.Stderr, "  cycle run      Run one crawl-index-route cycle")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Examples:")
	fmt.Fprintln(os.Stderr, `  newsctl feed add --url https://example.com/rss`)
	fmt.Fprintln(os.Stderr, `  newsctl query create --user 1 --body "interest rates" --threshold 0.3`)
	fmt.Fprintln(os.Stderr, `  newsctl cycle run`)
}
