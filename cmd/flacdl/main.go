package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"flacdl/internal/catalog"
	"flacdl/internal/challenge"
	"flacdl/internal/config"
	"flacdl/internal/download"
	"flacdl/internal/httpx"
	"flacdl/internal/session"
	"flacdl/internal/state"
)

type cliConfig struct {
	Keywords   string
	Page       int
	Size       int
	Pick       string
	Dir        string
	LogLevel   string
	Timeout    time.Duration
	ConfigFile string
}

func parseFlags() cliConfig {
	var c cliConfig
	flag.StringVar(&c.Keywords, "q", "", "Search keywords")
	flag.IntVar(&c.Page, "page", 1, "Result page to open")
	flag.IntVar(&c.Size, "size", 0, "Results per page")
	flag.StringVar(&c.Pick, "pick", "", "Tracks to download without prompting (e.g. 1,3-5 or all)")
	flag.StringVar(&c.Dir, "o", "", "Output directory")
	flag.StringVar(&c.LogLevel, "log-level", "", "Log level: DEBUG, INFO, WARN, ERROR")
	flag.DurationVar(&c.Timeout, "timeout", 0, "Timeout for catalog and challenge requests")
	flag.StringVar(&c.ConfigFile, "config", "", "YAML config file (default ./"+config.DefaultConfigFile+" if present)")
	flag.Parse()

	if c.Keywords == "" && flag.NArg() > 0 {
		c.Keywords = strings.Join(flag.Args(), " ")
	}
	return c
}

// resolveConfig layers environment, config file and flags, in that order.
func resolveConfig(cli cliConfig) (config.Config, error) {
	cfg := config.LoadConfig()
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = slog.LevelWarn
	}

	path, required := cli.ConfigFile, true
	if path == "" {
		path, required = config.DefaultConfigFile, false
	}
	if err := config.LoadFile(path, required, &cfg); err != nil {
		return cfg, err
	}

	if cli.Size > 0 {
		cfg.PageSize = cli.Size
	}
	if cli.Dir != "" {
		cfg.DownloadDir = cli.Dir
	}
	if cli.Timeout > 0 {
		cfg.HTTPTimeout = cli.Timeout
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = config.ParseLevel(cli.LogLevel)
	}
	return cfg, nil
}

type client struct {
	app     *state.App
	boot    *session.Bootstrapper
	catalog *catalog.Client
	batch   *download.Batch
	out     io.Writer
	dir     string
	size    int
}

func main() {
	cli := parseFlags()
	cfg, err := resolveConfig(cli)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	config.SetupLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := httpx.NewClient(cfg.HTTPTimeout)
	solver := challenge.NewSolver(httpClient, cfg.CatalogURL, cfg.ChallengeURL, cfg.UserAgent)
	cat := catalog.NewClient(httpClient, cfg.CatalogURL)
	bars := newBarNotifier(color.Output)

	c := &client{
		app:     state.New(),
		boot:    session.NewBootstrapper(httpClient, cfg.CatalogURL, cfg.UserAgent, solver),
		catalog: cat,
		batch:   download.NewBatch(cat, download.NewFetcher(httpx.NewClient(0), cfg.UserAgent), bars),
		out:     color.Output,
		dir:     cfg.DownloadDir,
		size:    cfg.PageSize,
	}

	if err := c.run(ctx, cli, os.Stdin); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (c *client) run(ctx context.Context, cli cliConfig, in io.Reader) error {
	if err := c.connect(ctx); err != nil {
		return err
	}

	reader := bufio.NewReader(in)
	keywords := cli.Keywords
	for keywords == "" {
		fmt.Fprint(c.out, "Search: ")
		line, err := reader.ReadString('\n')
		keywords = strings.TrimSpace(line)
		if err != nil && keywords == "" {
			return nil
		}
	}
	if err := c.search(ctx, keywords, cli.Page); err != nil {
		return err
	}

	if cli.Pick != "" {
		if err := c.toggle(cli.Pick); err != nil {
			return err
		}
		return c.download(ctx)
	}
	return c.prompt(ctx, reader)
}

func (c *client) connect(ctx context.Context) error {
	if err := c.app.BeginConnect(); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Connecting...")
	sess, err := c.boot.Bootstrap(ctx)
	if err != nil {
		c.app.Fail(err)
		return fmt.Errorf("connect: %w", err)
	}
	c.app.SetSession(sess)
	fmt.Fprintln(c.out, "Connected.")
	return nil
}

func (c *client) search(ctx context.Context, keywords string, page int) error {
	sess, err := c.app.Session()
	if err != nil {
		return err
	}
	result, err := c.catalog.Search(ctx, sess, keywords, page, c.size)
	if err != nil {
		return err
	}
	c.app.SetPage(result)
	c.printPage()
	return nil
}

func (c *client) printPage() {
	page, _ := c.app.Page()
	fmt.Fprintf(c.out, "\n%q: %d results, page %d/%d\n", page.Keywords, page.Total, page.Page, page.TotalPages)
	for i, t := range page.Tracks {
		mark := " "
		if c.app.IsSelected(t.ID) {
			mark = "*"
		}
		fmt.Fprintf(c.out, "%s %2d. %s - %s [%s] %s\n", mark, i+1, t.Name, t.Artist, t.Album, t.Duration)
	}
	fmt.Fprintf(c.out, "%d selected\n", len(c.app.Selection()))
}

const help = `Commands:
  1,3-5   toggle tracks on this page
  a       toggle the whole page
  n / p   next / previous page
  s WORDS new search
  d       download the selection
  q       quit`

func (c *client) prompt(ctx context.Context, reader *bufio.Reader) error {
	fmt.Fprintln(c.out, help)
	for {
		fmt.Fprint(c.out, "> ")
		line, err := reader.ReadString('\n')
		cmd := strings.TrimSpace(line)
		if err != nil && cmd == "" {
			return nil
		}

		switch {
		case cmd == "":
		case cmd == "q":
			return nil
		case cmd == "d":
			if err := c.download(ctx); err != nil {
				fmt.Fprintln(c.out, err)
			}
		case cmd == "a":
			if _, err := c.app.TogglePage(); err != nil {
				fmt.Fprintln(c.out, err)
			}
			c.printPage()
		case cmd == "n" || cmd == "p":
			delta := 1
			if cmd == "p" {
				delta = -1
			}
			keywords, page, err := c.app.Step(delta)
			if err == nil {
				err = c.search(ctx, keywords, page)
			}
			if err != nil {
				fmt.Fprintln(c.out, err)
			}
		case strings.HasPrefix(cmd, "s "):
			if err := c.search(ctx, strings.TrimSpace(cmd[2:]), 1); err != nil {
				fmt.Fprintln(c.out, err)
			}
		default:
			if err := c.toggle(cmd); err != nil {
				fmt.Fprintln(c.out, err)
				fmt.Fprintln(c.out, help)
				continue
			}
			c.printPage()
		}
	}
}

// toggle flips the selection of the listed 1-based positions on the
// current page.
func (c *client) toggle(expr string) error {
	page, ok := c.app.Page()
	if !ok {
		return state.ErrNoPage
	}
	positions, err := parsePositions(expr, len(page.Tracks))
	if err != nil {
		return err
	}
	for _, p := range positions {
		id := page.Tracks[p-1].ID
		if c.app.IsSelected(id) {
			c.app.Deselect(id)
			continue
		}
		if err := c.app.Select(id); err != nil {
			return err
		}
	}
	return nil
}

func (c *client) download(ctx context.Context) error {
	sess, err := c.app.Session()
	if err != nil {
		return err
	}
	tracks := c.app.Selection()
	if len(tracks) == 0 {
		return fmt.Errorf("nothing selected")
	}
	result, err := c.batch.Run(ctx, sess, c.dir, tracks)
	if err != nil {
		return err
	}
	c.app.SetLastBatch(result)
	c.app.ClearSelection()
	slog.Debug("Batch done", "id", result.ID, "paths", result.Paths)
	return nil
}
