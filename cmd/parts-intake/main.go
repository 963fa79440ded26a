package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/joseph-ayodele/parts-intake/internal/async"
	"github.com/joseph-ayodele/parts-intake/internal/common"
	"github.com/joseph-ayodele/parts-intake/internal/export"
	"github.com/joseph-ayodele/parts-intake/internal/llm"
	"github.com/joseph-ayodele/parts-intake/internal/llm/openai"
	"github.com/joseph-ayodele/parts-intake/internal/mailbox"
	"github.com/joseph-ayodele/parts-intake/internal/ocr"
	"github.com/joseph-ayodele/parts-intake/internal/pipeline"
	"github.com/joseph-ayodele/parts-intake/internal/repository"
	"github.com/joseph-ayodele/parts-intake/internal/server"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "parts-intake",
		Usage: "Extract part records from inbound email into CSV, XLSX and SQL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Optional YAML config file; environment variables override it",
				EnvVars: []string{"CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "mail-dir",
				Usage: "Read .eml files from this directory instead of IMAP (overrides MAIL_DIR)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "process",
				Usage:  "Process a single email by its 1-based mailbox index",
				Action: processCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "index",
						Aliases: []string{"i"},
						Usage:   "Mailbox sequence number (defaults to START_INDEX)",
					},
				},
			},
			{
				Name:   "watch",
				Usage:  "Poll the mailbox and process new emails as they arrive",
				Action: watchCommand,
			},
			{
				Name:   "count",
				Usage:  "Print the number of messages in the mailbox",
				Action: countCommand,
			},
			{
				Name:   "dbcheck",
				Usage:  "Check the part-record database and print how many records it holds",
				Action: dbCheckCommand,
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	return configureLogger(c.String("log-level"))
}

func configureLogger(levelStr string) error {
	levelStr = strings.ToLower(levelStr)

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	// messages with variables, no time
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)
	return nil
}

// loadConfig reads the YAML file when given, then the environment. A level from the
// file applies only when --log-level was not passed.
func loadConfig(c *cli.Context) (*common.Config, error) {
	cfg := common.LoadConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = common.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if dir := c.String("mail-dir"); dir != "" {
		cfg.Mailbox.Dir = dir
	}
	if !c.IsSet("log-level") && cfg.Logging.Level != "" {
		if err := configureLogger(cfg.Logging.Level); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openMailbox returns a directory-backed mailbox when MAIL_DIR is set, else an
// authenticated IMAP session on the configured folder.
func openMailbox(cfg *common.Config, logger *slog.Logger) (mailbox.Mailbox, error) {
	if cfg.Mailbox.Dir != "" {
		return mailbox.NewDirectory(cfg.Mailbox.Dir, logger)
	}
	mb, err := mailbox.DialIMAP(mailbox.IMAPConfig{
		Host:    cfg.Mailbox.Host,
		Port:    cfg.Mailbox.Port,
		Timeout: cfg.Mailbox.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := mb.Login(cfg.Mailbox.Username, cfg.Mailbox.Password); err != nil {
		_ = mb.Logout()
		return nil, err
	}
	if err := mb.SelectMailbox(cfg.Mailbox.Mailbox); err != nil {
		_ = mb.Logout()
		return nil, err
	}
	return mb, nil
}

// buildSink always writes CSV; the workbook and database sinks are opt-in.
func buildSink(ctx context.Context, cfg *common.Config, logger *slog.Logger) (export.Sink, func(), error) {
	sinks := export.MultiSink{export.NewCSVSink(cfg.Output.Dir, logger)}
	if cfg.Output.Workbook {
		sinks = append(sinks, export.NewWorkbookSink(cfg.Output.Dir, "", logger))
	}
	if cfg.Database.DSN == "" {
		return sinks, func() {}, nil
	}
	repo, closeDB, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return append(sinks, repo), closeDB, nil
}

// openRepository opens and pings the database and makes sure part_records exists.
func openRepository(ctx context.Context, cfg *common.Config, logger *slog.Logger) (repository.PartRecordRepository, func(), error) {
	db, err := repository.Open(ctx, repository.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.HealthCheck(ctx, 5*time.Second, logger); err != nil {
		db.Close(logger)
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	repo := repository.NewPartRecordRepository(db, logger)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close(logger)
		return nil, nil, err
	}
	return repo, func() { db.Close(logger) }, nil
}

func buildGateway(cfg *common.Config, logger *slog.Logger) (*llm.Gateway, error) {
	client, err := openai.NewClient(openai.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create inference client: %w", err)
	}
	return llm.NewGateway(client, llm.GatewayConfig{
		Defaults: llm.GenerationParams{
			Temperature: float64(cfg.LLM.Temperature),
			TopP:        float64(cfg.LLM.TopP),
			TopK:        cfg.LLM.TopK,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
		Cooldown:       cfg.LLM.Cooldown,
		MaxQuotaCycles: cfg.LLM.MaxQuotaCycles,
	}, logger), nil
}

// buildProcessor wires every collaborator. The returned cleanup closes the sink and mailbox.
func buildProcessor(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*pipeline.Processor, mailbox.Mailbox, func(), error) {
	gw, err := buildGateway(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, closeSink, err := buildSink(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	mb, err := openMailbox(cfg, logger)
	if err != nil {
		closeSink()
		return nil, nil, nil, err
	}

	var links pipeline.LinkResolver
	if cfg.Links.Enabled {
		links = mailbox.NewLinkResolver(mailbox.LinkConfig{
			MaxLinks: cfg.Links.MaxLinks,
			MaxBytes: cfg.Links.MaxBytes,
			Timeout:  cfg.Links.Timeout,
		}, nil, logger)
	}

	normalizer := ocr.NewNormalizer(ocr.Config{
		Pdftoppm:      cfg.OCR.Pdftoppm,
		Tesseract:     cfg.OCR.Tesseract,
		TesseractLang: cfg.OCR.TesseractLang,
		TessdataDir:   cfg.OCR.TessdataDir,
		DPI:           cfg.OCR.DPI,
		MaxPages:      cfg.OCR.MaxPages,
		HeicConverter: cfg.OCR.HeicConverter,
	}, logger)

	proc := pipeline.NewProcessor(pipeline.Dependencies{
		Source:     mb,
		Normalizer: normalizer,
		Links:      links,
		Model:      gw,
		Sink:       sink,
		Prompts:    llm.Prompts{Preamble: cfg.LLM.SystemInstructions},
	}, logger)

	cleanup := func() {
		if err := mb.Logout(); err != nil {
			logger.Warn("mailbox.logout_failed", "error", err)
		}
		closeSink()
	}
	return proc, mb, cleanup, nil
}

func processCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := slog.Default()
	if err := cfg.Validate(); err != nil {
		return err
	}

	index := c.Int("index")
	if index == 0 {
		index = cfg.Mailbox.StartIndex
	}
	if index < 1 {
		return errors.New("an email index >= 1 is required (--index or START_INDEX)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc, _, cleanup, err := buildProcessor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	sum, err := proc.ProcessEmail(ctx, index)
	if err != nil {
		return err
	}
	printSummary(c, sum)
	return nil
}

func printSummary(c *cli.Context, sum pipeline.Summary) {
	w := c.App.Writer
	if sum.Skipped {
		fmt.Fprintf(w, "email %d skipped: %s\n", sum.Index, sum.Reason)
		return
	}
	fmt.Fprintf(w, "email %d: %d attachment(s), %d page(s), %d document(s), %d of %d part(s) emitted\n",
		sum.Index, sum.Attachments, sum.Pages, sum.Documents, sum.Emitted(), len(sum.Parts))
	for _, p := range sum.Parts {
		note := p.Reason
		if note == "" && p.MergeSkipped {
			note = "merge skipped, no documents"
		}
		if note != "" {
			fmt.Fprintf(w, "  part %d: %s (%s)\n", p.Index, p.State, note)
		} else {
			fmt.Fprintf(w, "  part %d: %s\n", p.Index, p.State)
		}
	}
}

func watchCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := slog.Default()
	if err := cfg.ValidateWatch(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc, mb, cleanup, err := buildProcessor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := server.New(server.Config{GRPCAddr: cfg.Server.GRPCAddr, MetricsAddr: cfg.Server.MetricsAddr}, logger)
	if err := srv.Start(); err != nil {
		return err
	}

	queue := async.NewProcessorQueue(ctx, proc, logger,
		async.WithWorkers(cfg.Watch.Workers),
		async.WithQueueSize(cfg.Watch.QueueSize),
		async.WithProcessTimeout(cfg.Watch.ProcessTimeout),
	)
	poller := async.NewPoller(mb, queue, cfg.Mailbox.StartIndex, cfg.Watch.PollInterval, logger)

	srv.SetServing(true)
	logger.Info("parts-intake watching", "mailbox", cfg.Mailbox.Mailbox, "start_index", cfg.Mailbox.StartIndex)
	runErr := poller.Run(ctx)

	srv.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)
	srv.Shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func countCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := slog.Default()
	if cfg.Mailbox.Dir == "" {
		v := common.NewValidator().
			Field("EMAIL_ADDRESS", cfg.Mailbox.Username, common.Required).
			Field("EMAIL_PASSWORD", cfg.Mailbox.Password, common.Required)
		if v.HasErrors() {
			return common.NewAppError("CONFIG_ERROR", v.ErrorMessage(), common.ErrInvalidInput)
		}
	}

	mb, err := openMailbox(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = mb.Logout() }()

	n, err := mb.TotalMessageCount(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, n)
	return nil
}

func dbCheckCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := slog.Default()
	v := common.NewValidator().
		Field("DB_URL", cfg.Database.DSN, common.Required).
		Field("DB_DRIVER", cfg.Database.Driver, common.OneOf("postgres", "sqlite"))
	if v.HasErrors() {
		return common.NewAppError("CONFIG_ERROR", v.ErrorMessage(), common.ErrInvalidInput)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	repo, closeDB, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	n, err := repo.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "database %s: OK (%d part records)\n", cfg.Database.Driver, n)
	return nil
}
