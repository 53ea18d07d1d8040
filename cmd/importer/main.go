package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/bank-feed/internal/banking"
	"github.com/Dan9191/bank-feed/internal/config"
	"github.com/Dan9191/bank-feed/internal/middleware"
	"github.com/Dan9191/bank-feed/internal/models"
	"github.com/Dan9191/bank-feed/internal/parsers"
	"github.com/Dan9191/bank-feed/internal/parsers/csv"
	"github.com/Dan9191/bank-feed/internal/repository"
	"github.com/Dan9191/bank-feed/internal/rules"
	"github.com/Dan9191/bank-feed/internal/service"
	"github.com/Dan9191/bank-feed/internal/utils"
)

var (
	tenantID   = flag.Int64("tenant", 0, "Tenant id (required)")
	format     = flag.String("format", "", "Parser name, e.g. mt940, camt053, ofx, csv-n26 (default: detect)")
	accountID  = flag.Int64("account", 0, "Local account id to link the rows to")
	applyRules = flag.Bool("apply-rules", false, "Run the tenant's matching rules over created rows")
	dryRun     = flag.Bool("dry-run", false, "Show which rows are new without writing")
	seedRules  = flag.String("seed-rules", "", "Seed the tenant's rules from a YAML file, or 'default'")
	issueToken = flag.Duration("token", 0, "Print an API bearer token for the tenant valid for this long")
	dbDriver   = flag.String("db-driver", "", "Database driver: postgres or sqlite (default: DB_DRIVER)")
	dbConn     = flag.String("db-conn", "", "Database connection string (default: DB_CONN)")
	verbose    = flag.Bool("verbose", false, "Show service logs")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `importer - import bank statement files into bank-feed

Usage:
  importer -tenant ID [flags] FILE...

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  importer -tenant 1 -db-driver sqlite -db-conn feed.db statement.sta export.csv
  importer -tenant 1 -dry-run -format csv-n26 n26.csv
  importer -tenant 1 -seed-rules default
  importer -tenant 1 -token 24h
`)
	}
	flag.Parse()

	if *tenantID <= 0 {
		failure("-tenant is required")
		flag.Usage()
		os.Exit(2)
	}
	if err := run(); err != nil {
		failure(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	if *dbDriver != "" {
		cfg.DBDriver = *dbDriver
	}
	if *dbConn != "" {
		cfg.DBConn = *dbConn
	}

	if *issueToken > 0 {
		token, err := middleware.IssueToken(cfg.JWTSecret, *tenantID, *issueToken)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if !*verbose {
		logger.SetOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	svc, closeDB, err := buildService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	if *seedRules != "" {
		if err := seed(ctx, svc); err != nil {
			return err
		}
	}
	if flag.NArg() == 0 {
		if *seedRules == "" {
			return fmt.Errorf("no files given")
		}
		return nil
	}

	header(fmt.Sprintf("Importing %d file(s) for tenant %d", flag.NArg(), *tenantID))
	var failed int
	for _, path := range flag.Args() {
		if err := importOne(ctx, svc, path); err != nil {
			failure(fmt.Sprintf("%s: %v", path, err))
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, flag.NArg())
	}
	return nil
}

func buildService(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service.Service, func(), error) {
	db, err := repository.Open(cfg.DBDriver, cfg.DBConn)
	if err != nil {
		return nil, nil, err
	}
	sealer, err := utils.NewSealer(cfg.EncryptionKey)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	repo := repository.NewRepository(db, cfg.DBDriver, sealer)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	var layouts []csv.Layout
	if cfg.LayoutsFile != "" {
		if layouts, err = csv.LoadLayoutsFile(cfg.LayoutsFile); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	registry, err := parsers.NewRegistry(layouts)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	// files only; no bank is reachable from the CLI
	bank := banking.NewClient(nil, repo, banking.NewStateSigner(cfg.StateSecret), banking.NewVerifierCache(time.Minute),
		banking.NewAPIClient(cfg.HTTPTimeout, logger), nil, logger)
	svc := service.NewService(repo, bank, registry, nil, nil, nil, logger, cfg)
	return svc, func() { db.Close() }, nil
}

func seed(ctx context.Context, svc *service.Service) error {
	var set []models.MatchingRule
	if *seedRules == "default" {
		set = rules.DefaultRuleSet()
	} else {
		loaded, err := rules.LoadRuleSetFile(*seedRules)
		if err != nil {
			return err
		}
		set = loaded
	}
	if err := svc.Rules.Seed(ctx, *tenantID, set); err != nil {
		return err
	}
	success(fmt.Sprintf("seeded %d rules", len(set)))
	return nil
}

func importOne(ctx context.Context, svc *service.Service, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	f := service.FileImport{
		TenantID:   *tenantID,
		Format:     *format,
		FileName:   filepath.Base(path),
		Data:       data,
		ApplyRules: *applyRules,
	}
	if *accountID > 0 {
		id := *accountID
		f.AccountID = &id
	}

	if *dryRun {
		preview, err := svc.Files.PreviewFile(ctx, f)
		if err != nil {
			return err
		}
		printPreview(path, preview)
		return nil
	}

	res, entry, err := svc.Files.ImportFile(ctx, f)
	if err != nil {
		if entry != nil {
			return fmt.Errorf("%w (import %s)", err, entry.ID)
		}
		return err
	}
	printImport(path, res, entry)
	if entry.Status == models.ImportFailed {
		return fmt.Errorf("no rows imported, see import %q", entry.ID)
	}
	return nil
}
