package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"hawker-score/internal/auth"
	"hawker-score/internal/config"
	"hawker-score/internal/db"
	"hawker-score/internal/geo"
	"hawker-score/internal/ingest"
	"hawker-score/internal/logger"
	"hawker-score/internal/mapstate"
	"hawker-score/internal/models"
)

func main() {
	// Sub-commands
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	os.Args = os.Args[1:] // Shift args for flag parsing

	switch cmd {
	case "seed":
		seedSampleData()
	case "create-admin":
		createAdmin()
	case "refresh":
		refreshDatasets()
	case "quantiles":
		printQuantiles()
	case "snapshots":
		listSnapshots()
	case "compare":
		compareSubzones()
	case "export-geojson":
		exportGeoJSON()
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: tools <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  seed            Seed database with sample subzones, population and scores")
	fmt.Println("  create-admin    Create or update an admin user")
	fmt.Println("  refresh         Refresh datasets from the configured sources")
	fmt.Println("  quantiles       Print population quantile breaks")
	fmt.Println("  snapshots       List recent dataset refresh snapshots")
	fmt.Println("  compare         Compare two subzones side by side")
	fmt.Println("  export-geojson  Write the static boundary fallback file")
}

// env is what every command needs: config, logger and database
type env struct {
	cfg *config.Config
	log *zap.Logger
	db  *db.DB
}

func (e *env) Close() {
	e.db.Close()
	e.log.Sync()
}

// setup registers the shared flags, parses the command line and opens the
// database
func setup() *env {
	configPath := flag.String("config", "", "Path to YAML config file")
	dbPath := flag.String("db", "", "Path to SQLite database (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.DSN = *dbPath
	}

	zl, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	database, err := db.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		zl.Fatal("Failed to open database", zap.Error(err))
	}
	return &env{cfg: cfg, log: zl, db: database}
}

func seedSampleData() {
	year := flag.Int("year", time.Now().Year(), "Population year for the sample data")
	e := setup()
	defer e.Close()

	if err := e.db.SeedSample(context.Background(), *year); err != nil {
		e.log.Fatal("Failed to seed", zap.Error(err))
	}
	e.log.Info("Seeded sample data", zap.Int("subzones", len(db.SampleSubzones)), zap.Int("year", *year))
}

func createAdmin() {
	email := flag.String("email", "", "Admin email")
	password := flag.String("password", "", "Admin password (or HAWKER_ADMIN_PASSWORD)")
	role := flag.String("role", string(models.RoleAdmin), "Role: ADMIN or VIEWER")
	e := setup()
	defer e.Close()

	if *password == "" {
		*password = os.Getenv("HAWKER_ADMIN_PASSWORD")
	}

	// The service only hashes and stores here, so the issuer secret is unused
	issuer, err := auth.NewIssuer("unused-for-account-creation", time.Hour)
	if err != nil {
		e.log.Fatal("Failed to create issuer", zap.Error(err))
	}
	svc := auth.NewService(e.db, issuer)

	u, err := svc.CreateUser(context.Background(), *email, *password, models.Role(strings.ToUpper(*role)))
	if err != nil {
		e.log.Fatal("Failed to create user", zap.Error(err))
	}
	e.log.Info("User saved", zap.String("id", u.ID), zap.String("email", u.Email), zap.String("role", string(u.Role)))
}

func refreshDatasets() {
	kindFlag := flag.String("kind", "all", "Datasets to refresh: all, subzones, population or scores")
	useBrowser := flag.Bool("browser", false, "Use headless browser to fetch sources")
	headless := flag.Bool("headless", true, "Run browser in headless mode (set false to see browser)")
	e := setup()
	defer e.Close()

	kind, err := models.ParseDatasetKind(*kindFlag)
	if err != nil {
		e.log.Fatal("Invalid kind", zap.Error(err))
	}

	fetcher, release, err := ingest.NewFetcher(ingest.FetcherOptions{
		UseBrowser: *useBrowser || e.cfg.Ingest.UseBrowser,
		Headless:   *headless && e.cfg.Ingest.Headless,
		Timeout:    e.cfg.Ingest.Timeout,
		Logger:     e.log,
	})
	if err != nil {
		e.log.Fatal("Failed to create fetcher", zap.Error(err))
	}
	defer release()

	ingestCfg := ingest.DefaultConfig()
	ingestCfg.SubzonesURL = e.cfg.Ingest.SubzonesURL
	ingestCfg.PopulationURL = e.cfg.Ingest.PopulationURL
	ingestCfg.ScoresURL = e.cfg.Ingest.ScoresURL
	runner := ingest.New(e.db, fetcher, ingestCfg, e.log)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		e.log.Info("Received interrupt signal, shutting down...")
		cancel()
	}()

	snap, err := runner.Run(ctx, kind)
	if snap != nil {
		fmt.Printf("Snapshot %s: %s, %s records in %s\n",
			snap.ID, snap.Status, humanize.Comma(int64(snap.Records)), time.Duration(snap.DurationMs)*time.Millisecond)
	}
	if err != nil {
		if ctx.Err() == context.Canceled {
			e.log.Warn("Refresh cancelled by user")
			return
		}
		e.log.Fatal("Refresh failed", zap.Error(err))
	}
}

func printQuantiles() {
	k := flag.Int("k", geo.DefaultQuantiles, "Number of classes")
	e := setup()
	defer e.Close()

	if err := geo.ValidateQuantiles(*k); err != nil {
		e.log.Fatal("Invalid k", zap.Error(err))
	}
	values, err := e.db.PopulationValues(context.Background())
	if err != nil {
		e.log.Fatal("Failed to load population", zap.Error(err))
	}

	s := geo.Summarize(values, *k)
	fmt.Printf("%s subzones with population, %d classes\n", humanize.Comma(int64(s.Count)), s.K)
	if s.Min == nil {
		return
	}

	b := mapstate.NewBuckets(s.Breaks)
	lower := *s.Min
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLASS\tFROM\tTO\tCOLOR")
	for i := 0; i < b.Classes(); i++ {
		upper := *s.Max
		if i < len(s.Breaks) {
			upper = s.Breaks[i]
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1,
			humanize.Commaf(lower), humanize.Commaf(upper), b.ColorFor(&lower))
		lower = upper
	}
	w.Flush()
}

func listSnapshots() {
	limit := flag.Int("limit", 20, "Number of snapshots to show")
	e := setup()
	defer e.Close()

	snaps, err := e.db.ListSnapshots(context.Background(), *limit, 0)
	if err != nil {
		e.log.Fatal("Failed to list snapshots", zap.Error(err))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATUS\tRECORDS\tSTARTED\tERROR")
	for _, s := range snaps {
		msg := ""
		if s.Error != nil {
			msg = *s.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Kind, s.Status, humanize.Comma(int64(s.Records)), humanize.Time(s.StartedAt), msg)
	}
	w.Flush()
}

func compareSubzones() {
	a := flag.String("a", "", "First subzone id")
	b := flag.String("b", "", "Second subzone id")
	e := setup()
	defer e.Close()

	found, err := e.db.GetSubzonesByIDs(context.Background(), []string{*a, *b})
	if err != nil {
		e.log.Fatal("Failed to load subzones", zap.Error(err))
	}
	records := make([]models.SubzoneDetail, 0, 2)
	for _, id := range []string{*a, *b} {
		d, ok := found[id]
		if !ok {
			e.log.Fatal("Subzone not found", zap.String("id", id))
		}
		records = append(records, d)
	}

	c, err := mapstate.Compare(records)
	if err != nil {
		e.log.Fatal("Failed to compare", zap.Error(err))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "METRIC\t%s\t%s\tDELTA\n", c.A.Name, c.B.Name)
	for _, m := range c.Metrics {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Metric, formatMetric(m.A), formatMetric(m.B), formatMetric(m.Delta))
	}
	w.Flush()
}

func formatMetric(v *float64) string {
	if v == nil {
		return "-"
	}
	return humanize.CommafWithDigits(*v, 2)
}

func exportGeoJSON() {
	output := flag.String("output", "web/static/data/subzones.geojson", "Output file")
	tolerance := flag.Float64("simplify", geo.DefaultSimplifyTolerance, "Douglas-Peucker tolerance in degrees, 0 to disable")
	e := setup()
	defer e.Close()

	rows, err := e.db.ListGeoRows(context.Background())
	if err != nil {
		e.log.Fatal("Failed to load geometries", zap.Error(err))
	}
	fc, skipped := geo.BuildFeatureCollection(rows, geo.BuildOptions{Tolerance: *tolerance})

	data, err := json.Marshal(fc)
	if err != nil {
		e.log.Fatal("Failed to encode", zap.Error(err))
	}
	if err := os.MkdirAll(filepath.Dir(*output), 0755); err != nil {
		e.log.Fatal("Failed to create output directory", zap.Error(err))
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		e.log.Fatal("Failed to write", zap.Error(err))
	}
	e.log.Info("Saved boundary file",
		zap.String("path", *output),
		zap.Int("features", len(fc.Features)),
		zap.Int("skipped", skipped),
		zap.String("size", humanize.Bytes(uint64(len(data)))))
}
