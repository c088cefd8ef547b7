package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/cdw/internal/config"
	"github.com/ehr/cdw/internal/domain/fact"
	"github.com/ehr/cdw/internal/domain/mapping"
	"github.com/ehr/cdw/internal/domain/ontology"
	"github.com/ehr/cdw/internal/graph"
	"github.com/ehr/cdw/internal/graph/fhirjson"
	"github.com/ehr/cdw/internal/loader"
	"github.com/ehr/cdw/internal/platform/auth"
	"github.com/ehr/cdw/internal/platform/db"
	"github.com/ehr/cdw/internal/platform/metrics"
	"github.com/ehr/cdw/internal/platform/middleware"
	"github.com/ehr/cdw/internal/session"
	"github.com/ehr/cdw/internal/vocab"
	"github.com/ehr/cdw/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "cdw-loader",
		Short:        "FHIR RDF to i2b2 warehouse loader",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(ontologyCmd())
	rootCmd.AddCommand(factsCmd())
	rootCmd.AddCommand(mappingCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(out)
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// loadConfig reads and validates configuration and builds the logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, newLogger(cfg, os.Stderr), nil
}

func newSession(cfg *config.Config, logger zerolog.Logger) (*session.Session, error) {
	sess := session.New(logger, session.Options{
		PatientFloor:   cfg.PatientNumFloor,
		EncounterFloor: cfg.EncounterNumFloor,
		IdentitySource: cfg.IdentitySource,
	})
	if cfg.NamespaceFile != "" {
		if err := sess.Resolver.LoadFile(cfg.NamespaceFile); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func loaderOptions(cfg *config.Config) loader.Options {
	return loader.Options{
		ProjectID:       cfg.ProjectID,
		PatientSource:   cfg.PatientIDESource,
		EncounterSource: cfg.EncounterIDESource,
		ProviderID:      cfg.ProviderID,
		SourcesystemCD:  cfg.SourcesystemCD,
		UploadID:        cfg.UploadID,
		BaseIRI:         cfg.BaseIRI,
	}
}

func newBuilder(cfg *config.Config, sess *session.Session) *ontology.Builder {
	b := ontology.NewBuilder(sess)
	b.Root = cfg.OntologyRoot
	b.MaxDepth = cfg.ModifierMaxDepth
	b.SourcesystemCD = cfg.SourcesystemCD
	return b
}

// parseRoot turns a --root flag into a class term. A bare name is taken to
// be a FHIR type.
func parseRoot(s string) *graph.Term {
	if s == "" {
		return nil
	}
	if !strings.Contains(s, ":") {
		s = vocab.FHIR + s
	}
	t := graph.IRI(s)
	return &t
}

// readResources loads FHIR JSON files. Files ending in .ndjson hold one
// resource per line; anything else is a single resource or a Bundle.
func readResources(paths []string) ([]*fhirjson.Resource, error) {
	var out []*fhirjson.Resource
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		var rs []*fhirjson.Resource
		if strings.EqualFold(filepath.Ext(p), ".ndjson") {
			rs, err = fhirjson.ReadNDJSON(f)
		} else {
			var data []byte
			data, err = io.ReadAll(f)
			if err == nil {
				rs, err = fhirjson.Parse(data)
			}
		}
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, rs...)
	}
	return out, nil
}

// services wires the domain services over one pool.
type services struct {
	sess     *session.Session
	mappings *mapping.Service
	facts    *fact.Service
	ontology *ontology.Service
	loader   *loader.Service
}

func newServices(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger, m *metrics.Metrics) (*services, error) {
	sess, err := newSession(cfg, logger)
	if err != nil {
		return nil, err
	}
	if m != nil {
		sess.Diag.OnReport = func(k session.DiagKind) { m.Diagnostic(string(k)) }
	}

	mappings := mapping.NewService(mapping.NewRepo(pool), sess.Patients, sess.Encounters, logger)
	facts := fact.NewService(fact.NewRepo(pool), logger)
	var rec loader.Recorder
	if m != nil {
		rec = m
	}
	return &services{
		sess:     sess,
		mappings: mappings,
		facts:    facts,
		ontology: ontology.NewService(ontology.NewRepo(pool), newBuilder(cfg, sess), logger),
		loader:   loader.NewService(sess, facts, mappings, loaderOptions(cfg), rec),
	}, nil
}

// connect opens the pool and pins one connection to the configured schema.
func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, context.Context, func(), error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, ctx, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, ctx, nil, err
	}
	ctx, release, err := db.WithConn(ctx, pool, cfg.DBSchema)
	if err != nil {
		pool.Close()
		return nil, ctx, nil, err
	}
	return pool, ctx, func() {
		release()
		pool.Close()
	}, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the loader API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run warehouse migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			schema, _ := cmd.Flags().GetString("schema")
			if schema == "" {
				schema = cfg.DBSchema
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, "", cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS)
			fmt.Printf("Running migrations on schema: %s\n", schema)
			if err := db.CreateSchema(ctx, pool, schema, migrator); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Println("Schema is up to date.")
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			schema, _ := cmd.Flags().GetString("schema")
			if schema == "" {
				schema = cfg.DBSchema
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, "", cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func ontologyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ontology",
		Short: "Build the ontology browse tree",
	}

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Build the ontology from a metadata graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				file = cfg.MetadataFile
			}
			if file == "" {
				return fmt.Errorf("--file or METADATA_FILE is required")
			}
			root, _ := cmd.Flags().GetString("root")
			publish, _ := cmd.Flags().GetBool("publish")

			meta, err := graph.LoadFile(file)
			if err != nil {
				return err
			}

			if !publish {
				sess, err := newSession(cfg, logger)
				if err != nil {
					return err
				}
				res, err := newBuilder(cfg, sess).Build(meta, parseRoot(root))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}

			pool, ctx, closeFn, err := connect(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			svc, err := newServices(cfg, pool, logger, nil)
			if err != nil {
				return err
			}
			if _, err := svc.ontology.Build(meta, parseRoot(root)); err != nil {
				return err
			}
			out, err := svc.ontology.Publish(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	buildCmd.Flags().String("file", "", "N-Triples or Turtle (.ttl) metadata file (defaults to METADATA_FILE)")
	buildCmd.Flags().String("root", "", "Build for one resource type only")
	buildCmd.Flags().Bool("publish", false, "Write the ontology to the warehouse")
	cmd.AddCommand(buildCmd)

	return cmd
}

func factsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Convert FHIR resources to observation facts",
	}

	loadCmd := &cobra.Command{
		Use:   "load [files...]",
		Short: "Load FHIR JSON or NDJSON files into the warehouse",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			replace, _ := cmd.Flags().GetBool("replace")

			resources, err := readResources(args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, ctx, closeFn, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			svc, err := newServices(cfg, pool, logger, nil)
			if err != nil {
				return err
			}
			if err := svc.mappings.Restore(ctx, cfg.ProjectID); err != nil {
				return err
			}

			var stats loader.Stats
			if replace {
				stats, err = svc.loader.Reload(ctx, resources)
			} else {
				stats, err = svc.loader.LoadResources(ctx, resources)
			}
			if perr := printJSON(cmd.OutOrStdout(), stats); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
	loadCmd.Flags().Bool("replace", false, "Delete facts from UPLOAD_ID before loading")
	cmd.AddCommand(loadCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete facts by sourcesystem tag or upload id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			source := mustString(cmd, "source")
			upload, _ := cmd.Flags().GetInt("upload")
			if source == "" && !cmd.Flags().Changed("upload") {
				return fmt.Errorf("one of --source or --upload is required")
			}

			pool, ctx, closeFn, err := connect(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			svc, err := newServices(cfg, pool, logger, nil)
			if err != nil {
				return err
			}
			var counts fact.Counts
			if source != "" {
				counts, err = svc.facts.DeleteSource(ctx, source)
			} else {
				counts, err = svc.facts.DeleteUpload(ctx, upload)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), counts)
		},
	}
	deleteCmd.Flags().String("source", "", "Sourcesystem tag whose facts are removed")
	deleteCmd.Flags().Int("upload", 0, "Upload id whose facts are removed")
	deleteCmd.MarkFlagsMutuallyExclusive("source", "upload")
	cmd.AddCommand(deleteCmd)

	return cmd
}

func mappingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Manage patient and encounter key mappings",
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Report the next free surrogate key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			kind, err := mapping.ParseKind(mustString(cmd, "kind"))
			if err != nil {
				return err
			}
			var exclude *int
			if cmd.Flags().Changed("exclude-upload") {
				n, _ := cmd.Flags().GetInt("exclude-upload")
				exclude = &n
			}

			pool, ctx, closeFn, err := connect(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			svc, err := newServices(cfg, pool, logger, nil)
			if err != nil {
				return err
			}
			next, err := svc.mappings.Refresh(ctx, kind, exclude)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: next key %d\n", kind, next)
			return nil
		},
	}
	refreshCmd.Flags().String("kind", string(mapping.KindPatient), "patient or encounter")
	refreshCmd.Flags().Int("exclude-upload", 0, "Ignore keys written by this upload")
	cmd.AddCommand(refreshCmd)

	return cmd
}

func mustString(cmd *cobra.Command, name string) string {
	s, _ := cmd.Flags().GetString(name)
	return s
}

func newEcho(cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Warehouse-Schema"},
	}))

	if cfg.IsDev() && cfg.AuthSecret == "" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.AuthSecret),
			Skipper:    auth.AuthSkipper,
		}))
	}
	return e
}

func runServer() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		logger.Fatal().Err(err).Msg("database is not configured")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, "", cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	m := metrics.New()
	svc, err := newServices(cfg, pool, logger, m)
	if err != nil {
		return err
	}

	// Seed the registries from the default schema so keys continue where the
	// last load stopped.
	restoreCtx, release, err := db.WithConn(ctx, pool, cfg.DBSchema)
	if err != nil {
		return err
	}
	err = svc.mappings.Restore(restoreCtx, cfg.ProjectID)
	release()
	if err != nil {
		logger.Warn().Err(err).Msg("mapping restore failed; allocating from floors")
	}

	e := newEcho(cfg, logger)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "run_id": svc.sess.RunID.String()})
	})
	e.GET("/health/db", db.HealthHandler(pool, cfg.DBSchema))
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.BodyLimit("64M"))
	apiV1.Use(auth.RequireRole(auth.RoleLoader, auth.RoleReader))
	apiV1.Use(db.SchemaMiddleware(pool, cfg.DBSchema))

	fact.NewHandler(svc.facts).RegisterRoutes(apiV1)
	loader.NewHandler(svc.loader).RegisterRoutes(apiV1)
	ontology.NewHandler(svc.ontology).RegisterRoutes(apiV1)
	mapping.NewHandler(svc.mappings, cfg.ProjectID).RegisterRoutes(apiV1)

	if cfg.MetadataFile != "" {
		meta, err := graph.LoadFile(cfg.MetadataFile)
		if err != nil {
			logger.Warn().Err(err).Str("file", cfg.MetadataFile).Msg("metadata not loaded")
		} else if _, err := svc.ontology.Build(meta, nil); err != nil {
			logger.Warn().Err(err).Msg("ontology build failed")
		}
	}

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
