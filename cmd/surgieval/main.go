package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/surgieval/internal/handler"
	appI18n "github.com/pavelanni/surgieval/internal/i18n"
	"github.com/pavelanni/surgieval/internal/llm"
	"github.com/pavelanni/surgieval/internal/llm/prompts"
	"github.com/pavelanni/surgieval/internal/model"
	"github.com/pavelanni/surgieval/internal/report"
	"github.com/pavelanni/surgieval/internal/session"
	"github.com/pavelanni/surgieval/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "surgieval",
		Short: "OSCE surgery station proctor with AI-generated scenarios",
	}

	serve := serveCmd()
	root.AddCommand(serve, topicsCmd(), renderCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `surgieval --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP proctor server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "surgieval.db", "SQLite topic catalog path")
	f.StringSliceP("topics", "t", nil, "Paths to topic JSON files (repeatable)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Duration("llm-timeout", session.DefaultCallTimeout, "Timeout of one scenario or feedback call")
	f.StringP("lang", "l", "es", "UI, prompt and report language (en, es)")
	f.Int("station-seconds", session.DefaultStationSeconds, "Station countdown in seconds")
	f.Bool("auto-finish", false, "Finish the station when the countdown reaches zero")
	f.String("prompt-variant", string(prompts.PromptStandard), "Feedback prompt variant (strict, standard, lenient)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /osce)")
	f.Bool("secure-cookies", true, "Set Secure flag on cookies")
	f.Bool("skip-llm-check", false, "Start without checking the LLM endpoint")
	addLogFlags(cmd)
	return cmd
}

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "List the topic catalog",
		RunE:  runTopics,
	}
	f := cmd.Flags()
	f.String("db", "surgieval.db", "SQLite topic catalog path")
	f.StringSliceP("topics", "t", nil, "Topic JSON files to import before listing")
	f.StringP("mode", "m", "", "Only list topics of this mode (CASE, PROCEDURE)")
	addLogFlags(cmd)
	return cmd
}

func renderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a PDF report from an exported snapshot",
		RunE:  runRender,
	}
	f := cmd.Flags()
	f.StringP("snapshot", "s", "", "Snapshot JSON file (required)")
	f.StringP("output", "o", ".", "Output directory")
	f.StringP("lang", "l", "es", "Report language (en, es)")
	_ = cmd.MarkFlagRequired("snapshot")
	addLogFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SURGIEVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("surgieval")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/surgieval")
	v.AddConfigPath("/etc/surgieval")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openCatalog opens the database, seeds the built-in topics and imports files.
func openCatalog(path string, files []string) (*store.Store, error) {
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.SeedDefaults(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed topics: %w", err)
	}
	for _, f := range files {
		if _, err := db.ImportTopics(f); err != nil {
			db.Close()
			return nil, fmt.Errorf("import %s: %w", f, err)
		}
	}
	return db, nil
}

// stationRules builds the transition rules with texts in lang.
func stationRules(lang string, seconds int, autoFinish bool) session.Rules {
	ctx := appI18n.ContextFor(context.Background(), lang)
	rules := session.DefaultRules()
	rules.StationSeconds = seconds
	rules.AutoFinish = autoFinish
	rules.Language = lang
	rules.Fallback = model.FallbackText{
		Strength:       appI18n.T(ctx, "FallbackStrength"),
		Weakness:       appI18n.T(ctx, "FallbackWeakness"),
		Recommendation: appI18n.T(ctx, "FallbackRecommendation"),
	}
	rules.ScenarioFailed = appI18n.T(ctx, "ErrScenarioFailed")
	return rules
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := strings.ToLower(v.GetString("lang"))
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	db, err := openCatalog(v.GetString("db"), v.GetStringSlice("topics"))
	if err != nil {
		return err
	}
	defer db.Close()
	if n, err := db.TopicCount(); err == nil {
		slog.Info("topic catalog ready", "topics", n)
	}

	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}
	llmClient, err := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		promptVariant,
	)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	if !v.GetBool("skip-llm-check") {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := llmClient.Ping(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}

	seconds := v.GetInt("station-seconds")
	if seconds <= 0 {
		return fmt.Errorf("station-seconds must be positive, got %d", seconds)
	}
	rules := stationRules(lang, seconds, v.GetBool("auto-finish"))
	machine := session.New(llmClient, rules, session.WithCallTimeout(v.GetDuration("llm-timeout")))
	defer machine.Close()

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.StationConfig{
		StationSeconds: seconds,
		AutoFinish:     rules.AutoFinish,
		Language:       lang,
		BasePath:       basePath,
		SecureCookies:  v.GetBool("secure-cookies"),
		PromptVariant:  promptVariant,
	}
	h := handler.New(machine, db, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"station_seconds", seconds,
		"auto_finish", cfg.AutoFinish,
		"prompt_variant", promptVariant,
		"base_path", basePath,
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runTopics(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	mode := model.ExamMode(strings.ToUpper(strings.TrimSpace(v.GetString("mode"))))
	if mode != "" && !mode.Valid() {
		return fmt.Errorf("unknown mode %q (use CASE or PROCEDURE)", mode)
	}

	db, err := openCatalog(v.GetString("db"), v.GetStringSlice("topics"))
	if err != nil {
		return err
	}
	defer db.Close()

	topics, err := db.ListTopics(mode)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODE\t#\tTOPIC")
	for _, t := range topics {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", t.Mode, t.Position, t.Name)
	}
	return tw.Flush()
}

func runRender(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := strings.ToLower(v.GetString("lang"))
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	data, err := os.ReadFile(v.GetString("snapshot"))
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.IssuedAt.IsZero() {
		return fmt.Errorf("snapshot has no issue time: %w", model.ErrIncompleteSnapshot)
	}

	labels := report.LocalizedLabels(appI18n.ContextFor(context.Background(), lang))
	doc, err := report.Build(snap, labels, report.NewFPDFMeasurer())
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}

	outDir := v.GetString("output")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(outDir, report.Filename(snap.Student))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := report.Render(doc, f); err != nil {
		f.Close()
		return fmt.Errorf("render report: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	slog.Info("report written", "path", path, "pages", len(doc.Pages))
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
