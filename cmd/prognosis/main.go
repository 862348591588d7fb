package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/prognosis/internal/handler"
	appI18n "github.com/pavelanni/prognosis/internal/i18n"
	"github.com/pavelanni/prognosis/internal/llm"
	"github.com/pavelanni/prognosis/internal/llm/prompts"
	"github.com/pavelanni/prognosis/internal/model"
	"github.com/pavelanni/prognosis/internal/session"
)

func main() {
	// A missing .env is fine; real environment variables still apply.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "prognosis",
		Short: "Clinical case simulator API with an AI patient",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCasesCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address (PORT overrides the port when set)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /api)")
	f.StringSlice("cases", nil, "Case JSON files to import on start (repeatable)")
	f.String("llm-provider", llm.ProviderOpenAI, "Text generation provider (openai, gemini, dryrun)")
	f.String("llm-url", "", "API base URL (openai default: "+llm.DefaultOpenAIURL+"; gemini: Google endpoint)")
	f.String("llm-key", "", "API key for the LLM provider (openai default: "+llm.DefaultOpenAIKey+"; required for gemini)")
	f.String("llm-model", "", "LLM model name (openai default: "+llm.DefaultOpenAIModel+"; gemini default: gemini-2.5-flash)")
	f.Duration("llm-timeout", session.DefaultTimeout, "Timeout for each LLM call")
	f.String("prompt-variant", string(prompts.PromptStandard), "Feedback prompt variant (strict, standard, lenient)")
	f.String("auth-mode", "jwt", "Bearer token kind (jwt, token)")
	f.String("jwt-secret", "", "HMAC secret for JWT auth (or set PROGNOSIS_JWT_SECRET)")
	f.Duration("token-ttl", 24*time.Hour, "Lifetime of issued bearer tokens")
	f.StringSlice("allowed-origins", []string{"http://localhost:3000", "https://*.vercel.app"}, "CORS allowed origins")
	f.StringP("lang", "l", "en", "Default response language (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func importCasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-cases FILE...",
		Short: "Import case templates from JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImportCases,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all case sessions as JSON",
		RunE:  runExport,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(v *viper.Viper) {
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

	v.SetEnvPrefix("PROGNOSIS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("prognosis")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/prognosis")
	v.AddConfigPath("/etc/prognosis")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openBackend(ctx, v)
	if err != nil {
		return err
	}
	defer st.Close()

	if paths := v.GetStringSlice("cases"); len(paths) > 0 {
		if _, err := session.ImportCases(ctx, st, st, paths); err != nil {
			return fmt.Errorf("import cases: %w", err)
		}
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.PromptStandard)
	}

	llmCfg := llmConfig(v)
	gen, err := llm.NewGenerator(ctx, llmCfg)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	if err := gen.Ping(ctx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "provider", llmCfg.Provider, "url", llmCfg.BaseURL, "model", llmCfg.Model)

	responder, err := llm.NewResponder(gen, prompts.PromptVariant(variant))
	if err != nil {
		return fmt.Errorf("create responder: %w", err)
	}
	svc := session.NewService(st, st, responder, session.WithTimeout(v.GetDuration("llm-timeout")))

	provider, err := newAuthProvider(v, st)
	if err != nil {
		return err
	}
	if v.GetString("auth-mode") == "token" {
		go cleanupTokens(ctx, st, time.Hour)
	}

	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.Config{
		BasePath:       basePath,
		AllowedOrigins: v.GetStringSlice("allowed-origins"),
		Lang:           lang,
	}
	h, err := handler.New(st, svc, provider, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Mount(r)

	addr := v.GetString("addr")
	if port := os.Getenv("PORT"); port != "" && !cmd.Flags().Changed("addr") {
		addr = ":" + port
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"base_path", basePath,
			"store", v.GetString("store"),
			"llm_provider", llmCfg.Provider,
			"auth_mode", v.GetString("auth-mode"),
			"prompt_variant", variant,
			"lang", lang,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// llmConfig reads the generator settings with per-provider defaults applied.
func llmConfig(v *viper.Viper) llm.Config {
	return llm.Config{
		Provider: strings.ToLower(strings.TrimSpace(v.GetString("llm-provider"))),
		BaseURL:  v.GetString("llm-url"),
		APIKey:   v.GetString("llm-key"),
		Model:    v.GetString("llm-model"),
	}.WithDefaults()
}

func runImportCases(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)
	ctx := cmd.Context()

	st, err := openBackend(ctx, v)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := session.ImportCases(ctx, st, st, args)
	if err != nil {
		return fmt.Errorf("import cases: %w", err)
	}
	slog.Info("import finished", "files", len(args), "cases_added", n)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)
	ctx := cmd.Context()

	st, err := openBackend(ctx, v)
	if err != nil {
		return err
	}
	defer st.Close()

	export, err := st.ExportSessions(ctx)
	if err != nil {
		return fmt.Errorf("export sessions: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}
