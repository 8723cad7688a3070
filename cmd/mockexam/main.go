package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/mockexam/internal/bank"
	"github.com/pavelanni/mockexam/internal/config"
	"github.com/pavelanni/mockexam/internal/exam"
	"github.com/pavelanni/mockexam/internal/handler"
	appI18n "github.com/pavelanni/mockexam/internal/i18n"
	"github.com/pavelanni/mockexam/internal/llm"
	"github.com/pavelanni/mockexam/internal/model"
	"github.com/pavelanni/mockexam/internal/store"
)

//go:generate templ generate -path ../../internal/handler/views

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mockexam",
		Short: "Timed multiple-choice mock exams from a CSV question bank",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), poolsCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `mockexam --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "mockexam.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSliceP("bank", "b", nil, "Question bank CSV files to import at startup (repeatable)")
	f.Duration("time-limit", 0, "Exam time limit (default 20m)")
	f.StringP("lang", "l", "en", "Default UI language (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /ru)")
	f.Bool("secure-cookies", true, "Set Secure flag on cookies")
	f.String("admin-password", "", "Password for the bank admin page (or set MOCKEXAM_ADMIN_PASSWORD); empty disables it")
	f.Duration("session-retention", 24*time.Hour, "How long finished sessions are kept in memory")
	f.String("llm-url", "", "OpenAI-compatible API base URL for answer explanations (empty disables)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("explain-style", "brief", "Explanation prompt style (brief, detailed)")
	addCommonFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE.csv...",
		Short: "Import question bank CSV files into the database",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addCommonFlags(cmd)
	return cmd
}

func poolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pools",
		Short: "Report how many questions each blueprint quota can draw from",
		RunE:  runPools,
	}
	f := cmd.Flags()
	f.StringP("bank", "b", "", "Check this CSV file instead of the database")
	f.Duration("time-limit", 0, "Exam time limit (default 20m)")
	addCommonFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the question bank as JSON",
		RunE:  runExport,
	}
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	addCommonFlags(cmd)
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

// viperForCmd binds a command's flags, .env file and environment to a
// fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	// A missing .env file is fine.
	_ = godotenv.Load()

	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("MOCKEXAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("mockexam")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/mockexam")
	v.AddConfigPath("/etc/mockexam")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	bp, err := config.Blueprint(v)
	if err != nil {
		return fmt.Errorf("exam blueprint: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := importBanks(db, v.GetStringSlice("bank")); err != nil {
		return fmt.Errorf("import bank: %w", err)
	}
	if err := checkPools(db, bp); err != nil {
		return err
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	adminHash, err := hashAdminPassword(v.GetString("admin-password"))
	if err != nil {
		return err
	}

	var explainer handler.Explainer
	if llmURL := v.GetString("llm-url"); llmURL != "" {
		client, err := llm.New(llmURL, v.GetString("llm-key"), v.GetString("llm-model"), v.GetString("explain-style"))
		if err != nil {
			return fmt.Errorf("create LLM client: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = client.Ping(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", llmURL, "model", v.GetString("llm-model"))
		explainer = client
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	examCfg := model.ExamConfig{
		Blueprint:     bp,
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		AdminHash:     adminHash,
	}

	exams := exam.NewManager(v.GetDuration("session-retention"))
	h, err := handler.New(db, exams, explainer, examCfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware())

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
	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"blueprint", config.Describe(bp),
		"base_path", basePath,
		"explanations", explainer != nil,
		"admin", adminHash != "",
	)
	return http.ListenAndServe(addr, r)
}

// hashAdminPassword returns the bcrypt hash guarding bank uploads, or ""
// when no password is configured.
func hashAdminPassword(password string) (string, error) {
	if password == "" {
		slog.Warn("no admin password set, bank uploads are disabled")
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash admin password: %w", err)
	}
	return string(hash), nil
}

// checkPools warns about quotas the stored bank cannot fill. The server
// still starts so a bank can be uploaded through the admin page.
func checkPools(db *store.Store, bp model.Blueprint) error {
	reports, err := db.PoolReport(bp)
	if err != nil {
		return fmt.Errorf("pool report: %w", err)
	}
	for _, r := range reports {
		if !r.OK {
			slog.Warn("question pool too small", "quota", r.Quota.String(), "available", r.Available, "needed", r.Quota.Count)
		}
	}
	return nil
}

func importBanks(db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		questions, err := bank.Parse(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if _, err := db.ImportBank(path, data, questions); err != nil {
			return err
		}
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := importBanks(db, args); err != nil {
		return err
	}
	count, err := db.QuestionCount()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d questions in bank\n", count)
	return nil
}

func runPools(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	bp, err := config.Blueprint(v)
	if err != nil {
		return fmt.Errorf("exam blueprint: %w", err)
	}

	var reports []model.PoolReport
	if path := v.GetString("bank"); path != "" {
		questions, err := bank.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		reports = bp.Pools(questions)
	} else {
		db, err := store.New(v.GetString("db"))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if reports, err = db.PoolReport(bp); err != nil {
			return err
		}
	}

	if err := writePools(cmd.OutOrStdout(), bp, reports); err != nil {
		return err
	}
	if !model.Satisfied(reports) {
		return errors.New("question bank cannot satisfy the exam blueprint")
	}
	return nil
}

func writePools(w io.Writer, bp model.Blueprint, reports []model.PoolReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SECTION\tIDS\tTYPE\tNEED\tAVAILABLE\tOK")
	for _, r := range reports {
		ok := "yes"
		if !r.OK {
			ok = "NO"
		}
		sec := r.Quota.Section
		fmt.Fprintf(tw, "%s\t%d-%d\t%s\t%d\t%d\t%s\n", sec.Label, sec.FirstID, sec.LastID, r.Quota.Type, r.Quota.Count, r.Available, ok)
	}
	fmt.Fprintf(tw, "\n%s\n", config.Describe(bp))
	return tw.Flush()
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportBank()
	if err != nil {
		return fmt.Errorf("export bank: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
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
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}
