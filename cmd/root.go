package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/focus"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/lock"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/output"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/stats"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/store"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/zombie"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *slog.Logger
	dataStore store.Store
	locker    lock.Locker
	deps      *app

	verbose bool
	dryRun  bool
)

// app is the wired focus engine shared by all commands.
type app struct {
	store      store.Store
	engine     *focus.Engine
	reconciler *zombie.Reconciler
	stats      *stats.Aggregator
	location   *time.Location
}

var rootCmd = &cobra.Command{
	Use:   "arzu",
	Short: "Arzu - pomodoro sessions, focus periods and focus analytics",
	Long: `arzu records pomodoro sessions and the focus periods inside them.
It closes periods and sessions that were abandoned without an end, and
reports weekly or monthly focus and habit statistics.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	closeDeps()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/arzu/config.yaml)")
	rootCmd.PersistentFlags().Int64P("user", "u", 0, "User id to act as (default: config user)")
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "arzu")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ARZU")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "arzu"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults(configDir string) {
	zc := zombie.DefaultConfig()

	viper.SetDefault("state_dir", configDir)
	viper.SetDefault("user", 1)
	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.path", filepath.Join(configDir, "arzu.db"))
	viper.SetDefault("db.url", "")
	viper.SetDefault("redis.url", "")
	viper.SetDefault("zombie.threshold", zc.Threshold)
	viper.SetDefault("zombie.session_threshold", zc.SessionThreshold)
	viper.SetDefault("zombie.interval", zc.Interval)
	viper.SetDefault("zombie.budget", zc.Budget)
	viper.SetDefault("zombie.batch_size", zc.BatchSize)
	viper.SetDefault("stats.outlier_ceiling", 300)
	viper.SetDefault("stats.timezone", "Local")
	viper.SetDefault("stats.histogram_offset", "+08:00")
	viper.SetDefault("stats.categories", categoryNames(models.DefaultTaskCategories))
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("port", 8080)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

func categoryNames(cats []models.TaskCategory) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	logger = newLogger(viper.GetString("log.level"), viper.GetString("log.format"))
	slog.SetDefault(logger)

	// Store and engine are opened lazily, only when commands need them.
	// This allows config/version commands to run without a db.
}

// newLogger builds the process logger. Logs go to stderr so command output
// on stdout stays machine-readable.
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// rootRun handles `arzu` with no subcommand: show the active session, or help
// when there is no database yet.
func rootRun(cmd *cobra.Command) error {
	a, err := getApp()
	if err != nil {
		return cmd.Help()
	}
	return showActive(cmd.Context(), a, currentUser())
}

// currentUser returns the user id commands act as.
func currentUser() int64 {
	return viper.GetInt64("user")
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		s   store.Store
		err error
	)
	switch driver := viper.GetString("db.driver"); driver {
	case "sqlite", "":
		s, err = store.NewSQLiteStore(viper.GetString("db.path"))
	case "postgres":
		s, err = store.NewPostgresStore(ctx, viper.GetString("db.url"))
	default:
		return nil, fmt.Errorf("unknown db.driver %q (use: sqlite, postgres)", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getLocker returns a Redis-backed locker when redis.url is set, otherwise an
// in-process one.
func getLocker() (lock.Locker, error) {
	if locker != nil {
		return locker, nil
	}
	url := viper.GetString("redis.url")
	if url == "" {
		locker = lock.NewMemory()
		return locker, nil
	}
	r, err := lock.NewRedis(url, lock.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	locker = r
	return locker, nil
}

func zombieConfig() zombie.Config {
	return zombie.Config{
		Threshold:        viper.GetDuration("zombie.threshold"),
		SessionThreshold: viper.GetDuration("zombie.session_threshold"),
		Interval:         viper.GetDuration("zombie.interval"),
		Budget:           viper.GetDuration("zombie.budget"),
		BatchSize:        viper.GetInt("zombie.batch_size"),
	}
}

func statsConfig() (stats.Config, error) {
	loc, err := stats.LoadLocation(viper.GetString("stats.timezone"))
	if err != nil {
		return stats.Config{}, fmt.Errorf("stats.timezone: %w", err)
	}
	zone, err := stats.ParseOffset(viper.GetString("stats.histogram_offset"))
	if err != nil {
		return stats.Config{}, fmt.Errorf("stats.histogram_offset: %w", err)
	}
	var cats []models.TaskCategory
	for _, c := range viper.GetStringSlice("stats.categories") {
		cats = append(cats, models.TaskCategory(c))
	}
	return stats.Config{
		OutlierCeiling: viper.GetFloat64("stats.outlier_ceiling"),
		Location:       loc,
		HistogramZone:  zone,
		Categories:     cats,
	}, nil
}

// getApp wires the engine, reconciler and aggregator on first call.
func getApp() (*app, error) {
	if deps != nil {
		return deps, nil
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	l, err := getLocker()
	if err != nil {
		return nil, err
	}
	sc, err := statsConfig()
	if err != nil {
		return nil, err
	}

	rec := zombie.New(s, zombieConfig(), zombie.WithLogger(logger))
	deps = &app{
		store:      s,
		reconciler: rec,
		engine: focus.New(s,
			focus.WithLocker(l),
			focus.WithStaleChecker(rec),
			focus.WithLogger(logger),
		),
		stats:    stats.New(s, sc),
		location: sc.Location,
	}
	return deps, nil
}

// closeDeps releases the store and any Redis connection.
func closeDeps() {
	if r, ok := locker.(*lock.Redis); ok {
		_ = r.Close()
	}
	if dataStore != nil {
		_ = dataStore.Close()
	}
}
