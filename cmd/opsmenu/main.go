package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"runtime/debug"
	"text/tabwriter"
	"time"

	"github.com/opsmenu/opsmenu/internal/catalog"
	"github.com/opsmenu/opsmenu/internal/directory"
	"github.com/opsmenu/opsmenu/internal/dispatch"
	"github.com/opsmenu/opsmenu/internal/engine"
	"github.com/opsmenu/opsmenu/internal/history"
	"github.com/opsmenu/opsmenu/internal/log"
	"github.com/opsmenu/opsmenu/internal/model"
	"github.com/opsmenu/opsmenu/internal/notify"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var (
	userConfigPath string // /default/config/path/opsmenu on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagRunUser        string // value of run --user flag
	flagHistoryLimit   int    // value of history --limit flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "opsmenu")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is opsmenu.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	runCmd.Flags().StringVar(&flagRunUser, "user", "", "username to run as - default is the current OS user")
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "number of runs to show")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initOpsmenu

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("opsmenu failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "opsmenu",
	Short:        "Permission gated launcher for operations scripts",
	SilenceUsage: true,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list shows the scripts discovered under the configured script root",
	RunE:  doList,
}

var runCmd = &cobra.Command{
	Use:   "run <script-id>",
	Short: "run resolves the caller, checks permission and executes one script",
	Args:  cobra.ExactArgs(1),
	RunE:  doRun,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "history shows recent runs, newest first",
	RunE:  doHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of opsmenu",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("opsmenu: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:  %s\n", configPath)
		}
		fmt.Printf("opsmenu: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	ctx = log.ContextAttrs(ctx, slog.Group("opsmenu",
		slog.String("cmd", "list"),
		slog.Int("pid", os.Getpid()),
	))

	cat := catalog.New(config.ScriptRoot, config.DefaultTimeout())
	if err := cat.Refresh(ctx); err != nil {
		return fmt.Errorf("reading script root: %w", err)
	}
	for _, warning := range cat.Warnings() {
		slog.WarnContext(ctx, "script skipped or degraded", "warning", warning)
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYNOPSIS\tACCESS")
	for _, script := range cat.List() {
		access := "public"
		if !script.Public() {
			access = "restricted"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", script.ID, script.Synopsis, access)
	}
	return w.Flush()
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ctx = log.ContextAttrs(ctx, slog.Group("opsmenu",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	))

	username := flagRunUser
	if username == "" {
		current, err := user.Current()
		if err != nil {
			return fmt.Errorf("detecting current user: %w", err)
		}
		username = current.Username
	}

	cat := catalog.New(config.ScriptRoot, config.DefaultTimeout())
	if err := cat.Refresh(ctx); err != nil {
		return fmt.Errorf("reading script root: %w", err)
	}
	for _, warning := range cat.Warnings() {
		slog.WarnContext(ctx, "script skipped or degraded", "warning", warning)
	}
	if watchEnabled() {
		go func() {
			if err := cat.Watch(ctx); err != nil {
				slog.ErrorContext(ctx, "watching script root failed", "error", err)
			}
		}()
	}

	var resolver directory.Resolver
	if config.Directory != nil {
		resolver = directory.NewCache(directory.NewLDAPResolver(*config.Directory))
	} else {
		slog.DebugContext(ctx, "no directory configured, only public scripts runnable")
		resolver = directory.Anonymous{}
	}

	eng := engine.New(outputLimit())
	defer eng.Close()

	var notifier *notify.Notifier
	if config.Notify != nil && (config.Notify.Enabled == nil || *config.Notify.Enabled) {
		notifier = notify.New(notify.NewSMTPMailer(*config.Notify), config.Notify.Recipients)
		defer notifier.Flush()
	}

	db, err := openHistory(cmd)
	if err != nil {
		// history is an audit trail, a broken one must not block the run
		slog.ErrorContext(ctx, "opening run history failed", "error", err)
	} else if db != nil {
		defer db.Close()
	}

	dispatcher := dispatch.New(cat, resolver, eng, notifier, db)
	outcome := dispatcher.RequestRun(ctx, username, args[0])

	if outcome.Output != "" {
		fmt.Print(outcome.Output)
	}
	switch outcome.Kind {
	case model.OutcomeSuccess:
		return nil
	case model.OutcomePermissionDenied, model.OutcomeBusy:
		return fmt.Errorf("%s: %s", outcome.Kind, outcome.Reason)
	default:
		return fmt.Errorf("%s: %s", outcome.Kind, outcome.ErrorSummary)
	}
}

func doHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	db, err := openHistory(cmd)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	if db == nil {
		return fmt.Errorf("run history is disabled in %s", configPath)
	}
	defer db.Close()

	rows, err := history.List(ctx, db, flagHistoryLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 2, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSCRIPT\tUSER\tOUTCOME")
	for _, row := range rows {
		outcome := "in progress"
		if row.Outcome != nil {
			outcome = *row.Outcome
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			row.Started.Local().Format(time.DateTime), row.ScriptID, row.Username, outcome)
	}
	return w.Flush()
}

func openHistory(cmd *cobra.Command) (*sql.DB, error) {
	if config.History != nil && config.History.Enabled != nil && !*config.History.Enabled {
		return nil, nil
	}
	path := filepath.Join(userConfigPath, "history.db")
	if config.History != nil && config.History.Path != nil {
		path = *config.History.Path
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return history.InitDB(cmd.Context(), path)
}

func watchEnabled() bool {
	return config.Service.Watch != nil && *config.Service.Watch
}

func outputLimit() int {
	if config.Service.OutputLimitBytes != nil {
		return *config.Service.OutputLimitBytes
	}
	return 1 << 20
}

func initOpsmenu(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("OPSMENUCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "opsmenu.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig(userConfigPath)
		configPath = filepath.Join(userConfigPath, "opsmenu.yaml")
		err := os.MkdirAll(filepath.Dir(configPath), 0755)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		err = enc.Encode(config)
		if err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
		if err := os.MkdirAll(config.ScriptRoot, 0755); err != nil {
			return fmt.Errorf("creating script root %s: %w", config.ScriptRoot, err)
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		loaded, err := model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("config validation", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
		config = *loaded
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}

	logDst := model.LogStderr
	if config.Service.Log != nil {
		logDst = *config.Service.Log
	}
	slog.SetDefault(log.New(config.Service.Verbose, logDst))

	// the only fatal startup check, but only commands touching the catalog
	// need a readable script root
	switch cmd.Name() {
	case "list", "run":
		if err := config.ValidateScriptRoot(); err != nil {
			return fmt.Errorf("script root %s: %w", config.ScriptRoot, err)
		}
	}

	slog.Debug("opsmenu run", "configPath", configPath)
	slog.Debug("opsmenu run", "config", config)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info != nil && info.Mode().IsRegular()
}
