// Package main is the entry point for the mosaic CLI.
//
// mosaic manages vaults of canvas workspaces stored as plain files.
// Subcommands create, inspect, migrate and bundle canvases, follow live
// file changes, and query the optional git-backed version log.
// Configuration is read from CLI flags, a .env file in the data directory
// (MOSAIC_* keys) and settings.json.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/mosaicflow/mosaic/internal/models"
	"github.com/mosaicflow/mosaic/internal/storage"
	"github.com/mosaicflow/mosaic/internal/storage/vault"
	"github.com/mosaicflow/mosaic/internal/storage/vcs"
	"github.com/mosaicflow/mosaic/internal/watch"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "mosaic: %v\n", err)
		os.Exit(1)
	}
}

const usageText = `usage: mosaic [flags] <command> [args]

Commands:
  create <name> [description]   Create a canvas, initializing the vault if needed
  list                          List the canvases of the vault
  open <name>                   Load a canvas and print a load summary
  migrate <name>                Upgrade a canvas to the folder-per-entity layout
  rename <name> <new-name>      Rename a canvas
  delete <name>                 Delete a canvas
  recent [-n count] [-vaults]   Show recently opened canvases
  export <name> <dest-dir>      Pack a canvas into a portable bundle
  import <bundle-dir>           Unpack a bundle into the vault
  watch <name>                  Follow canvas file changes until interrupted
  history [-n count] <name>     Show the version log of a canvas

Flags:
`

func usage() {
	fmt.Fprint(flag.CommandLine.Output(), usageText)
	flag.PrintDefaults()
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	vaultDir := flag.String("vault", ".", "Vault directory")
	dataDir := flag.String("data-dir", "", "Application data directory (default: per-user config dir)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	watchExe := flag.Bool("watch-exe", false, "Exit when the executable is replaced (for development restarts)")
	flag.Usage = usage
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			val := a.Value.Any()
			skip := false
			switch t := val.(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case uint64:
				skip = t == 0
			case int64:
				skip = t == 0
			case float64:
				skip = t == 0
			case time.Time:
				skip = t.IsZero()
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	if *dataDir == "" {
		d, err := storage.DefaultDataDir()
		if err != nil {
			return err
		}
		*dataDir = d
	}
	if err := os.MkdirAll(*dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// .env in the data directory fills in flags the user did not set.
	env, err := loadDotEnv(*dataDir)
	if err != nil {
		return err
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if !set["vault"] {
		if v := env["MOSAIC_VAULT"]; v != "" {
			*vaultDir = v
		}
	}
	if !set["log-level"] {
		if v := env["MOSAIC_LOG_LEVEL"]; v != "" {
			*logLevel = v
		}
	}

	switch *logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", *logLevel)
	}

	// Watch own executable for modifications (for development restarts).
	if *watchExe {
		if err := watchExecutable(ctx, stop); err != nil {
			return fmt.Errorf("failed to watch executable: %w", err)
		}
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}

	cfg, err := storage.LoadAppConfig(*dataDir)
	if err != nil {
		return err
	}
	a := &app{
		dataDir:  *dataDir,
		vaultDir: *vaultDir,
		cfg:      cfg,
		author:   firstNonEmpty(env["MOSAIC_AUTHOR"], "mosaic"),
		email:    firstNonEmpty(env["MOSAIC_EMAIL"], "mosaic@localhost"),
		logger:   logger,
	}
	defer a.shutdown()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "create":
		if len(rest) < 1 || len(rest) > 2 {
			return errors.New("usage: mosaic create <name> [description]")
		}
		desc := ""
		if len(rest) == 2 {
			desc = rest[1]
		}
		return a.create(rest[0], desc)
	case "list":
		if len(rest) != 0 {
			return errors.New("usage: mosaic list")
		}
		return a.list()
	case "open":
		if len(rest) != 1 {
			return errors.New("usage: mosaic open <name>")
		}
		return a.open(rest[0])
	case "migrate":
		if len(rest) != 1 {
			return errors.New("usage: mosaic migrate <name>")
		}
		return a.migrate(rest[0])
	case "rename":
		if len(rest) != 2 {
			return errors.New("usage: mosaic rename <name> <new-name>")
		}
		return a.rename(rest[0], rest[1])
	case "delete":
		if len(rest) != 1 {
			return errors.New("usage: mosaic delete <name>")
		}
		return a.remove(rest[0])
	case "recent":
		return a.recent(rest)
	case "export":
		if len(rest) != 2 {
			return errors.New("usage: mosaic export <name> <dest-dir>")
		}
		return a.export(rest[0], rest[1])
	case "import":
		if len(rest) != 1 {
			return errors.New("usage: mosaic import <bundle-dir>")
		}
		return a.importBundle(rest[0])
	case "watch":
		if len(rest) != 1 {
			return errors.New("usage: mosaic watch <name>")
		}
		return a.watch(ctx, rest[0])
	case "history":
		return a.history(ctx, rest)
	default:
		usage()
		return fmt.Errorf("unknown command: %q", cmd)
	}
}

// app bundles the resolved configuration for one command invocation.
type app struct {
	dataDir  string
	vaultDir string
	cfg      *models.AppConfig
	author   string
	email    string
	logger   *slog.Logger

	// vcsLog is set by canvases when versioning is enabled.
	vcsLog vcs.Log
}

// canvases opens the vault behind -vault and returns its canvas service.
// create scaffolds a fresh vault instead of failing when the directory is
// not one yet.
func (a *app) canvases(create bool) (*vault.CanvasService, *models.VaultInfo, error) {
	abs, err := filepath.Abs(a.vaultDir)
	if err != nil {
		return nil, nil, err
	}
	svc := vault.NewService(a.logger)
	var info *models.VaultInfo
	if svc.IsVault(abs) {
		info, err = svc.Open(abs)
	} else if create {
		info, err = svc.Create(abs, filepath.Base(abs), "")
		if err == nil {
			a.logger.Info("vault initialized", "path", abs)
		}
	} else {
		return nil, nil, fmt.Errorf("%s is not a vault (mosaic create initializes one)", abs)
	}
	if err != nil {
		return nil, nil, err
	}
	if a.cfg.Versioning {
		log, err := vcs.OpenGit(abs, a.author, a.email)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open version log: %w", err)
		}
		a.vcsLog = log
	}
	cs, err := svc.Canvases(abs, a.vcsLog)
	if err != nil {
		return nil, nil, err
	}
	return cs, info, nil
}

func (a *app) shutdown() {
	if a.vcsLog != nil {
		_ = a.vcsLog.Close()
	}
}

func (a *app) openLog() (*storage.OpenLog, error) {
	return storage.NewOpenLog(a.dataDir, a.logger)
}

func (a *app) create(name, description string) error {
	cs, _, err := a.canvases(true)
	if err != nil {
		return err
	}
	info, err := cs.Create(name, description)
	if err != nil {
		return err
	}
	// Configured defaults only need a write when they differ from the
	// built-in ones the fresh manifest already carries.
	if a.cfg.Defaults != models.DefaultSettings() {
		sess, _, err := cs.Open(info.Name)
		if err != nil {
			return err
		}
		err = sess.UpdateSettings(a.cfg.Defaults)
		sess.Close()
		if err != nil {
			return err
		}
	}
	fmt.Printf("Created %s (%s)\n", info.Name, info.Path)
	return nil
}

func (a *app) list() error {
	cs, _, err := a.canvases(false)
	if err != nil {
		return err
	}
	infos, err := cs.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No canvases.")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFOLDER\tUPDATED\tTAGS")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			info.Name, filepath.Base(info.Path),
			info.UpdatedAt.Local().Format("2006-01-02 15:04"),
			strings.Join(info.Tags, ","))
	}
	return tw.Flush()
}

func (a *app) open(name string) error {
	cs, vinfo, err := a.canvases(false)
	if err != nil {
		return err
	}
	sess, info, err := cs.Open(name)
	if err != nil {
		return err
	}
	defer sess.Close()

	meta := sess.Meta()
	report := sess.Report()
	fmt.Printf("%s (%s)\n", info.Name, info.Path)
	fmt.Printf("  version: %s\n", meta.Version)
	fmt.Printf("  nodes:   %d\n", len(sess.Nodes()))
	fmt.Printf("  edges:   %d\n", len(sess.Edges()))
	if report.Skipped > 0 {
		fmt.Printf("  skipped: %d entities with missing files\n", report.Skipped)
	}
	if report.Quarantined > 0 {
		fmt.Printf("  quarantined: %d corrupt entities\n", report.Quarantined)
	}
	if sess.Migrated() {
		fmt.Println("  migrated from the monolithic manifest")
	}

	a.trackOpen(vinfo, info)
	return nil
}

// trackOpen records the open in the history log and app state. Both are
// conveniences; failures are logged, never fatal.
func (a *app) trackOpen(vinfo *models.VaultInfo, cinfo *models.CanvasInfo) {
	log, err := a.openLog()
	if err != nil {
		a.logger.Warn("failed to open history log", "err", err)
		return
	}
	if err := log.Track(models.OpenVault, vinfo.ID, "", vinfo.Name, vinfo.Path); err != nil {
		a.logger.Warn("failed to record vault open", "err", err)
	}
	if err := log.Track(models.OpenCanvas, cinfo.ID, vinfo.ID, cinfo.Name, cinfo.Path); err != nil {
		a.logger.Warn("failed to record canvas open", "err", err)
	}
	state, err := storage.LoadAppState(a.dataDir)
	if err != nil {
		a.logger.Warn("failed to load app state", "err", err)
		return
	}
	state.LastVaultID = vinfo.ID
	state.LastCanvasID = cinfo.ID
	state.Touch()
	if err := storage.SaveAppState(a.dataDir, state); err != nil {
		a.logger.Warn("failed to save app state", "err", err)
	}
}

func (a *app) migrate(name string) error {
	cs, _, err := a.canvases(false)
	if err != nil {
		return err
	}
	dir, err := cs.Path(name)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(filepath.Join(dir, "canvas.json"))
	legacyLayout := statErr == nil

	sess, info, err := cs.Open(name)
	if err != nil {
		return err
	}
	migrated := legacyLayout || sess.Migrated()
	sess.Close()
	if migrated {
		fmt.Printf("Migrated %s to the folder-per-entity layout.\n", info.Name)
	} else {
		fmt.Printf("%s is already on the current layout.\n", info.Name)
	}
	return nil
}

func (a *app) rename(name, newName string) error {
	cs, _, err := a.canvases(false)
	if err != nil {
		return err
	}
	info, err := cs.Rename(name, newName)
	if err != nil {
		return err
	}
	fmt.Printf("Renamed to %s (%s)\n", info.Name, info.Path)
	return nil
}

func (a *app) remove(name string) error {
	cs, _, err := a.canvases(false)
	if err != nil {
		return err
	}
	path, err := cs.Path(name)
	if err != nil {
		return err
	}
	if _, err := cs.Delete(name); err != nil {
		return err
	}
	if log, err := a.openLog(); err == nil {
		if err := log.Remove(path); err != nil {
			a.logger.Warn("failed to drop recents entry", "path", path, "err", err)
		}
	}
	fmt.Printf("Deleted %s\n", name)
	return nil
}

func (a *app) recent(args []string) error {
	fs := flag.NewFlagSet("recent", flag.ContinueOnError)
	n := fs.Int("n", 10, "Maximum entries to show")
	vaults := fs.Bool("vaults", false, "Show recently opened vaults instead of canvases")
	if err := fs.Parse(args); err != nil {
		return err
	}
	log, err := a.openLog()
	if err != nil {
		return err
	}
	kind := models.OpenCanvas
	if *vaults {
		kind = models.OpenVault
	}
	entries := log.Recent(kind, *n)
	if len(entries) == 0 {
		fmt.Println("No recent entries.")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPATH\tLAST OPENED\tOPENS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n",
			e.Name, e.Path, e.LastOpened.Local().Format("2006-01-02 15:04"), e.OpenCount)
	}
	return tw.Flush()
}

func (a *app) export(name, dest string) error {
	cs, _, err := a.canvases(false)
	if err != nil {
		return err
	}
	man, err := cs.ExportBundle(name, dest)
	if err != nil {
		return err
	}
	fmt.Printf("Exported %s: %d files in %s\n", man.Canvas.Name, len(man.Files), dest)
	return nil
}

func (a *app) importBundle(bundleDir string) error {
	cs, _, err := a.canvases(false)
	if err != nil {
		return err
	}
	info, err := cs.ImportBundle(bundleDir)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %s (%s)\n", info.Name, info.Path)
	return nil
}

func (a *app) watch(ctx context.Context, name string) error {
	cs, _, err := a.canvases(false)
	if err != nil {
		return err
	}
	dir, err := cs.Path(name)
	if err != nil {
		return err
	}
	a.logger.Info("watching", "dir", dir)
	return watch.Watch(ctx, dir, func(e watch.Event) {
		a.logger.Info("changed", "path", e.Path, "op", e.Op.String())
	})
}

func (a *app) history(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	n := fs.Int("n", 20, "Maximum commits to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: mosaic history [-n count] <name>")
	}
	if !a.cfg.Versioning {
		return errors.New(`versioning is disabled; set "versioning": true in settings.json`)
	}
	cs, vinfo, err := a.canvases(false)
	if err != nil {
		return err
	}
	dir, err := cs.Path(fs.Arg(0))
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(vinfo.Path, dir)
	if err != nil {
		return err
	}
	commits, err := a.vcsLog.History(ctx, filepath.ToSlash(rel), *n)
	if err != nil {
		return err
	}
	if len(commits) == 0 {
		fmt.Println("No history.")
		return nil
	}
	for _, c := range commits {
		fmt.Printf("%.8s  %s  %s\n", c.Hash, c.When.Local().Format("2006-01-02 15:04"), c.Subject)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("mosaic %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

func loadDotEnv(dataDir string) (map[string]string, error) {
	env := make(map[string]string)
	path := filepath.Join(dataDir, ".env")
	envContent, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir flag, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return env, nil
		}
		return nil, err
	}

	for line := range strings.SplitSeq(string(envContent), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])

		if strings.HasPrefix(val, "'") || strings.HasSuffix(val, "'") {
			if strings.HasPrefix(val, "'") && strings.HasSuffix(val, "'") {
				return nil, fmt.Errorf("single quotes are not supported for wrapping in .env: %s", line)
			}
			return nil, fmt.Errorf("unbalanced single quotes in .env: %s", line)
		}

		if strings.HasPrefix(val, "\"") {
			unquoted, err := strconv.Unquote(val)
			if err != nil {
				return nil, fmt.Errorf("failed to unquote %s: %w", key, err)
			}
			val = unquoted
		}

		env[key] = val
	}
	return env, nil
}

// watchExecutable watches the current executable for modifications and
// calls stop to trigger graceful shutdown when detected. This enables
// seamless restarts during development.
func watchExecutable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(exe); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
					slog.InfoContext(ctx, "Executable modified, initiating shutdown")
					stop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching executable", "err", err)
			}
		}
	}()
	return nil
}
