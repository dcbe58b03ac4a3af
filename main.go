package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/lotas/tabtree/internal/applog"
	"github.com/lotas/tabtree/internal/config"
	"github.com/lotas/tabtree/internal/export"
	"github.com/lotas/tabtree/internal/firefox"
	"github.com/lotas/tabtree/internal/server"
	"github.com/lotas/tabtree/internal/snapshot"
	"github.com/lotas/tabtree/internal/storage"
	"github.com/lotas/tabtree/internal/tree"
	"github.com/lotas/tabtree/internal/tui"
	"github.com/lotas/tabtree/internal/uniqueid"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "tree":
			runTree(os.Args[2:])
			return
		case "ids":
			runIDs(os.Args[2:])
			return
		case "snapshot":
			runSnapshot(os.Args[2:])
			return
		case "profiles":
			runProfiles()
			return
		case "config":
			runConfig(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}
	runServe(os.Args[1:])
}

func printHelp() {
	fmt.Print(`tabtree — tree of tabs for Firefox

Usage:
  tabtree [serve]                                      Start the live tree TUI (default)
    --profile <name>       Profile name for saved snapshots
    --port <n>             WebSocket port (default: 19191)
    --headless             Keep the tree in sync without the TUI
    --debug                Log debug lines

  tabtree tree                                         Print a saved or live tree
    --profile <name>       Profile name
    --rev <n>              Snapshot rev (default: latest)
    --live                 Read the tree from the connected extension
    --window <id>          Window to print in live mode (default: all)
    --json                 Print JSON instead of markdown
    --out <file>           Output file path (default: stdout)

  tabtree ids [--profile X]                            Resolve tab identities from the session file

  tabtree snapshot list                                List saved snapshots
  tabtree snapshot diff <rev> [rev2] [--profile X]     Compare two snapshots (default rev2: latest)
  tabtree snapshot delete <rev> [--profile X] [--yes]  Delete a snapshot
  tabtree snapshot restore <rev> [--profile X] [--window N]  Reopen a snapshot via the extension

  tabtree profiles                                     List Firefox profiles
  tabtree config [--write]                             Print (or write) the effective config

Environment:
  TABTREE_PROFILE        Default profile (overridden by --profile flag)
  TABTREE_PORT           WebSocket port
  TABTREE_DB             Database path
  TABTREE_LOG_DIR        Log directory
  TABTREE_DEBUG          Log debug lines
`)
}

func loadConfig() config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func openDB(cfg config.Config) *sql.DB {
	db, err := storage.OpenDB(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	return db
}

// initLog sends log lines to the log directory. Logging is best effort.
func initLog(cfg config.Config) {
	if err := applog.Init(cfg.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
	applog.SetDebug(cfg.Debug)
}

// reorderArgs moves flag arguments before positional arguments so that
// flag.Parse handles them correctly (it stops at the first non-flag arg).
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && !strings.Contains(args[i], "=") && !isBoolFlag(args[i]) {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}

func isBoolFlag(arg string) bool {
	switch strings.TrimLeft(arg, "-") {
	case "yes", "json", "live", "headless", "debug", "write":
		return true
	}
	return false
}

// resolveProfileName returns the profile name from the flag if set,
// otherwise the configured one, otherwise "default".
func resolveProfileName(flagValue string, cfg config.Config) string {
	if flagValue != "" {
		return flagValue
	}
	if cfg.Profile != "" {
		return cfg.Profile
	}
	return "default"
}

func newRegistry(srv *server.Server, cfg config.Config) *tree.Registry {
	return tree.New(srv,
		tree.WithSessionStore(srv),
		tree.WithAnimationDelay(cfg.NewTabAnimationDuration),
	)
}

func listen(ctx context.Context, srv *server.Server) {
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		applog.Error("server.listen", err, "port", srv.Port())
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

// connectLive starts the bridge, waits for the extension and loads its tabs.
func connectLive(ctx context.Context, cfg config.Config) (*tree.Registry, error) {
	srv := server.New(cfg.Port)
	go listen(ctx, srv)
	reg := newRegistry(srv, cfg)
	go server.Run(ctx, srv, reg)

	fmt.Fprintf(os.Stderr, "Waiting for Firefox extension on port %d...\n", cfg.Port)

	timeout := time.After(10 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for !srv.Connected() {
		select {
		case <-tick.C:
		case <-timeout:
			reg.Close()
			return nil, fmt.Errorf("timed out waiting for extension (10s)")
		case <-ctx.Done():
			reg.Close()
			return nil, ctx.Err()
		}
	}
	if err := reg.Refresh(ctx); err != nil {
		reg.Close()
		return nil, err
	}
	return reg, nil
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	profileName := fs.String("profile", "", "Profile name for saved snapshots")
	port := fs.Int("port", 0, "WebSocket port")
	headless := fs.Bool("headless", false, "Keep the tree in sync without the TUI")
	debug := fs.Bool("debug", false, "Log debug lines")
	fs.Parse(args)

	cfg := loadConfig()
	if *port != 0 {
		cfg.Port = *port
	}
	if *debug {
		cfg.Debug = true
	}
	profile := resolveProfileName(*profileName, cfg)

	initLog(cfg)
	defer applog.Close()

	db := openDB(cfg)
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	srv := server.New(cfg.Port)
	go listen(ctx, srv)
	reg := newRegistry(srv, cfg)
	defer reg.Close()
	go server.Run(ctx, srv, reg)

	if *headless {
		fmt.Fprintf(os.Stderr, "Listening on port %d, press Ctrl+C to stop\n", cfg.Port)
		<-ctx.Done()
		return
	}

	save := func(ctx context.Context, w *tree.Window) (int, error) {
		nodes := export.Snapshot(export.FromWindow(ctx, w))
		rev, _, _, err := snapshot.Create(db, profile, w.ID(), nodes, "")
		return rev, err
	}
	model := tui.NewModel(reg, tui.Options{
		Title:     profile,
		Live:      true,
		Connected: srv.Connected,
		Save:      save,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runTree(args []string) {
	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	profileName := fs.String("profile", "", "Profile name")
	rev := fs.Int("rev", 0, "Snapshot rev (default: latest)")
	live := fs.Bool("live", false, "Read the tree from the connected extension")
	windowID := fs.Int("window", 0, "Window to print in live mode (default: all)")
	jsonFlag := fs.Bool("json", false, "Print JSON instead of markdown")
	outFile := fs.String("out", "", "Output file path (default: stdout)")
	fs.Parse(args)

	cfg := loadConfig()
	profile := resolveProfileName(*profileName, cfg)

	var output string
	var err error
	if *live {
		output, err = liveTree(cfg, profile, *windowID, *jsonFlag)
	} else {
		output, err = savedTree(cfg, profile, *rev, *jsonFlag)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *outFile != "" {
		if err := os.WriteFile(*outFile, []byte(output), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Print(output)
	}
}

func savedTree(cfg config.Config, profile string, rev int, asJSON bool) (string, error) {
	db := openDB(cfg)
	defer db.Close()

	var snap *storage.SnapshotFull
	var err error
	if rev == 0 {
		snap, err = storage.GetLatestSnapshot(db, profile)
		if err == nil && snap == nil {
			err = fmt.Errorf("no snapshots for profile %q", profile)
		}
	} else {
		snap, err = storage.GetSnapshot(db, profile, rev)
	}
	if err != nil {
		return "", err
	}

	entries := export.FromSnapshot(snap.Nodes)
	if asJSON {
		return export.JSON(profile, snap.WindowID, entries)
	}
	heading := fmt.Sprintf("%s #%d", profile, snap.Rev)
	if snap.Name != "" {
		heading += " " + snap.Name
	}
	return export.Markdown(heading, snap.CreatedAt, entries), nil
}

func liveTree(cfg config.Config, profile string, windowID int, asJSON bool) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reg, err := connectLive(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer reg.Close()

	var b strings.Builder
	for _, w := range reg.Windows() {
		if windowID != 0 && w.ID() != windowID {
			continue
		}
		entries := export.FromWindow(ctx, w)
		if asJSON {
			out, err := export.JSON(profile, w.ID(), entries)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
			b.WriteString("\n")
			continue
		}
		b.WriteString(export.Markdown(fmt.Sprintf("%s window %d", profile, w.ID()), time.Now(), entries))
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no window %d", windowID)
	}
	return b.String(), nil
}

func runIDs(args []string) {
	fs := flag.NewFlagSet("ids", flag.ExitOnError)
	profileName := fs.String("profile", "", "Firefox profile name")
	fs.Parse(args)

	cfg := loadConfig()
	name := *profileName
	if name == "" {
		name = cfg.Profile
	}

	profiles, err := firefox.DiscoverProfiles(cfg.ExtensionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error discovering Firefox profiles: %v\n", err)
		os.Exit(1)
	}
	profile, err := firefox.FindProfile(profiles, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !profile.HasExtension {
		fmt.Fprintf(os.Stderr, "Warning: %s is not enabled in profile %s\n", cfg.ExtensionID, profile.Name)
	}
	session, err := firefox.ReadSessionFile(profile.Path, cfg.ExtensionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	session.AssignTabIDs(uniqueid.Key)

	initLog(cfg)
	defer applog.Close()
	db := openDB(cfg)
	defer db.Close()

	ctx := context.Background()
	values := storage.NewTabValues(db, profile.Name)
	if err := values.Reset(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if _, err := session.Import(ctx, values); err != nil {
		fmt.Fprintf(os.Stderr, "Error importing session values: %v\n", err)
		os.Exit(1)
	}

	reg := tree.New(nil, tree.WithSessionStore(values))
	defer reg.Close()
	reg.Seed(session.Tabs())

	var fresh, restored, duplicated int
	for _, w := range reg.Windows() {
		fmt.Printf("Window %d\n", w.ID())
		for _, n := range w.Tabs() {
			uid, err := n.UniqueID(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error resolving tab %d: %v\n", n.APITabID(), err)
				os.Exit(1)
			}
			note := ""
			switch {
			case uid.Duplicated:
				duplicated++
				note = fmt.Sprintf("  (duplicate of %s)", uid.OriginalID)
			case uid.Restored:
				restored++
			default:
				fresh++
				note = "  (new)"
			}
			tab := n.Tab()
			label := tab.Title
			if label == "" {
				label = tab.URL
			}
			fmt.Printf("  %4d  %-36s  %s%s\n", n.APITabID(), uid.ID, label, note)
		}
	}
	reg.Wait()
	fmt.Printf("\n%d restored, %d duplicated, %d new\n", restored, duplicated, fresh)
}

func runSnapshot(args []string) {
	if len(args) == 0 {
		runSnapshotList()
		return
	}

	subcmd := args[0]
	subArgs := args[1:]

	switch subcmd {
	case "list":
		runSnapshotList()
	case "diff":
		runSnapshotDiff(subArgs)
	case "delete":
		runSnapshotDelete(subArgs)
	case "restore":
		runSnapshotRestore(subArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown snapshot command %q. Use list, diff, delete, or restore.\n", subcmd)
		os.Exit(1)
	}
}

func runSnapshotList() {
	cfg := loadConfig()
	db := openDB(cfg)
	defer db.Close()

	snaps, err := storage.ListSnapshots(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing snapshots: %v\n", err)
		os.Exit(1)
	}

	if len(snaps) == 0 {
		fmt.Println("No snapshots found.")
		return
	}

	fmt.Printf("%-5s %5s %6s  %-12s %-20s  %s\n", "REV", "TABS", "WINDOW", "PROFILE", "LABEL", "CREATED")
	for _, s := range snaps {
		fmt.Printf("%5d %5d %6d  %-12s %-20s  %s\n",
			s.Rev,
			s.TabCount,
			s.WindowID,
			s.Profile,
			s.Name,
			s.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
}

// parseRevs reads the rev arguments of a snapshot subcommand.
func parseRevs(args []string, lo, hi int) []int {
	if len(args) < lo || len(args) > hi {
		fmt.Fprintf(os.Stderr, "Expected %d to %d snapshot revs, got %d\n", lo, hi, len(args))
		os.Exit(1)
	}
	revs := make([]int, len(args))
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil || n <= 0 {
			fmt.Fprintf(os.Stderr, "Invalid rev %q\n", a)
			os.Exit(1)
		}
		revs[i] = n
	}
	return revs
}

func runSnapshotDiff(args []string) {
	fs := flag.NewFlagSet("snapshot diff", flag.ExitOnError)
	profileName := fs.String("profile", "", "Profile name")
	fs.Parse(reorderArgs(args))

	cfg := loadConfig()
	profile := resolveProfileName(*profileName, cfg)
	revs := parseRevs(fs.Args(), 1, 2)
	revTo := 0
	if len(revs) == 2 {
		revTo = revs[1]
	}

	db := openDB(cfg)
	defer db.Close()

	diff, err := snapshot.DiffRevs(db, profile, revs[0], revTo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(snapshot.FormatDiff(diff))
}

func runSnapshotDelete(args []string) {
	fs := flag.NewFlagSet("snapshot delete", flag.ExitOnError)
	profileName := fs.String("profile", "", "Profile name")
	yes := fs.Bool("yes", false, "Skip confirmation")
	fs.Parse(reorderArgs(args))

	cfg := loadConfig()
	profile := resolveProfileName(*profileName, cfg)
	rev := parseRevs(fs.Args(), 1, 1)[0]

	db := openDB(cfg)
	defer db.Close()

	snap, err := storage.GetSnapshot(db, profile, rev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !*yes {
		fmt.Printf("Delete snapshot #%d (%d tabs, %s)? [y/N] ", snap.Rev, snap.TabCount, snap.CreatedAt.Format("2006-01-02 15:04"))
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Println("Cancelled.")
			return
		}
	}

	if err := storage.DeleteSnapshot(db, profile, rev); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Snapshot #%d deleted.\n", rev)
}

func runSnapshotRestore(args []string) {
	fs := flag.NewFlagSet("snapshot restore", flag.ExitOnError)
	profileName := fs.String("profile", "", "Profile name")
	windowID := fs.Int("window", 0, "Window to open the tabs in (default: first window)")
	port := fs.Int("port", 0, "WebSocket port")
	fs.Parse(reorderArgs(args))

	cfg := loadConfig()
	if *port != 0 {
		cfg.Port = *port
	}
	profile := resolveProfileName(*profileName, cfg)
	rev := parseRevs(fs.Args(), 1, 1)[0]

	initLog(cfg)
	defer applog.Close()
	db := openDB(cfg)
	defer db.Close()

	snap, err := storage.GetSnapshot(db, profile, rev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reg, err := connectLive(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer reg.Close()

	target := *windowID
	if target == 0 {
		if ws := reg.Windows(); len(ws) > 0 {
			target = ws[0].ID()
		}
	}
	if target == 0 {
		fmt.Fprintln(os.Stderr, "Error: no browser window to restore into")
		os.Exit(1)
	}

	n, err := snapshot.Restore(ctx, reg, snap, target)
	reg.Wait()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error after %d tabs: %v\n", n, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Restored %d tabs from snapshot #%d\n", n, rev)
}

func runProfiles() {
	cfg := loadConfig()
	profiles, err := firefox.DiscoverProfiles(cfg.ExtensionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error discovering Firefox profiles: %v\n", err)
		os.Exit(1)
	}
	if len(profiles) == 0 {
		fmt.Fprintln(os.Stderr, "No Firefox profiles found.")
		os.Exit(1)
	}

	for _, p := range profiles {
		suffix := ""
		if p.IsDefault {
			suffix += " [default]"
		}
		if p.HasExtension {
			suffix += " [tree]"
		}
		fmt.Printf("%s (%s)%s\n", p.Name, p.Path, suffix)
	}
}

func runConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	write := fs.Bool("write", false, "Write the effective config to the config file")
	fs.Parse(args)

	cfg := loadConfig()
	if *write {
		path := config.Path()
		if path == "" {
			fmt.Fprintln(os.Stderr, "Error: cannot determine config directory")
			os.Exit(1)
		}
		if err := config.Save(path, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", path)
		return
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("# %s\n%s", config.Path(), data)
}
