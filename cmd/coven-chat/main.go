// ABOUTME: Terminal client for conversation sessions against the chat backend
// ABOUTME: Interactive send/stream loop with queueing, session switching, and HTML export

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/export"
	"github.com/2389/coven-chat/internal/manager"
	"github.com/2389/coven-chat/internal/notify"
	"github.com/2389/coven-chat/internal/session"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/transport"
)

var version = "dev"

var (
	userColor  = color.New(color.FgCyan, color.Bold)
	replyColor = color.New(color.FgGreen)
	toolColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed, color.Bold)
	dimColor   = color.New(color.Faint)
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	sessionKey := flag.String("session", session.DraftKey, "Session to attach to (omit for a new conversation)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("coven-chat %s\n", version)
		return
	}

	if err := run(*configPath, *sessionKey); err != nil {
		errColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, sessionKey string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	profile, err := loadProfile(profilePath())
	if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}
	profile.apply(cfg)
	if profile.Display.NoColor {
		color.NoColor = true
	}

	logger := setupLogger(cfg)
	slog.SetDefault(logger)

	if cfg.Server.Token != "" {
		if err := auth.Check(cfg.Server.Token, time.Minute); err != nil {
			dimColor.Printf("warning: %v\n", err)
		}
	}

	client := transport.NewClient(cfg.Server.BaseURL, cfg.Server.Token, logger)

	var archive manager.Archive
	if cfg.Backlog.Path != "" {
		bs, err := store.NewBacklogStore(cfg.Backlog.Path)
		if err != nil {
			return fmt.Errorf("opening backlog store: %w", err)
		}
		defer bs.Close()
		archive = bs
	}

	mgr := manager.New(cfg, client, client, archive, logger)
	defer mgr.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := mgr.RestoreBacklogs(ctx); err != nil {
		logger.Warn("backlog restore failed", "error", err)
	}

	mgr.SwitchActive(sessionKey)
	if sessionKey != session.DraftKey {
		if err := mgr.Attach(ctx, sessionKey); err != nil {
			return fmt.Errorf("attaching to session %s: %w", sessionKey, err)
		}
		printTranscript(mgr.Snapshot(sessionKey), profile.Display.ShowTools)
	}

	fmt.Printf("coven-chat %s connected to %s\n", version, cfg.Server.BaseURL)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	ui := &chatUI{
		mgr:       mgr,
		key:       sessionKey,
		showTools: profile.Display.ShowTools,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ui.watch(gctx) })
	g.Go(func() error {
		defer cancel()
		return ui.inputLoop(gctx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	fmt.Println("\nGoodbye!")
	return nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// chatUI owns the interactive loop's view of the conversation.
type chatUI struct {
	mgr       *manager.Manager
	key       string
	showTools bool
}

// watch renders notifications as they arrive.
func (ui *chatUI) watch(ctx context.Context) error {
	events, _ := ui.mgr.SubscribeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-events:
			if !ok {
				return nil
			}
			ui.render(n)
		}
	}
}

func (ui *chatUI) render(n notify.Notification) {
	switch n.Type {
	case notify.TypeSessionCreated:
		if n.OldKey == ui.key {
			ui.key = n.NewKey
		}
		dimColor.Printf("[session %s]\n", n.NewKey)
	case notify.TypeMessageCompleted:
		if n.SessionKey != ui.key {
			return
		}
		snap := ui.mgr.Snapshot(ui.key)
		if last := snap.LastMessage(); last != nil && last.Role == session.RoleAssistant {
			printMessage(last, ui.showTools)
		}
	case notify.TypeTitleUpdated:
		if n.SessionKey == ui.key {
			dimColor.Printf("[title: %s]\n", n.Title)
		}
	case notify.TypeErrorOccurred:
		errColor.Printf("error: %s\n", n.Err)
	}
}

func (ui *chatUI) inputLoop(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		userColor.Print("> ")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				if done := ui.command(ctx, line); done {
					return nil
				}
				continue
			}
			if err := ui.mgr.Send(ui.key, line, nil); err != nil {
				errColor.Printf("send failed: %v\n", err)
			}
		}
	}
}

// command dispatches a slash command. Returns true when the loop should exit.
func (ui *chatUI) command(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "/help":
		fmt.Println(`Commands:
  /stop              Abort the current response
  /queue             Show messages waiting behind the active stream
  /unqueue <id>      Remove a queued message
  /switch <key>      Attach to another session
  /forget <msg-id>   Hide everything after a message
  /restore           Undo /forget
  /export <file>     Write the transcript as HTML
  /status            Show session status
  /quit              Exit`)
	case "/stop":
		ui.mgr.Stop(ui.key)
		dimColor.Println("[stopped]")
	case "/queue":
		snap := ui.mgr.Snapshot(ui.key)
		if len(snap.Pending) == 0 {
			dimColor.Println("[queue empty]")
			return false
		}
		for _, qm := range snap.Pending {
			fmt.Printf("  %s  %s\n", qm.ID[:8], qm.Content)
		}
	case "/unqueue":
		if len(args) != 1 {
			errColor.Println("usage: /unqueue <id>")
			return false
		}
		if !ui.removeQueuedByPrefix(args[0]) {
			errColor.Printf("no queued message %s\n", args[0])
		}
	case "/switch":
		if len(args) != 1 {
			errColor.Println("usage: /switch <session-key>")
			return false
		}
		ui.key = args[0]
		ui.mgr.SwitchActive(ui.key)
		// The draft key is local-only; the backend has no history for it.
		if ui.key != session.DraftKey {
			if err := ui.mgr.Attach(ctx, ui.key); err != nil {
				errColor.Printf("attach failed: %v\n", err)
				return false
			}
		}
		printTranscript(ui.mgr.Snapshot(ui.key), ui.showTools)
	case "/forget":
		if len(args) != 1 {
			errColor.Println("usage: /forget <message-id>")
			return false
		}
		if err := ui.mgr.ForgetAfter(ui.key, args[0]); err != nil {
			errColor.Printf("forget failed: %v\n", err)
		}
	case "/restore":
		ui.mgr.RestoreForgotten(ui.key)
		dimColor.Println("[restored]")
	case "/export":
		if len(args) != 1 {
			errColor.Println("usage: /export <file.html>")
			return false
		}
		if err := exportTranscript(ui.mgr.Snapshot(ui.key), args[0]); err != nil {
			errColor.Printf("export failed: %v\n", err)
			return false
		}
		fmt.Printf("wrote %s\n", args[0])
	case "/status":
		snap := ui.mgr.Snapshot(ui.key)
		fmt.Printf("session: %s  status: %s  messages: %d  queued: %d\n",
			snap.Key, snap.Status, len(snap.Messages), len(snap.Pending))
		if len(snap.ActiveTools) > 0 {
			toolColor.Printf("running: %s\n", strings.Join(snap.ActiveTools, ", "))
		}
		if snap.Err != "" {
			errColor.Printf("last error: %s\n", snap.Err)
		}
	case "/quit", "/exit":
		return true
	default:
		errColor.Printf("unknown command %s (try /help)\n", cmd)
	}
	return false
}

func (ui *chatUI) removeQueuedByPrefix(prefix string) bool {
	snap := ui.mgr.Snapshot(ui.key)
	for _, qm := range snap.Pending {
		if strings.HasPrefix(qm.ID, prefix) {
			return ui.mgr.RemoveQueued(ui.key, qm.ID)
		}
	}
	return false
}

func printTranscript(snap *session.Snapshot, showTools bool) {
	for i := range snap.Messages {
		printMessage(&snap.Messages[i], showTools)
	}
}

func printMessage(msg *session.Message, showTools bool) {
	switch msg.Role {
	case session.RoleUser:
		userColor.Printf("you: ")
		fmt.Println(msg.Content)
	case session.RoleAssistant:
		if showTools {
			for _, tu := range msg.ToolUsages {
				toolColor.Printf("  [%s %dms]\n", tu.Name, tu.ElapsedMS)
			}
		}
		replyColor.Println(msg.Content)
	default:
		dimColor.Printf("%s: %s\n", msg.Role, msg.Content)
	}
}

func exportTranscript(snap *session.Snapshot, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return export.WriteTranscript(f, snap)
}
