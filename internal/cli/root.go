package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/countersync/internal/config"
	"github.com/roach88/countersync/internal/session"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Connection overrides. Empty values keep the environment config.
	Addr         string
	Transport    string
	WebSocketURL string
	UserID       string
	DeviceID     string
	Journal      string

	// Opener replaces the configured transport (for testing).
	Opener session.Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the countersync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "countersync",
		Short: "countersync - offline-first counter sync client",
		Long: `A sync client for a shared list of named counters.

Local edits apply immediately and are confirmed by the server over a
bidirectional stream; server batches are reconciled into the local view.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.Addr, "addr", "", "gRPC server address (env COUNTERSYNC_ADDR)")
	flags.StringVar(&opts.Transport, "transport", "", "stream transport: grpc|websocket (env COUNTERSYNC_TRANSPORT)")
	flags.StringVar(&opts.WebSocketURL, "ws-url", "", "WebSocket endpoint (env COUNTERSYNC_WS_URL)")
	flags.StringVar(&opts.UserID, "user", "", "user ID sent as stream metadata (env COUNTERSYNC_USER_ID)")
	flags.StringVar(&opts.DeviceID, "device", "", "device ID sent as stream metadata (env COUNTERSYNC_DEVICE_ID)")
	flags.StringVar(&opts.Journal, "journal", "", "path to the SQLite sync journal (env COUNTERSYNC_JOURNAL)")

	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	for _, c := range NewActionCommands(opts) {
		cmd.AddCommand(c)
	}
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// loadConfig reads the environment and applies flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	override(&cfg.Addr, o.Addr)
	override(&cfg.Transport, o.Transport)
	override(&cfg.WebSocketURL, o.WebSocketURL)
	override(&cfg.UserID, o.UserID)
	override(&cfg.DeviceID, o.DeviceID)
	override(&cfg.JournalPath, o.Journal)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func override(dst *string, flag string) {
	if flag != "" {
		*dst = flag
	}
}

// newLogger writes structured logs to w. Verbose enables debug records.
func (o *RootOptions) newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openTransport returns the opener for cfg and a func releasing it.
func (o *RootOptions) openTransport(cfg config.Config) (session.Opener, func() error, error) {
	noop := func() error { return nil }
	if o.Opener != nil {
		return o.Opener, noop, nil
	}

	switch cfg.Transport {
	case config.TransportWebSocket:
		return &session.WebSocketOpener{URL: cfg.WebSocketURL}, noop, nil
	default:
		conn, err := session.DialGRPC(cfg.Addr)
		if err != nil {
			return nil, nil, err
		}
		return session.NewGRPCOpener(conn), conn.Close, nil
	}
}
