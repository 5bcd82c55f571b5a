// Package cmd wires up the CLI flags and dispatches to the console.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"wabotctl/config"
)

// version is overridable at link time:
//
//	go build -ldflags "-X wabotctl/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// ReportedError marks a failure the presenter already showed to the
// user.  main exits non-zero without printing it again.
type ReportedError struct{ Err error }

func (e *ReportedError) Error() string { return e.Err.Error() }
func (e *ReportedError) Unwrap() error { return e.Err }

// streams bundles the process's standard streams so tests can replace
// them.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// command is one subcommand.
type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, cfg *config.Config, args []string, io streams) error
}

func commands() []command {
	return []command{
		{"login", "login [-u user]", "Log in and save the session", runLogin},
		{"register", "register [-u user]", "Create an account", runRegister},
		{"logout", "logout", "End the session", runLogout},
		{"whoami", "whoami", "Show the logged-in user and token expiry", runWhoami},
		{"status", "status", "Show the bot connection status", runStatus},
		{"pair", "pair [--ui addr] [--wait d]", "Start the bot and show the pairing code until connected", runPair},
		{"prompt", "prompt <text>", "Save the bot prompt", runPrompt},
		{"bot", "bot on|off", "Enable or disable the bot", runBot},
	}
}

// Execute parses args and runs the selected subcommand.
func Execute(ctx context.Context, args []string) error {
	return run(ctx, args, streams{in: os.Stdin, out: os.Stdout, err: os.Stderr})
}

func run(ctx context.Context, args []string, std streams) error {
	cfg := config.Default()
	fs := flag.NewFlagSet("wabotctl", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(std.err)

	// ── global ───────────────────────────────────────────────────
	var server, db, envFile string
	fs.StringVar(&server, "server", config.DefaultServerURL, "API base URL")
	fs.StringVar(&db, "db", cfg.SessionDB, "Session database file")
	fs.StringVar(&envFile, "env-file", config.DefaultEnvFile, "Load variables from this .env file")
	timeout := fs.Duration("timeout", config.DefaultRequestTimeout, "Per-request timeout")

	// ── output ───────────────────────────────────────────────────
	verbose := fs.CountP("verbose", "v", "Increase verbosity (repeatable)")
	quiet := fs.BoolP("quiet", "q", false, "Only print errors")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(std.err, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Fprintf(std.out, "wabotctl %s\n", version)
		return nil
	}
	if showHelp || fs.NArg() == 0 {
		printUsage(std.err, fs)
		return nil
	}

	// ── configuration: defaults < .env < environment < flags ─────
	if err := config.LoadEnvFile(envFile); err != nil {
		return fmt.Errorf("env file %s: %w", envFile, err)
	}
	config.LoadFromEnv(cfg)
	if fs.Changed("server") {
		cfg.ServerURL = server
	}
	if fs.Changed("db") {
		cfg.SessionDB = db
	}
	if fs.Changed("timeout") {
		cfg.RequestTimeout = *timeout
	}
	cfg.EnvFile = envFile
	if *verbose > 0 {
		cfg.Verbose = 1 + *verbose
	}
	if *quiet {
		cfg.Verbose = 0
	}

	name, rest := fs.Arg(0), fs.Args()[1:]
	for _, c := range commands() {
		if c.name == name {
			return c.run(ctx, cfg, rest, std)
		}
	}
	return fmt.Errorf("unknown command %q (use --help for usage)", name)
}

// subFlags returns a flag set for a subcommand.
func subFlags(name string, std streams) *flag.FlagSet {
	fs := flag.NewFlagSet("wabotctl "+name, flag.ContinueOnError)
	fs.SetOutput(std.err)
	return fs
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `wabotctl v%s

Command-line client for the bot automation service.

Usage:
  wabotctl [global options] <command> [options]

Commands:
`, version)
	for _, c := range commands() {
		fmt.Fprintf(w, "  %-30s %s\n", c.usage, c.summary)
	}
	fmt.Fprintf(w, "\nGlobal options:\n")
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Environment:
  %s

Examples:
  wabotctl login -u alice
  wabotctl pair --ui 127.0.0.1:8090
  wabotctl prompt "Answer politely and briefly."
  wabotctl bot off
`, strings.Join([]string{
		"WABOT_SERVER", "WABOT_DB", "WABOT_TIMEOUT", "WABOT_POLL_INTERVAL",
		"WABOT_RETRY_DELAY", "WABOT_STREAM_ATTEMPTS", "WABOT_PAIR_TIMEOUT",
		"WABOT_UI_ADDR", "WABOT_VERBOSE", "WABOT_QUIET",
	}, ", "))
}
