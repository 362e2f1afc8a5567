// Package cli implements the innkeeper operator commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/jacentio/innkeeper/bookings"
	"github.com/jacentio/innkeeper/sqlstore"
)

const usage = `Usage: innkeeper <command> [flags]

Commands:
  provision   Create the schema and load the reference data
  ddl         Print or write the SQL schema
  summary     Print the per-room reservation summary

Flags:
`

// options holds parsed flags.
type options struct {
	config Config
	out    string
}

func parseFlags(errOut io.Writer, args []string) (options, error) {
	flagSet := flag.NewFlagSet("innkeeper", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	configPath := flagSet.StringP("config", "c", "", "Path to a JWCC config file")
	backend := flagSet.String("backend", "", "Backend: sqlite, postgres or dynamodb")
	dsn := flagSet.String("dsn", "", "SQLite file or PostgreSQL URL")
	endpoint := flagSet.String("endpoint", "", "DynamoDB endpoint override")
	prefix := flagSet.String("table-prefix", "", "DynamoDB table name prefix")
	streams := flagSet.Bool("streams", false, "Enable DynamoDB streams on entity tables")
	rooms := flagSet.String("rooms", "", "Room mapping: table-per-concrete or single-table")
	routines := flagSet.Bool("routines", false, "Write reservations through stored routines")
	verbose := flagSet.BoolP("verbose", "v", false, "Log statements")
	out := flagSet.StringP("out", "o", "", "Write ddl output to a file")

	if err := flagSet.Parse(args); err != nil {
		fmt.Fprint(errOut, usage, flagSet.FlagUsages())
		return options{}, err
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return options{}, err
	}
	if flagSet.Changed("backend") {
		cfg.Backend = *backend
	}
	if flagSet.Changed("dsn") {
		cfg.DSN = *dsn
	}
	if flagSet.Changed("endpoint") {
		cfg.Endpoint = *endpoint
	}
	if flagSet.Changed("table-prefix") {
		cfg.TablePrefix = *prefix
	}
	if flagSet.Changed("streams") {
		cfg.Streams = *streams
	}
	if flagSet.Changed("rooms") {
		cfg.Rooms = *rooms
	}
	if flagSet.Changed("routines") {
		cfg.Routines = *routines
	}
	if flagSet.Changed("verbose") {
		cfg.Verbose = *verbose
	}
	if err := cfg.Validate(); err != nil {
		return options{}, err
	}
	return options{config: cfg, out: *out}, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Run executes the command in args and returns the process exit code.
func Run(ctx context.Context, out, errOut io.Writer, args []string) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		fmt.Fprint(out, usage)
		return 0
	}
	cmd, rest := args[0], args[1:]
	opts, err := parseFlags(errOut, rest)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 2
	}
	log := newLogger(errOut, opts.config.Verbose)

	switch cmd {
	case "provision":
		err = cmdProvision(ctx, out, opts, log)
	case "ddl":
		err = cmdDDL(out, opts)
	case "summary":
		err = cmdSummary(ctx, out, opts, log)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	return 0
}

func cmdProvision(ctx context.Context, out io.Writer, opts options, log *slog.Logger) (err error) {
	e, err := open(ctx, opts.config, log)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, e.Close()) }()

	added, err := e.provision(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "provisioned %s, seeded %d rows\n", opts.config.Backend, added)
	return nil
}

// DDL renders the schema of cfg as one SQL script.
func DDL(cfg Config) (string, error) {
	d, err := dialect(cfg.Backend)
	if err != nil {
		return "", err
	}
	bo, err := cfg.Options()
	if err != nil {
		return "", err
	}
	reg, err := bookings.NewRegistry(bo)
	if err != nil {
		return "", err
	}
	stmts, err := sqlstore.DDL(d, reg)
	if err != nil {
		return "", err
	}
	scripts, err := bookings.Scripts(d.Name(), bo)
	if err != nil {
		return "", err
	}
	return strings.Join(append(stmts, scripts...), ";\n\n") + ";\n", nil
}

func cmdDDL(out io.Writer, opts options) error {
	script, err := DDL(opts.config)
	if err != nil {
		return err
	}
	if opts.out == "" {
		_, err = io.WriteString(out, script)
		return err
	}
	if err := atomic.WriteFile(opts.out, strings.NewReader(script)); err != nil {
		return fmt.Errorf("write %s: %w", opts.out, err)
	}
	fmt.Fprintf(out, "wrote %s\n", opts.out)
	return nil
}

func cmdSummary(ctx context.Context, out io.Writer, opts options, log *slog.Logger) (err error) {
	e, err := open(ctx, opts.config, log)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, e.Close()) }()

	sess := e.store.Session()
	defer func() { _ = sess.Close() }()

	rows, err := bookings.Summaries(ctx, sess)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOM\tRESERVATIONS\tTOTAL")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", r.RoomNumber, r.ReservationsCount, r.TotalAmount)
	}
	return tw.Flush()
}
