// Command annotate inspects annotated Markdown files and serves the
// annotation HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	annotate "github.com/goliatone/go-annotate"
	"github.com/goliatone/go-annotate/internal/logging"
	"github.com/goliatone/go-annotate/internal/server"
	"github.com/goliatone/go-annotate/pkg/state"
	"github.com/goliatone/go-annotate/pkg/state/sqlitestore"
)

var version = "dev"

const usage = `usage: annotate [-version] <command> [flags]

commands:
  list   [-user u] [-where expr] [-engine expr|cel] [-json] FILE
  strip  FILE
  check  FILE
  serve  [-addr :8080] [-db annotate.db] [-log-level info] [-log-file path] [-engine expr|cel] [-channel name]
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := flag.NewFlagSet("annotate", flag.ContinueOnError)
	root.SetOutput(stderr)
	root.Usage = func() { fmt.Fprint(stderr, usage) }
	showVersion := root.Bool("version", false, "print the version and exit")
	if err := root.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintln(stdout, version)
		return 0
	}
	if root.NArg() == 0 {
		root.Usage()
		return 2
	}

	var err error
	command, rest := root.Arg(0), root.Args()[1:]
	switch command {
	case "list":
		err = listCommand(rest, stdout, stderr)
	case "strip":
		err = stripCommand(rest, stdout, stderr)
	case "check":
		err = checkCommand(rest, stdout, stderr)
	case "serve":
		err = serveCommand(rest, stderr)
	default:
		fmt.Fprintf(stderr, "annotate: unknown command %q\n", command)
		root.Usage()
		return 2
	}

	var usageErr usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &usageErr):
		fmt.Fprintf(stderr, "annotate %s: %v\n", command, err)
		return 2
	default:
		fmt.Fprintf(stderr, "annotate %s: %v\n", command, err)
		return 1
	}
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func readDocument(fs *flag.FlagSet) (annotate.Document, error) {
	if fs.NArg() != 1 {
		return annotate.Document{}, usageError{msg: "expected exactly one FILE argument"}
	}
	path := fs.Arg(0)
	raw, err := os.ReadFile(path)
	if err != nil {
		return annotate.Document{}, err
	}
	return annotate.ParseSource(path, string(raw))
}

func listCommand(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	user := fs.String("user", "", "only annotations by this user, and the user behind mine")
	where := fs.String("where", "", "filter expression evaluated per annotation")
	engine := fs.String("engine", "expr", "expression engine: expr or cel")
	asJSON := fs.Bool("json", false, "print annotations as JSON")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}

	doc, err := readDocument(fs)
	if err != nil {
		return err
	}
	collection, err := annotate.NewCollection(doc.Annotations...)
	if err != nil {
		return err
	}

	var results []annotate.Annotation
	if *where == "" {
		results = collection.FilterByUser(*user)
	} else {
		evaluator, err := annotate.NewEvaluator(*engine, annotate.NewMemoryProgramCache(), annotate.DefaultFunctions())
		if err != nil {
			return usageError{msg: err.Error()}
		}
		results, err = annotate.Query(collection, *where,
			annotate.QueryWithEvaluator(evaluator),
			annotate.QueryWithUser(*user),
			annotate.QueryWithMetadata(map[string]any{"href": fs.Arg(0)}),
		)
		if err != nil {
			return err
		}
	}

	if *asJSON {
		if results == nil {
			results = []annotate.Annotation{}
		}
		enc := json.NewEncoder(stdout)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, a := range results {
		saved := "unsaved"
		if a.Timestamp != nil {
			saved = annotate.FormatTimestamp(*a.Timestamp)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Range, a.ID, a.User, saved, a.Comment)
	}
	return tw.Flush()
}

func stripCommand(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("strip", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	doc, err := readDocument(fs)
	if err != nil {
		return err
	}
	_, err = io.WriteString(stdout, doc.Content)
	return err
}

func checkCommand(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	doc, err := readDocument(fs)
	if err != nil {
		return err
	}
	if _, err := annotate.NewCollection(doc.Annotations...); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d annotations\n", fs.Arg(0), len(doc.Annotations))
	return nil
}

func serveCommand(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cfg server.Config
	fs.StringVar(&cfg.Addr, "addr", server.DefaultAddr, "listen address")
	fs.StringVar(&cfg.DBPath, "db", server.DefaultDBPath, "SQLite database path")
	fs.StringVar(&cfg.LogLevel, "log-level", server.DefaultLevel, "log level")
	fs.StringVar(&cfg.LogFile, "log-file", "", "append logs to this file instead of stderr")
	fs.StringVar(&cfg.Engine, "engine", server.DefaultEngine, "query engine: expr or cel")
	fs.StringVar(&cfg.ActivityChannel, "channel", "", "activity channel name")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return usageError{msg: err.Error()}
	}

	out, err := logging.New().FromWriter(stderr).FromPath(cfg.LogFile).Level(cfg.LogLevel).Make()
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer out.Close()

	store, err := sqlitestore.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := server.New(cfg, state.Repository{Store: store}, out.Logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx)
}
