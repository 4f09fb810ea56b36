// novapg-restore replays a SQL dump against a data directory,
// statement by statement, as the database superuser.
package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/tuannm99/novapg/internal/engine"
	"github.com/tuannm99/novapg/internal/sql/parser"
)

func main() {
	fs := pflag.NewFlagSet("novapg-restore", pflag.ExitOnError)
	dataDir := fs.String("data-dir", "./data", "data directory to restore into")
	input := fs.String("input", "", "input file (default stdin)")
	dryRun := fs.Bool("dry-run", false, "parse the dump without executing it")
	_ = fs.Parse(os.Args[1:])

	var r io.Reader = os.Stdin
	if *input != "" {
		f, err := os.Open(*input)
		if err != nil {
			slog.Error("open input failed", "path", *input, "error", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		slog.Error("read input failed", "error", err)
		os.Exit(1)
	}

	stmts := parser.SplitStatements(string(data))
	if *dryRun {
		for _, src := range stmts {
			if _, err := parser.Parse(src); err != nil {
				slog.Error("parse failed", "statement", truncate(src), "error", err)
				os.Exit(1)
			}
		}
		slog.Info("dump parses cleanly", "statements", len(stmts))
		return
	}

	eng, err := engine.Open(engine.Options{DataDir: *dataDir, PoolSize: 64})
	if err != nil {
		slog.Error("open failed", "data_dir", *dataDir, "error", err)
		os.Exit(1)
	}
	defer func() { _ = eng.Close() }()

	user := ""
	for _, role := range eng.Catalog().Roles() {
		if role.Superuser {
			user = role.Name
			break
		}
	}
	if user == "" {
		slog.Error("no superuser role in target data directory; bootstrap it first")
		os.Exit(1)
	}

	sess := eng.NewSession(user)
	for _, src := range stmts {
		stmt, err := parser.Parse(src)
		if err != nil {
			slog.Error("parse failed", "statement", truncate(src), "error", err)
			os.Exit(1)
		}
		if _, err := sess.Exec(stmt); err != nil {
			slog.Error("execute failed", "statement", truncate(src), "error", err)
			os.Exit(1)
		}
	}
	slog.Info("restore complete", "statements", len(stmts))
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
