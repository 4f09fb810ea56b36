// novapg-dump exports a data directory as executable SQL, the way
// pg_dump does: schema first (types, tables, indexes, views), then one
// INSERT per committed row.
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/tuannm99/novapg/internal/engine"
)

func main() {
	fs := pflag.NewFlagSet("novapg-dump", pflag.ExitOnError)
	dataDir := fs.String("data-dir", "./data", "data directory to dump")
	schemaOnly := fs.Bool("schema-only", false, "dump only CREATE statements")
	dataOnly := fs.Bool("data-only", false, "dump only INSERT statements")
	output := fs.String("output", "", "output file (default stdout)")
	_ = fs.Parse(os.Args[1:])

	if *schemaOnly && *dataOnly {
		slog.Error("--schema-only and --data-only cannot be combined")
		os.Exit(1)
	}

	eng, err := engine.Open(engine.Options{DataDir: *dataDir, PoolSize: 64})
	if err != nil {
		slog.Error("open failed", "data_dir", *dataDir, "error", err)
		os.Exit(1)
	}
	defer func() { _ = eng.Close() }()

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			slog.Error("create output failed", "path", *output, "error", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		w = f
	}

	if err := eng.DumpSQL(w, *schemaOnly, *dataOnly); err != nil {
		slog.Error("dump failed", "error", err)
		os.Exit(1)
	}
}
