package main

import (
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"hedgeline/config"
	"hedgeline/integrations/exports"
	"hedgeline/native/perpetual"
	"hedgeline/storage"
)

var renderers = map[string]func([]exports.Row) ([]byte, string, error){
	"csv":     exports.PositionsCSV,
	"jsonl":   exports.PositionsJSONL,
	"parquet": exports.PositionsParquet,
}

// runExport reads the ledger straight from the state store. perpd must be
// stopped first when the backend holds an exclusive lock.
func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		protocolPath string
		backend      string
		path         string
		format       string
		rawRate      string
		out          string
	)
	fs.StringVar(&protocolPath, "protocol", "protocol.toml", "Path to the protocol file")
	fs.StringVar(&backend, "state-backend", storage.BackendLevelDB, "State backend: leveldb or bolt")
	fs.StringVar(&path, "state-path", "", "Path to the state store")
	fs.StringVar(&format, "format", "csv", "Export format: csv, jsonl or parquet")
	fs.StringVar(&rawRate, "rate", "", "Optional collateral rate used to price every position")
	fs.StringVar(&out, "out", "", "Output file (defaults to stdout)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	render, ok := renderers[strings.ToLower(strings.TrimSpace(format))]
	if !ok {
		fmt.Fprintf(stderr, "unknown format %q\n", format)
		return 1
	}
	if strings.TrimSpace(path) == "" {
		fmt.Fprintln(stderr, "-state-path is required")
		return 1
	}
	var rate *big.Int
	if raw := strings.TrimSpace(rawRate); raw != "" {
		parsed, ok := new(big.Int).SetString(raw, 10)
		if !ok || parsed.Sign() <= 0 {
			fmt.Fprintln(stderr, "-rate must be a positive integer")
			return 1
		}
		rate = parsed
	}

	protocol, err := config.Load(protocolPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load protocol: %v\n", err)
		return 1
	}
	params, err := protocol.PerpetualParams()
	if err != nil {
		fmt.Fprintf(stderr, "invalid perpetual params: %v\n", err)
		return 1
	}
	db, err := storage.Open(backend, path)
	if err != nil {
		fmt.Fprintf(stderr, "failed to open state: %v\n", err)
		return 1
	}
	defer db.Close()

	engine, err := perpetual.NewEngine(params)
	if err != nil {
		fmt.Fprintf(stderr, "failed to build ledger: %v\n", err)
		return 1
	}
	if err := engine.SetState(perpetual.NewStore(db)); err != nil {
		fmt.Fprintf(stderr, "failed to load ledger: %v\n", err)
		return 1
	}

	var quoter exports.Quoter
	if rate != nil {
		quoter = engine
	}
	rows, err := exports.BuildRows(engine.ListPerpetuals(), quoter, rate, time.Now())
	if err != nil {
		fmt.Fprintf(stderr, "failed to build rows: %v\n", err)
		return 1
	}
	data, checksum, err := render(rows)
	if err != nil {
		fmt.Fprintf(stderr, "failed to render export: %v\n", err)
		return 1
	}

	if out == "" {
		if _, err := stdout.Write(data); err != nil {
			fmt.Fprintf(stderr, "failed to write export: %v\n", err)
			return 1
		}
	} else if err := os.WriteFile(out, data, 0o644); err != nil {
		fmt.Fprintf(stderr, "failed to write %s: %v\n", out, err)
		return 1
	}
	fmt.Fprintf(stderr, "exported %d positions (blake3 %s)\n", len(rows), checksum)
	return 0
}
