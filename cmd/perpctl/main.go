package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "params":
		return runParams(args[1:], stdout, stderr)
	case "export":
		return runExport(args[1:], stdout, stderr)
	case "quote":
		return runQuote(args[1:], stdout, stderr)
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	builder := &strings.Builder{}
	fmt.Fprintln(builder, "Usage: perpctl <command> [options]")
	fmt.Fprintln(builder, "Commands:")
	fmt.Fprintln(builder, "  params  Validate a protocol file and print the effective parameters")
	fmt.Fprintln(builder, "  export  Export open positions from a state store as csv, jsonl or parquet")
	fmt.Fprintln(builder, "  quote   Ask a running perpd for a position's cash-out value")
	fmt.Fprintln(builder, "  token   Mint a bearer token for the perpd API")
	return builder.String()
}
