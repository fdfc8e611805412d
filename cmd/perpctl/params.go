package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"hedgeline/config"
	"hedgeline/native/feecurve"
	"hedgeline/native/perpetual"
)

type paramsReport struct {
	Governors []string                            `json:"governors"`
	Guardian  string                              `json:"guardian,omitempty"`
	Perpetual perpetual.Params                    `json:"perpetual"`
	Fees      map[feecurve.Kind]feecurve.Schedule `json:"fees"`
}

func runParams(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("params", flag.ContinueOnError)
	fs.SetOutput(stderr)
	protocolPath := fs.String("protocol", "protocol.toml", "Path to the protocol file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	protocol, err := config.Load(*protocolPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load protocol: %v\n", err)
		return 1
	}
	params, err := protocol.PerpetualParams()
	if err != nil {
		fmt.Fprintf(stderr, "invalid perpetual params: %v\n", err)
		return 1
	}
	schedules, err := protocol.FeeSchedules()
	if err != nil {
		fmt.Fprintf(stderr, "invalid fee schedules: %v\n", err)
		return 1
	}
	report := paramsReport{
		Governors: protocol.Governors,
		Guardian:  protocol.Guardian,
		Perpetual: params,
		Fees:      schedules,
	}
	output, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "failed to encode report: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(output))
	return 0
}
