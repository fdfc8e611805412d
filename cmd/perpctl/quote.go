package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func runQuote(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("quote", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		server string
		id     uint64
		rate   string
	)
	fs.StringVar(&server, "server", "http://localhost:7090", "perpd base URL")
	fs.Uint64Var(&id, "id", 0, "Position id")
	fs.StringVar(&rate, "rate", "", "Collateral rate (defaults to the oracle's lower rate)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 {
		fmt.Fprintln(stderr, "-id is required")
		return 1
	}

	endpoint := fmt.Sprintf("%s/v1/perpetuals/%d/cashout", strings.TrimRight(server, "/"), id)
	if rate = strings.TrimSpace(rate); rate != "" {
		endpoint += "?" + url.Values{"rate": []string{rate}}.Encode()
	}
	resp, err := httpClient.Get(endpoint)
	if err != nil {
		fmt.Fprintf(stderr, "request %s: %v\n", endpoint, err)
		return 1
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		fmt.Fprintf(stderr, "read response: %v\n", err)
		return 1
	}
	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
			fmt.Fprintf(stderr, "perpd returned %d: %s\n", resp.StatusCode, envelope.Error)
		} else {
			fmt.Fprintf(stderr, "perpd returned %d\n", resp.StatusCode)
		}
		return 1
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Fprintln(stdout, strings.TrimSpace(string(body)))
		return 0
	}
	fmt.Fprintln(stdout, pretty.String())
	return 0
}
