package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"hedgeline/config"
	"hedgeline/native/oracle"
	"hedgeline/services/perpd/app"
	"hedgeline/storage"
)

var alice = ethcommon.HexToAddress("0x00000000000000000000000000000000000a11ce")

func writeProtocol(t *testing.T) string {
	t.Helper()
	protocol := config.Default(0)
	protocol.Governors = []string{"0x000000000000000000000000000000000000900d"}
	protocol.Perpetual.MaxLeverage = 10_000_000_000
	protocol.Perpetual.MaintenanceMargin = 100_000_000
	protocol.Perpetual.HAFeesDeposit = config.Schedule{Thresholds: []uint64{0}, Values: []uint64{0}}
	protocol.Perpetual.HAFeesWithdraw = config.Schedule{Thresholds: []uint64{0}, Values: []uint64{0}}
	path := filepath.Join(t.TempDir(), "protocol.toml")
	require.NoError(t, config.Save(path, protocol))
	return path
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 1, run(nil, &stdout, &stderr))
	require.Contains(t, stderr.String(), "Usage: perpctl")

	stderr.Reset()
	require.Equal(t, 1, run([]string{"bogus"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "Unknown command: bogus")

	require.Equal(t, 0, run([]string{"help"}, &stdout, &stderr))
}

func TestParamsPrintsEffectiveValues(t *testing.T) {
	path := writeProtocol(t)
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"params", "-protocol", path}, &stdout, &stderr), stderr.String())

	var report map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	perp := report["perpetual"].(map[string]any)
	require.EqualValues(t, 10_000_000_000, perp["maxLeverage"])
	require.Len(t, report["governors"], 1)
	require.Contains(t, report["fees"], "slippage")
}

func TestExportReadsStateStore(t *testing.T) {
	protocolPath := writeProtocol(t)
	statePath := filepath.Join(t.TempDir(), "state", "perpd.db")

	protocol, err := config.Load(protocolPath)
	require.NoError(t, err)
	db, err := storage.Open(storage.BackendBolt, statePath)
	require.NoError(t, err)
	stack, err := app.Build(app.Options{
		Protocol:    protocol,
		DB:          db,
		Primary:     oracle.NewStaticSource("primary", big.NewInt(100)),
		StocksUsers: big.NewInt(1_000_000),
	})
	require.NoError(t, err)
	_, err = stack.Engine.CreatePerpetual(context.Background(), alice, big.NewInt(100), big.NewInt(500), nil)
	require.NoError(t, err)
	db.Close()

	var stdout, stderr bytes.Buffer
	args := []string{"export", "-protocol", protocolPath, "-state-backend", "bolt", "-state-path", statePath, "-rate", "100"}
	require.Equal(t, 0, run(args, &stdout, &stderr), stderr.String())
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[1], "1,"+strings.ToLower(alice.Hex())+",,100,500,100,"), lines[1])
	require.Contains(t, stderr.String(), "exported 1 positions")

	out := filepath.Join(t.TempDir(), "positions.parquet")
	stderr.Reset()
	args = []string{"export", "-protocol", protocolPath, "-state-backend", "bolt", "-state-path", statePath, "-format", "parquet", "-out", out}
	require.Equal(t, 0, run(args, &stdout, &stderr), stderr.String())
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("PAR1")))
}

func TestExportValidatesFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 1, run([]string{"export", "-format", "xml", "-state-path", "x"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "unknown format")

	stderr.Reset()
	require.Equal(t, 1, run([]string{"export"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "-state-path is required")

	stderr.Reset()
	require.Equal(t, 1, run([]string{"export", "-state-path", "x", "-rate", "-5"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "-rate must be a positive integer")
}

func TestQuoteCallsServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/perpetuals/9/cashout" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":9,"rate":"` + r.URL.Query().Get("rate") + `","cashOut":"42","reachedMaintenance":false}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"perpetual: not found"}`))
	}))
	defer server.Close()

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"quote", "-server", server.URL + "/", "-id", "9", "-rate", "120"}, &stdout, &stderr), stderr.String())
	require.Contains(t, stdout.String(), `"cashOut": "42"`)
	require.Contains(t, stdout.String(), `"rate": "120"`)

	stdout.Reset()
	require.Equal(t, 1, run([]string{"quote", "-server", server.URL, "-id", "3"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "perpd returned 404: perpetual: not found")

	require.Equal(t, 1, run([]string{"quote"}, &stdout, &stderr))
}

func TestMintToken(t *testing.T) {
	now := time.Now()
	signed, err := mintToken(alice.Hex(), "hedgeline", "perpd", " secret ", time.Minute, now)
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (any, error) {
		return []byte("secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer("hedgeline"), jwt.WithAudience("perpd"))
	require.NoError(t, err)
	sub, err := parsed.Claims.GetSubject()
	require.NoError(t, err)
	require.Equal(t, alice.Hex(), sub)

	_, err = mintToken("alice", "", "", "secret", time.Minute, now)
	require.Error(t, err)
	_, err = mintToken(alice.Hex(), "", "", "", time.Minute, now)
	require.Error(t, err)
	_, err = mintToken(alice.Hex(), "", "", "secret", 0, now)
	require.Error(t, err)
}
