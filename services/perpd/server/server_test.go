package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"hedgeline/config"
	"hedgeline/core/events"
	"hedgeline/core/types"
	"hedgeline/native/oracle"
	"hedgeline/services/perpd/app"
	"hedgeline/services/perpd/storage"
	kvstore "hedgeline/storage"
)

const (
	testSecret   = "perpd-test-secret"
	testIssuer   = "hedgeline-test"
	testAudience = "perpd"
)

var (
	governor = ethcommon.HexToAddress("0x000000000000000000000000000000000000900d")
	alice    = ethcommon.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = ethcommon.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type fixture struct {
	stack   *app.Stack
	hub     *Hub
	primary *oracle.StaticSource
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithHistory(t, nil)
}

func newFixtureWithHistory(t *testing.T, history KeeperHistory) *fixture {
	t.Helper()
	protocol := config.Default(0)
	protocol.Governors = []string{governor.Hex()}
	protocol.Perpetual.MaxLeverage = 10_000_000_000
	protocol.Perpetual.MaintenanceMargin = 100_000_000
	protocol.Perpetual.HAFeesDeposit = config.Schedule{Thresholds: []uint64{0}, Values: []uint64{0}}
	protocol.Perpetual.HAFeesWithdraw = config.Schedule{Thresholds: []uint64{0}, Values: []uint64{0}}

	hub := NewHub()
	primary := oracle.NewStaticSource("primary", big.NewInt(100))
	stack, err := app.Build(app.Options{
		Protocol:    protocol,
		DB:          kvstore.NewMemDB(),
		Primary:     primary,
		Emitter:     events.Multi{hub},
		StocksUsers: big.NewInt(1_000_000),
	})
	require.NoError(t, err)

	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: testIssuer, Audience: testAudience}, nil)
	require.NoError(t, err)
	srv, err := New(Config{}, Dependencies{Stack: stack, Auth: auth, Hub: hub, History: history})
	require.NoError(t, err)
	return &fixture{stack: stack, hub: hub, primary: primary, handler: srv.Handler()}
}

func signToken(t *testing.T, sub string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"iss": testIssuer,
		"aud": testAudience,
		"exp": time.Now().Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, method, path string, caller *ethcommon.Address, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+signToken(t, caller.Hex(), time.Hour))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (f *fixture) create(t *testing.T, owner ethcommon.Address, margin, committed string) uint64 {
	t.Helper()
	rec, body := f.do(t, http.MethodPost, "/v1/perpetuals", &owner, map[string]string{"margin": margin, "committed": committed})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return uint64(body["id"].(float64))
}

func TestCreateAndReadPerpetual(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, alice, "100", "500")
	require.EqualValues(t, 1, id)

	rec, body := f.do(t, http.MethodGet, "/v1/perpetuals/1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, alice.Hex(), body["owner"])
	require.Equal(t, "100", body["margin"])
	require.Equal(t, "100", body["entryRate"])
	require.EqualValues(t, 5_000_000_000, body["leverage"])

	rec, body = f.do(t, http.MethodGet, "/v1/perpetuals?owner="+bob.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, body["perpetuals"])

	rec, body = f.do(t, http.MethodGet, "/v1/owners/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, body["balance"])
	require.Equal(t, []any{float64(1)}, body["perpetuals"])

	rec, body = f.do(t, http.MethodGet, "/v1/pool", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "50000", body["totalHedge"])
	require.EqualValues(t, 50_000_000, body["coverage"])
}

func TestMutationsRequireToken(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodPost, "/v1/perpetuals", nil, map[string]string{"margin": "100", "committed": "500"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "missing bearer token", body["error"])

	req := httptest.NewRequest(http.MethodPost, "/v1/perpetuals", strings.NewReader(`{"margin":"1","committed":"1"}`))
	req.Header.Set("Authorization", "Bearer "+signToken(t, alice.Hex(), -time.Hour))
	expired := httptest.NewRecorder()
	f.handler.ServeHTTP(expired, req)
	require.Equal(t, http.StatusUnauthorized, expired.Code)
}

func TestLedgerErrorsMapToStatus(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, alice, "100", "500")

	rec, _ := f.do(t, http.MethodPost, "/v1/perpetuals", &alice, map[string]string{"margin": "10", "committed": "500"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/v1/perpetuals/1/remove", &bob, map[string]string{"amount": "10"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := f.do(t, http.MethodPost, "/v1/perpetuals/1/remove", &alice, map[string]string{"amount": "10"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, body["error"], "lock time")

	rec, _ = f.do(t, http.MethodGet, "/v1/perpetuals/99", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/v1/perpetuals/1/add", &alice, map[string]string{"amount": "-5"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/v1/keeper/liquidate", &bob, map[string]any{"ids": []uint64{id}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/v1/fees/not_a_kind", &governor, map[string]any{"thresholds": []uint64{0}, "values": []uint64{1}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKeeperRoutesRecordHistory(t *testing.T) {
	store, err := storage.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	f := newFixtureWithHistory(t, store)
	id := f.create(t, alice, "100", "500")
	f.create(t, alice, "100", "200")

	f.primary.Set(big.NewInt(80))
	rec, body := f.do(t, http.MethodPost, "/v1/keeper/liquidate", &bob, map[string]any{"ids": []uint64{id}})
	require.Equal(t, http.StatusOK, rec.Code, body)
	require.Equal(t, []any{float64(id)}, body["liquidated"])

	rec, body = f.do(t, http.MethodGet, fmt.Sprintf("/v1/perpetuals/%d/liquidations", id), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := body["records"].([]any)
	require.Len(t, records, 1)
	require.Equal(t, "liquidated", records[0].(map[string]any)["kind"])

	rec, body = f.do(t, http.MethodGet, "/v1/keeper/runs", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["runs"], 1)

	rec, body = f.do(t, http.MethodGet, "/v1/perpetuals/2/liquidations", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, body["records"])
}

func TestQuoteAndCashOut(t *testing.T) {
	f := newFixture(t)
	f.create(t, alice, "100", "500")

	rec, body := f.do(t, http.MethodGet, "/v1/perpetuals/1/cashout?rate=80", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0", body["cashOut"])
	require.Equal(t, true, body["reachedMaintenance"])

	rec, body = f.do(t, http.MethodGet, "/v1/perpetuals/1/cashout", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "100", body["rate"])
	require.Equal(t, "100", body["cashOut"])

	rec, body = f.do(t, http.MethodPost, "/v1/perpetuals/1/cashout", &alice, map[string]string{"minOracleRate": "200"})
	require.Equal(t, http.StatusConflict, rec.Code, body)
}

func TestOwnershipRoutes(t *testing.T) {
	f := newFixture(t)
	f.create(t, alice, "100", "500")

	rec, _ := f.do(t, http.MethodPost, "/v1/perpetuals/1/approve", &alice, map[string]string{"to": bob.Hex()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := f.do(t, http.MethodPost, "/v1/perpetuals/1/transfer", &bob, map[string]string{"to": bob.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, body)
	require.Equal(t, bob.Hex(), body["owner"])
	_, hasApproved := body["approved"]
	require.False(t, hasApproved)

	rec, body = f.do(t, http.MethodPost, "/v1/operators", &bob, map[string]any{"operator": alice.Hex(), "approved": true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["approved"])
}

func TestGovernanceRoutes(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodPost, "/v1/governance/lock-time", &bob, map[string]uint64{"seconds": 60})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := f.do(t, http.MethodPost, "/v1/governance/lock-time", &governor, map[string]uint64{"seconds": 60})
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 60, body["lockTime"])

	rec, _ = f.do(t, http.MethodPost, "/v1/governance/hedge", &governor, map[string]uint64{"target": 960_000_000, "limit": 950_000_000})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(t, http.MethodPost, "/v1/governance/keeper-fees", &governor, map[string]any{"closingCap": "7"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "7", body["keeperFeesClosingCap"])

	before := f.stack.Engine.Params()
	rec, _ = f.do(t, http.MethodPost, "/v1/governance/keeper-fees", &governor, map[string]any{"liquidationRatio": 123, "closingCap": "not-a-number"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, before.KeeperFeesLiquidationRatio, f.stack.Engine.Params().KeeperFeesLiquidationRatio)

	rec, _ = f.do(t, http.MethodPost, "/v1/governance/keeper-fees", &governor, map[string]any{"liquidationRatio": 123, "closingRatio": 2_000_000_000})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, before.KeeperFeesLiquidationRatio, f.stack.Engine.Params().KeeperFeesLiquidationRatio)

	rec, body = f.do(t, http.MethodPost, "/v1/governance/keeper-fees", &governor, map[string]any{"liquidationRatio": 123, "liquidationCap": "9"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 123, body["keeperFeesLiquidationRatio"])
	require.Equal(t, "9", body["keeperFeesLiquidationCap"])
	require.Equal(t, "7", body["keeperFeesClosingCap"])

	rec, _ = f.do(t, http.MethodPost, "/v1/governance/pause", &governor, map[string]string{"module": "perpetual"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodPost, "/v1/perpetuals", &alice, map[string]string{"margin": "100", "committed": "500"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/v1/governance/pause", &governor, map[string]string{"module": "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(t, http.MethodPost, "/v1/governance/rewards", &governor, map[string]string{"amount": "3600", "duration": "1h"})
	require.Equal(t, http.StatusOK, rec.Code, body)
	require.Equal(t, "1", body["rewardRate"])

	rec, body = f.do(t, http.MethodGet, "/v1/governance", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []any{"perpetual"}, body["paused"])
	require.Equal(t, []any{governor.Hex()}, body["governors"])
}

func TestFeeRoutes(t *testing.T) {
	f := newFixture(t)
	f.create(t, alice, "100", "500")

	rec, body := f.do(t, http.MethodPost, "/v1/fees/slippage", &governor, map[string]any{
		"thresholds": []uint64{0, 1_000_000_000},
		"values":     []uint64{0, 500_000_000},
	})
	require.Equal(t, http.StatusOK, rec.Code, body)

	rec, body = f.do(t, http.MethodPost, "/v1/fees/update-users-slp", &bob, nil)
	require.Equal(t, http.StatusOK, rec.Code, body)
	require.EqualValues(t, 50_000_000, body["usersCoverage"])
	require.EqualValues(t, 25_000_000, body["slippage"])

	rec, body = f.do(t, http.MethodGet, "/v1/fees", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	schedules := body["schedules"].(map[string]any)
	require.Contains(t, schedules, "slippage")
}

func TestOracleAndHealth(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/v1/oracle", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "100", body["lower"])
	require.Equal(t, "100", body["upper"])

	rec, body = f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])

	rec, _ = f.do(t, http.MethodGet, "/v1/keeper/runs", nil, nil)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/events?type=perpetual.", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.create(t, alice, "100", "500")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, events.TypePerpetualCreated, evt.Type)
	require.Equal(t, "1", evt.Attributes["id"])
	require.Equal(t, alice.Hex(), evt.Attributes["owner"])
}

func TestExportPositions(t *testing.T) {
	f := newFixture(t)
	f.create(t, alice, "100", "500")

	get := func(query string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/exports/positions"+query, nil))
		return rec
	}

	rec := get("")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Len(t, rec.Header().Get("X-Checksum-Blake3"), 64)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], ",100,500,100,")
	require.Contains(t, lines[1], ",100,100,false,")

	rec = get("?format=jsonl&rate=80")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"markRate":"80"`)
	require.Contains(t, rec.Body.String(), `"reachedMaintenance":true`)

	rec = get("?format=parquet")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PAR1")))

	rec = get("?format=xml")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
