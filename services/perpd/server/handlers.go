package server

import (
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"hedgeline/native/perpetual"
	"hedgeline/observability"
	"hedgeline/services/perpd/storage"
)

type perpetualView struct {
	ID             uint64 `json:"id"`
	Owner          string `json:"owner"`
	Approved       string `json:"approved,omitempty"`
	Margin         string `json:"margin"`
	Committed      string `json:"committed"`
	EntryRate      string `json:"entryRate"`
	EntryTimestamp uint64 `json:"entryTimestamp"`
	CreatedAt      uint64 `json:"createdAt"`
	Leverage       uint64 `json:"leverage"`
}

func newPerpetualView(p *perpetual.Perpetual) perpetualView {
	view := perpetualView{
		ID:             p.ID,
		Owner:          p.Owner.Hex(),
		Margin:         bigString(p.Margin),
		Committed:      bigString(p.Committed),
		EntryRate:      bigString(p.EntryRate),
		EntryTimestamp: p.EntryTimestamp,
		CreatedAt:      p.CreatedAt,
		Leverage:       p.Leverage(),
	}
	if p.Approved != (ethcommon.Address{}) {
		view.Approved = p.Approved.Hex()
	}
	return view
}

func (s *Server) mustCaller(w http.ResponseWriter, r *http.Request) (ethcommon.Address, bool) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, nil)
	}
	return caller, ok
}

func (s *Server) writePerpetual(w http.ResponseWriter, r *http.Request, status int, id uint64) {
	p, err := s.stack.Engine.Perpetual(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, newPerpetualView(p))
}

func (s *Server) handleListPerpetuals(w http.ResponseWriter, r *http.Request) {
	var filter *ethcommon.Address
	if raw := strings.TrimSpace(r.URL.Query().Get("owner")); raw != "" {
		owner, err := parseAddress("owner", raw)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		filter = &owner
	}
	out := make([]perpetualView, 0)
	for _, p := range s.stack.Engine.ListPerpetuals() {
		if filter != nil && p.Owner != *filter {
			continue
		}
		out = append(out, newPerpetualView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"perpetuals": out})
}

func (s *Server) handleGetPerpetual(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writePerpetual(w, r, http.StatusOK, id)
}

// handleQuoteCashOut prices a position at the supplied rate, or at the
// oracle's lower rate when none is given.
func (s *Server) handleQuoteCashOut(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rate, err := parseOptionalAmount("rate", r.URL.Query().Get("rate"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rate == nil {
		rate, err = s.stack.Oracle.ReadLower(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
	}
	quote, err := s.stack.Engine.GetCashOutAmount(id, rate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                 id,
		"rate":               rate.String(),
		"cashOut":            bigString(quote.CashOut),
		"reachedMaintenance": quote.ReachedMaintenance,
	})
}

func (s *Server) handleEarned(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	earned, err := s.stack.Engine.Earned(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "earned": bigString(earned)})
}

func (s *Server) handleLiquidations(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, nil)
		return
	}
	records, err := s.history.LiquidationsFor(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]any{"runId": rec.RunID.String(), "kind": rec.Kind, "at": rec.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "records": out})
}

func (s *Server) handleOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	balance, err := s.stack.Engine.BalanceOf(owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ids := s.stack.Engine.PerpetualsOf(owner)
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner.Hex(), "balance": balance, "perpetuals": ids})
}

type createRequest struct {
	Margin        string `json:"margin"`
	Committed     string `json:"committed"`
	MaxOracleRate string `json:"maxOracleRate,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	margin, err := parseAmount("margin", req.Margin)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	committed, err := parseAmount("committed", req.Committed)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	maxRate, err := parseOptionalAmount("maxOracleRate", req.MaxOracleRate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.stack.Engine.CreatePerpetual(r.Context(), caller, margin, committed, maxRate)
	observability.Perpetual().RecordOperation("create", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writePerpetual(w, r, http.StatusCreated, id)
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) decodeAmountRequest(w http.ResponseWriter, r *http.Request) (ethcommon.Address, uint64, *big.Int, bool) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return ethcommon.Address{}, 0, nil, false
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return ethcommon.Address{}, 0, nil, false
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return ethcommon.Address{}, 0, nil, false
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return ethcommon.Address{}, 0, nil, false
	}
	return caller, id, amount, true
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	caller, id, amount, ok := s.decodeAmountRequest(w, r)
	if !ok {
		return
	}
	err := s.stack.Engine.AddToPerpetual(r.Context(), caller, id, amount)
	observability.Perpetual().RecordOperation("add", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writePerpetual(w, r, http.StatusOK, id)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	caller, id, amount, ok := s.decodeAmountRequest(w, r)
	if !ok {
		return
	}
	err := s.stack.Engine.RemoveFromPerpetual(r.Context(), caller, id, amount)
	observability.Perpetual().RecordOperation("remove", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writePerpetual(w, r, http.StatusOK, id)
}

type cashOutRequest struct {
	To            string `json:"to,omitempty"`
	MinOracleRate string `json:"minOracleRate,omitempty"`
}

func (s *Server) handleCashOut(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req cashOutRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	to := caller
	if strings.TrimSpace(req.To) != "" {
		if to, err = parseAddress("to", req.To); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	minRate, err := parseOptionalAmount("minOracleRate", req.MinOracleRate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	paid, err := s.stack.Engine.CashOutPerpetual(r.Context(), caller, id, to, minRate)
	observability.Perpetual().RecordOperation("cashout", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "to": to.Hex(), "cashOut": bigString(paid)})
}

type approveRequest struct {
	To string `json:"to"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	err = s.stack.Engine.Approve(caller, to, id)
	observability.Perpetual().RecordOperation("approve", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writePerpetual(w, r, http.StatusOK, id)
}

type transferRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var from ethcommon.Address
	if strings.TrimSpace(req.From) == "" {
		if from, err = s.stack.Engine.OwnerOf(id); err != nil {
			s.fail(w, r, err)
			return
		}
	} else if from, err = parseAddress("from", req.From); err != nil {
		s.fail(w, r, err)
		return
	}
	err = s.stack.Engine.TransferFrom(caller, from, to, id)
	observability.Perpetual().RecordOperation("transfer", err)
	if err != nil {
		s.fail(w, r, invalid(err))
		return
	}
	s.writePerpetual(w, r, http.StatusOK, id)
}

func (s *Server) handleReward(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reward, err := s.stack.Engine.GetReward(caller, id)
	observability.Perpetual().RecordOperation("reward", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "reward": bigString(reward)})
}

type operatorRequest struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

func (s *Server) handleOperator(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	var req operatorRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	operator, err := parseAddress("operator", req.Operator)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	err = s.stack.Engine.SetApprovalForAll(caller, operator, req.Approved)
	observability.Perpetual().RecordOperation("operator", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":    caller.Hex(),
		"operator": operator.Hex(),
		"approved": s.stack.Engine.IsApprovedForAll(caller, operator),
	})
}

type keeperRequest struct {
	IDs []uint64 `json:"ids"`
}

func (s *Server) decodeKeeperRequest(w http.ResponseWriter, r *http.Request) (ethcommon.Address, []uint64, bool) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return ethcommon.Address{}, nil, false
	}
	var req keeperRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return ethcommon.Address{}, nil, false
	}
	if len(req.IDs) == 0 {
		s.fail(w, r, badRequest("ids required"))
		return ethcommon.Address{}, nil, false
	}
	return caller, req.IDs, true
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	keeper, ids, ok := s.decodeKeeperRequest(w, r)
	if !ok {
		return
	}
	started := time.Now()
	res, err := s.stack.Engine.LiquidatePerpetuals(r.Context(), keeper, ids)
	observability.Perpetual().RecordOperation("liquidate", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.recordKeeperRun(r, "liquidate", keeper, len(ids), started, res.KeeperFee, res.Rate, liquidationRecords(nil, res.Liquidated, "liquidated"))
	writeJSON(w, http.StatusOK, map[string]any{
		"liquidated": idList(res.Liquidated),
		"skipped":    idList(res.Skipped),
		"keeperFee":  bigString(res.KeeperFee),
		"proceeds":   bigString(res.Proceeds),
		"rate":       bigString(res.Rate),
	})
}

func (s *Server) handleForceCashOut(w http.ResponseWriter, r *http.Request) {
	keeper, ids, ok := s.decodeKeeperRequest(w, r)
	if !ok {
		return
	}
	started := time.Now()
	res, err := s.stack.Engine.ForceCashOutPerpetuals(r.Context(), keeper, ids)
	observability.Perpetual().RecordOperation("force_cashout", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	records := liquidationRecords(nil, res.Closed, "force_closed")
	records = liquidationRecords(records, res.Liquidated, "liquidated")
	s.recordKeeperRun(r, "force_cashout", keeper, len(ids), started, res.KeeperFee, res.Rate, records)
	writeJSON(w, http.StatusOK, map[string]any{
		"closed":         idList(res.Closed),
		"liquidated":     idList(res.Liquidated),
		"skipped":        idList(res.Skipped),
		"keeperFee":      bigString(res.KeeperFee),
		"payouts":        bigString(res.Payouts),
		"rate":           bigString(res.Rate),
		"coverageBefore": res.CoverageBefore,
		"coverageAfter":  res.CoverageAfter,
	})
}

func liquidationRecords(out []storage.LiquidationRecord, ids []uint64, kind string) []storage.LiquidationRecord {
	for _, id := range ids {
		out = append(out, storage.LiquidationRecord{PerpetualID: id, Kind: kind})
	}
	return out
}

// recordKeeperRun persists a keeper call made over HTTP. Failures are logged;
// the ledger change has already committed.
func (s *Server) recordKeeperRun(r *http.Request, action string, keeper ethcommon.Address, scanned int, started time.Time, fee, rate *big.Int, records []storage.LiquidationRecord) {
	if s.history == nil || len(records) == 0 {
		return
	}
	run := &storage.KeeperRun{
		Action:     action,
		Keeper:     keeper.Hex(),
		Scanned:    scanned,
		Closed:     len(records),
		KeeperFee:  bigString(fee),
		Rate:       bigString(rate),
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
		Records:    records,
	}
	if err := s.history.RecordKeeperRun(r.Context(), run); err != nil {
		s.logger.Warn("record keeper run", "action", action, "error", err)
	}
}

func (s *Server) handleKeeperRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, nil)
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.fail(w, r, badRequest("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	runs, err := s.history.KeeperRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		closed := make([]uint64, 0, len(run.Records))
		for _, rec := range run.Records {
			closed = append(closed, rec.PerpetualID)
		}
		out = append(out, map[string]any{
			"id":         run.ID.String(),
			"action":     run.Action,
			"keeper":     run.Keeper,
			"scanned":    run.Scanned,
			"closed":     closed,
			"keeperFee":  run.KeeperFee,
			"rate":       run.Rate,
			"error":      run.Error,
			"startedAt":  run.StartedAt,
			"finishedAt": run.FinishedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func idList(ids []uint64) []uint64 {
	if ids == nil {
		return []uint64{}
	}
	return ids
}
