package server

import (
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hedgeline/native/feecurve"
	"hedgeline/native/perpetual"
)

type paramsView struct {
	MaxLeverage                uint64            `json:"maxLeverage"`
	MaintenanceMargin          uint64            `json:"maintenanceMargin"`
	LockTime                   uint64            `json:"lockTime"`
	TargetHAHedge              uint64            `json:"targetHAHedge"`
	LimitHAHedge               uint64            `json:"limitHAHedge"`
	KeeperFeesLiquidationRatio uint64            `json:"keeperFeesLiquidationRatio"`
	KeeperFeesLiquidationCap   string            `json:"keeperFeesLiquidationCap"`
	KeeperFeesClosingRatio     uint64            `json:"keeperFeesClosingRatio"`
	KeeperFeesClosingCap       string            `json:"keeperFeesClosingCap"`
	HAFeesDeposit              feecurve.Schedule `json:"haFeesDeposit"`
	HAFeesWithdraw             feecurve.Schedule `json:"haFeesWithdraw"`
	CollateralBase             string            `json:"collateralBase"`
}

func newParamsView(p perpetual.Params) paramsView {
	return paramsView{
		MaxLeverage:                p.MaxLeverage,
		MaintenanceMargin:          p.MaintenanceMargin,
		LockTime:                   p.LockTime,
		TargetHAHedge:              p.TargetHAHedge,
		LimitHAHedge:               p.LimitHAHedge,
		KeeperFeesLiquidationRatio: p.KeeperFeesLiquidationRatio,
		KeeperFeesLiquidationCap:   bigString(p.KeeperFeesLiquidationCap),
		KeeperFeesClosingRatio:     p.KeeperFeesClosingRatio,
		KeeperFeesClosingCap:       bigString(p.KeeperFeesClosingCap),
		HAFeesDeposit:              p.HAFeesDeposit,
		HAFeesWithdraw:             p.HAFeesWithdraw,
		CollateralBase:             bigString(p.CollateralBase),
	}
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	status, err := s.stack.Engine.PoolStatus()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	coverage, err := s.stack.Engine.CoverageRatio()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	g := s.stack.Engine.Globals()
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":            bigString(status.Balance),
		"totalManagedAssets": bigString(status.TotalManagedAssets),
		"stocksUsers":        bigString(status.StocksUsers),
		"estimatedApr":       status.EstimatedAPR,
		"coverage":           coverage,
		"open":               g.Open,
		"totalHedge":         bigString(g.TotalHedge),
		"totalMargin":        bigString(g.TotalMargin),
	})
}

func (s *Server) handleOracle(w http.ResponseWriter, r *http.Request) {
	lower, err := s.stack.Oracle.ReadLower(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	upper, err := s.stack.Oracle.ReadUpper(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body := map[string]any{
		"lower":   lower.String(),
		"upper":   upper.String(),
		"sources": s.stack.Oracle.Sources(),
	}
	if s.oracle != nil {
		if snap, ok := s.oracle.Last(); ok {
			body["snapshot"] = snap
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleFees(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"schedules":   s.stack.Fees.Schedules(),
		"multipliers": s.stack.Fees.Multipliers(),
	})
}

func (s *Server) handleUpdateHA(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.mustCaller(w, r); !ok {
		return
	}
	m, err := s.stack.Fees.UpdateHA()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpdateUsersSLP(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.mustCaller(w, r); !ok {
		return
	}
	m, err := s.stack.Fees.UpdateUsersSLP()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type scheduleRequest struct {
	Deposit    bool     `json:"deposit,omitempty"`
	Thresholds []uint64 `json:"thresholds"`
	Values     []uint64 `json:"values"`
}

func (req scheduleRequest) schedule() (feecurve.Schedule, error) {
	schedule, err := feecurve.NewSchedule(req.Thresholds, req.Values)
	if err != nil {
		return feecurve.Schedule{}, badRequest("%v", err)
	}
	return schedule, nil
}

func (s *Server) handleSetFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	kind, err := feecurve.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.fail(w, r, badRequest("%v", err))
		return
	}
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	schedule, err := req.schedule()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.stack.Fees.SetFees(caller, kind, schedule); err != nil {
		s.fail(w, r, invalid(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "schedule": schedule})
}

func (s *Server) handleGovernance(w http.ResponseWriter, _ *http.Request) {
	snap := s.stack.Governance.Snapshot()
	governors := make([]string, 0, len(snap.Governors))
	for _, g := range snap.Governors {
		governors = append(governors, g.Hex())
	}
	paused := snap.Paused
	if paused == nil {
		paused = []string{}
	}
	rewards := s.stack.Rewards.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"governors": governors,
		"guardian":  snap.Guardian.Hex(),
		"paused":    paused,
		"params":    newParamsView(s.stack.Engine.Params()),
		"rewards": map[string]any{
			"rewardRate":   bigString(rewards.RewardRate),
			"periodFinish": rewards.PeriodFinish,
			"totalStaked":  bigString(rewards.TotalStaked),
			"distributed":  bigString(rewards.Distributed),
			"positions":    rewards.Positions,
		},
	})
}

// respondParams finishes an engine setter by echoing the resulting params.
func (s *Server) respondParams(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newParamsView(s.stack.Engine.Params()))
}

type boundsRequest struct {
	MaxLeverage       uint64 `json:"maxLeverage"`
	MaintenanceMargin uint64 `json:"maintenanceMargin"`
}

func (s *Server) handleSetBounds(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	var req boundsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondParams(w, r, s.stack.Engine.SetBoundsPerpetual(caller, req.MaxLeverage, req.MaintenanceMargin))
}

type hedgeRequest struct {
	Target uint64 `json:"target"`
	Limit  uint64 `json:"limit"`
}

func (s *Server) handleSetHedge(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	var req hedgeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondParams(w, r, s.stack.Engine.SetTargetAndLimitHAHedge(caller, req.Target, req.Limit))
}

type keeperFeesRequest struct {
	LiquidationRatio *uint64 `json:"liquidationRatio,omitempty"`
	ClosingRatio     *uint64 `json:"closingRatio,omitempty"`
	LiquidationCap   string  `json:"liquidationCap,omitempty"`
	ClosingCap       string  `json:"closingCap,omitempty"`
}

// handleSetKeeperFees applies the fields present in the request in one update.
func (s *Server) handleSetKeeperFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	var req keeperFeesRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	var liqCap, closeCap *big.Int
	if strings.TrimSpace(req.LiquidationCap) != "" {
		v, err := parseAmount("liquidationCap", req.LiquidationCap)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		liqCap = v
	}
	if strings.TrimSpace(req.ClosingCap) != "" {
		v, err := parseAmount("closingCap", req.ClosingCap)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		closeCap = v
	}
	if req.LiquidationRatio == nil && req.ClosingRatio == nil && liqCap == nil && closeCap == nil {
		s.fail(w, r, badRequest("no keeper fee field supplied"))
		return
	}
	s.respondParams(w, r, s.stack.Engine.SetKeeperFees(caller, req.LiquidationRatio, req.ClosingRatio, liqCap, closeCap))
}

type lockTimeRequest struct {
	Seconds uint64 `json:"seconds"`
}

func (s *Server) handleSetLockTime(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	var req lockTimeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondParams(w, r, s.stack.Engine.SetLockTime(caller, req.Seconds))
}

func (s *Server) handleSetHAFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	schedule, err := req.schedule()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondParams(w, r, s.stack.Engine.SetHAFees(caller, schedule, req.Deposit))
}

type moduleRequest struct {
	Module string `json:"module"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.togglePause(w, r, true)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.togglePause(w, r, false)
}

func (s *Server) togglePause(w http.ResponseWriter, r *http.Request, pause bool) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	var req moduleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	module := strings.TrimSpace(req.Module)
	var err error
	if pause {
		err = s.stack.Governance.Pause(caller, module)
	} else {
		err = s.stack.Governance.Unpause(caller, module)
	}
	if err != nil {
		s.fail(w, r, invalid(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"module": module, "paused": s.stack.Governance.IsPaused(module)})
}

type governorRequest struct {
	Address string `json:"address"`
	Remove  bool   `json:"remove,omitempty"`
}

func (s *Server) handleGovernor(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	var req governorRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Remove {
		err = s.stack.Governance.RemoveGovernor(caller, addr)
	} else {
		err = s.stack.Governance.AddGovernor(caller, addr)
	}
	if err != nil {
		s.fail(w, r, invalid(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": addr.Hex(), "governor": s.stack.Governance.IsGovernor(addr)})
}

func (s *Server) handleGuardian(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	var req governorRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.stack.Governance.SetGuardian(caller, addr); err != nil {
		s.fail(w, r, invalid(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"guardian": s.stack.Governance.Guardian().Hex()})
}

type rewardRequest struct {
	Amount   string `json:"amount"`
	Duration string `json:"duration"`
}

func (s *Server) handleNotifyReward(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.mustCaller(w, r)
	if !ok {
		return
	}
	var req rewardRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	duration, err := time.ParseDuration(strings.TrimSpace(req.Duration))
	if err != nil {
		s.fail(w, r, badRequest("invalid duration %q", req.Duration))
		return
	}
	if err := s.stack.Rewards.NotifyRewardAmount(caller, amount, duration); err != nil {
		s.fail(w, r, invalid(err))
		return
	}
	status := s.stack.Rewards.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"rewardRate":   bigString(status.RewardRate),
		"periodFinish": status.PeriodFinish,
	})
}
