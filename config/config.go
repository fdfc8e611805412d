package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	ethcommon "github.com/ethereum/go-ethereum/common"

	nativecommon "hedgeline/native/common"
	"hedgeline/native/feecurve"
	"hedgeline/native/perpetual"
)

// Protocol is the on-disk description of the protocol's governance set and
// risk parameters.
type Protocol struct {
	Governors          []string            `toml:"governors"`
	Guardian           string              `toml:"guardian"`
	CollateralDecimals uint8               `toml:"collateral_decimals"`
	Perpetual          Perpetual           `toml:"perpetual"`
	Fees               map[string]Schedule `toml:"fees"`
}

// Perpetual mirrors perpetual.Params with caps expressed as decimal strings so
// they survive values beyond int64.
type Perpetual struct {
	MaxLeverage                uint64   `toml:"max_leverage"`
	MaintenanceMargin          uint64   `toml:"maintenance_margin"`
	LockTime                   uint64   `toml:"lock_time"`
	TargetHAHedge              uint64   `toml:"target_ha_hedge"`
	LimitHAHedge               uint64   `toml:"limit_ha_hedge"`
	KeeperFeesLiquidationRatio uint64   `toml:"keeper_fees_liquidation_ratio"`
	KeeperFeesLiquidationCap   string   `toml:"keeper_fees_liquidation_cap"`
	KeeperFeesClosingRatio     uint64   `toml:"keeper_fees_closing_ratio"`
	KeeperFeesClosingCap       string   `toml:"keeper_fees_closing_cap"`
	HAFeesDeposit              Schedule `toml:"ha_fees_deposit"`
	HAFeesWithdraw             Schedule `toml:"ha_fees_withdraw"`
}

// Schedule is a piecewise-linear curve as written in the file.
type Schedule struct {
	Thresholds []uint64 `toml:"thresholds"`
	Values     []uint64 `toml:"values"`
}

func (s Schedule) curve() feecurve.Schedule {
	return feecurve.Schedule{
		Thresholds: append([]uint64(nil), s.Thresholds...),
		Values:     append([]uint64(nil), s.Values...),
	}
}

func fromCurve(s feecurve.Schedule) Schedule {
	return Schedule{Thresholds: s.Thresholds, Values: s.Values}
}

// Load reads the protocol file at path. A missing file is replaced by a
// default one so a fresh deployment boots with sane parameters.
func Load(path string) (*Protocol, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Protocol{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the protocol description matching perpetual.DefaultParams
// for a collateral of the given decimals. The governance set is empty.
func Default(decimals uint8) *Protocol {
	params := perpetual.DefaultParams(decimals)
	fees := make(map[string]Schedule)
	for _, kind := range feecurve.Kinds() {
		fees[string(kind)] = fromCurve(feecurve.Constant(nativecommon.BaseParams))
	}
	return &Protocol{
		Governors:          []string{},
		CollateralDecimals: decimals,
		Perpetual: Perpetual{
			MaxLeverage:                params.MaxLeverage,
			MaintenanceMargin:          params.MaintenanceMargin,
			LockTime:                   params.LockTime,
			TargetHAHedge:              params.TargetHAHedge,
			LimitHAHedge:               params.LimitHAHedge,
			KeeperFeesLiquidationRatio: params.KeeperFeesLiquidationRatio,
			KeeperFeesLiquidationCap:   params.KeeperFeesLiquidationCap.String(),
			KeeperFeesClosingRatio:     params.KeeperFeesClosingRatio,
			KeeperFeesClosingCap:       params.KeeperFeesClosingCap.String(),
			HAFeesDeposit:              fromCurve(params.HAFeesDeposit),
			HAFeesWithdraw:             fromCurve(params.HAFeesWithdraw),
		},
		Fees: fees,
	}
}

// GovernorAddresses decodes the configured governors.
func (p *Protocol) GovernorAddresses() ([]ethcommon.Address, error) {
	out := make([]ethcommon.Address, 0, len(p.Governors))
	for _, raw := range p.Governors {
		addr, err := parseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("governors: %w", err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// GuardianAddress decodes the guardian. An empty value yields the zero address.
func (p *Protocol) GuardianAddress() (ethcommon.Address, error) {
	if strings.TrimSpace(p.Guardian) == "" {
		return ethcommon.Address{}, nil
	}
	addr, err := parseAddress(p.Guardian)
	if err != nil {
		return ethcommon.Address{}, fmt.Errorf("guardian: %w", err)
	}
	return addr, nil
}

// PerpetualParams converts the file representation into engine parameters.
func (p *Protocol) PerpetualParams() (perpetual.Params, error) {
	liqCap, err := parseAmount("keeper_fees_liquidation_cap", p.Perpetual.KeeperFeesLiquidationCap)
	if err != nil {
		return perpetual.Params{}, err
	}
	closeCap, err := parseAmount("keeper_fees_closing_cap", p.Perpetual.KeeperFeesClosingCap)
	if err != nil {
		return perpetual.Params{}, err
	}
	params := perpetual.Params{
		MaxLeverage:                p.Perpetual.MaxLeverage,
		MaintenanceMargin:          p.Perpetual.MaintenanceMargin,
		LockTime:                   p.Perpetual.LockTime,
		TargetHAHedge:              p.Perpetual.TargetHAHedge,
		LimitHAHedge:               p.Perpetual.LimitHAHedge,
		KeeperFeesLiquidationRatio: p.Perpetual.KeeperFeesLiquidationRatio,
		KeeperFeesLiquidationCap:   liqCap,
		KeeperFeesClosingRatio:     p.Perpetual.KeeperFeesClosingRatio,
		KeeperFeesClosingCap:       closeCap,
		HAFeesDeposit:              p.Perpetual.HAFeesDeposit.curve(),
		HAFeesWithdraw:             p.Perpetual.HAFeesWithdraw.curve(),
		CollateralBase:             new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.CollateralDecimals)), nil),
	}
	if err := params.Validate(); err != nil {
		return perpetual.Params{}, err
	}
	return params, nil
}

// FeeSchedules returns the multiplier curves keyed by kind. Kinds absent from
// the file are left to the fee manager's neutral default.
func (p *Protocol) FeeSchedules() (map[feecurve.Kind]feecurve.Schedule, error) {
	out := make(map[feecurve.Kind]feecurve.Schedule, len(p.Fees))
	for name, schedule := range p.Fees {
		kind, err := feecurve.ParseKind(name)
		if err != nil {
			return nil, err
		}
		curve := schedule.curve()
		if err := curve.Validate(); err != nil {
			return nil, fmt.Errorf("fees.%s: %w", name, err)
		}
		out[kind] = curve
	}
	return out, nil
}

// Save writes the protocol description to path.
func Save(path string, cfg *Protocol) error {
	return persist(path, cfg)
}

func createDefault(path string) (*Protocol, error) {
	cfg := Default(18)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Protocol) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func parseAddress(raw string) (ethcommon.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !ethcommon.IsHexAddress(trimmed) {
		return ethcommon.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return ethcommon.HexToAddress(trimmed), nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", field, raw)
	}
	return v, nil
}
