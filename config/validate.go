package config

import (
	"fmt"
	"strings"
)

// MaxCollateralDecimals bounds the collateral precision accepted by Validate.
var MaxCollateralDecimals = uint8(36)

// Validate performs structural checks that do not depend on the engine. The
// numeric parameters are checked again by perpetual.Params.Validate.
func Validate(p *Protocol) error {
	if p == nil {
		return fmt.Errorf("config: nil protocol")
	}
	if p.CollateralDecimals > MaxCollateralDecimals {
		return fmt.Errorf("collateral_decimals: %d exceeds %d", p.CollateralDecimals, MaxCollateralDecimals)
	}
	seen := make(map[string]struct{}, len(p.Governors))
	for _, g := range p.Governors {
		key := strings.ToLower(strings.TrimSpace(g))
		if _, dup := seen[key]; dup {
			return fmt.Errorf("governors: duplicate entry %s", g)
		}
		seen[key] = struct{}{}
	}
	if _, err := p.GovernorAddresses(); err != nil {
		return err
	}
	if _, err := p.GuardianAddress(); err != nil {
		return err
	}
	if _, err := p.PerpetualParams(); err != nil {
		return fmt.Errorf("perpetual: %w", err)
	}
	if _, err := p.FeeSchedules(); err != nil {
		return err
	}
	return nil
}
