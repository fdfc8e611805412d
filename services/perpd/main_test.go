package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	perpdconfig "hedgeline/services/perpd/config"
)

func TestTelemetryAttributes(t *testing.T) {
	cfg := perpdconfig.Config{ListenAddress: ":7090"}
	cfg.State.Backend = "bolt"
	cfg.Oracle.Primary.Name = "chainlink"

	attrs := telemetryAttributes(cfg)
	require.Equal(t, "chainlink", attrs["oracle.primary"])
	require.Equal(t, "bolt", attrs["state.backend"])
	require.Equal(t, "false", attrs["keeper.enabled"])
	require.NotContains(t, attrs, "oracle.secondary")
	require.NotContains(t, attrs, "keeper.address")

	cfg.Oracle.Secondary = &perpdconfig.Feed{Name: "pyth"}
	cfg.Keeper.Enabled = true
	cfg.Keeper.Address = "0x00000000000000000000000000000000000000aa"
	attrs = telemetryAttributes(cfg)
	require.Equal(t, "pyth", attrs["oracle.secondary"])
	require.Equal(t, cfg.Keeper.Address, attrs["keeper.address"])
}

func TestParseOptionalInt(t *testing.T) {
	v, err := parseOptionalInt("pool.balance", " ")
	require.NoError(t, err)
	require.Nil(t, v)

	v, err = parseOptionalInt("pool.balance", "1000")
	require.NoError(t, err)
	require.Equal(t, "1000", v.String())

	_, err = parseOptionalInt("pool.balance", "-1")
	require.ErrorContains(t, err, "pool.balance")
}
