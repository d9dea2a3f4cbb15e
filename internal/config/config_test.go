package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const minimalABI = `[{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"}],"name":"Transfer","type":"event"}]`

func writeConfig(t *testing.T, dir, yamlBody string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "erc20.json"), []byte(minimalABI), 0o644))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
contracts:
  - name: token
    address: "0x0000000000000000000000000000000000000a"
    abi: erc20.json
endpoints:
  - url: https://node.example/rpc
storage:
  type: none
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ModeAnyEvent, cfg.Mode)
	require.Equal(t, "0", cfg.StartBlock)
	require.Equal(t, "latest", cfg.EndBlock)
	require.True(t, cfg.IsLive())
	require.Equal(t, 3, cfg.Retry.Attempts)
	require.Equal(t, 1500, cfg.Retry.DelayMS)
	require.NotNil(t, cfg.Contracts[0].ParsedABI)
	require.Equal(t, "endpoint-0", cfg.Endpoints[0].Name)
}

func TestLoadRejectsAnyContractModeWithoutEvents(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
mode: any_contract
contracts:
  - name: token
    address: "0x0000000000000000000000000000000000000a"
    abi: erc20.json
endpoints:
  - url: https://node.example/rpc
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingEndpoints(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
contracts:
  - name: token
    address: "0x0000000000000000000000000000000000000a"
    abi: erc20.json
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestApplyRequestDefaultsSkipsFilesystemABIResolution(t *testing.T) {
	cfg := &Config{
		Contracts: []ContractConfig{{Name: "token", Address: "0xa", ABI: "/nonexistent/path.json"}},
		Endpoints: []EndpointConfig{{URL: "https://node.example/rpc"}},
	}
	err := cfg.ApplyRequestDefaults()
	require.NoError(t, err)
	require.Equal(t, ModeAnyEvent, cfg.Mode)
}
