package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kstaniek/go-mcp2515/internal/hub"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeINI(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "gw.ini")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write ini: %v", err)
	}
	return p
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil, noEnv, io.Discard)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.link != linkSPIDev || cfg.speed != mcp2515.Speed500k || cfg.opMode != mcp2515.ModeNormal {
		t.Fatalf("unexpected defaults: link=%s speed=%s mode=%s", cfg.link, cfg.speed, cfg.opMode)
	}
	if cfg.policy != hub.PolicyDrop || cfg.spiHz != mcp2515.DefaultSPISpeedHz {
		t.Fatalf("unexpected defaults: policy=%s spiHz=%d", cfg.policy, cfg.spiHz)
	}
}

func TestLoadConfigVersionSkipsValidation(t *testing.T) {
	cfg, err := loadConfig([]string{"-version", "-bitrate=nope"}, noEnv, io.Discard)
	if err != nil || !cfg.showVer {
		t.Fatalf("expected version request, got %v", err)
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	env := envMap(map[string]string{
		"MCP2515_GW_BITRATE":       "125k",
		"MCP2515_GW_MODE":          "loopback",
		"MCP2515_GW_HUB_POLICY":    "kick",
		"MCP2515_GW_POLL_INTERVAL": "5ms",
		"MCP2515_GW_STRICT_TX":     "true",
		"MCP2515_GW_INT_PIN":       " ",
	})
	cfg, err := loadConfig(nil, env, io.Discard)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.speed != mcp2515.Speed125k || cfg.opMode != mcp2515.ModeLoopback || cfg.policy != hub.PolicyKick {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.pollEvery != 5*time.Millisecond || !cfg.strictTx || cfg.intPin != 25 {
		t.Fatalf("env not applied: poll=%s strict=%v int=%d", cfg.pollEvery, cfg.strictTx, cfg.intPin)
	}
}

func TestFlagWinsOverEnv(t *testing.T) {
	env := envMap(map[string]string{"MCP2515_GW_BITRATE": "125k"})
	cfg, err := loadConfig([]string{"-bitrate=250k"}, env, io.Discard)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.speed != mcp2515.Speed250k {
		t.Fatalf("speed %s, want 250k", cfg.speed)
	}
}

func TestEnvInvalidValue(t *testing.T) {
	env := envMap(map[string]string{"MCP2515_GW_TX_QUEUE": "many"})
	_, err := loadConfig(nil, env, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "MCP2515_GW_TX_QUEUE") {
		t.Fatalf("expected env error, got %v", err)
	}
}

func TestConfigFile(t *testing.T) {
	path := writeINI(t, `
[link]
type = sim
int_pin = -1

[can]
bitrate = 83.3k
mode = listen-only
tx_queue = 32

[masks]
rxm0 = 0x7FF
rxm1 = ext:0x1FFFFFFF

[filters]
rxf0 = 0x123:0xAA:0x55
rxf2 = ext:0x1ABCDEF0
rxb1_mode = any
`)
	cfg, err := loadConfig([]string{"-config", path, "-tx-queue=64"}, noEnv, io.Discard)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.link != linkSim || cfg.intPin != -1 || cfg.speed != mcp2515.Speed83k3 || cfg.opMode != mcp2515.ModeListenOnly {
		t.Fatalf("file not applied: link=%s int=%d speed=%s mode=%s", cfg.link, cfg.intPin, cfg.speed, cfg.opMode)
	}
	if cfg.txQueue != 64 {
		t.Fatalf("explicit flag overridden by file: %d", cfg.txQueue)
	}
	if len(cfg.masks) != 2 || len(cfg.filters) != 2 {
		t.Fatalf("masks %d filters %d", len(cfg.masks), len(cfg.filters))
	}
	want := acceptance{index: 0, id: 0x123, d0: 0xAA, d1: 0x55}
	if cfg.filters[0] != want {
		t.Fatalf("filter0 %+v", cfg.filters[0])
	}
	if f := cfg.filters[1]; f.index != 2 || !f.extended || f.id != 0x1ABCDEF0 {
		t.Fatalf("filter2 %+v", f)
	}
	if cfg.rxModes[mcp2515.RxB1] != mcp2515.RxAny {
		t.Fatalf("rxb1 mode %v", cfg.rxModes)
	}
	if _, ok := cfg.rxModes[mcp2515.RxB0]; ok {
		t.Fatalf("rxb0 mode set without key")
	}
}

func TestConfigFileFromEnv(t *testing.T) {
	path := writeINI(t, "[can]\nbitrate = 1m\n")
	env := envMap(map[string]string{"MCP2515_GW_CONFIG": path, "MCP2515_GW_MODE": "loopback"})
	cfg, err := loadConfig(nil, env, io.Discard)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.speed != mcp2515.Speed1000k || cfg.opMode != mcp2515.ModeLoopback {
		t.Fatalf("speed %s mode %s", cfg.speed, cfg.opMode)
	}
}

func TestConfigFileErrors(t *testing.T) {
	cases := map[string]string{
		"unknownKey":    "[can]\nbaudrate = 500k\n",
		"badFilterKey":  "[filters]\nrxf6 = 0x1\n",
		"badMaskValue":  "[masks]\nrxm0 = 0x800\n",
		"badRxMode":     "[filters]\nrxb0_mode = some\n",
		"badFlagValue":  "[can]\ntx_queue = lots\n",
		"badFilterData": "[filters]\nrxf1 = 0x10:0x100:0x00\n",
	}
	for name, body := range cases {
		path := writeINI(t, body)
		if _, err := loadConfig([]string{"-config", path}, noEnv, io.Discard); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := loadConfig([]string{"-config", filepath.Join(t.TempDir(), "missing.ini")}, noEnv, io.Discard); err == nil {
		t.Fatalf("missing file: expected error")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"badLink", []string{"-link=usb"}},
		{"badFormat", []string{"-log-format=xml"}},
		{"badLevel", []string{"-log-level=loud"}},
		{"badBitrate", []string{"-bitrate=42k"}},
		{"badMode", []string{"-mode=turbo"}},
		{"configMode", []string{"-mode=config"}},
		{"sleepMode", []string{"-mode=sleep"}},
		{"badPolicy", []string{"-hub-policy=block"}},
		{"spiTooFast", []string{"-spi-hz=20000000"}},
		{"spiZero", []string{"-spi-hz=0"}},
		{"badCS", []string{"-cs-pin=-1"}},
		{"badInt", []string{"-int-pin=-2"}},
		{"badBaud", []string{"-baud=0"}},
		{"badQueue", []string{"-tx-queue=0"}},
		{"badHubBuf", []string{"-hub-buffer=0"}},
		{"badPoll", []string{"-poll-interval=0"}},
		{"badHealth", []string{"-health-interval=-1s"}},
		{"badHandshake", []string{"-handshake-timeout=0"}},
		{"badReadTO", []string{"-client-read-timeout=0"}},
		{"badMaxClients", []string{"-max-clients=-1"}},
		{"badMetricsEvery", []string{"-log-metrics-interval=-1s"}},
	}
	for _, tc := range tests {
		if _, err := loadConfig(tc.args, noEnv, io.Discard); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestParseAcceptance(t *testing.T) {
	tests := []struct {
		in   string
		want acceptance
		ok   bool
	}{
		{"0x123", acceptance{id: 0x123}, true},
		{" 0x7ff ", acceptance{id: 0x7FF}, true},
		{"291", acceptance{id: 291}, true},
		{"0x100:0x01:0xFF", acceptance{id: 0x100, d0: 0x01, d1: 0xFF}, true},
		{"EXT:0x1FFFFFFF", acceptance{extended: true, id: 0x1FFFFFFF}, true},
		{"ext:0x20000000", acceptance{}, false},
		{"0x800", acceptance{}, false},
		{"0x100:0x01", acceptance{}, false},
		{"zz", acceptance{}, false},
	}
	for _, tc := range tests {
		got, err := parseAcceptance(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("%q: err=%v", tc.in, err)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("%q: got %+v want %+v", tc.in, got, tc.want)
		}
	}
}

func TestEnvName(t *testing.T) {
	if got := envName("log-metrics-interval"); got != "MCP2515_GW_LOG_METRICS_INTERVAL" {
		t.Fatalf("envName = %s", got)
	}
}
