package main

import (
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := defaultConfig()
	t.Setenv("OSC_BRIDGE_BAUD", "230400")
	t.Setenv("OSC_BRIDGE_MDNS_ENABLE", "true")
	t.Setenv("OSC_BRIDGE_SERIAL_READ_TIMEOUT", "100ms")
	t.Setenv("OSC_BRIDGE_LOG_METRICS_INTERVAL", "5s")
	t.Setenv("OSC_BRIDGE_BACKEND", "tcp")
	t.Setenv("OSC_BRIDGE_METRICS", ":9100")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 230400 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO 100ms got %v", base.serialReadTO)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
	if base.backend != "tcp" || base.metricsAddr != ":9100" {
		t.Fatalf("backend=%q metrics=%q", base.backend, base.metricsAddr)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{baud: 115200}
	t.Setenv("OSC_BRIDGE_BAUD", "230400")
	// Simulate user passed -baud flag (so env should be ignored)
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.baud != 115200 {
		t.Fatalf("expected baud unchanged 115200 got %d", base.baud)
	}
}

func TestApplyEnvOverrides_BadValues(t *testing.T) {
	for key, val := range map[string]string{
		"OSC_BRIDGE_MAX_MESSAGE_SIZE":   "notint",
		"OSC_BRIDGE_HEARTBEAT_INTERVAL": "soon",
		"OSC_BRIDGE_MDNS_ENABLE":        "maybe",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if err := applyEnvOverrides(defaultConfig(), map[string]struct{}{}); err == nil {
				t.Fatalf("expected error for %s=%s", key, val)
			}
		})
	}
}
