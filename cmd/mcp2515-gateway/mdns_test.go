package main

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestMDNSDisabled(t *testing.T) {
	called := false
	prev := mdnsRegister
	mdnsRegister = func(string, string, int, []string) (func(), error) { called = true; return func() {}, nil }
	t.Cleanup(func() { mdnsRegister = prev })

	stop, err := startMDNS(context.Background(), &appConfig{}, 20000)
	if err != nil {
		t.Fatalf("startMDNS: %v", err)
	}
	stop()
	if called {
		t.Fatalf("registered while disabled")
	}
}

func TestMDNSRegistersAndStops(t *testing.T) {
	cfg := simConfig(t, "-mdns-enable", "-mdns-name=bench", "-bitrate=250k")
	type reg struct {
		instance, service string
		port              int
		txt               []string
	}
	got := make(chan reg, 1)
	down := make(chan struct{})
	prev := mdnsRegister
	mdnsRegister = func(instance, service string, port int, txt []string) (func(), error) {
		got <- reg{instance, service, port, txt}
		return func() { close(down) }, nil
	}
	t.Cleanup(func() { mdnsRegister = prev })

	ctx, cancel := context.WithCancel(context.Background())
	stop, err := startMDNS(ctx, cfg, 20001)
	if err != nil {
		t.Fatalf("startMDNS: %v", err)
	}
	r := <-got
	if r.instance != "bench" || r.service != mdnsServiceType || r.port != 20001 {
		t.Fatalf("registration %+v", r)
	}
	for _, want := range []string{"link=sim", "bitrate=250k", "mode=normal", "version=" + version} {
		if !slices.Contains(r.txt, want) {
			t.Fatalf("txt %v lacks %s", r.txt, want)
		}
	}
	cancel()
	select {
	case <-down:
	case <-time.After(2 * time.Second):
		t.Fatalf("service not shut down on cancel")
	}
	stop()
	stop()
}

func TestMDNSDefaultInstance(t *testing.T) {
	if name := mdnsInstance(&appConfig{}); !strings.HasPrefix(name, "mcp2515-gw-") {
		t.Fatalf("instance %q", name)
	}
}

func TestListenPort(t *testing.T) {
	cases := map[string]int{"[::]:20000": 20000, "127.0.0.1:1234": 1234, ":9": 9}
	for addr, want := range cases {
		if got, err := listenPort(addr); err != nil || got != want {
			t.Fatalf("listenPort(%q) = %d, %v", addr, got, err)
		}
	}
	if _, err := listenPort("nope"); err == nil {
		t.Fatalf("expected error")
	}
}
