package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_mcp2515-gw._tcp"

// mdnsRegister is a test hook.
var mdnsRegister = func(instance, service string, port int, txt []string) (func(), error) {
	svc, err := zeroconf.Register(instance, service, "local.", port, txt, nil)
	if err != nil {
		return nil, err
	}
	return svc.Shutdown, nil
}

func mdnsInstance(cfg *appConfig) string {
	if cfg.mdnsName != "" {
		return cfg.mdnsName
	}
	host, _ := os.Hostname()
	return "mcp2515-gw-" + host
}

func mdnsTXT(cfg *appConfig) []string {
	return []string{
		"link=" + cfg.link,
		"bitrate=" + cfg.speed.String(),
		"mode=" + cfg.opMode.String(),
		"version=" + version,
		"commit=" + commit,
	}
}

// listenPort extracts the port of a bound "host:port" address.
func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

// startMDNS advertises the gateway until ctx is done. The returned cleanup
// may be called earlier.
func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	shutdown, err := mdnsRegister(mdnsInstance(cfg), mdnsServiceType, port, mdnsTXT(cfg))
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
		case <-done:
		}
		shutdown()
	}()
	var once bool
	return func() {
		if once {
			return
		}
		once = true
		close(done)
		select {
		case <-stopped:
		case <-time.After(time.Second):
		}
	}, nil
}
