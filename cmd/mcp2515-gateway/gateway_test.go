package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/chipsim"
	"github.com/kstaniek/go-mcp2515/internal/hub"
	"github.com/kstaniek/go-mcp2515/internal/logging"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515/reg"
	"github.com/kstaniek/go-mcp2515/internal/socketcan"
	"github.com/kstaniek/go-mcp2515/internal/txqueue"
)

func simConfig(t *testing.T, args ...string) *appConfig {
	t.Helper()
	cfg, err := loadConfig(append([]string{"-link=sim", "-health-interval=0"}, args...), noEnv, nil)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	return cfg
}

// withSimLink makes openLink return lk.
func withSimLink(t *testing.T, lk *link) {
	t.Helper()
	prev := openLink
	openLink = func(*appConfig) (*link, error) { return lk, nil }
	t.Cleanup(func() { openLink = prev })
}

func subscribe(h *hub.Hub) *hub.Client {
	cl := hub.NewClient(16)
	h.Add(cl)
	return cl
}

func expectFrame(t *testing.T, cl *hub.Client, id uint32) can.Frame {
	t.Helper()
	select {
	case fr := <-cl.Out:
		if fr.ID() != id {
			t.Fatalf("got id 0x%X, want 0x%X", fr.ID(), id)
		}
		return fr
	case <-time.After(2 * time.Second):
		t.Fatalf("frame 0x%X not delivered", id)
	}
	return can.Frame{}
}

func TestGatewayLoopbackPolled(t *testing.T) {
	cfg := simConfig(t, "-mode=loopback", "-int-pin=-1")
	lk := newSimLink(false)
	withSimLink(t, lk)
	h := hub.New()
	cl := subscribe(h)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	gw, err := startGateway(ctx, cfg, h, logging.Discard(), &wg)
	if err != nil {
		t.Fatalf("startGateway: %v", err)
	}
	if gw.rx != "poll" {
		t.Fatalf("rx method %q", gw.rx)
	}
	if lk.sim.Mode() != reg.ModeLoopback {
		t.Fatalf("chip mode 0x%02X", lk.sim.Mode())
	}
	if err := gw.Send(can.NewStandard(0x321, []byte{0xDE, 0xAD})); err != nil {
		t.Fatalf("send: %v", err)
	}
	fr := expectFrame(t, cl, 0x321)
	if fr.Len != 2 || fr.Data[0] != 0xDE || fr.Data[1] != 0xAD {
		t.Fatalf("payload %v", fr.Payload())
	}
	if sent := lk.sim.Sent(); len(sent) != 1 || sent[0].ID() != 0x321 {
		t.Fatalf("sim sent %v", sent)
	}

	cancel()
	wg.Wait()
	gw.Close()
	if lk.sim.Mode() != reg.ModeConfig {
		t.Fatalf("controller not parked: 0x%02X", lk.sim.Mode())
	}
	if err := gw.Send(can.NewStandard(1, nil)); !errors.Is(err, txqueue.ErrClosed) {
		t.Fatalf("send after close: %v", err)
	}
}

func TestGatewayInterruptDelivery(t *testing.T) {
	cfg := simConfig(t)
	lk := newSimLink(true)
	withSimLink(t, lk)
	h := hub.New()
	cl := subscribe(h)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	gw, err := startGateway(ctx, cfg, h, logging.Discard(), &wg)
	if err != nil {
		t.Fatalf("startGateway: %v", err)
	}
	defer func() { cancel(); wg.Wait(); gw.Close() }()
	if gw.rx != "interrupt" {
		t.Fatalf("rx method %q", gw.rx)
	}
	if _, err := lk.sim.Inject(can.NewExtended(0x1ABCDE, []byte{7})); err != nil {
		t.Fatalf("inject: %v", err)
	}
	expectFrame(t, cl, 0x1ABCDE)
}

func TestGatewayLoopbackInterrupt(t *testing.T) {
	cfg := simConfig(t, "-mode=loopback")
	lk := newSimLink(true)
	withSimLink(t, lk)
	h := hub.New()
	cl := subscribe(h)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	gw, err := startGateway(ctx, cfg, h, logging.Discard(), &wg)
	if err != nil {
		t.Fatalf("startGateway: %v", err)
	}
	defer func() { cancel(); wg.Wait(); gw.Close() }()
	if gw.rx != "interrupt" {
		t.Fatalf("rx method %q", gw.rx)
	}
	for _, id := range []uint32{0x321, 0x322, 0x323} {
		if err := gw.Send(can.NewStandard(uint16(id), []byte{byte(id)})); err != nil {
			t.Fatalf("send: %v", err)
		}
		expectFrame(t, cl, id)
	}
	if eflg := lk.sim.Peek(reg.EFLG); eflg&(reg.EflgRX0OVR|reg.EflgRX1OVR) != 0 {
		t.Fatalf("receive overflow: EFLG 0x%02X", eflg)
	}
}

func TestGatewayAcceptanceFromConfig(t *testing.T) {
	path := writeINI(t, "[masks]\nrxm0 = 0x7FF\nrxm1 = 0x7FF\n[filters]\nrxf0 = 0x100\nrxf2 = 0x100\n")
	cfg := simConfig(t, "-config", path, "-int-pin=-1")
	lk := newSimLink(false)
	withSimLink(t, lk)
	h := hub.New()
	cl := subscribe(h)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	gw, err := startGateway(ctx, cfg, h, logging.Discard(), &wg)
	if err != nil {
		t.Fatalf("startGateway: %v", err)
	}
	defer func() { cancel(); wg.Wait(); gw.Close() }()

	if _, err := lk.sim.Inject(can.NewStandard(0x200, nil)); !errors.Is(err, chipsim.ErrRejected) {
		t.Fatalf("0x200 should be filtered, got %v", err)
	}
	if _, err := lk.sim.Inject(can.NewStandard(0x100, nil)); err != nil {
		t.Fatalf("inject: %v", err)
	}
	expectFrame(t, cl, 0x100)
}

type fakeMirrorDev struct {
	mu      sync.Mutex
	written []can.Frame
	closed  bool
}

func (f *fakeMirrorDev) ReadFrame(*can.Frame) error {
	time.Sleep(time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	return socketcan.ErrTimeout
}

func (f *fakeMirrorDev) WriteFrame(fr can.Frame) error {
	f.mu.Lock()
	f.written = append(f.written, fr)
	f.mu.Unlock()
	return nil
}

func (f *fakeMirrorDev) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeMirrorDev) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func TestGatewayMirrorsReceivedFrames(t *testing.T) {
	cfg := simConfig(t, "-mode=loopback", "-int-pin=-1", "-mirror-if=vcan0")
	lk := newSimLink(false)
	withSimLink(t, lk)
	md := &fakeMirrorDev{}
	prev := openMirror
	openMirror = func(string) (socketcan.Dev, error) { return md, nil }
	t.Cleanup(func() { openMirror = prev })

	h := hub.New()
	cl := subscribe(h)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	gw, err := startGateway(ctx, cfg, h, logging.Discard(), &wg)
	if err != nil {
		t.Fatalf("startGateway: %v", err)
	}
	defer func() { cancel(); wg.Wait(); gw.Close() }()

	if err := gw.Send(can.NewStandard(0x42, nil)); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectFrame(t, cl, 0x42)
	deadline := time.Now().Add(2 * time.Second)
	for md.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if md.count() != 1 {
		t.Fatalf("mirror wrote %d frames", md.count())
	}
}

func TestGatewayInitFailureClosesLink(t *testing.T) {
	cfg := simConfig(t, "-int-pin=-1")
	lk := newSimLink(false)
	closed := false
	lk.close = func() error { closed = true; return nil }
	withSimLink(t, lk)
	prev := openMirror
	openMirror = func(string) (socketcan.Dev, error) { return nil, errors.New("no such device") }
	t.Cleanup(func() { openMirror = prev })
	cfg.mirrorIf = "can9"

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := startGateway(ctx, cfg, hub.New(), logging.Discard(), &wg); err == nil {
		t.Fatalf("expected mirror error")
	}
	cancel()
	wg.Wait()
	if !closed {
		t.Fatalf("link not closed")
	}
}

func TestLinkDeviceOptions(t *testing.T) {
	cfg := simConfig(t, "-strict-tx", "-spi-hz=4000000")
	lk := newSimLink(false)
	dev, err := lk.device(cfg)
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	if err := dev.Init(cfg.speed); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := lk.sim.LastSettings().SpeedHz; got != 4_000_000 {
		t.Fatalf("spi speed %d", got)
	}
	if m, err := dev.Mode(); err != nil || m != mcp2515.ModeNormal {
		t.Fatalf("mode %s, %v", m, err)
	}
}
