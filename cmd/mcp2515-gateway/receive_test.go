package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/logging"
	"github.com/kstaniek/go-mcp2515/internal/mcp2515"
)

// fakeReceiver hands out frames, then reports err on every call.
type fakeReceiver struct {
	mu        sync.Mutex
	frames    []can.Frame
	err       error
	attachErr error
	attached  mcp2515.ReceiveFunc
}

func (f *fakeReceiver) AttachReceiveCallback(_ int, fn mcp2515.ReceiveFunc) error {
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached = fn
	return nil
}

func (f *fakeReceiver) Receive() (can.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) > 0 {
		fr := f.frames[0]
		f.frames = f.frames[1:]
		return fr, nil
	}
	return can.Frame{}, f.err
}

func captureSleeps(t *testing.T, n int, done func()) func() []time.Duration {
	t.Helper()
	var mu sync.Mutex
	var seen []time.Duration
	sleepFn = func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) < n {
			seen = append(seen, d)
			if len(seen) == n {
				done()
			}
		}
	}
	t.Cleanup(func() { sleepFn = time.Sleep })
	return func() []time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Duration(nil), seen...)
	}
}

func TestPollBackoffProgression(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seen := captureSleeps(t, 7, cancel)
	dev := &fakeReceiver{err: mcp2515.ErrTransport}
	pollLoop(ctx, dev, time.Millisecond, func(can.Frame) {}, logging.Discard())

	want := []time.Duration{20, 40, 80, 160, 320, 500, 500}
	got := seen()
	if len(got) != len(want) {
		t.Fatalf("sleeps %v", got)
	}
	for i := range want {
		if got[i] != want[i]*time.Millisecond {
			t.Fatalf("sleep %d = %s, want %dms", i, got[i], want[i])
		}
	}
}

func TestPollDeliversThenIdles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seen := captureSleeps(t, 2, cancel)
	dev := &fakeReceiver{err: mcp2515.ErrNoMessage}
	for i := 0; i < rxBurst+3; i++ {
		dev.frames = append(dev.frames, can.NewStandard(uint16(i), nil))
	}
	var got []can.Frame
	pollLoop(ctx, dev, 3*time.Millisecond, func(fr can.Frame) { got = append(got, fr) }, logging.Discard())

	if len(got) != rxBurst+3 {
		t.Fatalf("delivered %d frames", len(got))
	}
	for i, fr := range got {
		if fr.ID() != uint32(i) {
			t.Fatalf("frame %d has id %d", i, fr.ID())
		}
	}
	for _, d := range seen() {
		if d != 3*time.Millisecond {
			t.Fatalf("idle sleep %s, want poll interval", d)
		}
	}
}

func TestStartReceiverInterrupt(t *testing.T) {
	dev := &fakeReceiver{}
	var wg sync.WaitGroup
	var got []can.Frame
	how, err := startReceiver(context.Background(), dev, 25, time.Millisecond, func(fr can.Frame) { got = append(got, fr) }, logging.Discard(), &wg)
	if err != nil || how != "interrupt" {
		t.Fatalf("startReceiver = %q, %v", how, err)
	}
	fr := can.NewStandard(0x55, []byte{1})
	dev.attached(&fr)
	if len(got) != 1 || got[0].ID() != 0x55 {
		t.Fatalf("callback not wired: %v", got)
	}
}

func TestStartReceiverFallsBackToPolling(t *testing.T) {
	for _, attachErr := range []error{mcp2515.ErrNoInterruptSlots, mcp2515.ErrInvalidInterrupt} {
		ctx, cancel := context.WithCancel(context.Background())
		captureSleeps(t, 1, cancel)
		dev := &fakeReceiver{attachErr: attachErr, err: mcp2515.ErrNoMessage}
		var wg sync.WaitGroup
		how, err := startReceiver(ctx, dev, 25, time.Millisecond, func(can.Frame) {}, logging.Discard(), &wg)
		if err != nil || how != "poll" {
			t.Fatalf("%v: startReceiver = %q, %v", attachErr, how, err)
		}
		wg.Wait()
		cancel()
	}
}

func TestStartReceiverWithoutPinPolls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	captureSleeps(t, 1, cancel)
	dev := &fakeReceiver{err: mcp2515.ErrNoMessage}
	var wg sync.WaitGroup
	how, err := startReceiver(ctx, dev, -1, time.Millisecond, func(can.Frame) {}, logging.Discard(), &wg)
	if err != nil || how != "poll" || dev.attached != nil {
		t.Fatalf("startReceiver = %q, %v", how, err)
	}
	wg.Wait()
}

func TestStartReceiverAttachError(t *testing.T) {
	boom := errors.New("spi gone")
	dev := &fakeReceiver{attachErr: boom}
	var wg sync.WaitGroup
	if _, err := startReceiver(context.Background(), dev, 25, time.Millisecond, func(can.Frame) {}, logging.Discard(), &wg); !errors.Is(err, boom) {
		t.Fatalf("expected attach error, got %v", err)
	}
}
