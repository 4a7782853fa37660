package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/kstaniek/go-mcp2515/internal/mcp2515"
)

// acceptance is one mask or filter line of the config file:
//
//	rxf0 = 0x123           standard identifier
//	rxf1 = 0x123:0xAA:0x55 standard identifier plus first two data bytes
//	rxf2 = ext:0x1ABCDEF0  extended identifier
type acceptance struct {
	index    int
	extended bool
	id       uint32
	d0, d1   byte
}

// fileKeys maps [link] and [can] keys to the flags they set.
var fileKeys = map[string]map[string]string{
	"link": {
		"type":    "link",
		"spi":     "spi",
		"spi_hz":  "spi-hz",
		"cs_pin":  "cs-pin",
		"hw_cs":   "hw-cs",
		"int_pin": "int-pin",
		"serial":  "serial",
		"baud":    "baud",
	},
	"can": {
		"bitrate":         "bitrate",
		"mode":            "mode",
		"strict_tx":       "strict-tx",
		"tx_queue":        "tx-queue",
		"poll_interval":   "poll-interval",
		"health_interval": "health-interval",
	},
}

// applyConfigFile loads path. Keys whose flag was given explicitly are
// skipped; unknown keys are errors so typos do not pass silently.
func applyConfigFile(cfg *appConfig, fs *flag.FlagSet, set map[string]bool, path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	for section, keys := range fileKeys {
		for _, k := range f.Section(section).Keys() {
			name, ok := keys[k.Name()]
			if !ok {
				return fmt.Errorf("config file: unknown key [%s] %s", section, k.Name())
			}
			if set[name] {
				continue
			}
			if err := fs.Set(name, k.String()); err != nil {
				return fmt.Errorf("config file: [%s] %s: %w", section, k.Name(), err)
			}
		}
	}
	if cfg.filters, err = parseAcceptanceSection(f.Section("filters"), "rxf", 6); err != nil {
		return err
	}
	if cfg.masks, err = parseAcceptanceSection(f.Section("masks"), "rxm", 2); err != nil {
		return err
	}
	cfg.rxModes = map[mcp2515.RxBuffer]mcp2515.RxMode{}
	for _, b := range []mcp2515.RxBuffer{mcp2515.RxB0, mcp2515.RxB1} {
		key := fmt.Sprintf("rxb%d_mode", int(b))
		if !f.Section("filters").HasKey(key) {
			continue
		}
		switch v := f.Section("filters").Key(key).String(); v {
		case "filtered":
			cfg.rxModes[b] = mcp2515.RxFiltered
		case "any":
			cfg.rxModes[b] = mcp2515.RxAny
		default:
			return fmt.Errorf("config file: [filters] %s: want filtered|any, got %q", key, v)
		}
	}
	return nil
}

func parseAcceptanceSection(sec *ini.Section, prefix string, count int) ([]acceptance, error) {
	var out []acceptance
	for _, k := range sec.Keys() {
		name := k.Name()
		if strings.HasSuffix(name, "_mode") {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
		if !strings.HasPrefix(name, prefix) || err != nil || idx < 0 || idx >= count {
			return nil, fmt.Errorf("config file: [%s] unknown key %s", sec.Name(), name)
		}
		a, err := parseAcceptance(k.String())
		if err != nil {
			return nil, fmt.Errorf("config file: [%s] %s: %w", sec.Name(), name, err)
		}
		a.index = idx
		out = append(out, a)
	}
	return out, nil
}

func parseAcceptance(v string) (acceptance, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if rest, ok := strings.CutPrefix(v, "ext:"); ok {
		id, err := strconv.ParseUint(rest, 0, 32)
		if err != nil || id > 0x1FFFFFFF {
			return acceptance{}, fmt.Errorf("bad extended identifier %q", rest)
		}
		return acceptance{extended: true, id: uint32(id)}, nil
	}
	parts := strings.Split(v, ":")
	if len(parts) != 1 && len(parts) != 3 {
		return acceptance{}, fmt.Errorf("want id or id:d0:d1, got %q", v)
	}
	id, err := strconv.ParseUint(parts[0], 0, 16)
	if err != nil || id > 0x7FF {
		return acceptance{}, fmt.Errorf("bad standard identifier %q", parts[0])
	}
	a := acceptance{id: uint32(id)}
	if len(parts) == 3 {
		d0, err0 := strconv.ParseUint(parts[1], 0, 8)
		d1, err1 := strconv.ParseUint(parts[2], 0, 8)
		if err0 != nil || err1 != nil {
			return acceptance{}, fmt.Errorf("bad data bytes in %q", v)
		}
		a.d0, a.d1 = byte(d0), byte(d1)
	}
	return a, nil
}

// applyAcceptance programs masks before filters, then the receive modes.
func applyAcceptance(dev *mcp2515.Device, cfg *appConfig) error {
	for _, m := range cfg.masks {
		var err error
		if m.extended {
			err = dev.SetExtMask(m.index, m.id)
		} else {
			err = dev.SetMask(m.index, uint16(m.id), m.d0, m.d1)
		}
		if err != nil {
			return fmt.Errorf("mask %d: %w", m.index, err)
		}
	}
	for _, f := range cfg.filters {
		var err error
		if f.extended {
			err = dev.SetExtFilter(f.index, f.id)
		} else {
			err = dev.SetFilter(f.index, uint16(f.id), f.d0, f.d1)
		}
		if err != nil {
			return fmt.Errorf("filter %d: %w", f.index, err)
		}
	}
	for b, m := range cfg.rxModes {
		if err := dev.SetRxMode(b, m); err != nil {
			return fmt.Errorf("%s mode: %w", b, err)
		}
	}
	return nil
}
