package main

import (
	"time"

	"gopkg.in/ini.v1"
)

// config holds the static defaults a run can be launched with, overridable
// by CLI flags. Grounded on the teacher's use of gopkg.in/ini.v1 for EDS
// parsing (pkg/od/parser.go), repurposed here for driver configuration
// since object-dictionary parsing is out of this driver's scope.
type config struct {
	BusAdapter string
	Channel    string
	BoardID    uint8
	Debug      bool
	Timeout    time.Duration
	MaxRetries int
}

func defaultConfig() config {
	return config{
		BusAdapter: "socketcan",
		Channel:    "can0",
		BoardID:    0x01,
		Debug:      false,
		Timeout:    500 * time.Millisecond,
		MaxRetries: 2,
	}
}

// loadConfigFile reads an optional INI file and overlays it on cfg. Missing
// keys leave the existing value untouched, the same "overlay defaults"
// pattern the teacher's EDS parser applies per-section.
func loadConfigFile(path string, cfg config) (config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return cfg, err
	}
	section := file.Section("driver")

	if key := section.Key("bus_adapter"); key.String() != "" {
		cfg.BusAdapter = key.String()
	}
	if key := section.Key("channel"); key.String() != "" {
		cfg.Channel = key.String()
	}
	if key := section.Key("board_id"); key.String() != "" {
		if v, err := key.Int(); err == nil {
			cfg.BoardID = uint8(v)
		}
	}
	if key := section.Key("debug"); key.String() != "" {
		cfg.Debug = key.MustBool(cfg.Debug)
	}
	if key := section.Key("timeout_ms"); key.String() != "" {
		if v, err := key.Int(); err == nil {
			cfg.Timeout = time.Duration(v) * time.Millisecond
		}
	}
	if key := section.Key("max_retries"); key.String() != "" {
		if v, err := key.Int(); err == nil {
			cfg.MaxRetries = v
		}
	}
	return cfg, nil
}
