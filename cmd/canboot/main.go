// Command canboot drives the bootloader protocol engine (pkg/boot) against
// a real or virtual CAN bus: scan for boards, program a firmware image, or
// verify one already flashed.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/canboot/hostdriver/pkg/boot"
	"github.com/canboot/hostdriver/pkg/can"
	_ "github.com/canboot/hostdriver/pkg/can/socketcan"
	_ "github.com/canboot/hostdriver/pkg/can/virtual"
)

func main() {
	cfg := defaultConfig()

	configPath := flag.String("config", "", "optional INI config file (see [driver] section)")
	busAdapter := flag.String("adapter", "", "bus adapter: socketcan or virtual (overrides config)")
	channel := flag.String("channel", "", "adapter channel, e.g. can0 or localhost:18000 (overrides config)")
	boardID := flag.Int("board", -1, "target board id, 1-254 (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	command := flag.String("cmd", "scan", "scan | program | verify")
	imagePath := flag.String("image", "", "path to a raw firmware image (program/verify)")
	flag.Parse()

	if *configPath != "" {
		loaded, err := loadConfigFile(*configPath, cfg)
		if err != nil {
			log.Fatalf("failed to load config %q: %v", *configPath, err)
		}
		cfg = loaded
	}
	if *busAdapter != "" {
		cfg.BusAdapter = *busAdapter
	}
	if *channel != "" {
		cfg.Channel = *channel
	}
	if *boardID >= 0 {
		cfg.BoardID = uint8(*boardID)
	}
	if *debug {
		cfg.Debug = true
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.WithFields(log.Fields{
		"adapter": cfg.BusAdapter, "channel": cfg.Channel,
		"board": cfg.BoardID, "timeout": cfg.Timeout, "max_retries": cfg.MaxRetries,
	}).Info("starting canboot")

	bus, err := can.NewBus(cfg.BusAdapter, cfg.Channel)
	if err != nil {
		log.Fatalf("could not construct %q bus adapter: %v", cfg.BusAdapter, err)
	}

	session := boot.New(bus, cfg.BoardID, cfg.Debug)
	session.SetDefaults(cfg.Timeout, cfg.MaxRetries)
	// Connect before Subscribe: the virtual adapter's receive loop gives up
	// permanently if started against a not-yet-dialed connection, matching
	// the teacher's pkg/network.Network.Connect ordering.
	if err := bus.Connect(); err != nil {
		log.Fatalf("could not connect to %s/%s: %v", cfg.BusAdapter, cfg.Channel, err)
	}
	defer bus.Disconnect()
	if err := bus.Subscribe(session); err != nil {
		log.Fatalf("could not subscribe to bus: %v", err)
	}

	switch *command {
	case "scan":
		runScan(session)
	case "program":
		runProgram(session, *imagePath)
	case "verify":
		runVerify(session, *imagePath)
	default:
		log.Fatalf("unknown -cmd %q: expected scan, program, or verify", *command)
	}
}

func runScan(session *boot.Session) {
	log.Info("scanning for boards, press enter when hardware is ready")
	ready := make(chan struct{})
	go func() {
		fmt.Scanln()
		close(ready)
	}()

	found := session.Scan(ready, func(id uint8, ok bool) {
		if ok {
			log.Infof("board %d: found", id)
		}
	})
	log.Infof("scan complete: %d board(s) found: %v", len(found), found)
}

func runProgram(session *boot.Session, imagePath string) {
	segments := loadImage(imagePath)

	if err := session.Identify(); err != nil {
		log.Fatalf("identify failed: %v", err)
	}
	log.Infof("identified %s", session.Board())

	if err := session.Program(segments); err != nil {
		log.Fatalf("program failed: %v", err)
	}
	log.Info("program complete")
}

func runVerify(session *boot.Session, imagePath string) {
	segments := loadImage(imagePath)

	if err := session.Identify(); err != nil {
		log.Fatalf("identify failed: %v", err)
	}
	log.Infof("identified %s", session.Board())

	if err := session.Verify(segments); err != nil {
		log.Fatalf("verify failed: %v", err)
	}
	log.Info("verify complete")
}

// loadImage reads a raw firmware image as a single contiguous segment.
// Richer formats (Intel HEX, multi-segment S-records) are out of scope;
// decoding one is the caller's job before invoking Program/Verify directly.
func loadImage(path string) [][]byte {
	if path == "" {
		log.Fatal("-image is required for program/verify")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("could not read image %q: %v", path, err)
	}
	log.Debugf("loaded image %q: %s", path, hex.EncodeToString(raw[:min(len(raw), 16)]))
	return [][]byte{raw}
}
