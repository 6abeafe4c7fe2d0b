// Command agroflow-sensor runs one soil-humidity sensor node. Without
// stored credentials it brings up the provisioning portal; once
// configured it joins the network and publishes telemetry over MQTT.
//
// Every fatal condition exits the process and relies on the service
// supervisor (systemd Restart=always) to relaunch it.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"agroflow/internal/button"
	"agroflow/internal/clock"
	"agroflow/internal/config"
	"agroflow/internal/identity"
	"agroflow/internal/mqtt"
	"agroflow/internal/node"
	"agroflow/internal/portal"
	"agroflow/internal/sensor"
	"agroflow/internal/store"
	"agroflow/internal/wifi"
)

type programArgs struct {
	Config string `short:"c" long:"config" default:"agroflow.env" description:"Path to the configuration file"`
}

func main() {
	var args programArgs
	if _, err := flags.Parse(&args); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "[Main] ", log.LstdFlags)
	logger.Println("Starting AgroFlow sensor node")

	cfg, err := config.Load(args.Config)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Printf("Configuration: %s", cfg)

	st, err := store.NewBoltStore(cfg.StateDB())
	if err != nil {
		logger.Fatalf("Failed to open credential store: %v", err)
	}
	defer st.Close()

	wifiMgr := wifi.New(cfg.WifiIface(), log.New(os.Stdout, "", log.LstdFlags))

	hw, err := wifiMgr.HardwareAddr()
	if err != nil {
		logger.Fatalf("Failed to read hardware address: %v", err)
	}
	id, err := identity.FromMAC(hw)
	if err != nil {
		logger.Fatalf("Failed to derive device identity: %v", err)
	}
	logger.Printf("Device identity: %s", id)

	restart := func() {
		logger.Println("Restarting device")
		os.Exit(0)
	}

	pins, err := button.Setup(cfg.ResetPin(), cfg.ConfirmPin())
	if err != nil {
		logger.Fatalf("Failed to set up reset pins: %v", err)
	}

	if pins.ResetRequested() {
		logger.Println("Physical reset detected at boot")
		clearAndRestart(st, restart, logger)
	}

	scale, err := sensor.NewScale(cfg.DryValue(), cfg.WetValue())
	if err != nil {
		logger.Fatalf("Invalid sensor calibration: %v", err)
	}

	switch mode := node.SelectMode(st); mode {
	case node.ModeProvisioning:
		logger.Println("No stored credentials, entering provisioning mode")
		runProvisioning(cfg, st, wifiMgr, hw, scale, restart, logger)
	case node.ModeOperating:
		logger.Println("Credentials found, entering operating mode")
		runOperating(cfg, st, wifiMgr, id, scale, pins, restart, logger)
	default:
		logger.Fatalf("Unknown mode: %v", mode)
	}
}

// clearAndRestart is the universal reset path: wipe the credential
// store, pause, restart.
func clearAndRestart(st store.Store, restart func(), logger *log.Logger) {
	logger.Println("Clearing all configuration and restarting")
	if err := st.Clear(); err != nil {
		logger.Printf("Failed to clear credentials: %v", err)
	}
	time.Sleep(1 * time.Second)
	restart()
}

// runProvisioning brings up the open access point and blocks in the
// captive portal until a restart.
func runProvisioning(cfg *config.Config, st store.Store, wifiMgr *wifi.Manager,
	hw net.HardwareAddr, scale sensor.Scale, restart func(), logger *log.Logger) {

	apName, err := identity.APName(cfg.APPrefix(), hw)
	if err != nil {
		logger.Fatalf("Failed to derive access point name: %v", err)
	}

	if err := wifiMgr.StartAccessPoint(apName); err != nil {
		logger.Fatalf("Failed to start access point: %v", err)
	}

	apAddr := waitForAPAddr(wifiMgr, logger)
	logger.Printf("Access point %q up, portal at http://%s", apName, apAddr)

	// The probe is optional here: the portal degrades to configuration
	// only when the calibration stream can't read it.
	var reader sensor.Reader
	if ads, err := sensor.NewADSReader(cfg.I2CBus(), cfg.ADCChannel()); err != nil {
		logger.Printf("Probe unavailable, calibration stream disabled: %v", err)
	} else {
		reader = ads
		defer ads.Close()
	}

	p := portal.New(portal.Options{
		Store:    st,
		Scanner:  wifiMgr,
		Reader:   reader,
		Scale:    scale,
		HTTPAddr: cfg.HTTPAddr(),
		DNSAddr:  cfg.DNSAddr(),
		APAddr:   apAddr,
		Restart:  restart,
		Logger:   log.New(os.Stdout, "", log.LstdFlags),
	})

	if err := p.Run(context.Background()); err != nil {
		logger.Fatalf("Portal stopped: %v", err)
	}
}

// waitForAPAddr polls for the shared-subnet address NetworkManager
// assigns to the access point interface.
func waitForAPAddr(wifiMgr *wifi.Manager, logger *log.Logger) string {
	for i := 0; i < 20; i++ {
		if ip, err := wifiMgr.IPv4Addr(); err == nil {
			return ip.String()
		}
		time.Sleep(500 * time.Millisecond)
	}
	logger.Fatalf("Access point interface never received an address")
	return ""
}

// runOperating joins the configured network and runs the telemetry loop
// forever.
func runOperating(cfg *config.Config, st store.Store, wifiMgr *wifi.Manager,
	id identity.ID, scale sensor.Scale, pins *button.Pins, restart func(), logger *log.Logger) {

	reader, err := sensor.NewADSReader(cfg.I2CBus(), cfg.ADCChannel())
	if err != nil {
		logger.Fatalf("Failed to open humidity probe: %v", err)
	}
	defer reader.Close()

	mqttLogger := log.New(os.Stdout, "", log.LstdFlags)
	client, err := mqtt.New(mqtt.Config{
		Host:     cfg.MQTTHost(),
		Port:     cfg.MQTTPort(),
		ClientID: id.String(),
	}, mqttLogger)
	if err != nil {
		logger.Fatalf("Failed to create MQTT client: %v", err)
	}
	defer client.Disconnect()

	clk := clock.New(cfg.NTPServer(), cfg.UTCOffset(), log.New(os.Stdout, "", log.LstdFlags))

	n := node.New(node.Options{
		Identity:  id,
		Store:     st,
		Link:      wifiMgr,
		Broker:    client,
		Telemetry: mqtt.NewPublisher(client, cfg.PublishTopic(), mqttLogger),
		Clock:     clk,
		Syncer:    clk,
		Reader:    reader,
		Scale:     scale,
		Button:    pins,
		Interval:  cfg.PublishInterval(),
		Restart:   restart,
		Logger:    log.New(os.Stdout, "", log.LstdFlags),
	})

	n.Run()
}
