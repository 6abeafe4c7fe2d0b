// Package config loads and persists the node configuration from an .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// Environment variable names
const (
	EnvMQTTHost        = "AGROFLOW_MQTT_HOST"
	EnvMQTTPort        = "AGROFLOW_MQTT_PORT"
	EnvPublishTopic    = "AGROFLOW_PUBLISH_TOPIC"
	EnvPublishInterval = "AGROFLOW_PUBLISH_INTERVAL_MS"
	EnvNTPServer       = "AGROFLOW_NTP_SERVER"
	EnvUTCOffset       = "AGROFLOW_UTC_OFFSET_HOURS"
	EnvWifiIface       = "AGROFLOW_WIFI_IFACE"
	EnvAPPrefix        = "AGROFLOW_AP_PREFIX"
	EnvDryValue        = "AGROFLOW_DRY_VALUE"
	EnvWetValue        = "AGROFLOW_WET_VALUE"
	EnvI2CBus          = "AGROFLOW_I2C_BUS"
	EnvADCChannel      = "AGROFLOW_ADC_CHANNEL"
	EnvResetPin        = "AGROFLOW_RESET_PIN"
	EnvConfirmPin      = "AGROFLOW_CONFIRM_PIN"
	EnvHTTPAddr        = "AGROFLOW_HTTP_ADDR"
	EnvDNSAddr         = "AGROFLOW_DNS_ADDR"
	EnvStateDB         = "AGROFLOW_STATE_DB"
)

// Default values
const (
	DefaultMQTTHost        = "test.mosquitto.org"
	DefaultMQTTPort        = 1883
	DefaultPublishTopic    = "sensors/humidity"
	DefaultPublishInterval = 5000 * time.Millisecond
	DefaultNTPServer       = "pool.ntp.org"
	DefaultUTCOffset       = -3 // hours
	DefaultWifiIface       = "wlan0"
	DefaultAPPrefix        = "AgroFlowSensor"
	DefaultDryValue        = 2850 // raw reading, probe in open air
	DefaultWetValue        = 1350 // raw reading, probe in water
	DefaultI2CBus          = ""   // auto-detect
	DefaultADCChannel      = 0
	DefaultResetPin        = "GPIO22"
	DefaultConfirmPin      = "GPIO23"
	DefaultHTTPAddr        = ":80"
	DefaultDNSAddr         = ":53"
	DefaultStateDB         = "agroflow.db"
)

// Config holds all node configuration.
// All access should be through getter methods for thread safety.
type Config struct {
	mu       sync.RWMutex
	filePath string
	dirty    bool // tracks if config was modified

	// MQTT settings
	mqttHost        string
	mqttPort        int
	publishTopic    string
	publishInterval time.Duration

	// Time settings
	ntpServer string
	utcOffset int

	// Wireless settings
	wifiIface string
	apPrefix  string

	// Sensor calibration and wiring
	dryValue   int
	wetValue   int
	i2cBus     string
	adcChannel int

	// GPIO pins
	resetPin   string
	confirmPin string

	// Provisioning portal listeners
	httpAddr string
	dnsAddr  string

	// Persisted state
	stateDB string
}

// Load loads configuration from the .env file or creates it with defaults.
// This is the main entry point for configuration initialization.
func Load(filePath string) (*Config, error) {
	cfg := &Config{
		filePath: filePath,
	}

	cfg.setDefaults()

	// Try to load existing file
	if err := cfg.loadFromFile(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		// File doesn't exist - will be created with defaults
		cfg.dirty = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Save if config was modified (new file)
	if cfg.dirty {
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
	}

	return cfg, nil
}

// setDefaults initializes all fields with default values.
func (c *Config) setDefaults() {
	c.mqttHost = DefaultMQTTHost
	c.mqttPort = DefaultMQTTPort
	c.publishTopic = DefaultPublishTopic
	c.publishInterval = DefaultPublishInterval
	c.ntpServer = DefaultNTPServer
	c.utcOffset = DefaultUTCOffset
	c.wifiIface = DefaultWifiIface
	c.apPrefix = DefaultAPPrefix
	c.dryValue = DefaultDryValue
	c.wetValue = DefaultWetValue
	c.i2cBus = DefaultI2CBus
	c.adcChannel = DefaultADCChannel
	c.resetPin = DefaultResetPin
	c.confirmPin = DefaultConfirmPin
	c.httpAddr = DefaultHTTPAddr
	c.dnsAddr = DefaultDNSAddr
	c.stateDB = DefaultStateDB
}

// loadFromFile reads configuration from the .env file.
func (c *Config) loadFromFile() error {
	file, err := os.Open(c.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	values, err := ParseEnvFile(file)
	if err != nil {
		return err
	}

	c.applyValues(values)
	return nil
}

// applyValues applies parsed key-value pairs to config.
func (c *Config) applyValues(values map[string]string) {
	if v, ok := values[EnvMQTTHost]; ok && v != "" {
		c.mqttHost = v
	}
	if v, ok := values[EnvMQTTPort]; ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.mqttPort = port
		}
	}
	if v, ok := values[EnvPublishTopic]; ok && v != "" {
		c.publishTopic = v
	}
	if v, ok := values[EnvPublishInterval]; ok && v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.publishInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok := values[EnvNTPServer]; ok && v != "" {
		c.ntpServer = v
	}
	if v, ok := values[EnvUTCOffset]; ok && v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			c.utcOffset = hours
		}
	}
	if v, ok := values[EnvWifiIface]; ok && v != "" {
		c.wifiIface = v
	}
	if v, ok := values[EnvAPPrefix]; ok && v != "" {
		c.apPrefix = v
	}
	if v, ok := values[EnvDryValue]; ok && v != "" {
		if raw, err := strconv.Atoi(v); err == nil {
			c.dryValue = raw
		}
	}
	if v, ok := values[EnvWetValue]; ok && v != "" {
		if raw, err := strconv.Atoi(v); err == nil {
			c.wetValue = raw
		}
	}
	if v, ok := values[EnvI2CBus]; ok {
		c.i2cBus = v
	}
	if v, ok := values[EnvADCChannel]; ok && v != "" {
		if ch, err := strconv.Atoi(v); err == nil {
			c.adcChannel = ch
		}
	}
	if v, ok := values[EnvResetPin]; ok && v != "" {
		c.resetPin = v
	}
	if v, ok := values[EnvConfirmPin]; ok && v != "" {
		c.confirmPin = v
	}
	if v, ok := values[EnvHTTPAddr]; ok && v != "" {
		c.httpAddr = v
	}
	if v, ok := values[EnvDNSAddr]; ok && v != "" {
		c.dnsAddr = v
	}
	if v, ok := values[EnvStateDB]; ok && v != "" {
		c.stateDB = v
	}
}

// validate checks if configuration is valid.
func (c *Config) validate() error {
	if c.mqttHost == "" {
		return errors.New("MQTT host cannot be empty")
	}
	if c.mqttPort < 1 || c.mqttPort > 65535 {
		return fmt.Errorf("invalid MQTT port: %d", c.mqttPort)
	}
	if c.publishTopic == "" {
		return errors.New("publish topic cannot be empty")
	}
	if c.publishInterval < time.Second {
		return fmt.Errorf("publish interval too short: %v", c.publishInterval)
	}

	// The humidity mapping divides by dryValue-wetValue and relies on the
	// raw reading decreasing as moisture increases.
	if c.dryValue <= c.wetValue {
		return fmt.Errorf("dry calibration value (%d) must be greater than wet value (%d)",
			c.dryValue, c.wetValue)
	}

	if c.adcChannel < 0 || c.adcChannel > 3 {
		return fmt.Errorf("ADC channel must be 0-3, got %d", c.adcChannel)
	}
	if c.wifiIface == "" {
		return errors.New("wireless interface name cannot be empty")
	}
	if c.apPrefix == "" {
		return errors.New("access point name prefix cannot be empty")
	}
	if c.stateDB == "" {
		return errors.New("state database path cannot be empty")
	}

	return nil
}

// Save writes current configuration to the .env file.
func (c *Config) Save() error {
	c.mu.RLock()
	values := c.toMap()
	filePath := c.filePath
	c.mu.RUnlock()

	if err := WriteEnvFile(filePath, values); err != nil {
		return err
	}

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()

	return nil
}

// toMap converts config to key-value map for saving.
func (c *Config) toMap() map[string]string {
	return map[string]string{
		EnvMQTTHost:        c.mqttHost,
		EnvMQTTPort:        strconv.Itoa(c.mqttPort),
		EnvPublishTopic:    c.publishTopic,
		EnvPublishInterval: strconv.Itoa(int(c.publishInterval.Milliseconds())),
		EnvNTPServer:       c.ntpServer,
		EnvUTCOffset:       strconv.Itoa(c.utcOffset),
		EnvWifiIface:       c.wifiIface,
		EnvAPPrefix:        c.apPrefix,
		EnvDryValue:        strconv.Itoa(c.dryValue),
		EnvWetValue:        strconv.Itoa(c.wetValue),
		EnvI2CBus:          c.i2cBus,
		EnvADCChannel:      strconv.Itoa(c.adcChannel),
		EnvResetPin:        c.resetPin,
		EnvConfirmPin:      c.confirmPin,
		EnvHTTPAddr:        c.httpAddr,
		EnvDNSAddr:         c.dnsAddr,
		EnvStateDB:         c.stateDB,
	}
}

// Getters (thread-safe)

// MQTTHost returns the MQTT broker host.
func (c *Config) MQTTHost() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttHost
}

// MQTTPort returns the MQTT broker port.
func (c *Config) MQTTPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttPort
}

// PublishTopic returns the telemetry topic.
func (c *Config) PublishTopic() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.publishTopic
}

// PublishInterval returns the minimum time between telemetry publishes.
func (c *Config) PublishInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.publishInterval
}

// NTPServer returns the time server address.
func (c *Config) NTPServer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ntpServer
}

// UTCOffset returns the local timezone offset.
func (c *Config) UTCOffset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.utcOffset) * time.Hour
}

// WifiIface returns the wireless interface name.
func (c *Config) WifiIface() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wifiIface
}

// APPrefix returns the provisioning access point name prefix.
func (c *Config) APPrefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apPrefix
}

// DryValue returns the raw reading for a completely dry probe.
func (c *Config) DryValue() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dryValue
}

// WetValue returns the raw reading for a probe submerged in water.
func (c *Config) WetValue() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wetValue
}

// I2CBus returns the I2C bus name ("" means auto-detect).
func (c *Config) I2CBus() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.i2cBus
}

// ADCChannel returns the ADS1115 input channel the probe is wired to.
func (c *Config) ADCChannel() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.adcChannel
}

// ResetPin returns the name of the active-low reset input pin.
func (c *Config) ResetPin() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resetPin
}

// ConfirmPin returns the name of the reset-confirmation output pin.
func (c *Config) ConfirmPin() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.confirmPin
}

// HTTPAddr returns the provisioning portal HTTP listen address.
func (c *Config) HTTPAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpAddr
}

// DNSAddr returns the captive DNS listen address.
func (c *Config) DNSAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dnsAddr
}

// StateDB returns the path of the persisted credential database.
func (c *Config) StateDB() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateDB
}

// FilePath returns the path to the .env file.
func (c *Config) FilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filePath
}

// String returns a string representation of the config.
func (c *Config) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return fmt.Sprintf(
		"Config{Broker: %s:%d, Topic: %q, Interval: %v, Iface: %q, Calibration: %d/%d}",
		c.mqttHost, c.mqttPort, c.publishTopic, c.publishInterval,
		c.wifiIface, c.dryValue, c.wetValue,
	)
}
