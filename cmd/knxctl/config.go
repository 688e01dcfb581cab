// Licensed under the MIT license which can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/LB-00/knx-secure/knx"
	"github.com/LB-00/knx-secure/knx/cemi"
	"github.com/LB-00/knx-secure/knx/knxnet"
)

// Config is the knxctl configuration file.
type Config struct {
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Search     SearchConfig     `mapstructure:"search"`
	DataSecure DataSecureConfig `mapstructure:"data_secure"`
	Log        LogConfig        `mapstructure:"log"`
}

// GatewayConfig describes the secure tunnelling endpoint and the credentials for it.
type GatewayConfig struct {
	Address                      string        `mapstructure:"address"`
	UserID                       uint8         `mapstructure:"user_id"`
	UserPassword                 string        `mapstructure:"user_password"`
	DeviceAuthenticationPassword string        `mapstructure:"device_authentication_password"`
	Serial                       string        `mapstructure:"serial"`          // 12 hex digits
	IndividualAddr               string        `mapstructure:"individual_addr"` // Empty = any
	ResponseTimeout              time.Duration `mapstructure:"response_timeout"`
	HeartbeatInterval            time.Duration `mapstructure:"heartbeat_interval"`
}

// SearchConfig configures discovery.
type SearchConfig struct {
	Multicast string        `mapstructure:"multicast"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// DataSecureConfig configures end-to-end encryption of group telegrams.
type DataSecureConfig struct {
	KeyStore string `mapstructure:"key_store"`
	Sequence uint64 `mapstructure:"sequence"` // 0 = milliseconds since the epoch
}

// LogConfig configures the log output.
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"` // text | json
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures the rotating log file. An empty file name disables it.
type LogFileConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// LoadConfig reads the configuration file at path. An empty path loads the defaults only.
// Environment variables use the KNXCTL_ prefix, e.g. KNXCTL_GATEWAY_ADDRESS.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("knxctl")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// setDefaults registers every key, which also makes them visible to AutomaticEnv.
func setDefaults(v *viper.Viper) {
	tunnel := knx.DefaultSecureTunnelConfig()

	v.SetDefault("gateway.address", "")
	v.SetDefault("gateway.user_id", tunnel.UserID)
	v.SetDefault("gateway.user_password", "")
	v.SetDefault("gateway.device_authentication_password", "")
	v.SetDefault("gateway.serial", "000000000000")
	v.SetDefault("gateway.individual_addr", "")
	v.SetDefault("gateway.response_timeout", tunnel.ResponseTimeout)
	v.SetDefault("gateway.heartbeat_interval", tunnel.HeartbeatInterval)

	v.SetDefault("search.multicast", knx.DefaultMulticastAddress)
	v.SetDefault("search.timeout", 3*time.Second)

	v.SetDefault("data_secure.key_store", "")
	v.SetDefault("data_secure.sequence", 0)

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.filename", "")
	v.SetDefault("log.file.max_size", 10)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("log.file.max_age", 28)
	v.SetDefault("log.file.compress", false)
}

// Validate checks the configuration for values that cannot be used.
func (config *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(config.Log.Level)] {
		return fmt.Errorf("invalid log level %q (must be debug, info, warn or error)", config.Log.Level)
	}

	switch strings.ToLower(config.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q (must be json or text)", config.Log.Format)
	}

	if _, err := parseSerial(config.Gateway.Serial); err != nil {
		return err
	}

	if config.Gateway.IndividualAddr != "" {
		if _, err := cemi.NewIndividualAddrString(config.Gateway.IndividualAddr); err != nil {
			return fmt.Errorf("invalid individual_addr: %w", err)
		}
	}

	if config.Search.Timeout <= 0 {
		return fmt.Errorf("search.timeout must be positive")
	}

	return nil
}

// TunnelConfig converts the gateway section into a secure tunnel configuration.
func (config *Config) TunnelConfig() (knx.SecureTunnelConfig, error) {
	tunnel := knx.DefaultSecureTunnelConfig()

	serial, err := parseSerial(config.Gateway.Serial)
	if err != nil {
		return tunnel, err
	}

	if config.Gateway.IndividualAddr != "" {
		addr, err := cemi.NewIndividualAddrString(config.Gateway.IndividualAddr)
		if err != nil {
			return tunnel, fmt.Errorf("invalid individual_addr: %w", err)
		}
		tunnel.IndividualAddr = addr
	}

	tunnel.UserID = config.Gateway.UserID
	tunnel.UserPassword = config.Gateway.UserPassword
	tunnel.DeviceAuthenticationPassword = config.Gateway.DeviceAuthenticationPassword
	tunnel.Serial = serial
	tunnel.ResponseTimeout = config.Gateway.ResponseTimeout
	tunnel.HeartbeatInterval = config.Gateway.HeartbeatInterval

	return tunnel, nil
}

func parseSerial(s string) (serial [knxnet.SerialSize]byte, err error) {
	raw, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil || len(raw) != knxnet.SerialSize {
		return serial, fmt.Errorf("invalid serial %q (must be %d hex bytes)", s, knxnet.SerialSize)
	}

	copy(serial[:], raw)
	return serial, nil
}
