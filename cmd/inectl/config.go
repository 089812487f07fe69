// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/netascode/go-ine"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the appliance connection configuration
//
// Example inectl.yaml:
//
//	address: 10.1.1.10
//	port: 9000
//	username: admin
//	timeouts:
//	  operation: 1m
//	proxy:
//	  address: jump.lab:1080
type Config struct {
	Address  string `mapstructure:"address"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	Timeouts struct {
		Connect   time.Duration `mapstructure:"connect"`
		Operation time.Duration `mapstructure:"operation"`
		Idle      time.Duration `mapstructure:"idle"`
	} `mapstructure:"timeouts"`

	// CommandInterval paces commands for appliances that drop bursts
	CommandInterval time.Duration `mapstructure:"command_interval"`

	Proxy struct {
		Address  string `mapstructure:"address"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
	} `mapstructure:"proxy"`
}

// configKeys are every config key, so that INE_* variables are seen by Unmarshal
var configKeys = []string{
	"address", "port", "username", "password",
	"timeouts.connect", "timeouts.operation", "timeouts.idle",
	"command_interval",
	"proxy.address", "proxy.username", "proxy.password",
}

// flagKeys maps persistent flags to config keys
var flagKeys = map[string]string{
	"address":  "address",
	"port":     "port",
	"username": "username",
	"password": "password",
	"timeout":  "timeouts.operation",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	for flag, key := range flagKeys {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
}

// loadConfig merges the config file, INE_* environment variables and flags
func loadConfig(v *viper.Viper, file string) (Config, error) {
	for _, key := range configKeys {
		v.SetDefault(key, nil)
	}
	v.SetEnvPrefix("INE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("inectl")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "inectl"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Credentials implements ine.CredentialSource
func (c Config) Credentials() (ine.Credentials, error) {
	if strings.TrimSpace(c.Address) == "" {
		return ine.Credentials{}, fmt.Errorf("appliance address not configured (--address, INE_ADDRESS or address in the config file)")
	}
	return ine.Credentials{
		Address:  c.Address,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
	}, nil
}

// options returns the client options for the non-credential settings
func (c Config) options(logger ine.Logger) []func(*ine.Client) {
	opts := []func(*ine.Client){ine.WithLogger(logger)}
	if c.Timeouts.Connect > 0 {
		opts = append(opts, ine.ConnectTimeout(c.Timeouts.Connect))
	}
	if c.Timeouts.Operation > 0 {
		opts = append(opts, ine.OperationTimeout(c.Timeouts.Operation))
	}
	if c.Timeouts.Idle > 0 {
		opts = append(opts, ine.IdleTimeout(c.Timeouts.Idle))
	}
	if c.CommandInterval > 0 {
		opts = append(opts, ine.CommandInterval(c.CommandInterval))
	}
	if c.Proxy.Address != "" {
		opts = append(opts, ine.SOCKS5Proxy(c.Proxy.Address, c.Proxy.Username, c.Proxy.Password))
	}
	return opts
}
