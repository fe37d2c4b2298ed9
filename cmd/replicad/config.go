// Copyright 2025 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"
	"unicode"

	"github.com/naoina/toml"
	"github.com/xrelay/replica/core/replica"
)

// Database engines accepted by --db.engine.
const (
	dbEngineLevelDB = "leveldb"
	dbEnginePebble  = "pebble"
	dbEngineMemory  = "memory"
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// Config holds the replicad daemon configuration.
type Config struct {
	DataDir  string
	DBEngine string // leveldb, pebble or memory
	DBCache  int    // MB
	Replica  replica.Config
	RPC      RPCConfig
	Agent    AgentConfig
	Log      LogConfig
}

// RPCConfig configures the JSON-RPC endpoint.
type RPCConfig struct {
	Enabled     bool
	ListenAddr  string
	CORSDomains []string `toml:",omitempty"`
}

// AgentConfig configures the relaying agents.
type AgentConfig struct {
	HomeEndpoint     string // replica_ RPC endpoint of the home chain's update feed
	RelayerEnabled   bool
	RelayerInterval  time.Duration
	WatcherEnabled   bool
	WatcherInterval  time.Duration
	ProcessorEnabled bool
	ProcessorRate    float64 // messages per second, 0 = unlimited
	ProcessorBurst   int
	ProcessorRetry   time.Duration
	QueueSize        int
}

// LogConfig configures logging output.
type LogConfig struct {
	Verbosity int
	File      string `toml:",omitempty"`
	JSON      bool
	MaxSizeMB int
}

func defaultConfig() Config {
	return Config{
		DataDir:  "./replicad-data",
		DBEngine: dbEngineLevelDB,
		DBCache:  64,
		Replica: replica.Config{
			OptimisticSeconds: replica.DefaultOptimisticSeconds,
		},
		RPC: RPCConfig{
			Enabled:    true,
			ListenAddr: "localhost:8570",
		},
		Agent: AgentConfig{
			RelayerEnabled:   true,
			RelayerInterval:  10 * time.Second,
			WatcherEnabled:   true,
			WatcherInterval:  15 * time.Second,
			ProcessorEnabled: true,
			ProcessorBurst:   1,
			ProcessorRetry:   30 * time.Second,
			QueueSize:        1024,
		},
		Log: LogConfig{
			Verbosity: 3,
			MaxSizeMB: 100,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.DBEngine {
	case dbEngineLevelDB, dbEnginePebble:
		if c.DataDir == "" {
			return fmt.Errorf("datadir is required for the %s engine", c.DBEngine)
		}
	case dbEngineMemory:
	default:
		return fmt.Errorf("db.engine must be one of %s, %s, %s, got %q", dbEngineLevelDB, dbEnginePebble, dbEngineMemory, c.DBEngine)
	}
	if err := c.Replica.Validate(); err != nil {
		return err
	}
	if c.RPC.Enabled && c.RPC.ListenAddr == "" {
		return errors.New("http.addr is required when the RPC server is enabled")
	}
	if c.Agent.RelayerEnabled {
		if c.Agent.HomeEndpoint == "" {
			return errors.New("home.endpoint is required when the relayer is enabled")
		}
		if c.Agent.RelayerInterval <= 0 {
			return errors.New("relayer.interval must be > 0")
		}
	}
	if c.Agent.WatcherEnabled && c.Agent.WatcherInterval <= 0 {
		return errors.New("watcher.interval must be > 0")
	}
	if c.Agent.ProcessorEnabled {
		if c.Agent.ProcessorRate < 0 {
			return errors.New("processor.rate must be >= 0")
		}
		if c.Agent.QueueSize <= 0 {
			return errors.New("processor.queue must be > 0")
		}
	}
	if c.Log.Verbosity < 0 || c.Log.Verbosity > 5 {
		return fmt.Errorf("verbosity must be within 0-5, got %d", c.Log.Verbosity)
	}
	return nil
}

// loadConfig decodes a TOML file into cfg.
func loadConfig(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// encodeConfig renders cfg as TOML.
func encodeConfig(cfg *Config) ([]byte, error) {
	return tomlSettings.Marshal(cfg)
}
