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

// replicad runs a replica of a remote domain's message tree together with the
// agents that keep it in sync.
package main

import (
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

var (
	app = &cli.App{
		Name:  "replicad",
		Usage: "Cross-chain replica daemon",
	}

	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	dataDirectoryFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the replica database",
		Value: "./replicad-data",
	}
	dbEngineFlag = &cli.StringFlag{
		Name:  "db.engine",
		Usage: "Database engine (leveldb, pebble, memory)",
		Value: dbEngineLevelDB,
	}
	dbCacheFlag = &cli.IntFlag{
		Name:  "db.cache",
		Usage: "Database cache in megabytes",
		Value: 64,
	}

	// Genesis flags
	domainFlag = &cli.UintFlag{
		Name:  "domain",
		Usage: "Domain this replica lives on",
	}
	remoteDomainFlag = &cli.UintFlag{
		Name:  "remote-domain",
		Usage: "Domain whose message tree is replicated",
	}
	updaterFlag = &cli.StringFlag{
		Name:  "updater",
		Usage: "Address of the updater authority",
	}
	initialRootFlag = &cli.StringFlag{
		Name:  "initial-root",
		Usage: "Committed root the replica starts from",
	}
	optimisticSecondsFlag = &cli.Uint64Flag{
		Name:  "optimistic-seconds",
		Usage: "Fraud window before a pending update can be confirmed",
		Value: 1800,
	}

	// RPC flags
	httpEnabledFlag = &cli.BoolFlag{
		Name:  "http",
		Usage: "Enable the HTTP/WS JSON-RPC server",
		Value: true,
	}
	httpListenAddrFlag = &cli.StringFlag{
		Name:  "http.addr",
		Usage: "Listen address for the JSON-RPC server",
		Value: "localhost:8570",
	}
	httpCORSDomainFlag = &cli.StringFlag{
		Name:  "http.corsdomain",
		Usage: "Comma separated list of domains from which to accept cross origin requests",
	}

	// Agent flags
	homeEndpointFlag = &cli.StringFlag{
		Name:  "home.endpoint",
		Usage: "RPC endpoint serving the home chain's signed updates",
	}
	relayerEnabledFlag = &cli.BoolFlag{
		Name:  "relayer",
		Usage: "Relay and confirm updates from the home chain",
		Value: true,
	}
	relayerIntervalFlag = &cli.DurationFlag{
		Name:  "relayer.interval",
		Usage: "Relayer polling interval",
		Value: defaultConfig().Agent.RelayerInterval,
	}
	watcherEnabledFlag = &cli.BoolFlag{
		Name:  "watcher",
		Usage: "Watch for updater equivocation",
		Value: true,
	}
	watcherIntervalFlag = &cli.DurationFlag{
		Name:  "watcher.interval",
		Usage: "Watcher polling interval",
		Value: defaultConfig().Agent.WatcherInterval,
	}
	processorEnabledFlag = &cli.BoolFlag{
		Name:  "processor",
		Usage: "Process messages submitted through relay_enqueue",
		Value: true,
	}
	processorRateFlag = &cli.Float64Flag{
		Name:  "processor.rate",
		Usage: "Maximum messages processed per second (0 = unlimited)",
	}
	processorBurstFlag = &cli.IntFlag{
		Name:  "processor.burst",
		Usage: "Processor rate limiter burst",
		Value: 1,
	}
	processorRetryFlag = &cli.DurationFlag{
		Name:  "processor.retry",
		Usage: "Retry interval for messages whose root is not yet confirmed",
		Value: defaultConfig().Agent.ProcessorRetry,
	}
	processorQueueFlag = &cli.IntFlag{
		Name:  "processor.queue",
		Usage: "Maximum number of queued messages",
		Value: defaultConfig().Agent.QueueSize,
	}

	// Logging flags
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Write logs to a rotated file as well",
	}
	logJSONFlag = &cli.BoolFlag{
		Name:  "log.json",
		Usage: "Format logs as JSON",
	}
	logMaxSizeFlag = &cli.IntFlag{
		Name:  "log.maxsize",
		Usage: "Maximum size in megabytes of the log file before it gets rotated",
		Value: 100,
	}

	dumpConfigCommand = &cli.Command{
		Name:   "dumpconfig",
		Usage:  "Print the effective configuration as TOML",
		Action: dumpConfig,
	}
)

func init() {
	app.Action = runDaemon
	app.Flags = []cli.Flag{
		configFileFlag,
		dataDirectoryFlag,
		dbEngineFlag,
		dbCacheFlag,
		domainFlag,
		remoteDomainFlag,
		updaterFlag,
		initialRootFlag,
		optimisticSecondsFlag,
		httpEnabledFlag,
		httpListenAddrFlag,
		httpCORSDomainFlag,
		homeEndpointFlag,
		relayerEnabledFlag,
		relayerIntervalFlag,
		watcherEnabledFlag,
		watcherIntervalFlag,
		processorEnabledFlag,
		processorRateFlag,
		processorBurstFlag,
		processorRetryFlag,
		processorQueueFlag,
		verbosityFlag,
		logFileFlag,
		logJSONFlag,
		logMaxSizeFlag,
	}
	app.Commands = []*cli.Command{dumpConfigCommand}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(ctx *cli.Context) error {
	cfg, err := buildConfigFromCLI(ctx)
	if err != nil {
		return err
	}
	logCloser := setupLogging(&cfg.Log)
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	runner, err := NewRunner(cfg)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := runner.Start(); err != nil {
		runner.Stop()
		return fmt.Errorf("failed to start: %w", err)
	}
	log.Info("Replica daemon started", "domain", cfg.Replica.Domain, "remote", cfg.Replica.RemoteDomain, "datadir", cfg.DataDir)

	sig := <-sigCh
	log.Info("Received signal, shutting down", "signal", sig)
	return runner.Stop()
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := buildConfigFromCLI(ctx)
	if err != nil {
		return err
	}
	out, err := encodeConfig(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

// buildConfigFromCLI starts from the defaults, applies the config file if one
// is given and finally the flags set on the command line.
func buildConfigFromCLI(ctx *cli.Context) (*Config, error) {
	cfg := defaultConfig()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return nil, err
		}
	}
	if ctx.IsSet(dataDirectoryFlag.Name) {
		cfg.DataDir = ctx.String(dataDirectoryFlag.Name)
	}
	if ctx.IsSet(dbEngineFlag.Name) {
		cfg.DBEngine = ctx.String(dbEngineFlag.Name)
	}
	if ctx.IsSet(dbCacheFlag.Name) {
		cfg.DBCache = ctx.Int(dbCacheFlag.Name)
	}
	if ctx.IsSet(domainFlag.Name) {
		domain, err := domainFromCLI(ctx, domainFlag.Name)
		if err != nil {
			return nil, err
		}
		cfg.Replica.Domain = domain
	}
	if ctx.IsSet(remoteDomainFlag.Name) {
		domain, err := domainFromCLI(ctx, remoteDomainFlag.Name)
		if err != nil {
			return nil, err
		}
		cfg.Replica.RemoteDomain = domain
	}
	if ctx.IsSet(updaterFlag.Name) {
		hex := ctx.String(updaterFlag.Name)
		if !common.IsHexAddress(hex) {
			return nil, fmt.Errorf("invalid updater address %q", hex)
		}
		cfg.Replica.Updater = common.HexToAddress(hex)
	}
	if ctx.IsSet(initialRootFlag.Name) {
		root, err := hexutil.Decode(ctx.String(initialRootFlag.Name))
		if err != nil || len(root) != common.HashLength {
			return nil, fmt.Errorf("invalid initial root %q", ctx.String(initialRootFlag.Name))
		}
		cfg.Replica.InitialRoot = common.BytesToHash(root)
	}
	if ctx.IsSet(optimisticSecondsFlag.Name) {
		cfg.Replica.OptimisticSeconds = ctx.Uint64(optimisticSecondsFlag.Name)
	}
	if ctx.IsSet(httpEnabledFlag.Name) {
		cfg.RPC.Enabled = ctx.Bool(httpEnabledFlag.Name)
	}
	if ctx.IsSet(httpListenAddrFlag.Name) {
		cfg.RPC.ListenAddr = ctx.String(httpListenAddrFlag.Name)
	}
	if ctx.IsSet(httpCORSDomainFlag.Name) {
		cfg.RPC.CORSDomains = splitAndTrim(ctx.String(httpCORSDomainFlag.Name))
	}
	if ctx.IsSet(homeEndpointFlag.Name) {
		cfg.Agent.HomeEndpoint = ctx.String(homeEndpointFlag.Name)
	}
	if ctx.IsSet(relayerEnabledFlag.Name) {
		cfg.Agent.RelayerEnabled = ctx.Bool(relayerEnabledFlag.Name)
	}
	if ctx.IsSet(relayerIntervalFlag.Name) {
		cfg.Agent.RelayerInterval = ctx.Duration(relayerIntervalFlag.Name)
	}
	if ctx.IsSet(watcherEnabledFlag.Name) {
		cfg.Agent.WatcherEnabled = ctx.Bool(watcherEnabledFlag.Name)
	}
	if ctx.IsSet(watcherIntervalFlag.Name) {
		cfg.Agent.WatcherInterval = ctx.Duration(watcherIntervalFlag.Name)
	}
	if ctx.IsSet(processorEnabledFlag.Name) {
		cfg.Agent.ProcessorEnabled = ctx.Bool(processorEnabledFlag.Name)
	}
	if ctx.IsSet(processorRateFlag.Name) {
		cfg.Agent.ProcessorRate = ctx.Float64(processorRateFlag.Name)
	}
	if ctx.IsSet(processorBurstFlag.Name) {
		cfg.Agent.ProcessorBurst = ctx.Int(processorBurstFlag.Name)
	}
	if ctx.IsSet(processorRetryFlag.Name) {
		cfg.Agent.ProcessorRetry = ctx.Duration(processorRetryFlag.Name)
	}
	if ctx.IsSet(processorQueueFlag.Name) {
		cfg.Agent.QueueSize = ctx.Int(processorQueueFlag.Name)
	}
	if ctx.IsSet(verbosityFlag.Name) {
		cfg.Log.Verbosity = ctx.Int(verbosityFlag.Name)
	}
	if ctx.IsSet(logFileFlag.Name) {
		cfg.Log.File = ctx.String(logFileFlag.Name)
	}
	if ctx.IsSet(logJSONFlag.Name) {
		cfg.Log.JSON = ctx.Bool(logJSONFlag.Name)
	}
	if ctx.IsSet(logMaxSizeFlag.Name) {
		cfg.Log.MaxSizeMB = ctx.Int(logMaxSizeFlag.Name)
	}
	return &cfg, nil
}

// domainFromCLI reads a domain flag, rejecting values that do not fit in 32 bits.
func domainFromCLI(ctx *cli.Context, name string) (uint32, error) {
	v := ctx.Uint(name)
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("--%s %d exceeds %d", name, v, uint32(math.MaxUint32))
	}
	return uint32(v), nil
}

// splitAndTrim splits input separated by a comma and trims excessive white
// space from the substrings.
func splitAndTrim(input string) []string {
	var ret []string
	for _, r := range strings.Split(input, ",") {
		if r = strings.TrimSpace(r); r != "" {
			ret = append(ret, r)
		}
	}
	return ret
}
