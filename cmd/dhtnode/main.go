package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"ringdht/internal/config"
	"ringdht/internal/logs"
	"ringdht/internal/node"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	nameFlag = &cli.StringFlag{
		Name:  "name",
		Usage: "node name used in logs",
	}
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "HTTP listen address",
	}
	endpointFlag = &cli.StringFlag{
		Name:  "endpoint",
		Usage: "host:port other members use to reach this node",
	}
	addressFlag = &cli.StringFlag{
		Name:  "address",
		Usage: "ring address in hex (default: SHA-1 of the endpoint)",
	}
	peerFlag = &cli.StringSliceFlag{
		Name:  "peer",
		Usage: "static ring member as address@endpoint, may be repeated",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Usage: "DEBUG, INFO, WARN or ERROR",
	}
)

var nodeFlags = []cli.Flag{
	configFlag,
	nameFlag,
	listenFlag,
	endpointFlag,
	addressFlag,
	peerFlag,
	logLevelFlag,
}

var dumpConfigCommand = &cli.Command{
	Name:   "dumpconfig",
	Usage:  "Show the effective configuration values",
	Flags:  nodeFlags,
	Action: dumpConfig,
}

func main() {
	app := &cli.App{
		Name:     "dhtnode",
		Usage:    "a ring DHT storage node",
		Flags:    nodeFlags,
		Action:   runNode,
		Commands: []*cli.Command{dumpConfigCommand},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig applies the file, then the flags that were set.
func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if file := ctx.String(configFlag.Name); file != "" {
		var err error
		if cfg, err = config.Load(file); err != nil {
			return cfg, err
		}
	}
	if ctx.IsSet(nameFlag.Name) {
		cfg.Node.Name = ctx.String(nameFlag.Name)
	}
	if ctx.IsSet(listenFlag.Name) {
		cfg.Node.Listen = ctx.String(listenFlag.Name)
	}
	if ctx.IsSet(endpointFlag.Name) {
		cfg.Node.Endpoint = ctx.String(endpointFlag.Name)
	}
	if ctx.IsSet(addressFlag.Name) {
		cfg.Node.Address = ctx.String(addressFlag.Name)
	}
	if ctx.IsSet(peerFlag.Name) {
		cfg.Peers.Members = append(cfg.Peers.Members, ctx.StringSlice(peerFlag.Name)...)
	}
	if ctx.IsSet(logLevelFlag.Name) {
		cfg.Log.Level = ctx.String(logLevelFlag.Name)
	}
	return cfg, cfg.Validate()
}

func runNode(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	logger := logs.NewLogger(cfg.Log.BufferSize, cfg.LogLevel())
	logger.SetOutput(logs.NewSink(cfg.LogLevel()))

	n, err := node.New(cfg, node.WithLogger(logger))
	if err != nil {
		return err
	}

	sigctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return n.Run(sigctx)
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	out, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
