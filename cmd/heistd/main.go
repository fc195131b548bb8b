package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decred/slog"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/Jaden-Nix/reputation-heist/server"
)

func realMain() error {
	flagDataDir := flag.String("datadir", "", "directory for the database and config file")
	flagPort := flag.String("httpport", "", "HTTP listen port")
	flagBackend := flag.String("backend", "", "persistence backend: bolt or mem")
	flag.Parse()

	conf := viper.New()
	if *flagDataDir != "" {
		conf.Set("datadir", *flagDataDir)
	}
	if err := InitConfig(conf); err != nil {
		return fmt.Errorf("failed to init config: %w", err)
	}
	if *flagPort != "" {
		conf.Set("httpport", *flagPort)
	}
	if *flagBackend != "" {
		conf.Set("backend", *flagBackend)
	}

	backend := slog.NewBackend(os.Stdout)
	level := server.GetDebugLevel(conf.GetString("debuglevel"))
	log := backend.Logger("HEIST")
	log.SetLevel(level)
	oracleLog := backend.Logger("ORCL")
	oracleLog.SetLevel(level)
	ledgerLog := backend.Logger("LEDG")
	ledgerLog.SetLevel(level)

	listingFee, err := decimal.NewFromString(conf.GetString("listingfee"))
	if err != nil {
		return fmt.Errorf("invalid listingfee: %w", err)
	}

	cfg := server.Config{
		ServerDir: conf.GetString("datadir"),
		HTTPPort:  conf.GetString("httpport"),
		Backend:   conf.GetString("backend"),

		JudgeAPIKey:   conf.GetString("judgeapikey"),
		JudgeModel:    conf.GetString("judgemodel"),
		JudgeEndpoint: conf.GetString("judgeendpoint"),
		JudgeTimeout:  time.Duration(conf.GetInt("judgetimeoutsec")) * time.Second,

		EthosURL:           conf.GetString("ethosurl"),
		RequireAttestation: conf.GetBool("requireattestation"),

		ConfidenceThreshold: conf.GetInt("confidencethreshold"),
		HouseFeePct:         conf.GetInt64("housefeepct"),
		ListingFee:          listingFee,
		ReviewWindow:        time.Duration(conf.GetInt("reviewwindowhours")) * time.Hour,
		SweepInterval:       time.Duration(conf.GetInt("sweepintervalsec")) * time.Second,

		Log:       log,
		OracleLog: oracleLog,
		LedgerLog: ledgerLog,
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("heistd starting, datadir=%s backend=%s port=%s",
		cfg.ServerDir, cfg.Backend, cfg.HTTPPort)
	return srv.Run(ctx)
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
