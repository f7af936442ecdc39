package main

/*
 * SML Library in Go
 *
 * This file is part of the SML Library, a Go decoder for the Smart Message
 * Language (SML) frames emitted by electricity meters over their serial interface.
 *
 * Features:
 * - CRC16 Validation (CRC-16/X-25)
 * - Escape-sequence framing with fill bytes
 * - Offset-based value extraction for configured meter entities
 * - Designed for serial communication
 *
 * License: MIT License
 * Author: Adrian Shajkofci, 2024
 */

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	sml "github.com/ashajkofci/gosml"
	"github.com/ashajkofci/gosml/internal/config"
	"github.com/ashajkofci/gosml/internal/logging"
	"github.com/ashajkofci/gosml/internal/metrics"
	"github.com/ashajkofci/gosml/internal/server"
)

type flagSet struct {
	configPath string
	listPorts  bool
	surveyDir  string
	replayFile string
}

func parseFlags() flagSet {
	var fs flagSet
	flag.StringVar(&fs.configPath, "config", "smld.yaml", "Configuration file (.yaml, .yml or .toml)")
	flag.BoolVar(&fs.listPorts, "list-ports", false, "List serial ports and exit")
	flag.StringVar(&fs.surveyDir, "survey", "", "Write every value of every frame as JSON into this directory to find entity offsets")
	flag.StringVar(&fs.replayFile, "replay", "", "Read a captured byte stream from this file instead of the serial port")
	flag.Parse()
	return fs
}

func main() {
	fs := parseFlags()
	if fs.listPorts {
		if err := printPorts(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(fs.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.Configure(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, dial, err := openTransport(cfg, fs.replayFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error opening transport")
	}
	defer transport.Close()
	logger.Info().Str("port", transport.PortName).Int("baud", cfg.Serial.Baud).Msg("transport opened")

	if fs.surveyDir != "" {
		if err := runSurvey(ctx, transport, fs.surveyDir, cfg.Meter.MaxFrameSize, logger); err != nil && !isShutdown(err) {
			log.Fatal().Err(err).Msg("survey failed")
		}
		return
	}

	if err := run(ctx, cfg, transport, dial, logger); err != nil && !isShutdown(err) {
		log.Fatal().Err(err).Msg("smld stopped")
	}
}

func run(ctx context.Context, cfg config.Config, transport *sml.Transport, dial func() (*sml.Transport, error), logger zerolog.Logger) error {
	meter := sml.NewMeter(transport, cfg.SMLEntities())
	meter.Scanner.MaxFrameSize = cfg.Meter.MaxFrameSize
	meter.Dial = dial
	meter.Logger = logger.With().Str("component", "meter").Str("meter", cfg.Meter.Name).Logger()
	meter.Observer = metrics.Default(cfg.Meter.Name)

	srv := server.New(meter, server.Options{
		Meter:       cfg.Meter,
		Entities:    cfg.Entities,
		Addr:        cfg.HTTP.Addr,
		CorsOrigins: cfg.HTTP.CorsOrigins,
		Logger:      logger.With().Str("component", "http").Logger(),
	})
	meter.GeneralCallback = srv.Publish
	for _, e := range cfg.Entities {
		name := e.Name
		meter.Subscribe(name, func(r sml.Reading) {
			meter.Logger.Info().Str("entity", name).Float64("value", r.Value).Msg("reading changed")
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()

	err := meter.Run(ctx)
	if errors.Is(err, io.EOF) {
		logger.Info().Msg("byte source exhausted")
		<-ctx.Done()
		err = nil
	}
	cancel()
	if srvErr := <-errCh; srvErr != nil && err == nil {
		err = srvErr
	}
	return err
}

func openTransport(cfg config.Config, replayFile string) (*sml.Transport, func() (*sml.Transport, error), error) {
	if replayFile != "" {
		f, err := os.Open(replayFile)
		if err != nil {
			return nil, nil, err
		}
		t := sml.NewReaderTransport(f)
		t.PortName = replayFile
		return t, nil, nil
	}
	serialCfg := cfg.SMLSerial()
	dial := func() (*sml.Transport, error) {
		return sml.OpenSerial(serialCfg)
	}
	t, err := dial()
	if err != nil {
		return nil, nil, err
	}
	return t, dial, nil
}

func printPorts(w io.Writer) error {
	ports, err := sml.ListPorts()
	if err != nil {
		return err
	}
	for _, p := range ports {
		if p.IsUSB {
			fmt.Fprintf(w, "%s\tUSB %s:%s\t%s\t%s\n", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
		} else {
			fmt.Fprintf(w, "%s\n", p.Name)
		}
	}
	return nil
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
