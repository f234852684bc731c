package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/internal/config"
	"github.com/DmitriyKotov1986/TradingCat/internal/core"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		makeConfig bool
	)
	defaultPath := defaultConfigPath()
	flag.StringVar(&configPath, "config", defaultPath, "path to the INI configuration file")
	flag.StringVar(&configPath, "c", defaultPath, "path to the INI configuration file (shorthand)")
	flag.BoolVar(&makeConfig, "makeconfig", false, "write a configuration template to the config path and exit")
	flag.BoolVar(&makeConfig, "m", false, "write a configuration template to the config path and exit (shorthand)")
	flag.Parse()

	// Console logging until the configuration says otherwise.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if makeConfig {
		if err := config.MakeConfig(configPath); err != nil {
			log.Error().Err(err).Str("path", configPath).Msg("write configuration template failed")
			return config.LoadConfigErr
		}
		return config.OK
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error().Err(err).Str("path", configPath).Msg("load configuration failed")
		return config.LoadConfigErr
	}

	setupLogger(cfg.System.DebugMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := core.New(ctx, cfg, version)
	if err != nil {
		log.Error().Err(err).Msg("initialization failed")
		if errors.Is(err, core.ErrSQLNotConnect) {
			return config.SQLNotConnect
		}
		return config.ServiceInitErr
	}

	if err := c.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server failed")
		if errors.Is(err, core.ErrHTTPServerNotListen) {
			return config.HTTPServerNotListen
		}
		return config.ServiceInitErr
	}

	return config.OK
}

func setupLogger(debug bool) {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// defaultConfigPath is <executable dir>/<executable name>.ini.
func defaultConfigPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "TradingCat.ini"
	}
	dir, file := filepath.Split(exe)
	name := strings.TrimSuffix(file, filepath.Ext(file))
	return filepath.Join(dir, name+".ini")
}
