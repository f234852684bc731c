// Package config loads the server configuration from an INI file.
//
// The file has three fixed sections, [DATABASE], [SYSTEM] and [SERVER], plus
// any number of [PROXY_N] and [STOCK_EXCHANGE_N] sections numbered from zero.
// Numbering may be sparse. Unknown keys are ignored; unknown sections are
// rejected so that a misspelt section name fails loudly instead of silently
// dropping a stock exchange.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
)

// Process exit codes.
const (
	OK                  = 0
	LoadConfigErr       = 1
	SQLNotConnect       = 2
	HTTPServerNotListen = 3
	ServiceInitErr      = 4
	StartLoggerErr      = 5
)

// Database is the [DATABASE] section: where the user store lives.
type Database struct {
	Driver           string // postgres or mysql
	ConnectionString string // DSN in the driver's native format
}

// System is the [SYSTEM] section.
type System struct {
	DebugMode bool
}

// Server is the [SERVER] section: the HTTP listener.
type Server struct {
	Address  string
	Port     uint16
	Name     string
	MaxUsers int
}

// Proxy is one [PROXY_N] section. Outbound requests rotate over all
// configured proxies.
type Proxy struct {
	Address  string
	Port     uint16
	User     string
	Password string
}

// StockExchange is one [STOCK_EXCHANGE_N] section.
type StockExchange struct {
	Type      common.StockExchangeID
	User      string
	Password  string
	Intervals []common.KLineInterval // candlestick intervals to poll
	Prefixes  []string               // symbol prefixes to keep, empty keeps all
}

// Config is the full parsed configuration.
type Config struct {
	Database       Database
	System         System
	Server         Server
	Proxies        []Proxy
	StockExchanges []StockExchange
}

// Load reads and validates the configuration file. Indexed sections are
// returned in ascending index order.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration %v: %w", path, err)
	}

	present := make(map[string]bool)
	proxySections := make(map[int]string)
	stockExchangeSections := make(map[int]string)
	for _, name := range f.SectionStrings() {
		present[name] = true
		switch {
		case name == ini.DefaultSection || name == "DATABASE" || name == "SYSTEM" || name == "SERVER":
		case strings.HasPrefix(name, "PROXY_"):
			if err := rememberIndexed(proxySections, name, "PROXY_"); err != nil {
				return nil, err
			}
		case strings.HasPrefix(name, "STOCK_EXCHANGE_"):
			if err := rememberIndexed(stockExchangeSections, name, "STOCK_EXCHANGE_"); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown section [%v] in configuration", name)
		}
	}
	if !present["DATABASE"] {
		return nil, errors.New("configuration does not contain the [DATABASE] section")
	}
	if !present["SERVER"] {
		return nil, errors.New("configuration does not contain the [SERVER] section")
	}

	cfg := &Config{}

	sec := f.Section("DATABASE")
	cfg.Database.Driver = sec.Key("Driver").String()
	switch cfg.Database.Driver {
	case "postgres", "mysql":
	default:
		return nil, fmt.Errorf("invalid value in [DATABASE]/Driver: %v (supported: postgres, mysql)", cfg.Database.Driver)
	}
	cfg.Database.ConnectionString = sec.Key("ConnectionString").String()
	if cfg.Database.ConnectionString == "" {
		return nil, errors.New("value in [DATABASE]/ConnectionString cannot be empty")
	}

	if present["SYSTEM"] {
		cfg.System.DebugMode = f.Section("SYSTEM").Key("DebugMode").MustBool(false)
	}

	sec = f.Section("SERVER")
	cfg.Server.Address = sec.Key("Address").MustString("localhost")
	port := sec.Key("Port").MustUint(80)
	if port == 0 || port > 65535 {
		return nil, errors.New("value in [SERVER]/Port must be a port number")
	}
	cfg.Server.Port = uint16(port)
	cfg.Server.Name = sec.Key("Name").MustString("TradingCat")
	cfg.Server.MaxUsers = sec.Key("MaxUsers").MustInt(100)
	if cfg.Server.MaxUsers <= 0 {
		return nil, errors.New("value in [SERVER]/MaxUsers must be a positive number")
	}

	for _, i := range sortedIndexes(proxySections) {
		name := proxySections[i]
		sec := f.Section(name)

		proxy := Proxy{
			Address:  sec.Key("Address").String(),
			User:     sec.Key("User").String(),
			Password: sec.Key("Password").String(),
		}
		if proxy.Address == "" {
			return nil, fmt.Errorf("value in [%v]/Address cannot be empty", name)
		}
		port := sec.Key("Port").MustUint(51888)
		if port == 0 || port > 65535 {
			return nil, fmt.Errorf("value in [%v]/Port must be a port number", name)
		}
		proxy.Port = uint16(port)

		cfg.Proxies = append(cfg.Proxies, proxy)
	}

	for _, i := range sortedIndexes(stockExchangeSections) {
		name := stockExchangeSections[i]
		sec := f.Section(name)

		id, err := common.StockExchangeIDFromString(sec.Key("Type").String())
		if err != nil {
			return nil, fmt.Errorf("invalid value in [%v]/Type (supported: %v): %w", name, supportedStockExchanges(), err)
		}
		intervals, err := parseIntervals(sec.Key("KLineTypes").MustString("1m"))
		if err != nil {
			return nil, fmt.Errorf("invalid value in [%v]/KLineTypes: %w", name, err)
		}

		cfg.StockExchanges = append(cfg.StockExchanges, StockExchange{
			Type:      id,
			User:      sec.Key("User").String(),
			Password:  sec.Key("Password").String(),
			Intervals: intervals,
			Prefixes:  parseCSV(sec.Key("KLineNames").String()),
		})
	}
	if len(cfg.StockExchanges) == 0 {
		return nil, errors.New("there are no stock exchanges in the configuration, check the [STOCK_EXCHANGE_0] section")
	}

	log.Info().Str("file", path).Int("stockExchanges", len(cfg.StockExchanges)).Int("proxies", len(cfg.Proxies)).Msg("config: configuration loaded")

	return cfg, nil
}

// rememberIndexed records the index of one [PROXY_N] or [STOCK_EXCHANGE_N]
// section, rejecting malformed and duplicate numbering.
func rememberIndexed(known map[int]string, name, prefix string) error {
	n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil || n < 0 {
		return fmt.Errorf("unknown section [%v] in configuration", name)
	}
	if other, ok := known[n]; ok {
		return fmt.Errorf("sections [%v] and [%v] use the same number", other, name)
	}
	known[n] = name
	return nil
}

func sortedIndexes(m map[int]string) []int {
	indexes := make([]int, 0, len(m))
	for i := range m {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	return indexes
}

func parseIntervals(s string) ([]common.KLineInterval, error) {
	var intervals []common.KLineInterval
	seen := make(map[common.KLineInterval]bool)
	for _, code := range strings.Split(s, ",") {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		interval, err := common.KLineIntervalFromString(code)
		if err != nil {
			return nil, err
		}
		if seen[interval] {
			continue
		}
		seen[interval] = true
		intervals = append(intervals, interval)
	}
	if len(intervals) == 0 {
		return nil, errors.New("the interval list cannot be empty")
	}
	return intervals, nil
}

func parseCSV(s string) []string {
	var values []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func supportedStockExchanges() string {
	names := make([]string, 0, len(common.AllStockExchangeIDs()))
	for _, id := range common.AllStockExchangeIDs() {
		names = append(names, string(id))
	}
	return strings.Join(names, ",")
}
