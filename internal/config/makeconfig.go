package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

const configTemplate = `; TradingCat server configuration.
; Section numbering ([PROXY_N], [STOCK_EXCHANGE_N]) starts at zero and may be
; sparse. Unknown keys are ignored.

[DATABASE]
; Driver is postgres or mysql.
Driver = postgres
; ConnectionString is the DSN in the driver's native format, for example
; postgres: host=localhost port=5432 user=user password=password dbname=tradingcat sslmode=disable
; mysql:    user:password@tcp(localhost:3306)/tradingcat?parseTime=true
ConnectionString = host=localhost port=5432 user=user password=password dbname=tradingcat sslmode=disable

[SYSTEM]
; DebugMode = 1 enables debug logging.
DebugMode = 0

[SERVER]
Address = localhost
Port = 8080
Name = TradingCat
; MaxUsers caps concurrent sessions.
MaxUsers = 100

; Outbound requests rotate over the configured proxies. Leave the sections
; commented out to connect directly.
;[PROXY_0]
;Address = localhost
;Port = 51888
;User = user
;Password = password

[STOCK_EXCHANGE_0]
; Type is one of: MOEX,MEXC,GATE,KUCOIN,BYBIT,BITGET,BITMART,HTX,OKX
Type = MEXC
; User and Password are the stock exchange API credentials. Most stock
; exchanges work anonymously.
User =
Password =
; KLineTypes is a comma-separated list of candlestick intervals to poll:
; 1m,5m,10m,15m,30m,1h,4h,8h,1d,1w
KLineTypes = 1m,5m
; KLineNames restricts polling to symbols starting with one of the listed
; prefixes. Empty polls all symbols.
KLineNames =
`

// MakeConfig writes a commented configuration template to path, overwriting
// an existing file. The template loads back unchanged.
func MakeConfig(path string) error {
	if err := os.WriteFile(path, []byte(configTemplate), 0o644); err != nil {
		return fmt.Errorf("write configuration template %v: %w", path, err)
	}

	log.Info().Str("file", path).Msg("config: configuration template written")

	return nil
}
