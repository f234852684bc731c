package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/history"
	"github.com/DmitriyKotov1986/TradingCat/internal/detector"
	"github.com/DmitriyKotov1986/TradingCat/internal/metrics"
	"github.com/DmitriyKotov1986/TradingCat/internal/session"
	"github.com/DmitriyKotov1986/TradingCat/internal/users"
)

type nopAnnouncer struct{}

func (nopAnnouncer) UserOnline(int64, detector.Config, uint64) {}
func (nopAnnouncer) UserOffline(int64)                         {}

type stubMarket struct {
	ids      []common.StockExchangeID
	klineIDs map[common.StockExchangeID][]common.KLineID
}

func (m *stubMarket) StockExchangeIDs() []common.StockExchangeID {
	return m.ids
}

func (m *stubMarket) KLineIDs(id common.StockExchangeID) ([]common.KLineID, error) {
	ids, ok := m.klineIDs[id]
	if !ok {
		return nil, fmt.Errorf("unknown stock exchange %v", id)
	}
	return ids, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()

	u, err := users.Load(context.Background(), users.NewMemoryStore())
	require.NoError(t, err)
	registry := session.NewRegistry(u, nopAnnouncer{}, 100)

	market := &stubMarket{
		ids: []common.StockExchangeID{common.MEXC, common.GATE},
		klineIDs: map[common.StockExchangeID][]common.KLineID{
			common.MEXC: {
				{Symbol: "BTCUSDT", Interval: common.Min1},
				{Symbol: "ETHUSDT", Interval: common.Min1},
			},
			common.GATE: {
				{Symbol: "BTC_USDT", Interval: common.Min1},
			},
		},
	}

	s := New(Config{Address: "localhost", Name: "TradingCat", Version: "1.42"}, registry, market, metrics.New())
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)

	return ts, registry
}

type testEnvelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func get(t *testing.T, ts *httptest.Server, path string) (int, testEnvelope) {
	t.Helper()

	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env testEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	// The envelope status mirrors the HTTP status.
	require.Equal(t, resp.StatusCode, env.Status)

	return resp.StatusCode, env
}

func login(t *testing.T, ts *httptest.Server, user, password string) int64 {
	t.Helper()

	status, env := get(t, ts, "/login?user="+user+"&password="+password)
	require.Equal(t, http.StatusOK, status)

	var data loginData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotZero(t, data.SessionID)

	return data.SessionID
}

func testEvent(symbol string) detector.Event {
	return detector.Event{
		StockExchange: common.MEXC,
		KLine: common.KLine{
			ID:          common.KLineID{Symbol: symbol, Interval: common.Min1},
			OpenTime:    60_000,
			CloseTime:   119_999,
			Open:        100,
			High:        150,
			Low:         100,
			Close:       150,
			Volume:      1,
			QuoteVolume: 500,
		},
		Filter: detector.Filter{Type: detector.Delta, Min: 0.02, Max: 1.0, Interval: common.Min1},
	}
}

func TestLogin(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/login?user=alice&password=secret")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.Equal(t, "TradingCat/1.42", resp.Header.Get("Server"))
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var env testEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.Equal(t, http.StatusOK, env.Status)
	require.Equal(t, "OK", env.Message)

	var data loginData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotZero(t, data.SessionID)
	require.Equal(t, detector.DefaultConfig(), data.Config)
}

func TestLoginWrongPassword(t *testing.T) {
	ts, _ := newTestServer(t)

	login(t, ts, "alice", "secret")

	status, env := get(t, ts, "/login?user=alice&password=wrong")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "incorrect password or user name", env.Message)
	require.Equal(t, "null", string(env.Data))
}

func TestLoginMissingUser(t *testing.T) {
	ts, _ := newTestServer(t)

	status, _ := get(t, ts, "/login?password=secret")
	require.Equal(t, http.StatusBadRequest, status)
}

func TestLogout(t *testing.T) {
	ts, _ := newTestServer(t)

	id := login(t, ts, "alice", "secret")

	status, env := get(t, ts, fmt.Sprintf("/logout?sessionId=%v", id))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "{}", string(env.Data))

	// The session is gone.
	status, _ = get(t, ts, fmt.Sprintf("/logout?sessionId=%v", id))
	require.Equal(t, http.StatusNotFound, status)
	status, _ = get(t, ts, fmt.Sprintf("/detect?sessionId=%v", id))
	require.Equal(t, http.StatusNotFound, status)
}

func TestLogoutBadSessionID(t *testing.T) {
	ts, _ := newTestServer(t)

	status, _ := get(t, ts, "/logout")
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = get(t, ts, "/logout?sessionId=abc")
	require.Equal(t, http.StatusBadRequest, status)
}

func TestConfigUpdate(t *testing.T) {
	ts, registry := newTestServer(t)

	id := login(t, ts, "alice", "secret")

	cfg := `{"filters":[{"type":"Delta","min":0.02,"max":1.0,"interval":60000}]}`
	status, _ := get(t, ts, fmt.Sprintf("/config?sessionId=%v&config=%v", id, url.QueryEscape(cfg)))
	require.Equal(t, http.StatusOK, status)

	// The update bumped the config generation to 2.
	registry.Deliver(id, 2, testEvent("BTCUSDT"))

	status, env := get(t, ts, fmt.Sprintf("/detect?sessionId=%v", id))
	require.Equal(t, http.StatusOK, status)
	var data detectData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Detects, 1)
	require.Equal(t, "BTCUSDT", data.Detects[0].KLine.ID.Symbol)
}

func TestConfigErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	id := login(t, ts, "alice", "secret")

	status, _ := get(t, ts, fmt.Sprintf("/config?sessionId=%v", id))
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = get(t, ts, fmt.Sprintf("/config?sessionId=%v&config=%v", id, url.QueryEscape("{not json")))
	require.Equal(t, http.StatusBadRequest, status)

	bad := `{"filters":[{"type":"Delta","min":1.0,"max":0.5,"interval":60000}]}`
	status, _ = get(t, ts, fmt.Sprintf("/config?sessionId=%v&config=%v", id, url.QueryEscape(bad)))
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = get(t, ts, "/config?sessionId=999999999&config="+url.QueryEscape(`{"filters":[]}`))
	require.Equal(t, http.StatusNotFound, status)
}

func TestDetectDrainsMailbox(t *testing.T) {
	ts, registry := newTestServer(t)

	id := login(t, ts, "alice", "secret")
	registry.Deliver(id, 1, testEvent("BTCUSDT"))
	registry.Deliver(id, 1, testEvent("ETHUSDT"))

	status, env := get(t, ts, fmt.Sprintf("/detect?sessionId=%v", id))
	require.Equal(t, http.StatusOK, status)
	var data detectData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.False(t, data.IsFull)
	require.Len(t, data.Detects, 2)
	require.Equal(t, common.MEXC, data.Detects[0].StockExchange)

	// The drain left the mailbox empty.
	_, env = get(t, ts, fmt.Sprintf("/detect?sessionId=%v", id))
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.False(t, data.IsFull)
	require.Empty(t, data.Detects)
}

func TestDetectOverflow(t *testing.T) {
	ts, registry := newTestServer(t)

	id := login(t, ts, "alice", "secret")
	for i := 0; i < 7; i++ {
		registry.Deliver(id, 1, testEvent(fmt.Sprintf("SYM%vUSDT", i)))
	}

	_, env := get(t, ts, fmt.Sprintf("/detect?sessionId=%v", id))
	var data detectData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.True(t, data.IsFull)
	require.Len(t, data.Detects, 5)

	// The overflow flag cleared with the drain.
	_, env = get(t, ts, fmt.Sprintf("/detect?sessionId=%v", id))
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.False(t, data.IsFull)
	require.Empty(t, data.Detects)
}

func TestStockExchanges(t *testing.T) {
	ts, _ := newTestServer(t)

	id := login(t, ts, "alice", "secret")

	status, env := get(t, ts, fmt.Sprintf("/stockexchanges?sessionId=%v", id))
	require.Equal(t, http.StatusOK, status)
	var data stockExchangesData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, []string{"MEXC", "GATE"}, data.StockExchanges)

	status, _ = get(t, ts, "/stockexchanges?sessionId=999999999")
	require.Equal(t, http.StatusNotFound, status)
}

func TestKLineIDList(t *testing.T) {
	ts, _ := newTestServer(t)

	id := login(t, ts, "alice", "secret")

	status, env := get(t, ts, fmt.Sprintf("/klinesidlist?sessionId=%v&stockExchange=MEXC", id))
	require.Equal(t, http.StatusOK, status)
	var data klineIDListData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, []common.KLineID{
		{Symbol: "BTCUSDT", Interval: common.Min1},
		{Symbol: "ETHUSDT", Interval: common.Min1},
	}, data.KLineIDs)

	// Not a stock exchange at all.
	status, _ = get(t, ts, fmt.Sprintf("/klinesidlist?sessionId=%v&stockExchange=NASDAQ", id))
	require.Equal(t, http.StatusBadRequest, status)

	// A known stock exchange this server does not track.
	status, _ = get(t, ts, fmt.Sprintf("/klinesidlist?sessionId=%v&stockExchange=BYBIT", id))
	require.Equal(t, http.StatusBadRequest, status)
}

func TestServerStatus(t *testing.T) {
	ts, _ := newTestServer(t)

	login(t, ts, "alice", "secret")

	status, env := get(t, ts, "/serverstatus")
	require.Equal(t, http.StatusOK, status)
	var data serverStatusData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, "TradingCat (Total money: 3)", data.Name)
	require.Equal(t, "1.42", data.Version)
	require.NotEmpty(t, data.Time)
	require.GreaterOrEqual(t, data.UpTime, int64(0))
	require.Len(t, data.UsersOnline, 1)
	require.Contains(t, data.UsersOnline[0], "alice(")
}

func TestUnknownRoute(t *testing.T) {
	ts, _ := newTestServer(t)

	status, env := get(t, ts, "/nope")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "unknown route /nope", env.Message)
}

func TestOptionsPreflight(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/login", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Empty(t, body)
}

// deliveryRelay breaks the construction cycle between the detector and the
// registry: the engine needs a Delivery before the registry exists.
type deliveryRelay struct {
	registry *session.Registry
}

func (d *deliveryRelay) Deliver(sessionID int64, gen uint64, event detector.Event) {
	d.registry.Deliver(sessionID, gen, event)
}

func TestDeltaDetectionEndToEnd(t *testing.T) {
	index := history.NewIndex()
	u, err := users.Load(context.Background(), users.NewMemoryStore())
	require.NoError(t, err)

	relay := &deliveryRelay{}
	engine := detector.New(index, relay, detector.WithWorkers(1))
	registry := session.NewRegistry(u, engine, 100)
	relay.registry = registry

	engine.Start()
	defer engine.Stop()

	market := &stubMarket{ids: []common.StockExchangeID{common.MEXC}}
	s := New(Config{Name: "TradingCat", Version: "1.42"}, registry, market, metrics.New())
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	id := login(t, ts, "alice", "secret")

	cfg := `{"filters":[{"type":"Delta","min":0.02,"max":1.0,"interval":60000}]}`
	status, _ := get(t, ts, fmt.Sprintf("/config?sessionId=%v&config=%v", id, url.QueryEscape(cfg)))
	require.Equal(t, http.StatusOK, status)

	// A candle with a delta of 0.03 arrives: history first, detector second.
	k := common.KLine{
		ID:          common.KLineID{Symbol: "BTCUSDT", Interval: common.Min1},
		OpenTime:    60_000,
		CloseTime:   119_999,
		Open:        100,
		High:        103,
		Low:         100,
		Close:       103,
		Volume:      1,
		QuoteVolume: 500,
	}
	index.GetOrCreate(common.MEXC, k.ID).Append(k)
	engine.Process(common.MEXC, common.KLinesList{k})

	var data detectData
	require.Eventually(t, func() bool {
		_, env := get(t, ts, fmt.Sprintf("/detect?sessionId=%v", id))
		require.NoError(t, json.Unmarshal(env.Data, &data))
		return len(data.Detects) == 1
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, common.MEXC, data.Detects[0].StockExchange)
	require.Equal(t, "BTCUSDT", data.Detects[0].KLine.ID.Symbol)
	require.Equal(t, detector.Delta, data.Detects[0].Filter.Type)
	require.False(t, data.IsFull)

	// The first poll drained the mailbox.
	_, env := get(t, ts, fmt.Sprintf("/detect?sessionId=%v", id))
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Empty(t, data.Detects)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	// A handled request shows up in the request counter.
	status, _ := get(t, ts, "/serverstatus")
	require.Equal(t, http.StatusOK, status)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `tradingcat_http_requests_total{code="200",route="/serverstatus"} 1`)
}
