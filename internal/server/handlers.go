package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/internal/detector"
	"github.com/DmitriyKotov1986/TradingCat/internal/session"
)

type envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type loginData struct {
	SessionID int64           `json:"sessionId"`
	Config    detector.Config `json:"config"`
}

type detectData struct {
	IsFull  bool             `json:"isFull"`
	Detects []detector.Event `json:"detects"`
}

type stockExchangesData struct {
	StockExchanges []string `json:"stockExchanges"`
}

type klineIDListData struct {
	KLineIDs []common.KLineID `json:"klineIds"`
}

type serverStatusData struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Time        string   `json:"time"`
	UpTime      int64    `json:"upTime"`
	UsersOnline []string `json:"usersOnline"`
}

func writeJSON(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Status: status, Message: message, Data: data}); err != nil {
		log.Error().Err(err).Msg("server: write response")
	}
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, "OK", data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, message, nil)
}

// writeSessionError translates registry errors into envelope codes.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, session.ErrTooManyUsers), errors.Is(err, detector.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func sessionIDParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("sessionId")
	if raw == "" {
		return 0, errors.New("the sessionId parameter is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionId %q", raw)
	}
	return id, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	password := r.URL.Query().Get("password")
	if user == "" {
		writeError(w, http.StatusBadRequest, "the user parameter is required")
		return
	}

	sess, err := s.registry.Login(r.Context(), user, password)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeOK(w, loginData{SessionID: sess.ID, Config: sess.Config})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.registry.Logout(id); err != nil {
		writeSessionError(w, err)
		return
	}

	writeOK(w, struct{}{})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	raw := r.URL.Query().Get("config")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "the config parameter is required")
		return
	}
	var cfg detector.Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse config: %v", err))
		return
	}

	if err := s.registry.UpdateConfig(id, cfg); err != nil {
		writeSessionError(w, err)
		return
	}

	writeOK(w, struct{}{})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, isFull, err := s.registry.PollDetect(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if events == nil {
		events = []detector.Event{}
	}

	writeOK(w, detectData{IsFull: isFull, Detects: events})
}

func (s *Server) handleStockExchanges(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.registry.Touch(id); err != nil {
		writeSessionError(w, err)
		return
	}

	ids := s.market.StockExchangeIDs()
	names := make([]string, 0, len(ids))
	for _, venue := range ids {
		names = append(names, string(venue))
	}

	writeOK(w, stockExchangesData{StockExchanges: names})
}

func (s *Server) handleKLineIDList(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.registry.Touch(id); err != nil {
		writeSessionError(w, err)
		return
	}

	venue, err := common.StockExchangeIDFromString(r.URL.Query().Get("stockExchange"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	klineIDs, err := s.market.KLineIDs(venue)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if klineIDs == nil {
		klineIDs = []common.KLineID{}
	}

	writeOK(w, klineIDListData{KLineIDs: klineIDs})
}

func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	writeOK(w, serverStatusData{
		Name:        fmt.Sprintf("%v (Total money: %v)", s.cfg.Name, s.instrumentCount()),
		Version:     s.cfg.Version,
		Time:        now.Format(time.RFC3339),
		UpTime:      int64(now.Sub(s.startTime).Seconds()),
		UsersOnline: s.registry.UsersOnline(),
	})
}

// instrumentCount is the number of tracked instruments across all stock
// exchanges. /serverstatus reports it inside the decorated server name.
func (s *Server) instrumentCount() int {
	total := 0
	for _, venue := range s.market.StockExchangeIDs() {
		ids, err := s.market.KLineIDs(venue)
		if err != nil {
			continue
		}
		total += len(ids)
	}
	return total
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, fmt.Sprintf("unknown route %v", r.URL.Path))
}
