// Package server is the HTTP and WebSocket boundary: a thin mux layer over
// the bot manager plus the notification hub's upgrade endpoint.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse-network/tradepulse-node/bot"
	"github.com/tradepulse-network/tradepulse-node/chains"
	"github.com/tradepulse-network/tradepulse-node/dex"
	"github.com/tradepulse-network/tradepulse-node/journal"
	"github.com/tradepulse-network/tradepulse-node/notify"
)

// Server hosts the REST command surface and the notification stream.
type Server struct {
	http    *http.Server
	manager *bot.Manager
	hub     *notify.Hub
	secret  []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// New builds the server. An empty sessionSecret disables token checks and
// trusts the X-User-Id header, which is only sane behind a trusted proxy.
func New(addr, sessionSecret string, manager *bot.Manager, hub *notify.Hub) *Server {
	s := &Server{
		manager: manager,
		hub:     hub,
	}
	if sessionSecret != "" {
		s.secret = []byte(sessionSecret)
	}

	r := mux.NewRouter()
	r.Use(requestLogger)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.sessionAuth)
	api.HandleFunc("/bot/statuses", s.handleBotStatuses).Methods(http.MethodGet)
	api.HandleFunc("/bot/start", s.handleBotStart).Methods(http.MethodPost)
	api.HandleFunc("/bot/stop", s.handleBotStop).Methods(http.MethodPost)
	api.HandleFunc("/configs/active", s.handleActiveConfigs).Methods(http.MethodGet)
	api.HandleFunc("/configs", s.handleAllConfigs).Methods(http.MethodGet)
	api.HandleFunc("/configs", s.handleSaveConfig).Methods(http.MethodPost)
	api.HandleFunc("/trades/manual", s.handleManualTrade).Methods(http.MethodPost)
	api.HandleFunc("/trades/recent", s.handleRecentTrades).Methods(http.MethodGet)
	api.HandleFunc("/trades/network-stats", s.handleNetworkStats).Methods(http.MethodGet)
	api.HandleFunc("/trades", s.handleAllTrades).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// WSAuthenticator builds the hub's Authenticator. With a session secret it
// checks the auth frame's token; without one the claimed id is accepted.
func WSAuthenticator(sessionSecret string) notify.Authenticator {
	if sessionSecret == "" {
		return func(userID, _ string) (string, error) {
			return userID, nil
		}
	}
	secret := []byte(sessionSecret)
	return func(userID, token string) (string, error) {
		sub, err := verifyToken(secret, token)
		if err != nil {
			return "", err
		}
		if sub != userID {
			return "", errors.New("token subject does not match claimed user")
		}
		return sub, nil
	}
}

func verifyToken(secret []byte, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("token carries no subject")
	}
	return claims.Subject, nil
}

type contextKey int

const userIDKey contextKey = iota

// sessionAuth resolves the request's user. With a session secret it demands
// a bearer token; without one it falls back to the X-User-Id header.
func (s *Server) sessionAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var userID string
		if s.secret != nil {
			token := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}
			sub, err := verifyToken(s.secret, token[len(prefix):])
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			userID = sub
		} else {
			userID = r.Header.Get("X-User-Id")
		}
		if userID == "" {
			writeError(w, http.StatusUnauthorized, errors.New("no user identity on request"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

type errorResponse struct {
	Error string   `json:"error"`
	Kind  dex.Kind `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var kinded *dex.Error
	if errors.As(err, &kinded) {
		resp.Kind = kinded.Kind
	}
	writeJSON(w, status, resp)
}

// statusFor maps outcome kinds onto HTTP statuses.
func statusFor(err error) int {
	var kinded *dex.Error
	if !errors.As(err, &kinded) {
		return http.StatusInternalServerError
	}
	switch kinded.Kind {
	case journal.KindValidation, bot.KindInvalidInterval:
		return http.StatusBadRequest
	case bot.KindNoActiveConfig:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

func parseNetworkParam(raw string) (chains.Network, error) {
	n, err := chains.ParseNetwork(raw)
	if err != nil {
		return "", dex.Errorf(journal.KindValidation, "unknown network %q", raw)
	}
	return n, nil
}

func (s *Server) handleBotStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.manager.BotStatuses(r.Context(), userFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

type networkRequest struct {
	Network string `json:"network"`
}

func (s *Server) handleBotStart(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	network, err := parseNetworkParam(req.Network)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.StartBot(r.Context(), userFrom(r), network); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleBotStop(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	network, err := parseNetworkParam(req.Network)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.StopBot(r.Context(), userFrom(r), network); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleActiveConfigs(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	if raw := r.URL.Query().Get("network"); raw != "" {
		network, err := parseNetworkParam(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cfg, err := s.manager.ActiveConfig(r.Context(), userID, network)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if cfg == nil {
			writeError(w, http.StatusNotFound,
				dex.Errorf(bot.KindNoActiveConfig, "no active config for network %s", network))
			return
		}
		writeJSON(w, http.StatusOK, cfg)
		return
	}

	configs, err := s.manager.ActiveConfigs(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (s *Server) handleAllConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.manager.AllConfigs(r.Context(), userFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var cfg journal.TradeConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	cfg.UserID = userFrom(r)
	saved, err := s.manager.SaveConfig(r.Context(), &cfg)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleManualTrade(w http.ResponseWriter, r *http.Request) {
	var req bot.ManualTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	tlog, err := s.manager.ExecuteManualTrade(r.Context(), userFrom(r), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tlog)
}

func (s *Server) handleRecentTrades(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("limit must be an integer"))
			return
		}
		limit = n
	}
	trades, err := s.manager.RecentTrades(r.Context(), userFrom(r), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleAllTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.manager.AllTrades(r.Context(), userFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleNetworkStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.NetworkStats(r.Context(), userFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	go s.hub.Serve(conn)
}
