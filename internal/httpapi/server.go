// Package httpapi ships the minimal net/http glue needed to exercise the
// Signal Router end-to-end (§6); the dashboard/auth front-end itself
// remains an external collaborator. Grounded on the teacher's
// web/server.go ServeMux + method-pattern routing.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vitos/tradeexec/internal/domain"
	"github.com/vitos/tradeexec/internal/reporting"
	"github.com/vitos/tradeexec/internal/router"
)

// streamUpgrader upgrades GET /api/stream to a websocket that pushes the
// open-position view on an interval, grounded on the teacher's adapter
// websocket loop but run server-side here to push rather than consume.
var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Server struct {
	mux       *http.ServeMux
	server    *http.Server
	router    *router.Router
	reporting *reporting.Reporting
	resolve   func(ctx context.Context, symbol string, sig domain.TradeSignal) (*domain.Position, error)
	closeAll  func(ctx context.Context) map[string]bool
	log       *zap.Logger
}

func NewServer(addr string, r *router.Router, rep *reporting.Reporting, resolve func(ctx context.Context, symbol string, sig domain.TradeSignal) (*domain.Position, error), closeAll func(ctx context.Context) map[string]bool, log *zap.Logger) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		router:    r,
		reporting: rep,
		resolve:   resolve,
		closeAll:  closeAll,
		log:       log,
	}
	s.routes()
	s.server = &http.Server{Addr: addr, Handler: s.mux}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/trigger", s.handleTrigger)
	s.mux.HandleFunc("POST /api/close_all", s.handleCloseAll)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/position_history", s.handleHistory)
	s.mux.HandleFunc("GET /api/daily_pnl", s.handleDailyPnL)
	s.mux.HandleFunc("GET /api/stream", s.handleStream)
}

func (s *Server) Start() error {
	s.log.Info("starting http api", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type triggerResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, req *http.Request) {
	var sig domain.TradeSignal
	if err := json.NewDecoder(req.Body).Decode(&sig); err != nil {
		writeJSON(w, http.StatusBadRequest, triggerResponse{Success: false, Message: err.Error()})
		return
	}

	results, err := s.router.Dispatch(req.Context(), sig, s.resolve)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, triggerResponse{Success: false, Message: err.Error()})
		return
	}

	data := make(map[string]string, len(results))
	allOK := true
	for sym, rerr := range results {
		if rerr != nil {
			data[sym] = rerr.Error()
			allOK = false
		} else {
			data[sym] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, triggerResponse{Success: allOK, Message: "dispatched", Data: data})
}

func (s *Server) handleCloseAll(w http.ResponseWriter, req *http.Request) {
	outcomes := s.closeAll(req.Context())
	data := make(map[string]string, len(outcomes))
	for sym, ok := range outcomes {
		if ok {
			data[sym] = "closed"
		} else {
			data[sym] = "already closing"
		}
	}
	writeJSON(w, http.StatusOK, triggerResponse{Success: true, Message: "close_all processed", Data: data})
}

func (s *Server) handleStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.reporting.OpenPositions())
}

func (s *Server) handleHistory(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	symbol := q.Get("symbol")
	limit := 50
	start, _ := time.Parse("2006-01-02", q.Get("start_date"))
	end, err := time.Parse("2006-01-02", q.Get("end_date"))
	if err != nil {
		end = time.Now()
	}

	history, err := s.reporting.History(req.Context(), symbol, start, end, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, triggerResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleDailyPnL(w http.ResponseWriter, req *http.Request) {
	rollup, winRate, err := s.reporting.DailyPnL(req.Context(), time.Now())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, triggerResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"realized_pnl": rollup.RealizedPnL.String(),
		"closed_count": rollup.ClosedCount,
		"win_rate":     winRate,
	})
}

// handleStream pushes the open-position view to the client every second
// until the connection closes or the write fails.
func (s *Server) handleStream(w http.ResponseWriter, req *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, req, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.reporting.OpenPositions()); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"success":false,"message":"encode error"}`)
	}
}
