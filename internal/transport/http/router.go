package apihttp

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tradeguard/internal/logger"
	"tradeguard/internal/market"
	"tradeguard/internal/mcp"
	"tradeguard/internal/orchestrator"
	"tradeguard/internal/session"
	"tradeguard/internal/signal"
	"tradeguard/internal/store"
	"tradeguard/internal/store/journal"
	"tradeguard/internal/watch"
)

// Router 挂载运维 API。所有改变信号状态的请求都经过 Manager 串行处理。
type Router struct {
	st       store.Store
	registry *mcp.Registry
	monitor  *session.Monitor
	cal      *market.Calendar
	engine   *orchestrator.Engine
	mgr      *signal.Manager
	watch    *watch.Service
	journal  *journal.Store
}

func NewRouter(st store.Store, registry *mcp.Registry, monitor *session.Monitor,
	cal *market.Calendar, engine *orchestrator.Engine, mgr *signal.Manager, w *watch.Service,
	jr *journal.Store) *Router {
	return &Router{st: st, registry: registry, monitor: monitor, cal: cal,
		engine: engine, mgr: mgr, watch: w, journal: jr}
}

func (r *Router) Register(group *gin.RouterGroup) {
	group.GET("/status", r.handleStatus)
	group.POST("/analyze", r.handleAnalyze)

	group.GET("/signals", r.handleRecentSignals)
	group.GET("/signals/pending", r.handlePendingSignals)
	group.POST("/signals/:id/approve", r.decision(func(c *gin.Context, id string) error {
		return r.mgr.Approve(c.Request.Context(), id)
	}))
	group.POST("/signals/:id/confirm", r.decision(func(c *gin.Context, id string) error {
		force := c.Query("force") == "true" || c.Query("force") == "1"
		return r.mgr.Confirm(c.Request.Context(), id, force)
	}))
	group.POST("/signals/:id/reject", r.decision(func(c *gin.Context, id string) error {
		return r.mgr.Reject(c.Request.Context(), id)
	}))
	// cancel is reject on an already-approved signal; same transition.
	group.POST("/signals/:id/cancel", r.decision(func(c *gin.Context, id string) error {
		return r.mgr.Reject(c.Request.Context(), id)
	}))

	group.POST("/positions/close", r.handleClosePosition)
	group.POST("/halt", r.handleHalt)

	group.GET("/watchlist", r.handleWatchlist)
	group.POST("/watchlist", r.handleWatchAdd)
	group.DELETE("/watchlist/:symbol", r.handleWatchRemove)

	group.GET("/performance", r.handlePerformance)
	group.GET("/analyses", r.handleAnalyses)
	group.GET("/journal", r.handleJournal)
	group.GET("/signals/:id/journal", r.handleSignalJournal)
}

func (r *Router) handleHealthz(c *gin.Context) {
	status := "ok"
	if r.registry != nil && !r.registry.Connected() {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (r *Router) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	ms := r.cal.Status()
	halted, err := r.st.Flag(ctx, store.FlagTradingHalted)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"market": gin.H{
			"phase":     string(ms.Phase),
			"open":      ms.Open,
			"next_open": ms.NextOpen,
		},
		"session":        r.monitor.Snapshot(),
		"backends":       r.registry.Status(),
		"trading_halted": halted == store.FlagOn,
	})
}

type analyzeRequest struct {
	Prompt  string `json:"prompt"`
	Trigger string `json:"trigger"`
}

// handleAnalyze runs one reasoning pass and hands any extracted signals
// to the approval pipeline.
func (r *Router) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = "manual"
	}

	res, err := r.engine.Run(c.Request.Context(), trigger, req.Prompt)
	if err != nil {
		internalError(c, err)
		return
	}

	signalIDs := make([]string, 0, len(res.Signals))
	for _, sig := range res.Signals {
		rec, err := r.mgr.Ingest(c.Request.Context(), sig, trigger)
		if err != nil {
			logger.Warnf("api: ingest %s %s failed: %v", sig.Action, sig.Ticker, err)
			continue
		}
		if rec != nil {
			signalIDs = append(signalIDs, rec.SignalID)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"trace_id":   res.TraceID,
		"answer":     res.Answer,
		"rounds":     res.Rounds,
		"tool_calls": len(res.ToolCalls),
		"signal_ids": signalIDs,
	})
}

func (r *Router) handleRecentSignals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sigs, err := r.st.RecentSignals(c.Request.Context(), limit)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": sigs})
}

func (r *Router) handlePendingSignals(c *gin.Context) {
	sigs, err := r.st.PendingSignals(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": sigs})
}

// decision wraps a Manager transition and maps its error taxonomy onto
// HTTP status codes.
func (r *Router) decision(fn func(c *gin.Context, id string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		err := fn(c, id)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"signal_id": id, "ok": true})
			return
		}

		var stateErr *signal.StateError
		var closedErr *signal.MarketClosedError
		switch {
		case errors.Is(err, signal.ErrUnknownSignal):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown signal", "signal_id": id})
		case errors.As(err, &closedErr):
			c.JSON(http.StatusConflict, gin.H{
				"error":     err.Error(),
				"phase":     string(closedErr.Phase),
				"next_open": closedErr.NextOpen,
			})
		case errors.As(err, &stateErr):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": stateErr.Status})
		case errors.Is(err, session.ErrSessionDown):
			// Withheld, not failed. The approval survives for a retry.
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "signal_id": id})
		default:
			internalError(c, err)
		}
	}
}

type closeRequest struct {
	Ticker   string  `json:"ticker"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

func (r *Router) handleClosePosition(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Ticker == "" || req.Quantity <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticker and positive quantity are required"})
		return
	}
	rec, err := r.mgr.ClosePosition(c.Request.Context(), req.Ticker, req.Quantity, req.Price)
	if err != nil {
		internalError(c, err)
		return
	}
	resp := gin.H{"ok": true}
	if rec != nil {
		resp["signal_id"] = rec.SignalID
		resp["status"] = rec.Status
	}
	c.JSON(http.StatusOK, resp)
}

type haltRequest struct {
	Halted bool `json:"halted"`
}

func (r *Router) handleHalt(c *gin.Context) {
	var req haltRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := r.mgr.Halt(c.Request.Context(), req.Halted); err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trading_halted": req.Halted})
}

func (r *Router) handleWatchlist(c *gin.Context) {
	items, err := r.watch.List(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"watchlist": items})
}

type watchAddRequest struct {
	Symbol string `json:"symbol"`
	Note   string `json:"note"`
}

func (r *Router) handleWatchAdd(c *gin.Context) {
	var req watchAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := r.watch.Add(c.Request.Context(), req.Symbol, req.Note); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": strings.ToUpper(strings.TrimSpace(req.Symbol))})
}

func (r *Router) handleWatchRemove(c *gin.Context) {
	symbol := c.Param("symbol")
	if err := r.watch.Remove(c.Request.Context(), symbol); err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": strings.ToUpper(symbol)})
}

func (r *Router) handlePerformance(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)
	stats, err := r.st.Performance(c.Request.Context(), since)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "stats": stats})
}

func (r *Router) handleAnalyses(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	logs, err := r.st.RecentAnalyses(c.Request.Context(), limit)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analyses": logs})
}

func (r *Router) handleJournal(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := r.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (r *Router) handleSignalJournal(c *gin.Context) {
	events, err := r.journal.BySignal(c.Request.Context(), c.Param("id"))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signal_id": c.Param("id"), "events": events})
}

func internalError(c *gin.Context, err error) {
	logger.Errorf("api: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
