// Package api exposes the engine over HTTP: intent submission, fill
// confirmation, management cycles, status reads and a websocket event
// stream. All market data and execution results come in through these
// endpoints; the core packages never do I/O themselves.
package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"trade-lifecycle-engine/config"
	"trade-lifecycle-engine/internal/engine"
	"trade-lifecycle-engine/internal/events"
	"trade-lifecycle-engine/internal/intent"
	"trade-lifecycle-engine/internal/journal"
	"trade-lifecycle-engine/internal/ledger"
	"trade-lifecycle-engine/internal/market"
	"trade-lifecycle-engine/internal/store"
)

// RateLimiter provides simple in-memory rate limiting per client key
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter allowing limit requests per window
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether the key may make another request now
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	recent := r.requests[key][:0]
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

// Server is the HTTP front of the engine
type Server struct {
	cfg     config.ServerConfig
	engine  *engine.Engine
	journal *journal.Journal
	store   *store.Store
	hub     *WSHub
	limiter *RateLimiter
	router  *gin.Engine
	log     zerolog.Logger
}

// NewServer wires the HTTP server. journal and store may be nil.
func NewServer(cfg config.ServerConfig, eng *engine.Engine, jnl *journal.Journal, st *store.Store, bus *events.EventBus, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:     cfg,
		engine:  eng,
		journal: jnl,
		store:   st,
		hub:     NewWSHub(log),
		limiter: NewRateLimiter(120, time.Minute),
		router:  gin.New(),
		log:     log.With().Str("component", "api").Logger(),
	}

	if bus != nil {
		bus.SubscribeAll(s.hub.BroadcastEvent)
	}
	go s.hub.Run()

	s.router.Use(gin.Recovery())
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: false,
	}))
	s.router.Use(s.rateLimitMiddleware())

	s.routes()
	return s
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebsocket)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/intents", s.handleIntent)
		v1.POST("/orders/confirm", s.handleConfirmOpen)
		v1.POST("/adjustments/confirm", s.handleConfirmAdjust)
		v1.POST("/manage", s.handleManage)
		v1.POST("/results", s.handleResult)
		v1.POST("/equity", s.handleEquity)
		v1.POST("/sync", s.handleSync)

		v1.GET("/positions", s.handlePositions)
		v1.GET("/risk", s.handleRisk)
		v1.GET("/guard", s.handleGuard)
		v1.GET("/mode", s.handleGetMode)
		v1.PUT("/mode", s.handleSetMode)
	}
}

// Run blocks serving HTTP on the configured address
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.log.Info().Str("addr", addr).Msg("http server listening")
	return s.router.Run(addr)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"mode":         s.engine.Mode(),
		"positions":    s.engine.Ledger().Count(),
		"store_online": s.store.Healthy(),
		"ws_clients":   s.hub.ClientCount(),
	})
}

type intentRequest struct {
	Intent  intent.Intent       `json:"intent"`
	Context market.Context      `json:"context"`
	Intel   market.Intelligence `json:"intelligence"`
}

func (s *Server) handleIntent(c *gin.Context) {
	var req intentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := s.engine.EvaluateIntent(req.Intent, req.Context, req.Intel)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	s.journal.RecordDecision(c.Request.Context(), decision)
	c.JSON(http.StatusOK, decision)
}

type confirmOpenRequest struct {
	Spec      engine.OpenOrderSpec `json:"spec"`
	FillPrice float64              `json:"fill_price"`
}

func (s *Server) handleConfirmOpen(c *gin.Context) {
	var req confirmOpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pos, err := s.engine.ConfirmOpen(&req.Spec, req.FillPrice)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pos)
}

type confirmAdjustRequest struct {
	Symbol    string      `json:"symbol"`
	Kind      intent.Kind `json:"kind"`
	Price     float64     `json:"price"`
	DeltaSize float64     `json:"delta_size"`
}

func (s *Server) handleConfirmAdjust(c *gin.Context) {
	var req confirmAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.ConfirmAdjust(req.Symbol, req.Kind, req.Price, req.DeltaSize); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "applied"})
}

type manageRequest struct {
	Contexts map[string]market.Context `json:"contexts"`
}

func (s *Server) handleManage(c *gin.Context) {
	var req manageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.engine.ManageCycle(c.Request.Context(), req.Contexts)
	c.JSON(http.StatusOK, gin.H{"positions": s.engine.Ledger().List()})
}

type resultRequest struct {
	Symbol string  `json:"symbol"`
	PnL    float64 `json:"pnl"`
}

func (s *Server) handleResult(c *gin.Context) {
	var req resultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.engine.RecordTradeResult(req.Symbol, req.PnL)
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

type equityRequest struct {
	Equity           float64 `json:"equity"`
	RealizedPnLToday float64 `json:"realized_pnl_today"`
}

func (s *Server) handleEquity(c *gin.Context) {
	var req equityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.engine.Governor().UpdateEquity(req.Equity, req.RealizedPnLToday)
	c.JSON(http.StatusOK, s.engine.Governor().Snapshot())
}

type syncRequest struct {
	Positions []ledger.ExchangePosition `json:"positions"`
}

func (s *Server) handleSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.engine.SyncExchange(req.Positions)
	c.JSON(http.StatusOK, gin.H{"positions": s.engine.Ledger().List()})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.engine.Ledger().List()})
}

func (s *Server) handleRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Governor().Snapshot())
}

func (s *Server) handleGuard(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"scalp":       s.engine.ScalpGuard().State(),
		"adjustments": s.engine.AdjustGuard().Status(),
	})
}

func (s *Server) handleGetMode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mode": s.engine.Mode()})
}

type modeRequest struct {
	Mode config.Mode `json:"mode"`
}

func (s *Server) handleSetMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.SetMode(req.Mode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": s.engine.Mode()})
}

func (s *Server) handleWebsocket(c *gin.Context) {
	s.hub.ServeWS(c.Writer, c.Request)
}
