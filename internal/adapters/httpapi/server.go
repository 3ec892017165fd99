// Package httpapi exposes the market service over JSON/HTTP with gin.
//
// The caller's identity comes from the X-Account-ID header. Authentication is the
// job of whatever sits in front of this server.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alejandrodnm/lmsrmarket/internal/application/market"
	"github.com/alejandrodnm/lmsrmarket/internal/domain"
)

// CallerHeader names the header carrying the caller's account id.
const CallerHeader = "X-Account-ID"

// Server wires HTTP routes to a market.Service.
type Server struct {
	svc *market.Service
}

// New creates a Server.
func New(svc *market.Service) *Server {
	return &Server{svc: svc}
}

// Router builds the gin engine.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	v1 := r.Group("/v1")
	v1.GET("/accounts/:account/balances", s.handleAccountBalances)

	markets := v1.Group("/markets")
	markets.POST("", s.handleCreate)
	markets.GET("", s.handleList)

	id := markets.Group("/:id")
	id.GET("", s.handleGet)
	id.GET("/stage", s.handleStage)
	id.GET("/prices", s.handlePrices)
	id.GET("/quote", s.handleQuote)
	id.GET("/transfers", s.handleTransfers)
	id.GET("/transfers/:transfer", s.handleTransfer)
	id.GET("/balances/:account", s.handleBalance)
	id.POST("/open", s.handleOpen)
	id.POST("/pause", s.handlePause)
	id.POST("/resolve", s.handleResolve)
	id.POST("/deposit", s.handleDeposit)
	id.POST("/buy", s.handleBuy)
	id.POST("/sell", s.handleSell)
	id.POST("/withdraw-fees", s.handleWithdrawFees)
	id.POST("/redeem", s.handleRedeem)

	return r
}

// requestLogger logs one line per request at debug, or warn for server errors.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"elapsed", time.Since(start),
		)
	}
}

// --- helpers ---

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidStageTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrInsufficientShares),
		errors.Is(err, domain.ErrUndercollateralized):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidConfiguration),
		errors.Is(err, domain.ErrInvalidPayoutVector),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidOutcome),
		errors.Is(err, domain.ErrCollateralMismatch),
		errors.Is(err, domain.ErrArithmeticOverflow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// marketID parses the :id path parameter.
func marketID(c *gin.Context) (domain.MarketID, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid market id "+strconv.Quote(c.Param("id")))
		return 0, false
	}
	return domain.MarketID(id), true
}

// caller reads the X-Account-ID header; an empty header aborts with 401.
func caller(c *gin.Context) (domain.AccountID, bool) {
	account := strings.TrimSpace(c.GetHeader(CallerHeader))
	if account == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: CallerHeader + " header required"})
		return "", false
	}
	return domain.AccountID(account), true
}

// bind decodes the JSON body into req.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return false
	}
	return true
}
