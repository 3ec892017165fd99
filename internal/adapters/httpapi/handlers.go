package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/lmsrmarket/internal/domain"
)

type outcomeRequest struct {
	ShortName string `json:"short_name" binding:"required"`
	LongName  string `json:"long_name"`
}

type createRequest struct {
	Title              string           `json:"title" binding:"required"`
	Description        string           `json:"description"`
	Operator           string           `json:"operator"`
	Oracle             string           `json:"oracle"`
	FeeOwner           string           `json:"fee_owner"`
	Outcomes           []outcomeRequest `json:"outcomes" binding:"required"`
	CollateralToken    string           `json:"collateral_token" binding:"required"`
	CollateralDecimals uint8            `json:"collateral_decimals"`
	TradeFeeBps        uint32           `json:"trade_fee_bps"`
	ResolutionTime     time.Time        `json:"resolution_time"`
	EndTime            time.Time        `json:"end_time"`
	Liquidity          *decimal.Decimal `json:"liquidity"`
}

type resolveRequest struct {
	Payouts []decimal.Decimal `json:"payouts" binding:"required"`
}

type depositRequest struct {
	Token  string          `json:"token" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type buyRequest struct {
	Outcome uint32          `json:"outcome"`
	Shares  int64           `json:"shares"`
	Token   string          `json:"token" binding:"required"`
	Payment decimal.Decimal `json:"payment"`
}

type sellRequest struct {
	Outcome uint32 `json:"outcome"`
	Shares  int64  `json:"shares"`
}

type marketResponse struct {
	domain.Market
	Prices []decimal.Decimal `json:"prices"`
}

type tradeResponse struct {
	Side    domain.Side     `json:"side"`
	Outcome uint32          `json:"outcome"`
	Shares  int64           `json:"shares"`
	Value   decimal.Decimal `json:"value"`
	Fee     decimal.Decimal `json:"fee"`
	Total   decimal.Decimal `json:"total"`
	Payout  decimal.Decimal `json:"payout"` // refund on buy, net proceeds on sell
}

type quoteResponse struct {
	Side   domain.Side     `json:"side"`
	Shares int64           `json:"shares"`
	Value  decimal.Decimal `json:"value"`
	Fee    decimal.Decimal `json:"fee"`
	Total  decimal.Decimal `json:"total"`
}

type balanceResponse struct {
	Account domain.AccountID `json:"account"`
	Outcome uint32           `json:"outcome"`
	Shares  int64            `json:"shares"`
	Found   bool             `json:"found"`
}

func toTrade(r domain.TradeReceipt) tradeResponse {
	return tradeResponse{
		Side:    r.Side,
		Outcome: r.Outcome,
		Shares:  r.Shares,
		Value:   r.Value,
		Fee:     r.Fee,
		Total:   r.Total,
		Payout:  r.Payout,
	}
}

func (s *Server) handleCreate(c *gin.Context) {
	creator, ok := caller(c)
	if !ok {
		return
	}
	var req createRequest
	if !bind(c, &req) {
		return
	}

	cfg := domain.MarketConfig{
		Title:              req.Title,
		Description:        req.Description,
		Creator:            creator,
		Operator:           domain.AccountID(req.Operator),
		Oracle:             domain.AccountID(req.Oracle),
		FeeOwner:           domain.AccountID(req.FeeOwner),
		CollateralToken:    req.CollateralToken,
		CollateralDecimals: req.CollateralDecimals,
		TradeFeeBps:        req.TradeFeeBps,
		ResolutionTime:     req.ResolutionTime,
		EndTime:            req.EndTime,
	}
	for i, o := range req.Outcomes {
		cfg.Outcomes = append(cfg.Outcomes, domain.Outcome{ID: uint32(i), ShortName: o.ShortName, LongName: o.LongName})
	}
	if req.Liquidity != nil {
		cfg.Liquidity = decimal.NewNullDecimal(*req.Liquidity)
	}

	id, err := s.svc.Create(c.Request.Context(), cfg)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) handleList(c *gin.Context) {
	offset, err := strconv.ParseUint(c.DefaultQuery("offset", "0"), 10, 64)
	if err != nil {
		badRequest(c, "invalid offset")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		badRequest(c, "invalid limit")
		return
	}
	markets, err := s.svc.List(c.Request.Context(), domain.MarketID(offset), limit)
	if err != nil {
		fail(c, err)
		return
	}
	count, err := s.svc.Count(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	c.JSON(http.StatusOK, gin.H{"count": count, "markets": markets})
}

func (s *Server) handleGet(c *gin.Context) {
	id, ok := marketID(c)
	if !ok {
		return
	}
	m, err := s.svc.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, marketResponse{Market: m, Prices: m.Prices()})
}

func (s *Server) handleStage(c *gin.Context) {
	id, ok := marketID(c)
	if !ok {
		return
	}
	stage, err := s.svc.Stage(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stage)
}

func (s *Server) handlePrices(c *gin.Context) {
	id, ok := marketID(c)
	if !ok {
		return
	}
	if raw, set := c.GetQuery("outcome"); set {
		outcome, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			badRequest(c, "invalid outcome")
			return
		}
		price, err := s.svc.Price(c.Request.Context(), id, uint32(outcome))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"outcome": outcome, "price": price})
		return
	}
	prices, err := s.svc.Prices(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prices": prices})
}

// handleQuote prices ?outcome=&shares=&side=buy|sell, or with ?budget= returns
// how many shares the budget buys.
func (s *Server) handleQuote(c *gin.Context) {
	id, ok := marketID(c)
	if !ok {
		return
	}
	outcome, err := strconv.ParseUint(c.Query("outcome"), 10, 32)
	if err != nil {
		badRequest(c, "invalid outcome")
		return
	}

	if raw, set := c.GetQuery("budget"); set {
		budget, err := decimal.NewFromString(raw)
		if err != nil {
			badRequest(c, "invalid budget")
			return
		}
		shares, err := s.svc.SharesForBudget(c.Request.Context(), id, uint32(outcome), budget)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"outcome": outcome, "budget": budget, "shares": shares})
		return
	}

	shares, err := strconv.ParseInt(c.Query("shares"), 10, 64)
	if err != nil {
		badRequest(c, "invalid shares")
		return
	}
	side := domain.Side(strings.ToUpper(c.DefaultQuery("side", "buy")))
	q, err := s.svc.Quote(c.Request.Context(), id, uint32(outcome), shares, side)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, quoteResponse{Side: q.Side, Shares: q.Shares, Value: q.Value, Fee: q.Fee, Total: q.Total})
}

func (s *Server) handleTransfers(c *gin.Context) {
	id, ok := marketID(c)
	if !ok {
		return
	}
	transfers, err := s.svc.Transfers(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if transfers == nil {
		transfers = []domain.Transfer{}
	}
	c.JSON(http.StatusOK, gin.H{"transfers": transfers})
}

func (s *Server) handleTransfer(c *gin.Context) {
	id, ok := marketID(c)
	if !ok {
		return
	}
	t, err := s.svc.Transfer(c.Request.Context(), id, c.Param("transfer"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleBalance(c *gin.Context) {
	id, ok := marketID(c)
	if !ok {
		return
	}
	outcome, err := strconv.ParseUint(c.Query("outcome"), 10, 32)
	if err != nil {
		badRequest(c, "invalid outcome")
		return
	}
	account := domain.AccountID(c.Param("account"))
	shares, found, err := s.svc.Balance(c.Request.Context(), id, account, uint32(outcome))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{Account: account, Outcome: uint32(outcome), Shares: shares, Found: found})
}

func (s *Server) handleAccountBalances(c *gin.Context) {
	positions, err := s.svc.AccountBalances(c.Request.Context(), domain.AccountID(c.Param("account")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) handleOpen(c *gin.Context) {
	id, ok := marketID(c)
	if !ok {
		return
	}
	who, ok := caller(c)
	if !ok {
		return
	}
	if err := s.svc.Open(c.Request.Context(), id, who); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.Open())
}

func (s *Server) handlePause(c *gin.Context) {
	id, ok := marketID(c)
	if !ok {
		return
	}
	who, ok := caller(c)
	if !ok {
		return
	}
	if err := s.svc.Pause(c.Request.Context(), id, who); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.Paused())
}

func (s *Server) handleResolve(c *gin.Context) {
	id, ok := marketID(c)
	if !ok {
		return
	}
	who, ok := caller(c)
	if !ok {
		return
	}
	var req resolveRequest
	if !bind(c, &req) {
		return
	}
	stage, err := s.svc.Resolve(c.Request.Context(), id, who, req.Payouts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stage)
}

func (s *Server) handleDeposit(c *gin.Context) {
	id, ok := marketID(c)
	if !ok {
		return
	}
	var req depositRequest
	if !bind(c, &req) {
		return
	}
	if err := s.svc.Deposit(c.Request.Context(), id, req.Token, req.Amount); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleBuy(c *gin.Context) {
	id, ok := marketID(c)
	if !ok {
		return
	}
	who, ok := caller(c)
	if !ok {
		return
	}
	var req buyRequest
	if !bind(c, &req) {
		return
	}
	receipt, err := s.svc.Buy(c.Request.Context(), id, who, req.Outcome, req.Shares, req.Token, req.Payment)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTrade(receipt))
}

func (s *Server) handleSell(c *gin.Context) {
	id, ok := marketID(c)
	if !ok {
		return
	}
	who, ok := caller(c)
	if !ok {
		return
	}
	var req sellRequest
	if !bind(c, &req) {
		return
	}
	receipt, err := s.svc.Sell(c.Request.Context(), id, who, req.Outcome, req.Shares)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTrade(receipt))
}

func (s *Server) handleWithdrawFees(c *gin.Context) {
	id, ok := marketID(c)
	if !ok {
		return
	}
	tr, err := s.svc.WithdrawFees(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if tr == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, tr)
}

func (s *Server) handleRedeem(c *gin.Context) {
	id, ok := marketID(c)
	if !ok {
		return
	}
	who, ok := caller(c)
	if !ok {
		return
	}
	receipt, err := s.svc.Redeem(c.Request.Context(), id, who)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": receipt.Account, "shares": receipt.Shares, "payout": receipt.Payout})
}
