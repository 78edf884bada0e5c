package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/whalecopy/internal/store"
	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// handleHealth is the load balancer probe
func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
}

// handleStatus reports service status and queue depth
func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()

	dbStatus := "healthy"
	if err := s.store.Health(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	pending, err := s.store.CountPending(ctx)
	if err != nil {
		pending = -1
	}

	systemStatus := "healthy"
	if dbStatus != "healthy" {
		systemStatus = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    systemStatus,
		"timestamp": time.Now().UTC(),
		"components": gin.H{
			"database": gin.H{"status": dbStatus},
		},
		"signals": gin.H{"pending": pending},
	})
}

type followRequest struct {
	WhaleID           uuid.UUID        `json:"whale_id" binding:"required"`
	AutoCopyEnabled   bool             `json:"auto_copy_enabled"`
	TradeSizeUSDT     *decimal.Decimal `json:"trade_size_usdt"`
	TradeSizePercent  *decimal.Decimal `json:"trade_size_percent"`
	LeverageOverride  *int             `json:"leverage_override"`
	CopyWhaleLeverage bool             `json:"copy_whale_leverage"`
	StopLossPercent   *decimal.Decimal `json:"stop_loss_percent"`
	TakeProfitPercent *decimal.Decimal `json:"take_profit_percent"`
}

// handleFollowWhale creates or updates a follow, enforcing tier limits
func (s *Server) handleFollowWhale(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := parseUUID(c, c.Param("id"))
	if !ok {
		return
	}
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	if _, err := s.store.GetWhale(ctx, req.WhaleID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "whale not found"})
			return
		}
		s.internalError(c, err)
		return
	}

	limits := s.risk.Limits(user.SubscriptionTier)
	if req.LeverageOverride != nil && *req.LeverageOverride > limits.MaxLeverage {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "leverage_override exceeds tier maximum",
			"max":   limits.MaxLeverage,
		})
		return
	}

	// The follow count only gates brand-new follows; updating an active
	// follow always succeeds
	if _, err := s.store.GetFollower(ctx, userID, req.WhaleID); errors.Is(err, store.ErrNotFound) {
		count, err := s.store.CountFollowedWhales(ctx, userID)
		if err != nil {
			s.internalError(c, err)
			return
		}
		if limits.MaxFollowedWhales > 0 && count >= limits.MaxFollowedWhales {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": "followed whale limit reached for tier",
				"max":   limits.MaxFollowedWhales,
			})
			return
		}
	} else if err != nil {
		s.internalError(c, err)
		return
	}

	follow := &store.WhaleFollow{
		UserID:            userID,
		WhaleID:           req.WhaleID,
		AutoCopyEnabled:   req.AutoCopyEnabled,
		TradeSizeUSDT:     req.TradeSizeUSDT,
		TradeSizePercent:  req.TradeSizePercent,
		LeverageOverride:  req.LeverageOverride,
		CopyWhaleLeverage: req.CopyWhaleLeverage,
		StopLossPercent:   req.StopLossPercent,
		TakeProfitPercent: req.TakeProfitPercent,
		Active:            true,
	}
	if err := s.store.UpsertFollow(ctx, follow); err != nil {
		s.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":  userID,
		"whale_id": req.WhaleID,
		"active":   true,
	})
}

// handleUnfollowWhale deactivates a follow
func (s *Server) handleUnfollowWhale(c *gin.Context) {
	userID, ok := parseUUID(c, c.Param("id"))
	if !ok {
		return
	}
	whaleID, ok := parseUUID(c, c.Param("whale_id"))
	if !ok {
		return
	}

	err := s.store.DeactivateFollow(c.Request.Context(), userID, whaleID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "follow not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleListTrades returns a user's trades, filterable by status and symbol
func (s *Server) handleListTrades(c *gin.Context) {
	userID, ok := parseUUID(c, c.Param("id"))
	if !ok {
		return
	}

	var filter store.TradeFilter
	if v := c.Query("status"); v != "" {
		status := store.TradeStatus(v)
		filter.Status = &status
	}
	if v := c.Query("symbol"); v != "" {
		filter.Symbol = &v
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	trades, err := s.store.ListTrades(c.Request.Context(), userID, filter)
	if err != nil {
		s.internalError(c, err)
		return
	}

	out := make([]gin.H, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeJSON(t))
	}
	c.JSON(http.StatusOK, gin.H{"trades": out, "total": len(out)})
}

// handleListPositions returns a user's open positions
func (s *Server) handleListPositions(c *gin.Context) {
	userID, ok := parseUUID(c, c.Param("id"))
	if !ok {
		return
	}

	positions, err := s.store.ListOpenByUser(c.Request.Context(), userID)
	if err != nil {
		s.internalError(c, err)
		return
	}

	out := make([]gin.H, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionJSON(p))
	}
	c.JSON(http.StatusOK, gin.H{"positions": out, "total": len(out)})
}

// handlePortfolio returns balances and aggregate exposure
func (s *Server) handlePortfolio(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := parseUUID(c, c.Param("id"))
	if !ok {
		return
	}

	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	summary, err := s.store.GetPortfolioSummary(ctx, userID)
	if err != nil {
		s.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":           user.ID,
		"subscription_tier": user.SubscriptionTier,
		"total_balance":     user.TotalBalance,
		"available_balance": user.AvailableBalance,
		"open_positions":    summary.OpenPositions,
		"total_invested":    summary.TotalInvested,
		"unrealized_pnl":    summary.UnrealizedPnL,
		"realized_pnl":      summary.RealizedPnL,
	})
}

type copySignalRequest struct {
	Size  decimal.Decimal `json:"size"`
	Venue string          `json:"venue"`
}

// handleCopySignal manually copies a pending signal for one user
func (s *Server) handleCopySignal(c *gin.Context) {
	userID, ok := parseUUID(c, c.Param("id"))
	if !ok {
		return
	}
	signalID, ok := parseUUID(c, c.Param("signal_id"))
	if !ok {
		return
	}

	var req copySignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var venueOverride *venue.Venue
	if req.Venue != "" {
		v := venue.Venue(req.Venue)
		if v != venue.VenueBinance && v != venue.VenueBybit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown venue"})
			return
		}
		venueOverride = &v
	}

	if err := s.trader.CopySignalManually(c.Request.Context(), userID, signalID, req.Size, venueOverride); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "signal_id": signalID, "status": "copied"})
}

type closePositionRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// handleClosePosition closes one open position at market
func (s *Server) handleClosePosition(c *gin.Context) {
	ctx := c.Request.Context()

	positionID, ok := parseUUID(c, c.Param("id"))
	if !ok {
		return
	}
	var req closePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	position, err := s.store.GetPosition(ctx, positionID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	if position.UserID != req.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "position does not belong to user"})
		return
	}
	if position.Status != store.PositionStatusOpen {
		c.JSON(http.StatusConflict, gin.H{"error": "position is not open"})
		return
	}

	if err := s.trader.ClosePosition(ctx, positionID, store.CloseReasonManual, nil); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position_id": positionID, "status": "closed"})
}

// handleGetSignal returns one signal
func (s *Server) handleGetSignal(c *gin.Context) {
	signalID, ok := parseUUID(c, c.Param("id"))
	if !ok {
		return
	}

	sig, err := s.store.GetSignal(c.Request.Context(), signalID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, signalJSON(sig))
}

// handleListDeadLetters returns recent dead letters for operators
func (s *Server) handleListDeadLetters(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	letters, err := s.store.ListDeadLetters(c.Request.Context(), limit)
	if err != nil {
		s.internalError(c, err)
		return
	}

	out := make([]gin.H, 0, len(letters))
	for _, dl := range letters {
		out = append(out, gin.H{
			"id":         dl.ID,
			"task":       dl.Task,
			"args":       dl.Args,
			"error":      dl.Error,
			"created_at": dl.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": out, "total": len(out)})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func parseUUID(c *gin.Context, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func tradeJSON(t *store.Trade) gin.H {
	return gin.H{
		"id":                 t.ID,
		"signal_id":          t.SignalID,
		"whale_id":           t.WhaleID,
		"venue":              t.Venue,
		"market":             t.Market,
		"symbol":             t.Symbol,
		"side":               t.Side,
		"order_type":         t.OrderType,
		"requested_quantity": t.RequestedQuantity,
		"trade_value_usdt":   t.TradeValueUSDT,
		"leverage":           t.Leverage,
		"status":             t.Status,
		"executed_price":     t.ExecutedPrice,
		"executed_quantity":  t.ExecutedQuantity,
		"fee":                t.Fee,
		"realized_pnl":       t.RealizedPnL,
		"created_at":         t.CreatedAt,
		"executed_at":        t.ExecutedAt,
		"error":              t.Error,
	}
}

func positionJSON(p *store.Position) gin.H {
	return gin.H{
		"id":                p.ID,
		"whale_id":          p.WhaleID,
		"venue":             p.Venue,
		"market":            p.Market,
		"symbol":            p.Symbol,
		"side":              p.Side,
		"leverage":          p.Leverage,
		"entry_price":       p.EntryPrice,
		"current_price":     p.CurrentPrice,
		"quantity":          p.Quantity,
		"stop_loss_price":   p.StopLossPrice,
		"take_profit_price": p.TakeProfitPrice,
		"unrealized_pnl":    p.UnrealizedPnL,
		"status":            p.Status,
		"opened_at":         p.OpenedAt,
	}
}

func signalJSON(sig *store.Signal) gin.H {
	return gin.H{
		"id":               sig.ID,
		"whale_id":         sig.WhaleID,
		"source":           sig.Source,
		"action":           sig.Action,
		"symbol":           sig.Symbol,
		"market":           sig.Market,
		"venue":            sig.Venue,
		"is_close":         sig.IsClose,
		"whale_leverage":   sig.WhaleLeverage,
		"amount_hint_usd":  sig.AmountHintUSD,
		"price_at_signal":  sig.PriceAtSignal,
		"confidence":       sig.Confidence,
		"confidence_score": sig.ConfidenceScore,
		"priority":         sig.Priority,
		"status":           sig.Status,
		"created_at":       sig.CreatedAt,
		"processed_at":     sig.ProcessedAt,
		"trades_executed":  sig.TradesExecuted,
		"error":            sig.Error,
	}
}
