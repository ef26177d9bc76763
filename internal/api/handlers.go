package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/storage"
)

const (
	defaultTradesLimit = 50
	defaultAuditLimit  = 100
	maxListLimit       = 1000
)

type tradeResponse struct {
	TradeUUID       string   `json:"trade_uuid"`
	WalletAddress   string   `json:"wallet_address"`
	Token           string   `json:"token"`
	Strategy        string   `json:"strategy"`
	Action          string   `json:"action"`
	Amount          string   `json:"amount_sol"`
	Status          string   `json:"status"`
	RetryCount      int      `json:"retry_count"`
	EntrySignature  string   `json:"entry_signature,omitempty"`
	ExitSignature   string   `json:"exit_signature,omitempty"`
	SourceSignature string   `json:"source_signature"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	RealizedPnLUSD  *float64 `json:"realized_pnl_usd,omitempty"`
	CreatedAt       int64    `json:"created_at"`
	UpdatedAt       int64    `json:"updated_at"`
}

func toTradeResponse(t *domain.Trade) tradeResponse {
	return tradeResponse{
		TradeUUID:       t.TradeUUID,
		WalletAddress:   t.WalletAddress,
		Token:           t.Token,
		Strategy:        string(t.Strategy),
		Action:          string(t.Action),
		Amount:          t.Amount.String(),
		Status:          string(t.Status),
		RetryCount:      t.RetryCount,
		EntrySignature:  t.EntrySignature,
		ExitSignature:   t.ExitSignature,
		SourceSignature: t.SourceSignature,
		ErrorMessage:    t.ErrorMessage,
		RealizedPnLUSD:  t.RealizedPnLUSD,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

type auditResponse struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	OldValue  string `json:"old_value"`
	NewValue  string `json:"new_value"`
	Actor     string `json:"actor"`
	Reason    string `json:"reason"`
	CreatedAt int64  `json:"created_at"`
}

type queueResponse struct {
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Total    int `json:"total"`
	Capacity int `json:"capacity"`
}

func toQueueResponse(d domain.QueueDepths) queueResponse {
	return queueResponse{
		High:     d.High,
		Medium:   d.Medium,
		Low:      d.Low,
		Total:    d.Total,
		Capacity: d.Capacity,
	}
}

type breakerResponse struct {
	State               string `json:"state"`
	TrippedAt           *int64 `json:"tripped_at,omitempty"`
	Reason              string `json:"reason,omitempty"`
	Cause               string `json:"cause,omitempty"`
	CooldownRemainingMs int64  `json:"cooldown_remaining_ms"`
	LastCheck           int64  `json:"last_check"`
}

func (s *Server) breakerState() breakerResponse {
	snap := s.breaker.Snapshot()
	resp := breakerResponse{
		State:               string(snap.State),
		TrippedAt:           snap.TrippedAt,
		CooldownRemainingMs: s.breaker.RemainingCooldown().Milliseconds(),
		LastCheck:           snap.LastCheck,
	}
	if snap.Reason != nil {
		resp.Reason = snap.Reason.String()
		resp.Cause = string(snap.Reason.Cause())
	}
	return resp
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statusResponse struct {
	Status    string          `json:"status"`
	Uptime    string          `json:"uptime"`
	Mode      string          `json:"mode"`
	Breaker   breakerResponse `json:"breaker"`
	Queue     queueResponse   `json:"queue"`
	WalletSol *float64        `json:"wallet_sol,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := statusResponse{
		Status:  "ok",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Mode:    string(s.executor.Status().Mode),
		Breaker: s.breakerState(),
		Queue:   toQueueResponse(s.queue.Depths()),
	}

	if s.rpc != nil && s.wallet != "" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if lamports, err := s.rpc.GetBalance(ctx, s.wallet); err == nil {
			sol := float64(lamports) / 1e9
			resp.WalletSol = &sol
		} else {
			s.log.Warn().Err(err).Msg("status balance lookup failed")
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListTrades(c *gin.Context) {
	limit, ok := limitParam(c, defaultTradesLimit)
	if !ok {
		return
	}

	trades, err := s.trades.ListRecent(c.Request.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list trades failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list trades failed"})
		return
	}

	resp := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		resp = append(resp, toTradeResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"trades": resp, "count": len(resp)})
}

func (s *Server) handleGetTrade(c *gin.Context) {
	uuid := c.Param("uuid")

	trade, err := s.trades.GetByUUID(c.Request.Context(), uuid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "trade not found"})
			return
		}
		s.log.Error().Err(err).Str("trade_uuid", uuid).Msg("get trade failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get trade failed"})
		return
	}
	c.JSON(http.StatusOK, toTradeResponse(trade))
}

func (s *Server) handleQueue(c *gin.Context) {
	c.JSON(http.StatusOK, toQueueResponse(s.queue.Depths()))
}

func (s *Server) handleBreaker(c *gin.Context) {
	c.JSON(http.StatusOK, s.breakerState())
}

func (s *Server) handleAudit(c *gin.Context) {
	limit, ok := limitParam(c, defaultAuditLimit)
	if !ok {
		return
	}

	var (
		entries []*domain.AuditEntry
		err     error
	)
	if key := c.Query("key"); key != "" {
		entries, err = s.audit.ListByKey(c.Request.Context(), key, limit)
	} else {
		entries, err = s.audit.ListRecent(c.Request.Context(), limit)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("list audit failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list audit failed"})
		return
	}

	resp := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, auditResponse{
			ID:        e.ID,
			Key:       e.Key,
			OldValue:  e.OldValue,
			NewValue:  e.NewValue,
			Actor:     e.Actor,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": resp, "count": len(resp)})
}

type breakerOverrideRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (s *Server) handleBreakerTrip(c *gin.Context) {
	var req breakerOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	s.breaker.ForceTrip(c.Request.Context(), req.Actor, req.Reason)
	s.log.Warn().Str("actor", req.Actor).Str("reason", req.Reason).Msg("breaker tripped via api")
	c.JSON(http.StatusOK, s.breakerState())
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	var req breakerOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	s.breaker.ForceReset(c.Request.Context(), req.Actor, req.Reason)
	s.log.Warn().Str("actor", req.Actor).Str("reason", req.Reason).Msg("breaker reset via api")
	c.JSON(http.StatusOK, s.breakerState())
}

// limitParam parses ?limit= with a default, rejecting garbage but letting
// explicit 0 through (stores treat it as no limit).
func limitParam(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}
