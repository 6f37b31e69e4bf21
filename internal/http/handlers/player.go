package handlers

import (
	"net/http"
	"time"

	"idle_mining/internal/domain"

	"github.com/gin-gonic/gin"
)

// GetPlayer returns the player record accrued to now
func (h *Handler) GetPlayer(c *gin.Context) {
	res, err := h.Coordinator.Get(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type HeartbeatRequest struct {
	At *time.Time `json:"at"`
}

func (h *Handler) Heartbeat(c *gin.Context) {
	var req HeartbeatRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	var at time.Time
	if req.At != nil {
		at = *req.At
	}

	res, err := h.Coordinator.Heartbeat(c.Request.Context(), c.Param("address"), at)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type PurchaseRequest struct {
	Tier     domain.Tier `json:"tier"`
	Quantity int64       `json:"quantity"`
	Cost     float64     `json:"cost"`
}

// PurchasePickaxe credits pickaxes whose payment was verified upstream
func (h *Handler) PurchasePickaxe(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	res, err := h.Coordinator.PurchasePickaxe(c.Request.Context(), c.Param("address"), req.Tier, req.Quantity, req.Cost)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type SellRequest struct {
	Amount float64 `json:"amount"`
}

func (h *Handler) SellCurrency(c *gin.Context) {
	var req SellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	res, err := h.Coordinator.SellCurrency(c.Request.Context(), c.Param("address"), req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GrantLand(c *gin.Context) {
	res, err := h.Coordinator.GrantLand(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type ReferralRequest struct {
	EventKey string           `json:"event_key"`
	Gold     float64          `json:"gold"`
	Pickaxes domain.Inventory `json:"pickaxes"`
}

// CreditReferral applies a referral reward once per event key
func (h *Handler) CreditReferral(c *gin.Context) {
	var req ReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	reward := domain.ReferralReward{Gold: req.Gold, Pickaxes: req.Pickaxes}
	res, err := h.Coordinator.CreditReferral(c.Request.Context(), c.Param("address"), req.EventKey, reward)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Catalog returns the pickaxe catalog and sell parameters
func (h *Handler) Catalog(c *gin.Context) {
	c.JSON(http.StatusOK, h.Coordinator.Catalog())
}
