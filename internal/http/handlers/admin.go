package handlers

import (
	"net/http"
	"strconv"

	"idle_mining/internal/repository"

	"github.com/gin-gonic/gin"
)

// ListPlayers pages through stored records: ?after=<address>&limit=<n>
func (h *Handler) ListPlayers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	players, err := h.Admin.ListPlayers(c.Request.Context(), repository.ListParams{
		After: c.Query("after"),
		Limit: limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{"players": players}
	if n := len(players); n > 0 {
		resp["next"] = players[n-1].Address
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) AdminGetPlayer(c *gin.Context) {
	view, err := h.Admin.GetPlayer(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) PlayerLedger(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.Admin.Ledger(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) Stats(c *gin.Context) {
	st, err := h.Admin.GetStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) ListDegraded(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": h.Admin.ListDegraded()})
}

func (h *Handler) Reconcile(c *gin.Context) {
	rec, err := h.Admin.Reconcile(c.Request.Context(), c.Param("address"), c.GetHeader(ConfirmTokenHeader))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (h *Handler) Discard(c *gin.Context) {
	if err := h.Admin.Discard(c.Request.Context(), c.Param("address"), c.GetHeader(ConfirmTokenHeader)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ResetPlayer(c *gin.Context) {
	if err := h.Admin.ResetPlayer(c.Request.Context(), c.Param("address"), c.GetHeader(ConfirmTokenHeader)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
