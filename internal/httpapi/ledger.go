package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/facturo/facturo/internal/chainledger"
)

// LedgerHandler exposes read-only HTTP endpoints over the fiscal chains.
// One deployment serves several independent chains (registration,
// submission), addressed by profile name in the path.
type LedgerHandler struct {
	chains map[string]chainledger.Ledger
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler over the named chains.
func NewLedgerHandler(chains map[string]chainledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{chains: chains, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledgers/:profile")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
		l.GET("/entries/:idx", h.GetEntry)
		l.GET("/successor/:fingerprint", h.Successor)
		l.GET("/invoices/:invoiceID", h.LatestForInvoice)
	}
}

func (h *LedgerHandler) chain(c *gin.Context) (chainledger.Ledger, bool) {
	profile := c.Param("profile")
	l, ok := h.chains[profile]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown chain profile: " + profile})
		return nil, false
	}
	return l, true
}

// Overview handles GET /ledgers/:profile — chain length and current head.
func (h *LedgerHandler) Overview(c *gin.Context) {
	l, ok := h.chain(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	count, err := l.Len(ctx)
	if err != nil {
		h.ledgerError(c, err, "ledger Len")
		return
	}
	head, err := l.LastFingerprint(ctx)
	if err != nil {
		h.ledgerError(c, err, "ledger LastFingerprint")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile": c.Param("profile"),
		"entries": count,
		"head":    head,
	})
}

// Verify handles GET /ledgers/:profile/verify — walks the full chain and
// reports integrity.
func (h *LedgerHandler) Verify(c *gin.Context) {
	l, ok := h.chain(c)
	if !ok {
		return
	}

	if err := l.Verify(c.Request.Context()); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetEntry handles GET /ledgers/:profile/entries/:idx.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	l, ok := h.chain(c)
	if !ok {
		return
	}

	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry index"})
		return
	}

	entry, err := l.Entry(c.Request.Context(), idx)
	if err != nil {
		if errors.Is(err, chainledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
			return
		}
		h.ledgerError(c, err, "ledger Entry")
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Successor handles GET /ledgers/:profile/successor/:fingerprint — forward
// chain traversal for audit display.
func (h *LedgerHandler) Successor(c *gin.Context) {
	l, ok := h.chain(c)
	if !ok {
		return
	}

	entry, err := l.FindSuccessorOf(c.Request.Context(), c.Param("fingerprint"))
	if err != nil {
		if errors.Is(err, chainledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no successor entry"})
			return
		}
		h.ledgerError(c, err, "ledger FindSuccessorOf")
		return
	}
	c.JSON(http.StatusOK, entry)
}

// LatestForInvoice handles GET /ledgers/:profile/invoices/:invoiceID — the
// authoritative (latest) entry for one invoice. Superseded entries stay in
// the chain but are never returned here.
func (h *LedgerHandler) LatestForInvoice(c *gin.Context) {
	l, ok := h.chain(c)
	if !ok {
		return
	}

	entry, err := l.FindByInvoiceIDExcluding(c.Request.Context(), c.Param("invoiceID"), "")
	if err != nil {
		if errors.Is(err, chainledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no entry for invoice"})
			return
		}
		h.ledgerError(c, err, "ledger FindByInvoiceIDExcluding")
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *LedgerHandler) ledgerError(c *gin.Context, err error, op string) {
	h.logger.Error(op, zap.Error(err))
	if errors.Is(err, chainledger.ErrLedgerCorrupt) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger corrupt; manual repair required"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
}
