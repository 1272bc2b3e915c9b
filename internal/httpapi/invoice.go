package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/facturo/facturo/internal/canonical"
	"github.com/facturo/facturo/internal/config"
	"github.com/facturo/facturo/internal/fingerprint"
	"github.com/facturo/facturo/internal/fiscalizer"
	"github.com/facturo/facturo/internal/invoice"
)

// SnapshotFunc supplies the immutable configuration snapshot frozen at the
// start of each fingerprinting operation.
type SnapshotFunc func() *config.Snapshot

// InvoiceHandler exposes invoice CRUD and the fingerprinting operations.
type InvoiceHandler struct {
	store  invoice.Store
	svc    *fiscalizer.Service
	snap   SnapshotFunc
	logger *zap.Logger
}

// NewInvoiceHandler creates a new InvoiceHandler.
func NewInvoiceHandler(store invoice.Store, svc *fiscalizer.Service, snap SnapshotFunc, logger *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{store: store, svc: svc, snap: snap, logger: logger}
}

// Register mounts the invoice routes on the given router group.
func (h *InvoiceHandler) Register(rg *gin.RouterGroup) {
	inv := rg.Group("/invoices")
	{
		inv.POST("", h.Create)
		inv.GET("", h.List)
		inv.GET("/:id", h.Get)
		inv.GET("/:id/qr", h.QR)
		inv.POST("/:id/finalize", h.Finalize)
		inv.POST("/:id/refingerprint", h.Refingerprint)
		inv.POST("/:id/submit", h.Submit)
	}
}

type lineRequest struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity" binding:"required"`
	UnitPrice   string `json:"unit_price" binding:"required"`
	TaxRate     string `json:"tax_rate" binding:"required"`
}

type createInvoiceRequest struct {
	Series          string        `json:"series"`
	Number          string        `json:"number" binding:"required"`
	IssueDate       string        `json:"issue_date" binding:"required"` // YYYY-MM-DD
	TypeCode        string        `json:"type_code"`
	BuyerTaxID      string        `json:"buyer_tax_id"`
	BuyerName       string        `json:"buyer_name"`
	Lines           []lineRequest `json:"lines"`
	WithholdingRate string        `json:"withholding_rate"`
	Reimbursable    string        `json:"reimbursable"`
}

// Create handles POST /invoices.
func (h *InvoiceHandler) Create(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	issueDate, err := time.Parse("2006-01-02", req.IssueDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "issue_date must be YYYY-MM-DD"})
		return
	}

	inv := &invoice.Invoice{
		Series:      req.Series,
		Number:      req.Number,
		IssueDate:   issueDate,
		TypeCode:    req.TypeCode,
		IssuerTaxID: h.snap().Issuer.TaxID,
		IssuerName:  h.snap().Issuer.LegalName,
		BuyerTaxID:  req.BuyerTaxID,
		BuyerName:   req.BuyerName,
	}

	for _, l := range req.Lines {
		qty, err := decimal.NewFromString(l.Quantity)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity: " + l.Quantity})
			return
		}
		price, err := decimal.NewFromString(l.UnitPrice)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unit_price: " + l.UnitPrice})
			return
		}
		rate, err := decimal.NewFromString(l.TaxRate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tax_rate: " + l.TaxRate})
			return
		}
		inv.Lines = append(inv.Lines, invoice.Line{
			Description: l.Description,
			Quantity:    qty,
			UnitPrice:   price,
			TaxRate:     rate,
		})
	}

	if req.WithholdingRate != "" {
		if inv.WithholdingRate, err = decimal.NewFromString(req.WithholdingRate); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid withholding_rate"})
			return
		}
	}
	if req.Reimbursable != "" {
		if inv.Reimbursable, err = decimal.NewFromString(req.Reimbursable); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reimbursable"})
			return
		}
	}

	if err := h.store.Create(c.Request.Context(), inv); err != nil {
		h.logger.Error("create invoice", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create invoice"})
		return
	}
	c.JSON(http.StatusCreated, inv)
}

// Get handles GET /invoices/:id.
func (h *InvoiceHandler) Get(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	inv, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		h.notFoundOr500(c, err, "get invoice")
		return
	}
	c.JSON(http.StatusOK, inv)
}

// List handles GET /invoices.
func (h *InvoiceHandler) List(c *gin.Context) {
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if n, err := parsePositive(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := parsePositive(v); err == nil {
			offset = n
		}
	}

	invoices, err := h.store.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list invoices", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list invoices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices, "count": len(invoices)})
}

// QR handles GET /invoices/:id/qr — serves the cached verification image.
func (h *InvoiceHandler) QR(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	inv, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		h.notFoundOr500(c, err, "get invoice")
		return
	}
	if len(inv.VerificationImage) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "invoice has no verification image"})
		return
	}
	c.Data(http.StatusOK, "image/png", inv.VerificationImage)
}

// Finalize handles POST /invoices/:id/finalize — runs the fingerprinting
// pipeline for a freshly issued invoice.
func (h *InvoiceHandler) Finalize(c *gin.Context) {
	h.runPipeline(c, h.svc.Finalize)
}

// Refingerprint handles POST /invoices/:id/refingerprint — re-runs the
// pipeline for a corrected invoice.
func (h *InvoiceHandler) Refingerprint(c *gin.Context) {
	h.runPipeline(c, h.svc.Refingerprint)
}

func (h *InvoiceHandler) runPipeline(c *gin.Context, op func(ctx context.Context, id uuid.UUID, snap *config.Snapshot) (*fiscalizer.Result, error)) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	res, err := op(c.Request.Context(), id, h.snap())
	if err != nil {
		switch {
		case errors.Is(err, invoice.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
		case errors.Is(err, fiscalizer.ErrAlreadyFingerprinted):
			c.JSON(http.StatusConflict, gin.H{"error": "invoice already fingerprinted"})
		case errors.Is(err, canonical.ErrMissingField), errors.Is(err, fingerprint.ErrComputation):
			RecordFingerprintFailure("validation")
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			h.logger.Error("fingerprint invoice", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "fingerprinting failed"})
		}
		return
	}

	if res.LedgerErr != nil {
		// Best-effort policy: the invoice stands, the ledger entry does not.
		RecordFingerprintFailure("ledger")
		c.JSON(http.StatusOK, gin.H{
			"invoice":       res.Invoice,
			"fingerprinted": false,
			"warning":       "compliance ledger unavailable; fingerprinting will be retried",
		})
		return
	}

	RecordLedgerAppend("registration", string(res.Mode))
	if res.Mode == fingerprint.ModeLegacy {
		RecordFingerprintFallback()
	}
	c.JSON(http.StatusOK, gin.H{
		"invoice":       res.Invoice,
		"entry":         res.Entry,
		"fingerprinted": true,
		"mode":          res.Mode,
		"notice":        res.Notice,
	})
}

// Submit handles POST /invoices/:id/submit — chains the invoice onto the
// secondary-authority submission ledger.
func (h *InvoiceHandler) Submit(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	entry, err := h.svc.Submit(c.Request.Context(), id, h.snap())
	if err != nil {
		if errors.Is(err, invoice.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
			return
		}
		h.logger.Error("submission chain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submission chaining failed"})
		return
	}

	RecordLedgerAppend("submission", entry.Mode)
	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("not a positive integer: %q", s)
	}
	return n, nil
}

func (h *InvoiceHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *InvoiceHandler) notFoundOr500(c *gin.Context, err error, op string) {
	if errors.Is(err, invoice.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
		return
	}
	h.logger.Error(op, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
