package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/facturo/facturo/internal/chainledger"
	"github.com/facturo/facturo/internal/fiscalizer"
	"github.com/facturo/facturo/internal/health"
	"github.com/facturo/facturo/internal/invoice"
)

// RouterDeps are the collaborators the HTTP surface is built from.
type RouterDeps struct {
	Store    invoice.Store
	Service  *fiscalizer.Service
	Chains   map[string]chainledger.Ledger
	Snapshot SnapshotFunc
	Checker  *health.Checker
	Logger   *zap.Logger

	CORSOrigins  []string
	RateLimitRPS int
}

// NewRouter assembles the gin engine: middleware, health, metrics, and the
// versioned API routes.
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(PrometheusMiddleware())

	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     deps.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) {
		if deps.Checker != nil {
			if err := deps.Checker.Check(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", MetricsHandler())

	api := r.Group("/api/v1")
	if deps.RateLimitRPS > 0 {
		api.Use(RateLimiter(deps.RateLimitRPS, deps.RateLimitRPS*2))
	}

	NewInvoiceHandler(deps.Store, deps.Service, deps.Snapshot, deps.Logger).Register(api)
	NewLedgerHandler(deps.Chains, deps.Logger).Register(api)

	return r
}
