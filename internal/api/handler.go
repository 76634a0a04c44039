package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"inventory-service/internal/identity"
	"inventory-service/internal/models"
	"inventory-service/internal/service"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/gocarina/gocsv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// Handler contains HTTP handlers
type Handler struct {
	verifier   *identity.Verifier
	sessions   *service.SessionManager
	dispatcher *service.Dispatcher
	ledger     *service.Ledger
	reports    *service.Reports
	users      *service.UserAdmin
	store      store.Lister
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	verifier *identity.Verifier,
	sessions *service.SessionManager,
	dispatcher *service.Dispatcher,
	ledger *service.Ledger,
	reports *service.Reports,
	users *service.UserAdmin,
	st store.Lister,
) *Handler {
	return &Handler{
		verifier:   verifier,
		sessions:   sessions,
		dispatcher: dispatcher,
		ledger:     ledger,
		reports:    reports,
		users:      users,
		store:      st,
		logger:     util.Named("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(h.requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", h.verifier.Middleware())
	{
		v1.POST("/commands/:name", h.dispatch)
		v1.POST("/session/logout", h.logout)

		v1.GET("/products", h.searchProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.GET("/movements", h.listMovements)
		v1.GET("/movements/export.csv", h.exportMovements)
		v1.GET("/cart", h.getCart)
		v1.GET("/dashboard", h.getDashboard)
		v1.GET("/sales/daily", h.dailySales)
		v1.GET("/sales/by-product", h.salesByProduct)
		v1.GET("/ledger/verify", h.verifyLedger)
		v1.GET("/users", h.listUsers)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the document store answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.store.List(ctx, models.CollectionUsers); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// dispatch runs a named command against the caller's session
func (h *Handler) dispatch(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.dispatcher.Dispatch(c.Request.Context(), s, c.Param("name"), json.RawMessage(body))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// logout signs the caller out and tears down their session
func (h *Handler) logout(c *gin.Context) {
	id, _ := identity.FromContext(c)
	h.verifier.SignOut(id)
	c.Status(http.StatusNoContent)
}

func (h *Handler) searchProducts(c *gin.Context) {
	products, err := h.ledger.SearchProducts(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.ledger.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) listMovements(c *gin.Context) {
	movements, err := h.ledger.ListMovements(c.Request.Context(), c.Query("productId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movements": movements})
}

// exportMovements streams the ledger as CSV
func (h *Handler) exportMovements(c *gin.Context) {
	movements, err := h.ledger.ListMovements(c.Request.Context(), c.Query("productId"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	out, err := gocsv.MarshalBytes(&movements)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="movements.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", out)
}

func (h *Handler) getCart(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, service.ViewCart(s.Cart(), nil))
}

// getDashboard returns the figures recomputed from the session's latest snapshots.
// source=cache serves the figures last cached by the dashboard worker instead.
func (h *Handler) getDashboard(c *gin.Context) {
	if c.Query("source") == "cache" {
		d, err := h.reports.CachedDashboard(c.Request.Context())
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
		return
	}

	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Dashboard())
}

// dailySales expects from and to as YYYY-MM-DD in the configured timezone
func (h *Handler) dailySales(c *gin.Context) {
	loc := h.reports.Location()
	from, err := time.ParseInLocation(dateLayout, c.Query("from"), loc)
	if err != nil {
		h.writeError(c, models.Invalid("date range", "from must be YYYY-MM-DD"))
		return
	}
	to, err := time.ParseInLocation(dateLayout, c.Query("to"), loc)
	if err != nil {
		h.writeError(c, models.Invalid("date range", "to must be YYYY-MM-DD"))
		return
	}

	buckets, err := h.reports.DailySales(c.Request.Context(), from, to)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": buckets})
}

func (h *Handler) salesByProduct(c *gin.Context) {
	sales, err := h.reports.SalesByProduct(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": sales})
}

func (h *Handler) verifyLedger(c *gin.Context) {
	mismatches, err := h.ledger.VerifyLedger(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"consistent": len(mismatches) == 0,
		"mismatches": mismatches,
	})
}

func (h *Handler) listUsers(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	users, err := h.users.ListUsers(c.Request.Context(), s.Actor())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// session resolves the caller's session, writing the error response on failure
func (h *Handler) session(c *gin.Context) (*service.Session, bool) {
	id, ok := identity.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not signed in"})
		return nil, false
	}
	s, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return s, true
}

// writeError maps the error taxonomy onto HTTP status codes
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "Internal error"
	switch {
	case models.IsValidation(err):
		status, message = http.StatusBadRequest, "Validation failed"
	case models.IsPermission(err):
		status, message = http.StatusForbidden, "Permission denied"
	case models.IsNotFound(err):
		status, message = http.StatusNotFound, "Not found"
	case models.IsStore(err):
		status, message = http.StatusBadGateway, "Store unavailable"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

// requestLogger logs one structured line per request
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
