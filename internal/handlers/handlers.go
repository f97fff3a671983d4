package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tradebook/internal/auth"
	"tradebook/internal/engine"
	"tradebook/internal/monitoring"
)

type Handler struct {
	engine *engine.Engine
	auth   *auth.Service
	log    *logrus.Logger
}

func New(e *engine.Engine, a *auth.Service, log *logrus.Logger) *Handler {
	return &Handler{engine: e, auth: a, log: log}
}

func (h *Handler) Routes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(monitoring.Handler()))

	api := r.Group("/api")
	api.POST("/register", h.RegisterUser)
	api.POST("/login", h.Login)
	api.POST("/logout", h.Logout)
	api.GET("/check", h.CheckUsername)

	authed := api.Group("", h.RequireSession())
	authed.GET("/portfolio", h.GetPortfolio)
	authed.POST("/buy", h.Buy)
	authed.POST("/sell", h.Sell)
	authed.GET("/quote/:symbol", h.GetQuote)
	authed.GET("/history", h.GetHistory)
}

type RegisterRequest struct {
	Username     string `json:"username" binding:"required"`
	Password     string `json:"password" binding:"required"`
	Confirmation string `json:"confirmation" binding:"required"`
}

type CredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TradeRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Shares int64  `json:"shares" binding:"required"`
}

func (h *Handler) RegisterUser(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, err := h.auth.Register(c.Request.Context(), req.Username, req.Password, req.Confirmation)
	if err != nil {
		h.renderError(c, err)
		return
	}
	// Registration logs the new user in.
	if err := h.setSessionCookie(c, userID); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user_id": userID})
}

func (h *Handler) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, err := h.auth.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.renderError(c, err)
		return
	}
	if err := h.setSessionCookie(c, userID); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID})
}

func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// CheckUsername answers the live availability probe on the registration
// form with a bare boolean.
func (h *Handler) CheckUsername(c *gin.Context) {
	available, err := h.auth.UsernameAvailable(c.Request.Context(), c.Query("username"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, available)
}

func (h *Handler) GetPortfolio(c *gin.Context) {
	sess := sessionFrom(c)
	view, err := h.engine.Portfolio(c.Request.Context(), sess.UserID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) Buy(c *gin.Context) {
	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess := sessionFrom(c)
	exec, err := h.engine.Buy(c.Request.Context(), sess.UserID, req.Symbol, req.Shares)
	monitoring.RecordTrade("buy", outcome(err))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (h *Handler) Sell(c *gin.Context) {
	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess := sessionFrom(c)
	exec, err := h.engine.Sell(c.Request.Context(), sess.UserID, req.Symbol, req.Shares)
	monitoring.RecordTrade("sell", outcome(err))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (h *Handler) GetQuote(c *gin.Context) {
	q, err := h.engine.Quote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *Handler) GetHistory(c *gin.Context) {
	sess := sessionFrom(c)
	rows, err := h.engine.History(c.Request.Context(), sess.UserID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) setSessionCookie(c *gin.Context, userID int64) error {
	token, err := h.auth.IssueToken(userID)
	if err != nil {
		return err
	}
	c.SetCookie(sessionCookie, token, 24*60*60, "/", "", false, true)
	return nil
}

func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidShareCount),
		errors.Is(err, auth.ErrInvalidUsername),
		errors.Is(err, auth.ErrInvalidPassword),
		errors.Is(err, auth.ErrPasswordMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrUnknownSymbol):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrInsufficientShares):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrQuoteUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		h.log.Errorf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, engine.ErrInvalidShareCount),
		errors.Is(err, engine.ErrUnknownSymbol),
		errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrInsufficientShares):
		return "rejected"
	default:
		return "error"
	}
}
