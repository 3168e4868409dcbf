package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/carecoord/carecoord/internal/config"
	"github.com/carecoord/carecoord/internal/identity"
	"github.com/carecoord/carecoord/internal/sessions"
	"github.com/carecoord/carecoord/internal/tokens"
	"github.com/carecoord/carecoord/internal/users"
	"github.com/carecoord/carecoord/pkg/logger"
	"github.com/carecoord/carecoord/pkg/middleware"
)

// AuthHandler exchanges identity-provider tokens for our own access and
// refresh tokens.
type AuthHandler struct {
	idTokens   middleware.Verifier
	oauth      *oauth2.Config
	users      *users.Service
	sessions   *sessions.Service
	revoker    *sessions.Revoker
	secret     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewAuthHandler wires the handler. idTokens verifies identity-provider id
// tokens; revoker may be nil when Redis is not configured.
func NewAuthHandler(cfg *config.Config, idTokens middleware.Verifier, u *users.Service, s *sessions.Service, revoker *sessions.Revoker) *AuthHandler {
	h := &AuthHandler{
		idTokens:   idTokens,
		users:      u,
		sessions:   s,
		revoker:    revoker,
		secret:     cfg.JWT.Secret,
		accessTTL:  cfg.JWT.AccessTokenTTL,
		refreshTTL: cfg.JWT.RefreshTokenTTL,
	}
	if issuer := cfg.Keycloak.Issuer(); issuer != "" && cfg.Keycloak.ClientID != "" {
		h.oauth = &oauth2.Config{
			ClientID:     cfg.Keycloak.ClientID,
			ClientSecret: cfg.Keycloak.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  issuer + "/protocol/openid-connect/auth",
				TokenURL: issuer + "/protocol/openid-connect/token",
			},
			Scopes: []string{"openid", "profile", "email"},
		}
	}
	return h
}

// Register routes under /auth
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	a.POST("/session", h.Session)
	if h.oauth != nil {
		a.POST("/login", h.Login)
	}
	a.POST("/refresh", h.Refresh)
	a.POST("/logout", h.Logout)
}

// Session accepts an id token issued by the identity provider.
func (h *AuthHandler) Session(c *gin.Context) {
	var req struct {
		IDToken string `json:"idToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.issue(c, req.IDToken)
}

// Login exchanges an authorization code at the identity provider and opens
// a session for the returned id token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Code        string `json:"code" binding:"required"`
		RedirectURI string `json:"redirectUri" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	oc := *h.oauth
	oc.RedirectURL = req.RedirectURI
	tok, err := oc.Exchange(c.Request.Context(), req.Code)
	if err != nil {
		logger.Warnf("auth-code exchange failed (redirect_uri=%q): %v", req.RedirectURI, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "identity provider returned no id token"})
		return
	}
	h.issue(c, idToken)
}

func (h *AuthHandler) issue(c *gin.Context, idToken string) {
	ctx := c.Request.Context()
	tkn, err := h.idTokens.Verify(ctx, idToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid id token", "details": err.Error()})
		return
	}
	var claims map[string]interface{}
	if err := tkn.Claims(&claims); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "failed to parse claims"})
		return
	}
	u, err := h.users.UpsertFromClaims(ctx, claims)
	if err != nil {
		if errors.Is(err, users.ErrNoSubject) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("user upsert error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user upsert failed"})
		return
	}
	refresh, err := h.sessions.CreateSession(ctx, u.Sub, h.refreshTTL)
	if err != nil {
		logger.Errorf("failed to create session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	access, err := tokens.GenerateAccessToken(h.secret, u, h.accessTTL)
	if err != nil {
		logger.Errorf("failed to sign access token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create access token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  access,
		"refreshToken": refresh,
		"expiresIn":    int(h.accessTTL.Seconds()),
		"user":         u,
	})
}

// Refresh rotates the refresh token and returns a new access token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	next, sess, err := h.sessions.Rotate(ctx, req.RefreshToken, h.refreshTTL)
	if err != nil {
		if errors.Is(err, sessions.ErrInvalidRefresh) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}
		logger.Errorf("refresh rotation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "validation failed"})
		return
	}
	u, err := h.users.GetBySub(ctx, sess.Sub)
	if err != nil || u == nil {
		logger.Errorf("user lookup for %s failed: %v", sess.Sub, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
		return
	}
	access, err := tokens.GenerateAccessToken(h.secret, u, h.accessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create access token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  access,
		"refreshToken": next,
		"expiresIn":    int(h.accessTTL.Seconds()),
	})
}

// Logout deletes the refresh session and revokes the presented access token
// for the rest of its lifetime.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if at, ok := middleware.BearerToken(c); ok {
		if ttl := tokens.Remaining(at); ttl > 0 {
			if err := h.revoker.Revoke(ctx, at, ttl); err != nil {
				logger.Errorf("failed to revoke access token: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke access token"})
				return
			}
		}
	}
	if err := h.sessions.DeleteRefresh(ctx, req.RefreshToken); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns the caller's user record; it expects the auth middleware.
func (h *AuthHandler) Me(c *gin.Context) {
	uid, ok := identity.FromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	u, err := h.users.GetBySub(c.Request.Context(), uid)
	if err != nil {
		logger.Errorf("user lookup for %s failed: %v", uid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
		return
	}
	if u == nil {
		claims, _ := c.Get("claims")
		c.JSON(http.StatusOK, gin.H{"claims": claims})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}
