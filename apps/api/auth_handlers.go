package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func (a *App) adminLoginHandler(c *gin.Context) {
	if !a.checkRateLimit("login:"+c.ClientIP(), loginRateLimitRequests, loginRateLimitWindow, time.Now()) {
		writeAPIError(c, &apiError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "Too many login attempts, try again later"})
		return
	}

	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid login payload"})
		return
	}
	payload.Email = strings.ToLower(strings.TrimSpace(payload.Email))

	role, err := a.auth.Authenticate(c.Request.Context(), payload.Email, payload.Password)
	if err != nil {
		a.log.Warn("admin login rejected", "email", payload.Email, "ip", c.ClientIP(), "err", err)
		writeAPIError(c, err)
		return
	}
	if !containsString(adminRoles, role) {
		writeAPIError(c, &apiError{Status: http.StatusForbidden, Code: "forbidden", Message: "Account has no dashboard access"})
		return
	}

	if err := a.startAdminSession(c, AdminSession{Email: payload.Email, Role: role}); err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": payload.Email, "role": role})
}

func (a *App) adminLogoutHandler(c *gin.Context) {
	if token, err := c.Cookie(adminCookieName); err == nil {
		if session, err := a.verifyAdminSessionToken(token); err == nil {
			a.filters.forActor(session.Email).stop()
		}
	}
	a.clearAdminSession(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *App) adminSessionHandler(c *gin.Context) {
	token, err := c.Cookie(adminCookieName)
	if err != nil {
		writeAPIError(c, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "Admin session required"})
		return
	}
	session, err := a.verifyAdminSessionToken(token)
	if err != nil {
		writeAPIError(c, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "Admin session required"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (a *App) startAdminSession(c *gin.Context, session AdminSession) error {
	token, err := a.createAdminSessionToken(session)
	if err != nil {
		return err
	}
	secure := strings.EqualFold(a.cfg.Env, "production")
	c.SetCookie(adminCookieName, token, int(adminSessionDuration.Seconds()), "/", "", secure, true)
	return nil
}

func (a *App) clearAdminSession(c *gin.Context) {
	secure := strings.EqualFold(a.cfg.Env, "production")
	c.SetCookie(adminCookieName, "", -1, "/", "", secure, true)
}
