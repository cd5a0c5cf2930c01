package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/downlee/downlee/internal/app"
	"github.com/downlee/downlee/internal/domain"
)

type AuthController struct {
	App *app.Context
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

// Login exchanges credentials for a signed token. Unknown user and wrong
// password produce the same response.
func (ctrl *AuthController) Login(c *echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "username and password are required"})
	}

	user, err := ctrl.App.Store.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		}
		ctrl.App.Logger.Error("login failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "login failed"})
	}

	ttl := time.Duration(ctrl.App.Config.Auth.TokenTTLDays) * 24 * time.Hour
	token, err := IssueToken(ctrl.App.Config.Auth.JWTSecret, ttl, user)
	if err != nil {
		ctrl.App.Logger.Error("token signing failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "login failed"})
	}

	return c.JSON(http.StatusOK, loginResponse{Token: token, User: user})
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword updates the authenticated user's password after verifying
// the current one.
func (ctrl *AuthController) ChangePassword(c *echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if len(req.NewPassword) < 8 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "new password must be at least 8 characters"})
	}

	userID, _ := c.Get("user_id").(int64)
	if err := ctrl.App.Store.UpdatePassword(userID, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "current password is incorrect"})
		}
		ctrl.App.Logger.Error("password change failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "password change failed"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
