package controllers

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/downlee/downlee/internal/app"
	"github.com/downlee/downlee/internal/store"
)

type SettingsController struct {
	App *app.Context
}

// Get returns all operator settings. The provider hash is a credential, so
// only its presence is reported.
func (ctrl *SettingsController) Get(c *echo.Context) error {
	settings, err := ctrl.App.Store.AllSettings()
	if err != nil {
		ctrl.App.Logger.Error("settings read failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "settings read failed"})
	}

	if _, ok := settings[store.SettingProviderAppHash]; ok {
		settings[store.SettingProviderAppHash] = "********"
	}
	return c.JSON(http.StatusOK, settings)
}

// Set upserts the posted settings. Masked placeholder values are ignored so a
// round-tripped form does not clobber the stored credential.
func (ctrl *SettingsController) Set(c *echo.Context) error {
	var values map[string]string
	if err := c.Bind(&values); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if v, ok := values[store.SettingProviderAppHash]; ok && v == "********" {
		delete(values, store.SettingProviderAppHash)
	}

	if err := ctrl.App.Store.SetSettings(values); err != nil {
		ctrl.App.Logger.Error("settings write failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "settings write failed"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
