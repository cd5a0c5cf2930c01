package api

import (
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/downlee/downlee/internal/api/controllers"
	"github.com/downlee/downlee/internal/app"
	"github.com/downlee/downlee/internal/urldl"
)

func RegisterRoutes(e *echo.Echo, app *app.Context, urlIntake *urldl.Intake) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	authCtrl := &controllers.AuthController{App: app}
	dlCtrl := &controllers.DownloadsController{App: app, URLIntake: urlIntake}
	urlCtrl := &controllers.URLController{App: app, Intake: urlIntake}
	mapCtrl := &controllers.MappingsController{App: app}
	setCtrl := &controllers.SettingsController{App: app}
	videoCtrl := &controllers.VideoController{App: app}
	wsCtrl := &WSController{App: app}

	e.POST("/api/auth/login", authCtrl.Login)

	g := e.Group("/api", JWTMiddleware(app.Config.Auth.JWTSecret))

	g.POST("/auth/password", authCtrl.ChangePassword)

	g.GET("/downloads", dlCtrl.List)
	g.GET("/stats", dlCtrl.Stats)
	g.POST("/retry", dlCtrl.Retry)
	g.POST("/stop", dlCtrl.Stop)
	g.POST("/delete", dlCtrl.Delete)

	g.POST("/url/check", urlCtrl.Check)
	g.POST("/url/download", urlCtrl.Download)

	g.GET("/mappings", mapCtrl.List)
	g.POST("/mappings", mapCtrl.Create)
	g.PUT("/mappings/:id", mapCtrl.Update)
	g.DELETE("/mappings/:id", mapCtrl.Delete)

	g.GET("/settings", setCtrl.Get)
	g.POST("/settings", setCtrl.Set)

	g.GET("/video/check/:external_id", videoCtrl.Check)
	g.GET("/video/stream/:external_id", videoCtrl.Stream)

	// The websocket carries its token as a query parameter.
	e.GET("/ws", wsCtrl.Handle, JWTMiddleware(app.Config.Auth.JWTSecret))
}
