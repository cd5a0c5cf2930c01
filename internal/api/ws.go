package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"

	"github.com/downlee/downlee/internal/app"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Token auth already gates the upgrade; the service fronts itself.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSController struct {
	App *app.Context
}

// Handle upgrades the connection and forwards every bus event published
// after the subscription until either side goes away.
func (ctrl *WSController) Handle(c *echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	id, events := ctrl.App.Bus.Subscribe()
	ctrl.App.Logger.Debug("ws client %s connected (%d active)", id, ctrl.App.Bus.Subscribers())

	defer func() {
		ctrl.App.Bus.Unsubscribe(id)
		conn.Close()
		ctrl.App.Logger.Debug("ws client %s disconnected", id)
	}()

	done := make(chan struct{})

	// Reader: the client sends nothing meaningful, but reading is what
	// surfaces close frames and keeps the pong handler running.
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return nil
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}
