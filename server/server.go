// Package server exposes the read-only admin surface: health probe,
// account and session listing, Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yinjg1997/customer-agent/gateway"
	"github.com/yinjg1997/customer-agent/internal/profile"
	"github.com/yinjg1997/customer-agent/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	supervisor *gateway.Supervisor
	echoServer *echo.Echo
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store, supervisor *gateway.Supervisor) (*Server, error) {
	e := echo.New()
	e.Debug = true
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		Profile:    profile,
		Store:      store,
		supervisor: supervisor,
		echoServer: e,
	}

	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/api/v1/accounts", s.listAccounts)
	e.GET("/api/v1/sessions", s.listSessions)

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.echoServer.Logger.Error(err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.echoServer.Shutdown(ctx); err != nil {
		s.echoServer.Logger.Error(err)
	}
}

type accountView struct {
	Channel      string `json:"channel"`
	ShopID       string `json:"shop_id"`
	ShopName     string `json:"shop_name,omitempty"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Presence     string `json:"presence"`
	SessionState string `json:"session_state"`
}

// listAccounts merges stored account rows with live session state.
func (s *Server) listAccounts(c echo.Context) error {
	ctx := c.Request().Context()
	accounts, err := s.Store.ListAccounts(ctx, &store.FindAccount{})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list accounts").SetInternal(err)
	}

	shopNames := make(map[string]string)
	views := make([]accountView, 0, len(accounts))
	for _, account := range accounts {
		nameKey := account.Channel + "/" + account.ShopID
		if _, ok := shopNames[nameKey]; !ok {
			if shop, err := s.Store.GetShop(ctx, account.Channel, account.ShopID); err == nil {
				shopNames[nameKey] = shop.Name
			} else {
				shopNames[nameKey] = ""
			}
		}

		state := "idle"
		if session := s.supervisor.Session(account.Channel, account.ShopID, account.UserID); session != nil {
			state = session.State().String()
		}
		views = append(views, accountView{
			Channel:      account.Channel,
			ShopID:       account.ShopID,
			ShopName:     shopNames[nameKey],
			UserID:       account.UserID,
			Username:     account.Username,
			Presence:     account.Presence.String(),
			SessionState: state,
		})
	}
	return c.JSON(http.StatusOK, views)
}

type sessionView struct {
	Channel     string `json:"channel"`
	ShopID      string `json:"shop_id"`
	UserID      string `json:"user_id"`
	State       string `json:"state"`
	Dispatchers int    `json:"dispatchers"`
	QueueLen    int    `json:"queue_len"`
}

// listSessions reports the live session table.
func (s *Server) listSessions(c echo.Context) error {
	infos := s.supervisor.Sessions()
	views := make([]sessionView, 0, len(infos))
	for _, info := range infos {
		views = append(views, sessionView{
			Channel:     info.Channel,
			ShopID:      info.ShopID,
			UserID:      info.UserID,
			State:       info.State,
			Dispatchers: info.Dispatchers,
			QueueLen:    info.QueueLen,
		})
	}
	return c.JSON(http.StatusOK, views)
}
