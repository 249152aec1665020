package query

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hw3579/trading-bot/internal/model"
)

func init() {
	validate.RegisterValidation("timeframe", func(fl validator.FieldLevel) bool {
		_, err := model.ParseTimeframe(fl.Field().String())
		return err == nil
	})
}

type targetRequest struct {
	Source    string `param:"source" validate:"required"`
	Symbol    string `param:"symbol" validate:"required"`
	Timeframe string `param:"tf" validate:"required,timeframe"`
}

func (r targetRequest) id() model.TargetID {
	return model.TargetID{
		Source:    strings.ToLower(r.Source),
		Symbol:    r.Symbol,
		Timeframe: model.Timeframe(r.Timeframe),
	}
}

type seriesRequest struct {
	Source    string `param:"source" validate:"required"`
	Symbol    string `param:"symbol" validate:"required"`
	Timeframe string `param:"tf" validate:"required,timeframe"`
	Count     int    `query:"count" default:"50" validate:"gte=0,lte=10000"`
}

type signalsRequest struct {
	Limit int `query:"limit" default:"20" validate:"gte=1,lte=1000"`
}

// Handler serves the query HTTP API.
type Handler struct {
	svc *Service

	// websocket keepalive
	pingPeriod time.Duration
	pongWait   time.Duration
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, pingPeriod: wsPingPeriod, pongWait: wsPongWait}
}

// RegisterRoutes mounts the /api routes and the websocket query channel.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/targets", h.Targets)
	g.GET("/status/:source/:symbol/:tf", h.Status)
	g.GET("/series/:source/:symbol/:tf", h.Series)
	g.GET("/signal/:source/:symbol/:tf", h.LastSignal)
	g.GET("/signals", h.Signals)
	e.GET("/ws", h.ServeWS)
}

func (h *Handler) Targets(c echo.Context) error {
	return successResponse(c, h.svc.ListTargets())
}

func (h *Handler) Status(c echo.Context) error {
	req := &targetRequest{}
	if verr := readAndValidate(c, req); verr != nil {
		return badRequestResponse(c, verr)
	}
	st, err := h.svc.GetStatus(req.id())
	if err != nil {
		return appErrorResponse(c, err)
	}
	return successResponse(c, st)
}

func (h *Handler) Series(c echo.Context) error {
	req := &seriesRequest{}
	if verr := readAndValidate(c, req); verr != nil {
		return badRequestResponse(c, verr)
	}
	id := targetRequest{Source: req.Source, Symbol: req.Symbol, Timeframe: req.Timeframe}.id()
	candles, err := h.svc.GetRecentSeries(id, req.Count)
	if err != nil {
		return appErrorResponse(c, err)
	}
	return successResponse(c, candles)
}

func (h *Handler) LastSignal(c echo.Context) error {
	req := &targetRequest{}
	if verr := readAndValidate(c, req); verr != nil {
		return badRequestResponse(c, verr)
	}
	sig, err := h.svc.GetLastSignal(req.id())
	if err != nil {
		return appErrorResponse(c, err)
	}
	return successResponse(c, sig)
}

func (h *Handler) Signals(c echo.Context) error {
	req := &signalsRequest{}
	if verr := readAndValidate(c, req); verr != nil {
		return badRequestResponse(c, verr)
	}
	return successResponse(c, h.svc.RecentSignals(req.Limit))
}

// Recover turns handler panics into a 500 envelope.
func Recover() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[query] panic in %s: %v\n%s", c.Request().URL.Path, r, debug.Stack())
					err = c.JSON(http.StatusInternalServerError, APIResponse{
						Status:  http.StatusInternalServerError,
						Message: http.StatusText(http.StatusInternalServerError),
					})
				}
			}()
			return next(c)
		}
	}
}

// RequestLogging logs one line per request.
func RequestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			req := c.Request()
			log.Printf("[query] %s %s %s - %d (%s)",
				req.Method, req.RequestURI, req.RemoteAddr, c.Response().Status, time.Since(start))
			return err
		}
	}
}

// Server is the query HTTP server.
type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer builds the echo instance with middleware, API routes and
// /metrics.
func NewServer(addr string, svc *Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(Recover())
	e.Use(RequestLogging())

	NewHandler(svc).RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &Server{echo: e, addr: addr}
}

// Start listens in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[query] server listening on %s", s.addr)
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[query] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("query server shutdown: %w", err)
	}
	log.Println("[query] server stopped")
	return nil
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo { return s.echo }
