package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soycharroup/memoryreel/internal/api/contents"
	"github.com/soycharroup/memoryreel/pkg/logger"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router. Its
	// sole responsibility is to expose the intake, status and monitoring
	// routes; all behaviour lives in the orchestrator service behind the
	// controllers.
	RestGateway struct {
		config            *RestConfig
		ec                *echo.Echo
		contentController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with the
// content routes plus the Prometheus scrape endpoint.
func NewRestGateway(config *RestConfig, contentService contents.Service) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	gateway := &RestGateway{
		config:            config,
		ec:                ec,
		contentController: contents.New(contentService),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/metrics/", echo.WrapHandler(promhttp.Handler()))

	contentGroup := ec.Group("/api/memoryreel/v1/content")
	gateway.contentController.SetRoutes(contentGroup)

	return gateway
}

// Run starts the HTTP listener and blocks until the context is cancelled
// or the listener fails.
func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)

	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
		ctxCancel(err)
	}

	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
