package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/kiara-project/kiara-go/pkg/domain/engine"
)

var API_ROOT = "/api"

func api(subpath string) string {
	return fmt.Sprintf("%s/%s", API_ROOT, subpath)
}

// BuildServer wires ctx into an echo.Echo instance exposing component
// K's command surface over HTTP, grounded on
// cmd/knitd_backend/server.go's BuildServer.
func BuildServer(ctx *engine.Context, loglevel string) *echo.Echo {
	e := echo.New()

	switch strings.ToLower(loglevel) {
	case "debug":
		e.Logger.SetLevel(log.DEBUG)
	case "info":
		e.Logger.SetLevel(log.INFO)
	case "warn", "":
		e.Logger.SetLevel(log.WARN)
	case "error":
		e.Logger.SetLevel(log.ERROR)
	case "off":
		e.Logger.SetLevel(log.OFF)
	default:
		e.Logger.SetLevel(log.WARN)
		e.Logger.Warnf("unknown loglevel: %s, falling back to warn", loglevel)
	}

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		e.DefaultHTTPErrorHandler(err, c)
		e.Logger.Error(err)
	}

	e.Pre(middleware.AddTrailingSlash())

	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			meth := c.Request().Method
			path := c.Request().URL
			begin := time.Now()
			c.Logger().Infof("< request @[%s] %s %s", begin, meth, path)

			err := next(c)

			end := time.Now()
			c.Logger().Infof(
				"> response @[%s] status = %d (for request @[%s] %s %s) in %v / error = %+v",
				end, c.Response().Status, begin, meth, path, end.Sub(begin), err,
			)
			return err
		}
	})

	e.POST(api("jobs"), PostJobHandler(ctx))
	e.GET(api("jobs/:hash"), GetJobHandler(ctx))

	e.GET(api("values/:ref"), GetValueHandler(ctx))
	e.POST(api("values"), PostValueHandler(ctx))

	e.GET(api("aliases/:name"), GetAliasHandler(ctx))

	e.POST(api("archives/export"), PostExportArchiveHandler(ctx))
	e.POST(api("archives/import"), PostImportArchiveHandler(ctx))

	e.GET(api("pipelines"), GetPipelinesHandler(ctx))
	e.GET(api("pipelines/:name"), GetPipelineHandler(ctx))

	return e
}
