package echoapi

import (
	"context"
	"net/http"
	"os"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/academics"
	"github.com/trezcool/eduanalytics/core/ingest"
	"github.com/trezcool/eduanalytics/core/portal"
	"github.com/trezcool/eduanalytics/core/user"
)

// Deps holds the services exposed by a Server. A nil service leaves its endpoints unregistered,
// so the same package serves the analytics API and the portal API.
type Deps struct {
	Logger     core.Logger
	Translator ut.Translator

	UserSvc      *user.Service
	AcademicsSvc *academics.Service
	Ingestion    *ingest.Pipeline

	PortalSvc *portal.Service
}

type Server struct {
	conf     *core.Config
	app      *echo.Echo
	deps     *Deps
	shutdown chan os.Signal
	errors   chan error
}

func NewServer(conf *core.Config, shutdown chan os.Signal, deps *Deps) *Server {
	s := &Server{
		conf:     conf,
		app:      echo.New(),
		deps:     deps,
		shutdown: shutdown,
		errors:   make(chan error, 1),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.Debug = s.conf.Debug
	s.app.Server.ReadTimeout = s.conf.Server.ReadTimeout
	s.app.Server.WriteTimeout = s.conf.Server.WriteTimeout
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)

	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.New().String() },
	}))
	if !s.conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.conf.Debug || s.conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	if len(s.conf.Server.CORSOrigins) > 0 {
		s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: s.conf.Server.CORSOrigins}))
	}

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	jwt := jwtMiddleware(s.conf)

	if s.deps.UserSvc != nil && s.deps.AcademicsSvc != nil {
		registerAuthAPI(v1, s.conf, s.deps.UserSvc, s.deps.AcademicsSvc)
	}
	if s.deps.AcademicsSvc != nil {
		registerAcademicsAPI(v1, jwt, s.deps.AcademicsSvc)
		registerStudentAPI(v1, jwt, s.deps.AcademicsSvc)
	}
	if s.deps.Ingestion != nil && s.deps.UserSvc != nil {
		registerUploadAPI(v1, jwt, s.conf, s.deps.Ingestion, s.deps.UserSvc)
	}
	if s.deps.PortalSvc != nil {
		registerPortalAPI(v1, jwt, s.deps.PortalSvc)
	}
}

// Start listens on the configured host; a listening failure is sent to Errors.
func (s *Server) Start() {
	if err := s.app.Start(s.conf.Server.Host); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.conf.AppName+" API!")
}
