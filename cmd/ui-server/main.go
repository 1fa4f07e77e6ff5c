package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"github.com/prometheus/client_golang/prometheus"

	"uk.co.dudmesh.sentinel/internal/boot"
	"uk.co.dudmesh.sentinel/internal/guard"
	"uk.co.dudmesh.sentinel/internal/handlers"
	"uk.co.dudmesh.sentinel/internal/lockout"
	"uk.co.dudmesh.sentinel/internal/metrics"
	"uk.co.dudmesh.sentinel/internal/password"
	"uk.co.dudmesh.sentinel/internal/ratelimit"
	"uk.co.dudmesh.sentinel/internal/service/user"
	"uk.co.dudmesh.sentinel/internal/token"
)

type Template struct {
	mu        sync.RWMutex
	dir       string
	templates *template.Template
	watcher   *fsnotify.Watcher
}

func (t *Template) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	t.mu.RLock()
	templates := t.templates
	t.mu.RUnlock()
	return templates.ExecuteTemplate(w, name, data)
}

func (t *Template) reload() {
	templates, err := template.ParseGlob(filepath.Join(t.dir, "*.html"))
	if err != nil {
		// keep serving the last good set while a template is half edited
		log.Errorf("reloading templates: %+v", err)
		return
	}
	t.mu.Lock()
	t.templates = templates
	t.mu.Unlock()
}

func (t *Template) Watch() error {
	var err error

	t.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-t.watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					log.Infof("modified template: %s", event.Name)
					t.reload()
				}
			case err, ok := <-t.watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("watcher: %+v", err)
			}
		}
	}()

	if err := t.watcher.Add(t.dir); err != nil {
		return fmt.Errorf("watching %s: %w", t.dir, err)
	}
	return nil
}

func (t *Template) Close() {
	if t.watcher != nil {
		t.watcher.Close()
	}
}

func NewTemplate(dir string) (*Template, error) {
	templates, err := template.ParseGlob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &Template{dir: dir, templates: templates}, nil
}

func main() {
	config, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}

	logger := log.New("sentinel")
	logger.SetLevel(log.INFO)
	if config.IsDevelopment() {
		logger.SetLevel(log.DEBUG)
	}

	store, err := config.OpenStore()
	if err != nil {
		log.Fatalf("opening credential store: %+v", err)
	}
	defer store.Close()

	hasher, err := password.NewHasher(config.BcryptCost)
	if err != nil {
		log.Fatalf("creating hasher: %+v", err)
	}
	lockoutPolicy, err := lockout.New(config.Lockout(), store, time.Now)
	if err != nil {
		log.Fatalf("creating lockout policy: %+v", err)
	}
	issuer, err := token.NewIssuer([]byte(config.TokenSecret), token.WithTTL(config.TokenTTL), token.WithIssuer(config.TokenIssuer))
	if err != nil {
		log.Fatalf("creating token issuer: %+v", err)
	}
	authMetrics, err := metrics.NewAuth(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("registering metrics: %+v", err)
	}

	userService, err := user.New(user.Config{
		PasswordPolicy:   config.PasswordPolicy(),
		TokenTTL:         config.TokenTTL,
		AllowAdminSignup: config.AllowAdminSignup,
	}, user.Deps{
		Store:   store,
		Hasher:  hasher,
		Lockout: lockoutPolicy,
		Issuer:  issuer,
		Metrics: authMetrics,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("creating user service: %+v", err)
	}

	if admin := config.BootstrapAdmin(); admin != nil {
		if _, err := userService.EnsureAdmin(context.Background(), admin); err != nil {
			log.Fatalf("creating bootstrap admin: %+v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := ratelimit.New(config.AuthRateBurst, config.AuthRateInterval)
	go limiter.StartCleanupWorker(ctx, 10*time.Minute)

	server := echo.New()
	server.HideBanner = true
	server.Use(middleware.BodyLimit("1M"))
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	server.Use(echoprometheus.NewMiddleware("sentinel"))
	server.Use(middleware.Recover())

	server.Logger.SetLevel(log.INFO)

	headers := []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestID}
	server.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     config.AllowedOrigins,
		AllowHeaders:     headers,
		AllowCredentials: true,
	}))

	t, err := NewTemplate(config.ViewsDirectory)
	if err != nil {
		log.Fatalf("templates: %+v", err)
	}
	defer t.Close()
	if config.IsDevelopment() {
		if err := t.Watch(); err != nil {
			log.Fatalf("templates: %+v", err)
		}
	}
	server.Renderer = t

	routes := &handlers.Routes{
		Users:    userService,
		Verifier: issuer,
		Cookie:   handlers.Cookie{Name: config.TokenCookie, Secure: config.IsProduction()},
		Pages: guard.Config{
			Prefixes:   config.ProtectedPrefixes,
			SignInPath: config.SignInPath,
		},
		Limiter: limiter,
		Metrics: authMetrics,
		Logger:  logger,
	}
	routes.Mount(server)

	metricsServer := echo.New()
	metricsServer.HideBanner = true
	metricsServer.GET("/metrics", echoprometheus.NewHandler())
	go func() {
		if err := metricsServer.Start(fmt.Sprintf(":%d", config.MetricsPort)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", config.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Logger.Fatal("shutting down the server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		server.Logger.Error(err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		server.Logger.Error(err)
	}
}
