package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bizadmin/apiserver/config"
	"github.com/bizadmin/apiserver/internal/auth"
	"github.com/bizadmin/apiserver/internal/db"
	"github.com/bizadmin/apiserver/internal/handlers"
	"github.com/bizadmin/apiserver/internal/mail"
	"github.com/bizadmin/apiserver/internal/mq"
	"github.com/bizadmin/apiserver/internal/notify"
	"github.com/bizadmin/apiserver/internal/services"
	"github.com/bizadmin/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

const requestTimeout = 60 * time.Second

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	queue      *mq.MQ
	log        logrus.FieldLogger
}

// Deps are the collaborators the router is built from.
type Deps struct {
	Users    services.UserRepository
	Notifier services.Notifier
	Log      logrus.FieldLogger
}

// New connects to the database and the configured notification channel and
// builds the HTTP server around them.
func New(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	notifier, queue, err := NewNotifier(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	router := NewRouter(cfg, Deps{
		Users:    store.NewUserRepository(dbConn),
		Notifier: notifier,
		Log:      log,
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		db:         dbConn,
		queue:      queue,
		log:        log,
	}, nil
}

// NewNotifier picks how account emails leave the process: through the
// message queue when one is configured, directly over SMTP otherwise. Both
// results are nil when neither is set up. The returned queue, if any, must
// be closed by the caller.
func NewNotifier(ctx context.Context, cfg config.Config) (services.Notifier, *mq.MQ, error) {
	switch {
	case cfg.UsesQueue():
		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return nil, nil, err
		}
		return notify.NewQueue(queue, cfg.MQ.MailChannel), queue, nil
	case cfg.Mail.Enabled():
		sender, err := mail.NewSMTPSender(cfg.Mail)
		if err != nil {
			return nil, nil, err
		}
		return notify.NewDirect(sender), nil, nil
	default:
		return nil, nil, nil
	}
}

// NewRouter assembles the middleware stack and routes.
func NewRouter(cfg config.Config, deps Deps) *chi.Mux {
	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret)
	cookie := auth.NewSessionCookie(cfg.Auth.CookieName, cfg.Auth.CookieSecure)

	authService := services.NewAuthService(deps.Users, hasher, tokens, deps.Notifier, deps.Log, services.AuthOptions{
		TokenTTL:         cfg.Auth.TokenTTL,
		RefreshTTL:       cfg.Auth.RefreshTTL,
		RegistrationMode: cfg.Registration.Mode,
		LoginURL:         cfg.Registration.LoginURL,
	})
	userService := services.NewUserService(deps.Users)

	authHandler := handlers.NewAuthHandler(authService, userService, cookie, deps.Log)
	session := handlers.NewSessionMiddleware(authService, cookie, deps.Log)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(deps.Log),
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler, session, handlers.RouteOptions{
			UsersRequireAdmin: cfg.Auth.UsersRequireAdmin,
		})
	})

	return router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the database pool and
// the message queue connection.
func (s *Server) Shutdown(ctx context.Context) error {
	errs := []error{s.httpServer.Shutdown(ctx)}
	if s.queue != nil {
		errs = append(errs, s.queue.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
