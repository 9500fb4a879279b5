package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/mediconnect/idm/pkg/audit"
	"github.com/mediconnect/idm/pkg/config"
	"github.com/mediconnect/idm/pkg/login"
	loginapi "github.com/mediconnect/idm/pkg/login/api"
	"github.com/mediconnect/idm/pkg/notification"
	"github.com/mediconnect/idm/pkg/ratelimit"
	"github.com/mediconnect/idm/pkg/sessions"
	"github.com/mediconnect/idm/pkg/tokengenerator"
	"github.com/mediconnect/idm/pkg/twofa"
	twofaapi "github.com/mediconnect/idm/pkg/twofa/api"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	credRepo, cleanup, err := buildCredentialRepository(ctx, cfg)
	if err != nil {
		slog.Error("Failed to build credential repository", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	var store sessions.Store
	var lockout *ratelimit.LockoutLimiter
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		store = sessions.NewRedisStore(client)
		lockout = ratelimit.NewLockoutLimiter(client,
			ratelimit.WithMaxFailures(cfg.RateLimit.MaxFailures),
			ratelimit.WithWindow(cfg.RateLimit.Window),
			ratelimit.WithLockout(cfg.RateLimit.Lockout),
		)
	} else {
		slog.Warn("Redis disabled, sessions and lockouts stay in process memory")
		store = sessions.NewInMemStore()
	}

	var notifier notification.Notifier = notification.NoopNotifier{}
	if cfg.Email.Enabled {
		emailNotifier, err := notification.NewEmailNotifier(cfg.Email.ToSMTPConfig())
		if err != nil {
			slog.Error("Failed to build email notifier", "error", err)
			os.Exit(1)
		}
		notifier = emailNotifier
	}

	tokens := tokengenerator.NewJwtService([]byte(cfg.Jwt.Secret), cfg.Jwt.Issuer)
	tokens.AccessTokenExpiry = cfg.Jwt.AccessTokenExpiry
	tokens.TempTokenExpiry = cfg.Jwt.TempTokenExpiry

	userRepo := login.NewInMemUserRepository()
	seedDemoUser(userRepo)

	loginService := login.NewLoginService(userRepo, login.NewBcryptHasher(), store, tokens,
		login.WithSessionTTLs(cfg.Session.TTL, cfg.Session.PendingTTL))

	twoFaOpts := []twofa.Option{
		twofa.WithPasswordVerifier(loginService),
		twofa.WithIssuer(cfg.TwoFactor.Issuer),
		twofa.WithEnrollmentTTL(cfg.TwoFactor.EnrollmentTTL),
		twofa.WithBackupCodeCount(cfg.TwoFactor.BackupCodeCount),
		twofa.WithDisablePolicy(twofa.DisablePolicy{
			LockedRoles:   cfg.TwoFactor.LockedRoles,
			RequiredRoles: cfg.TwoFactor.RequiredRoles,
		}),
		twofa.WithAuditRecorder(audit.NewSlogRecorder(slog.Default())),
		twofa.WithNotifier(notifier),
	}
	if lockout != nil {
		twoFaOpts = append(twoFaOpts, twofa.WithAttemptRecorder(lockout))
	}
	twoFaService := twofa.NewTwoFaService(credRepo, store, loginService, twoFaOpts...)
	loginService.SetTwoFactorService(twoFaService)

	auth := jwtauth.New("HS256", []byte(cfg.Jwt.Secret), nil)
	requests := ratelimit.NewRequestLimiter(cfg.RateLimit.RequestBurst, cfg.RateLimit.RequestPerSec)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requests.Handler)

	cookies := tokengenerator.NewCookieSetter(cfg.Jwt.CookieHttpOnly, cfg.Jwt.CookieSecure)
	r.Mount("/api/idm/auth", loginapi.Router(loginapi.NewHandle(loginService, tokens, loginapi.WithCookieSetter(cookies)), auth))

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(auth))
		r.Use(jwtauth.Authenticator(auth))
		r.Mount("/api/idm/2fa", twofaapi.Router(twofaapi.NewHandle(twoFaService, lockoutChecker(lockout))))
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("Starting idm server", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", "error", err)
	}
}

func buildCredentialRepository(ctx context.Context, cfg config.Config) (twofa.CredentialRepository, func(), error) {
	switch cfg.Database.Persistence {
	case "postgres", "postgresql":
		pool, err := pgxpool.New(ctx, cfg.Database.ToDatabaseURL())
		if err != nil {
			return nil, nil, err
		}
		repo, err := twofa.NewCredentialRepository(cfg.Database.Persistence, twofa.RepositoryConfig{Pool: pool})
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil
	default:
		repo, err := twofa.NewCredentialRepository(cfg.Database.Persistence, twofa.RepositoryConfig{
			DataDir: cfg.Database.DataDir,
		})
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	}
}

// lockoutChecker keeps the nil check in one place: a nil *LockoutLimiter must
// become a nil interface, not a typed nil.
func lockoutChecker(lockout *ratelimit.LockoutLimiter) twofaapi.LockoutChecker {
	if lockout == nil {
		return nil
	}
	return lockout
}

// seedDemoUser creates an initial account when IDM_SEED_USERNAME and
// IDM_SEED_PASSWORD are set. The account store is in-memory: production
// deployments resolve users through their own directory integration.
func seedDemoUser(repo *login.InMemUserRepository) {
	username := os.Getenv("IDM_SEED_USERNAME")
	password := os.Getenv("IDM_SEED_PASSWORD")
	if username == "" || password == "" {
		return
	}

	hash, err := login.NewBcryptHasher().Hash(password)
	if err != nil {
		slog.Error("Failed to hash seed password", "error", err)
		return
	}

	repo.AddUser(login.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        os.Getenv("IDM_SEED_EMAIL"),
		PasswordHash: hash,
		Roles:        []string{"user"},
	})
	slog.Info("Seeded initial user", "username", username)
}
