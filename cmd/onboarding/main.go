package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-onboarding/internal/bootstrap"
	"github.com/smallbiznis/valora-onboarding/internal/codec"
	"github.com/smallbiznis/valora-onboarding/internal/config"
	"github.com/smallbiznis/valora-onboarding/internal/credential"
	httptransport "github.com/smallbiznis/valora-onboarding/internal/http"
	"github.com/smallbiznis/valora-onboarding/internal/http/handler"
	"github.com/smallbiznis/valora-onboarding/internal/invitelink"
	"github.com/smallbiznis/valora-onboarding/internal/mail"
	apimiddleware "github.com/smallbiznis/valora-onboarding/internal/middleware"
	"github.com/smallbiznis/valora-onboarding/internal/repository"
	"github.com/smallbiznis/valora-onboarding/internal/server"
	"github.com/smallbiznis/valora-onboarding/internal/service"
	"github.com/smallbiznis/valora-onboarding/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newOnboardingRepository,
			newOrgRepository,
			newUserRepository,
			newRoleRepository,
			newCredentialRepository,
			newTransportCodec,
			newStorageCodec,
			newInviteSigner,
			newMailer,
			newRateLimiter,
			newOnboardingService,
			newLoginService,
			handler.NewOnboardingHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureAdminRole, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newOnboardingRepository(pool *pgxpool.Pool) repository.OnboardingRepository {
	return repository.NewPostgresOnboardingRepo(pool)
}

func newOrgRepository(pool *pgxpool.Pool) repository.OrgRepository {
	return repository.NewPostgresOrgRepo(pool)
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newRoleRepository(pool *pgxpool.Pool) repository.RoleRepository {
	return repository.NewPostgresRoleRepo(pool)
}

func newCredentialRepository(pool *pgxpool.Pool) repository.CredentialRepository {
	return repository.NewPostgresCredentialRepo(pool)
}

func newTransportCodec(cfg config.Config) (*codec.ECB, error) {
	return codec.NewECB([]byte(cfg.PayloadKey))
}

func newStorageCodec(cfg config.Config) (*codec.GCM, error) {
	return codec.NewGCM([]byte(cfg.StorageKey))
}

func newInviteSigner(cfg config.Config) *invitelink.Signer {
	return invitelink.NewSigner([]byte(cfg.InviteLinkSecret), cfg.InviteBaseURL)
}

func newMailer(cfg config.Config) (mail.Mailer, error) {
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newOnboardingService(
	onboardings repository.OnboardingRepository,
	orgs repository.OrgRepository,
	users repository.UserRepository,
	creds repository.CredentialRepository,
	transport *codec.ECB,
	storage *codec.GCM,
	signer *invitelink.Signer,
	mailer mail.Mailer,
	node *snowflake.Node,
	cfg config.Config,
	logger *zap.Logger,
) *service.OnboardingService {
	gen := credential.NewGenerator(cfg.CredentialTTL)
	return service.NewOnboardingService(
		onboardings, orgs, users, creds,
		transport, storage, gen, signer, mailer, node,
		cfg.CredentialTTL, logger,
	)
}

func newLoginService(
	users repository.UserRepository,
	creds repository.CredentialRepository,
	transport *codec.ECB,
	storage *codec.GCM,
	mailer mail.Mailer,
	cfg config.Config,
	logger *zap.Logger,
) *service.LoginService {
	gen := credential.NewGenerator(cfg.OTPTTL)
	return service.NewLoginService(users, creds, transport, storage, gen, mailer, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
