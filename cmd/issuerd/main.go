// Command issuerd runs the multi-tenant OAuth 2.1/OIDC issuer: it loads
// configuration, wires every service behind core.Core, and serves the
// HTTP API built in issuer/httpapi.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridianid/issuer/issuer/adminsessions"
	"github.com/meridianid/issuer/issuer/audit"
	"github.com/meridianid/issuer/issuer/config"
	"github.com/meridianid/issuer/issuer/core"
	"github.com/meridianid/issuer/issuer/crypto"
	"github.com/meridianid/issuer/issuer/httpapi"
	"github.com/meridianid/issuer/issuer/kv"
	"github.com/meridianid/issuer/issuer/logging"
	"github.com/meridianid/issuer/issuer/m2m"
	"github.com/meridianid/issuer/issuer/oauth"
	"github.com/meridianid/issuer/issuer/providers"
	"github.com/meridianid/issuer/issuer/providers/password"
	"github.com/meridianid/issuer/issuer/rbac"
	"github.com/meridianid/issuer/issuer/revocation"
	"github.com/meridianid/issuer/issuer/sessions"
	sqlstore "github.com/meridianid/issuer/issuer/sqlstore"
	"github.com/meridianid/issuer/issuer/tenant"
	"github.com/meridianid/issuer/issuer/theme"
	"github.com/meridianid/issuer/issuer/tokens"
	"github.com/meridianid/issuer/issuer/users"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "issuerd",
		Short: "Multi-tenant OAuth 2.1 / OIDC issuer",
		RunE:  runServe,
	}
	root.Flags().StringVar(&configPath, "config", "", "directory containing config.yaml")

	bootstrap := &cobra.Command{
		Use:   "bootstrap-admin-key",
		Short: "Generate a new admin API key and print it together with its hash",
		RunE:  runBootstrapAdminKey,
	}
	root.AddCommand(bootstrap)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBootstrapAdminKey(cmd *cobra.Command, args []string) error {
	key := uuid.New().String()
	fmt.Printf("admin key: %s\nhash:      %s\n", key, crypto.HashToken(key))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.App.Environment)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	built, err := buildCore(cfg, logger)
	if err != nil {
		return err
	}
	defer built.cleanup()

	router := httpapi.NewRouter(httpapi.Deps{
		Core:         built.core,
		Sessions:     adminsessions.NewService(built.core.SQL.Sessions(), built.core.Clock),
		Providers:    built.providers,
		Cookies:      built.cookies,
		Logger:       logger,
		CookieName:   cfg.Sessions.CookieName,
		CookieSecure: cfg.Sessions.CookieSecure,
		AdminAPIKey:  cfg.Admin.APIKey,
		CORSOrigins:  []string{"*"},
	})

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("issuerd listening", zap.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-sigCh:
		logger.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// builtCore bundles core.Core with the collaborators the HTTP layer needs
// directly but core.Core has no field for (the cookie codec, the provider
// registry) plus a cleanup for background resources buildCore started.
type builtCore struct {
	core      *core.Core
	cookies   *crypto.CookieCodec
	providers *providers.Registry
	cleanup   func()
}

func buildCore(cfg *config.Config, logger *zap.Logger) (*builtCore, error) {
	clock := core.RealClock{}

	sqlStore, err := sqlstore.New(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := sqlStore.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.KV.Addr, Password: cfg.KV.Password, DB: cfg.KV.DB})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	kvStore := kv.NewRedisStore(redisClient)

	var masterKey []byte
	if cfg.Crypto.CookieKeyHex != "" {
		masterKey, err = hex.DecodeString(cfg.Crypto.CookieKeyHex)
		if err != nil {
			return nil, fmt.Errorf("decode crypto.cookie_key_hex: %w", err)
		}
	} else {
		masterKey = make([]byte, 32)
	}
	cookieCodec, err := crypto.NewCookieCodec(masterKey)
	if err != nil {
		return nil, fmt.Errorf("build cookie codec: %w", err)
	}

	keyManager := crypto.NewKeyManager(sqlStore.SigningKeys(), nil)
	if _, err := keyManager.ActiveKey(context.Background()); err != nil {
		if _, err := keyManager.GenerateKey(context.Background()); err != nil {
			return nil, fmt.Errorf("generate initial signing key: %w", err)
		}
	}

	tenantResolver := tenant.NewHostResolver(sqlStore.Domains(), sqlStore.Tenants(), cfg.App.BaseDomain, cfg.App.DefaultTenant)

	sessionSvc := sessions.NewService(kvStore, sqlStore.Sessions(), clock, logger, cfg.Sessions.TTL, cfg.Sessions.MaxAccounts)

	rbacSvc, err := rbac.NewService(sqlStore, kvStore, clock, logger, cfg.RBAC.CacheTTL, cfg.RBAC.MaxPermissionsInToken)
	if err != nil {
		return nil, fmt.Errorf("build rbac service: %w", err)
	}

	revocationSvc := revocation.NewService(kvStore, clock, cfg.Tokens.RevocationTTL)
	tokenSvc := tokens.NewService(keyManager, revocationSvc, clock, cfg.App.Issuer, cfg.Tokens.AccessTTL, cfg.Tokens.RefreshTTL)
	m2mSvc := m2m.NewService(sqlStore.Clients(), keyManager, clock, cfg.App.Issuer, cfg.Tokens.AccessTTL)

	auditSink, auditCleanup := buildAuditSink(cfg, sqlStore, redisClient, logger)

	oauthSvc := oauth.NewService(sqlStore.Clients(), sqlStore.Users(), sessionSvc, rbacSvc, tokenSvc, revocationSvc, m2mSvc, auditSink, kvStore, clock, cfg.Tokens.AuthCodeTTL)

	usersSvc := users.NewService(sqlStore.Users(), clock)

	registry := providers.NewRegistry()
	registry.Register(password.New(sqlStore.Users()))

	issuerCore := &core.Core{
		Config: core.Config{
			DatabaseURL:            cfg.Database.URL,
			RedisAddr:              cfg.KV.Addr,
			AdminAPIKey:            cfg.Admin.APIKey,
			BaseDomain:             cfg.App.BaseDomain,
			Issuer:                 cfg.App.Issuer,
			MasterKeyHex:           cfg.Crypto.CookieKeyHex,
			SessionCookieName:      cfg.Sessions.CookieName,
			SessionCookieSecure:    cfg.Sessions.CookieSecure,
			SessionCookieSameSite:  "Lax",
			MaxAccountsPerSession:  cfg.Sessions.MaxAccounts,
			AccessTokenTTL:         cfg.Tokens.AccessTTL,
			RefreshTokenTTL:        cfg.Tokens.RefreshTTL,
			BrowserSessionTTL:      cfg.Sessions.TTL,
			AuthCodeTTL:            cfg.Tokens.AuthCodeTTL,
			RevocationTTL:          cfg.Tokens.RevocationTTL,
			RBACCacheTTL:           cfg.RBAC.CacheTTL,
			MaxPermissionsInToken:  cfg.RBAC.MaxPermissionsInToken,
			AuditQueueSize:         cfg.Audit.QueueSize,
			AuditFailureRateWindow: cfg.Audit.FailureRateWindow,
			AuditFailureRateThresh: cfg.Audit.FailureRateThresh,
			DefaultTenantSlug:      cfg.App.DefaultTenant,
			AutoMigrate:            cfg.Database.AutoMigrate,
		},
		Clock:           clock,
		Store:           kvStore,
		SQL:             sqlStore,
		TenantResolver:  tenantResolver,
		BrowserSessions: sessionSvc,
		RBAC:            rbacSvc,
		Revocation:      revocationSvc,
		KeyManager:      keyManager,
		Tokens:          tokenSvc,
		OAuth:           oauthSvc,
		M2M:             m2mSvc,
		Audit:           auditSink,
		Theme:           theme.NewResolver(sqlStore.Tenants(), core.Branding{}, cfg.App.DefaultTenant, clock),
		Users:           usersSvc,
	}

	cleanup := func() {
		auditCleanup()
		_ = redisClient.Close()
	}
	return &builtCore{core: issuerCore, cookies: cookieCodec, providers: registry, cleanup: cleanup}, nil
}

// buildAuditSink wires direct or queue mode per cfg.Audit.Mode, starting
// the background QueueWorker in queue mode. The returned func stops that
// worker on shutdown.
func buildAuditSink(cfg *config.Config, sqlStore *sqlstore.GormStore, redisClient *redis.Client, logger *zap.Logger) (core.AuditSink, func()) {
	sensor := audit.NewFailureRateSensor(logger, 100)

	if cfg.Audit.Mode != "queue" {
		return audit.NewService(sqlStore.AuditRecords(), sensor), func() {}
	}

	sink := audit.NewQueueSink(redisClient, "", core.RealClock{})
	worker := audit.NewQueueWorker(redisClient, "", sqlStore.AuditRecords(), logger, sensor, 20, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := worker.Run(ctx); err != nil {
			logger.Error("audit queue worker stopped", zap.Error(err))
		}
	}()

	return sink, cancel
}
