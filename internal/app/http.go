package app

import (
	"context"

	"calendar-proxy/internal/config"
	"calendar-proxy/internal/dispatch"
	"calendar-proxy/internal/exchange"
	"calendar-proxy/internal/exchange/google"
	"calendar-proxy/internal/handler"
	"calendar-proxy/internal/identity"
	"calendar-proxy/internal/middleware"
	"calendar-proxy/internal/refresher"
	"calendar-proxy/internal/schedule"
	"calendar-proxy/internal/session"
	"calendar-proxy/internal/vault"

	"github.com/gin-gonic/gin"
)

func setupHTTP(ctx context.Context, cfg config.Config) (*gin.Engine, func() error, error) {

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// ----------------------------
	// Dependencies
	// ----------------------------

	identityStore := identity.NewPostgresStore(infra.DB)

	cipher, err := vault.NewAEADCipher(cfg.VaultKey)
	if err != nil {
		return nil, nil, err
	}
	credentialVault := vault.New(identityStore, cipher)

	tokenCodec := session.NewTokenCodec(cfg.SessionSecret, cfg.SessionTokenTTL)
	sessionStore := session.NewRedisStore(infra.Redis.Client)
	issuer := session.NewIssuer(sessionStore, tokenCodec, cfg.SessionMaxLifetime)

	googleProvider, err := google.New(
		ctx,
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		cfg.GoogleRedirectURL,
	)
	if err != nil {
		return nil, nil, err
	}

	stateStore := exchange.NewRedisStateStore(infra.Redis.Client)
	identityExchange := exchange.New(
		googleProvider,
		stateStore,
		identityStore,
		credentialVault,
		issuer,
	)

	credentialRefresher := refresher.New(credentialVault, googleProvider, cfg.RefreshMargin)
	schedulingClient := schedule.NewClient(cfg.SchedulingBaseURL)

	dispatcher := dispatch.New(
		issuer,
		credentialRefresher,
		identityStore,
		credentialVault,
		schedulingClient,
	)

	apiHandler := handler.NewHandler(identityExchange, issuer, dispatcher)
	authMiddleware := middleware.NewAuthMiddleware(issuer)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	apiHandler.RegisterRoutes(router, authMiddleware.RequireSession())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// ----------------------------
	// Cleanup
	// ----------------------------

	return router, func() error {
		return infra.DB.Close()
	}, nil
}
