package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethaccount/paymaster/erc4337"
	"github.com/ethaccount/paymaster/paymaster"
	"github.com/ethaccount/paymaster/src/handler"
	"github.com/ethaccount/paymaster/src/repository"
	"github.com/ethaccount/paymaster/src/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/rs/zerolog"
	postgresDriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const sponsorshipKeyPrefix = "sponsorship"

type Application struct {
	config           AppConfig
	database         *gorm.DB
	redis            *redis.Client
	node             erc4337.Node
	PaymasterService *service.PaymasterService
}

func NewApplication(ctx context.Context, config AppConfig) (_ *Application, err error) {
	logger := zerolog.Ctx(ctx).With().Str("function", "NewApplication").Logger()

	// Resolve the chain binding before touching storage
	var node erc4337.Node
	chainID := config.ChainID
	if config.RPCURL != nil && *config.RPCURL != "" {
		node, chainID, err = connectNode(ctx, config)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				node.Close()
			}
		}()
	}

	// Connect to Redis
	redisOpts, err := redis.ParseURL(*config.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(redisOpts)

	// Test Redis connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connection to redis failed: %w", err)
	}
	logger.Info().Msg("Redis connection established")

	// Connect to database
	database, err := gorm.Open(postgresDriver.Open(*config.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connection to database failed: %w", err)
	}

	// Test database connection
	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connection to database failed: %w", err)
	}

	logger.Info().Msg("Database connection established")

	// run migration files
	if err := MigrationUp(*config.DSN, *config.MigrationPath); err != nil {
		return nil, err
	}

	signer, err := paymaster.NewSignerFromHex(*config.PrivateKey)
	if err != nil {
		return nil, err
	}

	ledger := paymaster.NewLedger(repository.NewSponsorRepository(database))

	engine, err := paymaster.NewEngine(paymaster.Config{
		Authority:     signer.Address(),
		Paymaster:     *config.PaymasterAddress,
		ChainID:       chainID,
		ContextSigner: signer,
	}, ledger)
	if err != nil {
		return nil, fmt.Errorf("creation of paymaster engine failed: %w", err)
	}

	paymasterService, err := service.NewPaymasterService(
		engine,
		signer,
		repository.NewSponsorshipCache(rdb, sponsorshipKeyPrefix),
		service.PaymasterConfig{
			EntryPoint:      *config.EntryPoint,
			DefaultValidity: *config.DefaultValidity,
			SponsorshipTTL:  *config.SponsorshipTTL,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("creation of paymaster service failed: %w", err)
	}

	logger.Info().
		Str("paymaster", config.PaymasterAddress.Hex()).
		Str("authority", signer.Address().Hex()).
		Str("entry_point", config.EntryPoint.Hex()).
		Str("chain_id", chainID.String()).
		Msg("Paymaster service ready")

	return &Application{
		config:           config,
		database:         database,
		redis:            rdb,
		node:             node,
		PaymasterService: paymasterService,
	}, nil
}

// connectNode reads the chain id from RPC_URL and checks it against CHAIN_ID.
// An entry point the node does not list is only worth a warning, since plain
// nodes do not implement eth_supportedEntryPoints.
func connectNode(ctx context.Context, config AppConfig) (erc4337.Node, *big.Int, error) {
	logger := zerolog.Ctx(ctx).With().Str("function", "connectNode").Logger()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	node, err := erc4337.DialContext(dialCtx, *config.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial rpc: %w", err)
	}

	chainID, err := node.ChainId(dialCtx)
	if err != nil {
		node.Close()
		return nil, nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	if config.ChainID != nil && config.ChainID.Cmp(chainID) != 0 {
		node.Close()
		return nil, nil, fmt.Errorf("CHAIN_ID %s does not match rpc chain id %s", config.ChainID, chainID)
	}

	entryPoints, err := node.SupportedEntryPoints(dialCtx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to get supported entry points")
	} else if !containsAddress(entryPoints, *config.EntryPoint) {
		logger.Warn().
			Str("entry_point", config.EntryPoint.Hex()).
			Int("supported", len(entryPoints)).
			Msg("Entry point is not supported by the rpc node")
	}

	logger.Info().Str("chain_id", chainID.String()).Msg("RPC connection established")
	return node, chainID, nil
}

func containsAddress(addresses []common.Address, target common.Address) bool {
	for _, a := range addresses {
		if a == target {
			return true
		}
	}
	return false
}

func (app *Application) Shutdown(ctx context.Context) {
	logger := zerolog.Ctx(ctx).With().Str("function", "Shutdown").Logger()

	// Close database connection
	if app.database != nil {
		db, err := app.database.DB()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to get underlying database connection")
		} else {
			if err := db.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close database connection")
			} else {
				logger.Info().Msg("Database connection closed")
			}
		}
	}

	// Close Redis connection
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close redis connection")
		} else {
			logger.Info().Msg("Redis connection closed")
		}
	}

	if app.node != nil {
		app.node.Close()
		logger.Info().Msg("RPC connection closed")
	}
}

func (app *Application) RunHTTPServer(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunHTTPServer").Logger()

	// Set to release mode to disable Gin logger
	gin.SetMode(gin.ReleaseMode)

	ginRouter := gin.Default()

	// Register routes
	app.registerRoutes(ctx, ginRouter)

	// Build HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", *app.config.Port),
		Handler: ginRouter,
	}

	// Start server in goroutine
	go func() {
		zerolog.Ctx(ctx).Info().Msgf("HTTP server is on http://localhost:%s/api/v1/health", *app.config.Port)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Panic().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	logger.Info().Msg("Gracefully shutting down HTTP server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shutdown HTTP server gracefully")
	} else {
		logger.Info().Msg("HTTP server shutdown complete")
	}
}

func (app *Application) registerRoutes(ctx context.Context, router *gin.Engine) {
	// Configure CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = *app.config.AllowOrigins
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-API-Secret", "X-Request-ID"}
	config.AllowCredentials = true

	router.Use(cors.New(config))

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	handler.RegisterRoutes(ctx, router, app.PaymasterService, *app.config.APISecret)
}
