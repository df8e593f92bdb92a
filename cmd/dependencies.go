package cmd

import (
	"fmt"
	"log/slog"

	"github.com/frahmantamala/thematic-predictions/internal"
	"github.com/frahmantamala/thematic-predictions/internal/analyzer"
	"github.com/frahmantamala/thematic-predictions/internal/cache"
	"github.com/frahmantamala/thematic-predictions/internal/core/events"
	"github.com/frahmantamala/thematic-predictions/internal/paymentgateway"
	"github.com/frahmantamala/thematic-predictions/internal/prediction"
	predictionPostgres "github.com/frahmantamala/thematic-predictions/internal/prediction/postgres"
	"github.com/frahmantamala/thematic-predictions/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Dependencies struct {
	Config   *internal.Config
	DB       *sqlx.DB
	Cache    *cache.Client
	EventBus *events.EventBus
	Service  *prediction.Service
	Logger   *slog.Logger
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	predictionCfg, err := predictionConfig(config.Prediction)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	cacheClient := cache.New(config.Redis.Addr, config.Redis.Password, config.Redis.DB)
	if !cacheClient.Enabled() {
		lg.Info("redis not configured, notification ledger disabled")
	}

	eventBus := events.NewEventBus(lg)
	prediction.NewEventHandler(lg).RegisterEventHandlers(eventBus)

	textAnalyzer := analyzer.NewService(analyzer.Config{
		Enabled:     config.AI.Enabled,
		Endpoint:    config.AI.Endpoint,
		APIKey:      config.AI.APIKey,
		Model:       config.AI.Model,
		Temperature: config.AI.Temperature,
		Timeout:     config.AI.Timeout,
	}, lg)

	gateway := paymentgateway.NewClient(paymentgateway.Config{
		APIURL:              config.Payment.APIURL,
		AccessToken:         config.Payment.AccessToken,
		PublicKey:           config.Payment.PublicKey,
		NotificationURL:     config.Payment.NotificationURL,
		BackURL:             config.Payment.BackURL,
		Currency:            config.Payment.Currency,
		StatementDescriptor: config.Payment.StatementDescriptor,
		RequestTimeout:      config.Payment.RequestTimeout,
	}, lg)

	service := prediction.NewService(
		predictionCfg,
		predictionPostgres.NewPredictionRepository(gormDB),
		gateway,
		prediction.NewFulfillmentGenerator(textAnalyzer, lg),
		lg,
		prediction.WithEventPublisher(eventBus),
		prediction.WithNotificationLedger(cache.NewNotificationLedger(cacheClient, config.Redis.NotificationTTL)),
	)

	return &Dependencies{
		Config:   config,
		DB:       db,
		Cache:    cacheClient,
		EventBus: eventBus,
		Service:  service,
		Logger:   lg,
	}, nil
}

// Close waits for in-flight event handlers and releases connections.
func (d *Dependencies) Close() {
	d.EventBus.Wait()
	if err := d.Cache.Close(); err != nil {
		d.Logger.Error("redis close error", "error", err)
	}
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("database close error", "error", err)
	}
}

func predictionConfig(cfg internal.PredictionConfig) (prediction.Config, error) {
	base, err := decimal.NewFromString(cfg.BaseAmount)
	if err != nil {
		return prediction.Config{}, fmt.Errorf("invalid prediction base_amount: %w", err)
	}
	rate, err := decimal.NewFromString(cfg.DiscountRate)
	if err != nil {
		return prediction.Config{}, fmt.Errorf("invalid prediction discount_rate: %w", err)
	}
	return prediction.Config{
		BaseAmount:          base,
		DiscountRate:        rate,
		ValidityWindow:      cfg.ValidityWindow,
		ConfirmMaxAttempts:  cfg.ConfirmMaxAttempts,
		PollGatewayOnStatus: cfg.PollGatewayOnStatus,
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx pool with gorm. TranslateError maps unique
// violations to gorm.ErrDuplicatedKey for the repository.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
}
