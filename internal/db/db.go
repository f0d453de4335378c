package db

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"vashsender/internal/config"
	"vashsender/internal/models"
	"vashsender/internal/utils/logger"
)

var (
	DB  *gorm.DB
	log = logger.New("DB")
)

// DSN returns the key/value connection string for cfg. Separate fields are
// assembled into a URL first, so pq.ParseURL quotes every value the same way
// whichever form the config uses.
func DSN(cfg config.DatabaseConfig) (string, error) {
	if cfg.URL != "" {
		dsn, err := pq.ParseURL(cfg.URL)
		if err != nil {
			return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		return dsn, nil
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	dsn, err := pq.ParseURL(u.String())
	if err != nil {
		return "", fmt.Errorf("invalid database config: %w", err)
	}
	return dsn, nil
}

func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn, err := DSN(cfg.Database)
	if err != nil {
		return nil, err
	}

	level := gormlogger.Warn
	if cfg.Database.LogSQL {
		level = gormlogger.Info
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if cfg.Database.AutoMigrate {
		// Run migrations
		if err := Migrate(gdb); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	DB = gdb
	return gdb, nil
}

// Migrate creates or updates every table the application uses.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.Team{},
		&models.User{},
		&models.RefreshToken{},
		&models.Plan{},
		&models.Subscription{},
		&models.UsageRecord{},
		&models.Domain{},
		&models.SenderEmail{},
		&models.SMTPConfig{},
		&models.Template{},
		&models.ContactList{},
		&models.Contact{},
		&models.File{},
		&models.ContactImport{},
		&models.Campaign{},
		&models.CampaignRecipient{},
		&models.EmailTracking{},
	)
}

func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func GetDB() *gorm.DB {
	return DB
}

// Ping is used by the health check.
func Ping(ctx context.Context, gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// MonitorConnectionPool logs pool statistics every interval until ctx is
// done. Wait counts growing between ticks are reported as warnings.
func MonitorConnectionPool(ctx context.Context, gdb *gorm.DB, interval time.Duration) {
	sqlDB, err := gdb.DB()
	if err != nil {
		log.Error("connection pool monitor disabled", err)
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var lastWait int64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := sqlDB.Stats()
				log.Debug("pool open=%d in_use=%d idle=%d wait_count=%d wait=%s",
					stats.OpenConnections, stats.InUse, stats.Idle, stats.WaitCount, stats.WaitDuration)
				if stats.WaitCount > lastWait {
					log.Warn("⚠️ %d requests waited for a database connection since last check",
						stats.WaitCount-lastWait)
				}
				lastWait = stats.WaitCount
			}
		}
	}()
}
