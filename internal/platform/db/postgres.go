package db

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	cfgpkg "github.com/fatflowers/subtrack/pkg/config"
	gormzap "github.com/fatflowers/subtrack/pkg/gormlog"
)

func NewDB(l *zap.SugaredLogger, cfg *cfgpkg.Config) (*gorm.DB, error) {
	if cfg.Database.DSN == "" {
		l.Error("database DSN is empty")
		return nil, gorm.ErrInvalidDB
	}
	level := gormlogger.Info
	if cfg.Env == cfgpkg.EnvProd {
		level = gormlogger.Warn
	}
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{Logger: gormzap.New(l, level)})
	if err != nil {
		l.Errorf("failed to connect database: %v", err)
		return nil, err
	}
	l.Infow("connected to postgres via DSN")
	return db, nil
}

var Module = fx.Options(
	fx.Provide(NewDB),
	fx.Invoke(runMigrations),
	fx.Invoke(registerDBClose),
)

// runMigrations applies the embedded versioned migrations on startup when
// database.migrate is set.
func runMigrations(l *zap.SugaredLogger, cfg *cfgpkg.Config, gdb *gorm.DB) error {
	if !cfg.Database.Migrate {
		l.Infow("migrations disabled")
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	version, err := Migrate(sqlDB)
	if err != nil {
		l.Errorf("migrate failed: %v", err)
		return err
	}
	l.Infow("migrations applied", "version", version)
	return nil
}

// registerDBClose ensures the underlying *sql.DB is closed on shutdown
func registerDBClose(lc fx.Lifecycle, l *zap.SugaredLogger, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				l.Warnw("gorm: get sql.DB failed", "err", err)
				return nil
			}
			l.Infow("closing postgres connection pool")
			return sqlDB.Close()
		},
	})
}
