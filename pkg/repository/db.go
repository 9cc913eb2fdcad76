package repository

import (
	"fmt"

	"github.com/example/orderflow/pkg/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDB connects to the configured order database.
func OpenDB(dbCfg *config.DatabaseConfig, mysqlCfg *config.MySQLConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbCfg.Driver {
	case "mysql":
		dialector = mysql.Open(mysqlCfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(dbCfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dbCfg.Driver, err)
	}

	if dbCfg.Driver == "mysql" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxIdleConns(mysqlCfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(mysqlCfg.MaxOpenConns)
	}

	return db, nil
}
