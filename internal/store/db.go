package store

import (
	"fmt"

	"userbackend/internal/config"
	"userbackend/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Open 按配置连接数据库并执行自动迁移。
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if err := db.AutoMigrate(&model.User{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if ddl := emailCollationDDL(cfg.Driver); ddl != "" {
		if err := db.Exec(ddl).Error; err != nil {
			return nil, fmt.Errorf("pin email collation: %w", err)
		}
	}
	return db, nil
}

// emailCollationDDL 返回把 email 列改为按字节比较的语句。
// MySQL 默认的 utf8mb4 排序规则不区分大小写；PostgreSQL 与 SQLite 默认即区分。
func emailCollationDDL(driver string) string {
	if driver != config.DriverMySQL {
		return ""
	}
	return "ALTER TABLE users MODIFY email varchar(191) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL"
}
