package config

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database 兜底存储数据库配置
type Database struct {
	Driver          string `mapstructure:"driver"`
	Source          string `mapstructure:"source"`
	ConnMaxIdleTime int    `mapstructure:"connMaxIdleTime"` // 秒
	ConnMaxLifeTime int    `mapstructure:"connMaxLifeTime"` // 秒
	MaxIdleConns    int    `mapstructure:"maxIdleConns"`
	MaxOpenConns    int    `mapstructure:"maxOpenConns"`
}

// SetDefaults 填充默认值
func (d *Database) SetDefaults() {
	if d.Driver == "" {
		d.Driver = "mysql"
	}
	if d.MaxIdleConns == 0 {
		d.MaxIdleConns = 5
	}
	if d.MaxOpenConns == 0 {
		d.MaxOpenConns = 20
	}
}

// Validate 校验数据库配置
func (d *Database) Validate() error {
	if d.Driver != "mysql" {
		return fmt.Errorf("unsupported database driver: %s", d.Driver)
	}
	if d.Source == "" {
		return fmt.Errorf("database source is required")
	}
	return nil
}

// Open 打开数据库连接；logger 为空时使用 gorm 默认日志
func (d *Database) Open(logger gormlogger.Interface) (*gorm.DB, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	gormConfig := &gorm.Config{}
	if logger != nil {
		gormConfig.Logger = logger
	}
	db, err := gorm.Open(mysql.Open(d.Source), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(d.MaxIdleConns)
	sqlDB.SetMaxOpenConns(d.MaxOpenConns)
	if d.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(d.ConnMaxIdleTime) * time.Second)
	}
	if d.ConnMaxLifeTime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(d.ConnMaxLifeTime) * time.Second)
	}
	return db, nil
}

var DatabaseConfig = new(Database)
