package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// validate 配置结构体校验器（validator 缓存结构体元数据，全局复用）
var validate = validator.New()

// Config 顶层配置结构
type Config struct {
	Application *Application      `mapstructure:"application"`
	Logger      *Logger           `mapstructure:"logger"`
	Dispatcher  *DispatcherConfig `mapstructure:"dispatcher"`
	Resilience  *ResilienceConfig `mapstructure:"resilience"`
	Database    *Database         `mapstructure:"database"` // 兜底存储数据库
	Redis       *Redis            `mapstructure:"redis"`    // 幂等记录
}

var AppConfig = &Config{
	Application: ApplicationConfig,
	Logger:      LoggerConfig,
	Dispatcher:  DispatcherSettings,
	Resilience:  ResilienceSettings,
	Database:    DatabaseConfig,
	Redis:       RedisConfig,
}

var (
	DispatcherSettings = new(DispatcherConfig)
	ResilienceSettings = new(ResilienceConfig)
)

// Setup 读取配置文件并映射到 AppConfig，支持 JXT_ 前缀的环境变量覆盖
func Setup(configYml string) error {
	v := viper.New()
	v.SetConfigFile(configYml)
	v.SetEnvPrefix("JXT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := v.Unmarshal(AppConfig); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}

	AppConfig.SetDefaults()
	return AppConfig.Validate()
}

// SetDefaults 为各段配置填充默认值，缺失的段会被创建
func (c *Config) SetDefaults() {
	if c.Application == nil {
		c.Application = new(Application)
	}
	if c.Logger == nil {
		c.Logger = new(Logger)
	}
	if c.Dispatcher == nil {
		c.Dispatcher = new(DispatcherConfig)
	}
	if c.Resilience == nil {
		c.Resilience = new(ResilienceConfig)
	}
	if c.Database == nil {
		c.Database = new(Database)
	}
	if c.Redis == nil {
		c.Redis = new(Redis)
	}
	c.Application.SetDefaults()
	c.Logger.SetDefaults()
	c.Dispatcher.SetDefaults()
	c.Resilience.SetDefaults()
	c.Database.SetDefaults()
}

// Validate 校验全部配置
func (c *Config) Validate() error {
	if err := c.Dispatcher.Validate(); err != nil {
		return err
	}
	if err := c.Resilience.Validate(); err != nil {
		return err
	}
	if c.Resilience.Fallback.Enabled && c.Resilience.Fallback.Backend == BackendGorm {
		if err := c.Database.Validate(); err != nil {
			return err
		}
	}
	if c.Resilience.Idempotency.Enabled && c.Resilience.Idempotency.Backend == BackendRedis {
		if err := c.Redis.Validate(); err != nil {
			return err
		}
	}
	return nil
}
