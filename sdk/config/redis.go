package config

import (
	"fmt"

	"github.com/go-redis/redis/v9"
)

// Redis Redis配置
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"poolSize"`
}

// Validate 校验Redis配置
func (r *Redis) Validate() error {
	if r.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	return nil
}

// NewClient 创建 Redis 客户端
func (r *Redis) NewClient() (*redis.Client, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return redis.NewClient(&redis.Options{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
		PoolSize: r.PoolSize,
	}), nil
}

var RedisConfig = new(Redis)
