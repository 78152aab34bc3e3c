package config

import (
	"sync"
)

var (
	redisOnce   sync.Once
	redisConfig *RedisConfig
)

// RedisConfig is shared by the task queue, the handoff store and the profile store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func GetRedisConfig() *RedisConfig {
	redisOnce.Do(func() {
		loadDotEnv()

		redisConfig = &RedisConfig{
			Addr:     envString("REDIS_ADDR", "localhost:6379"),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		}
	})
	return redisConfig
}
