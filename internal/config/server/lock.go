package server

import "fmt"

const (
	LockTypeNone  = "none"
	LockTypeLocal = "local"
	LockTypeRedis = "redis"
)

type LockServerConfig struct {
	Type  string                `mapstructure:"type"  yaml:"type"`
	TTL   string                `mapstructure:"ttl"   yaml:"ttl"`
	Redis LockRedisServerConfig `mapstructure:"redis" yaml:"redis"`
}

type LockRedisServerConfig struct {
	Addr     string `mapstructure:"addr"     yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db"       yaml:"db"`
}

func (c LockServerConfig) Validate() error {
	switch c.Type {
	case LockTypeNone, LockTypeLocal:
		return nil
	case LockTypeRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("lock.redis.addr is required")
		}
		return nil
	default:
		return fmt.Errorf("unsupported lock type '%s'", c.Type)
	}
}
