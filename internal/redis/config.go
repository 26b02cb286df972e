package redis

import "fmt"

type RedisConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	Database       int
	TLSEnabled     bool
	ClusterEnabled bool
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
