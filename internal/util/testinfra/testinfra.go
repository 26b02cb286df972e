package testinfra

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hookdeck/taskd/internal/util/testutil"
	"github.com/spf13/viper"
)

var (
	suiteCounter int64
	suiteCleanup sync.Once
	cfgSync      sync.Once
	cfg          *Config
)

type Config struct {
	TestInfra   bool
	RabbitMQURL string
	cleanupFns  []func()
}

// initConfig reads TESTINFRA settings from the environment and, when present,
// from .env.test at the project root. With TESTINFRA=1 the tests use the
// externally provided services; otherwise containers are started on demand.
func initConfig() {
	v := viper.New()
	v.AutomaticEnv()

	configFile := os.Getenv("TEST_CONFIG_FILE")
	if configFile == "" {
		configFile = ".env.test"
	}
	if projectRoot, err := findProjectRoot(configFile); err == nil {
		v.SetConfigFile(filepath.Join(projectRoot, configFile))
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			panic(err)
		}
	}

	cfg = &Config{
		TestInfra: v.GetBool("TESTINFRA"),
	}
	if cfg.TestInfra {
		rabbitmqURL := v.GetString("TEST_RABBITMQ_URL")
		if !strings.Contains(rabbitmqURL, "amqp://") {
			rabbitmqURL = "amqp://guest:guest@" + rabbitmqURL
		}
		cfg.RabbitMQURL = rabbitmqURL
	}
}

func ReadConfig() *Config {
	cfgSync.Do(initConfig)
	return cfg
}

// Start registers a test suite using shared infrastructure. The returned func
// tears the containers down once the last suite finishes.
func Start(t *testing.T) func() {
	testutil.Integration(t)
	atomic.AddInt64(&suiteCounter, 1)
	return func() {
		if atomic.AddInt64(&suiteCounter, -1) == 0 {
			suiteCleanup.Do(func() {
				if cfg != nil {
					for _, fn := range cfg.cleanupFns {
						if fn != nil {
							fn()
						}
					}
				}
			})
		}
	}
}

func findProjectRoot(marker string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parentDir := filepath.Dir(dir)
		if parentDir == dir {
			break
		}
		dir = parentDir
	}

	return "", os.ErrNotExist
}
