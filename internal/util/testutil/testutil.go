package testutil

import (
	"crypto/rand"
	"fmt"
	mathrand "math/rand"
	"os"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hookdeck/taskd/internal/logging"
	internalredis "github.com/hookdeck/taskd/internal/redis"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
}

func Race(t *testing.T) {
	if os.Getenv("TESTRACE") != "1" {
		t.Skip("skipping race test")
	}
}

// CreateTestRedisConfig starts a miniredis server for the duration of the test.
func CreateTestRedisConfig(t *testing.T) (*internalredis.RedisConfig, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	port, _ := strconv.Atoi(mr.Port())

	return &internalredis.RedisConfig{
		Host:     mr.Host(),
		Port:     port,
		Password: "",
		Database: 0,
	}, mr
}

func CreateTestRedisClient(t *testing.T) (internalredis.Client, *miniredis.Miniredis) {
	config, mr := CreateTestRedisConfig(t)
	client, err := internalredis.NewClient(config)
	if err != nil {
		t.Fatalf("failed to create redis client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return client, mr
}

func CreateTestLogger(t *testing.T) *logging.Logger {
	zapLogger := zaptest.NewLogger(t)
	logger := otelzap.New(zapLogger,
		otelzap.WithMinLevel(zap.InfoLevel),
	)
	return &logging.Logger{Logger: logger}
}

func RandomString(length int) string {
	b := make([]byte, length+2)
	rand.Read(b)
	return fmt.Sprintf("%x", b)[2 : length+2]
}

func RandomPortNumber() int {
	return 10000 + mathrand.Intn(50000)
}
