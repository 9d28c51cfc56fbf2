package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/cashier/internal/config"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func baseEnv() map[string]string {
	return map[string]string{
		"STORAGE_DRIVER":           "memory",
		"ADMIN_API_KEY_HASH":       "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"FEATURE_TELEGRAM_ENABLED": "false",
		"ADMIN_IDS":                "",
		"KAFKA_BROKERS":            "kafka:9092",
	}
}

func TestLoad(t *testing.T) {
	env := baseEnv()
	env["ADMIN_IDS"] = "101, 202,,303"
	env["KAFKA_BROKERS"] = "k1:9092, k2:9092"
	env["CASHOUT_BASIS"] = "net_deposited"
	setEnv(t, env)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, []int64{101, 202, 303}, cfg.AdminIDs)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, config.StorageMemory, cfg.StorageDriver)
	assert.Equal(t, "net_deposited", cfg.CashoutBasis)
	assert.Equal(t, "telegram-bot", cfg.BotActorID)
}

func TestLoad_BadAdminIDs(t *testing.T) {
	env := baseEnv()
	env["ADMIN_IDS"] = "1,two"
	setEnv(t, env)

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_RequiresKeyHash(t *testing.T) {
	setEnv(t, baseEnv())
	// t.Setenv восстановит значение после теста
	require.NoError(t, os.Unsetenv("ADMIN_API_KEY_HASH"))

	_, err := config.Load()
	assert.Error(t, err)
}

func valid() config.Config {
	return config.Config{
		StorageDriver:         config.StorageMemory,
		ApprovalLockTimeout:   1,
		ApprovalRetryAttempts: 1,
		CashoutBasis:          "total_deposited",
		NotifyWorkers:         1,
		NotifyQueueSize:       1,
		NotifyMaxAttempts:     1,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
		ok     bool
	}{
		{"memory", func(c *config.Config) {}, true},
		{"unknown driver", func(c *config.Config) { c.StorageDriver = "sqlite" }, false},
		{"postgres without password", func(c *config.Config) { c.StorageDriver = config.StoragePostgres }, false},
		{"postgres", func(c *config.Config) {
			c.StorageDriver = config.StoragePostgres
			c.DBPassword = "pw"
			c.DBMaxConns, c.DBMinConns = 10, 2
		}, true},
		{"postgres bad pool", func(c *config.Config) {
			c.StorageDriver = config.StoragePostgres
			c.DBPassword = "pw"
			c.DBMaxConns, c.DBMinConns = 2, 10
		}, false},
		{"telegram without token", func(c *config.Config) { c.FeatureTelegramEnabled = true }, false},
		{"telegram", func(c *config.Config) {
			c.FeatureTelegramEnabled = true
			c.TelegramBotToken = "t"
			c.AdminChatID = -100
			c.BotActorID = "telegram-bot"
			c.BotMaxInflight = 1
			c.BotUpdateTimeoutSeconds = 1
		}, true},
		{"bad basis", func(c *config.Config) { c.CashoutBasis = "gross" }, false},
		{"no retries", func(c *config.Config) { c.ApprovalRetryAttempts = 0 }, false},
		{"kafka without brokers", func(c *config.Config) { c.FeatureKafkaEnabled = true }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	c := config.Config{DBUser: "u", DBPassword: "p", DBHost: "db", DBPort: 5432, DBName: "cashier", DBSSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/cashier?sslmode=disable", c.DatabaseDSN())
}
