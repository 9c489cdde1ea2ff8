package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port      string `mapstructure:"port"`
		Env       string `mapstructure:"env"`
		ClientURL string `mapstructure:"clientUrl"`
	} `mapstructure:"app"`
	Database struct {
		DSN             string        `mapstructure:"dsn"`
		MaxOpenConns    int           `mapstructure:"maxOpenConns"`
		MaxIdleConns    int           `mapstructure:"maxIdleConns"`
		ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
		AutoMigrate     bool          `mapstructure:"autoMigrate"`
	} `mapstructure:"database"`
	Storage struct {
		// postgres | memory
		Driver string `mapstructure:"driver"`
	} `mapstructure:"storage"`
	Redis struct {
		Enabled  bool          `mapstructure:"enabled"`
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		CacheTTL time.Duration `mapstructure:"cacheTtl"`
		LockTTL  time.Duration `mapstructure:"lockTtl"`
	} `mapstructure:"redis"`
	Kafka struct {
		Enabled      bool     `mapstructure:"enabled"`
		Brokers      []string `mapstructure:"brokers"`
		PaymentTopic string   `mapstructure:"paymentTopic"`
		EnsureTopics bool     `mapstructure:"ensureTopics"`
	} `mapstructure:"kafka"`
	Stripe struct {
		APIKey        string `mapstructure:"apiKey"`
		WebhookSecret string `mapstructure:"webhookSecret"`
		Currency      string `mapstructure:"currency"`
	} `mapstructure:"stripe"`
	GRPC struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"grpc"`
	Auth struct {
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"auth"`
	Verification struct {
		MaxAttempts int           `mapstructure:"maxAttempts"`
		BaseDelay   time.Duration `mapstructure:"baseDelay"`
	} `mapstructure:"verification"`
	Scheduler struct {
		ExpirySpec string `mapstructure:"expirySpec"`
	} `mapstructure:"scheduler"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.clientUrl", "http://localhost:5173")
	v.SetDefault("database.maxOpenConns", 20)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", 30*time.Minute)
	v.SetDefault("database.autoMigrate", true)
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.cacheTtl", 15*time.Minute)
	v.SetDefault("redis.lockTtl", 30*time.Second)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.paymentTopic", "payment.recorded")
	v.SetDefault("kafka.ensureTopics", true)
	v.SetDefault("stripe.currency", "usd")
	v.SetDefault("grpc.port", "9090")
	v.SetDefault("verification.maxAttempts", 10)
	v.SetDefault("verification.baseDelay", time.Second)
	v.SetDefault("scheduler.expirySpec", "@every 1h")
}

// LoadConfig загружает конфигурацию: .env (кроме production), затем config.yaml из path
// (необязательно), затем переменные окружения вида DATABASE_DSN, STRIPE_APIKEY.
func LoadConfig(path string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		// .env может отсутствовать, это не ошибка
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		cfg.App.Env = env
	}
	return &cfg, nil
}

// bindEnv привязывает ключи без значений по умолчанию, иначе AutomaticEnv их не увидит при Unmarshal.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"database.dsn",
		"redis.password",
		"redis.db",
		"stripe.apiKey",
		"stripe.webhookSecret",
		"auth.jwtSecret",
	} {
		_ = v.BindEnv(key)
	}
}

// IsProduction true для боевого окружения.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
