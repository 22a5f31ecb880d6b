package config

import (
	"log"
	"os"
	"time"

	"github.com/JOMO418/furniture-hub-backend/pkg/utils"
	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string   `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTP     `yaml:"http"`
	Postgres PG       `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Mpesa    Mpesa    `yaml:"mpesa"`
	SMTP     SMTP     `yaml:"smtp"`
	Orders   Orders   `yaml:"orders"`
	Auth     Auth     `yaml:"auth"`
	Limiter  Limiter  `yaml:"limiter"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env-default:"4s"`
}

type PG struct {
	URL string `yaml:"url" env:"DB_URL"`
}

type Redis struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
}

type Kafka struct {
	Brokers    []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	OrderTopic string   `yaml:"order_topic" env:"KAFKA_ORDER_TOPIC" env-default:"order_events"`
	GroupID    string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"furniture-hub-notifications"`
}

// Mpesa is constructed once at startup and passed into the gateway client as
// an immutable value. The sandbox/production split is just the base URL.
type Mpesa struct {
	BaseURL        string        `yaml:"base_url" env:"MPESA_BASE_URL" env-default:"https://sandbox.safaricom.co.ke"`
	ConsumerKey    string        `yaml:"consumer_key" env:"MPESA_CONSUMER_KEY"`
	ConsumerSecret string        `yaml:"consumer_secret" env:"MPESA_CONSUMER_SECRET"`
	ShortCode      string        `yaml:"short_code" env:"MPESA_SHORT_CODE"`
	Passkey        string        `yaml:"passkey" env:"MPESA_PASSKEY"`
	CallbackURL    string        `yaml:"callback_url" env:"MPESA_CALLBACK_URL"`
	Timeout        time.Duration `yaml:"timeout" env:"MPESA_TIMEOUT" env-default:"30s"`
	PendingWindow  time.Duration `yaml:"pending_window" env:"MPESA_PENDING_WINDOW" env-default:"90s"`
}

type SMTP struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User     string `yaml:"user" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
}

type Orders struct {
	DeliveryFee    int64         `yaml:"delivery_fee" env:"ORDER_DELIVERY_FEE" env-default:"500"`
	ReservationTTL time.Duration `yaml:"reservation_ttl" env:"ORDER_RESERVATION_TTL" env-default:"30m"`
	SweepInterval  time.Duration `yaml:"sweep_interval" env:"ORDER_SWEEP_INTERVAL" env-default:"1m"`
}

type Auth struct {
	AccessSecret string `yaml:"access_secret" env:"ACCESS_SECRET"`
}

type Limiter struct {
	Max        int           `yaml:"max" env-default:"20"`
	Expiration time.Duration `yaml:"expiration" env-default:"5s"`
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	var cfg Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			log.Fatalf("error reading config from env: %v", err)
		}
		return &cfg
	}

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return &cfg
}
