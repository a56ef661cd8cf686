package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

type Config struct {
	Port                   string `env:"PORT" envDefault:"8080"`
	DBUser                 string `env:"DB_USER,required"`
	DBPassword             string `env:"DB_PASSWORD,required"`
	DBHost                 string `env:"DB_HOST,required"` // e.g. tcp(host:3306) or unix(/cloudsql/instance)
	DBName                 string `env:"DB_NAME,required"`
	DBPort                 string `env:"DB_PORT" envDefault:"3306"`
	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`

	Reservation Reservation
	Payment     Payment
	Messaging   Messaging
	RateLimit   RateLimit

	FirebaseProjectID string   `env:"FIREBASE_PROJECT_ID"`
	AdminUIDs         []string `env:"ADMIN_UIDS" envSeparator:","`
	ExportBucket      string   `env:"EXPORT_BUCKET"`
}

// Reservation holds the business rules of the pickup reservation flow.
type Reservation struct {
	Timezone          string        `env:"APP_TIMEZONE" envDefault:"Asia/Tokyo"`
	MaxOrderKg        int           `env:"MAX_ORDER_KG" envDefault:"50"`
	ServiceFeeYen     int64         `env:"SERVICE_FEE_YEN" envDefault:"300"`
	Cutoff            time.Duration `env:"RESERVATION_CUTOFF" envDefault:"3h"`
	CancelGrace       time.Duration `env:"CANCEL_GRACE" envDefault:"0s"`
	CancelUseGrace    bool          `env:"CANCEL_USE_GRACE" envDefault:"false"`
	PendingTTL        time.Duration `env:"PENDING_TTL" envDefault:"45m"`
	CancelTokenSecret string        `env:"CANCEL_TOKEN_SECRET" envDefault:"dev-cancel-token-secret"`
}

type Payment struct {
	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	AppBaseURL          string        `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`
	SessionTTL          time.Duration `env:"PAYMENT_SESSION_TTL" envDefault:"30m"`
}

type Messaging struct {
	RabbitMQURL string `env:"RABBITMQ_URL"`
	RedisURL    string `env:"REDIS_URL"`
}

type RateLimit struct {
	Enabled        bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	Capacity       int           `env:"RATE_LIMIT_CAPACITY" envDefault:"20"`
	RefillTokens   int           `env:"RATE_LIMIT_REFILL_TOKENS" envDefault:"1"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"3s"`
	TTL            time.Duration `env:"RATE_LIMIT_TTL" envDefault:"10m"`
	Prefix         string        `env:"RATE_LIMIT_PREFIX" envDefault:"rl"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.Reservation.MaxOrderKg <= 0 {
		c.Reservation.MaxOrderKg = 50
	}
	if c.Reservation.ServiceFeeYen < 0 {
		c.Reservation.ServiceFeeYen = 0
	}
	if c.Reservation.CancelGrace < 0 {
		c.Reservation.CancelGrace = 0
	}
	if c.RateLimit.Capacity < 1 {
		c.RateLimit.Capacity = 1
	}
	if c.RateLimit.RefillTokens < 1 {
		c.RateLimit.RefillTokens = 1
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = time.Second
	}
	if minTTL := 5 * c.RateLimit.RefillInterval; c.RateLimit.TTL < minTTL {
		c.RateLimit.TTL = minTTL
	}
	uids := c.AdminUIDs[:0]
	for _, uid := range c.AdminUIDs {
		if uid = strings.TrimSpace(uid); uid != "" {
			uids = append(uids, uid)
		}
	}
	c.AdminUIDs = uids
}

// IsAdmin reports whether uid is listed in ADMIN_UIDS.
func (c *Config) IsAdmin(uid string) bool {
	for _, a := range c.AdminUIDs {
		if a == uid {
			return true
		}
	}
	return false
}
