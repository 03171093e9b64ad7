package config

import (
	"log"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	API      APIConfig
	Payment  PaymentConfig
}

type ServerConfig struct {
	Port          int
	Env           string // "development", "production"
	PublicBaseURL string // externally reachable base for provider callbacks
}

type DatabaseConfig struct {
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type APIConfig struct {
	Key string
}

type PaymentConfig struct {
	IntentTTL   time.Duration
	HTTPTimeout time.Duration
	LockTTL     time.Duration
	LockWait    time.Duration
	SweepSpec   string
	PollSpec    string
	PollAfter   time.Duration

	VNPay   VNPayConfig
	MoMo    MoMoConfig
	ZaloPay ZaloPayConfig
}

type VNPayConfig struct {
	TmnCode     string
	HashSecret  string
	PayURL      string
	APIURL      string
	ReturnURL   string
	ClientIP    string
	OrderPrefix string
}

type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	IPNURL      string
}

type ZaloPayConfig struct {
	AppID       string
	Key1        string
	Key2        string
	Endpoint    string
	RedirectURL string
	CallbackURL string
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("PAYMENT_INTENT_TTL", "15m")
	viper.SetDefault("PAYMENT_HTTP_TIMEOUT", "10s")
	viper.SetDefault("PAYMENT_LOCK_TTL", "30s")
	viper.SetDefault("PAYMENT_LOCK_WAIT", "5s")
	viper.SetDefault("PAYMENT_SWEEP_SPEC", "*/30 * * * * *")
	viper.SetDefault("PAYMENT_POLL_SPEC", "0 */2 * * * *")
	viper.SetDefault("PAYMENT_POLL_AFTER", "5m")
	viper.SetDefault("VNPAY_PAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html")
	viper.SetDefault("VNPAY_API_URL", "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction")
	viper.SetDefault("VNPAY_CLIENT_IP", "127.0.0.1")
	viper.SetDefault("VNPAY_ORDER_PREFIX", "Thanh toan don hang ")
	viper.SetDefault("MOMO_ENDPOINT", "https://test-payment.momo.vn")
	viper.SetDefault("ZALOPAY_ENDPOINT", "https://sb-openapi.zalopay.vn")

	publicBase := strings.TrimRight(viper.GetString("PUBLIC_BASE_URL"), "/")

	cfg := &Config{
		Server: ServerConfig{
			Port:          viper.GetInt("APP_PORT"),
			Env:           viper.GetString("APP_ENV"),
			PublicBaseURL: publicBase,
		},
		Database: DatabaseConfig{
			Host:    viper.GetString("DB_HOST"),
			Port:    viper.GetString("DB_PORT"),
			Name:    viper.GetString("DB_NAME"),
			User:    viper.GetString("DB_USER"),
			Pass:    viper.GetString("DB_PASS"),
			Charset: viper.GetString("DB_CHARSET"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		API: APIConfig{
			Key: viper.GetString("API_KEY"),
		},
		Payment: PaymentConfig{
			IntentTTL:   durationOr("PAYMENT_INTENT_TTL", 15*time.Minute),
			HTTPTimeout: durationOr("PAYMENT_HTTP_TIMEOUT", 10*time.Second),
			LockTTL:     durationOr("PAYMENT_LOCK_TTL", 30*time.Second),
			LockWait:    durationOr("PAYMENT_LOCK_WAIT", 5*time.Second),
			SweepSpec:   viper.GetString("PAYMENT_SWEEP_SPEC"),
			PollSpec:    viper.GetString("PAYMENT_POLL_SPEC"),
			PollAfter:   durationOr("PAYMENT_POLL_AFTER", 5*time.Minute),
			VNPay: VNPayConfig{
				TmnCode:     viper.GetString("VNPAY_TMN_CODE"),
				HashSecret:  viper.GetString("VNPAY_HASH_SECRET"),
				PayURL:      viper.GetString("VNPAY_PAY_URL"),
				APIURL:      viper.GetString("VNPAY_API_URL"),
				ReturnURL:   viper.GetString("VNPAY_RETURN_URL"),
				ClientIP:    viper.GetString("VNPAY_CLIENT_IP"),
				OrderPrefix: viper.GetString("VNPAY_ORDER_PREFIX"),
			},
			MoMo: MoMoConfig{
				PartnerCode: viper.GetString("MOMO_PARTNER_CODE"),
				AccessKey:   viper.GetString("MOMO_ACCESS_KEY"),
				SecretKey:   viper.GetString("MOMO_SECRET_KEY"),
				Endpoint:    strings.TrimRight(viper.GetString("MOMO_ENDPOINT"), "/"),
				RedirectURL: viper.GetString("MOMO_REDIRECT_URL"),
				IPNURL:      publicBase + "/payment/momo/callback",
			},
			ZaloPay: ZaloPayConfig{
				AppID:       viper.GetString("ZALOPAY_APP_ID"),
				Key1:        viper.GetString("ZALOPAY_KEY1"),
				Key2:        viper.GetString("ZALOPAY_KEY2"),
				Endpoint:    strings.TrimRight(viper.GetString("ZALOPAY_ENDPOINT"), "/"),
				RedirectURL: viper.GetString("ZALOPAY_REDIRECT_URL"),
				CallbackURL: publicBase + "/payment/zalopay/callback",
			},
		},
	}

	if cfg.Payment.VNPay.ReturnURL == "" {
		cfg.Payment.VNPay.ReturnURL = publicBase + "/payment/vnpay/return"
	}

	if cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}
	if cfg.API.Key == "" {
		log.Println("WARNING: API_KEY is not set")
	}
	// Credentials are reported by name only; secrets never reach the log.
	for provider, missing := range cfg.Payment.MissingCredentials() {
		log.Printf("WARNING: %s disabled until configured: missing %s", provider, strings.Join(missing, ", "))
	}

	return cfg, nil
}

// LoadDatabaseOnly reads just the database section, for --bootstrap-db.
func LoadDatabaseOnly() (*DatabaseConfig, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	return &cfg.Database, nil
}

// MissingCredentials lists unset credential keys per provider.
func (p PaymentConfig) MissingCredentials() map[string][]string {
	out := make(map[string][]string)
	add := func(provider string, fields map[string]string) {
		for _, name := range sortedKeys(fields) {
			if strings.TrimSpace(fields[name]) == "" {
				out[provider] = append(out[provider], name)
			}
		}
	}
	add("vnpay", map[string]string{
		"VNPAY_TMN_CODE":    p.VNPay.TmnCode,
		"VNPAY_HASH_SECRET": p.VNPay.HashSecret,
	})
	add("momo", map[string]string{
		"MOMO_PARTNER_CODE": p.MoMo.PartnerCode,
		"MOMO_ACCESS_KEY":   p.MoMo.AccessKey,
		"MOMO_SECRET_KEY":   p.MoMo.SecretKey,
	})
	add("zalopay", map[string]string{
		"ZALOPAY_APP_ID": p.ZaloPay.AppID,
		"ZALOPAY_KEY1":   p.ZaloPay.Key1,
		"ZALOPAY_KEY2":   p.ZaloPay.Key2,
	})
	return out
}

// DSN returns the MySQL DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=UTC"
}

func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
