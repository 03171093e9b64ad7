package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestLoadDefaultsAndDerivedURLs(t *testing.T) {
	t.Setenv("PUBLIC_BASE_URL", "https://pos.example.vn/")
	t.Setenv("PAYMENT_INTENT_TTL", "20m")
	t.Setenv("PAYMENT_HTTP_TIMEOUT", "not-a-duration")
	t.Setenv("VNPAY_TMN_CODE", "TMN01")
	t.Setenv("VNPAY_HASH_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://pos.example.vn", cfg.Server.PublicBaseURL)
	assert.Equal(t, 20*time.Minute, cfg.Payment.IntentTTL)
	assert.Equal(t, 10*time.Second, cfg.Payment.HTTPTimeout)
	assert.Equal(t, "https://pos.example.vn/payment/vnpay/return", cfg.Payment.VNPay.ReturnURL)
	assert.Equal(t, "https://pos.example.vn/payment/momo/callback", cfg.Payment.MoMo.IPNURL)
	assert.Equal(t, "https://pos.example.vn/payment/zalopay/callback", cfg.Payment.ZaloPay.CallbackURL)
	assert.Equal(t, "TMN01", cfg.Payment.VNPay.TmnCode)
}

func TestMissingCredentials(t *testing.T) {
	p := PaymentConfig{
		VNPay: VNPayConfig{TmnCode: "TMN01", HashSecret: "s"},
		MoMo:  MoMoConfig{PartnerCode: "MOMO"},
	}
	missing := p.MissingCredentials()

	assert.NotContains(t, missing, "vnpay")
	assert.Equal(t, []string{"MOMO_ACCESS_KEY", "MOMO_SECRET_KEY"}, missing["momo"])
	assert.Equal(t, []string{"ZALOPAY_APP_ID", "ZALOPAY_KEY1", "ZALOPAY_KEY2"}, missing["zalopay"])
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "3306", Name: "pos", User: "u", Pass: "p", Charset: "utf8mb4"}
	assert.Equal(t, "u:p@tcp(db:3306)/pos?charset=utf8mb4&parseTime=True&loc=UTC", d.DSN())
}

func TestGormConfig(t *testing.T) {
	quiet := gormConfig(false)
	assert.True(t, quiet.PrepareStmt)
	assert.True(t, quiet.DisableForeignKeyConstraintWhenMigrating)
	assert.Equal(t, time.UTC, quiet.NowFunc().Location())
	assert.Equal(t, logger.Default.LogMode(logger.Warn), quiet.Logger)
	assert.Equal(t, logger.Default.LogMode(logger.Info), gormConfig(true).Logger)
}
