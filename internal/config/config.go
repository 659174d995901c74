package config

import "time"

type Config struct {
	Environment    Environment
	Log            Log
	HTTP           HTTPServer
	BaseURL        string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"mysql"`
	DatabaseURL    string `env:"DATABASE_URL"`
	Currency       string `env:"CURRENCY" envDefault:"SGD"`
	JWTSecret      string `env:"JWT_SECRET"`

	Checkout  Checkout  `envPrefix:"CHECKOUT_"`
	Paypal    Paypal    `envPrefix:"PAYPAL_"`
	Stripe    Stripe    `envPrefix:"STRIPE_"`
	Nets      Nets      `envPrefix:"NETS_"`
	BrainTree Braintree `envPrefix:"BRAINTREE_"`
	SMTP      SMTP      `envPrefix:"SMTP_"`
}

type Checkout struct {
	TTL             time.Duration `env:"TTL" envDefault:"30m"`
	JanitorInterval time.Duration `env:"JANITOR_INTERVAL" envDefault:"5m"`
}

type Paypal struct {
	BaseApiURL      string `env:"BASE_API_URL" envDefault:"https://api-m.sandbox.paypal.com"`
	ClientID        string `env:"CLIENT_ID"`
	ClientSecret    string `env:"CLIENT_SECRET"`
	WebhookID       string `env:"WEBHOOK_ID"`
	TrackingEnabled bool   `env:"TRACKING_ENABLED" envDefault:"true"`
	DefaultCarrier  string `env:"DEFAULT_CARRIER" envDefault:"DHL"`
}

type Stripe struct {
	SecretKey     string `env:"SECRET_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	TaxRateID     string `env:"TAX_RATE_ID"`
}

type Nets struct {
	BaseApiURL   string        `env:"BASE_API_URL" envDefault:"https://sandbox.nets.openapipaas.com"`
	APIKey       string        `env:"API_KEY"`
	ProjectID    string        `env:"PROJECT_ID"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	MaxPolls     int           `env:"MAX_POLLS" envDefault:"60"`
}

type Braintree struct {
	Environment string `env:"ENVIRONMENT"`
	MerchantID  string `env:"MERCHANT_ID"`
	PublicKey   string `env:"PUBLIC_KEY"`
	PrivateKey  string `env:"PRIVATE_KEY"`
}

type SMTP struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

func (e Environment) IsDevelopment() bool {
	return e.Name == "development"
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}
