package config

import "github.com/kelseyhightower/envconfig"

type SenderConfig struct {
	DBDSN     string `envconfig:"DB_DSN" required:"true"`
	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Mail relay
	RelayBaseURL string `envconfig:"RELAY_BASE_URL" required:"true"`
	RelayAPIKey  string `envconfig:"RELAY_API_KEY"`

	// Delivery pipeline
	Concurrency      int     `envconfig:"SEND_CONCURRENCY" default:"5"`
	ThrottlePerSec   float64 `envconfig:"SEND_THROTTLE_PER_SEC" default:"0"` // 0 disables the throttle
	ThrottleBurst    int     `envconfig:"SEND_THROTTLE_BURST" default:"1"`
	PollInterval     string  `envconfig:"POLL_INTERVAL" default:"5s"`
	RetryInterval    string  `envconfig:"RETRY_INTERVAL" default:"5s"`
	RelayRetryWait   string  `envconfig:"RELAY_RETRY_WAIT" default:"10s"`
	RelaySendTimeout string  `envconfig:"RELAY_SEND_TIMEOUT" default:"30s"`

	// VERP bounce addressing: the installation-level verp_use setting only
	// takes effect while this flag is on and a verp_hostname is configured.
	VERPEnabled bool `envconfig:"VERP_ENABLED" default:"false"`
}

type SeedConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text"`
	Subscribers int    `envconfig:"SEED_SUBSCRIBERS" default:"200"`
	ServiceURL  string `envconfig:"SEED_SERVICE_URL" default:"http://localhost:8080"`
}

func LoadSender() SenderConfig {
	var cfg SenderConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadSeed() SeedConfig {
	var cfg SeedConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
