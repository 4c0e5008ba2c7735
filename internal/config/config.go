package config

import "github.com/kelseyhightower/envconfig"

type APIConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// DB pool tuning
	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`

	// Outbound webhook delivery (for the send-now and dispatch-run endpoints)
	WebhookTimeout  string  `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	WebhookRPS      float64 `envconfig:"WEBHOOK_RPS" default:"10"`
	WebhookBurst    int     `envconfig:"WEBHOOK_BURST" default:"20"`
	MaxResponseBody int     `envconfig:"MAX_RESPONSE_BODY" default:"50000"`
}

type DispatcherConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8081"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9091"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// DB pool tuning
	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"5"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`

	// Cadence for the due-post sweep (standard 5-field cron expression).
	DispatchCron string `envconfig:"DISPATCH_CRON" default:"* * * * *"`

	// Outbound webhook delivery
	WebhookTimeout  string  `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	WebhookRPS      float64 `envconfig:"WEBHOOK_RPS" default:"10"`
	WebhookBurst    int     `envconfig:"WEBHOOK_BURST" default:"20"`
	MaxResponseBody int     `envconfig:"MAX_RESPONSE_BODY" default:"50000"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadDispatcher() DispatcherConfig {
	var cfg DispatcherConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
