package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type (
	// AgentConfig configures the operator/custodian desktop agent
	AgentConfig struct {
		Env         string   `yaml:"env"          env:"ENV"          env-default:"local"`
		StoragePath string   `yaml:"storage_path" env:"STORAGE_PATH" env-default:"./escort-agent.db"`
		Log         Log      `yaml:"log"`
		Backend     Backend  `yaml:"backend"`
		Session     Session  `yaml:"session"`
		Alarm       Alarm    `yaml:"alarm"`
		Realtime    Realtime `yaml:"realtime"`
		Relay       Relay    `yaml:"relay"`
		Server      Local    `yaml:"server"`
		Agent       Agent    `yaml:"agent"`
	}

	// ServerConfig configures alert-server and checkin-scheduler
	ServerConfig struct {
		Env       string    `yaml:"env" env:"ENV" env-default:"local"`
		Log       Log       `yaml:"log"`
		HTTP      HTTP      `yaml:"http"`
		Postgres  Postgres  `yaml:"postgres"`
		Realtime  Realtime  `yaml:"realtime"`
		Relay     Relay     `yaml:"relay"`
		Push      Push      `yaml:"push"`
		Scheduler Scheduler `yaml:"scheduler"`
	}

	Log struct {
		Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
		Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
	}

	Backend struct {
		BaseURL string `yaml:"base_url" env:"BACKEND_URL"`
		APIKey  string `yaml:"api_key"  env:"BACKEND_API_KEY"`
		// seconds
		Timeout int `yaml:"timeout" env-default:"10"`
	}

	// Session is the role and scope the agent runs under
	Session struct {
		Role      string `yaml:"role"       env:"SESSION_ROLE"    env-default:"ADMIN"`
		Company   string `yaml:"company"    env:"SESSION_COMPANY"`
		ServiceID string `yaml:"service_id" env:"SESSION_SERVICE_ID"`
		DeviceID  string `yaml:"device_id"  env:"DEVICE_ID"`
	}

	Alarm struct {
		UnlockPhrase  string        `yaml:"unlock_phrase"  env:"ALARM_UNLOCK_PHRASE" env-default:"confirmo"`
		SirenInterval time.Duration `yaml:"siren_interval" env-default:"450ms"`
		SirenLowHz    int           `yaml:"siren_low_hz"   env-default:"660"`
		SirenHighHz   int           `yaml:"siren_high_hz"  env-default:"990"`
		// external command that prints one transcript line per utterance; empty disables voice
		SpeechCommand []string      `yaml:"speech_command" env:"ALARM_SPEECH_COMMAND" env-separator:" "`
		ListenTimeout time.Duration `yaml:"listen_timeout" env-default:"8s"`
	}

	Realtime struct {
		RedisAddr     string `yaml:"redis_addr"     env:"REDIS_ADDR"`
		RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
		RedisDB       int    `yaml:"redis_db"       env-default:"0"`
		Channel       string `yaml:"channel"        env-default:"alarm_event:insert"`
	}

	Relay struct {
		BrokerURL string `yaml:"broker_url" env:"MQTT_BROKER_URL"`
		ClientID  string `yaml:"client_id"  env:"MQTT_CLIENT_ID"`
		Username  string `yaml:"username"   env:"MQTT_USERNAME"`
		Password  string `yaml:"password"   env:"MQTT_PASSWORD"`
		Topic     string `yaml:"topic"      env-default:"escort/push"`
	}

	// Local is the agent's localhost control API
	Local struct {
		Enabled bool `yaml:"enabled" env-default:"true"`
		Port    int  `yaml:"port"    env:"AGENT_PORT" env-default:"8765"`
	}

	Agent struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env-default:"60s"`
		FlushInterval     time.Duration `yaml:"flush_interval"     env-default:"30s"`
		PollInterval      time.Duration `yaml:"poll_interval"      env-default:"15s"`
		Tray              bool          `yaml:"tray"               env-default:"false"`
	}

	HTTP struct {
		Addr         string        `yaml:"addr"          env:"HTTP_ADDR" env-default:"0.0.0.0:8080"`
		ReadTimeout  time.Duration `yaml:"read_timeout"  env-default:"15s"`
		WriteTimeout time.Duration `yaml:"write_timeout" env-default:"30s"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"  env-default:"60s"`
		APIKey       string        `yaml:"api_key"       env:"HTTP_API_KEY"`
		CORS         struct {
			AllowedOrigins   []string `yaml:"allowed_origins"`
			AllowedMethods   []string `yaml:"allowed_methods"`
			AllowedHeaders   []string `yaml:"allowed_headers"`
			AllowCredentials bool     `yaml:"allow_credentials"`
			Debug            bool     `yaml:"debug"`
		} `yaml:"cors"`
	}

	Postgres struct {
		DSN             string        `yaml:"dsn"               env:"PG_URL" env-required:"true"`
		MaxConns        int           `yaml:"max_conns"         env-default:"10"`
		MaxIdle         int           `yaml:"max_idle"          env-default:"2"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env-default:"30m"`
	}

	Push struct {
		VAPIDPublicKey  string `yaml:"vapid_public_key"  env:"VAPID_PUBLIC_KEY"`
		VAPIDPrivateKey string `yaml:"vapid_private_key" env:"VAPID_PRIVATE_KEY"`
		Subject         string `yaml:"subject"           env:"VAPID_SUBJECT" env-default:"mailto:ops@example.com"`
		TTL             int    `yaml:"ttl"               env-default:"3600"`
		Icon            string `yaml:"icon"              env-default:"/icons/icon-192.png"`
		Badge           string `yaml:"badge"             env-default:"/icons/badge-72.png"`
		BaseURL         string `yaml:"base_url"          env:"APP_BASE_URL" env-default:"/"`
		Concurrency     int    `yaml:"concurrency"       env-default:"8"`
	}

	Scheduler struct {
		Cron           string        `yaml:"cron"            env:"CHECKIN_CRON" env-default:"*/15 * * * *"`
		StaleThreshold time.Duration `yaml:"stale_threshold" env-default:"15m"`
		RetryDelay     time.Duration `yaml:"retry_delay"     env-default:"5m"`
		MaxAttempts    int           `yaml:"max_attempts"    env-default:"3"`
		JobTimeout     time.Duration `yaml:"job_timeout"     env-default:"2m"`
		ActiveStatus   string        `yaml:"active_status"   env-default:"active"`
		// when set, pushes go through the alert server instead of in-process
		DispatchURL string `yaml:"dispatch_url" env:"DISPATCH_URL"`
		APIKey      string `yaml:"api_key"      env:"DISPATCH_API_KEY"`
	}
)

// LoadAgentConfig reads the agent configuration file, then environment overrides
func LoadAgentConfig(path string) (*AgentConfig, error) {
	cfg := &AgentConfig{}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServerConfig reads the server configuration file, then environment overrides
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string, cfg any) error {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return fmt.Errorf("failed to read config from env: %w", err)
		}
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}
