package main

import (
	"fmt"
	"net/url"
	"strings"

	internalhttp "github.com/Butterfly-Student/MikroBill-API/internal/api/http"
	"github.com/Butterfly-Student/MikroBill-API/internal/connection"
	"github.com/Butterfly-Student/MikroBill-API/internal/db"
	"github.com/Butterfly-Student/MikroBill-API/internal/events"
	grpcserver "github.com/Butterfly-Student/MikroBill-API/internal/grpc/server"
	"github.com/Butterfly-Student/MikroBill-API/internal/queue"
	"github.com/Butterfly-Student/MikroBill-API/internal/reconcile"
	"github.com/Butterfly-Student/MikroBill-API/internal/statestore"
	"github.com/Butterfly-Student/MikroBill-API/internal/voucher"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LogConfig               `mapstructure:"log"`
	Http     internalhttp.Config     `mapstructure:"http"`
	Grpc     grpcserver.Config       `mapstructure:"grpc"`
	Database db.Config               `mapstructure:"database"`
	Redis    statestore.Config       `mapstructure:"redis"`
	Queue    queue.Config            `mapstructure:"queue"`
	Sync     reconcile.Config        `mapstructure:"sync"`
	Device   DeviceConfig            `mapstructure:"device"`
	Voucher  voucher.SchedulerConfig `mapstructure:"voucher"`
	Kafka    events.Config           `mapstructure:"kafka"`
}

type DeviceConfig struct {
	connection.Config `mapstructure:",squash"`
	// CredentialKey is the base64 secretbox key sealing device passwords.
	CredentialKey string `mapstructure:"credential_key"`
}

var config Config

// secretKeys are masked by the config command.
var secretKeys = map[string]bool{
	"password":       true,
	"admin_api_key":  true,
	"credential_key": true,
}

// InitConfig loads application.yaml (or configFile when set), applies
// environment overrides and initializes the logger.
func InitConfig(configFile string) error {
	_ = godotenv.Load()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("application")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./cmd/mikrobill-server")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("database.url", "DATABASE_URL")
	_ = viper.BindEnv("redis.url", "REDIS_URL")
	_ = viper.BindEnv("device.credential_key", "DEVICE_CREDENTIAL_KEY")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := viper.Unmarshal(&config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	initLogger(config.Log.Level)
	return nil
}

// redactedSettings renders the effective settings as YAML with secrets and
// URL passwords masked.
func redactedSettings(settings map[string]interface{}) ([]byte, error) {
	return yaml.Marshal(redact(settings))
}

func redact(settings map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(settings))
	for k, v := range settings {
		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = redact(val)
		case string:
			switch {
			case secretKeys[k] && val != "":
				out[k] = "REDACTED"
			case k == "url":
				out[k] = redactURL(val)
			default:
				out[k] = val
			}
		default:
			out[k] = v
		}
	}
	return out
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "REDACTED"
	}
	return u.Redacted()
}
