package config

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var logger = log.NewWithOptions(os.Stdout, log.Options{Prefix: "config", ReportTimestamp: true})

// Required lists the settings the server refuses to start without
var Required = []string{"strava.client_id", "strava.client_secret", "jwt.secret"}

// Load initializes the configuration with viper
func Load() {
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found or error loading it. Using default values and environment variables.")
	}

	SetDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logger.Fatal("Error reading config file", "err", err)
		}
		logger.Info("Config file not found, using default values and environment variables")
	} else {
		logger.Info("Using config file", "path", viper.ConfigFileUsed())
	}

	if missing := Missing(); len(missing) > 0 {
		logger.Fatal("Required configuration variables not set", "missing", strings.Join(missing, ", "))
	}
}

func SetDefaults() {
	viper.SetDefault("server.port", "3001")
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("db.path", "./data/challenge.db")

	viper.SetDefault("strava.api_url", "https://www.strava.com/api/v3")
	viper.SetDefault("strava.auth_url", "https://www.strava.com/oauth/authorize")
	viper.SetDefault("strava.token_url", "https://www.strava.com/oauth/token")
	viper.SetDefault("strava.redirect_url", "http://localhost:3000/auth/callback")
	viper.SetDefault("strava.scopes", "read,activity:read_all")
	viper.SetDefault("strava.timeout_seconds", 10)
	viper.SetDefault("strava.requests_per_second", 0)

	viper.SetDefault("jwt.ttl_hours", 168)
	viper.SetDefault("streak.timezone", "UTC")
	viper.SetDefault("sync.interval_minutes", 0)
	viper.SetDefault("sync.window_days", 0)
	viper.SetDefault("cors.allowed_origins", "*")
}

// Missing returns the required settings that have no value
func Missing() []string {
	missing := []string{}
	for _, v := range Required {
		if !viper.IsSet(v) || viper.GetString(v) == "" {
			missing = append(missing, v)
		}
	}
	return missing
}
