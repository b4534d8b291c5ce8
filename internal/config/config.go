// Package config loads the chat-cli configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds everything the terminal messenger needs to connect.
type Config struct {
	ServerURL  string `envconfig:"CHAT_SERVER_URL" default:"ws://localhost:5000/ws"`
	APIURL     string `envconfig:"CHAT_API_URL" default:"http://localhost:5000"`
	Credential string `envconfig:"CHAT_TOKEN"`
	UserID     string `envconfig:"CHAT_USER_ID"`

	HandshakeTimeout time.Duration `envconfig:"CHAT_HANDSHAKE_TIMEOUT" default:"20s"`
	MaxAttempts      int           `envconfig:"CHAT_MAX_ATTEMPTS" default:"5"`
	RetryBaseDelay   time.Duration `envconfig:"CHAT_RETRY_BASE_DELAY" default:"1s"`
	RetryMaxDelay    time.Duration `envconfig:"CHAT_RETRY_MAX_DELAY" default:"5s"`
	AckTimeout       time.Duration `envconfig:"CHAT_ACK_TIMEOUT" default:"10s"`
	TypingDecay      time.Duration `envconfig:"CHAT_TYPING_DECAY" default:"6s"`

	Debug bool `envconfig:"CHAT_DEBUG" default:"false"`
}

// Load reads the configuration from environment variables. A missing
// .env file is not an error; missing required values are.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("unable to get envconfig: %w", err)
	}
	if c.Credential == "" {
		return Config{}, fmt.Errorf("CHAT_TOKEN is required")
	}
	if c.UserID == "" {
		return Config{}, fmt.Errorf("CHAT_USER_ID is required")
	}
	return c, nil
}
