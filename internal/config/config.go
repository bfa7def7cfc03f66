package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr               string        `env:"ADDR"                  envDefault:":5000"`
	DatabasePath       string        `env:"DATABASE_PATH"         envDefault:"pairquiz.db"`
	QuestionsPerGame   int           `env:"QUESTIONS_PER_GAME"    envDefault:"5"`
	RoundTimeout       time.Duration `env:"ROUND_TIMEOUT"         envDefault:"20s"`
	LobbyCodeLength    int           `env:"LOBBY_CODE_LENGTH"     envDefault:"6"`
	WebsocketReadLimit int64         `env:"WEBSOCKET_READ_LIMIT"  envDefault:"4096"`
	MaxChatMessageLen  int           `env:"MAX_CHAT_MESSAGE_LEN"  envDefault:"20"`
}

// LoadConfig reads an optional .env file and parses the environment.
// A missing .env file is not an error; variables may be set directly.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return Config{}, err
	}

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
