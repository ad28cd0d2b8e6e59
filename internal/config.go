package internal

import (
	"fmt"
	"time"
)

// Config is the server configuration, loaded from the environment.
// Defaults match a single-node deployment; only the database path has no
// sensible default.
type Config struct {
	Host              string        `env:"HOST,default=0.0.0.0"`
	Port              int           `env:"PORT,default=6969"`
	MaxClients        int           `env:"MAX_CLIENTS,default=100"`
	MaxGroups         int           `env:"MAX_GROUPS,default=50"`
	GroupCapacity     int           `env:"GROUP_CAPACITY,default=100"`
	MaxMessageLength  int           `env:"MAX_MESSAGE_LENGTH,default=4096"`
	SendBufferSize    int           `env:"SEND_BUFFER_SIZE,default=64"`
	CharReplacement   string        `env:"CHARACTER_REPLACEMENT,default=*"`
	ModerationEnabled bool          `env:"MODERATION_ENABLED,default=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	MetricInterval    time.Duration `env:"METRIC_INTERVAL,default=30s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel          string        `env:"LOG_LEVEL,default=INFO"`
	DebugPort         int           `env:"DEBUG_PORT,default=8081"`
}

// CharacterRune converts the CHARACTER_REPLACEMENT setting into a rune,
// rejecting multi-character values.
func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
