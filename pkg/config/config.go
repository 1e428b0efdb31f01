package config

import "time"

// Config mirrors the hub's recognized environment keys one-to-one:
// each field carries an explicit fig tag naming its key, so the env
// var github.com/kkyr/fig reads for it is exactly the documented name.
// The three timing keys are plain integer seconds on the wire (e.g.
// PING_INTERVAL=20), matching the documented env format: fig's
// duration decode hook calls time.ParseDuration, which rejects a
// unit-less number, so a time.Duration field would reject exactly the
// values the config table documents.
type Config struct {
	Port                  int    `fig:"PORT" default:"8000"`
	MaxReconnectAttempts  int    `fig:"MAX_RECONNECT_ATTEMPTS" default:"5"`
	ReconnectIntervalSecs int    `fig:"RECONNECT_INTERVAL" default:"2"`
	LogLevel              string `fig:"LOG_LEVEL" default:"INFO"`
	DebugMode             bool   `fig:"DEBUG_MODE"`
	ConnectionTimeoutSecs int    `fig:"CONNECTION_TIMEOUT" default:"30"`
	PingIntervalSecs      int    `fig:"PING_INTERVAL" default:"20"`
	TelemetryBufferSize   int    `fig:"TELEMETRY_BUFFER_SIZE" default:"100"`
}

// ReconnectInterval, ConnectionTimeout, and PingInterval convert the
// loaded integer-seconds fields to time.Duration for internal use.
func (c Config) ReconnectInterval() time.Duration { return time.Duration(c.ReconnectIntervalSecs) * time.Second }
func (c Config) ConnectionTimeout() time.Duration { return time.Duration(c.ConnectionTimeoutSecs) * time.Second }
func (c Config) PingInterval() time.Duration      { return time.Duration(c.PingIntervalSecs) * time.Second }

// Validate rejects configurations that would make the concurrency
// model meaningless: zero/negative durations or sizes.
func (c Config) Validate() error {
	switch {
	case c.Port <= 0:
		return errInvalid("PORT")
	case c.TelemetryBufferSize <= 0:
		return errInvalid("TELEMETRY_BUFFER_SIZE")
	case c.PingIntervalSecs <= 0:
		return errInvalid("PING_INTERVAL")
	case c.ConnectionTimeoutSecs <= 0:
		return errInvalid("CONNECTION_TIMEOUT")
	}
	return nil
}

type invalidKeyError string

func (e invalidKeyError) Error() string { return "config: invalid value for " + string(e) }

func errInvalid(key string) error { return invalidKeyError(key) }
