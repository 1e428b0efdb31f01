package config

import "github.com/kkyr/fig"

// Load reads Config purely from the process environment: no config
// file, no project-specific prefix, so the env var names fig derives
// line up exactly with the documented key names (PORT, LOG_LEVEL, ...).
func Load() (Config, error) {
	var c Config
	if err := fig.Load(&c, fig.IgnoreFile(), fig.UseEnv("")); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
