package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Source describes where configuration is read from.
type Source struct {
	// Dir is searched first, then "." and "./config".
	Dir string
	// Name is the config file name without extension.
	Name string
	// EnvPrefix, when set, is prepended to every environment key.
	EnvPrefix string
}

// Load reads a yaml config file (if any) and layers environment variables on
// top of it. A missing file is not an error.
func Load(src Source) (*viper.Viper, error) {
	v := viper.New()

	name := src.Name
	if name == "" {
		name = "config"
	}
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	if src.Dir != "" {
		v.AddConfigPath(src.Dir)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if src.EnvPrefix != "" {
		v.SetEnvPrefix(src.EnvPrefix)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return v, nil
}
