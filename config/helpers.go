package config

import (
	"time"

	"github.com/spf13/viper"
)

// getStringOrDefault returns the string at key or the fallback when unset.
func getStringOrDefault(v *viper.Viper, key, fallback string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return fallback
}

// getIntOrDefault returns the int at key or the fallback when unset.
func getIntOrDefault(v *viper.Viper, key string, fallback int) int {
	if v.IsSet(key) {
		return v.GetInt(key)
	}
	return fallback
}

// getInt64OrDefault returns the int64 at key or the fallback when unset.
func getInt64OrDefault(v *viper.Viper, key string, fallback int64) int64 {
	if v.IsSet(key) {
		return v.GetInt64(key)
	}
	return fallback
}

// getBoolOrDefault returns the bool at key or the fallback when unset.
func getBoolOrDefault(v *viper.Viper, key string, fallback bool) bool {
	if v.IsSet(key) {
		return v.GetBool(key)
	}
	return fallback
}

// getDurationOrDefault returns the duration at key or the fallback when unset.
func getDurationOrDefault(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	if v.IsSet(key) {
		return v.GetDuration(key)
	}
	return fallback
}
