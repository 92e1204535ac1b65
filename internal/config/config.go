package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds the base process configuration.
type Config struct {
	Host                     string
	Port                     string
	SQLiteDBPath             string
	Env                      string
	AllowTestMode            bool
	JWTSecret                string
	JWTAccessTokenExpirySec  int
	JWTRefreshTokenExpirySec int

	// DevicesManifestPath points at the YAML manifest declaring devices
	// and the layer-to-device mapping table.
	DevicesManifestPath string

	// QueueSlowCommandMs is the lag past a command's due time before the
	// queue raises the slowCommand signal. 0 disables it.
	QueueSlowCommandMs int

	// DefaultResendTimeMs is applied to HTTP devices whose manifest entry
	// does not set resendTime. Values <= 1 disable the retry wave.
	DefaultResendTimeMs int

	// ClipCacheTTLSeconds is the TTL for clip title-to-id lookups.
	ClipCacheTTLSeconds int

	// ResyncCron, when set, schedules a periodic makeReady resync across
	// all registered devices (standard 5-field cron expression).
	ResyncCron string
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	host := envString("HOST", "0.0.0.0")
	port := envString("PORT", "9000")
	sqlitePath := envString("SQLITE_DB_PATH", "./data/timeline-resolver.db")

	// Warn if the database path appears to point outside this project.
	// This happens when SQLITE_DB_PATH is exported in the shell from a
	// different checkout.
	if !strings.Contains(sqlitePath, "timeline-resolver") && !strings.HasPrefix(sqlitePath, "./") {
		log.Printf("WARNING: SQLITE_DB_PATH appears to point to another project: %s", sqlitePath)
		log.Printf("WARNING: Fix: unset SQLITE_DB_PATH && set -a && source .env && set +a")
	}

	env := envString("APP_ENV", "development")
	allowTestMode := envBool("ALLOW_TEST_MODE", false)
	jwtSecret := envString("JWT_SECRET", "")
	jwtAccessExpiry := envInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)
	jwtRefreshExpiry := envInt("JWT_REFRESH_TOKEN_EXPIRY", 2592000)
	manifestPath := envString("DEVICES_MANIFEST_PATH", "./config/devices.yaml")
	slowCommandMs := envInt("QUEUE_SLOW_COMMAND_MS", 1000)
	defaultResendTime := envInt("DEFAULT_RESEND_TIME_MS", 0)
	clipCacheTTL := envInt("CLIP_CACHE_TTL_SECONDS", 30)
	resyncCron := envString("RESYNC_CRON", "")

	if len(strings.TrimSpace(jwtSecret)) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}

	return Config{
		Host:                     host,
		Port:                     port,
		SQLiteDBPath:             sqlitePath,
		Env:                      env,
		AllowTestMode:            allowTestMode,
		JWTSecret:                jwtSecret,
		JWTAccessTokenExpirySec:  jwtAccessExpiry,
		JWTRefreshTokenExpirySec: jwtRefreshExpiry,
		DevicesManifestPath:      manifestPath,
		QueueSlowCommandMs:       slowCommandMs,
		DefaultResendTimeMs:      defaultResendTime,
		ClipCacheTTLSeconds:      clipCacheTTL,
		ResyncCron:               resyncCron,
	}, nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}
