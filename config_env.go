package authcore

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ConfigFromEnv builds a Config from defaults plus AUTHCORE_* environment
// overrides. Paths name optional .env files loaded first; a missing file
// is not an error, matching local-dev usage where the file only exists on
// some machines. The returned config is not validated; Build does that.
//
// Byte-valued settings (signing keys, the enumeration secret) are read as
// standard base64.
func ConfigFromEnv(paths ...string) (Config, error) {
	if len(paths) > 0 {
		_ = godotenv.Load(paths...)
	} else {
		_ = godotenv.Load()
	}

	cfg := defaultConfig()

	var err error
	if err = overrideDuration(&cfg.Protocol.ChallengeTTL, "AUTHCORE_CHALLENGE_TTL"); err != nil {
		return Config{}, err
	}
	if err = overrideBool(&cfg.Protocol.IndistinguishableChallenges, "AUTHCORE_INDISTINGUISHABLE_CHALLENGES"); err != nil {
		return Config{}, err
	}
	if err = overrideBytes(&cfg.Protocol.EnumerationSecret, "AUTHCORE_ENUMERATION_SECRET"); err != nil {
		return Config{}, err
	}

	if err = overrideDuration(&cfg.Credential.FailedAttemptsWindow, "AUTHCORE_FAILED_ATTEMPTS_WINDOW"); err != nil {
		return Config{}, err
	}

	if err = overrideDuration(&cfg.Session.Lifetime, "AUTHCORE_SESSION_LIFETIME"); err != nil {
		return Config{}, err
	}
	if err = overrideInt(&cfg.Session.RetentionCap, "AUTHCORE_SESSION_RETENTION_CAP"); err != nil {
		return Config{}, err
	}
	if err = overrideDuration(&cfg.Session.RecordRetention, "AUTHCORE_SESSION_RECORD_RETENTION"); err != nil {
		return Config{}, err
	}

	if err = overrideBool(&cfg.RateLimit.Enabled, "AUTHCORE_RATE_LIMIT_ENABLED"); err != nil {
		return Config{}, err
	}
	if err = overrideBool(&cfg.Anomaly.Enabled, "AUTHCORE_ANOMALY_ENABLED"); err != nil {
		return Config{}, err
	}
	if err = overrideBool(&cfg.Audit.Enabled, "AUTHCORE_AUDIT_ENABLED"); err != nil {
		return Config{}, err
	}
	if err = overrideBool(&cfg.Metrics.Enabled, "AUTHCORE_METRICS_ENABLED"); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("AUTHCORE_TOKEN_SIGNING_METHOD"); v != "" {
		cfg.Token.SigningMethod = v
	}
	if err = overrideBytes(&cfg.Token.PrivateKey, "AUTHCORE_TOKEN_PRIVATE_KEY"); err != nil {
		return Config{}, err
	}
	if err = overrideBytes(&cfg.Token.PublicKey, "AUTHCORE_TOKEN_PUBLIC_KEY"); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("AUTHCORE_TOKEN_ISSUER"); v != "" {
		cfg.Token.Issuer = v
	}
	if v := os.Getenv("AUTHCORE_TOKEN_AUDIENCE"); v != "" {
		cfg.Token.Audience = v
	}

	return cfg, nil
}

func overrideDuration(dst *time.Duration, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}

func overrideInt(dst *int, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}

func overrideBool(dst *bool, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = b
	return nil
}

func overrideBytes(dst *[]byte, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = raw
	return nil
}
