package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Notify.Events = cloneSlice(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneSlice(cfg.Server.CORSOrigins)
	out.Kafka.Brokers = cloneSlice(cfg.Kafka.Brokers)
	out.Evolution.Groups = cloneSlice(cfg.Evolution.Groups)
	out.Evolution.Calibration.Windows = cloneSlice(cfg.Evolution.Calibration.Windows)
	out.Risk.ConfidenceFloors = cloneMap(cfg.Risk.ConfidenceFloors)
	out.Risk.StopMultipliers = cloneMap(cfg.Risk.StopMultipliers)
	out.Risk.LeverageCaps = cloneMap(cfg.Risk.LeverageCaps)
	out.Risk.CorrelationGroups = cloneMap(cfg.Risk.CorrelationGroups)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
