package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Venues = make([]VenueConfig, len(cfg.Venues))
	copy(out.Venues, cfg.Venues)
	for i := range out.Venues {
		redact(&out.Venues[i].ApiKey)
		redact(&out.Venues[i].KeyPassword)
	}

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)

	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.Arbitrage.VenueFeeRates != nil {
		out.Arbitrage.VenueFeeRates = make(map[string]float64, len(cfg.Arbitrage.VenueFeeRates))
		for k, v := range cfg.Arbitrage.VenueFeeRates {
			out.Arbitrage.VenueFeeRates[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
