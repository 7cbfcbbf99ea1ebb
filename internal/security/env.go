package security

import (
	"os"
	"strings"
)

// sensitiveEnvPrefixes are environment variable prefixes stripped from
// subprocess environments. A runner host commonly has tokens from other
// tooling lingering in its environment; jobs only receive the credentials
// they declare. Prefix entries cover every variable starting with the
// prefix; for names that need exact matching see sensitiveEnvExact.
var sensitiveEnvPrefixes = []string{
	"AWS_SECRET",
	"AWS_SESSION_TOKEN",
	"GITHUB_TOKEN",
	"GH_TOKEN",
	"GITLAB_TOKEN",
	"SLACK_TOKEN",
	"SLACK_BOT_TOKEN",
	"TELEGRAM_BOT_TOKEN",
	"DISCORD_TOKEN",
	"NPM_TOKEN",
	"PYPI_TOKEN",
	"SMTP_PASSWORD",
}

// sensitiveEnvExact are environment variable names stripped by exact
// match. DATABASE_URL and DB_PASSWORD are exact-only to avoid blocking
// harmless variables like DB_PORT or DATABASE_HOST.
var sensitiveEnvExact = map[string]struct{}{
	"AWS_SECRET_ACCESS_KEY": {},
	"DATABASE_URL":          {},
	"DB_PASSWORD":           {},
	"REDIS_PASSWORD":        {},
	"CI_JOB_TOKEN":          {},
}

// SanitizedEnv returns a copy of os.Environ() with sensitive variables
// removed. Any name listed in drop is removed as well, regardless of
// pattern; callers pass every credential name configured anywhere so that
// a credential reaches a job only through its declared list. If store is
// non-nil, credential values registered in it are additionally scrubbed
// from the values of the variables that remain.
func SanitizedEnv(store *CredentialStore, drop ...string) []string {
	dropSet := make(map[string]struct{}, len(drop))
	for _, name := range drop {
		dropSet[strings.ToUpper(name)] = struct{}{}
	}

	var secrets []string
	if store != nil {
		secrets = store.Values()
	}

	env := os.Environ()
	result := make([]string, 0, len(env))
	for _, entry := range env {
		key, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}

		if _, dropped := dropSet[strings.ToUpper(key)]; dropped {
			continue
		}
		if isSensitiveEnvVar(key) {
			continue
		}

		// Scrub credential values that leaked into other variables. Only
		// secrets of at least 8 characters are matched to avoid false
		// positives from short values like "yes" or "1".
		sanitized := entry
		for _, secret := range secrets {
			if len(secret) >= 8 && strings.Contains(sanitized, secret) {
				sanitized = strings.ReplaceAll(sanitized, secret, RedactPlaceholder)
			}
		}

		result = append(result, sanitized)
	}

	return result
}

// isSensitiveEnvVar checks if an environment variable name matches a
// known sensitive prefix or exact name.
func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)

	if _, ok := sensitiveEnvExact[upper]; ok {
		return true
	}

	for _, prefix := range sensitiveEnvPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}

	return false
}
