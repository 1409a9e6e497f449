package utils

import (
	"os"
	"strings"
)

// EnvPrefix prefixes every environment variable the server and the respondent
// CLI read, including the MALASAKIT_<SECTION>_<KEY> config overrides.
const EnvPrefix = "MALASAKIT"

// Env returns MALASAKIT_<key> with surrounding blanks removed, or fallback when
// it is unset or blank.
func Env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + "_" + key))
	if v == "" {
		return fallback
	}
	return v
}
