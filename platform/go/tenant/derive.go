package tenant

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// ValidSlug reports whether slug is lowercase kebab-case.
func ValidSlug(slug string) bool {
	return len(slug) <= 63 && slugPattern.MatchString(slug)
}

// ShortID returns the first 8 hexadecimal characters of a UUID (without dashes).
func ShortID(id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	return hex[:8]
}

// BuildBasePrefix returns `<envKey>/<tenantSlug>-<shortTenantId>/`.
func BuildBasePrefix(envKey, slug string, shortID string) string {
	envKey = strings.TrimSuffix(envKey, "/")
	return envKey + "/" + slug + "-" + shortID + "/"
}

// MediaPrefix is where a tenant's inbound media objects live.
func MediaPrefix(basePrefix string) string {
	return strings.TrimSuffix(basePrefix, "/") + "/media/"
}

// BelongsToEnv reports whether basePrefix was derived for envKey.
func BelongsToEnv(basePrefix, envKey string) bool {
	return strings.HasPrefix(basePrefix, strings.TrimSuffix(envKey, "/")+"/")
}
