package security

import (
	"sort"
	"strings"

	"github.com/sbt-vault/engine/internal/models"
	"github.com/sbt-vault/engine/pkg/utils"
)

// Fingerprint derives a stable device identifier from client-reported signals
// such as canvas, audio and hardware hashes. No usable signal yields the
// unknown sentinel, which never matches another account.
func Fingerprint(signals map[string]string) string {
	normalized := make(map[string]string, len(signals))
	for k, v := range signals {
		k, v = strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		normalized[k] = v
	}
	if len(normalized) == 0 {
		return models.UnknownFingerprint
	}

	keys := make([]string, 0, len(normalized))
	for k := range normalized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(normalized[k])
		b.WriteByte('\n')
	}
	return utils.HexSHA256([]byte(b.String()))
}
