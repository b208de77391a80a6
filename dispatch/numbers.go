package dispatch

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DispatchNumberPrefix = "DISP"
	ReportNumberPrefix   = "ER"
)

// NewNumber builds PREFIX-yyyyMMddHHmmss-XXXX with a random hex suffix.
func NewNumber(prefix string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
	return prefix + "-" + now.UTC().Format("20060102150405") + "-" + suffix
}
