package sink

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the sortable prefix timestamp: YYYY_MM_DD_HH_MM_SS.
const TimestampLayout = "2006_01_02_15_04_05"

// Category names one record file per session.
type Category string

const (
	CategoryChat   Category = "chat"
	CategoryGift   Category = "gift"
	CategoryLike   Category = "like"
	CategoryMember Category = "member"
)

// Format describes the on-disk record encoding.
type Format struct {
	Name      string
	Delimiter string
	Extension string
}

var (
	CSV    = Format{Name: "csv", Delimiter: "%", Extension: ".csv"}
	Legacy = Format{Name: "legacy", Delimiter: ";", Extension: ".txt"}
)

func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "", "csv":
		return CSV, nil
	case "legacy", "txt":
		return Legacy, nil
	}
	return Format{}, fmt.Errorf("unknown sink format %q", name)
}

// Layout derives per-session record prefixes under Dir.
type Layout struct {
	Dir string
	// Unique appends a short random suffix so two sessions for the same
	// identifier created within one second do not share files.
	Unique bool
}

// Prefix returns <Dir>/<timestamp>_<identifier>[_<suffix>].
func (l Layout) Prefix(identifier string, created time.Time) string {
	name := created.Format(TimestampLayout) + "_" + safeName(identifier)
	if l.Unique {
		name += "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	return filepath.Join(l.Dir, name)
}

// safeName keeps identifiers from escaping the record directory. Bytes
// outside [A-Za-z0-9._-] are written as %XX, so distinct identifiers map
// to distinct names.
func safeName(identifier string) string {
	var b strings.Builder
	for i := 0; i < len(identifier); i++ {
		c := identifier[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
