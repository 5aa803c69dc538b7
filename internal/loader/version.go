package loader

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/redbco/ddfserver/internal/catalog"
	"github.com/redbco/ddfserver/internal/ddferrors"
)

var dateVersion = regexp.MustCompile(`^(\d{8})(\d{2})$`)
var trailingDigits = regexp.MustCompile(`^(.*?)(\d{2})$`)

// AssignVersion implements spec §4.6's derivation algorithm given the
// most recently imported version for name (empty if none exists yet).
// now is passed in rather than read from time.Now so callers can test
// the date-rollover branch deterministically.
func AssignVersion(prior string, now time.Time) (string, error) {
	if prior == "" {
		return fmt.Sprintf("%s01", now.UTC().Format("20060102")), nil
	}

	today := now.UTC().Format("20060102")
	if m := dateVersion.FindStringSubmatch(prior); m != nil {
		if m[1] == today {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				return "", ddferrors.Wrap(ddferrors.Internal, err, "malformed prior version suffix")
			}
			return fmt.Sprintf("%s%02d", today, n+1), nil
		}
	}

	if m := trailingDigits.FindStringSubmatch(prior); m != nil {
		n, err := strconv.Atoi(m[2])
		if err == nil {
			return fmt.Sprintf("%s%02d", m[1], n+1), nil
		}
	}

	return prior + "1", nil
}

// ValidateVersionInput rejects the reserved `latest` token as an
// explicit version argument (spec §4.6).
func ValidateVersionInput(version string) error {
	if version == catalog.Latest {
		return ddferrors.New(ddferrors.QuerySyntax, "\"latest\" is not a valid version to assign")
	}
	return nil
}
