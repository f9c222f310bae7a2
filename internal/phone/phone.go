// Package phone normalizes mobile-money numbers to the canonical international form.
package phone

import (
	"regexp"
	"strings"
)

// CountryCode is prefixed to subscriber numbers.
const CountryCode = "254"

var (
	localRx         = regexp.MustCompile(`^0([17]\d{8})$`)
	subscriberRx    = regexp.MustCompile(`^([17]\d{8})$`)
	internationalRx = regexp.MustCompile(`^\+?254([17]\d{8})$`)
	separators      = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
)

// Normalize reduces a local (0712345678), bare subscriber (712345678) or
// international (+254712345678, 254712345678) number to 254712345678.
// Anything else is returned unchanged so the gateway rejects it.
func Normalize(raw string) string {
	compact := separators.Replace(strings.TrimSpace(raw))
	for _, rx := range []*regexp.Regexp{internationalRx, localRx, subscriberRx} {
		if m := rx.FindStringSubmatch(compact); m != nil {
			return CountryCode + m[1]
		}
	}
	return raw
}

// Canonical reports whether s is already in canonical form.
func Canonical(s string) bool {
	m := internationalRx.FindStringSubmatch(s)
	return m != nil && !strings.HasPrefix(s, "+")
}
