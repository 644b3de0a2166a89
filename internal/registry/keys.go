package registry

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Slug builds the base identification key from a driver's name and route.
// Accents are folded ("Peña" → "pena") and every other non-alphanumeric run
// collapses to a single dash.
func Slug(name, origin, destination string) string {
	var b strings.Builder
	dash := false
	for _, part := range []string{name, origin, destination} {
		for _, r := range norm.NFD.String(strings.ToLower(part)) {
			switch {
			case unicode.Is(unicode.Mn, r):
				continue
			case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
				if dash && b.Len() > 0 {
					b.WriteByte('-')
				}
				dash = false
				b.WriteRune(r)
			default:
				dash = true
			}
		}
		dash = true
	}
	if b.Len() == 0 {
		return "driver"
	}
	return b.String()
}

// nextKey picks the first free key among base, base-2, base-3, ...
// taken holds keys already in use that start with base.
func nextKey(base string, taken []string) string {
	used := make(map[string]bool, len(taken))
	for _, k := range taken {
		used[k] = true
	}
	if !used[base] {
		return base
	}
	for n := 2; ; n++ {
		candidate := base + "-" + strconv.Itoa(n)
		if !used[candidate] {
			return candidate
		}
	}
}
