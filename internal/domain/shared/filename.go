package shared

import "strings"

// transliterations maps Hungarian accented characters to their ASCII
// equivalents. The exact map matters: split output filenames must stay
// stable across re-runs, so entries must never be changed, only added.
var transliterations = map[rune]rune{
	'á': 'a', 'é': 'e', 'í': 'i', 'ó': 'o', 'ö': 'o', 'ő': 'o',
	'ú': 'u', 'ü': 'u', 'ű': 'u',
	'Á': 'A', 'É': 'E', 'Í': 'I', 'Ó': 'O', 'Ö': 'O', 'Ő': 'O',
	'Ú': 'U', 'Ü': 'U', 'Ű': 'U',
}

// SafeFileName converts an arbitrary label into a stable, filename-safe
// identifier: transliterate accents, drop every character outside
// [A-Za-z0-9 -], collapse whitespace runs into single underscores, then
// lowercase. The result may be empty when the input carries no safe bytes.
func SafeFileName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	for _, r := range name {
		if mapped, ok := transliterations[r]; ok {
			r = mapped
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '\n', r == '\r':
			b.WriteRune(' ')
		}
	}

	collapsed := strings.Join(strings.Fields(b.String()), "_")
	return strings.ToLower(collapsed)
}
