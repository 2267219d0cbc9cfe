package routing

import (
	"fmt"
	"strconv"
	"strings"
)

// Rewrite expands template against src, replacing positional tokens %N,
// where N is a positive decimal integer:
//
//   - Split src into its "/"-separated non-empty components S[1..k]. For
//     %N with index i = N-1: if i < k, substitute S[N] (the Nth path
//     component); otherwise let j = i-k and substitute args[j] (the jth
//     trailing string argument, 0-indexed) if j is in range.
//   - %%N is an escape: it collapses to the literal text %N with no
//     substitution performed.
//   - An index that resolves to neither a path component nor an argument
//     is an error; the caller drops the packet rather than forward a
//     partially-rewritten path.
//
// Scanning proceeds left to right, resuming just past each substitution.
func Rewrite(src, template string, args []string) (string, error) {
	parts := splitPath(src)
	k := len(parts)

	var out strings.Builder
	i := 0
	for i < len(template) {
		c := template[i]
		if c != '%' {
			out.WriteByte(c)
			i++
			continue
		}

		if i+1 < len(template) && template[i+1] == '%' {
			digits, next := scanDigits(template, i+2)
			if digits == "" {
				out.WriteString("%%")
				i += 2
				continue
			}
			out.WriteByte('%')
			out.WriteString(digits)
			i = next
			continue
		}

		digits, next := scanDigits(template, i+1)
		if digits == "" {
			out.WriteByte('%')
			i++
			continue
		}

		n, _ := strconv.Atoi(digits)
		idx := n - 1
		switch {
		case idx >= 0 && idx < k:
			out.WriteString(parts[idx])
		case idx-k >= 0 && idx-k < len(args):
			out.WriteString(args[idx-k])
		default:
			return "", fmt.Errorf("invalid replacement index: %%%d", n)
		}
		i = next
	}

	return out.String(), nil
}

func splitPath(src string) []string {
	trimmed := strings.TrimPrefix(src, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func scanDigits(s string, start int) (string, int) {
	i := start
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[start:i], i
}
