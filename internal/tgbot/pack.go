package tgbot

import "unicode/utf8"

// maxMessageLen is Telegram's limit on the text of one message.
const maxMessageLen = 4096

// pack joins replies with blank lines into as few messages as fit under
// limit. A single reply longer than limit is split on rune boundaries.
func pack(replies []string, limit int) []string {
	var out []string
	cur := ""
	flush := func() {
		if cur != "" {
			out = append(out, cur)
			cur = ""
		}
	}
	for _, r := range replies {
		if r == "" {
			continue
		}
		for utf8.RuneCountInString(r) > limit {
			flush()
			head, tail := splitRunes(r, limit)
			out = append(out, head)
			r = tail
		}
		switch {
		case cur == "":
			cur = r
		case utf8.RuneCountInString(cur)+2+utf8.RuneCountInString(r) <= limit:
			cur += "\n\n" + r
		default:
			flush()
			cur = r
		}
	}
	flush()
	return out
}

func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}
