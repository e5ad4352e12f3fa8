package analyzer

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"pinga/internal/domain"
)

const (
	shortValue = 50
	longValue  = 60
)

// Humanize turns "deployment.check-rerequested" into
// "Deployment Check Rerequested": separators become spaces and every word
// gets an upper-case first letter. The rest of each word is untouched.
func Humanize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevWord := false
	for _, r := range s {
		if r == '.' || r == '_' || r == '-' {
			r = ' '
		}
		isWord := unicode.IsLetter(r) || unicode.IsDigit(r)
		if isWord && !prevWord {
			r = unicode.ToUpper(r)
		}
		prevWord = isWord
		b.WriteRune(r)
	}
	return b.String()
}

// Truncate shortens s to at most n runes, ending with "..." when cut.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}

// FirstLine returns s up to the first newline.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimRight(s[:i], "\r")
	}
	return s
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// StatusEmoji maps a free-form status or state word to an emoji, or "" when
// the word is not recognized.
func StatusEmoji(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "success"), strings.Contains(s, "succeeded"), strings.Contains(s, "ready"), s == "ok":
		return "✅"
	case strings.Contains(s, "fail"), strings.Contains(s, "error"):
		return "❌"
	case strings.Contains(s, "pending"), strings.Contains(s, "running"):
		return "🔄"
	case strings.Contains(s, "cancel"):
		return "⚪"
	}
	return ""
}

var urlLabels = map[string]string{
	"url":             "Link",
	"html_url":        "View",
	"preview_url":     "Preview",
	"previewUrl":      "Preview",
	"environment_url": "Environment",
	"log_url":         "Logs",
	"compare":         "Compare",
}

var (
	reURLSuffixSnake = regexp.MustCompile(`(?i)_url$`)
	reURLSuffixCamel = regexp.MustCompile(`(?i)url$`)
)

// URLLabel derives a link label from the key that held the URL.
func URLLabel(key string) string {
	if l, ok := urlLabels[key]; ok {
		return l
	}
	k := reURLSuffixSnake.ReplaceAllString(key, "")
	k = reURLSuffixCamel.ReplaceAllString(k, "")
	k = strings.NewReplacer("_", " ", "-", " ").Replace(k)
	return Humanize(k)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// draft collects fields and links, dropping empty values.
type draft struct {
	fields []domain.Field
	links  []domain.Link
}

func newDraft() *draft {
	return &draft{fields: []domain.Field{}, links: []domain.Link{}}
}

func (d *draft) field(label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	d.fields = append(d.fields, domain.Field{Label: label, Value: value})
}

func (d *draft) link(label, url string) {
	if strings.TrimSpace(url) == "" {
		return
	}
	d.links = append(d.links, domain.Link{Label: label, URL: url})
}

func (d *draft) notification(source, eventType, title, emoji string) domain.Notification {
	return domain.Notification{
		Title:     title,
		Emoji:     emoji,
		Fields:    d.fields,
		Links:     d.links,
		Source:    source,
		EventType: eventType,
	}
}
