package automation

import (
	"net/url"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// ReplaceVariables substitutes {{name}} placeholders from the turn. Known
// keys: contact.name, contact.phone, message, vars.<name> and any captured
// variable. Unknown placeholders are left untouched. escape, when non-nil,
// is applied to substituted values.
func (t *Turn) ReplaceVariables(text string, escape func(string) string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := t.lookup(key)
		if !ok {
			return m
		}
		if escape != nil {
			return escape(v)
		}
		return v
	})
}

// ReplaceURLVariables fills the placeholders of a URL template. Values before
// the query are inserted as is, so a variable may carry a base URL or a
// path; values in the query are query-escaped.
func (t *Turn) ReplaceURLVariables(tmpl string) string {
	i := strings.IndexByte(tmpl, '?')
	if i < 0 {
		return t.ReplaceVariables(tmpl, nil)
	}
	return t.ReplaceVariables(tmpl[:i], nil) + "?" + t.ReplaceVariables(tmpl[i+1:], url.QueryEscape)
}

func (t *Turn) lookup(key string) (string, bool) {
	switch key {
	case "contact.name":
		if v, ok := t.Vars["name"]; ok && v != "" {
			return v, true
		}
		return t.SenderName, true
	case "contact.phone", "contact.id":
		return t.ConversationID, true
	case "message":
		return t.Text, true
	}
	key = strings.TrimPrefix(key, "vars.")
	v, ok := t.Vars[key]
	return v, ok
}
