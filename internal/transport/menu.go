package transport

import (
	"fmt"
	"strings"
)

// RenderMenu renders a numbered text menu. Users may answer with either the
// option text or its 1-based number.
func RenderMenu(text string, options []string) string {
	var b strings.Builder
	b.WriteString(text)
	if len(options) > 0 && text != "" {
		b.WriteString("\n")
	}
	for i, opt := range options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt)
	}
	return b.String()
}
