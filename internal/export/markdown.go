package export

import (
	"fmt"
	"strings"
	"time"
)

// Markdown formats a tree as a nested markdown list under heading.
func Markdown(heading string, at time.Time, entries []Entry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n", heading)
	fmt.Fprintf(&b, "> %s, %s\n\n", pluralTabs(len(entries)), at.Format("2006-01-02 15:04"))

	for _, e := range entries {
		title := e.Title
		if title == "" {
			title = e.URL
		}
		title = strings.NewReplacer("[", `\[`, "]", `\]`).Replace(title)
		b.WriteString(strings.Repeat("  ", e.Depth))
		fmt.Fprintf(&b, "- [%s](%s)", title, e.URL)
		if e.Pinned {
			b.WriteString(" (pinned)")
		}
		if e.Collapsed {
			b.WriteString(" (collapsed)")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func pluralTabs(n int) string {
	if n == 1 {
		return "1 tab"
	}
	return fmt.Sprintf("%d tabs", n)
}
