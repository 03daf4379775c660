package kernelsnap

import (
	"fmt"
	"io"
	"strings"
)

// String renders the warning as a multi-line block.
func (w *Warning) String() string {
	if w == nil {
		return ""
	}
	var b strings.Builder

	b.WriteString(warningBanner)
	b.WriteString("\n")
	b.WriteString(w.Summary)
	b.WriteString("\n\n")
	for _, m := range w.Missing {
		writeMissing(&b, m)
	}

	return b.String()
}

func writeMissing(b *strings.Builder, m MissingOption) {
	if m.Note != "" {
		fmt.Fprintf(b, "%s %s\n", m.Option, m.Note)
	} else {
		fmt.Fprintf(b, "%s\n", m.Option)
	}
}

// WriteWarnings prints each warning preceded by an empty line.
func WriteWarnings(w io.Writer, warnings []*Warning) error {
	for _, warn := range warnings {
		if _, err := fmt.Fprintf(w, "\n%s", warn); err != nil {
			return err
		}
	}
	return nil
}
