package kernelsnap

import (
	"strconv"
	"strings"
)

// Step is one declarative stage of a part build. It renders to an echo of
// Message followed by Lines, each a complete shell line.
type Step struct {
	Name    string
	Message string
	Lines   []string
}

// IsEmpty reports whether the step renders nothing.
func (s Step) IsEmpty() bool {
	return s.Message == "" && len(s.Lines) == 0
}

// Render returns the shell lines of the step.
func (s Step) Render() []string {
	lines := make([]string, 0, len(s.Lines)+1)
	if s.Message != "" {
		lines = append(lines, "echo "+strconv.Quote(s.Message))
	}
	return append(lines, s.Lines...)
}

// Script is an ordered list of build steps.
type Script []Step

// Names returns the step names in order, skipping empty steps.
func (sc Script) Names() []string {
	var names []string
	for _, s := range sc {
		if !s.IsEmpty() {
			names = append(names, s.Name)
		}
	}
	return names
}

// Step returns the first step named name.
func (sc Script) Step(name string) (Step, bool) {
	for _, s := range sc {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// Commands flattens the script, separating steps with an empty line.
func (sc Script) Commands() []string {
	var out []string
	for _, s := range sc {
		if s.IsEmpty() {
			continue
		}
		if len(out) > 0 {
			out = append(out, "")
		}
		out = append(out, s.Render()...)
	}
	return out
}

// String renders the script as a shell snippet.
func (sc Script) String() string {
	cmds := sc.Commands()
	if len(cmds) == 0 {
		return ""
	}
	return strings.Join(cmds, "\n") + "\n"
}

// sh joins shell words with single spaces.
func sh(words ...string) string {
	return strings.Join(words, " ")
}

// indent prefixes every line with a tab, for bodies of if/for blocks.
func indent(lines ...string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, "\t"+l)
	}
	return out
}

// block wraps body between an opening and closing shell line.
func block(open string, body []string, end string) []string {
	lines := make([]string, 0, len(body)+2)
	lines = append(lines, open)
	lines = append(lines, indent(body...)...)
	return append(lines, end)
}
