package command

import (
	"fmt"
	"strings"
)

// PrefixPlaceholder is replaced with the active command prefix in usage docs.
const PrefixPlaceholder = "{command_prefix}"

func usageToken(p Param) string {
	if p.Kind == Optional {
		return fmt.Sprintf("[%s=%s]", p.Name, p.Default)
	}
	return p.Name
}

// UsageText renders the descriptor's usage document. Without an explicit
// document it falls back to "Usage: <prefix><command> [param=default] param2".
func UsageText(d *Descriptor, prefix string, expected []string) string {
	doc := d.Usage
	if strings.TrimSpace(doc) == "" {
		doc = strings.TrimRight(fmt.Sprintf("Usage: %s%s %s", prefix, d.Name, strings.Join(expected, " ")), " ")
	}
	doc = dedent(doc)
	return strings.ReplaceAll(doc, PrefixPlaceholder, prefix)
}

// ExpectedParams lists the positional parameters of d in usage form.
func ExpectedParams(d *Descriptor) []string {
	var out []string
	for _, p := range d.Params {
		if p.Kind == Positional || p.Kind == Optional {
			out = append(out, usageToken(p))
		}
	}
	return out
}

// dedent strips the whitespace prefix common to every non-blank line.
func dedent(s string) string {
	lines := strings.Split(s, "\n")

	margin := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		indent := len(l) - len(strings.TrimLeft(l, " \t"))
		if margin < 0 || indent < margin {
			margin = indent
		}
	}
	if margin <= 0 {
		return strings.Trim(s, "\n")
	}

	for i, l := range lines {
		if len(l) >= margin {
			lines[i] = l[margin:]
		} else {
			lines[i] = strings.TrimLeft(l, " \t")
		}
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}
