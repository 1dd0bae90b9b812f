// Package actions extracts tagged invocations from assistant output and
// dispatches them to registered tool handlers.
package actions

import (
	"strings"

	"github.com/google/uuid"
	"github.com/penguin-run/penguin/pkg/core"
)

// Registry declares the tag names a Parser recognizes, each mapped to an
// advisory parameter-schema hint (used for help text, never enforced by
// the parser itself). The parser is otherwise tag-agnostic — the exact
// wire format of an action tag is a host concern.
type Registry map[string]string

// Parser scans an assistant message and produces the Actions it contains.
// A Parser is stateless and safe for concurrent use; the same message
// always yields the same sequence.
type Parser struct {
	tags Registry
}

// NewParser builds a Parser recognizing the tags in the given registry.
func NewParser(tags Registry) *Parser {
	if tags == nil {
		tags = Registry{}
	}
	return &Parser{tags: tags}
}

// Parse scans message left-to-right, emitting one Action per recognized
// tagged region in order encountered. Unknown tags (or bare "<" that does
// not open a recognized tag) are left as plain text and skipped.
func (p *Parser) Parse(message string) []core.Action {
	var out []core.Action
	i := 0
	for i < len(message) {
		rel := strings.IndexByte(message[i:], '<')
		if rel < 0 {
			break
		}
		start := i + rel

		tag, openEnd, ok := p.matchOpenTag(message, start)
		if !ok {
			i = start + 1
			continue
		}

		closeTag := "</" + tag + ">"
		end, closed := findBalancedClose(message, openEnd, "<"+tag+">", closeTag)
		if !closed {
			// Unterminated tag: one error Action covering the rest of the
			// message, scan stops here (nothing valid can follow inside
			// an unterminated region).
			out = append(out, core.Action{
				ID:         uuid.NewString(),
				Name:       tag,
				Params:     message[openEnd:],
				SourceSpan: core.SourceSpan{Start: start, End: len(message)},
				ErrorKind:  core.ErrorKindParseUnterminated,
			})
			break
		}

		out = append(out, core.Action{
			ID:         uuid.NewString(),
			Name:       tag,
			Params:     message[openEnd : end-len(closeTag)],
			SourceSpan: core.SourceSpan{Start: start, End: end},
		})
		i = end
	}
	return out
}

// matchOpenTag reports whether message[pos:] opens a recognized tag
// "<name>" with no attributes, returning the tag name and the index just
// past the closing '>'.
func (p *Parser) matchOpenTag(message string, pos int) (name string, after int, ok bool) {
	gt := strings.IndexByte(message[pos:], '>')
	if gt < 0 {
		return "", 0, false
	}
	name = message[pos+1 : pos+gt]
	if name == "" || strings.ContainsAny(name, " \t\n\r</") {
		return "", 0, false
	}
	if _, known := p.tags[name]; !known {
		return "", 0, false
	}
	return name, pos + gt + 1, true
}

// findBalancedClose locates the closeTag that balances the open tag whose
// body starts at from, tracking nested same-name tags so a re-opened tag
// inside its own body does not close the outer one prematurely. Returns
// the index just past the matched closeTag.
func findBalancedClose(message string, from int, openTag, closeTag string) (int, bool) {
	depth := 1
	i := from
	for i < len(message) {
		rest := message[i:]
		nextOpen := strings.Index(rest, openTag)
		nextClose := strings.Index(rest, closeTag)
		switch {
		case nextClose < 0:
			return 0, false
		case nextOpen >= 0 && nextOpen < nextClose:
			depth++
			i += nextOpen + len(openTag)
		default:
			depth--
			i += nextClose + len(closeTag)
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
