// Package thoughts extracts delimited "thought" units from a streamed text
// response and provides the HTTP client that produces that stream.
package thoughts

import "strings"

// Stream marker grammar: thoughts are delimited [bt]<text>[et]; a literal
// [done] anywhere in the buffer signals stream completion.
const (
	beginMarker = "[bt]"
	endMarker   = "[et]"
	doneMarker  = "[done]"
)

// Record is one extracted thought. Records are immutable after creation and
// deduplicated by exact text within one parser instance (one turn).
type Record struct {
	Text    string
	Ordinal int
}

// Parser incrementally extracts Records from arbitrarily chunked input.
// A [bt] without its closing [et] stays buffered until more input arrives, so
// markers split across chunk boundaries are handled transparently.
type Parser struct {
	rest string
	seen map[string]struct{}
	next int
	done bool
}

// NewParser creates a parser for one turn's stream.
func NewParser() *Parser {
	return &Parser{seen: make(map[string]struct{})}
}

// Feed appends chunk to the internal buffer and returns the thoughts newly
// completed by it, in order of appearance. Once the stream has signaled
// completion further chunks are ignored.
func (p *Parser) Feed(chunk string) []Record {
	if p.done {
		return nil
	}
	p.rest += chunk

	var out []Record
	for {
		begin := strings.Index(p.rest, beginMarker)
		if begin < 0 {
			break
		}
		interior := begin + len(beginMarker)
		end := strings.Index(p.rest[interior:], endMarker)
		if end < 0 {
			break // closer not arrived yet; keep the open marker buffered
		}
		text := strings.TrimSpace(p.rest[interior : interior+end])
		p.rest = p.rest[interior+end+len(endMarker):]
		if text == "" {
			continue
		}
		if _, dup := p.seen[text]; dup {
			continue
		}
		p.seen[text] = struct{}{}
		out = append(out, Record{Text: text, Ordinal: p.next})
		p.next++
	}

	if strings.Contains(p.rest, doneMarker) {
		p.done = true
	}
	return out
}

// Done reports whether the stream has signaled completion.
func (p *Parser) Done() bool { return p.done }

// Count returns the number of unique thoughts emitted so far.
func (p *Parser) Count() int { return p.next }
