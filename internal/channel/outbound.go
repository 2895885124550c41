package channel

import (
	"strings"
	"unicode/utf8"
)

// ChunkText splits text at newline boundaries, respecting the rune limit.
func ChunkText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || runeLen(trimmed) <= limit {
		return []string{trimmed}
	}
	lines := strings.Split(trimmed, "\n")
	chunks := make([]string, 0)
	buf := make([]string, 0, len(lines))
	bufLen := 0
	for _, line := range lines {
		lineLen := runeLen(line)
		sepLen := 0
		if len(buf) > 0 {
			sepLen = 1
		}
		if bufLen+sepLen+lineLen <= limit {
			buf = append(buf, line)
			bufLen += sepLen + lineLen
			continue
		}
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, "\n"))
			buf = buf[:0]
			bufLen = 0
		}
		if lineLen <= limit {
			buf = append(buf, line)
			bufLen = lineLen
			continue
		}
		chunks = append(chunks, splitLongLine(line, limit)...)
	}
	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, "\n"))
	}
	return chunks
}

// ChunkHTML splits Telegram HTML the way ChunkText splits plain text, but a
// tag or entity is never cut. Tags still open at a boundary are closed at the
// end of the chunk and reopened at the start of the next one.
func ChunkHTML(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || runeLen(trimmed) <= limit {
		return []string{trimmed}
	}
	c := &htmlChunker{}
	c.reset()
	for _, line := range strings.Split(trimmed, "\n") {
		tokens := htmlTokens(line)
		after := c.stackAfter(tokens)
		sep := 0
		if c.hasContent() {
			sep = 1
		}
		if c.size+sep+runeLen(line)+closersLen(after) > limit && c.hasContent() {
			c.flush()
			sep = 0
		}
		if c.size+sep+runeLen(line)+closersLen(after) <= limit {
			if sep == 1 {
				c.write("\n")
			}
			c.write(line)
			c.open = after
			continue
		}
		for _, tok := range tokens {
			next := pushTag(c.open, tok)
			if c.size+runeLen(tok)+closersLen(next) > limit && c.hasContent() {
				c.flush()
			}
			c.write(tok)
			c.open = next
		}
	}
	c.flush()
	return c.chunks
}

type htmlTag struct {
	name string
	raw  string
}

type htmlChunker struct {
	chunks []string
	open   []htmlTag
	buf    strings.Builder
	size   int
	prefix int
}

// reset starts a chunk that reopens every tag still open.
func (c *htmlChunker) reset() {
	c.buf.Reset()
	for _, tag := range c.open {
		c.buf.WriteString(tag.raw)
	}
	c.size = runeLen(c.buf.String())
	c.prefix = c.size
}

func (c *htmlChunker) hasContent() bool { return c.size > c.prefix }

func (c *htmlChunker) write(s string) {
	c.buf.WriteString(s)
	c.size += runeLen(s)
}

func (c *htmlChunker) flush() {
	if c.hasContent() {
		chunk := c.buf.String() + closers(c.open)
		if strings.TrimSpace(chunk) != "" {
			c.chunks = append(c.chunks, strings.TrimSpace(chunk))
		}
	}
	c.reset()
}

func (c *htmlChunker) stackAfter(tokens []string) []htmlTag {
	stack := c.open
	for _, tok := range tokens {
		stack = pushTag(stack, tok)
	}
	return stack
}

// htmlTokens splits a line into tags, entities and single runes.
func htmlTokens(line string) []string {
	var out []string
	for i := 0; i < len(line); {
		switch line[i] {
		case '<':
			if end := strings.IndexByte(line[i:], '>'); end > 0 {
				out = append(out, line[i:i+end+1])
				i += end + 1
				continue
			}
		case '&':
			if end := strings.IndexByte(line[i:], ';'); end > 1 && end <= 10 && !strings.ContainsAny(line[i+1:i+end], " <&\t") {
				out = append(out, line[i:i+end+1])
				i += end + 1
				continue
			}
		}
		_, size := utf8.DecodeRuneInString(line[i:])
		out = append(out, line[i:i+size])
		i += size
	}
	return out
}

// pushTag returns the open-tag stack after tok without modifying stack.
func pushTag(stack []htmlTag, tok string) []htmlTag {
	if len(tok) < 3 || tok[0] != '<' || tok[len(tok)-1] != '>' {
		return stack
	}
	if strings.HasSuffix(tok, "/>") {
		return stack
	}
	if tok[1] == '/' {
		name := tagName(tok[2:])
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].name == name {
				return stack[:i:i]
			}
		}
		return stack
	}
	out := make([]htmlTag, len(stack), len(stack)+1)
	copy(out, stack)
	return append(out, htmlTag{name: tagName(tok[1:]), raw: tok})
}

func tagName(s string) string {
	end := strings.IndexAny(s, " \t>/")
	if end < 0 {
		end = len(s)
	}
	return strings.ToLower(s[:end])
}

func closers(stack []htmlTag) string {
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteString("</" + stack[i].name + ">")
	}
	return b.String()
}

func closersLen(stack []htmlTag) int {
	n := 0
	for _, tag := range stack {
		n += len(tag.name) + 3
	}
	return n
}

func runeLen(value string) int {
	return len([]rune(value))
}

func splitLongLine(line string, limit int) []string {
	if limit <= 0 {
		return []string{line}
	}
	runes := []rune(line)
	chunks := make([]string, 0)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		segment := strings.TrimSpace(string(runes[start:end]))
		if segment == "" {
			continue
		}
		chunks = append(chunks, segment)
	}
	return chunks
}
