package indi

import (
	"bytes"
	"encoding/xml"
	"io"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

// DefaultMaxBufferSize bounds the bytes held while waiting for an element
// to complete. BLOB vectors are the only elements that get close.
const DefaultMaxBufferSize = 64 << 20

// Framer cuts a raw INDI byte stream into top-level elements. The stream is
// a sequence of sibling elements with no length framing, delivered in
// arbitrary chunks, so the framer accumulates bytes and hands out every
// element that is complete, keeping the incomplete tail for the next chunk.
//
// Feeding the same bytes in one chunk or split at any points yields the
// same elements. Each byte is scanned once; the XML parser only runs over
// spans the scanner has seen close at the top level.
type Framer struct {
	buf     []byte
	partial []byte // incomplete UTF-8 sequence at the end of the last chunk
	scan    scanner
	maxSize int
	logger  log.FieldLogger
}

// NewFramer creates a framer. A nil logger discards framing diagnostics.
func NewFramer(maxSize int, logger log.FieldLogger) *Framer {
	if maxSize <= 0 {
		maxSize = DefaultMaxBufferSize
	}
	if logger == nil {
		logger = log.WithField("component", "framer")
	}
	return &Framer{maxSize: maxSize, logger: logger}
}

// Buffered returns the number of bytes waiting for an element to complete.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset drops any buffered bytes.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.partial = nil
	f.scan = scanner{}
}

// Feed consumes a chunk and returns the top-level elements it completed.
func (f *Framer) Feed(p []byte) []*Element {
	f.appendFiltered(p)

	var out []*Element
	for {
		end := f.scan.next(f.buf)
		if end == 0 {
			break
		}

		els, consumed, err := parseElements(f.buf[:end])
		out = append(out, els...)
		if err == nil {
			f.discard(end)
			continue
		}

		// A complete but malformed element: drop it and carry on with the
		// next element start. The scanner state no longer matches the
		// buffer, so the rest is scanned again.
		skip := skipMalformed(f.buf, consumed)
		f.logger.Debugf("Dropping malformed XML (%d bytes): %v", skip, err)
		f.buf = append(f.buf[:0], f.buf[skip:]...)
		f.scan = scanner{}
	}

	if len(f.buf) > f.maxSize {
		f.logger.Warnf("Discarding %d buffered bytes: incomplete element exceeds %d bytes", len(f.buf), f.maxSize)
		f.Reset()
	}
	return out
}

// discard drops the first n buffered bytes, all of them already scanned.
func (f *Framer) discard(n int) {
	f.buf = append(f.buf[:0], f.buf[n:]...)
	f.scan.pos -= n
	f.scan.end = 0
}

// appendFiltered appends p to the buffer, keeping only legal XML 1.0
// characters. Noisy links inject control bytes that would otherwise make
// every later parse fail.
func (f *Framer) appendFiltered(p []byte) {
	data := p
	if len(f.partial) > 0 {
		data = append(f.partial, p...)
		f.partial = nil
	}

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size <= 1 {
			if !utf8.FullRune(data) {
				f.partial = append([]byte(nil), data...)
				return
			}
			data = data[1:]
			continue
		}
		if isXMLChar(r) {
			f.buf = append(f.buf, data[:size]...)
		}
		data = data[size:]
	}
}

// isXMLChar implements the Char production of XML 1.0.
func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}

// parseElements parses buf, which ends where a top-level element closed,
// and returns the elements plus the number of bytes the good ones span.
func parseElements(buf []byte) (els []*Element, consumed int, err error) {
	dec := xml.NewDecoder(bytes.NewReader(buf))
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var stack []*Element
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return els, len(buf), nil
		}
		if err != nil {
			return els, consumed, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name.Local}
			for _, a := range t.Attr {
				el.Attrs = append(el.Attrs, xml.Attr{Name: xml.Name{Local: a.Name.Local}, Value: a.Value})
			}
			if n := len(stack); n > 0 {
				stack[n-1].AddChild(el)
			}
			stack = append(stack, el)

		case xml.EndElement:
			el := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				els = append(els, el)
				consumed = int(dec.InputOffset())
			}

		case xml.CharData:
			if n := len(stack); n > 0 {
				stack[n-1].Text += string(t)
			}
		}
	}
}

type scanState uint8

const (
	scanText scanState = iota
	scanTag            // inside a start or end tag
	scanQuote          // inside a quoted attribute value
	scanComment        // <!-- ... -->
	scanCDATA          // <![CDATA[ ... ]]>
	scanPI             // <? ... ?>
	scanDirective      // <!DOCTYPE ...>
)

var (
	commentOpen  = []byte("<!--")
	commentClose = []byte("-->")
	cdataOpen    = []byte("<![CDATA[")
	cdataClose   = []byte("]]>")
	piClose      = []byte("?>")

	closers = map[scanState][]byte{
		scanComment: commentClose,
		scanCDATA:   cdataClose,
		scanPI:      piClose,
	}
)

// scanner tracks element nesting across feeds without parsing. It only
// needs to find where top-level elements end; well-formedness is left to
// the XML parser.
type scanner struct {
	pos     int // next byte to look at
	end     int // offset just past the last completed top-level element
	depth   int
	state   scanState
	quote   byte
	closing bool // the current tag is an end tag
	slash   bool // the previous tag byte was '/'
}

// next scans whatever arrived since the last call and returns the offset
// just past the last top-level element completed so far, or 0.
func (s *scanner) next(buf []byte) int {
	for s.pos < len(buf) {
		switch s.state {
		case scanText:
			i := bytes.IndexByte(buf[s.pos:], '<')
			if i < 0 {
				s.pos = len(buf)
				return s.end
			}
			s.pos += i
			if !s.open(buf[s.pos:]) {
				return s.end
			}

		case scanTag:
			c := buf[s.pos]
			s.pos++
			switch c {
			case '"', '\'':
				s.quote = c
				s.state = scanQuote
			case '>':
				s.state = scanText
				switch {
				case s.closing:
					if s.depth > 0 {
						s.depth--
					}
					if s.depth == 0 {
						s.end = s.pos
					}
				case s.slash:
					if s.depth == 0 {
						s.end = s.pos
					}
				default:
					s.depth++
				}
			}
			s.slash = c == '/'

		case scanQuote:
			i := bytes.IndexByte(buf[s.pos:], s.quote)
			if i < 0 {
				s.pos = len(buf)
				return s.end
			}
			s.pos += i + 1
			s.state = scanTag

		case scanComment, scanCDATA, scanPI:
			if !s.skipTo(buf, closers[s.state]) {
				return s.end
			}

		case scanDirective:
			i := bytes.IndexByte(buf[s.pos:], '>')
			if i < 0 {
				s.pos = len(buf)
				return s.end
			}
			s.pos += i + 1
			s.state = scanText
		}
	}
	return s.end
}

// open classifies the markup starting at rest[0] == '<'. It returns false,
// leaving pos on the '<', when too few bytes arrived to tell.
func (s *scanner) open(rest []byte) bool {
	if len(rest) < 2 {
		return false
	}
	switch rest[1] {
	case '/':
		s.state, s.closing, s.slash = scanTag, true, false
		s.pos += 2
	case '?':
		s.state = scanPI
		s.pos += 2
	case '!':
		switch {
		case bytes.HasPrefix(rest, commentOpen):
			s.state = scanComment
			s.pos += len(commentOpen)
		case bytes.HasPrefix(rest, cdataOpen):
			s.state = scanCDATA
			s.pos += len(cdataOpen)
		case bytes.HasPrefix(commentOpen, rest) || bytes.HasPrefix(cdataOpen, rest):
			return false
		default:
			s.state = scanDirective
			s.pos += 2
		}
	default:
		s.state, s.closing, s.slash = scanTag, false, false
		s.pos++
	}
	return true
}

// skipTo moves past the delimiter ending a comment, CDATA section or
// processing instruction and reports whether it was found. When it was
// not, pos stops short enough that a delimiter split across feeds is still
// found next time.
func (s *scanner) skipTo(buf, delim []byte) bool {
	i := bytes.Index(buf[s.pos:], delim)
	if i < 0 {
		s.pos = max(s.pos, len(buf)-len(delim)+1)
		return false
	}
	s.pos += i + len(delim)
	s.state = scanText
	return true
}

// skipMalformed returns the offset of the next element start after the
// element beginning at or after from, or len(buf) when there is none.
func skipMalformed(buf []byte, from int) int {
	start := bytes.IndexByte(buf[from:], '<')
	if start < 0 {
		return len(buf)
	}
	start += from
	next := bytes.IndexByte(buf[start+1:], '<')
	if next < 0 {
		return len(buf)
	}
	return start + 1 + next
}
