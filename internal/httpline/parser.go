// Package httpline implements a minimal HTTP request-line and header-line
// parser: parse a line, retrieve a parsed request field, look up a header
// by name, and iterate headers in the order they arrived. No third-party
// package fits this narrow a contract, so it is built here directly on
// string splitting rather than net/textproto: textproto's MIME-header
// reader canonicalizes header names (folds case), which would break the
// deliberately case-sensitive header-override behavior this proxy needs to
// preserve. See DESIGN.md.
package httpline

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxLineLength bounds a single header or request line.
const MaxLineLength = 4096

// Kind classifies a line handed to ParseLine.
type Kind int

const (
	// KindRequest is the first line of an HTTP request.
	KindRequest Kind = iota
	// KindHeader is a "Name: value" header line.
	KindHeader
	// KindError is a line that parses as neither.
	KindError
)

// Field names accepted by Retrieve.
type Field int

const (
	FieldMethod Field = iota
	FieldScheme
	FieldHost
	FieldPort
	FieldPath
	FieldURI
	FieldHTTPVersion
)

type header struct {
	name  string
	value string
}

// Parser holds the strings discovered while parsing a single request. All
// strings returned by Retrieve/LookupHeader/NextHeader are owned by the
// Parser and are only valid until the caller discards it (there is no
// explicit Free: Go's garbage collector reclaims them once the Parser
// itself becomes unreachable). A Parser is per-connection and is never
// shared across connections.
type Parser struct {
	method  string
	scheme  string
	host    string
	port    string
	path    string
	uri     string
	version string

	headers  []header
	iterNext int
}

// New returns a fresh Parser ready to parse one request and its headers.
func New() *Parser {
	return &Parser{}
}

// IsBlankLine reports whether line is the empty CRLF (or LF) that
// terminates a header block. The worker uses this to know when to stop
// feeding lines to ParseLine as headers.
func IsBlankLine(line string) bool {
	trimmed := strings.TrimRight(line, "\r\n")
	return trimmed == ""
}

// ParseLine classifies and records one line (request line or header line).
// line may include its trailing "\r\n"; the suffix is optional.
func (p *Parser) ParseLine(line string) (Kind, error) {
	trimmed := strings.TrimRight(line, "\r\n")
	if len(line) > MaxLineLength {
		return KindError, fmt.Errorf("httpline: line exceeds %d bytes", MaxLineLength)
	}

	if p.method == "" && len(p.headers) == 0 {
		// First non-header line seen: must be the request line.
		if err := p.parseRequestLine(trimmed); err != nil {
			return KindError, err
		}
		return KindRequest, nil
	}

	name, value, err := parseHeaderLine(trimmed)
	if err != nil {
		return KindError, err
	}
	p.headers = append(p.headers, header{name: name, value: value})
	return KindHeader, nil
}

func (p *Parser) parseRequestLine(line string) error {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return fmt.Errorf("httpline: malformed request line %q", line)
	}
	method, rawURI, version := parts[0], parts[1], parts[2]

	scheme, host, port, path, err := splitURI(rawURI)
	if err != nil {
		return err
	}

	p.method = method
	p.uri = rawURI
	p.scheme = scheme
	p.host = host
	p.port = port
	p.path = path
	p.version = version
	return nil
}

// splitURI extracts scheme/host/port/path from an absolute-form request
// target (the only form a forward proxy receives from a well-behaved
// client), e.g. "http://example.com:8080/a/b?c=1".
func splitURI(rawURI string) (scheme, host, port, path string, err error) {
	const schemeSep = "://"
	idx := strings.Index(rawURI, schemeSep)
	if idx < 0 {
		return "", "", "", "", fmt.Errorf("httpline: URI %q is not in absolute form", rawURI)
	}
	scheme = rawURI[:idx]
	rest := rawURI[idx+len(schemeSep):]

	pathStart := strings.IndexByte(rest, '/')
	hostport := rest
	path = "/"
	if pathStart >= 0 {
		hostport = rest[:pathStart]
		path = rest[pathStart:]
	}
	if hostport == "" {
		return "", "", "", "", fmt.Errorf("httpline: URI %q has no host", rawURI)
	}

	if colon := strings.LastIndexByte(hostport, ':'); colon >= 0 {
		host = hostport[:colon]
		port = hostport[colon+1:]
		if _, convErr := strconv.Atoi(port); convErr != nil {
			return "", "", "", "", fmt.Errorf("httpline: invalid port in %q", rawURI)
		}
	} else {
		host = hostport
		port = "80"
	}
	return scheme, host, port, path, nil
}

func parseHeaderLine(line string) (name, value string, err error) {
	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		return "", "", fmt.Errorf("httpline: malformed header line %q", line)
	}
	name = line[:colon]
	value = strings.TrimLeft(line[colon+1:], " \t")
	return name, value, nil
}

// Retrieve returns the value of a parsed request-line field.
func (p *Parser) Retrieve(f Field) (string, bool) {
	switch f {
	case FieldMethod:
		return p.method, p.method != ""
	case FieldScheme:
		return p.scheme, p.scheme != ""
	case FieldHost:
		return p.host, p.host != ""
	case FieldPort:
		return p.port, p.port != ""
	case FieldPath:
		return p.path, p.path != ""
	case FieldURI:
		return p.uri, p.uri != ""
	case FieldHTTPVersion:
		return p.version, p.version != ""
	default:
		return "", false
	}
}

// LookupHeader returns the first header whose name matches name exactly
// (byte-for-byte, case-sensitive). This deliberately does not case-fold per
// RFC 7230; callers that need a case-insensitive match must fold the name
// themselves.
func (p *Parser) LookupHeader(name string) (value string, ok bool) {
	for _, h := range p.headers {
		if h.name == name {
			return h.value, true
		}
	}
	return "", false
}

// NextHeader iterates the parsed headers in the order they were
// discovered. It does not restart on its own; call Rewind to iterate
// again.
func (p *Parser) NextHeader() (name, value string, ok bool) {
	if p.iterNext >= len(p.headers) {
		return "", "", false
	}
	h := p.headers[p.iterNext]
	p.iterNext++
	return h.name, h.value, true
}

// Rewind resets the NextHeader iterator to the first header.
func (p *Parser) Rewind() {
	p.iterNext = 0
}
