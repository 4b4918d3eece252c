// Package rewrite builds the outbound HTTP/1.0 request the proxy sends to
// an origin server. It knows nothing about sockets; it only turns parsed
// request fields plus a header iterator into bytes.
package rewrite

import (
	"bytes"
	"fmt"

	"forwardproxy/internal/httpline"
)

// UserAgent is the fixed override value emitted on every outbound request,
// replacing whatever the client sent.
const UserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:3.10.0) Gecko/20220411 Firefox/63.0.1"

// MaxRequestSize bounds the rewritten request buffer. If the rewritten
// request would not fit, Build fails and the caller must abort the
// exchange without sending anything.
const MaxRequestSize = 8192

// overridden lists the header names the rewriter always drops from the
// client and re-emits with a fixed value. The comparison is deliberately
// case-sensitive; a client sending "connection" (lowercase) would pass
// through unrewritten.
var overridden = map[string]bool{
	"Connection":       true,
	"Proxy-Connection": true,
	"User-Agent":       true,
}

// Build renders the outbound GET request line, the client's passthrough
// headers (in parser order, minus the overridden set), a synthesized Host
// header when the client did not supply one, and the fixed override
// headers. It returns an error if the result would exceed MaxRequestSize.
func Build(p *httpline.Parser) ([]byte, error) {
	uri, _ := p.Retrieve(httpline.FieldURI)
	host, _ := p.Retrieve(httpline.FieldHost)
	port, _ := p.Retrieve(httpline.FieldPort)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "GET %s HTTP/1.0\r\n", uri)

	p.Rewind()
	for {
		name, value, ok := p.NextHeader()
		if !ok {
			break
		}
		if overridden[name] {
			continue
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
	}

	if _, hasHost := p.LookupHeader("Host"); !hasHost {
		fmt.Fprintf(&buf, "Host: %s:%s\r\n", host, port)
	}

	fmt.Fprintf(&buf, "Connection: close\r\n")
	fmt.Fprintf(&buf, "Proxy-Connection: close\r\n")
	fmt.Fprintf(&buf, "User-Agent: %s\r\n", UserAgent)
	buf.WriteString("\r\n")

	if buf.Len() > MaxRequestSize {
		return nil, fmt.Errorf("rewrite: outbound request is %d bytes, exceeds %d-byte limit", buf.Len(), MaxRequestSize)
	}
	return buf.Bytes(), nil
}
