package forward_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"forwardproxy/internal/cache"
	"forwardproxy/internal/forward"
)

func TestStreamSmallResponseIsCacheable(t *testing.T) {
	origin := strings.NewReader("HTTP/1.0 200 OK\r\nContent-Length: 3\r\n\r\nabc")
	var client bytes.Buffer

	res, err := forward.Stream(&client, origin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.BytesWritten != client.Len() {
		t.Fatalf("BytesWritten = %d, client got %d bytes", res.BytesWritten, client.Len())
	}
	if !res.Cacheable {
		t.Fatal("expected a single-iteration response to be cacheable")
	}
	if !bytes.Equal(res.Candidate, client.Bytes()) {
		t.Fatalf("candidate = %q, want %q", res.Candidate, client.Bytes())
	}
}

func TestStreamOversizedResponseNotCacheableButFullyForwarded(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 200*1024)
	origin := bytes.NewReader(body)
	var client bytes.Buffer

	res, err := forward.Stream(&client, origin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.BytesWritten != len(body) {
		t.Fatalf("BytesWritten = %d, want %d", res.BytesWritten, len(body))
	}
	if !bytes.Equal(client.Bytes(), body) {
		t.Fatal("client did not receive the full body")
	}
	if res.Cacheable {
		t.Fatal("a response spanning more than one read iteration must not be cacheable")
	}
	if res.Candidate != nil {
		t.Fatal("Candidate must be nil when not cacheable")
	}
}

func TestStreamCandidateDoesNotAliasWorkingBuffer(t *testing.T) {
	origin := strings.NewReader("hello")
	var client bytes.Buffer

	res, err := forward.Stream(&client, origin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Cacheable {
		t.Fatal("expected cacheable response")
	}
	res.Candidate[0] = 'H'
	if client.Bytes()[0] != 'h' {
		t.Fatal("mutating the candidate slice must not affect what was already written to the client")
	}
}

type erroringReader struct {
	data []byte
	err  error
}

func (r *erroringReader) Read(p []byte) (int, error) {
	if len(r.data) > 0 {
		n := copy(p, r.data)
		r.data = r.data[n:]
		return n, nil
	}
	return 0, r.err
}

func TestStreamOriginReadErrorIsFatalButPriorBytesStayWithClient(t *testing.T) {
	boom := errors.New("boom")
	origin := &erroringReader{data: []byte("partial"), err: boom}
	var client bytes.Buffer

	res, err := forward.Stream(&client, origin)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if client.String() != "partial" {
		t.Fatalf("client = %q, want bytes forwarded before the error", client.String())
	}
	if res.Cacheable {
		t.Fatal("a failed stream must never be cacheable")
	}
}

type erroringWriter struct {
	err error
}

func (w *erroringWriter) Write(p []byte) (int, error) {
	return 0, w.err
}

func TestStreamClientWriteErrorIsFatal(t *testing.T) {
	boom := errors.New("write failed")
	origin := strings.NewReader("abc")
	client := &erroringWriter{err: boom}

	_, err := forward.Stream(client, origin)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestStreamEmptyResponseIsNotCacheable(t *testing.T) {
	origin := strings.NewReader("")
	var client bytes.Buffer

	res, err := forward.Stream(&client, origin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.BytesWritten != 0 {
		t.Fatalf("BytesWritten = %d, want 0", res.BytesWritten)
	}
	if res.Cacheable {
		t.Fatal("an empty response must not be cacheable")
	}
}

// sanity check that forward's notion of "fits in one block" lines up with
// the cache's own per-object limit.
func TestMaxObjectSizeAlignment(t *testing.T) {
	if cache.MaxObjectSize != 102400 {
		t.Fatalf("cache.MaxObjectSize = %d, want 102400", cache.MaxObjectSize)
	}
	_ = io.EOF
}
