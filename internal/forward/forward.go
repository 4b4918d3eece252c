// Package forward implements the response forwarder: streaming an origin
// response to the client while deciding, at end-of-stream, whether the
// response is a candidate for the cache.
package forward

import (
	"errors"
	"io"

	"forwardproxy/internal/cache"
	"forwardproxy/internal/rio"
)

// Result reports what the forwarder did so the caller can log and decide
// whether to insert into the cache.
type Result struct {
	// BytesWritten is the total number of bytes written to the client.
	BytesWritten int

	// Cacheable is true only when the entire response was read in a single
	// ReadBlock iteration and fit within MAX_OBJECT_SIZE. A response that
	// took more than one iteration to stream is never cacheable, even if
	// its total size was small: the single fixed accumulation buffer only
	// ever holds the most recent read.
	Cacheable bool

	// Candidate holds the response bytes when Cacheable is true. It is a
	// fresh slice of exactly BytesWritten bytes, safe to hand to
	// cache.Cache.Insert without aliasing the forwarder's working buffer.
	Candidate []byte
}

// Stream reads origin's response in MAX_OBJECT_SIZE chunks and writes each
// chunk to client before reading the next, so memory use is bounded
// regardless of response size. It returns once origin reaches EOF.
//
// A read error from origin is fatal to the exchange; bytes already written
// to the client remain delivered. A write error to the client is likewise
// fatal. Either error is returned to the caller, which is expected to log
// and tear down both connections.
func Stream(client io.Writer, origin io.Reader) (Result, error) {
	r := rio.NewReader(origin)
	w := rio.NewWriter(client)

	buf := make([]byte, cache.MaxObjectSize)
	var total int
	iterations := 0

	for {
		n, readErr := r.ReadBlock(buf)
		if n > 0 {
			if err := w.WriteAll(buf[:n]); err != nil {
				return Result{BytesWritten: total}, err
			}
			total += n
			iterations++
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return Result{BytesWritten: total}, readErr
		}
	}

	res := Result{BytesWritten: total}
	if iterations == 1 && total > 0 && total <= cache.MaxObjectSize {
		res.Cacheable = true
		res.Candidate = make([]byte, total)
		copy(res.Candidate, buf[:total])
	}
	return res, nil
}
