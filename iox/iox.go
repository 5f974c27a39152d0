// Package iox provides I/O helpers for resource cleanup.
package iox

import "io"

// MaxDrain bounds how much of an unread body DrainClose consumes.
const MaxDrain = 64 * 1024

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) { _ = c.Close() }

// DrainClose reads up to MaxDrain bytes of rc and closes it, so HTTP
// connections can be reused after a response is abandoned.
func DrainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, MaxDrain))
	_ = rc.Close()
}

// ReadLimited reads at most n bytes of r. Read errors after partial data
// are ignored; the bytes read so far are returned.
func ReadLimited(r io.Reader, n int64) []byte {
	b, _ := io.ReadAll(io.LimitReader(r, n))
	return b
}

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}
