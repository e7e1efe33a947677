package httpresponse

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainAll(t *testing.T, r *Response) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 16)
	for {
		n, err := r.ReadNextChunk(buf)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		out = append(out, buf[:n]...)
	}
	return out
}

func TestSetBodyProducesStatusHeadersAndBody(t *testing.T) {
	r := New("HTTP/1.1")
	r.StartLine(200)
	r.SetBody([]byte("hello"), "text/plain")

	out := string(drainAll(t, r))
	assert.Contains(t, out, "HTTP/1.1 200")
	assert.Contains(t, out, "Content-Type: text/plain")
	assert.Contains(t, out, "Content-Length: 5")
	assert.Contains(t, out, "hello")
	assert.True(t, r.IsComplete())
	assert.False(t, r.IsChunked())
}

func TestAttachFileStreamsFileBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(path, []byte("<html>hi</html>"), 0o644))

	r := New("HTTP/1.1")
	r.StartLine(200)
	require.NoError(t, r.AttachFile(path))

	out := string(drainAll(t, r))
	assert.Contains(t, out, "HTTP/1.1 200")
	assert.Contains(t, out, "Content-Type: text/html")
	assert.Contains(t, out, "<html>hi</html>")
	assert.True(t, r.IsComplete())
}

func TestAttachFileRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	r := New("HTTP/1.1")
	err := r.AttachFile(dir)
	assert.Error(t, err)
}

func TestAttachFileMissingReturnsError(t *testing.T) {
	r := New("HTTP/1.1")
	err := r.AttachFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestFeedRAWEmitsChunkFramesAndTerminator(t *testing.T) {
	r := New("HTTP/1.1")
	r.StartLine(200)
	r.AddHeader("Transfer-Encoding", "chunked")
	r.EndHeaders()
	r.FeedRAW([]byte("Wiki"))
	r.FeedRAW([]byte("pedia"))
	r.FeedRAW(nil)

	out := string(drainAll(t, r))
	assert.Contains(t, out, "4\r\nWiki\r\n")
	assert.Contains(t, out, "5\r\npedia\r\n")
	assert.Contains(t, out, "0\r\n\r\n")
	assert.True(t, r.IsChunked())
	assert.True(t, r.IsComplete())
}

func TestResetClearsStateForReuse(t *testing.T) {
	r := New("HTTP/1.1")
	r.StartLine(200)
	r.SetBody([]byte("x"), "text/plain")
	drainAll(t, r)

	r.Reset()
	assert.True(t, r.IsComplete())
	assert.False(t, r.IsChunked())

	r.StartLine(404)
	r.SetBody([]byte("not found"), "text/plain")
	out := string(drainAll(t, r))
	assert.Contains(t, out, "HTTP/1.1 404")
	assert.Contains(t, out, "not found")
}

func TestStatusCodeAndBytesSentTrackLastResponse(t *testing.T) {
	r := New("HTTP/1.1")
	r.StartLine(201)
	r.SetBody([]byte("created"), "text/plain")
	drainAll(t, r)

	assert.Equal(t, 201, r.StatusCode())
	assert.True(t, r.BytesSent() > 0)

	r.Reset()
	assert.Equal(t, 0, r.StatusCode())
	assert.Equal(t, int64(0), r.BytesSent())
}

func TestReadNextChunkReturnsZeroWhenEmpty(t *testing.T) {
	r := New("HTTP/1.1")
	buf := make([]byte, 16)
	n, err := r.ReadNextChunk(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, r.IsComplete())
}
