package httpparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsesSimpleGetRequest(t *testing.T) {
	p := New()
	raw := "GET /foo/bar?x=1#frag HTTP/1.1\r\nHost: example.com\r\n\r\n"
	require.NoError(t, p.AddChunk([]byte(raw)))

	assert.True(t, p.IsComplete())
	assert.Equal(t, "GET", p.Method)
	assert.Equal(t, "/foo/bar", p.URI)
	assert.Equal(t, "x=1", p.Query)
	assert.Equal(t, "frag", p.Fragment)
	assert.Equal(t, "HTTP/1.1", p.Version)
	host, ok := p.Header("host")
	assert.True(t, ok)
	assert.Equal(t, "example.com", host)
}

func TestParsesPercentEncodedURI(t *testing.T) {
	p := New()
	raw := "GET /a%20b/c%2Fd HTTP/1.1\r\n\r\n"
	require.NoError(t, p.AddChunk([]byte(raw)))
	assert.Equal(t, "/a b/c/d", p.URI)
}

func TestRejectsTruncatedAndInvalidEscapes(t *testing.T) {
	p := New()
	require.Error(t, p.AddChunk([]byte("GET /a%2 HTTP/1.1\r\n\r\n")))
	assert.Equal(t, StateError, p.State)

	p2 := New()
	require.Error(t, p2.AddChunk([]byte("GET /a%zz HTTP/1.1\r\n\r\n")))
	assert.Equal(t, StateError, p2.State)
}

func TestParsingIsIndependentOfFragmentation(t *testing.T) {
	raw := "POST /up HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"

	whole := New()
	require.NoError(t, whole.AddChunk([]byte(raw)))

	fragmented := New()
	for i := 0; i < len(raw); i++ {
		require.NoError(t, fragmented.AddChunk([]byte{raw[i]}))
	}

	assert.True(t, whole.IsComplete())
	assert.True(t, fragmented.IsComplete())
	assert.Equal(t, whole.Method, fragmented.Method)
	assert.Equal(t, whole.URI, fragmented.URI)
	assert.Equal(t, whole.BodyRing.Bytes(), fragmented.BodyRing.Bytes())
}

func TestContentLengthZeroCompletesImmediatelyAfterHeaders(t *testing.T) {
	p := New()
	require.NoError(t, p.AddChunk([]byte("GET / HTTP/1.1\r\nContent-Length: 0\r\n\r\n")))
	assert.True(t, p.IsComplete())
	assert.Equal(t, int64(0), p.BytesRead)
}

func TestChunkedBodyDecodesToIdentity(t *testing.T) {
	p := New()
	raw := "POST /up HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	require.NoError(t, p.AddChunk([]byte(raw)))
	assert.True(t, p.IsComplete())
	assert.True(t, p.IsChunked)
	assert.Equal(t, "Wikipedia", string(p.BodyRing.Bytes()))
}

func TestChunkedBodyAcrossFragmentedWrites(t *testing.T) {
	raw := "POST /up HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	p := New()
	for i := 0; i < len(raw); i += 3 {
		end := i + 3
		if end > len(raw) {
			end = len(raw)
		}
		require.NoError(t, p.AddChunk([]byte(raw[i:end])))
	}
	assert.True(t, p.IsComplete())
	assert.Equal(t, "Wikipedia", string(p.BodyRing.Bytes()))
}

func TestMalformedChunkSizeIsRejected(t *testing.T) {
	p := New()
	raw := "POST /up HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\nZZZ\r\n\r\n"
	require.Error(t, p.AddChunk([]byte(raw)))
	assert.Equal(t, StateError, p.State)
}

func TestMissingColonInHeaderIsRejected(t *testing.T) {
	p := New()
	require.Error(t, p.AddChunk([]byte("GET / HTTP/1.1\r\nBadHeader\r\n\r\n")))
	assert.Equal(t, StateError, p.State)
}

func TestBodyHandlerBypassesRing(t *testing.T) {
	p := New()
	require.NoError(t, p.AddChunk([]byte("POST /up HTTP/1.1\r\nContent-Length: 5\r\n\r\n")))

	var got []byte
	p.SetBodyHandler(func(chunk []byte) { got = append(got, chunk...) })
	require.NoError(t, p.AddChunk([]byte("hello")))

	assert.True(t, p.IsComplete())
	assert.Equal(t, "hello", string(got))
	assert.Empty(t, p.BodyRing.Bytes())
}

func TestMultipartContentTypeSetsBoundary(t *testing.T) {
	p := New()
	raw := "POST /up HTTP/1.1\r\nContent-Type: multipart/form-data; boundary=----abc123\r\nContent-Length: 0\r\n\r\n"
	require.NoError(t, p.AddChunk([]byte(raw)))
	assert.True(t, p.IsMultipart)
	assert.Equal(t, "----abc123", p.Boundary)
}

func TestCGIResponseModeStartsAtHeaders(t *testing.T) {
	p := NewCGIResponse()
	require.NoError(t, p.AddChunk([]byte("Content-Type: text/plain\r\n\r\nhi there")))
	assert.True(t, p.IsHeaderComplete())
	ct, ok := p.Header("content-type")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", ct)
	assert.Equal(t, "hi there", string(p.BodyRing.Bytes()))
}

func TestIsCompleteWaitsOnMultipartSubParser(t *testing.T) {
	p := New()
	raw := "POST /up HTTP/1.1\r\nContent-Type: multipart/form-data; boundary=X\r\nContent-Length: 0\r\n\r\n"
	require.NoError(t, p.AddChunk([]byte(raw)))

	p.Multipart = &fakeMultipartHost{done: false}
	assert.False(t, p.IsComplete())

	p.Multipart = &fakeMultipartHost{done: true}
	assert.True(t, p.IsComplete())
}

type fakeMultipartHost struct {
	done   bool
	failed bool
}

func (f *fakeMultipartHost) Feed() error { return nil }
func (f *fakeMultipartHost) Done() bool  { return f.done }
func (f *fakeMultipartHost) Failed() bool { return f.failed }
