package multipart

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossab7/web-server/internal/ring"
)

func buildBody(boundary string, parts ...string) string {
	s := ""
	for _, p := range parts {
		s += "--" + boundary + "\r\n" + p + "\r\n"
	}
	s += "--" + boundary + "--\r\n"
	return s
}

func TestParsesFieldAndFilePart(t *testing.T) {
	boundary := "X-BOUNDARY"
	field := "Content-Disposition: form-data; name=\"title\"\r\n\r\nhello world"
	file := "Content-Disposition: form-data; name=\"upload\"; filename=\"a.txt\"\r\n" +
		"Content-Type: text/plain\r\n\r\nfile-bytes-here"

	body := buildBody(boundary, field, file)

	dir := t.TempDir()
	r := ring.New(4096)
	r.WriteStrict([]byte(body))

	p, err := New(r, boundary, dir)
	require.NoError(t, err)
	require.NoError(t, p.Feed())

	assert.True(t, p.Done())
	assert.False(t, p.Failed())
	require.Len(t, p.Parts(), 2)

	fieldPart := p.Parts()[0]
	assert.Equal(t, "title", fieldPart.Name)
	assert.False(t, fieldPart.IsFile)
	assert.Equal(t, "hello world", string(fieldPart.Body))

	filePart := p.Parts()[1]
	assert.Equal(t, "upload", filePart.Name)
	assert.True(t, filePart.IsFile)
	assert.Equal(t, "a.txt", filePart.Filename)

	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "file-bytes-here", string(data))
}

func TestFeedAcrossFragmentedWrites(t *testing.T) {
	boundary := "BBB"
	field := "Content-Disposition: form-data; name=\"k\"\r\n\r\nvalue-data"
	body := buildBody(boundary, field)

	dir := t.TempDir()
	r := ring.New(4096)
	p, err := New(r, boundary, dir)
	require.NoError(t, err)

	for i := 0; i < len(body); i++ {
		r.WriteStrict([]byte{body[i]})
		require.NoError(t, p.Feed())
	}

	assert.True(t, p.Done())
	require.Len(t, p.Parts(), 1)
	assert.Equal(t, "value-data", string(p.Parts()[0].Body))
}

func TestMalformedBoundaryTrailerFails(t *testing.T) {
	boundary := "CCC"
	body := "--" + boundary + "XXbroken"

	dir := t.TempDir()
	r := ring.New(4096)
	r.WriteStrict([]byte(body))
	p, err := New(r, boundary, dir)
	require.NoError(t, err)

	err = p.Feed()
	assert.Error(t, err)
	assert.True(t, p.Failed())
}

func TestLongBoundaryGrowsScratchWindow(t *testing.T) {
	dir := t.TempDir()
	r := ring.New(16)
	longBoundary := make([]byte, 5000)
	for i := range longBoundary {
		longBoundary[i] = 'a'
	}
	p, err := New(r, string(longBoundary), dir)
	require.NoError(t, err)
	assert.Greater(t, p.scratch, len(p.boundary))
}

func TestMissingContentDispositionNameFails(t *testing.T) {
	boundary := "DDD"
	part := "Content-Disposition: form-data\r\n\r\nbody"
	body := buildBody(boundary, part)

	dir := t.TempDir()
	r := ring.New(4096)
	r.WriteStrict([]byte(body))
	p, err := New(r, boundary, dir)
	require.NoError(t, err)

	err = p.Feed()
	assert.Error(t, err)
	assert.True(t, p.Failed())
}
