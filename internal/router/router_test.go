package router

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossab7/web-server/internal/config"
)

func serverWithRoutes(routes ...string) *config.Server {
	s := &config.Server{Root: "/srv"}
	for _, r := range routes {
		s.Locations = append(s.Locations, &config.Location{Route: r})
	}
	return s
}

func TestLongestPrefixMatch(t *testing.T) {
	s := serverWithRoutes("/", "/a", "/a/b")
	r := New(s)

	m := r.Match("/a/b/c", "GET")
	assert.Equal(t, "/a/b", m.Location.Route)

	m = r.Match("/a/x", "GET")
	assert.Equal(t, "/a", m.Location.Route)

	m = r.Match("/z", "GET")
	assert.Equal(t, "/", m.Location.Route)
}

func TestRouteMatchesRequiresBoundary(t *testing.T) {
	assert.True(t, routeMatches("/a", "/a"))
	assert.True(t, routeMatches("/a", "/a/b"))
	assert.False(t, routeMatches("/a", "/ab"))
	assert.True(t, routeMatches("/", "/anything"))
}

func TestCanonicalizePath(t *testing.T) {
	got := canonicalize("/srv", "/x/./y/../z")
	assert.Equal(t, "/srv/x/z", got)
}

func TestCanonicalizeNeverEscapesRoot(t *testing.T) {
	got := canonicalize("/srv", "/../../../etc/passwd")
	assert.Equal(t, "/srv/etc/passwd", got)
}

func TestMethodAllowedEmptySetAllowsAll(t *testing.T) {
	loc := &config.Location{}
	assert.True(t, loc.MethodAllowed("GET"))
	assert.True(t, loc.MethodAllowed("DELETE"))
}

func TestMethodAllowedRestricted(t *testing.T) {
	loc := &config.Location{Methods: map[string]bool{"GET": true}}
	assert.True(t, loc.MethodAllowed("GET"))
	assert.False(t, loc.MethodAllowed("POST"))
}

func TestMatchRedirectsDirectoryWithoutTrailingSlash(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "pub"), 0o755))

	s := &config.Server{Root: root, Locations: []*config.Location{{Route: "/"}}}
	r := New(s)

	m := r.Match("/pub", "GET")
	assert.True(t, m.IsDirectory)
	assert.True(t, m.IsRedirect)
	assert.Equal(t, "/pub/", m.RedirectURL)
}

func TestMatchDirectoryWithTrailingSlashDoesNotRedirect(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "pub"), 0o755))

	s := &config.Server{Root: root, Locations: []*config.Location{{Route: "/"}}}
	r := New(s)

	m := r.Match("/pub/", "GET")
	assert.True(t, m.IsDirectory)
	assert.False(t, m.IsRedirect)
}

func TestMatchConfigRedirectDirectiveStillWins(t *testing.T) {
	s := &config.Server{Root: t.TempDir(), Locations: []*config.Location{{Route: "/old", Redirect: "/new"}}}
	r := New(s)

	m := r.Match("/old", "GET")
	assert.True(t, m.IsRedirect)
	assert.Equal(t, "/new", m.RedirectURL)
}
