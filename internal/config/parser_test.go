package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsesServerWithLocations(t *testing.T) {
	src := `
server {
	host 0.0.0.0;
	port 8080;
	server_name example.com;
	root /var/www;
	index index.html index.htm;
	error_page 404 /errors/404.html;

	location {
		route /;
		methods GET POST;
	}

	location {
		route /uploads;
		upload_store /var/uploads;
		client_max_body_size 2048;
	}

	location {
		route /cgi-bin;
		cgi_pass .py;
		script_interpreter /usr/bin/python3;
		cgi_timeout 3000;
	}
}
`
	cfg, err := Parse("test.conf", strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)

	s := cfg.Servers[0]
	assert.Equal(t, "0.0.0.0", s.Host)
	assert.Equal(t, 8080, s.Port)
	assert.Equal(t, "example.com", s.Name)
	assert.Equal(t, "/var/www", s.Root)
	assert.Equal(t, []string{"index.html", "index.htm"}, s.Index)
	assert.Equal(t, "/errors/404.html", s.ErrorPages[404])
	require.Len(t, s.Locations, 3)

	root := s.Locations[0]
	assert.Equal(t, "/", root.Route)
	assert.True(t, root.MethodAllowed("GET"))
	assert.True(t, root.MethodAllowed("POST"))
	assert.False(t, root.MethodAllowed("DELETE"))

	uploads := s.Locations[1]
	assert.Equal(t, "/var/uploads", uploads.UploadStore)
	assert.Equal(t, int64(2048), uploads.EffectiveMaxBodySize(s))

	cgi := s.Locations[2]
	assert.Equal(t, ".py", cgi.CGIPass)
	assert.Equal(t, "/usr/bin/python3", cgi.ScriptInterpreter)
	assert.Equal(t, 3*time.Second, cgi.CGITimeout)
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	src := `
server {
	host 127.0.0.1;
	port 80;
	root /var/www;
}
`
	cfg, err := Parse("test.conf", strings.NewReader(src))
	require.NoError(t, err)
	s := cfg.Servers[0]
	assert.Equal(t, DefaultClientTimeout, s.ClientTimeout)
	assert.Equal(t, int64(DefaultMaxBodySize), s.ClientMaxBodySize)
	assert.NotNil(t, s.ErrorPages)
}

func TestLocationInheritsServerRootWhenUnset(t *testing.T) {
	s := &Server{Root: "/var/www"}
	l := &Location{}
	assert.Equal(t, "/var/www", l.EffectiveRoot(s))

	l2 := &Location{Root: "/var/special"}
	assert.Equal(t, "/var/special", l2.EffectiveRoot(s))
}

func TestMissingRouteInLocationIsRejected(t *testing.T) {
	src := `
server {
	host 127.0.0.1;
	port 80;
	location {
		autoindex on;
	}
}
`
	_, err := Parse("test.conf", strings.NewReader(src))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "route")
}

func TestUnknownDirectiveReportsFileAndLine(t *testing.T) {
	src := "server {\n\thost 127.0.0.1;\n\tbogus 1;\n}\n"
	_, err := Parse("my.conf", strings.NewReader(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "my.conf:3")
	assert.Contains(t, err.Error(), "bogus")
}

func TestDuplicateMethodIsRejected(t *testing.T) {
	src := `
server {
	host 127.0.0.1;
	port 80;
	location {
		route /;
		methods GET GET;
	}
}
`
	_, err := Parse("test.conf", strings.NewReader(src))
	assert.Error(t, err)
}

func TestMissingTerminatingSemicolonIsRejected(t *testing.T) {
	src := "server {\n\thost 127.0.0.1\n}\n"
	_, err := Parse("test.conf", strings.NewReader(src))
	assert.Error(t, err)
}

func TestQuotedStringArgumentWithSpaces(t *testing.T) {
	src := `
server {
	host 127.0.0.1;
	port 80;
	root "/var/www/my site";
}
`
	cfg, err := Parse("test.conf", strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, "/var/www/my site", cfg.Servers[0].Root)
}
