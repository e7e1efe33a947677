package handler

import (
	"fmt"
	"html"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// listingEntry mirrors the fields Caddy's browseListing/fileInfo pair
// expose to a directory listing template (modules/caddyhttp/fileserver/
// browselisting.go), reduced to what a plain-HTML autoindex page needs.
type listingEntry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// renderAutoindex builds the autoindex HTML page for a directory listing
// (§4.8 "_serveDict" without an index file and with autoindex on),
// grounded on Caddy's directory-listing model but rendered as a single
// static page rather than a templated one, and sized with go-humanize the
// same way Caddy's fileInfo.HumanSize does.
func renderAutoindex(urlPath, fsPath string) ([]byte, error) {
	dirEntries, err := os.ReadDir(fsPath)
	if err != nil {
		return nil, fmt.Errorf("handler: read dir %s: %w", fsPath, err)
	}

	entries := make([]listingEntry, 0, len(dirEntries))
	for _, e := range dirEntries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		entries = append(entries, listingEntry{
			Name:    e.Name(),
			IsDir:   e.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})

	var b strings.Builder
	title := html.EscapeString(urlPath)
	fmt.Fprintf(&b, "<!DOCTYPE html>\n<html>\n<head><title>Index of %s</title></head>\n<body>\n", title)
	fmt.Fprintf(&b, "<h1>Index of %s</h1>\n<ul>\n", title)
	if urlPath != "/" {
		b.WriteString(`<li><a href="../">../</a></li>` + "\n")
	}
	for _, e := range entries {
		href, display, size := e.Name, e.Name, "-"
		if e.IsDir {
			href += "/"
			display += "/"
		} else {
			size = humanize.IBytes(uint64(e.Size))
		}
		fmt.Fprintf(&b, `<li><a href="%s">%s</a> (%s, %s)</li>`+"\n",
			html.EscapeString(href), html.EscapeString(display), size, e.ModTime.Format("2006-01-02 15:04:05"))
	}
	b.WriteString("</ul>\n</body>\n</html>\n")
	return []byte(b.String()), nil
}
