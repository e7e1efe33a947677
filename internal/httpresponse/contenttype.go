package httpresponse

import "strings"

// contentTypes covers html/css/js/json/xml/text, common image and font
// formats, pdf, zip (§4.6); anything else falls back to
// application/octet-stream in ContentTypeForPath.
var contentTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".txt":  "text/plain",
	".csv":  "text/csv",

	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".ico":  "image/x-icon",
	".bmp":  "image/bmp",

	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",

	".pdf": "application/pdf",
	".zip": "application/zip",
}

const defaultContentType = "application/octet-stream"

// ContentTypeForPath returns the content type for path's extension,
// case-insensitively, defaulting to application/octet-stream.
func ContentTypeForPath(path string) string {
	ext := extOf(path)
	if ct, ok := contentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return defaultContentType
}

func extOf(path string) string {
	dot := strings.LastIndexByte(path, '.')
	slash := strings.LastIndexByte(path, '/')
	if dot <= slash {
		return ""
	}
	return path[dot:]
}
