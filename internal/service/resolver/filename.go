package resolver

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// DefaultFilename is used when nothing better can be derived
const DefaultFilename = "download"

// queryFilenameKeys are tried in order when the URL path has no usable basename
var queryFilenameKeys = []string{"filename", "file", "name", "product"}

var (
	dispositionStar  = regexp.MustCompile(`(?i)filename\*\s*=\s*(?:[\w-]+)?'[^']*'([^;]+)`)
	dispositionPlain = regexp.MustCompile(`(?i)filename\s*=\s*("([^"]*)"|[^;]+)`)
)

// FilenameFromDisposition extracts a filename from a Content-Disposition header.
// Returns "" when the header carries none.
func FilenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}

	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name := params["filename"]; name != "" {
			return Sanitize(name)
		}
	}

	// Lenient fallback for headers mime rejects
	if m := dispositionStar.FindStringSubmatch(header); m != nil {
		if name, err := url.PathUnescape(strings.TrimSpace(m[1])); err == nil && name != "" {
			return Sanitize(name)
		}
	}
	if m := dispositionPlain.FindStringSubmatch(header); m != nil {
		name := m[2]
		if name == "" {
			name = strings.Trim(strings.TrimSpace(m[1]), `"`)
		}
		if decoded, err := url.PathUnescape(name); err == nil {
			name = decoded
		}
		return Sanitize(name)
	}
	return ""
}

// FilenameFromURL derives a filename from the URL path basename,
// then from well-known query parameters. Returns "" when neither yields one.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	base := path.Base(u.Path)
	if decoded, err := url.PathUnescape(base); err == nil {
		base = decoded
	}
	if base != "/" && base != "." && base != "" {
		if name := Sanitize(base); name != "" {
			return name
		}
	}

	q := u.Query()
	for _, key := range queryFilenameKeys {
		if v := q.Get(key); v != "" {
			if name := Sanitize(path.Base(v)); name != "" {
				return name
			}
		}
	}
	return ""
}

// DeriveFilename picks the first non-empty candidate, falling back to
// the URL and finally DefaultFilename.
func DeriveFilename(rawURL string, candidates ...string) string {
	for _, c := range candidates {
		if name := Sanitize(c); name != "" {
			return name
		}
	}
	if name := FilenameFromURL(rawURL); name != "" {
		return name
	}
	return DefaultFilename
}

// Sanitize strips path separators, control and reserved characters
func Sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return -1
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	name = strings.Trim(name, ".")
	if len(name) > 240 {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = strings.ToValidUTF8(name[:240-len(ext)], "") + ext
	}
	return name
}
