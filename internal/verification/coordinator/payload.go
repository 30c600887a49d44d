package coordinator

import (
	"net/url"
	"path"
	"strings"
)

// ProfileHost is the only domain whose QR payloads are accepted.
const ProfileHost = "qr1.be"

// IsProfileURL reports whether payload is an http(s) URL on qr1.be or one of
// its subdomains.
func IsProfileURL(payload string) bool {
	u, err := url.Parse(strings.TrimSpace(payload))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == ProfileHost || strings.HasSuffix(host, "."+ProfileHost)
}

var supportedImageExt = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// IsSupportedImage reports whether filename has a .png, .jpg or .jpeg
// extension, case-insensitively.
func IsSupportedImage(filename string) bool {
	return supportedImageExt[strings.ToLower(path.Ext(filename))]
}
