package eligibility

// ResourceSuffixes is the lowercased resource path-suffix table.
var ResourceSuffixes = []string{
	"js", "mjs", "wasm", "css", "png", "jpg", "jpeg", "gif", "webp",
	"avif", "svg", "ico", "bmp", "tiff", "woff", "woff2", "ttf", "otf",
	"eot", "json", "xml", "jsonp", "map", "mp3", "mp4", "wav", "ogg",
	"oga", "ogv", "webm", "aac", "flac", "mov", "zip", "rar", "7z",
	"gz", "tar",
}

// ResourceContentTypePrefixes is the resource content-type prefix table.
var ResourceContentTypePrefixes = []string{
	"application/javascript", "application/x-javascript", "text/javascript",
	"application/wasm", "text/css", "image/png", "image/jpeg", "image/gif",
	"image/webp", "image/avif", "image/svg+xml", "image/x-icon",
	"image/vnd.microsoft.icon", "font/woff", "application/font-woff",
	"font/woff2", "font/ttf", "font/otf", "application/vnd.ms-fontobject",
	"audio/mpeg", "audio/mp4", "video/mp4", "audio/wav", "audio/ogg",
	"video/ogg", "application/ogg", "video/webm", "audio/webm", "audio/aac",
	"audio/flac", "video/quicktime", "application/vnd.yt-ump", "application/pdf",
}

// SafeHeaders is the header allow-list retained in cached meta.
// content-encoding is handled separately: it is always dropped on admission.
var SafeHeaders = map[string]bool{
	"content-type": true, "content-length": true, "cache-control": true,
	"content-language": true, "content-disposition": true, "expires": true,
	"etag": true, "last-modified": true, "vary": true, "accept-ranges": true,

	"access-control-allow-origin": true, "access-control-allow-credentials": true,
	"access-control-allow-headers": true, "access-control-allow-methods": true,
	"access-control-expose-headers": true, "strict-transport-security": true,
	"content-security-policy": true, "content-security-policy-report-only": true,
	"cross-origin-opener-policy": true, "cross-origin-resource-policy": true,
	"referrer-policy": true, "permissions-policy": true,

	"x-content-type-options": true, "x-xss-protection": true,
	"x-frame-options": true, "x-ua-compatible": true, "origin-agent-cluster": true,
	"accept-ch": true, "link": true, "refresh": true, "critical-ch": true,
}

// ForbiddenDirectives veto cache admission when present as a token in
// request Cache-Control/Pragma or response Cache-Control.
var ForbiddenDirectives = map[string]bool{
	"no-store": true,
	"private":  true,
}
