package zotero

import (
	"mime"
	"strings"

	"github.com/bytedance/sonic"
)

// contentType reduces a Content-Type header to the short body type used to
// pick a decoder: "json", "txt", "html", "xml", or the media subtype.
func contentType(header string) string {
	if header == "" {
		return ""
	}
	media, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	switch {
	case media == "application/json", strings.HasSuffix(media, "+json"):
		return "json"
	case media == "text/plain":
		return "txt"
	case media == "text/html":
		return "html"
	case media == "application/xml", media == "text/xml", strings.HasSuffix(media, "+xml"):
		return "xml"
	}
	if _, sub, ok := strings.Cut(media, "/"); ok {
		return sub
	}
	return media
}

// decodeBody turns a raw body into a value according to its short type.
// JSON becomes a generic value, text and HTML become strings, and anything
// else, including JSON that fails to parse, is returned as the raw bytes.
func decodeBody(raw []byte, typ string) any {
	switch typ {
	case "json":
		if len(raw) == 0 {
			return nil
		}
		var v any
		if err := sonic.ConfigStd.Unmarshal(raw, &v); err != nil {
			return raw
		}
		return v
	case "txt", "html":
		return string(raw)
	default:
		return raw
	}
}
