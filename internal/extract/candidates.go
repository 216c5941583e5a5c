package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// candidate is one serialized payload found in the page.
type candidate struct {
	source string // "script" or the attribute name
	data   []byte
}

var payloadAttrs = map[string]bool{
	"data-weather": true,
	"data-state":   true,
}

// findCandidates walks the markup and collects JSON script bodies and payload attributes in document order.
func findCandidates(body []byte) []candidate {
	var out []candidate
	z := html.NewTokenizer(bytes.NewReader(body))
	inPayloadScript := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or a tokenizer error; either way nothing more to read.
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			isScript := string(name) == "script"
			jsonType := false
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				k := strings.ToLower(string(key))
				switch {
				case isScript && k == "type":
					jsonType = isJSONType(string(val))
				case payloadAttrs[k]:
					if v := bytes.TrimSpace(val); len(v) > 0 {
						out = append(out, candidate{source: k, data: bytes.Clone(v)})
					}
				}
			}
			inPayloadScript = isScript && jsonType
		case html.TextToken:
			if inPayloadScript {
				if t := bytes.TrimSpace(z.Text()); len(t) > 0 {
					out = append(out, candidate{source: "script", data: bytes.Clone(t)})
				}
			}
		case html.EndTagToken:
			inPayloadScript = false
		}
	}
}

func isJSONType(t string) bool {
	mediaType, _, _ := strings.Cut(t, ";")
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "application/json", "application/ld+json":
		return true
	}
	return false
}
