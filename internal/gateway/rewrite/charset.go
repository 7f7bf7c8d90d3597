package rewrite

import (
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DecodeToUTF8 normalizes an HTML body to UTF-8 before parsing. Upstream
// pages still ship in legacy encodings often enough that feeding raw bytes
// to the parser mangles attribute values and breaks rewriting.
func DecodeToUTF8(body []byte) string {
	if utf8.Valid(body) {
		return string(body)
	}

	detector := chardet.NewTextDetector()
	best, err := detector.DetectBest(body)
	if err != nil || best == nil {
		return string(body)
	}
	name := strings.ToLower(best.Charset)
	if name == "utf-8" || name == "ascii" {
		return string(body)
	}

	enc, err := htmlindex.Get(best.Charset)
	if err != nil {
		return string(body)
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}
