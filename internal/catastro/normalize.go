package catastro

import (
	"bytes"
	"encoding/xml"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/unicode/norm"
)

var (
	declaredEncoding = regexp.MustCompile(`(?i)^\s*<\?xml[^>]*encoding\s*=\s*["']([^"']+)["']`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// normalizeString trims s and guarantees valid, NFC-composed UTF-8.
func normalizeString(s string) string {
	s = strings.TrimSpace(s)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return norm.NFC.String(s)
}

// collapseWhitespace normalizes s and folds internal whitespace runs to one space.
func collapseWhitespace(s string) string {
	return whitespaceRun.ReplaceAllString(normalizeString(s), " ")
}

// toUTF8 transcodes payloads that claim (or default to) UTF-8 but carry
// Windows-1252 bytes. Payloads with another declared encoding are left to
// the XML decoder.
func toUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	if m := declaredEncoding.FindSubmatch(data); m != nil {
		label := strings.ToLower(string(m[1]))
		if label != "utf-8" && label != "utf8" {
			return data
		}
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return out
}

// charsetReader resolves non-UTF-8 declared encodings for encoding/xml.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "xml: unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(input), nil
}

// wellFormed runs a strict token pass over data and returns every problem
// found. An empty result means the document is well-formed.
func wellFormed(data []byte) []string {
	if len(bytes.TrimSpace(data)) == 0 {
		return []string{"document is empty"}
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader

	var (
		problems []string
		open     []string
		roots    int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			problems = append(problems, strings.TrimSpace(err.Error()))
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if len(open) == 0 {
				roots++
			}
			open = append(open, t.Name.Local)
		case xml.EndElement:
			if len(open) > 0 {
				open = open[:len(open)-1]
			}
		}
	}

	if len(problems) == 0 && roots == 0 {
		problems = append(problems, "no root element")
	}
	if len(open) > 0 {
		problems = append(problems, "unclosed element <"+strings.Join(open, "><")+">")
	}
	return problems
}

// atoiLenient reads the leading integer of s the way the upstream's own
// consumers do: "120", " 120 " and "120.5" are 120; anything else is 0.
func atoiLenient(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// parseCoordinate parses a decimal degree value, accepting a comma separator.
func parseCoordinate(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
