// Package markup inspects and rewrites the opaque content of timeline entries
package markup

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Content is what the raster surface needs from a piece of markup
type Content struct {
	Images []string // src of every <img>, in document order
	Text   string   // visible text, whitespace-collapsed
	Filler bool     // root element carries class="filler"
}

// Parse extracts image references and visible text from markup
func Parse(markup string) Content {
	var c Content
	var text []string
	first := true
	skip := 0

	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			c.Text = strings.Join(strings.Fields(strings.Join(text, " ")), " ")
			return c
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if first {
				c.Filler = hasClass(tok, "filler")
				first = false
			}
			switch tok.Data {
			case "img":
				if src := attr(tok, "src"); src != "" {
					c.Images = append(c.Images, src)
				}
			case "script", "style":
				if tt == html.StartTagToken {
					skip++
				}
			}
		case html.EndTagToken:
			tok := z.Token()
			if (tok.Data == "script" || tok.Data == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				text = append(text, string(z.Text()))
			}
		}
	}
}

// Placeholder is an <img> awaiting a generated asset
type Placeholder struct {
	Prompt string
}

// Placeholders lists <img data-prompt="..."> tags without a src
func Placeholders(markup string) []Placeholder {
	var out []Placeholder
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		if tok.Data != "img" {
			continue
		}
		if p := attr(tok, "data-prompt"); p != "" && attr(tok, "src") == "" {
			out = append(out, Placeholder{Prompt: p})
		}
	}
}

// FillPlaceholders sets src on placeholder images whose prompt is in srcs.
// Everything else in the markup is copied through byte for byte.
func FillPlaceholders(markup string, srcs map[string]string) string {
	return rewriteImages(markup, func(tok *html.Token) bool {
		src, ok := srcs[attr(*tok, "data-prompt")]
		if !ok || attr(*tok, "src") != "" {
			return false
		}
		tok.Attr = append(tok.Attr, html.Attribute{Key: "src", Val: src})
		return true
	})
}

// RewriteSources replaces the src of every <img> for which fn reports a
// new value. Other markup is copied through byte for byte.
func RewriteSources(markup string, fn func(src string) (string, bool)) string {
	return rewriteImages(markup, func(tok *html.Token) bool {
		for i, a := range tok.Attr {
			if a.Key != "src" || a.Val == "" {
				continue
			}
			if v, ok := fn(a.Val); ok {
				tok.Attr[i].Val = v
				return true
			}
		}
		return false
	})
}

// rewriteImages re-serializes only the <img> tags edit changed
func rewriteImages(markup string, edit func(tok *html.Token) bool) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				// Unparseable tail is kept as is.
				b.Write(z.Raw())
			}
			return b.String()
		}
		raw := append([]byte(nil), z.Raw()...)
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			b.Write(raw)
			continue
		}

		tok := z.Token()
		if tok.Data != "img" || !edit(&tok) {
			b.Write(raw)
			continue
		}
		b.WriteString(tok.String())
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(tok html.Token, class string) bool {
	for _, c := range strings.Fields(attr(tok, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
