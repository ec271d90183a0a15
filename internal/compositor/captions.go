package compositor

import (
	"html"
	"sort"
	"strings"

	"github.com/ivlev/timeline2video/internal/config"
	"github.com/ivlev/timeline2video/internal/timeline"
)

// CaptionSegment is a run of words with no pause longer than the gap threshold
type CaptionSegment struct {
	Text  string
	Start float64
	End   float64
	Words []timeline.Word
}

// ClusterCaptions splits words wherever the silence between two consecutive
// words exceeds gapThreshold. maxWords > 0 also caps the words per segment.
func ClusterCaptions(words []timeline.Word, gapThreshold float64, maxWords int) []CaptionSegment {
	var out []CaptionSegment
	var cur []timeline.Word

	flush := func() {
		if len(cur) == 0 {
			return
		}
		texts := make([]string, len(cur))
		for i, w := range cur {
			texts[i] = w.Text
		}
		out = append(out, CaptionSegment{
			Text:  strings.Join(texts, " "),
			Start: cur[0].Start,
			End:   cur[len(cur)-1].End,
			Words: cur,
		})
		cur = nil
	}

	for _, w := range words {
		if strings.TrimSpace(w.Text) == "" {
			continue
		}
		if n := len(cur); n > 0 {
			if w.Start-cur[n-1].End > gapThreshold || (maxWords > 0 && n >= maxWords) {
				flush()
			}
		}
		cur = append(cur, w)
	}
	flush()
	return out
}

// CaptionState is what the surface shows for one frame
type CaptionState struct {
	Visible   bool
	Words     []string // visible window
	Highlight int      // index into Words, -1 when nothing is highlighted
	Markup    string
}

// CaptionTrack answers caption queries for a fixed word list
type CaptionTrack struct {
	Segments []CaptionSegment
	opts     config.CaptionConfig
}

// NewCaptionTrack clusters words once; the track is read-only afterwards
func NewCaptionTrack(words []timeline.Word, opts config.CaptionConfig) *CaptionTrack {
	sorted := append([]timeline.Word(nil), words...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	return &CaptionTrack{
		Segments: ClusterCaptions(sorted, opts.GapThreshold, opts.MaxSegmentWords),
		opts:     opts,
	}
}

// SegmentAt finds the segment with start <= t <= end
func (c *CaptionTrack) SegmentAt(t float64) (CaptionSegment, bool) {
	// First segment ending at or after t.
	i := sort.Search(len(c.Segments), func(i int) bool { return c.Segments[i].End >= t })
	if i < len(c.Segments) && c.Segments[i].Start <= t {
		return c.Segments[i], true
	}
	return CaptionSegment{}, false
}

// SpokenWord returns the index of the word being spoken at t: the first word
// with start <= t <= end, else the last word that started before t, else -1.
func SpokenWord(words []timeline.Word, t float64) int {
	last := -1
	for i, w := range words {
		if w.Start <= t && t <= w.End {
			return i
		}
		if w.Start < t {
			last = i
		}
	}
	return last
}

// window returns [from, to) of size n centered on idx within total words
func window(total, idx, n int) (int, int) {
	if n <= 0 || total <= n {
		return 0, total
	}
	if idx < 0 {
		idx = 0
	}
	from := idx - n/2
	if from < 0 {
		from = 0
	}
	if from+n > total {
		from = total - n
	}
	return from, from + n
}

// At builds the caption state at t
func (c *CaptionTrack) At(t float64) CaptionState {
	seg, ok := c.SegmentAt(t)
	if !ok {
		return CaptionState{Highlight: -1}
	}

	if !c.opts.PerWordHighlighting {
		words := make([]string, len(seg.Words))
		for i, w := range seg.Words {
			words[i] = w.Text
		}
		return CaptionState{
			Visible:   true,
			Words:     words,
			Highlight: -1,
			Markup:    c.markup(words, -1),
		}
	}

	spoken := SpokenWord(seg.Words, t)
	from, to := window(len(seg.Words), spoken, c.opts.MaxWordsPerLine)

	words := make([]string, 0, to-from)
	for _, w := range seg.Words[from:to] {
		words = append(words, w.Text)
	}
	highlight := -1
	if spoken >= from && spoken < to {
		highlight = spoken - from
	}

	return CaptionState{
		Visible:   true,
		Words:     words,
		Highlight: highlight,
		Markup:    c.markup(words, highlight),
	}
}

func (c *CaptionTrack) markup(words []string, highlight int) string {
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		if !c.opts.AllowRawMarkup {
			w = html.EscapeString(w)
		}
		if i == highlight {
			b.WriteString(`<span class="word spoken">`)
		} else {
			b.WriteString(`<span class="word">`)
		}
		b.WriteString(w)
		b.WriteString(`</span>`)
	}
	return b.String()
}
