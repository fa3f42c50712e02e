// Package label renders cluster titles and subtitles.
package label

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/kdtree"
)

// DefaultTitle is the cluster title template used when none is configured.
const DefaultTitle = "%d items"

// Options configures a Labeler.
type Options struct {
	Title        string // printf template taking the cluster count
	Locale       string // BCP 47 tag, default "en"
	ShowSubtitle bool
	MaxTitles    int // titles enumerated in a subtitle, default 5
}

// Labeler summarises nodes as human readable strings.
type Labeler struct {
	printer      *message.Printer
	title        string
	showSubtitle bool
	maxTitles    int
}

// New builds a Labeler. Unknown locales fall back to English.
func New(opts Options) *Labeler {
	tag, err := language.Parse(opts.Locale)
	if err != nil || opts.Locale == "" {
		tag = language.English
	}
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.MaxTitles <= 0 {
		opts.MaxTitles = 5
	}
	return &Labeler{
		printer:      message.NewPrinter(tag),
		title:        opts.Title,
		showSubtitle: opts.ShowSubtitle,
		maxTitles:    opts.MaxTitles,
	}
}

// Title names a node: the point title for a leaf, the count template for
// a cluster.
func (l *Labeler) Title(n kdtree.Node) string {
	if n.Leaf {
		return pointTitle(n.Point)
	}
	return l.printer.Sprintf(l.title, n.Count)
}

// Subtitle lists up to MaxTitles contained titles. It walks the subtree so
// it is skipped entirely when subtitles are disabled.
func (l *Labeler) Subtitle(t *kdtree.Tree, n kdtree.Node) string {
	if !l.showSubtitle || n.Leaf {
		return ""
	}

	titles := make([]string, 0, l.maxTitles)
	t.Walk(n.Ref, func(p geo.Point) bool {
		titles = append(titles, pointTitle(p))
		return len(titles) < l.maxTitles
	})

	s := strings.Join(titles, ", ")
	if rest := n.Count - len(titles); rest > 0 {
		s = l.printer.Sprintf("%s and %d more", s, rest)
	}
	return s
}

func pointTitle(p geo.Point) string {
	if p.Title != "" {
		return p.Title
	}
	return p.ID
}
