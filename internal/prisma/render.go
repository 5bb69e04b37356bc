package prisma

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	svg "github.com/ajstarks/svgo"
	"github.com/emicklei/dot"
)

// Format is an output format for Render.
type Format string

const (
	FormatSVG Format = "svg"
	FormatDOT Format = "dot"
)

// ErrUnknownFormat is returned for formats other than svg and dot.
var ErrUnknownFormat = errors.New("unknown diagram format")

// ParseFormat accepts "svg" or "dot".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatSVG:
		return FormatSVG, nil
	case FormatDOT, "gv":
		return FormatDOT, nil
	}
	return "", fmt.Errorf("%w: %q (valid: svg, dot)", ErrUnknownFormat, s)
}

// Render writes d in the requested format.
func Render(w io.Writer, d *Diagram, format Format) error {
	bw := bufio.NewWriter(w)
	var err error
	switch format {
	case FormatSVG:
		err = renderSVG(bw, d)
	case FormatDOT:
		err = renderDOT(bw, d)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}

// SVG geometry, in pixels.
const (
	bandLabelWidth = 50
	margin         = 20
	titleHeight    = 40
	lineHeight     = 16
	boxPadding     = 12
	rowGap         = 36
	colGap         = 40
	fontSize       = 12
)

var colWidths = []int{300, 260, 200}

func colX(col int) int {
	x := margin + bandLabelWidth
	for i := 0; i < col; i++ {
		x += colWidths[i] + colGap
	}
	return x
}

type rect struct{ x, y, w, h int }

func (r rect) cx() int { return r.x + r.w/2 }
func (r rect) cy() int { return r.y + r.h/2 }

// layout assigns a rectangle to every box. Boxes in a row share its height.
func layout(d *Diagram) (map[string]rect, []int, []int) {
	rows := d.Rows()
	heights := make([]int, rows)
	for _, b := range d.Boxes {
		h := len(b.Lines)*lineHeight + 2*boxPadding
		if h > heights[b.Row] {
			heights[b.Row] = h
		}
	}
	tops := make([]int, rows)
	y := margin + titleHeight
	for i := 0; i < rows; i++ {
		if heights[i] == 0 {
			heights[i] = lineHeight
		}
		tops[i] = y
		y += heights[i] + rowGap
	}

	rects := make(map[string]rect, len(d.Boxes))
	for _, b := range d.Boxes {
		w := colWidths[len(colWidths)-1]
		if b.Col < len(colWidths) {
			w = colWidths[b.Col]
		}
		rects[b.ID] = rect{x: colX(b.Col), y: tops[b.Row], w: w, h: heights[b.Row]}
	}
	return rects, tops, heights
}

func renderSVG(w io.Writer, d *Diagram) error {
	rects, tops, heights := layout(d)
	maxCol := 0
	for _, b := range d.Boxes {
		if b.Col > maxCol {
			maxCol = b.Col
		}
	}
	width := colX(maxCol) + colWidths[min(maxCol, len(colWidths)-1)] + margin
	height := margin + titleHeight
	if len(tops) > 0 {
		last := len(tops) - 1
		height = tops[last] + heights[last] + margin
	}

	canvas := svg.New(w)
	canvas.Start(width, height,
		fmt.Sprintf(`viewBox="0 0 %d %d"`, width, height),
		`font-family="Helvetica, Arial, sans-serif"`,
		fmt.Sprintf(`font-size="%d"`, fontSize))
	canvas.Title(d.Title)
	canvas.Def()
	canvas.Marker("arrow", 10, 5, 8, 8, `viewBox="0 0 10 10"`, `orient="auto-start-reverse"`)
	canvas.Path("M 0 0 L 10 5 L 0 10 z", fmt.Sprintf(`fill="%s"`, Palette["arrow"]))
	canvas.MarkerEnd()
	canvas.DefEnd()
	canvas.Rect(0, 0, width, height, `fill="white"`)
	canvas.Text(width/2, margin+titleHeight/2, d.Title,
		`text-anchor="middle"`, `font-size="15"`, `font-weight="bold"`, fmt.Sprintf(`fill="%s"`, Palette["text"]))

	for i, ph := range d.Phases {
		if ph.FirstRow >= len(tops) || ph.LastRow >= len(tops) {
			continue
		}
		top := tops[ph.FirstRow] - rowGap/2
		bottom := tops[ph.LastRow] + heights[ph.LastRow] + rowGap/2
		mid := (top + bottom) / 2
		x := margin + bandLabelWidth/2
		canvas.Group(`class="phase"`)
		canvas.Text(x, mid, ph.Name,
			`text-anchor="middle"`, `dominant-baseline="middle"`, `font-weight="bold"`,
			fmt.Sprintf(`fill="%s"`, Palette["text"]),
			fmt.Sprintf(`transform="rotate(-90 %d %d)"`, x, mid))
		if i > 0 {
			canvas.Line(margin, top, width-margin, top,
				fmt.Sprintf(`stroke="%s"`, Palette["separator"]), `stroke-width="0.8"`, `stroke-dasharray="6 4"`)
		}
		canvas.Gend()
	}

	for _, e := range d.Edges {
		from, ok1 := rects[e.From]
		to, ok2 := rects[e.To]
		if !ok1 || !ok2 {
			continue
		}
		x1, y1, x2, y2 := connect(from, to)
		canvas.Line(x1, y1, x2, y2,
			fmt.Sprintf(`stroke="%s"`, Palette["arrow"]), `stroke-width="1.5"`, `marker-end="url(#arrow)"`)
	}

	for _, b := range d.Boxes {
		r := rects[b.ID]
		canvas.Gid(b.ID)
		canvas.Roundrect(r.x, r.y, r.w, r.h, 6, 6,
			fmt.Sprintf(`fill="%s"`, Palette[b.Fill]), fmt.Sprintf(`stroke="%s"`, Palette["border"]), `stroke-width="1.2"`)
		firstY := r.cy() - (len(b.Lines)-1)*lineHeight/2
		for i, line := range b.Lines {
			anchor, x := "middle", r.cx()
			if strings.HasPrefix(line, "  ") {
				anchor, x = "start", r.x+boxPadding
			}
			canvas.Text(x, firstY+i*lineHeight, line,
				fmt.Sprintf(`text-anchor="%s"`, anchor), `dominant-baseline="middle"`,
				fmt.Sprintf(`fill="%s"`, Palette["text"]), `xml:space="preserve"`)
		}
		canvas.Gend()
	}
	canvas.End()
	return nil
}

// connect picks arrow endpoints: sideways within a row, otherwise from the
// bottom of one box to the top of the next.
func connect(from, to rect) (x1, y1, x2, y2 int) {
	if from.y == to.y {
		if to.x > from.x {
			return from.x + from.w, from.cy(), to.x, to.cy()
		}
		return from.x, from.cy(), to.x + to.w, to.cy()
	}
	if to.x > from.x && to.y > from.y && from.x+from.w < to.x {
		return from.x + from.w, from.cy(), to.x, to.cy()
	}
	return from.cx(), from.y + from.h, to.cx(), to.y
}

// dotGraph builds the Graphviz form of d: one dashed cluster per phase and
// boxes of a row held on the same rank.
func dotGraph(d *Diagram) *dot.Graph {
	g := dot.NewGraph(dot.Directed)
	g.ID("prisma")
	g.Attrs("label", d.Title, "labelloc", "t", "rankdir", "TB", "newrank", "true")

	byRow := make(map[int][]Box)
	for _, b := range d.Boxes {
		byRow[b.Row] = append(byRow[b.Row], b)
	}
	nodes := make(map[string]dot.Node, len(d.Boxes))
	rows := make(map[int][]dot.Node)
	for _, ph := range d.Phases {
		cluster := g.Subgraph(ph.Name, dot.ClusterOption{})
		cluster.Attrs("style", "dashed", "color", Palette["separator"])
		for row := ph.FirstRow; row <= ph.LastRow; row++ {
			for _, b := range byRow[row] {
				n := cluster.Node(b.ID).Label(strings.Join(b.Lines, "\n")).Box()
				n.Attrs("style", "rounded,filled", "fillcolor", Palette[b.Fill],
					"color", Palette["border"], "fontcolor", Palette["text"],
					"fontname", "Helvetica", "fontsize", "10")
				nodes[b.ID] = n
				rows[row] = append(rows[row], n)
			}
		}
	}
	for row, ns := range rows {
		if len(ns) > 1 {
			g.AddToSameRank(fmt.Sprintf("row%d", row), ns...)
		}
	}
	for _, e := range d.Edges {
		from, ok1 := nodes[e.From]
		to, ok2 := nodes[e.To]
		if !ok1 || !ok2 {
			continue
		}
		g.Edge(from, to).Attrs("color", Palette["arrow"], "arrowsize", "0.7")
	}
	return g
}

func renderDOT(w io.Writer, d *Diagram) error {
	dotGraph(d).Write(w)
	return nil
}
