package main

import (
	"math"
	"strconv"
	"strings"

	styles "github.com/charmbracelet/lipgloss"

	"github.com/keilerkonzept/graphtop/internal/monitor"
)

// Rate thresholds for coloring, in Hz.
const (
	slowRate = 1.0
	fastRate = 10.0
)

// noNodes is shown for an empty node list.
const noNodes = "None"

var (
	slowColor = styles.AdaptiveColor{Light: "1", Dark: "9"}
	fastColor = styles.AdaptiveColor{Light: "2", Dark: "10"}
	slowFg    = styles.NewStyle().Foreground(slowColor)
	fastFg    = styles.NewStyle().Foreground(fastColor)
	plainFg   = styles.NewStyle()
)

// rateStyle colors a rate cell. Sentinels other than "0.0" stay plain.
func rateStyle(rate string) styles.Style {
	v, err := strconv.ParseFloat(rate, 64)
	switch {
	case err != nil || math.IsNaN(v):
		return plainFg
	case v < slowRate:
		return slowFg
	case v > fastRate:
		return fastFg
	default:
		return plainFg
	}
}

func joinNodes(nodes []string) string {
	if len(nodes) == 0 {
		return noNodes
	}
	return strings.Join(nodes, ", ")
}

// grid is one tab's table before layout. weights size the columns relative
// to each other when the pane is too narrow for the content.
type grid struct {
	headers []string
	weights []int
	rows    [][]string
	// rateCol is the column colored by rateStyle, or -1.
	rateCol int
}

func gridFor(t tab, snap monitor.Snapshot) grid {
	switch t {
	case servicesTab:
		g := grid{headers: []string{"Service", "Type", "Node"}, weights: []int{3, 3, 3}, rateCol: -1}
		for _, r := range snap.Services {
			g.rows = append(g.rows, []string{r.Name, r.Type, joinNodes(r.Nodes)})
		}
		return g
	case actionsTab:
		g := grid{headers: []string{"Action", "Type", "Server Nodes"}, weights: []int{3, 3, 3}, rateCol: -1}
		for _, r := range snap.Actions {
			g.rows = append(g.rows, []string{r.Name, r.Type, joinNodes(r.Servers)})
		}
		return g
	case nodesTab:
		g := grid{headers: []string{"Node"}, weights: []int{1}, rateCol: -1}
		for _, n := range snap.Nodes {
			g.rows = append(g.rows, []string{n})
		}
		return g
	default:
		g := grid{
			headers: []string{"Topic", "Type", "Rate (Hz)", "Delay (s)", "Publisher Nodes", "Subscriber Nodes"},
			weights: []int{3, 3, 1, 1, 2, 2},
			rateCol: 2,
		}
		for _, r := range snap.Topics {
			g.rows = append(g.rows, []string{r.Name, r.Type, r.Rate, r.Delay, joinNodes(r.Publishers), joinNodes(r.Subscribers)})
		}
		return g
	}
}

// columnCaps splits width between the columns by weight. Each column loses
// two cells of padding and one of border, plus the closing border.
func (g grid) columnCaps(width int) []int {
	const minCol = 4
	avail := width - 3*len(g.headers) - 1
	total := 0
	for _, w := range g.weights {
		total += w
	}
	caps := make([]int, len(g.headers))
	for i, w := range g.weights {
		caps[i] = minCol
		if total > 0 {
			caps[i] = max(minCol, avail*w/total)
		}
	}
	return caps
}

// fitted truncates every cell to its column cap.
func (g grid) fitted(rows [][]string, width int) [][]string {
	caps := g.columnCaps(width)
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = make([]string, len(row))
		for j, cell := range row {
			out[i][j] = truncate(cell, caps[j])
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
