package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tui "github.com/charmbracelet/bubbletea"
	styles "github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	plot "github.com/chriskim06/drawille-go"
	"github.com/keilerkonzept/topk/heap"

	"github.com/keilerkonzept/graphtop/internal/monitor"
)

type tab int

const (
	topicsTab tab = iota
	servicesTab
	actionsTab
	nodesTab
	numTabs
)

var tabNames = [numTabs]string{"Topics", "Services", "Actions", "Nodes"}

func (t tab) String() string { return tabNames[t] }

var (
	selectedColor = styles.AdaptiveColor{Light: "0", Dark: "9"}
	borderColor   = styles.AdaptiveColor{Light: "#555", Dark: "#555"}
	selectedFg    = styles.NewStyle().Foreground(selectedColor)
	borderFg      = styles.NewStyle().Foreground(borderColor)
	headerFg      = styles.NewStyle().Bold(true).Padding(0, 1)
	cellStyle     = styles.NewStyle().Padding(0, 1)
	activeTab     = styles.NewStyle().Foreground(selectedColor).Bold(true).Padding(0, 1)
	inactiveTab   = styles.NewStyle().Foreground(borderColor).Padding(0, 1)
	frozenBadge   = styles.NewStyle().Reverse(true).Padding(0, 1)
	statsStyle    = styles.NewStyle().Foreground(styles.AdaptiveColor{Light: "1", Dark: "9"})
	plotStyle     = styles.NewStyle().
			BorderStyle(styles.NormalBorder()).
			Foreground(borderColor).
			BorderForeground(borderColor)
)

// snapshotter is the dashboard's only view of the monitor.
type snapshotter interface {
	Snapshot(monitor.Filter) monitor.Snapshot
}

type FrameTickMsg time.Time

func doFrameTick() tui.Cmd {
	return tui.Every(time.Second/time.Duration(config.FPS), func(t time.Time) tui.Msg {
		return FrameTickMsg(t)
	})
}

type model struct {
	mon     snapshotter
	busiest *busiestTopics
	ranker  *topicRanker
	metrics *frameMetrics

	width, height  int
	leftPaneWidth  int
	rightPaneWidth int
	tableRows      int

	tab              tab
	cursor           [numTabs]int
	offset           [numTabs]int
	frozen           bool
	hideUnmeasurable bool
	logScale         bool

	search textinput.Model
	help   help.Model

	// full is the last snapshot read from the monitor; snap is full narrowed
	// by the current search and visibility settings.
	full   monitor.Snapshot
	snap   monitor.Snapshot
	ranked []heap.Item

	plot           *plot.Canvas
	plotWidth      int
	plotHeight     int
	plotData       [][]float64
	plotLineColors []plot.Color
}

func newModel(mon snapshotter, busiest *busiestTopics) *model {
	const (
		defaultWidth  = 80
		defaultHeight = 20
	)

	search := textinput.New()
	search.Prompt = "/ "
	search.Placeholder = "search all tabs"
	search.CharLimit = 128

	p := plot.NewCanvas(defaultWidth, defaultHeight)
	p.NumDataPoints = busiest.historyLength()
	p.ShowAxis = false
	p.LineColors = make([]plot.Color, config.K)

	m := &model{
		mon:              mon,
		busiest:          busiest,
		ranker:           newTopicRanker(config.K, config.FullRefresh, config.PartialSize),
		metrics:          newFrameMetrics(config.PerfEnabled),
		hideUnmeasurable: config.HideUnmeasurable,
		logScale:         config.LogScale,
		search:           search,
		help:             help.New(),
		plot:             &p,
		plotData:         make([][]float64, config.K),
		plotLineColors:   make([]plot.Color, config.K),
	}
	for i := range m.plotData {
		m.plotData[i] = make([]float64, busiest.historyLength())
	}
	m.resize(defaultWidth, defaultHeight)
	return m
}

func (m *model) Init() tui.Cmd {
	m.refresh(time.Now())
	return doFrameTick()
}

func (m *model) Update(msg tui.Msg) (tui.Model, tui.Cmd) {
	switch msg := msg.(type) {
	case FrameTickMsg:
		if !m.frozen {
			m.refresh(time.Time(msg))
		}
		return m, doFrameTick()
	case tui.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case tui.KeyMsg:
		if m.search.Focused() {
			return m.updateSearch(msg)
		}
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tui.Quit
		case key.Matches(msg, keys.NextTab):
			m.tab = (m.tab + 1) % numTabs
		case key.Matches(msg, keys.PrevTab):
			m.tab = (m.tab + numTabs - 1) % numTabs
		case key.Matches(msg, keys.Up):
			m.moveCursor(-1)
		case key.Matches(msg, keys.Down):
			m.moveCursor(1)
		case key.Matches(msg, keys.PageUp):
			m.moveCursor(-m.tableRows)
		case key.Matches(msg, keys.PageDown):
			m.moveCursor(m.tableRows)
		case key.Matches(msg, keys.Search) && config.SearchEnabled:
			return m, m.search.Focus()
		case key.Matches(msg, keys.Clear):
			m.search.SetValue("")
			m.applyFilter()
		case key.Matches(msg, keys.Freeze):
			m.frozen = !m.frozen
		case key.Matches(msg, keys.Hide):
			m.hideUnmeasurable = !m.hideUnmeasurable
			m.applyFilter()
		case key.Matches(msg, keys.Scale):
			m.logScale = !m.logScale
			m.updatePlot()
		case key.Matches(msg, keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.resize(m.width, m.height)
		}
		return m, nil
	}
	return m, nil
}

func (m *model) updateSearch(msg tui.KeyMsg) (tui.Model, tui.Cmd) {
	switch {
	case key.Matches(msg, keys.Clear):
		m.search.SetValue("")
		m.search.Blur()
		m.applyFilter()
		return m, nil
	case key.Matches(msg, keys.Accept):
		m.search.Blur()
		return m, nil
	}
	var cmd tui.Cmd
	m.search, cmd = m.search.Update(msg)
	m.applyFilter()
	return m, cmd
}

// refresh reads one snapshot from the monitor and re-ranks the busiest
// topics. Everything after the read works on private copies.
func (m *model) refresh(now time.Time) {
	start := time.Now()
	m.full = m.mon.Snapshot(monitor.Filter{})
	m.metrics.observeSnapshot(time.Since(start))
	m.applyFilter()

	start = time.Now()
	items, full := m.ranker.Refresh(now, m.visibleRanks(), m.busiest)
	m.metrics.observeRank(time.Since(start), full)
	m.ranked = items
	m.updatePlot()
}

func (m *model) filter() monitor.Filter {
	return monitor.Filter{Query: m.search.Value(), HideUnmeasurable: m.hideUnmeasurable}
}

func (m *model) applyFilter() {
	m.snap = m.full.Filtered(m.filter())
	for t := range numTabs {
		m.clampCursor(t)
	}
}

func (m *model) rowCount(t tab) int {
	switch t {
	case servicesTab:
		return len(m.snap.Services)
	case actionsTab:
		return len(m.snap.Actions)
	case nodesTab:
		return len(m.snap.Nodes)
	default:
		return len(m.snap.Topics)
	}
}

func (m *model) moveCursor(delta int) {
	m.cursor[m.tab] += delta
	m.clampCursor(m.tab)
}

// clampCursor keeps the cursor on a row and the row inside the viewport.
func (m *model) clampCursor(t tab) {
	n := m.rowCount(t)
	c := min(max(0, m.cursor[t]), max(0, n-1))
	m.cursor[t] = c
	off := m.offset[t]
	if c < off {
		off = c
	}
	if rows := max(1, m.tableRows); c >= off+rows {
		off = c - rows + 1
	}
	m.offset[t] = max(0, min(off, max(0, n-1)))
}

// selectedTopic is the topic under the cursor, or "" when the topics tab is
// not showing one.
func (m *model) selectedTopic() string {
	if m.tab != topicsTab || len(m.snap.Topics) == 0 {
		return ""
	}
	return m.snap.Topics[m.cursor[topicsTab]].Name
}

// chromeLines is the number of lines around the table rows: tab bar, table
// header and borders, details, legend, help, then the optional parts.
func (m *model) chromeLines() int {
	n := 1 + 4 + 1 + 1 + 1
	if config.SearchEnabled {
		n++
	}
	if m.help.ShowAll {
		n += 3
	}
	if config.PerfEnabled {
		n += perfLines
	}
	return n
}

func (m *model) resize(w, h int) {
	m.width, m.height = w, h
	m.leftPaneWidth, m.rightPaneWidth = computePaneWidths(w, config.ViewSplit)
	m.tableRows = max(1, h-m.chromeLines())
	m.search.Width = max(1, w-len(m.search.Prompt)-1)
	m.help.Width = w

	// Right side matches the table frame: title, ranked list, then the plot
	// box with its label line and border.
	m.plotHeight = max(1, m.tableRows-m.rankedLines())
	m.plotWidth = max(1, m.rightPaneWidth-2)
	p := plot.NewCanvas(m.plotWidth, m.plotHeight)
	p.NumDataPoints = m.plot.NumDataPoints
	p.ShowAxis = m.plot.ShowAxis
	p.LineColors = m.plot.LineColors
	m.plot = &p
	for t := range numTabs {
		m.clampCursor(t)
	}
	m.updatePlot()
}

// rankedLines is how many busiest-topic rows the right pane lists.
func (m *model) rankedLines() int {
	return min(config.K, max(1, (m.tableRows+4)/3))
}

func (m *model) visibleRanks() int {
	return m.rankedLines()
}

func (m *model) updatePlot() {
	var highlight, dim plot.Color
	if styles.DefaultRenderer().HasDarkBackground() {
		highlight, dim = plot.Red, plot.DimGray
	} else {
		highlight, dim = plot.Black, plot.LightGray
	}

	items := m.ranked
	if len(items) == 0 {
		clear(m.plotData[0])
		m.plot.Fill(m.plotData[:1])
		return
	}

	// The highlighted series is drawn last so it sits on top.
	focus := 0
	if name := m.selectedTopic(); name != "" {
		for i, it := range items {
			if it.Item == name {
				focus = i
				break
			}
		}
	}
	ordered := make([]heap.Item, 0, len(items))
	for i, it := range items {
		if i != focus {
			ordered = append(ordered, it)
		}
	}
	ordered = append(ordered, items[focus])

	n := len(ordered)
	m.busiest.fillSeries(ordered, m.plotData[:n], m.logScale)
	for i := range n {
		m.plotLineColors[i] = dim
	}
	m.plotLineColors[n-1] = highlight
	m.plotLineColors, m.plot.LineColors = m.plot.LineColors, m.plotLineColors
	m.plot.Fill(m.plotData[:n])
}

func (m *model) View() string {
	left := m.renderTable()
	right := m.renderBusiest()
	body := styles.JoinHorizontal(styles.Top,
		styles.NewStyle().Width(m.leftPaneWidth).Render(left),
		right,
	)

	parts := []string{m.renderTabs()}
	if config.SearchEnabled {
		parts = append(parts, m.search.View())
	}
	parts = append(parts, body, m.renderDetails(), renderLegend())
	if config.PerfEnabled {
		parts = append(parts, statsStyle.Render(strings.Join(m.perfBlock(), "\n")))
	}
	parts = append(parts, m.help.View(keys))
	return styles.JoinVertical(styles.Left, parts...)
}

func (m *model) renderTabs() string {
	var b strings.Builder
	for t := range numTabs {
		label := fmt.Sprintf("%s (%d)", t, m.rowCount(t))
		if t == m.tab {
			b.WriteString(activeTab.Render(label))
		} else {
			b.WriteString(inactiveTab.Render(label))
		}
	}
	if m.frozen {
		b.WriteString(" ")
		b.WriteString(frozenBadge.Render("FROZEN"))
	}
	return b.String()
}

func (m *model) renderTable() string {
	g := gridFor(m.tab, m.snap)
	cursor, offset := m.cursor[m.tab], m.offset[m.tab]
	end := min(len(g.rows), offset+m.tableRows)
	visible := g.fitted(g.rows[min(offset, end):end], m.leftPaneWidth)

	t := table.New().
		Border(styles.NormalBorder()).
		BorderStyle(borderFg).
		Headers(g.headers...).
		Rows(visible...).
		StyleFunc(func(row, col int) styles.Style {
			switch {
			case row == table.HeaderRow:
				return headerFg
			case row+offset == cursor:
				return cellStyle.Foreground(selectedColor).Bold(true)
			case col == g.rateCol && row < len(visible):
				return cellStyle.Inherit(rateStyle(visible[row][col]))
			}
			return cellStyle
		})
	return t.String()
}

func (m *model) renderBusiest() string {
	w := max(1, m.rightPaneWidth-2)
	lines := []string{borderFg.Render(fmt.Sprintf("BUSIEST TOPICS (last %s)", config.WindowSize))}
	selected := m.selectedTopic()
	for i := range m.rankedLines() {
		if i >= len(m.ranked) {
			lines = append(lines, "")
			continue
		}
		it := m.ranked[i]
		line := truncate(fmt.Sprintf("#%-2d %6d  %s", i+1, it.Count, it.Item), w)
		if it.Item == selected {
			line = selectedFg.Render(line)
		}
		lines = append(lines, line)
	}

	canvas := m.plot.String()
	if canvas == "" {
		canvas = emptyPlot(m.plotWidth, m.plotHeight)
	}
	box := plotStyle.Render(styles.JoinVertical(styles.Top, canvas, m.plotLabels(w)))
	return styles.JoinVertical(styles.Left, append(lines, box)...)
}

func (m *model) plotLabels(w int) string {
	linColor, logColor := selectedFg, borderFg
	if m.logScale {
		linColor, logColor = borderFg, selectedFg
	}
	linLog := linColor.Render("LIN") + " " + logColor.Render("LOG")

	latest := m.busiest.latestTick()
	if latest.IsZero() {
		return " " + linLog
	}
	leftLabel := latest.Add(-config.WindowSize).Format("15:04:05")
	rightLabel := latest.Format("15:04:05")
	gap := w - (len(leftLabel) + len(rightLabel) + len("LIN LOG"))
	if gap < 2 {
		return " " + linLog
	}
	return leftLabel +
		strings.Repeat(" ", gap/2) +
		linLog +
		strings.Repeat(" ", gap-gap/2) +
		borderFg.Render(rightLabel)
}

func (m *model) renderDetails() string {
	var s string
	switch c := m.cursor[m.tab]; m.tab {
	case topicsTab:
		if c < len(m.snap.Topics) {
			r := m.snap.Topics[c]
			s = fmt.Sprintf("%s  pub: %s  sub: %s  samples: %d/%d", r.Name, joinNodes(r.Publishers), joinNodes(r.Subscribers), r.Samples, r.DelaySamples)
		}
	case servicesTab:
		if c < len(m.snap.Services) {
			r := m.snap.Services[c]
			s = fmt.Sprintf("%s  %s  nodes: %s", r.Name, r.Type, joinNodes(r.Nodes))
		}
	case actionsTab:
		if c < len(m.snap.Actions) {
			r := m.snap.Actions[c]
			s = fmt.Sprintf("%s  %s  servers: %s", r.Name, r.Type, joinNodes(r.Servers))
		}
	case nodesTab:
		if c < len(m.snap.Nodes) {
			s = m.snap.Nodes[c]
		}
	}
	return truncate(s, max(1, m.width))
}

func renderLegend() string {
	return borderFg.Render("rate: ") +
		slowFg.Render("< 1 Hz") + "  " +
		"1-10 Hz  " +
		fastFg.Render("> 10 Hz") +
		borderFg.Render("  |  NaN = no data yet  0.0 = no messages  N/A = not measurable  None = no nodes")
}

// perfLines is the height of the perf block.
const perfLines = 5

func (m *model) perfBlock() []string {
	e := m.snap.Engine
	title := "PERF STATS (RUNNING)"
	if m.frozen {
		title = "PERF STATS (FROZEN)"
	}
	fm := m.metrics
	return []string{
		title,
		fmt.Sprintf("deliveries: %d (%d msg/s)  subscriptions: %d  stale drops: %d  negative delays: %d",
			e.Deliveries, e.AvgDeliveryRate, e.Subscriptions, e.StaleDrops, e.NegativeDelays),
		fmt.Sprintf("discovery: %d passes, %d failed, last %s, max %s  subscribe failures: %d",
			e.DiscoveryPasses, e.DiscoveryFailures, formatMetricDuration(e.Discovery.Last), formatMetricDuration(e.Discovery.Max), e.SubscribeFailures),
		fmt.Sprintf("stats: %d passes, avg %s  teardowns: %d",
			e.StatsPasses, formatMetricDuration(e.Stats.Avg), e.Teardowns),
		fmt.Sprintf("frame snapshot: last %s, avg %s, max %s  ranking: %d full, %d partial",
			formatMetricDuration(fm.lastSnap), formatMetricDuration(fm.avgSnap), formatMetricDuration(fm.maxSnap), fm.fullRanks, fm.partialRanks),
	}
}

func emptyPlot(w, h int) string {
	if w < 1 || h < 1 {
		return ""
	}
	line := strings.Repeat(" ", w)
	lines := make([]string, h)
	for i := range lines {
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func computePaneWidths(totalWidth int, splitPercent int) (left, right int) {
	if totalWidth <= 1 {
		return 1, 1
	}
	left = min(max(1, totalWidth*splitPercent/100), totalWidth-1)
	right = totalWidth - left

	// Keep panes readable when the terminal is wide enough.
	const minPane = 18
	if totalWidth >= minPane*2 {
		if left < minPane {
			left = minPane
			right = totalWidth - left
		}
		if right < minPane {
			right = minPane
			left = totalWidth - right
		}
	}
	return max(1, left), max(1, right)
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Quit, k.NextTab, k.Search, k.Freeze, k.Hide, k.Help}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Quit, k.Help},
		{k.NextTab, k.PrevTab, k.Up, k.Down, k.PageUp, k.PageDown},
		{k.Search, k.Accept, k.Clear},
		{k.Freeze, k.Hide, k.Scale},
	}
}

type keyMap struct {
	NextTab  key.Binding
	PrevTab  key.Binding
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Search   key.Binding
	Accept   key.Binding
	Clear    key.Binding
	Freeze   key.Binding
	Hide     key.Binding
	Scale    key.Binding
	Help     key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	NextTab: key.NewBinding(
		key.WithKeys("tab", "right", "l"),
		key.WithHelp("tab", "next tab"),
	),
	PrevTab: key.NewBinding(
		key.WithKeys("shift+tab", "left", "h"),
		key.WithHelp("shift+tab", "prev tab"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("pgup", "b"),
		key.WithHelp("pgup", "page up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("pgdown", "f"),
		key.WithHelp("pgdn", "page down"),
	),
	Search: key.NewBinding(
		key.WithKeys("/"),
		key.WithHelp("/", "search"),
	),
	Accept: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "keep search"),
	),
	Clear: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "clear search"),
	),
	Freeze: key.NewBinding(
		key.WithKeys("p", " "),
		key.WithHelp("p/space", "freeze"),
	),
	Hide: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "show/hide N/A"),
	),
	Scale: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "log/lin"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "more keys"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q/ctrl+c", "quit"),
	),
}
