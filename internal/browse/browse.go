// Package browse is an interactive terminal tree over a reflected catalog:
// schemas, tables, views, columns, indexes and foreign keys, with fuzzy
// filtering of table names.
package browse

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"

	"github.com/sadopc/pgreflect/internal/catalog"
	"github.com/sadopc/pgreflect/internal/render"
)

type nodeKind int

const (
	nodeSchema nodeKind = iota
	nodeTable
	nodeView
	nodeColumn
	nodeIndex
	nodeFKey
)

// node is one row of the catalog tree.
type node struct {
	label    string
	kind     nodeKind
	children []*node
	expanded bool
	depth    int

	// qualified is "schema.name" for table and view nodes; fuzzy
	// filtering matches against it.
	qualified string
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Reverse(true)
	schemaStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#569CD6"))
	tableStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4EC9B0"))
	viewStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#C586C0"))
	leafStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
	selectedStyle = lipgloss.NewStyle().Reverse(true)
)

// Model is the catalog browser.
type Model struct {
	cat    *catalog.Catalog
	nodes  []*node
	flat   []*node
	tables []*node // table and view nodes, for fuzzy filtering

	filter    textinput.Model
	filtering bool

	cursor int
	offset int
	width  int
	height int
}

// New creates a browser over the catalog.
func New(cat *catalog.Catalog) Model {
	ti := textinput.New()
	ti.Placeholder = "filter tables"
	ti.Prompt = "/"

	m := Model{
		cat:    cat,
		filter: ti,
		width:  80,
		height: 24,
	}
	m.nodes, m.tables = buildNodes(cat)
	m.refresh()
	return m
}

// Run opens the browser in the alternate screen until the user quits.
func Run(cat *catalog.Catalog) error {
	_, err := tea.NewProgram(New(cat), tea.WithAltScreen()).Run()
	return err
}

// Init returns no initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles key and resize messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ensureVisible()
		return m, nil

	case tea.KeyMsg:
		if m.filtering {
			return m.updateFiltering(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				m.ensureVisible()
			}
		case "down", "j":
			if m.cursor < len(m.flat)-1 {
				m.cursor++
				m.ensureVisible()
			}
		case "enter", "right", "l", " ":
			m.toggle()
		case "left", "h":
			if m.cursor < len(m.flat) && m.flat[m.cursor].expanded {
				m.flat[m.cursor].expanded = false
				m.refresh()
			}
		case "home", "g":
			m.cursor = 0
			m.offset = 0
		case "end", "G":
			m.cursor = len(m.flat) - 1
			m.ensureVisible()
		case "/":
			m.filtering = true
			m.filter.Focus()
			return m, textinput.Blink
		}
	}
	return m, nil
}

func (m Model) updateFiltering(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.filtering = false
		m.filter.Blur()
		m.filter.SetValue("")
		m.refresh()
		return m, nil
	case "enter":
		m.filtering = false
		m.filter.Blur()
		return m, nil
	case "ctrl+c":
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.refresh()
	return m, cmd
}

func (m *Model) toggle() {
	if m.cursor >= len(m.flat) {
		return
	}
	n := m.flat[m.cursor]
	if len(n.children) > 0 {
		n.expanded = !n.expanded
		m.refresh()
	}
}

// refresh recomputes the visible rows from the tree and the filter.
func (m *Model) refresh() {
	query := m.filter.Value()
	if query == "" {
		m.flat = nil
		for _, n := range m.nodes {
			m.flattenNode(n)
		}
	} else {
		m.flat = nil
		for _, n := range fuzzyFilter(query, m.tables) {
			m.flattenNode(n)
		}
	}
	if m.cursor >= len(m.flat) {
		m.cursor = len(m.flat) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	m.ensureVisible()
}

func (m *Model) flattenNode(n *node) {
	m.flat = append(m.flat, n)
	if n.expanded {
		for _, c := range n.children {
			m.flattenNode(c)
		}
	}
}

func (m *Model) ensureVisible() {
	contentHeight := m.height - 2
	if contentHeight < 1 {
		contentHeight = 1
	}
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+contentHeight {
		m.offset = m.cursor - contentHeight + 1
	}
}

// View renders the browser.
func (m Model) View() string {
	title := titleStyle.Render(fmt.Sprintf(" %s — %d tables, %d views ",
		m.cat.Name, m.cat.TableCount(), m.cat.ViewCount()))

	header := title
	if m.filtering || m.filter.Value() != "" {
		header += "\n" + m.filter.View()
	}

	contentHeight := m.height - 1 - strings.Count(header, "\n")
	if contentHeight < 1 {
		contentHeight = 1
	}

	var lines []string
	end := m.offset + contentHeight
	if end > len(m.flat) {
		end = len(m.flat)
	}
	for i := m.offset; i < end; i++ {
		lines = append(lines, m.renderNode(m.flat[i], i == m.cursor))
	}
	if len(m.flat) == 0 {
		lines = append(lines, "  no matches")
	}

	return header + "\n" + strings.Join(lines, "\n")
}

func (m Model) renderNode(n *node, selected bool) string {
	indent := strings.Repeat("  ", n.depth)

	marker := "  "
	if len(n.children) > 0 {
		if n.expanded {
			marker = "▼ "
		} else {
			marker = "▶ "
		}
	}

	line := indent + marker + n.label
	if len(line) > m.width && m.width > 1 {
		line = line[:m.width-1] + "…"
	}

	if selected {
		return selectedStyle.Render(line)
	}
	switch n.kind {
	case nodeSchema:
		return schemaStyle.Render(line)
	case nodeTable:
		return tableStyle.Render(line)
	case nodeView:
		return viewStyle.Render(line)
	default:
		return leafStyle.Render(line)
	}
}

// buildNodes builds the tree and collects the table/view nodes for
// filtering. Schemas are expanded when there is only one, or for the
// conventional default namespace.
func buildNodes(cat *catalog.Catalog) (roots, tables []*node) {
	schemas := cat.Schemas()
	for _, s := range schemas {
		sn := &node{
			label:    s.Name,
			kind:     nodeSchema,
			expanded: len(schemas) == 1 || s.Name == "public",
		}
		for _, t := range s.Tables() {
			tn := tableNode(t, nodeTable, 1)
			sn.children = append(sn.children, tn)
			tables = append(tables, tn)
		}
		for _, v := range s.Views() {
			vn := tableNode(v, nodeView, 1)
			sn.children = append(sn.children, vn)
			tables = append(tables, vn)
		}
		roots = append(roots, sn)
	}
	return roots, tables
}

func tableNode(t *catalog.Table, kind nodeKind, depth int) *node {
	tn := &node{
		label:     t.Name,
		kind:      kind,
		depth:     depth,
		qualified: t.QualifiedName(),
	}
	for _, c := range t.Columns {
		label := c.Name + " " + render.TypeString(c)
		if !c.Nullable {
			label += " not null"
		}
		tn.children = append(tn.children, &node{
			label: label,
			kind:  nodeColumn,
			depth: depth + 1,
		})
	}
	for _, ix := range t.Indexes() {
		label := "index " + ix.Name
		if ix.Primary {
			label += " (primary)"
		} else if ix.Unique {
			label += " (unique)"
		}
		tn.children = append(tn.children, &node{
			label: label,
			kind:  nodeIndex,
			depth: depth + 1,
		})
	}
	for _, fk := range t.ForeignKeys {
		tn.children = append(tn.children, &node{
			label: fmt.Sprintf("fkey %s -> %s", fk.Name, fk.RefTable.QualifiedName()),
			kind:  nodeFKey,
			depth: depth + 1,
		})
	}
	return tn
}

// tableLabels implements fuzzy.Source over qualified table names.
type tableLabels []*node

func (t tableLabels) String(i int) string { return strings.ToLower(t[i].qualified) }
func (t tableLabels) Len() int            { return len(t) }

// fuzzyFilter returns the table nodes matching the query, best first.
func fuzzyFilter(query string, tables []*node) []*node {
	matches := fuzzy.FindFrom(strings.ToLower(query), tableLabels(tables))
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	out := make([]*node, 0, len(matches))
	for _, match := range matches {
		out = append(out, tables[match.Index])
	}
	return out
}
