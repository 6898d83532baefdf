// Package render turns a reflected catalog into text: an indented tree for
// the terminal or a YAML document for machine consumption.
package render

import (
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/sadopc/pgreflect/internal/catalog"
)

// Options controls tree rendering.
type Options struct {
	// Color enables lipgloss styling and SQL highlighting.
	Color bool

	// Definitions includes full index and constraint definition text.
	Definitions bool
}

var (
	schemaStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#569CD6"))
	tableStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4EC9B0"))
	viewStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#C586C0"))
	typeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
	flagStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#D7BA7D"))
)

// Tree renders the catalog as an indented tree.
func Tree(cat *catalog.Catalog, opts Options) string {
	var b strings.Builder
	style := func(s lipgloss.Style, text string) string {
		if opts.Color {
			return s.Render(text)
		}
		return text
	}
	var hl *highlighter
	if opts.Color {
		hl = newHighlighter()
	}

	fmt.Fprintf(&b, "database %s\n", cat.Name)
	for _, s := range cat.Schemas() {
		fmt.Fprintf(&b, "  schema %s\n", style(schemaStyle, s.Name))

		for _, t := range s.Tables() {
			fmt.Fprintf(&b, "    table %s\n", style(tableStyle, t.Name))
			writeColumns(&b, t, style)
			for _, ix := range t.Indexes() {
				flags := indexFlags(ix)
				fmt.Fprintf(&b, "      index %s%s\n", ix.Name, style(flagStyle, flags))
				if opts.Definitions && ix.Definition != "" {
					fmt.Fprintf(&b, "        %s\n", maybeHighlight(hl, ix.Definition))
				}
			}
			for _, fk := range t.ForeignKeys {
				fmt.Fprintf(&b, "      fkey %s -> %s (%s -> %s)\n",
					fk.Name, fk.RefTable.QualifiedName(),
					strings.Join(fk.Columns, ", "), strings.Join(fk.RefColumns, ", "))
				if opts.Definitions && fk.Definition != "" {
					fmt.Fprintf(&b, "        %s\n", maybeHighlight(hl, fk.Definition))
				}
			}
		}

		for _, v := range s.Views() {
			fmt.Fprintf(&b, "    view %s\n", style(viewStyle, v.Name))
			writeColumns(&b, v, style)
		}
	}
	return b.String()
}

func writeColumns(b *strings.Builder, t *catalog.Table, style func(lipgloss.Style, string) string) {
	for _, c := range t.Columns {
		line := "      " + c.Name + " " + style(typeStyle, TypeString(c))
		if !c.Nullable {
			line += style(flagStyle, " not null")
		}
		if c.Default != "" {
			line += " default " + c.Default
		}
		b.WriteString(line + "\n")
	}
}

func indexFlags(ix *catalog.Index) string {
	switch {
	case ix.Primary:
		return " (primary)"
	case ix.Unique:
		return " (unique)"
	}
	return ""
}

// TypeString formats a column's declared type with its modifier, e.g.
// "varchar(120)".
func TypeString(c catalog.Column) string {
	if c.TypeMod == catalog.NoTypeMod {
		return c.TypeName
	}
	return fmt.Sprintf("%s(%d)", c.TypeName, c.TypeMod)
}

// YAML renders the catalog as a YAML document.
func YAML(cat *catalog.Catalog) ([]byte, error) {
	d := doc{Database: cat.Name}
	for _, s := range cat.Schemas() {
		sd := schemaDoc{Name: s.Name}
		for _, t := range s.Tables() {
			sd.Tables = append(sd.Tables, tableToDoc(t))
		}
		for _, v := range s.Views() {
			sd.Views = append(sd.Views, tableToDoc(v))
		}
		d.Schemas = append(d.Schemas, sd)
	}
	return yaml.Marshal(d)
}

type doc struct {
	Database string      `yaml:"database"`
	Schemas  []schemaDoc `yaml:"schemas"`
}

type schemaDoc struct {
	Name   string     `yaml:"name"`
	Tables []tableDoc `yaml:"tables,omitempty"`
	Views  []tableDoc `yaml:"views,omitempty"`
}

type tableDoc struct {
	Name        string      `yaml:"name"`
	Columns     []columnDoc `yaml:"columns"`
	Indexes     []indexDoc  `yaml:"indexes,omitempty"`
	ForeignKeys []fkDoc     `yaml:"foreign_keys,omitempty"`
}

type columnDoc struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable"`
	Default  string `yaml:"default,omitempty"`
}

type indexDoc struct {
	Name       string `yaml:"name"`
	Primary    bool   `yaml:"primary,omitempty"`
	Unique     bool   `yaml:"unique,omitempty"`
	Definition string `yaml:"definition"`
	Constraint string `yaml:"constraint,omitempty"`
}

type fkDoc struct {
	Name       string   `yaml:"name"`
	Columns    []string `yaml:"columns"`
	References string   `yaml:"references"`
	RefColumns []string `yaml:"ref_columns"`
	OnUpdate   string   `yaml:"on_update,omitempty"`
	OnDelete   string   `yaml:"on_delete,omitempty"`
	Match      string   `yaml:"match,omitempty"`
	Deferrable bool     `yaml:"deferrable,omitempty"`
}

func tableToDoc(t *catalog.Table) tableDoc {
	td := tableDoc{Name: t.Name}
	for _, c := range t.Columns {
		td.Columns = append(td.Columns, columnDoc{
			Name:     c.Name,
			Type:     TypeString(c),
			Nullable: c.Nullable,
			Default:  c.Default,
		})
	}
	for _, ix := range t.Indexes() {
		td.Indexes = append(td.Indexes, indexDoc{
			Name:       ix.Name,
			Primary:    ix.Primary,
			Unique:     ix.Unique,
			Definition: ix.Definition,
			Constraint: ix.ConstraintName,
		})
	}
	for _, fk := range t.ForeignKeys {
		td.ForeignKeys = append(td.ForeignKeys, fkDoc{
			Name:       fk.Name,
			Columns:    fk.Columns,
			References: fk.RefTable.QualifiedName(),
			RefColumns: fk.RefColumns,
			OnUpdate:   fk.UpdateRule,
			OnDelete:   fk.DeleteRule,
			Match:      fk.MatchRule,
			Deferrable: fk.Deferrable,
		})
	}
	return td
}

// highlighter tokenises SQL definition text with chroma and styles it with
// lipgloss.
type highlighter struct {
	lexer chroma.Lexer
}

func newHighlighter() *highlighter {
	l := lexers.Get("PostgreSQL")
	if l == nil {
		l = lexers.Get("SQL")
	}
	if l == nil {
		l = lexers.Fallback
	}
	return &highlighter{lexer: chroma.Coalesce(l)}
}

var (
	hlKeyword = lipgloss.NewStyle().Foreground(lipgloss.Color("#C586C0")).Bold(true)
	hlString  = lipgloss.NewStyle().Foreground(lipgloss.Color("#CE9178"))
	hlNumber  = lipgloss.NewStyle().Foreground(lipgloss.Color("#B5CEA8"))
	hlComment = lipgloss.NewStyle().Foreground(lipgloss.Color("#6A9955"))
)

func maybeHighlight(h *highlighter, sql string) string {
	if h == nil {
		return sql
	}
	return h.highlight(sql)
}

func (h *highlighter) highlight(sql string) string {
	iter, err := h.lexer.Tokenise(nil, sql)
	if err != nil {
		return sql
	}

	var b strings.Builder
	b.Grow(len(sql) * 2)
	for _, tok := range iter.Tokens() {
		if tok.Value == "" {
			continue
		}
		switch {
		case tok.Type.Category() == chroma.Keyword:
			b.WriteString(hlKeyword.Render(tok.Value))
		case tok.Type.SubCategory() == chroma.LiteralString:
			b.WriteString(hlString.Render(tok.Value))
		case tok.Type.SubCategory() == chroma.LiteralNumber:
			b.WriteString(hlNumber.Render(tok.Value))
		case tok.Type.Category() == chroma.Comment:
			b.WriteString(hlComment.Render(tok.Value))
		default:
			b.WriteString(tok.Value)
		}
	}
	return b.String()
}
