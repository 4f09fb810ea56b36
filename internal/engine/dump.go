package engine

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/tuannm99/novapg/internal/catalog"
	"github.com/tuannm99/novapg/internal/heap"
	"github.com/tuannm99/novapg/internal/sql"
)

// DumpSQL writes the database as executable SQL: enums, tables,
// secondary indexes and views, then the committed rows as INSERT
// statements. Tables are ordered so foreign-key targets come before
// their referrers and the output restores cleanly.
func (e *Engine) DumpSQL(w io.Writer, schemaOnly, dataOnly bool) error {
	fmt.Fprintf(w, "--\n-- novapg database dump\n-- Database: %s\n--\n\n", e.cat.DatabaseName())

	tables := e.dumpOrder()
	if !dataOnly {
		if err := e.dumpSchema(w, tables); err != nil {
			return err
		}
	}
	if !schemaOnly {
		if err := e.dumpData(w, tables); err != nil {
			return err
		}
	}
	return nil
}

// dumpOrder sorts tables so every foreign-key target precedes its
// referrers; ties and cycles fall back to name order.
func (e *Engine) dumpOrder() []*catalog.TableMeta {
	tables := e.cat.Tables()
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })

	var ordered []*catalog.TableMeta
	emitted := map[string]bool{}
	for len(ordered) < len(tables) {
		progress := false
		for _, t := range tables {
			if emitted[t.Name] {
				continue
			}
			ready := true
			for _, col := range t.Columns {
				if fk := col.ForeignKey; fk != nil && fk.Table != t.Name && !emitted[fk.Table] {
					ready = false
					break
				}
			}
			if ready {
				ordered = append(ordered, t)
				emitted[t.Name] = true
				progress = true
			}
		}
		if !progress {
			// reference cycle: emit the rest in name order
			for _, t := range tables {
				if !emitted[t.Name] {
					ordered = append(ordered, t)
					emitted[t.Name] = true
				}
			}
		}
	}
	return ordered
}

func (e *Engine) dumpSchema(w io.Writer, tables []*catalog.TableMeta) error {
	enums := e.cat.Enums()
	if len(enums) > 0 {
		names := make([]string, 0, len(enums))
		for n := range enums {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			labels := make([]string, len(enums[n]))
			for i, l := range enums[n] {
				labels[i] = "'" + strings.ReplaceAll(l, "'", "''") + "'"
			}
			fmt.Fprintf(w, "CREATE TYPE %s AS ENUM (%s);\n", n, strings.Join(labels, ", "))
		}
		fmt.Fprintln(w)
	}

	for _, t := range tables {
		defs := make([]string, len(t.Columns))
		for i, col := range t.Columns {
			defs[i] = "    " + columnDef(col)
		}
		fmt.Fprintf(w, "CREATE TABLE %s (\n%s\n);\n\n", t.Name, strings.Join(defs, ",\n"))
	}

	for _, t := range tables {
		for _, ix := range t.Indexes {
			if ix.Name == t.Name+"_pkey" {
				continue // implied by PRIMARY KEY
			}
			unique := ""
			if ix.Unique {
				unique = "UNIQUE "
			}
			using := ""
			if ix.Kind == catalog.IndexHash {
				using = "USING HASH "
			}
			fmt.Fprintf(w, "CREATE %sINDEX %s ON %s %s(%s);\n",
				unique, ix.Name, ix.Table, using, strings.Join(ix.Columns, ", "))
		}
	}

	views := e.cat.Views()
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	for _, v := range views {
		fmt.Fprintf(w, "CREATE VIEW %s AS %s;\n", v.Name, strings.TrimSuffix(v.Query, ";"))
	}
	if len(views) > 0 {
		fmt.Fprintln(w)
	}
	return nil
}

func columnDef(col sql.Column) string {
	parts := []string{col.Name, col.Type.String()}
	if col.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	} else {
		if col.Unique {
			parts = append(parts, "UNIQUE")
		}
		if !col.Nullable {
			parts = append(parts, "NOT NULL")
		}
	}
	if fk := col.ForeignKey; fk != nil {
		parts = append(parts, fmt.Sprintf("REFERENCES %s(%s)", fk.Table, fk.Column))
	}
	return strings.Join(parts, " ")
}

// dumpData emits one INSERT per committed visible row, reading under a
// fresh snapshot.
func (e *Engine) dumpData(w io.Writer, tables []*catalog.TableMeta) error {
	snap := e.txm.Snapshot()
	for _, t := range tables {
		tbl, err := e.Heap(t.Name)
		if err != nil {
			return err
		}
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c.Name
		}
		err = tbl.Scan(func(_ heap.TID, row sql.Row) error {
			if !snap.RowVisible(row.Xmin, row.Xmax, 0, e.txm) {
				return nil
			}
			vals := make([]string, len(row.Values))
			for i, v := range row.Values {
				vals[i] = sqlLiteral(v)
			}
			fmt.Fprintf(w, "INSERT INTO %s (%s) VALUES (%s);\n",
				t.Name, strings.Join(cols, ", "), strings.Join(vals, ", "))
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// sqlLiteral renders a value as a literal the parser accepts back.
func sqlLiteral(v sql.Value) string {
	switch v.Kind {
	case sql.KindNull:
		return "NULL"
	case sql.KindSmallInt, sql.KindInt, sql.KindReal, sql.KindNumeric:
		return v.String()
	case sql.KindBool:
		if v.B {
			return "TRUE"
		}
		return "FALSE"
	default:
		return "'" + strings.ReplaceAll(v.String(), "'", "''") + "'"
	}
}
