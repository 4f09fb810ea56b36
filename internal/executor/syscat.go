package executor

import (
	"strings"

	"github.com/tuannm99/novapg/internal/catalog"
	"github.com/tuannm99/novapg/internal/sql"
)

// System catalogs are synthesized from the schema catalog on every
// read; they have no storage and accept no writes.

func isSystemRelation(name string) bool {
	return strings.HasPrefix(name, "pg_") || strings.HasPrefix(name, "information_schema.")
}

func textCol(name string) colBinding {
	return colBinding{name: name, typ: sql.DataType{Name: sql.TypeText}}
}

func intCol(name string) colBinding {
	return colBinding{name: name, typ: sql.DataType{Name: sql.TypeInteger}}
}

func boolCol(name string) colBinding {
	return colBinding{name: name, typ: sql.DataType{Name: sql.TypeBoolean}}
}

// systemRelation materializes one system catalog. The bool result
// reports whether the name is a system relation at all.
func (e *Executor) systemRelation(sess *Session, name string) ([]colBinding, [][]sql.Value, bool, error) {
	if !isSystemRelation(name) {
		return nil, nil, false, nil
	}
	cat := e.db.Catalog()

	switch name {
	case "pg_class":
		cols := []colBinding{textCol("relname"), textCol("relkind"), textCol("relowner"), intCol("relpages")}
		var rows [][]sql.Value
		for _, t := range cat.Tables() {
			tbl, err := e.db.Heap(t.Name)
			pages := int64(0)
			if err == nil {
				pages = int64(tbl.PageCount())
			}
			rows = append(rows, []sql.Value{
				sql.NewText(t.Name), sql.NewText("r"), sql.NewText(t.Owner), sql.NewInt(pages),
			})
			for _, ix := range t.Indexes {
				rows = append(rows, []sql.Value{
					sql.NewText(ix.Name), sql.NewText("i"), sql.NewText(t.Owner), sql.NewInt(0),
				})
			}
		}
		for _, v := range cat.Views() {
			rows = append(rows, []sql.Value{
				sql.NewText(v.Name), sql.NewText("v"), sql.NewText(v.Owner), sql.NewInt(0),
			})
		}
		return cols, rows, true, nil

	case "pg_attribute":
		cols := []colBinding{textCol("attrelid"), textCol("attname"), textCol("atttypid"), intCol("attnum"), boolCol("attnotnull")}
		var rows [][]sql.Value
		for _, t := range cat.Tables() {
			for i, c := range t.Columns {
				rows = append(rows, []sql.Value{
					sql.NewText(t.Name), sql.NewText(c.Name), sql.NewText(c.Type.String()),
					sql.NewInt(int64(i + 1)), sql.NewBool(!c.Nullable),
				})
			}
		}
		return cols, rows, true, nil

	case "pg_index":
		cols := []colBinding{textCol("indexname"), textCol("tablename"), textCol("indcolumns"), textCol("indmethod"), boolCol("indisunique")}
		var rows [][]sql.Value
		for _, t := range cat.Tables() {
			for _, ix := range t.Indexes {
				rows = append(rows, []sql.Value{
					sql.NewText(ix.Name), sql.NewText(ix.Table),
					sql.NewText(strings.Join(ix.Columns, ", ")),
					sql.NewText(string(ix.Kind)), sql.NewBool(ix.Unique),
				})
			}
		}
		return cols, rows, true, nil

	case "pg_type":
		cols := []colBinding{textCol("typname"), textCol("typtype")}
		rows := [][]sql.Value{}
		for _, n := range []string{
			"smallint", "integer", "real", "numeric", "text", "character varying",
			"character", "boolean", "date", "timestamp", "timestamptz", "uuid",
			"json", "jsonb", "bytea",
		} {
			rows = append(rows, []sql.Value{sql.NewText(n), sql.NewText("b")})
		}
		for n := range cat.Enums() {
			rows = append(rows, []sql.Value{sql.NewText(n), sql.NewText("e")})
		}
		return cols, rows, true, nil

	case "pg_namespace":
		cols := []colBinding{textCol("nspname")}
		rows := [][]sql.Value{
			{sql.NewText("pg_catalog")},
			{sql.NewText("public")},
			{sql.NewText("information_schema")},
		}
		return cols, rows, true, nil

	case "pg_roles":
		cols := []colBinding{textCol("rolname"), boolCol("rolsuper"), boolCol("rolcanlogin")}
		var rows [][]sql.Value
		for _, r := range cat.Roles() {
			rows = append(rows, []sql.Value{
				sql.NewText(r.Name), sql.NewBool(r.Superuser), sql.NewBool(r.Login),
			})
		}
		return cols, rows, true, nil

	case "pg_auth_members":
		cols := []colBinding{textCol("roleid"), textCol("member")}
		var rows [][]sql.Value
		for _, r := range cat.Roles() {
			for _, g := range r.MemberOf {
				rows = append(rows, []sql.Value{sql.NewText(g), sql.NewText(r.Name)})
			}
		}
		return cols, rows, true, nil

	case "pg_tables":
		cols := []colBinding{textCol("schemaname"), textCol("tablename"), textCol("tableowner")}
		var rows [][]sql.Value
		for _, t := range cat.Tables() {
			rows = append(rows, []sql.Value{
				sql.NewText("public"), sql.NewText(t.Name), sql.NewText(t.Owner),
			})
		}
		return cols, rows, true, nil

	case "information_schema.tables":
		cols := []colBinding{textCol("table_catalog"), textCol("table_schema"), textCol("table_name"), textCol("table_type")}
		var rows [][]sql.Value
		for _, t := range cat.Tables() {
			rows = append(rows, []sql.Value{
				sql.NewText(sess.Database), sql.NewText("public"),
				sql.NewText(t.Name), sql.NewText("BASE TABLE"),
			})
		}
		for _, v := range cat.Views() {
			rows = append(rows, []sql.Value{
				sql.NewText(sess.Database), sql.NewText("public"),
				sql.NewText(v.Name), sql.NewText("VIEW"),
			})
		}
		return cols, rows, true, nil

	case "information_schema.columns":
		cols := []colBinding{
			textCol("table_schema"), textCol("table_name"), textCol("column_name"),
			intCol("ordinal_position"), textCol("data_type"), textCol("is_nullable"),
		}
		var rows [][]sql.Value
		for _, t := range cat.Tables() {
			for i, c := range t.Columns {
				nullable := "YES"
				if !c.Nullable {
					nullable = "NO"
				}
				rows = append(rows, []sql.Value{
					sql.NewText("public"), sql.NewText(t.Name), sql.NewText(c.Name),
					sql.NewInt(int64(i + 1)), sql.NewText(c.Type.String()), sql.NewText(nullable),
				})
			}
		}
		return cols, rows, true, nil

	case "information_schema.table_privileges":
		cols := []colBinding{textCol("grantee"), textCol("table_name"), textCol("privilege_type")}
		var rows [][]sql.Value
		for _, p := range cat.Privileges() {
			for _, priv := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
				if p.Privileges[catalog.Privilege(priv)] {
					rows = append(rows, []sql.Value{
						sql.NewText(p.Role), sql.NewText(p.Table), sql.NewText(priv),
					})
				}
			}
		}
		return cols, rows, true, nil
	}
	return nil, nil, true, &unknownRelationError{name: name}
}

type unknownRelationError struct{ name string }

func (e *unknownRelationError) Error() string {
	return "relation \"" + e.name + "\" does not exist"
}
