package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"etraxis/internal/fieldtype"
)

var valueTables = map[fieldtype.ValueKind]string{
	fieldtype.KindDecimal: "decimal_values",
	fieldtype.KindString:  "string_values",
	fieldtype.KindText:    "text_values",
}

// contentNamespace seeds the content tokens of interned values.
var contentNamespace = uuid.MustParse("5f0e4a6c-3b1d-4e8a-9c2f-7d6b8a1e0c43")

// ContentToken returns the lookup token of an interned value.
func ContentToken(value string) string {
	return uuid.NewSHA1(contentNamespace, []byte(value)).String()
}

func valueTable(kind fieldtype.ValueKind) (string, error) {
	t, ok := valueTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown value kind %q", kind)
	}
	return t, nil
}

// Intern implements fieldtype.Values. Rows are matched on token and content,
// so two values sharing a token get separate rows.
func (r Repo) Intern(ctx context.Context, kind fieldtype.ValueKind, value string) (int64, error) {
	table, err := valueTable(kind)
	if err != nil {
		return 0, err
	}
	token := ContentToken(value)
	var id int64
	err = r.q().QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE token=? AND value=? LIMIT 1`, token, value).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	return r.insert(ctx, `INSERT INTO `+table+`(token,value) VALUES (?,?)`, token, value)
}

// Lookup implements fieldtype.Values.
func (r Repo) Lookup(ctx context.Context, kind fieldtype.ValueKind, id int64) (string, bool, error) {
	table, err := valueTable(kind)
	if err != nil {
		return "", false, err
	}
	var value string
	err = r.q().QueryRowContext(ctx, `SELECT value FROM `+table+` WHERE id=?`, id).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return value, err == nil, err
}
