package repo

import (
	"context"
	"database/sql"

	"etraxis/internal/domain"
)

const fieldColumns = `id,state_id,name,type,COALESCE(description,''),position,required,parameter1,parameter2,default_value,
COALESCE(pcre_check,''),COALESCE(pcre_search,''),COALESCE(pcre_replace,''),removed_at`

func scanField(s interface{ Scan(...any) error }) (domain.Field, error) {
	var f domain.Field
	var p1, p2, def, removed sql.NullInt64
	err := s.Scan(&f.ID, &f.StateID, &f.Name, &f.Type, &f.Description, &f.Position, &f.Required, &p1, &p2, &def,
		&f.Parameters.PCRE.Check, &f.Parameters.PCRE.Search, &f.Parameters.PCRE.Replace, &removed)
	if err != nil {
		return f, err
	}
	f.Parameters.Parameter1 = intPtr(p1)
	f.Parameters.Parameter2 = intPtr(p2)
	f.Parameters.DefaultValue = intPtr(def)
	f.RemovedAt = intPtr(removed)
	return f, nil
}

func (r Repo) InsertField(ctx context.Context, f domain.Field) (int64, error) {
	p := f.Parameters
	return r.insert(ctx, `INSERT INTO fields(state_id,name,type,description,position,required,parameter1,parameter2,default_value,pcre_check,pcre_search,pcre_replace)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		f.StateID, f.Name, f.Type, nullable(f.Description), f.Position, f.Required,
		nullableInt(p.Parameter1), nullableInt(p.Parameter2), nullableInt(p.DefaultValue),
		nullable(p.PCRE.Check), nullable(p.PCRE.Search), nullable(p.PCRE.Replace))
}

// UpdateField stores everything but the state, type and position.
func (r Repo) UpdateField(ctx context.Context, f domain.Field) error {
	p := f.Parameters
	return mustAffect(r.q().ExecContext(ctx, `UPDATE fields SET name=?, description=?, required=?, parameter1=?, parameter2=?, default_value=?,
pcre_check=?, pcre_search=?, pcre_replace=? WHERE id=?`,
		f.Name, nullable(f.Description), f.Required,
		nullableInt(p.Parameter1), nullableInt(p.Parameter2), nullableInt(p.DefaultValue),
		nullable(p.PCRE.Check), nullable(p.PCRE.Search), nullable(p.PCRE.Replace), f.ID))
}

func (r Repo) Field(ctx context.Context, id int64) (domain.Field, error) {
	f, err := scanField(r.q().QueryRowContext(ctx, `SELECT `+fieldColumns+` FROM fields WHERE id=?`, id))
	return f, notFound(err)
}

// Fields returns the active fields of a state in position order.
func (r Repo) Fields(ctx context.Context, stateID int64) ([]domain.Field, error) {
	return r.fields(ctx, `SELECT `+fieldColumns+` FROM fields WHERE state_id=? AND removed_at IS NULL ORDER BY position`, stateID)
}

// TemplateFields returns the active fields of every state of a template.
func (r Repo) TemplateFields(ctx context.Context, templateID int64) ([]domain.Field, error) {
	return r.fields(ctx, `SELECT `+fieldColumns+` FROM fields
WHERE removed_at IS NULL AND state_id IN (SELECT id FROM states WHERE template_id=?)
ORDER BY state_id, position`, templateID)
}

func (r Repo) fields(ctx context.Context, query string, args ...any) ([]domain.Field, error) {
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) UpdateFieldPosition(ctx context.Context, id int64, position int) error {
	return mustAffect(r.q().ExecContext(ctx, `UPDATE fields SET position=? WHERE id=?`, position, id))
}

// RemoveField soft-deletes the field so that its history stays readable.
func (r Repo) RemoveField(ctx context.Context, id, removedAt int64) error {
	return mustAffect(r.q().ExecContext(ctx, `UPDATE fields SET removed_at=? WHERE id=? AND removed_at IS NULL`, removedAt, id))
}

func (r Repo) InsertListItem(ctx context.Context, it domain.ListItem) (int64, error) {
	return r.insert(ctx, `INSERT INTO list_items(field_id,value,text) VALUES (?,?,?)`, it.FieldID, it.Value, it.Text)
}

// ListItem implements fieldtype.ListItems.
func (r Repo) ListItem(ctx context.Context, id int64) (domain.ListItem, bool, error) {
	return r.listItem(ctx, `SELECT id,field_id,value,text FROM list_items WHERE id=?`, id)
}

// ListItemByValue implements fieldtype.ListItems.
func (r Repo) ListItemByValue(ctx context.Context, fieldID, value int64) (domain.ListItem, bool, error) {
	return r.listItem(ctx, `SELECT id,field_id,value,text FROM list_items WHERE field_id=? AND value=?`, fieldID, value)
}

func (r Repo) listItem(ctx context.Context, query string, args ...any) (domain.ListItem, bool, error) {
	var it domain.ListItem
	err := r.q().QueryRowContext(ctx, query, args...).Scan(&it.ID, &it.FieldID, &it.Value, &it.Text)
	if err == sql.ErrNoRows {
		return it, false, nil
	}
	return it, err == nil, err
}

func (r Repo) ListItems(ctx context.Context, fieldID int64) ([]domain.ListItem, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT id,field_id,value,text FROM list_items WHERE field_id=? ORDER BY value`, fieldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ListItem
	for rows.Next() {
		var it domain.ListItem
		if err := rows.Scan(&it.ID, &it.FieldID, &it.Value, &it.Text); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}
