// Package repo is the SQLite persistence of eTraxis. A Repo either runs on the
// database directly or, after WithTx, inside the caller's transaction.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"etraxis/internal/domain"
)

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB *sql.DB
	tx *sql.Tx
}

// WithTx returns a copy of the repository bound to tx.
func (r Repo) WithTx(tx *sql.Tx) Repo {
	return Repo{DB: r.DB, tx: tx}
}

func (r Repo) q() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

func (r Repo) insert(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.q().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// mustAffect turns an update or delete of no rows into ErrNotFound.
func mustAffect(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func collectInt64(rows *sql.Rows, err error) ([]int64, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) (int64, error) {
	if u.Locale == "" {
		u.Locale = "en"
	}
	if u.Timezone == "" {
		u.Timezone = "UTC"
	}
	return r.insert(ctx, `INSERT INTO users(email,fullname,locale,timezone,disabled) VALUES (?,?,?,?,?)`,
		u.Email, u.Fullname, u.Locale, u.Timezone, u.Disabled)
}

const userColumns = `id,email,fullname,locale,timezone,disabled`

func scanUser(s interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	err := s.Scan(&u.ID, &u.Email, &u.Fullname, &u.Locale, &u.Timezone, &u.Disabled)
	return u, err
}

func (r Repo) User(ctx context.Context, id int64) (domain.User, error) {
	u, err := scanUser(r.q().QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
	return u, notFound(err)
}

func (r Repo) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	u, err := scanUser(r.q().QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email))
	return u, notFound(err)
}

func (r Repo) Users(ctx context.Context) ([]domain.User, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY fullname, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) (int64, error) {
	return r.insert(ctx, `INSERT INTO projects(name,description,suspended,created_at) VALUES (?,?,?,?)`,
		p.Name, nullable(p.Description), p.Suspended, p.CreatedAt)
}

func (r Repo) Project(ctx context.Context, id int64) (domain.Project, error) {
	var p domain.Project
	err := r.q().QueryRowContext(ctx, `SELECT id,name,COALESCE(description,''),suspended,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.Suspended, &p.CreatedAt)
	return p, notFound(err)
}

func (r Repo) InsertGroup(ctx context.Context, g domain.Group) (int64, error) {
	return r.insert(ctx, `INSERT INTO groups(project_id,name,description) VALUES (?,?,?)`,
		nullableInt(g.ProjectID), g.Name, nullable(g.Description))
}

func (r Repo) AddMember(ctx context.Context, groupID, userID int64) error {
	_, err := r.q().ExecContext(ctx, `INSERT OR IGNORE INTO memberships(group_id,user_id) VALUES (?,?)`, groupID, userID)
	return err
}

func (r Repo) RemoveMember(ctx context.Context, groupID, userID int64) error {
	_, err := r.q().ExecContext(ctx, `DELETE FROM memberships WHERE group_id=? AND user_id=?`, groupID, userID)
	return err
}

// UserGroups returns the ids of the groups the user belongs to.
func (r Repo) UserGroups(ctx context.Context, userID int64) ([]int64, error) {
	return collectInt64(r.q().QueryContext(ctx, `SELECT group_id FROM memberships WHERE user_id=? ORDER BY group_id`, userID))
}

func (r Repo) InsertTemplate(ctx context.Context, t domain.Template) (int64, error) {
	var frozen any
	if t.FrozenTime != nil {
		frozen = *t.FrozenTime
	}
	return r.insert(ctx, `INSERT INTO templates(project_id,name,prefix,description,locked,frozen_time) VALUES (?,?,?,?,?,?)`,
		t.ProjectID, t.Name, t.Prefix, nullable(t.Description), t.Locked, frozen)
}

func (r Repo) Template(ctx context.Context, id int64) (domain.Template, error) {
	var t domain.Template
	var frozen sql.NullInt64
	err := r.q().QueryRowContext(ctx, `SELECT id,project_id,name,prefix,COALESCE(description,''),locked,frozen_time FROM templates WHERE id=?`, id).
		Scan(&t.ID, &t.ProjectID, &t.Name, &t.Prefix, &t.Description, &t.Locked, &frozen)
	if err != nil {
		return t, notFound(err)
	}
	if frozen.Valid {
		days := int(frozen.Int64)
		t.FrozenTime = &days
	}
	return t, nil
}

func (r Repo) SetUserDisabled(ctx context.Context, id int64, disabled bool) error {
	return mustAffect(r.q().ExecContext(ctx, `UPDATE users SET disabled=? WHERE id=?`, disabled, id))
}

func (r Repo) Group(ctx context.Context, id int64) (domain.Group, error) {
	var g domain.Group
	var project sql.NullInt64
	err := r.q().QueryRowContext(ctx, `SELECT id,project_id,name,COALESCE(description,'') FROM groups WHERE id=?`, id).
		Scan(&g.ID, &project, &g.Name, &g.Description)
	g.ProjectID = intPtr(project)
	return g, notFound(err)
}
