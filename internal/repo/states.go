package repo

import (
	"context"

	"etraxis/internal/domain"
)

func (r Repo) InsertState(ctx context.Context, s domain.State) (int64, error) {
	if s.Responsible == "" {
		s.Responsible = domain.ResponsibleRemove
	}
	return r.insert(ctx, `INSERT INTO states(template_id,name,type,responsible) VALUES (?,?,?,?)`,
		s.TemplateID, s.Name, s.Type, s.Responsible)
}

const stateColumns = `id,template_id,name,type,responsible`

func scanState(s interface{ Scan(...any) error }) (domain.State, error) {
	var st domain.State
	err := s.Scan(&st.ID, &st.TemplateID, &st.Name, &st.Type, &st.Responsible)
	return st, err
}

func (r Repo) State(ctx context.Context, id int64) (domain.State, error) {
	st, err := scanState(r.q().QueryRowContext(ctx, `SELECT `+stateColumns+` FROM states WHERE id=?`, id))
	return st, notFound(err)
}

// States returns the states of a template ordered by id.
func (r Repo) States(ctx context.Context, templateID int64) ([]domain.State, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+stateColumns+` FROM states WHERE template_id=? ORDER BY id`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// InitialState returns the template's initial state.
func (r Repo) InitialState(ctx context.Context, templateID int64) (domain.State, error) {
	st, err := scanState(r.q().QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM states WHERE template_id=? AND type=? LIMIT 1`, templateID, domain.StateTypeInitial))
	return st, notFound(err)
}

func (r Repo) UpdateStateType(ctx context.Context, id int64, t domain.StateType) error {
	return mustAffect(r.q().ExecContext(ctx, `UPDATE states SET type=? WHERE id=?`, t, id))
}
