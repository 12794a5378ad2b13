package repos

import (
	"context"

	"rentdesk/internal/domain"

	"github.com/jmoiron/sqlx"
)

type AuthorityRepo struct{ DB *sqlx.DB }

func NewAuthorityRepo(db *sqlx.DB) *AuthorityRepo { return &AuthorityRepo{DB: db} }

func (r *AuthorityRepo) ByID(ctx context.Context, id int64) (*domain.Authority, error) {
	var a domain.Authority
	err := r.DB.GetContext(ctx, &a, `SELECT id,name,key_hash FROM authorities WHERE id=?`, id)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AuthorityRepo) BindSession(ctx context.Context, sid string, authorityID int64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sessions(id,authority_id,last_seen)
                          VALUES(?,?,CURRENT_TIMESTAMP)
                          ON CONFLICT(id) DO UPDATE SET authority_id=excluded.authority_id,last_seen=CURRENT_TIMESTAMP`, sid, authorityID)
	return classify("bind session", err)
}

// SessionAuthority resolves the authority bound to a console session.
func (r *AuthorityRepo) SessionAuthority(ctx context.Context, sid string) (*domain.Authority, error) {
	var a domain.Authority
	err := r.DB.GetContext(ctx, &a, `
      SELECT a.id,a.name,a.key_hash
      FROM sessions s
      JOIN authorities a ON a.id=s.authority_id
      WHERE s.id=?`, sid)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AuthorityRepo) UnbindSession(ctx context.Context, sid string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE sessions SET authority_id=NULL,last_seen=CURRENT_TIMESTAMP WHERE id=?`, sid)
	return classify("unbind session", err)
}
