package repo

import (
	"context"
	"database/sql"

	"lrs/internal/domain"
	"lrs/internal/errors"
)

// InsertAgent creates the agent row for key unless it already exists and
// reports whether this call created it.
func (r Repo) InsertAgent(ctx context.Context, tx *sql.Tx, key string, a domain.Agent, createdAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO agents(identity_key,object_type,name,mbox,mbox_sha1sum,openid,created_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(identity_key) DO NOTHING`,
		key, a.TypeName(), nullable(a.Name), nullable(a.Mbox), nullable(a.MboxSHA1Sum), nullable(a.OpenID), createdAt)
	if err != nil {
		return false, errors.Wrap(err, "insert agent")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) AgentIDByKey(ctx context.Context, q DBTX, key string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM agents WHERE identity_key=?`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// AgentIDByAccount finds the agent or group bound to an account. Agents and
// groups bind accounts independently, as they do every other identifier.
func (r Repo) AgentIDByAccount(ctx context.Context, q DBTX, objectType, homePage, name string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT agent_id FROM agent_accounts WHERE home_page=? AND name=? AND object_type=?`,
		homePage, name, objectType).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// BindAccount attaches an account to an agent. Existing bindings are kept.
func (r Repo) BindAccount(ctx context.Context, tx *sql.Tx, agentID int64, objectType string, acct domain.Account) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agent_accounts(agent_id,object_type,home_page,name) VALUES (?,?,?,?) ON CONFLICT DO NOTHING`,
		agentID, objectType, acct.HomePage, acct.Name)
	return errors.Wrap(err, "bind account")
}

// AddGroupMember appends memberID to the group's ordered member list unless
// it is already a member.
func (r Repo) AddGroupMember(ctx context.Context, tx *sql.Tx, groupID, memberID int64) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO group_members(group_id,member_id,position)
SELECT ?, ?, COALESCE(MAX(position)+1, 0) FROM group_members WHERE group_id=?`, groupID, memberID, groupID)
	return errors.Wrap(err, "add group member")
}

func (r Repo) GroupMemberIDs(ctx context.Context, q DBTX, groupID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT member_id FROM group_members WHERE group_id=? ORDER BY position`, groupID)
	if err != nil {
		return nil, errors.Wrap(err, "list group members")
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetAgent loads an agent with its account binding and, for groups, its
// members in order.
func (r Repo) GetAgent(ctx context.Context, q DBTX, id int64) (domain.Agent, error) {
	var a domain.Agent
	var name, mbox, sha, openid sql.NullString
	err := q.QueryRowContext(ctx, `SELECT object_type,name,mbox,mbox_sha1sum,openid FROM agents WHERE id=?`, id).
		Scan(&a.ObjectType, &name, &mbox, &sha, &openid)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Agent{}, ErrNotFound
	}
	if err != nil {
		return domain.Agent{}, errors.Wrap(err, "get agent")
	}
	a.Name, a.Mbox, a.MboxSHA1Sum, a.OpenID = name.String, mbox.String, sha.String, openid.String
	var acct domain.Account
	err = q.QueryRowContext(ctx, `SELECT home_page,name FROM agent_accounts WHERE agent_id=?`, id).Scan(&acct.HomePage, &acct.Name)
	switch {
	case err == nil:
		a.Account = &acct
	case !errors.Is(err, sql.ErrNoRows):
		return domain.Agent{}, errors.Wrap(err, "get agent account")
	}
	if a.IsGroup() {
		memberIDs, err := r.GroupMemberIDs(ctx, q, id)
		if err != nil {
			return domain.Agent{}, err
		}
		for _, mid := range memberIDs {
			m, err := r.GetAgent(ctx, q, mid)
			if err != nil {
				return domain.Agent{}, err
			}
			a.Member = append(a.Member, m)
		}
	}
	return a, nil
}

func (r Repo) DeleteAgent(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id=?`, id)
	return errors.Wrap(err, "delete agent")
}
