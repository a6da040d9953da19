package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/pairchat/pairchat/wire"
)

// Both supported drivers use `?` placeholders, so the whole query surface
// is shared; only open/schema/upsert differ per dialect.
const (
	getUserSQL = "SELECT username, last_seen FROM users WHERE username = ?"

	insertMessageSQL = "INSERT INTO messages " +
		"(sender, receiver, body, tag, create_time, read_state, reactions, edited, edit_time, deleted, deleted_by) " +
		"VALUES (?,?,?,?,?,?,?,?,?,?,?)"
	getMessageSQL = "SELECT id, sender, receiver, body, tag, create_time, read_state, reactions, edited, edit_time, deleted, deleted_by " +
		"FROM messages WHERE id = ?"
	saveMessageSQL = "UPDATE messages " +
		"SET body=?, read_state=?, reactions=?, edited=?, edit_time=?, deleted=?, deleted_by=? " +
		"WHERE id = ?"
	getBetweenSQL = "SELECT id, sender, receiver, body, tag, create_time, read_state, reactions, edited, edit_time, deleted, deleted_by " +
		"FROM messages WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?) " +
		"ORDER BY create_time ASC, id ASC"
	bulkSetReadSQL = "UPDATE messages SET read_state = 1 WHERE sender = ? AND receiver = ? AND read_state = 0"
	bulkDeleteSQL  = "DELETE FROM messages WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)"
)

type dialect struct {
	name          string
	schemaSQL     string
	upsertUserSQL string
	isDupKey      func(err error) bool
}

// sqlStore implements `Store` on top of database/sql.
type sqlStore struct {
	*sql.DB
	dialect dialect
}

func (s *sqlStore) withTx(ctx context.Context, exec func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := exec(ctx, tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			glog.Errorf("failed to rollback: %v", err2)
		}
		return err
	}

	return tx.Commit()
}

func (s *sqlStore) initSchema(ctx context.Context) error {
	_, err := s.ExecContext(ctx, s.dialect.schemaSQL)
	return err
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	return s.DB.Close()
}

func (s *sqlStore) FindUser(ctx context.Context, identity string) (*wire.User, error) {
	row := s.QueryRowContext(ctx, getUserSQL, identity)

	u := wire.User{}
	var lastSeen sql.NullInt64
	if err := row.Scan(&u.Identity, &lastSeen); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		glog.Errorf("find user scan err: %v", err)
		return nil, err
	}
	if lastSeen.Valid {
		u.LastSeen = lastSeen.Int64
	}
	return &u, nil
}

func (s *sqlStore) UpsertUserLastSeen(ctx context.Context, identity string, lastSeen *time.Time) error {
	var v sql.NullInt64
	if lastSeen != nil {
		v = sql.NullInt64{Int64: lastSeen.Unix(), Valid: true}
	}
	_, err := s.ExecContext(ctx, s.dialect.upsertUserSQL, identity, v)
	if err != nil {
		glog.Errorf("upsert user last_seen exec err: %v", err)
	}
	return err
}

func (s *sqlStore) InsertMessage(ctx context.Context, m *wire.Message) (string, error) {
	reactions, err := marshalReactions(m.Reactions)
	if err != nil {
		return "", err
	}

	var id int64
	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insertMessageSQL,
			m.Sender, m.Receiver, m.Body, m.Tag, m.CreateTime, m.Read,
			reactions, m.Edited, m.EditTime, m.Deleted, m.DeletedBy)
		if err != nil {
			glog.Errorf("insert message exec err: %v", err)
			return err
		}
		id, err = res.LastInsertId()
		return err
	}); err != nil {
		return "", err
	}

	m.Id = strconv.FormatInt(id, 10)
	return m.Id, nil
}

func (s *sqlStore) FindMessageById(ctx context.Context, id string) (*wire.Message, error) {
	rowId, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		// A malformed id is indistinguishable from an unknown one.
		return nil, nil
	}

	row := s.QueryRowContext(ctx, getMessageSQL, rowId)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *sqlStore) SaveMessage(ctx context.Context, m *wire.Message) error {
	rowId, err := strconv.ParseInt(m.Id, 10, 64)
	if err != nil {
		return err
	}
	reactions, err := marshalReactions(m.Reactions)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, saveMessageSQL,
			m.Body, m.Read, reactions, m.Edited, m.EditTime, m.Deleted, m.DeletedBy, rowId)
		if err != nil {
			glog.Errorf("save message exec err: %v", err)
		}
		return err
	})
}

func (s *sqlStore) FindMessagesBetween(ctx context.Context, a, b string) ([]*wire.Message, error) {
	rows, err := s.QueryContext(ctx, getBetweenSQL, a, b, b, a)
	if err != nil {
		glog.Errorf("find messages between query err: %v", err)
		return nil, err
	}
	defer rows.Close()

	var out []*wire.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			glog.Errorf("find messages between scan err: %v", err)
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqlStore) BulkSetRead(ctx context.Context, reader, sender string) (int64, error) {
	var changed int64
	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, bulkSetReadSQL, sender, reader)
		if err != nil {
			return err
		}
		changed, _ = res.RowsAffected()
		return nil
	}); err != nil {
		return 0, err
	}
	return changed, nil
}

func (s *sqlStore) BulkDeleteBetween(ctx context.Context, a, b string) (int64, error) {
	var deleted int64
	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, bulkDeleteSQL, a, b, b, a)
		if err != nil {
			return err
		}
		deleted, _ = res.RowsAffected()
		return nil
	}); err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *sqlStore) IsDupKeyError(err error) bool {
	return s.dialect.isDupKey(err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*wire.Message, error) {
	var m wire.Message
	var rowId int64
	var tag, deletedBy, reactions sql.NullString
	var editTime sql.NullInt64

	if err := row.Scan(&rowId, &m.Sender, &m.Receiver, &m.Body, &tag, &m.CreateTime,
		&m.Read, &reactions, &m.Edited, &editTime, &m.Deleted, &deletedBy); err != nil {
		return nil, err
	}

	m.Id = strconv.FormatInt(rowId, 10)
	m.Tag = tag.String
	m.DeletedBy = deletedBy.String
	m.EditTime = editTime.Int64

	if reactions.Valid && reactions.String != "" {
		if err := json.Unmarshal([]byte(reactions.String), &m.Reactions); err != nil {
			glog.Errorf("unmarshal reactions err, message id: %s, err: %v", m.Id, err)
			return nil, err
		}
		if len(m.Reactions) == 0 {
			m.Reactions = nil
		}
	}
	return &m, nil
}

func marshalReactions(reactions []wire.Reaction) (string, error) {
	if len(reactions) == 0 {
		return "[]", nil
	}
	out, err := json.Marshal(reactions)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
