package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
)

const mysqlSchemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	username  VARCHAR(64) NOT NULL PRIMARY KEY,
	last_seen BIGINT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id          BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	sender      VARCHAR(64) NOT NULL,
	receiver    VARCHAR(64) NOT NULL,
	body        TEXT NOT NULL,
	tag         VARCHAR(64) NULL,
	create_time BIGINT NOT NULL,
	read_state  TINYINT NOT NULL DEFAULT 0,
	reactions   TEXT NULL,
	edited      TINYINT NOT NULL DEFAULT 0,
	edit_time   BIGINT NULL,
	deleted     TINYINT NOT NULL DEFAULT 0,
	deleted_by  VARCHAR(64) NULL,
	KEY idx_pair (sender, receiver, create_time)
);`

const mysqlUpsertUserSQL = "INSERT INTO users (username, last_seen) VALUES (?,?) " +
	"ON DUPLICATE KEY UPDATE last_seen = VALUES(last_seen)"

// NewMySQLStore opens a MySQL backed store. The dsn must enable
// multiStatements for schema init, see the default in main.
func NewMySQLStore(ctx context.Context, dsn string) (Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &sqlStore{
		DB: db,
		dialect: dialect{
			name:          "mysql",
			schemaSQL:     mysqlSchemaSQL,
			upsertUserSQL: mysqlUpsertUserSQL,
			isDupKey: func(err error) bool {
				if val, ok := err.(*mysql.MySQLError); ok {
					return val.Number == 1062
				}
				return false
			},
		},
	}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
