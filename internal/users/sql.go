package users

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	// Drivers selected by the [DATABASE] Driver configuration key.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// queries is the per-driver SQL. Identifier quoting and autoincrement
// columns are the only differences between the supported drivers; named
// bindvars are rebound per driver by sqlx.
type queries struct {
	createTable string
	selectAll   string
	insert      string
	update      string
}

func queriesFor(driver string) (queries, error) {
	switch driver {
	case "postgres":
		return queries{
			createTable: `CREATE TABLE IF NOT EXISTS "Users" (
				"id" SERIAL PRIMARY KEY,
				"User" VARCHAR(64) NOT NULL UNIQUE,
				"Password" VARCHAR(128) NOT NULL,
				"Config" TEXT NOT NULL,
				"CreateUser" TIMESTAMP NOT NULL,
				"LastLogin" TIMESTAMP NOT NULL
			)`,
			selectAll: `SELECT "User", "Password", "Config", "CreateUser", "LastLogin" FROM "Users"`,
			insert: `INSERT INTO "Users" ("User", "Password", "Config", "CreateUser", "LastLogin")
				VALUES (:User, :Password, :Config, :CreateUser, :LastLogin)`,
			update: `UPDATE "Users" SET "Password" = :Password, "Config" = :Config, "LastLogin" = :LastLogin
				WHERE "User" = :User`,
		}, nil
	case "mysql":
		return queries{
			createTable: "CREATE TABLE IF NOT EXISTS `Users` (" +
				"`id` INT AUTO_INCREMENT PRIMARY KEY, " +
				"`User` VARCHAR(64) NOT NULL UNIQUE, " +
				"`Password` VARCHAR(128) NOT NULL, " +
				"`Config` TEXT NOT NULL, " +
				"`CreateUser` TIMESTAMP NOT NULL, " +
				"`LastLogin` TIMESTAMP NOT NULL)",
			selectAll: "SELECT `User`, `Password`, `Config`, `CreateUser`, `LastLogin` FROM `Users`",
			insert: "INSERT INTO `Users` (`User`, `Password`, `Config`, `CreateUser`, `LastLogin`) " +
				"VALUES (:User, :Password, :Config, :CreateUser, :LastLogin)",
			update: "UPDATE `Users` SET `Password` = :Password, `Config` = :Config, `LastLogin` = :LastLogin " +
				"WHERE `User` = :User",
		}, nil
	default:
		return queries{}, fmt.Errorf("unsupported database driver %v", driver)
	}
}

// SQLStore is a Store backed by postgres or mysql through sqlx.
type SQLStore struct {
	db *sqlx.DB
	q  queries
}

// NewSQLStore connects to the database and creates the Users table when it
// does not exist yet.
func NewSQLStore(ctx context.Context, driver, connectionString string) (*SQLStore, error) {
	q, err := queriesFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.ConnectContext(ctx, driver, connectionString)
	if err != nil {
		return nil, fmt.Errorf("connect to %v: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, q.createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create Users table: %w", err)
	}
	return &SQLStore{db: db, q: q}, nil
}

// LoadAll implements Store.
func (s *SQLStore) LoadAll(ctx context.Context) ([]Record, error) {
	var recs []Record
	if err := s.db.SelectContext(ctx, &recs, s.q.selectAll); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return recs, nil
}

// Create implements Store.
func (s *SQLStore) Create(ctx context.Context, rec Record) error {
	if _, err := s.db.NamedExecContext(ctx, s.q.insert, rec); err != nil {
		return fmt.Errorf("insert user %v: %w", rec.User, err)
	}
	return nil
}

// Update implements Store.
func (s *SQLStore) Update(ctx context.Context, rec Record) error {
	if _, err := s.db.NamedExecContext(ctx, s.q.update, rec); err != nil {
		return fmt.Errorf("update user %v: %w", rec.User, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
