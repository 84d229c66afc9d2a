package migrations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	chstore "trade-signal-pipeline/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the bar database if needed and applies
// the embedded schema. The returned connection targets that database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	err = admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbName))
	if cerr := admin.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}

	files, err := readMigrations(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	for _, f := range files {
		stmts, err := splitStatements(f.sql)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migration %s: %w", f.name, err)
		}
		// The native protocol runs one statement per Exec.
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", f.name, err)
			}
		}
	}
	return conn, nil
}

// splitStatements splits sql on semicolons outside single-quoted
// literals and drops -- line comments. '' inside a literal is an escaped
// quote.
func splitStatements(sql string) ([]string, error) {
	var (
		stmts    []string
		cur      strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case inString:
			cur.WriteByte(ch)
			if ch == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					cur.WriteByte('\'')
					i++
				} else {
					inString = false
				}
			}
		case ch == '\'':
			inString = true
			cur.WriteByte(ch)
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case ch == ';':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	if inString {
		return nil, errors.New("unterminated string literal")
	}
	flush()
	return stmts, nil
}

func databaseFromDSN(dsn string) (string, error) {
	opts, err := chstore.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	if opts.Auth.Database == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	return opts.Auth.Database, nil
}
