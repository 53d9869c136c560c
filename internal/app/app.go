// Package app wires the database, migrations, adapter and engine together for
// the CLI and the server.
package app

import (
	"database/sql"

	"approvalflow/internal/adapter"
	"approvalflow/internal/config"
	"approvalflow/internal/db"
	"approvalflow/internal/engine"
	"approvalflow/internal/migrate"
	"approvalflow/internal/repo"
)

type App struct {
	DB     *sql.DB
	Engine engine.Engine
	Config *config.Config
}

// Open opens the workspace database, applies migrations and builds an engine
// with the reprint adapter bound.
func Open(workspace string) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	r := repo.Repo{DB: conn}
	e := engine.New(conn, adapter.Reprint{Repo: r})
	return &App{DB: conn, Engine: e, Config: cfg}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
