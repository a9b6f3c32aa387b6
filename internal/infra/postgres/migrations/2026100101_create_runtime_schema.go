package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 2026100101_create_runtime_schema.sql
var createRuntimeSchemaSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createRuntimeSchemaSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS
				checkpoint_logs, answers, attempt_questions, attempts,
				session_common_questions, session_question_snapshots, session_snapshot_builds,
				sessions, question_tags, question_options, questions,
				quiz_rules, quizzes, classroom_members, classrooms`)
			return err
		},
	)
}
