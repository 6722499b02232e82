package seed

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// CreateDefaultData inserts a small set of demo users, one course and an
// enrollment so a development instance is usable without the external
// identity service. Every insert is idempotent; running it on a populated
// database is a no-op.
func CreateDefaultData(ctx context.Context, dbPool *pgxpool.Pool, lgr zerolog.Logger) error {
	lgr.Info().Msg("Checking/Creating default development data...")

	statements := []struct {
		desc string
		sql  string
		args []interface{}
	}{
		{
			desc: "demo mentor",
			sql: `INSERT INTO users (id, email, full_name, role_type)
			      VALUES ($1, $2, $3, $4)
			      ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{int64(1), "mentor@mentora.dev", "Demo Mentor", "MENTOR"},
		},
		{
			desc: "demo student",
			sql: `INSERT INTO users (id, email, full_name, role_type)
			      VALUES ($1, $2, $3, $4)
			      ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{int64(2), "student@mentora.dev", "Demo Student", "STUDENT"},
		},
		{
			desc: "demo course",
			sql: `INSERT INTO courses (id, title, mentor_id)
			      VALUES ($1, $2, $3)
			      ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{int64(1), "Introduction to Go", int64(1)},
		},
		{
			desc: "demo enrollment",
			sql: `INSERT INTO enrollments (course_id, student_id)
			      VALUES ($1, $2)
			      ON CONFLICT ON CONSTRAINT enrollments_course_student_key DO NOTHING`,
			args: []interface{}{int64(1), int64(2)},
		},
	}

	for _, st := range statements {
		if _, err := dbPool.Exec(ctx, st.sql, st.args...); err != nil {
			lgr.Error().Err(err).Str("item", st.desc).Msg("Error creating default data")
			return err
		}
	}

	// The demo rows use fixed ids below the sequence range; bump the
	// sequences so organic inserts do not collide with them.
	for _, seq := range []string{
		`SELECT setval('users_id_seq', GREATEST((SELECT MAX(id) FROM users), 1))`,
		`SELECT setval('courses_id_seq', GREATEST((SELECT MAX(id) FROM courses), 1))`,
	} {
		if _, err := dbPool.Exec(ctx, seq); err != nil {
			lgr.Error().Err(err).Msg("Error adjusting sequence after seeding")
			return err
		}
	}

	lgr.Info().Msg("Default development data check complete")
	return nil
}
