package postgres

import "testing"

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/padawan?sslmode=disable":   "pgx5://u:p@localhost:5432/padawan?sslmode=disable",
		"postgresql://u:p@localhost:5432/padawan?sslmode=disable": "pgx5://u:p@localhost:5432/padawan?sslmode=disable",
		"pgx5://already": "pgx5://already",
	}
	for in, want := range cases {
		if got := migrateURL(in); got != want {
			t.Errorf("migrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries)%2 != 0 || len(entries) == 0 {
		t.Errorf("expected up/down pairs, got %d files", len(entries))
	}
}
