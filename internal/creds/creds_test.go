package creds

import (
	"testing"

	"tunneldump/internal/fs"
)

func setupHome(t *testing.T, files map[string]string) *Resolver {
	t.Helper()
	fs.SetFS(fs.NewMemMapFs())
	t.Cleanup(fs.ResetFS)

	for name, content := range files {
		if err := fs.WriteFile("/home/op/"+name, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	return NewResolverWithHome("/home/op")
}

func TestGetPasswordFromEnv(t *testing.T) {
	t.Setenv("TUNNELDUMP_DB_PASSWORD", "envsecret")
	r := setupHome(t, nil)

	pw, err := r.GetPassword("postgres", "db.internal", 5432, "app")
	if err != nil {
		t.Fatalf("GetPassword failed: %v", err)
	}
	if pw != "envsecret" {
		t.Errorf("password = %q, want envsecret", pw)
	}
}

func TestGetPasswordFromPgpass(t *testing.T) {
	t.Setenv("TUNNELDUMP_DB_PASSWORD", "")
	r := setupHome(t, map[string]string{
		".pgpass": "# comment\n" +
			"other.host:5432:*:app:wrongpw\n" +
			"db.internal:5432:*:app:rightpw\n" +
			"*:*:*:fallback:starpw\n",
	})

	pw, err := r.GetPassword("postgres", "db.internal", 5432, "app")
	if err != nil {
		t.Fatalf("GetPassword failed: %v", err)
	}
	if pw != "rightpw" {
		t.Errorf("password = %q, want rightpw", pw)
	}

	// Wildcard line matches any host/port for its user
	pw, err = r.GetPassword("postgres", "whatever", 9999, "fallback")
	if err != nil || pw != "starpw" {
		t.Errorf("wildcard lookup = %q, %v; want starpw", pw, err)
	}
}

func TestGetPasswordPgpassPortMismatch(t *testing.T) {
	t.Setenv("TUNNELDUMP_DB_PASSWORD", "")
	r := setupHome(t, map[string]string{
		".pgpass": "db.internal:5433:*:app:pw\n",
	})

	_, err := r.GetPassword("postgres", "db.internal", 5432, "app")
	if err != ErrNotConfigured {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestGetPasswordFromMyCnf(t *testing.T) {
	t.Setenv("TUNNELDUMP_DB_PASSWORD", "")
	r := setupHome(t, map[string]string{
		".my.cnf": "[mysqld]\npassword = notthis\n[client]\nuser = root\npassword = \"cnfsecret\"\n",
	})

	pw, err := r.GetPassword("mysql", "db.internal", 3306, "root")
	if err != nil {
		t.Fatalf("GetPassword failed: %v", err)
	}
	if pw != "cnfsecret" {
		t.Errorf("password = %q, want cnfsecret", pw)
	}
}

func TestGetPasswordNotConfigured(t *testing.T) {
	t.Setenv("TUNNELDUMP_DB_PASSWORD", "")
	r := setupHome(t, nil)

	_, err := r.GetPassword("postgres", "db.internal", 5432, "app")
	if err != ErrNotConfigured {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}
