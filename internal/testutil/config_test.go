package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultTestDBConfig(t *testing.T) {
	t.Run("defaults to the local compose database", func(t *testing.T) {
		for _, k := range []string{"TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME"} {
			t.Setenv(k, "")
		}
		cfg := DefaultTestDBConfig()
		assert.Equal(t, "localhost", cfg.Host)
		assert.Equal(t, "55432", cfg.Port)
		assert.Equal(t, "maintainer", cfg.User)
		assert.Equal(t, "maintainer", cfg.Password)
		assert.Equal(t, "maintainer_brief", cfg.DBName)
	})

	t.Run("respects CI overrides", func(t *testing.T) {
		t.Setenv("TEST_DB_HOST", "postgres")
		t.Setenv("TEST_DB_PORT", "5432")
		cfg := DefaultTestDBConfig()
		assert.Equal(t, "postgres", cfg.Host)
		assert.Equal(t, "5432", cfg.Port)
	})
}

func TestTestDBConfig_DSN(t *testing.T) {
	t.Setenv("DB_SSL_MODE", "")
	cfg := TestDBConfig{Host: "db", Port: "55432", User: "u", Password: "p w", DBName: "mb"}
	assert.Equal(t, "postgres://u:p%20w@db:55432/mb?sslmode=disable", cfg.DSN())

	cfg.Port = "not-a-port"
	assert.Contains(t, cfg.DSN(), "@db:5432/")
}

func TestEnvBool(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", "y"} {
		t.Setenv("TESTUTIL_FLAG", v)
		assert.True(t, envBool("TESTUTIL_FLAG"), v)
	}
	t.Setenv("TESTUTIL_FLAG", "off")
	assert.False(t, envBool("TESTUTIL_FLAG"))
}

func TestRunConcurrent(t *testing.T) {
	errs := RunConcurrent(
		func() error { return nil },
		func() error { return assert.AnError },
	)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], assert.AnError)
}
