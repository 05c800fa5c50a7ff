package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anima-systems/anima-memory/internal/config"
)

func TestBuildDSN(t *testing.T) {
	cfg := &config.Config{
		DBHost: "db.internal", DBPort: 5432, DBUser: "anima", DBPassword: "secret",
		DBName: "anima_memory", DBSSLMode: "disable",
	}
	dsn := buildDSN(cfg)
	assert.Contains(t, dsn, "host=db.internal")
	assert.Contains(t, dsn, "port=5432")
	assert.Contains(t, dsn, "user=anima")
	assert.Contains(t, dsn, "password=secret")
	assert.Contains(t, dsn, "dbname=anima_memory")
	assert.Contains(t, dsn, "sslmode=disable")
}

func TestQualify_NoSchema(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, "memories", a.Table("memories"))
}

func TestQualify_WithSchema(t *testing.T) {
	a := &Adapter{schema: "anima_test"}
	assert.Equal(t, "anima_test.memories", a.Table("memories"))
}

func TestBuildValuesStatement_SingleRow(t *testing.T) {
	query, args := buildValuesStatement("memories", []string{"id", "content"}, [][]any{{"id-1", "hello"}}, "")
	assert.Equal(t, "INSERT INTO memories (id, content) VALUES ($1, $2)", query)
	assert.Equal(t, []any{"id-1", "hello"}, args)
}

func TestBuildValuesStatement_MultipleRowsIncrementsPlaceholders(t *testing.T) {
	rows := [][]any{{"a", 1}, {"b", 2}}
	query, args := buildValuesStatement("t", []string{"x", "y"}, rows, "ON CONFLICT DO NOTHING")
	assert.Equal(t, "INSERT INTO t (x, y) VALUES ($1, $2), ($3, $4) ON CONFLICT DO NOTHING", query)
	assert.Equal(t, []any{"a", 1, "b", 2}, args)
}
