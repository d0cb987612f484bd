package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	t.Setenv("DB_USER", "billing")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "3307")
	t.Setenv("DB_NAME", "vdcapital")

	assert.Equal(t,
		"billing:secret@tcp(db:3307)/vdcapital?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true",
		DSN())
}

func TestDSN_DefaultPort(t *testing.T) {
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_PORT", "")

	assert.Contains(t, DSN(), "@tcp(127.0.0.1:3306)/")
}

func TestWithParams(t *testing.T) {
	assert.Equal(t, "u:p@tcp(db:3306)/billing?"+DSNParams, WithParams("u:p@tcp(db:3306)/billing"))
	assert.Equal(t, "u:p@tcp(db:3306)/billing?parseTime=true", WithParams("u:p@tcp(db:3306)/billing?parseTime=true"))
}
