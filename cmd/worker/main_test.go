package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"stockflow/internal/app"
)

func TestCheckConfig(t *testing.T) {
	assert.Error(t, checkConfig(app.Config{Env: "development"}))
	assert.NoError(t, checkConfig(app.Config{Env: "development", DatabaseURL: "postgres://localhost/stockflow"}))
}
