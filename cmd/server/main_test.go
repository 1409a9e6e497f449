package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/soaringjerry/Malasakit/internal/config"
)

func TestWarnInsecureSecret(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := zap.New(core)

	warnInsecureSecret(config.AuthConfig{JWTSecret: config.DefaultJWTSecret}, log)
	warnInsecureSecret(config.AuthConfig{}, log)
	assert.Equal(t, 2, logs.FilterMessageSnippet("auth.jwt_secret").Len())

	warnInsecureSecret(config.AuthConfig{JWTSecret: "a-real-deployment-secret"}, log)
	assert.Equal(t, 2, logs.Len())
}
