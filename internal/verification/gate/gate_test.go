package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"civverify/internal/platform/config"
	dErrors "civverify/pkg/domain-errors"
)

func TestAuthorize(t *testing.T) {
	g := New("s3cret")

	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{name: "exact match", token: "s3cret", ok: true},
		{name: "wrong token", token: "nope", ok: false},
		{name: "missing token", token: "", ok: false},
		{name: "case differs", token: "S3CRET", ok: false},
		{name: "prefix", token: "s3cre", ok: false},
		{name: "trailing space", token: "s3cret ", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Authorize(tt.token)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		})
	}
	assert.False(t, g.Insecure())
}

func TestInsecureGateAdmitsAnything(t *testing.T) {
	g := NewInsecure()
	assert.True(t, g.Insecure())
	for _, token := range []string{"", "x", "changeme", "anything at all"} {
		assert.NoError(t, g.Authorize(token))
	}
}

func TestFromConfig(t *testing.T) {
	t.Run("default token opens the gate", func(t *testing.T) {
		g := FromConfig(config.Server{HostAddr: "127.0.0.1", CivToken: config.DefaultCivToken})
		assert.True(t, g.Insecure())
		assert.NoError(t, g.Authorize("anything"))
	})

	t.Run("configured token is enforced", func(t *testing.T) {
		g := FromConfig(config.Server{HostAddr: "0.0.0.0", CivToken: "s3cret"})
		assert.False(t, g.Insecure())
		assert.NoError(t, g.Authorize("s3cret"))
		assert.True(t, dErrors.HasCode(g.Authorize(config.DefaultCivToken), dErrors.CodeUnauthorized))
	})
}
