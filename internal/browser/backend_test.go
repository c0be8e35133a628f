// File: internal/browser/backend_test.go
package browser

import (
	"context"
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/knowledgepa3/warden/internal/config"
)

func TestParseFlag(t *testing.T) {
	t.Parallel()

	cases := []struct {
		arg       string
		wantName  string
		wantValue any
	}{
		{"--no-sandbox", "no-sandbox", true},
		{"no-sandbox", "no-sandbox", true},
		{"--proxy-server=http://127.0.0.1:8080", "proxy-server", "http://127.0.0.1:8080"},
		{"lang=en-US", "lang", "en-US"},
	}
	for _, tc := range cases {
		name, value := parseFlag(tc.arg)
		assert.Equal(t, tc.wantName, name, tc.arg)
		assert.Equal(t, tc.wantValue, value, tc.arg)
	}
}

func TestAllocatorOptionsCoverConfig(t *testing.T) {
	t.Parallel()

	bcfg := config.NewDefaultConfig().Browser()
	bcfg.Args = []string{"--no-sandbox"}
	bcfg.UserAgent = "warden/1.0"
	bcfg.IgnoreTLSErrors = true

	opts := allocatorOptions(bcfg)
	// Defaults plus headless, gpu, window size, cache, tls, user agent, arg.
	assert.GreaterOrEqual(t, len(opts), len(chromedp.DefaultExecAllocatorOptions)+7)
}

func TestNewBackendValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewBackend(context.Background(), nil, zap.NewNop())
	assert.Error(t, err)
	_, err = NewBackend(context.Background(), config.NewDefaultConfig(), nil)
	assert.Error(t, err)
}
