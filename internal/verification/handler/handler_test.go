package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civverify/internal/platform/metrics"
	"civverify/internal/verification/gate"
	"civverify/internal/verification/models"
	"civverify/internal/verification/service"
	"civverify/internal/verification/store"
	"civverify/internal/verification/store/file"
	"civverify/pkg/testutil"
)

var createTimePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)

type testEnv struct {
	router   http.Handler
	registry *store.Registry
	file     *file.Store
}

func newTestEnv(t *testing.T, g *gate.Gate) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fileStore := file.New(filepath.Join(t.TempDir(), "verify.json"))
	require.NoError(t, os.WriteFile(fileStore.Path(), []byte("[]"), 0o600))

	initial, err := fileStore.Load(context.Background())
	require.NoError(t, err)

	m := metrics.New()
	registry := store.NewRegistry(initial, fileStore, store.WithLogger(logger), store.WithMetrics(m))
	svc := service.New(registry, g, service.WithLogger(logger), service.WithMetrics(m))
	return &testEnv{
		router:   NewRouter(New(svc, logger, m)),
		registry: registry,
		file:     fileStore,
	}
}

func (e *testEnv) postForm(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.DoRequest(e.router, testutil.NewFormRequest(t, http.MethodPost, "/verified", form))
}

func form(method, ckey, discord, token string) url.Values {
	v := url.Values{"ckey": {ckey}, "discord": {discord}, "token": {token}}
	if method != "" {
		v.Set("method", method)
	}
	return v
}

func TestVerifiedScenario(t *testing.T) {
	testutil.Given(t, "an empty registry with the default token", func(t *testing.T) {
		env := newTestEnv(t, gate.NewInsecure())

		testutil.When(t, "Bob is added", func(t *testing.T) {
			rr := testutil.DoRequest(env.router, testutil.NewFormRequest(t, http.MethodPost, "/verified", form("", "Bob", "123", "x")))

			testutil.Then(t, "the user is added and persisted", func(t *testing.T) {
				testutil.AssertStatusAndBody(t, rr, http.StatusOK, "Added user")

				list := testutil.UnmarshalResponse[[]map[string]any](t, testutil.DoRequest(env.router, testutil.NewRequest(t, http.MethodGet, "/verified")))
				require.Len(t, list, 1)
				assert.Equal(t, "Bob", list[0]["ss13"])
				assert.Equal(t, "123", list[0]["discord"])
				assert.Regexp(t, createTimePattern, list[0]["create_time"])

				onDisk, err := env.file.Load(context.Background())
				require.NoError(t, err)
				assert.Equal(t, env.registry.List(context.Background()), onDisk)
			})
		})

		testutil.When(t, "Bob is added again", func(t *testing.T) {
			rr := testutil.DoRequest(env.router, testutil.NewFormRequest(t, http.MethodPost, "/verified", form("", "Bob", "123", "x")))

			testutil.Then(t, "it is rejected as existing", func(t *testing.T) {
				testutil.AssertStatusAndBody(t, rr, http.StatusForbidden, "User already exists")
				assert.Equal(t, 1, env.registry.Len())
			})
		})

		testutil.When(t, "Bob is deleted by ckey", func(t *testing.T) {
			rr := testutil.DoRequest(env.router, testutil.NewFormRequest(t, http.MethodPost, "/verified", form("delete", "Bob", "999", "x")))

			testutil.Then(t, "the registry is empty on disk and in memory", func(t *testing.T) {
				testutil.AssertStatusAndBody(t, rr, http.StatusOK, "Deleted")
				assert.Zero(t, env.registry.Len())

				data, err := os.ReadFile(env.file.Path())
				require.NoError(t, err)
				assert.Equal(t, "[]", string(data))
			})
		})

		testutil.When(t, "the delete is repeated", func(t *testing.T) {
			rr := testutil.DoRequest(env.router, testutil.NewFormRequest(t, http.MethodPost, "/verified", form("delete", "Bob", "999", "x")))

			testutil.Then(t, "the user is not found", func(t *testing.T) {
				testutil.AssertStatusAndBody(t, rr, http.StatusForbidden, "User not found")
			})
		})
	})
}

func TestTokenGate(t *testing.T) {
	env := newTestEnv(t, gate.New("s3cret"))

	for _, token := range []string{"", "wrong", "changeme"} {
		rr := testutil.DoRequest(env.router, testutil.NewFormRequest(t, http.MethodPost, "/verified", form("", "Bob", "123", token)))
		testutil.AssertStatusAndBody(t, rr, http.StatusUnauthorized, "Invalid token")
	}
	rr := testutil.DoRequest(env.router, testutil.NewFormRequest(t, http.MethodPost, "/verified", form("delete", "Bob", "123", "nope")))
	testutil.AssertStatusAndBody(t, rr, http.StatusUnauthorized, "Invalid token")
	assert.Zero(t, env.registry.Len())

	rr = testutil.DoRequest(env.router, testutil.NewFormRequest(t, http.MethodPost, "/verified", form("", "Bob", "123", "s3cret")))
	testutil.AssertStatusAndBody(t, rr, http.StatusOK, "Added user")
	assert.Equal(t, 1, env.registry.Len())
}

func TestRootAndUnknownPathsAreForbidden(t *testing.T) {
	env := newTestEnv(t, gate.NewInsecure())

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/"},
		{http.MethodPost, "/"},
		{http.MethodDelete, "/"},
		{http.MethodGet, "/admin"},
		{http.MethodGet, "/verified/extra"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rr := testutil.DoRequest(env.router, testutil.NewRequest(t, tc.method, tc.path))
			testutil.AssertStatusAndBody(t, rr, http.StatusForbidden, "<h1>Forbidden</h1>")
			assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
		})
	}
}

func TestListReturnsEmptyArray(t *testing.T) {
	env := newTestEnv(t, gate.NewInsecure())

	rr := testutil.DoRequest(env.router, testutil.NewRequest(t, http.MethodGet, "/verified"))
	testutil.AssertStatusOK(t, rr)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestListKeepsInsertionOrderAndEmptyIdentities(t *testing.T) {
	env := newTestEnv(t, gate.NewInsecure())
	for _, f := range []url.Values{form("", "Bob", "1", "x"), form("", "", "2", "x"), form("", "Carol", "", "x")} {
		rr := testutil.DoRequest(env.router, testutil.NewFormRequest(t, http.MethodPost, "/verified", f))
		testutil.AssertStatusOK(t, rr)
	}

	list := testutil.UnmarshalResponse[[]map[string]any](t, testutil.DoRequest(env.router, testutil.NewRequest(t, http.MethodGet, "/verified")))
	require.Len(t, list, 3)
	assert.Equal(t, "Bob", list[0]["ss13"])
	assert.Equal(t, "", list[1]["ss13"])
	assert.Equal(t, "2", list[1]["discord"])
	assert.Equal(t, "Carol", list[2]["ss13"])
	assert.Equal(t, "", list[2]["discord"])
}

func TestMethodSelection(t *testing.T) {
	env := newTestEnv(t, gate.NewInsecure())
	testutil.AssertStatusOK(t, env.postForm(t, form("", "Bob", "123", "x")))

	rr := env.postForm(t, form("  DeLeTe ", "", "123", "x"))
	testutil.AssertStatusAndBody(t, rr, http.StatusOK, "Deleted")

	rr = env.postForm(t, form("remove", "Bob", "123", "x"))
	testutil.AssertStatusAndBody(t, rr, http.StatusOK, "Added user")
}

func TestMalformedRequests(t *testing.T) {
	env := newTestEnv(t, gate.New("s3cret"))

	t.Run("missing token field is rejected before the gate", func(t *testing.T) {
		rr := env.postForm(t, url.Values{"ckey": {"Bob"}, "discord": {"123"}})
		testutil.AssertStatus(t, rr, http.StatusUnprocessableEntity)
		assert.Contains(t, rr.Body.String(), "token")
	})

	t.Run("missing ckey field", func(t *testing.T) {
		rr := env.postForm(t, url.Values{"discord": {"123"}, "token": {"s3cret"}})
		testutil.AssertStatus(t, rr, http.StatusUnprocessableEntity)
		assert.Contains(t, rr.Body.String(), "ckey")
	})

	t.Run("empty token field reaches the gate", func(t *testing.T) {
		rr := env.postForm(t, form("", "Bob", "123", ""))
		testutil.AssertStatusAndBody(t, rr, http.StatusUnauthorized, "Invalid token")
	})

	t.Run("wrong content type", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodPost, "/verified")
		req.Body = io.NopCloser(strings.NewReader(`{"ckey":"Bob"}`))
		req.Header.Set("Content-Type", "application/json")
		rr := testutil.DoRequest(env.router, req)
		testutil.AssertStatus(t, rr, http.StatusUnsupportedMediaType)
	})

	t.Run("wrong method on known path", func(t *testing.T) {
		rr := testutil.DoRequest(env.router, testutil.NewRequest(t, http.MethodPut, "/verified"))
		testutil.AssertStatus(t, rr, http.StatusMethodNotAllowed)
	})

	assert.Zero(t, env.registry.Len())
}

func TestAddWithEmptyIdentities(t *testing.T) {
	env := newTestEnv(t, gate.NewInsecure())

	rr := env.postForm(t, form("", "", "", "x"))
	testutil.AssertStatusAndBody(t, rr, http.StatusOK, "Added user")
	rr = env.postForm(t, form("", "", "", "x"))
	testutil.AssertStatusAndBody(t, rr, http.StatusOK, "Added user")

	rr = env.postForm(t, form("delete", "", "", "x"))
	testutil.AssertStatusAndBody(t, rr, http.StatusForbidden, "User not found")

	onDisk, err := env.file.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, onDisk, 2)
	assert.Equal(t, "", onDisk[0].CKey())
	assert.Equal(t, "", onDisk[1].DiscordID())
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t, gate.NewInsecure())
	req := testutil.NewRequest(t, http.MethodGet, "/verified")
	req.Header.Set("X-Request-ID", "trace-me")

	rr := testutil.DoRequest(env.router, req)
	assert.Equal(t, "trace-me", rr.Header().Get("X-Request-ID"))
}

type brokenService struct{}

func (brokenService) List(context.Context) []models.VerifiedUser { return nil }
func (brokenService) Mutate(context.Context, models.MutateRequest) (models.Outcome, error) {
	return "", errors.New("unexpected")
}

func TestUnexpectedErrorIsInternal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(New(brokenService{}, logger, nil))

	rr := testutil.DoRequest(router, testutil.NewFormRequest(t, http.MethodPost, "/verified", form("", "Bob", "123", "x")))
	testutil.AssertStatusAndBody(t, rr, http.StatusInternalServerError, "Internal server error")

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/verified"))
	testutil.AssertStatusOK(t, rr)
	assert.JSONEq(t, "[]", rr.Body.String())
}
