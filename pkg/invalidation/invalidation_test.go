package invalidation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/respcache/internal/testutil"
	"github.com/Sternrassler/respcache/pkg/cache"
	"github.com/Sternrassler/respcache/pkg/middleware"
)

func seed(st *testutil.RecordingStore, keys ...string) {
	for _, k := range keys {
		st.Put(k, &cache.Entry{Body: []byte(k), StatusCode: http.StatusOK, CreatedAt: time.Now()}, time.Hour)
	}
}

func newTestEngine(st cache.Store) *Engine {
	logger := zerolog.Nop()
	return New(st, &logger)
}

func TestEngine_Invalidate(t *testing.T) {
	st := testutil.NewRecordingStore()
	seed(st,
		"products:GET:/products",
		"products:GET:/products:q=abc",
		"product_detail:42:GET:/products/42",
		"product_detail:42:GET:/products/42:h=def",
		"product_detail:43:GET:/products/43",
	)

	n := newTestEngine(st).Invalidate(context.Background(), "product_detail:42*", "products:*")

	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"product_detail:43:GET:/products/43"}, st.Keys())
}

func TestEngine_NoMatchesIsZero(t *testing.T) {
	st := testutil.NewRecordingStore()
	seed(st, "products:GET:/products")
	e := newTestEngine(st)

	assert.Zero(t, e.Invalidate(context.Background(), "nothing*"))
	assert.Zero(t, e.Invalidate(context.Background()))
	assert.Zero(t, st.CallCount("delete"), "no delete call for an empty match")

	// idempotent
	assert.Equal(t, 1, e.Invalidate(context.Background(), "products*"))
	assert.Zero(t, e.Invalidate(context.Background(), "products*"))
}

func TestEngine_FailedPatternDoesNotAbortOthers(t *testing.T) {
	st := testutil.NewRecordingStore()
	seed(st, "a:1", "b:1")
	e := newTestEngine(st)

	st.Fail("delete", errors.New("boom"))
	assert.Zero(t, e.Invalidate(context.Background(), "a*", "b*"))
	assert.Equal(t, 2, st.CallCount("delete"), "every pattern attempted")

	st.Fail("delete", nil)
	st.Fail("list", testutil.ErrStoreDown)
	assert.Zero(t, e.Invalidate(context.Background(), "a*"))

	st.Fail("list", nil)
	assert.Equal(t, 2, e.Invalidate(context.Background(), "a*", "b*"))
}

func TestEngine_StorePanicIsContained(t *testing.T) {
	st := testutil.NewRecordingStore()
	seed(st, "a:1")
	st.Panic("list")

	assert.NotPanics(t, func() {
		assert.Zero(t, newTestEngine(st).Invalidate(context.Background(), "a*", "b*"))
	})
	assert.Equal(t, 2, st.CallCount("list"))
}

func TestMiddleware_OnlyAfterSuccess(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantRun bool
	}{
		{"ok", http.StatusOK, true},
		{"no content", http.StatusNoContent, true},
		{"bad request", http.StatusBadRequest, false},
		{"server error", http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := testutil.NewRecordingStore()
			seed(st, "products:GET:/products")

			h := Middleware(newTestEngine(st), Static("products*"))(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
				}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/products/1", nil))

			assert.Equal(t, tt.status, rec.Code)
			if tt.wantRun {
				assert.Empty(t, st.Keys())
			} else {
				assert.Len(t, st.Keys(), 1)
				assert.Zero(t, st.CallCount("list"))
			}
		})
	}
}

func TestMiddleware_ImplicitOK(t *testing.T) {
	st := testutil.NewRecordingStore()
	seed(st, "products:GET:/products")

	h := Middleware(newTestEngine(st), Static("products*"))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("updated"))
		}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/products", nil))

	assert.Empty(t, st.Keys())
}

// TestProductUpdateInvalidatesDetail wires cache and invalidation on a chi router:
// a successful PUT /products/42 makes the next GET /products/42 a MISS.
func TestProductUpdateInvalidatesDetail(t *testing.T) {
	st := testutil.NewRecordingStore()
	logger := zerolog.Nop()

	listCfg := middleware.DefaultConfig()
	listCfg.Prefix = "products"
	listCfg.Logger = &logger
	list, err := middleware.New(st, listCfg)
	require.NoError(t, err)
	defer list.Close()

	detailCfg := middleware.DefaultConfig()
	detailCfg.PrefixFunc = func(r *http.Request) string {
		return "product_detail:" + chi.URLParam(r, "id")
	}
	detailCfg.Logger = &logger
	detail, err := middleware.New(st, detailCfg)
	require.NoError(t, err)
	defer detail.Close()

	engine := newTestEngine(st)
	onUpdate := Middleware(engine, func(r *http.Request) []string {
		return []string{"product_detail:" + chi.URLParam(r, "id") + "*", "products:*"}
	})

	origin := testutil.NewMockOrigin()
	r := chi.NewRouter()
	r.With(list.Handler).Get("/products", origin.ServeHTTP)
	r.With(detail.Handler).Get("/products/{id}", origin.ServeHTTP)
	r.With(onUpdate).Put("/products/{id}", origin.ServeHTTP)

	get := func(path string) string {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Header().Get(middleware.HeaderCache)
	}

	assert.Equal(t, middleware.StatusMiss, get("/products/42"))
	assert.Equal(t, middleware.StatusHit, get("/products/42"))
	assert.Equal(t, middleware.StatusMiss, get("/products/43"))
	assert.Equal(t, middleware.StatusMiss, get("/products"))
	assert.Equal(t, middleware.StatusHit, get("/products"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/products/42", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, middleware.StatusMiss, get("/products/42"))
	assert.Equal(t, middleware.StatusMiss, get("/products"))
	assert.Equal(t, middleware.StatusHit, get("/products/43"), "other products keep their entries")
}
