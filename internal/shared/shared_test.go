package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newSessionManager(t *testing.T) *SessionManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "botica_session", time.Hour, false)
}

func TestSessionRoundTrip(t *testing.T) {
	sm := newSessionManager(t)
	ctx := context.Background()

	// First request: no cookie, a fresh anonymous session.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.Equal(t, int64(0), sess.UserID())

	sess.SetUser(42)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "botica_session", cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)

	// Second request presents the cookie and gets the user back.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	sess, err = sm.Load(ctx, req)
	require.NoError(t, err)
	require.Equal(t, int64(42), sess.UserID())
}

func TestSessionCommitSkipsCleanSessions(t *testing.T) {
	sm := newSessionManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sess.SetUser(7)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))

	// Re-loading and committing without changes writes no new cookie.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	sess, err = sm.Load(ctx, req)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	require.Empty(t, rec.Result().Cookies())
}

func TestSessionDestroy(t *testing.T) {
	sm := newSessionManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sess.SetUser(42)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	cookie := rec.Result().Cookies()[0]

	sess.Destroy()
	rec = httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	expired := rec.Result().Cookies()
	require.Len(t, expired, 1)
	require.Less(t, expired[0].MaxAge, 0)

	// The server side state is gone: the old cookie now loads anonymous.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	sess, err = sm.Load(ctx, req)
	require.NoError(t, err)
	require.Equal(t, int64(0), sess.UserID())
}

func TestActorFromContext(t *testing.T) {
	require.Equal(t, int64(0), ActorFromContext(context.Background()))

	sess := &Session{}
	sess.SetUser(9)
	ctx := ContextWithSession(context.Background(), sess)
	require.Equal(t, int64(9), ActorFromContext(ctx))
	require.Same(t, sess, SessionFromContext(ctx))
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(0, 0, 45)
	require.Equal(t, 1, p.Page)
	require.Equal(t, 20, p.PerPage)
	require.Equal(t, 3, p.TotalPages)
	require.Equal(t, 0, p.Offset())

	p = NewPagination(3, 10, 45)
	require.Equal(t, 5, p.TotalPages)
	require.Equal(t, 20, p.Offset())

	p = NewPagination(1, 10, 0)
	require.Equal(t, 0, p.TotalPages)
}

func TestFoldSearchTerm(t *testing.T) {
	require.Equal(t, "acido acetilsalicilico", FoldSearchTerm("Ácido Acetilsalicílico"))
	require.Equal(t, "ibuprofeno", FoldSearchTerm("  Ibuprofeno "))
	require.Equal(t, "nino", FoldSearchTerm("NIÑO"))
}
