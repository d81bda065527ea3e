package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctf-platform/ctf/internal/fakeserver"
	"github.com/ctf-platform/ctf/internal/logger"
	"github.com/ctf-platform/ctf/internal/model"
	"github.com/ctf-platform/ctf/internal/session"
)

type memStore struct {
	mu    sync.Mutex
	slots map[string]string
}

func (s *memStore) Get(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.slots[name]
	if !ok {
		return "", model.ErrNotFound
	}
	return v, nil
}

func (s *memStore) Put(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots == nil {
		s.slots = make(map[string]string)
	}
	s.slots[name] = value
	return nil
}

func (s *memStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, name)
	return nil
}

var webChallenge = model.Challenge{
	ID:          "web-1",
	Name:        "Cookie Monster",
	Description: "Find the admin cookie.",
	Categories:  []string{"web", "easy"},
	Image:       "ctf/web-1:latest",
}

func setup(t *testing.T, opts ...fakeserver.Option) (*Client, *fakeserver.Server, *memStore) {
	t.Helper()
	opts = append([]fakeserver.Option{
		fakeserver.WithUser("alice", "s3cret"),
		fakeserver.WithChallenge(webChallenge, "flag{cookies}"),
	}, opts...)
	fake := fakeserver.New(opts...)
	srv := fake.Serve()
	t.Cleanup(srv.Close)

	store := &memStore{}
	sc, err := session.Load(context.Background(), store)
	require.NoError(t, err)

	return NewClient(srv.URL, sc, 5*time.Second, logger.Nop()), fake, store
}

func login(t *testing.T, c *Client) {
	t.Helper()
	_, err := c.Login(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
}

func TestClient_LoginStoresToken(t *testing.T) {
	c, _, store := setup(t)

	resp, err := c.Login(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.NotEmpty(t, resp.AccessToken)

	stored, err := store.Get(context.Background(), session.TokenSlot)
	require.NoError(t, err)
	assert.Equal(t, resp.AccessToken, stored)
	assert.Equal(t, resp.AccessToken, c.session.Token())
}

func TestClient_LoginRejected(t *testing.T) {
	c, _, store := setup(t)

	_, err := c.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)

	re, ok := IsResponseError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, re.StatusCode)
	assert.Equal(t, "Incorrect username or password", re.Error())
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = store.Get(context.Background(), session.TokenSlot)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestClient_LoginValidatesLocally(t *testing.T) {
	c, fake, _ := setup(t)

	_, err := c.Login(context.Background(), "", "pw")
	assert.Error(t, err)
	assert.Zero(t, fake.Requests())
}

func TestClient_Register(t *testing.T) {
	c, _, _ := setup(t)

	resp, err := c.Register(context.Background(), "bob", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)

	challenges, err := c.ListChallenges(context.Background())
	require.NoError(t, err)
	assert.Len(t, challenges, 1)

	_, err = c.Register(context.Background(), "bob", "hunter2")
	re, ok := IsResponseError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, re.StatusCode)
	assert.Equal(t, "Username already registered", re.Detail)
}

func TestClient_PrivilegedCallsNeedToken(t *testing.T) {
	c, fake, _ := setup(t)
	ctx := context.Background()

	calls := map[string]func() error{
		"challenges": func() error { _, err := c.ListChallenges(ctx); return err },
		"instances":  func() error { _, err := c.ListInstances(ctx); return err },
		"start":      func() error { _, err := c.StartInstance(ctx, "web-1"); return err },
		"stop":       func() error { return c.StopInstance(ctx, "inst-1") },
		"submit":     func() error { _, err := c.SubmitFlag(ctx, "web-1", "flag{x}"); return err },
		"key":        func() error { return c.SetPublicKey(ctx, "ssh-ed25519 AAAA") },
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, call(), model.ErrMissingContext)
		})
	}
	assert.Zero(t, fake.Requests(), "no request may be sent without a token")
}

func TestClient_ChallengesAndInstances(t *testing.T) {
	c, _, _ := setup(t)
	login(t, c)
	ctx := context.Background()

	challenges, err := c.ListChallenges(ctx)
	require.NoError(t, err)
	require.Len(t, challenges, 1)
	assert.Equal(t, webChallenge, challenges[0])

	instances, err := c.ListInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, instances)

	inst, err := c.StartInstance(ctx, "web-1")
	require.NoError(t, err)
	assert.Equal(t, "web-1", inst.ChallengeID)
	assert.True(t, inst.IsRunning())
	assert.Contains(t, inst.SSHCommand(), "ssh -p ")

	instances, err = c.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst.ID, instances[0].ID)

	require.NoError(t, c.StopInstance(ctx, inst.ID))
	instances, err = c.ListInstances(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusStopped, instances[0].Status)

	err = c.StopInstance(ctx, "inst-404")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = c.StartInstance(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestClient_SubmitFlag(t *testing.T) {
	c, _, _ := setup(t)
	login(t, c)
	ctx := context.Background()

	result, err := c.SubmitFlag(ctx, "web-1", "flag{wrong}")
	require.NoError(t, err)
	assert.False(t, result.Correct)

	result, err = c.SubmitFlag(ctx, "web-1", "flag{cookies}")
	require.NoError(t, err)
	assert.True(t, result.Correct)
	assert.False(t, result.SubmittedAt.IsZero())
}

func TestClient_SetPublicKey(t *testing.T) {
	c, fake, _ := setup(t)
	login(t, c)

	key := "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIOMqqnkVzrm0SdG6UOoqKLsabgH5C9okWi0dh2l9GKJl alice@laptop"
	require.NoError(t, c.SetPublicKey(context.Background(), key))
	assert.Equal(t, key, fake.PublicKey("alice"))
}

func TestClient_ExpiredTokenIsMissingContext(t *testing.T) {
	c, fake, _ := setup(t, fakeserver.WithTokenTTL(time.Second))
	login(t, c)
	before := fake.Requests()

	c.session = withClock(t, c.session, time.Now().Add(time.Minute))

	_, err := c.ListChallenges(context.Background())
	assert.ErrorIs(t, err, model.ErrMissingContext)
	assert.Equal(t, before, fake.Requests())
}

func TestClient_ServerRejectsExpiredToken(t *testing.T) {
	c, fake, _ := setup(t)
	login(t, c)

	fake.Expire(2 * time.Hour)
	_, err := c.ListChallenges(context.Background())
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestClient_Logout(t *testing.T) {
	c, _, store := setup(t)
	login(t, c)

	require.NoError(t, c.Logout(context.Background()))
	_, err := store.Get(context.Background(), session.TokenSlot)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = c.ListChallenges(context.Background())
	assert.ErrorIs(t, err, model.ErrMissingContext)
}

func TestClient_Health(t *testing.T) {
	c, _, _ := setup(t)
	assert.NoError(t, c.Health(context.Background()))
}

func TestResponseError_Messages(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "string detail", status: 400, body: `{"detail":"Instance already running"}`, want: "Instance already running"},
		{name: "structured detail", status: 422, body: `{"detail":[{"loc":["body","flag"],"msg":"field required"}]}`, want: `[{"loc":["body","flag"],"msg":"field required"}]`},
		{name: "plain body", status: 502, body: "bad gateway\n", want: "bad gateway"},
		{name: "empty body", status: 500, body: "", want: "500 Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			sc, err := session.Load(context.Background(), &memStore{})
			require.NoError(t, err)
			c := NewClient(srv.URL, sc, time.Second, logger.Nop())

			err = c.Health(context.Background())
			var re *ResponseError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.status, re.StatusCode)
			assert.Equal(t, tt.want, re.Error())
		})
	}
}
