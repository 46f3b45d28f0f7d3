package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/lawfirm-bff/internal/autherr"
	"github.com/pribylovaa/lawfirm-bff/internal/metrics"
	"github.com/pribylovaa/lawfirm-bff/internal/models"
	"github.com/pribylovaa/lawfirm-bff/mocks"
)

var jdoe = &models.User{ID: 1, Username: "jdoe"}

func newRelay(t *testing.T) (*Relay, *mocks.MockGateway, *prometheus.Registry) {
	t.Helper()
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	reg := prometheus.NewRegistry()
	rl := NewRelay(gw, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.New(reg))
	return rl, gw, reg
}

func unauthorized() error {
	return autherr.New(autherr.ErrUnauthorized, "Token expired")
}

// Сценарий A: просроченный access, валидный refresh -> один refresh, один повторный me.
func TestResolve_ExpiredAccess_RefreshOnceRetryOnce(t *testing.T) {
	t.Parallel()

	rl, gw, _ := newRelay(t)

	gomock.InOrder(
		gw.EXPECT().Me(gomock.Any(), "expired-abc").Return(nil, unauthorized()),
		gw.EXPECT().Refresh(gomock.Any(), "valid-xyz").Return("new-123", nil).Times(1),
		gw.EXPECT().Me(gomock.Any(), "new-123").Return(jdoe, nil).Times(1),
	)

	res := rl.Resolve(context.Background(), Tokens{Access: "expired-abc", Refresh: "valid-xyz"})
	require.True(t, res.Authenticated())
	require.Equal(t, jdoe, res.User)
	require.Equal(t, StateRefreshed, res.State)
	require.Equal(t, "new-123", res.AccessToken)
	require.NoError(t, res.Err)
}

// Сценарий B: оба токена отклонены -> Unauthenticated, ровно один refresh.
func TestResolve_BothRejected(t *testing.T) {
	t.Parallel()

	rl, gw, _ := newRelay(t)

	gomock.InOrder(
		gw.EXPECT().Me(gomock.Any(), "expired-abc").Return(nil, unauthorized()),
		gw.EXPECT().Refresh(gomock.Any(), "expired-xyz").
			Return("", autherr.New(autherr.ErrRefreshTokenInvalid, "Refresh token expired")).Times(1),
	)

	res := rl.Resolve(context.Background(), Tokens{Access: "expired-abc", Refresh: "expired-xyz"})
	require.False(t, res.Authenticated())
	require.Equal(t, StateExpired, res.State)
	require.Empty(t, res.AccessToken)
	require.ErrorIs(t, res.Err, autherr.ErrRefreshTokenInvalid)
}

// После refresh повторный me снова отклонён -> второго refresh нет.
func TestResolve_RetriedMeRejected_NoSecondRefresh(t *testing.T) {
	t.Parallel()

	rl, gw, reg := newRelay(t)

	gomock.InOrder(
		gw.EXPECT().Me(gomock.Any(), "a1").Return(nil, unauthorized()),
		gw.EXPECT().Refresh(gomock.Any(), "r1").Return("a2", nil).Times(1),
		gw.EXPECT().Me(gomock.Any(), "a2").Return(nil, unauthorized()).Times(1),
	)

	res := rl.Resolve(context.Background(), Tokens{Access: "a1", Refresh: "r1"})
	require.False(t, res.Authenticated())
	require.Equal(t, StateExpired, res.State)
	require.Equal(t, "a2", res.AccessToken)

	const want = `
# HELP bff_session_refresh_total Access token refresh attempts made by the relay.
# TYPE bff_session_refresh_total counter
bff_session_refresh_total{result="ok"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want), "bff_session_refresh_total"))
}

func TestResolve_ActiveAccess_NoRefresh(t *testing.T) {
	t.Parallel()

	rl, gw, _ := newRelay(t)
	gw.EXPECT().Me(gomock.Any(), "good").Return(jdoe, nil)

	res := rl.Resolve(context.Background(), Tokens{Access: "good", Refresh: "r"})
	require.Equal(t, StateActive, res.State)
	require.Equal(t, jdoe, res.User)
	require.Empty(t, res.AccessToken)
}

// Нет cookie: ни одного вызова апстрима, сколько бы раз ни спрашивали.
func TestResolve_Anonymous_NoUpstreamCalls(t *testing.T) {
	t.Parallel()

	rl, _, _ := newRelay(t)

	for i := 0; i < 5; i++ {
		res := rl.Resolve(context.Background(), Tokens{})
		require.Nil(t, res.User)
		require.Equal(t, StateAnonymous, res.State)
	}
}

func TestResolve_RefreshFirst(t *testing.T) {
	t.Parallel()

	rl, gw, _ := newRelay(t)

	gomock.InOrder(
		gw.EXPECT().Refresh(gomock.Any(), "valid-xyz").Return("new-123", nil),
		gw.EXPECT().Me(gomock.Any(), "new-123").Return(jdoe, nil),
	)

	res := rl.Resolve(context.Background(), Tokens{Refresh: "valid-xyz"})
	require.Equal(t, StateRefreshed, res.State)
	require.Equal(t, "new-123", res.AccessToken)
	require.Equal(t, jdoe, res.User)
}

func TestResolve_RefreshFirst_Rejected(t *testing.T) {
	t.Parallel()

	rl, gw, _ := newRelay(t)
	gw.EXPECT().Refresh(gomock.Any(), "bad").Return("", autherr.ErrRefreshTokenInvalid)

	res := rl.Resolve(context.Background(), Tokens{Refresh: "bad"})
	require.Nil(t, res.User)
	require.Equal(t, StateExpired, res.State)
}

// Unauthorized без refresh-токена: refresh не вызывается.
func TestResolve_UnauthorizedWithoutRefresh(t *testing.T) {
	t.Parallel()

	rl, gw, _ := newRelay(t)
	gw.EXPECT().Me(gomock.Any(), "expired").Return(nil, unauthorized())

	res := rl.Resolve(context.Background(), Tokens{Access: "expired"})
	require.Nil(t, res.User)
	require.Equal(t, StateExpired, res.State)
}

// Сбой апстрима на me — аноним без refresh.
func TestResolve_UpstreamFailure_DegradesToAnonymous(t *testing.T) {
	t.Parallel()

	rl, gw, _ := newRelay(t)
	gw.EXPECT().Me(gomock.Any(), "a").Return(nil, autherr.Wrap(autherr.ErrUpstream, errors.New("dial tcp: refused")))

	res := rl.Resolve(context.Background(), Tokens{Access: "a", Refresh: "r"})
	require.Nil(t, res.User)
	require.Equal(t, StateUnavailable, res.State)
	require.ErrorIs(t, res.Err, autherr.ErrUpstream)
}

func TestEnsureAccess(t *testing.T) {
	t.Parallel()

	rl, gw, _ := newRelay(t)

	access, refreshed, err := rl.EnsureAccess(context.Background(), Tokens{Access: "a", Refresh: "r"})
	require.NoError(t, err)
	require.False(t, refreshed)
	require.Equal(t, "a", access)

	gw.EXPECT().Refresh(gomock.Any(), "r").Return("a2", nil)
	access, refreshed, err = rl.EnsureAccess(context.Background(), Tokens{Refresh: "r"})
	require.NoError(t, err)
	require.True(t, refreshed)
	require.Equal(t, "a2", access)

	_, _, err = rl.EnsureAccess(context.Background(), Tokens{})
	require.ErrorIs(t, err, autherr.ErrUnauthorized)
}

func TestRefresh_MissingToken_NoUpstreamCall(t *testing.T) {
	t.Parallel()

	rl, _, _ := newRelay(t)

	_, err := rl.Refresh(context.Background(), Tokens{Access: "a"})
	require.ErrorIs(t, err, autherr.ErrRefreshTokenInvalid)
}

func TestSignOut_ErrorIsReturned(t *testing.T) {
	t.Parallel()

	rl, gw, _ := newRelay(t)
	gw.EXPECT().SignOut(gomock.Any(), "a").Return(autherr.ErrUpstream)

	require.ErrorIs(t, rl.SignOut(context.Background(), Tokens{Access: "a"}), autherr.ErrUpstream)
}

func TestSignIn_PassesThrough(t *testing.T) {
	t.Parallel()

	rl, gw, _ := newRelay(t)
	in := models.SignInRequest{Username: "jdoe", Password: "pw"}

	gw.EXPECT().SignIn(gomock.Any(), in).Return(&models.AuthResult{User: *jdoe, AccessToken: "a", RefreshToken: "r"}, nil)
	res, err := rl.SignIn(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "a", res.AccessToken)

	gw.EXPECT().SignIn(gomock.Any(), in).Return(nil, autherr.New(autherr.ErrInvalidCredentials, "Invalid credentials"))
	_, err = rl.SignIn(context.Background(), in)
	require.ErrorIs(t, err, autherr.ErrInvalidCredentials)
	require.Equal(t, "Invalid credentials", autherr.Message(err))
}

func TestSignUp_Conflict(t *testing.T) {
	t.Parallel()

	rl, gw, _ := newRelay(t)
	in := models.SignUpRequest{Username: "jdoe", Email: "jdoe@example.com", PhoneNumber: "+77011234567", Password: "s3cret-pass"}

	gw.EXPECT().SignUp(gomock.Any(), in).Return(nil, autherr.New(autherr.ErrConflict, "User already exists"))
	_, err := rl.SignUp(context.Background(), in)
	require.ErrorIs(t, err, autherr.ErrConflict)
}
