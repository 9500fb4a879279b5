package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Store{
		"inmem": NewInMemStore(),
		"redis": NewRedisStore(client),
	}
}

func TestAuthStateRoundTrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			state := AuthState{
				SessionID:         uuid.New(),
				UserID:            uuid.New(),
				PasswordVerified:  true,
				TwoFactorRequired: true,
			}

			require.NoError(t, store.PutAuthState(ctx, state, time.Minute))

			got, err := store.GetAuthState(ctx, state.SessionID)
			require.NoError(t, err)
			assert.Equal(t, state.UserID, got.UserID)
			assert.True(t, got.PasswordVerified)
			assert.True(t, got.TwoFactorRequired)
			assert.False(t, got.FullyAuthenticated())

			got.TwoFactorVerified = true
			got.VerifiedAt = time.Now().UTC()
			require.NoError(t, store.PutAuthState(ctx, got, time.Minute))

			updated, err := store.GetAuthState(ctx, state.SessionID)
			require.NoError(t, err)
			assert.True(t, updated.FullyAuthenticated())

			require.NoError(t, store.DeleteAuthState(ctx, state.SessionID))
			_, err = store.GetAuthState(ctx, state.SessionID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestGetAuthState_Missing(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetAuthState(context.Background(), uuid.New())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestPendingEnrollment_LastWriterWins(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			userID := uuid.New()

			first := PendingEnrollment{
				UserID:    userID,
				Secret:    "FIRSTSECRETAAAAAAAAAAAAAAAAAAAAA",
				ExpiresAt: time.Now().Add(5 * time.Minute),
			}
			require.NoError(t, store.PutPendingEnrollment(ctx, first))

			second := first
			second.Secret = "SECONDSECRETAAAAAAAAAAAAAAAAAAAA"
			require.NoError(t, store.PutPendingEnrollment(ctx, second))

			got, err := store.GetPendingEnrollment(ctx, userID)
			require.NoError(t, err)
			assert.Equal(t, second.Secret, got.Secret, "newest candidate must replace the older one")

			require.NoError(t, store.DeletePendingEnrollment(ctx, userID))
			_, err = store.GetPendingEnrollment(ctx, userID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestPendingEnrollment_Expiry(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("redis TTL eviction", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		store := NewRedisStore(client)

		enrollment := PendingEnrollment{
			UserID:    userID,
			Secret:    "JBSWY3DPEHPK3PXP",
			ExpiresAt: time.Now().Add(2 * time.Minute),
		}
		require.NoError(t, store.PutPendingEnrollment(ctx, enrollment))

		_, err := store.GetPendingEnrollment(ctx, userID)
		require.NoError(t, err)

		mr.FastForward(3 * time.Minute)

		_, err = store.GetPendingEnrollment(ctx, userID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("redis rejects already-expired record", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		store := NewRedisStore(client)

		err := store.PutPendingEnrollment(ctx, PendingEnrollment{
			UserID:    userID,
			Secret:    "JBSWY3DPEHPK3PXP",
			ExpiresAt: time.Now().Add(-time.Second),
		})
		assert.Error(t, err)
	})

	t.Run("inmem drops expired on read", func(t *testing.T) {
		store := NewInMemStore()
		enrollment := PendingEnrollment{
			UserID:    userID,
			Secret:    "JBSWY3DPEHPK3PXP",
			ExpiresAt: time.Now().Add(2 * time.Minute),
		}
		require.NoError(t, store.PutPendingEnrollment(ctx, enrollment))

		_, err := store.GetPendingEnrollment(ctx, userID)
		require.NoError(t, err)

		store.now = func() time.Time { return time.Now().Add(3 * time.Minute) }

		_, err = store.GetPendingEnrollment(ctx, userID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
