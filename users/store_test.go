package users

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgesync.shamra.dev/kv"
)

func newTestStore(t *testing.T) (*Store, *kv.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store := kv.NewStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewStore(store, log), store
}

func validRequest() RegisterRequest {
	return RegisterRequest{
		Username: "rami",
		Email:    "rami@example.com",
		Phone:    "+963933000111",
		Password: "correct-horse",
		Province: "Homs",
		City:     "Homs",
	}
}

func TestCreateUnregistered(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStore(t)

	u, err := s.CreateUnregistered(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnregistered, u.Status)
	assert.Equal(t, "device-1", u.DeviceID)

	t.Run("same device returns the existing account", func(t *testing.T) {
		again, err := s.CreateUnregistered(ctx, "device-1")
		require.NoError(t, err)
		assert.Equal(t, u.ID, again.ID)
	})

	t.Run("indexed as non-registered", func(t *testing.T) {
		members, err := store.SMembers(ctx, nonRegisteredKey)
		require.NoError(t, err)
		assert.Contains(t, members, u.ID)
	})
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStore(t)

	u, err := s.Register(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, u.Status)
	assert.NotEmpty(t, u.PasswordHash)
	assert.NotEqual(t, "correct-horse", u.PasswordHash)

	t.Run("lookup by every pointer", func(t *testing.T) {
		byUsername, err := s.GetByUsername(ctx, "rami")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byUsername.ID)

		byEmail, err := s.GetByEmail(ctx, "rami@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)

		byPhone, err := s.GetByPhone(ctx, "+963933000111")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byPhone.ID)
	})

	t.Run("regional indexes", func(t *testing.T) {
		ids, err := s.UsersInProvince(ctx, "Homs")
		require.NoError(t, err)
		assert.Contains(t, ids, u.ID)
	})

	t.Run("duplicate username rejected", func(t *testing.T) {
		req := validRequest()
		req.Email = "other@example.com"
		req.Phone = "+963933000222"
		_, err := s.Register(ctx, req)
		assert.ErrorIs(t, err, ErrUsernameTaken)
	})

	t.Run("duplicate phone rejected and claimed pointers rolled back", func(t *testing.T) {
		req := validRequest()
		req.Username = "samer"
		req.Email = "samer@example.com"
		_, err := s.Register(ctx, req)
		assert.ErrorIs(t, err, ErrPhoneTaken)

		// The username pointer claimed before the phone conflict is free
		// again.
		_, err = store.Get(ctx, usernameKey("samer"))
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("short password rejected", func(t *testing.T) {
		req := validRequest()
		req.Username = "short"
		req.Phone = "+963933000999"
		req.Password = "tiny"
		_, err := s.Register(ctx, req)
		assert.ErrorIs(t, err, ErrPasswordTooShort)
	})
}

func TestRegisterUpgradesDeviceAccount(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStore(t)

	anon, err := s.CreateUnregistered(ctx, "device-9")
	require.NoError(t, err)

	req := validRequest()
	req.DeviceID = "device-9"
	u, err := s.Register(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, anon.ID, u.ID, "device account is upgraded, not duplicated")
	assert.Equal(t, StatusRegistered, u.Status)

	members, err := store.SMembers(ctx, nonRegisteredKey)
	require.NoError(t, err)
	assert.NotContains(t, members, u.ID)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Register(ctx, validRequest())
	require.NoError(t, err)

	t.Run("by username", func(t *testing.T) {
		u, err := s.Authenticate(ctx, "rami", "correct-horse")
		require.NoError(t, err)
		assert.Equal(t, "rami", u.Username)
	})

	t.Run("by email", func(t *testing.T) {
		_, err := s.Authenticate(ctx, "rami@example.com", "correct-horse")
		require.NoError(t, err)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := s.Authenticate(ctx, "rami", "wrong")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown login", func(t *testing.T) {
		_, err := s.Authenticate(ctx, "nobody", "whatever")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestUpgradeStatus(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	u, err := s.Register(ctx, validRequest())
	require.NoError(t, err)

	up, err := s.UpgradeStatus(ctx, u.ID, StatusERPNextCustomer)
	require.NoError(t, err)
	assert.Equal(t, StatusERPNextCustomer, up.Status)

	up, err = s.UpgradeStatus(ctx, u.ID, StatusVerified)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, up.Status)

	t.Run("downgrade rejected", func(t *testing.T) {
		_, err := s.UpgradeStatus(ctx, u.ID, StatusRegistered)
		assert.ErrorIs(t, err, ErrStatusDowngrade)

		current, err := s.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusVerified, current.Status)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		up, err := s.UpgradeStatus(ctx, u.ID, StatusVerified)
		require.NoError(t, err)
		assert.Equal(t, StatusVerified, up.Status)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		_, err := s.UpgradeStatus(ctx, u.ID, Status("vip"))
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})
}

func TestSoftDelete(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStore(t)

	req := validRequest()
	req.DeviceID = "device-5"
	u, err := s.Register(ctx, req)
	require.NoError(t, err)

	require.NoError(t, s.SoftDelete(ctx, u.ID))

	t.Run("email and username released", func(t *testing.T) {
		_, err := s.GetByUsername(ctx, "rami")
		assert.ErrorIs(t, err, ErrUserNotFound)
		_, err = s.GetByEmail(ctx, "rami@example.com")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("phone and device pointers retained", func(t *testing.T) {
		byPhone, err := s.GetByPhone(ctx, "+963933000111")
		require.NoError(t, err)
		assert.True(t, byPhone.Deleted)

		byDevice, err := s.GetByDevice(ctx, "device-5")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byDevice.ID)
	})

	t.Run("re-registration with the same phone rejected", func(t *testing.T) {
		req := validRequest()
		req.Username = "fresh"
		req.Email = "fresh@example.com"
		_, err := s.Register(ctx, req)
		assert.ErrorIs(t, err, ErrPhoneTaken)
	})

	t.Run("deleted account cannot authenticate", func(t *testing.T) {
		_, err := s.Authenticate(ctx, "rami", "correct-horse")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("removed from regional indexes", func(t *testing.T) {
		members, err := store.SMembers(ctx, provinceKey("Homs"))
		require.NoError(t, err)
		assert.NotContains(t, members, u.ID)
	})
}

func TestStatusLadder(t *testing.T) {
	assert.True(t, StatusVerified.AtLeast(StatusRegistered))
	assert.True(t, StatusRegistered.AtLeast(StatusRegistered))
	assert.False(t, StatusUnregistered.AtLeast(StatusRegistered))
	assert.True(t, Status("verified").Valid())
	assert.False(t, Status("vip").Valid())
}
