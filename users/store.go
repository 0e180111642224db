package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"edgesync.shamra.dev/kv"
)

// Key layout. The pointer keys form the unique indexes; they hold the user
// id and nothing else.
func userKey(id string) string         { return "user:" + id }
func emailKey(e string) string         { return "email:" + e }
func usernameKey(u string) string      { return "username:" + u }
func phoneKey(p string) string         { return "phone:" + p }
func deviceKey(d string) string        { return "device:" + d }
func googleKey(g string) string        { return "google:" + g }
func provinceKey(p string) string      { return "province:" + p + ":users" }
func cityKey(c string) string          { return "city:" + c + ":users" }
func userMessagesKey(id string) string { return "user:" + id + ":messages" }

// nonRegisteredKey indexes device-only accounts that never registered.
const nonRegisteredKey = "non_registered:users"

// Store persists users and their indexes in the KV store.
type Store struct {
	store *kv.Store
	log   *logrus.Logger
}

// NewStore creates a user store.
func NewStore(store *kv.Store, log *logrus.Logger) *Store {
	return &Store{store: store, log: log}
}

// RegisterRequest carries the fields of a full registration.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
	Province string `json:"province,omitempty"`
	City     string `json:"city,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
}

// CreateUnregistered creates a device-only account, the state every fresh
// app install starts in. The device pointer is unique: a second install on
// the same device returns the existing account.
func (s *Store) CreateUnregistered(ctx context.Context, deviceID string) (*User, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("users: device id required")
	}

	if existing, err := s.GetByDevice(ctx, deviceID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	now := time.Now()
	u := &User{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Status:    StatusUnregistered,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ok, err := s.store.SetNX(ctx, deviceKey(deviceID), u.ID, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with another install on the same device.
		return s.GetByDevice(ctx, deviceID)
	}

	if err := s.save(ctx, u); err != nil {
		return nil, err
	}
	if err := s.store.SAdd(ctx, nonRegisteredKey, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

// Register creates a registered account, upgrading the device's
// unregistered account when one exists. Unique pointers are claimed with
// SetNX so two concurrent registrations cannot share an identity.
func (s *Store) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if req.Username == "" || req.Phone == "" {
		return nil, fmt.Errorf("users: username and phone required")
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:        uuid.NewString(),
		Status:    StatusRegistered,
		CreatedAt: time.Now(),
	}
	if req.DeviceID != "" {
		if existing, err := s.GetByDevice(ctx, req.DeviceID); err == nil {
			if existing.Status.AtLeast(StatusRegistered) {
				return nil, ErrDeviceTaken
			}
			u = existing
			u.Status = StatusRegistered
		} else if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
	}

	claims := []struct {
		key string
		err error
	}{
		{usernameKey(req.Username), ErrUsernameTaken},
		{phoneKey(req.Phone), ErrPhoneTaken},
	}
	if req.Email != "" {
		claims = append(claims, struct {
			key string
			err error
		}{emailKey(req.Email), ErrEmailTaken})
	}

	claimed := []string{}
	for _, c := range claims {
		ok, err := s.store.SetNX(ctx, c.key, u.ID, 0)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Roll back the pointers this attempt already claimed.
			if len(claimed) > 0 {
				_ = s.store.Del(ctx, claimed...)
			}
			return nil, c.err
		}
		claimed = append(claimed, c.key)
	}

	u.Username = req.Username
	u.Email = req.Email
	u.Phone = req.Phone
	u.PasswordHash = hash
	u.Name = req.Name
	u.Province = req.Province
	u.City = req.City
	u.UpdatedAt = time.Now()
	if req.DeviceID != "" {
		u.DeviceID = req.DeviceID
		if _, err := s.store.SetNX(ctx, deviceKey(req.DeviceID), u.ID, 0); err != nil {
			return nil, err
		}
	}

	if err := s.save(ctx, u); err != nil {
		return nil, err
	}

	if err := s.store.SRem(ctx, nonRegisteredKey, u.ID); err != nil {
		return nil, err
	}
	if u.Province != "" {
		if err := s.store.SAdd(ctx, provinceKey(u.Province), u.ID); err != nil {
			return nil, err
		}
	}
	if u.City != "" {
		if err := s.store.SAdd(ctx, cityKey(u.City), u.ID); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// GetByID loads a user record.
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	raw, err := s.store.Get(ctx, userKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("users: decode %s: %w", id, err)
	}
	return &u, nil
}

// GetByUsername resolves the username pointer.
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.getByPointer(ctx, usernameKey(username))
}

// GetByEmail resolves the email pointer.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getByPointer(ctx, emailKey(email))
}

// GetByPhone resolves the phone pointer.
func (s *Store) GetByPhone(ctx context.Context, phone string) (*User, error) {
	return s.getByPointer(ctx, phoneKey(phone))
}

// GetByDevice resolves the device pointer.
func (s *Store) GetByDevice(ctx context.Context, deviceID string) (*User, error) {
	return s.getByPointer(ctx, deviceKey(deviceID))
}

func (s *Store) getByPointer(ctx context.Context, pointerKey string) (*User, error) {
	id, err := s.store.Get(ctx, pointerKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// Authenticate verifies credentials by username or email.
func (s *Store) Authenticate(ctx context.Context, login, password string) (*User, error) {
	u, err := s.GetByUsername(ctx, login)
	if errors.Is(err, ErrUserNotFound) {
		u, err = s.GetByEmail(ctx, login)
	}
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.Deleted || !CheckPassword(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// UpgradeStatus moves a user up the status ladder. Downgrade requests are
// rejected and logged, never applied.
func (s *Store) UpgradeStatus(ctx context.Context, id string, status Status) (*User, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	u, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Status.AtLeast(status) && u.Status != status {
		s.log.WithFields(logrus.Fields{
			"user_id":   id,
			"current":   u.Status,
			"requested": status,
		}).Warn("status downgrade rejected")
		return nil, ErrStatusDowngrade
	}
	if u.Status == status {
		return u, nil
	}

	u.Status = status
	u.UpdatedAt = time.Now()
	if err := s.save(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SoftDelete marks the account deleted and releases its email and username.
// The phone and device pointers are RETAINED so the same phone or device
// cannot re-register a fresh account.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	u, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if u.Deleted {
		return nil
	}

	released := []string{}
	if u.Email != "" {
		released = append(released, emailKey(u.Email))
	}
	if u.Username != "" {
		released = append(released, usernameKey(u.Username))
	}
	if u.GoogleID != "" {
		released = append(released, googleKey(u.GoogleID))
	}
	if len(released) > 0 {
		if err := s.store.Del(ctx, released...); err != nil {
			return err
		}
	}

	if u.Province != "" {
		if err := s.store.SRem(ctx, provinceKey(u.Province), u.ID); err != nil {
			return err
		}
	}
	if u.City != "" {
		if err := s.store.SRem(ctx, cityKey(u.City), u.ID); err != nil {
			return err
		}
	}

	u.Deleted = true
	u.UpdatedAt = time.Now()
	return s.save(ctx, u)
}

// UsersInProvince lists the ids of active users in a province.
func (s *Store) UsersInProvince(ctx context.Context, province string) ([]string, error) {
	return s.store.SMembers(ctx, provinceKey(province))
}

// UsersInCity lists the ids of active users in a city.
func (s *Store) UsersInCity(ctx context.Context, city string) ([]string, error) {
	return s.store.SMembers(ctx, cityKey(city))
}

func (s *Store) save(ctx context.Context, u *User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("users: encode %s: %w", u.ID, err)
	}
	return s.store.Set(ctx, userKey(u.ID), string(data), 0)
}
