// Package users is the user and messaging subsystem. Users live as JSON
// records with unique-lookup pointers and regional index sets; messages are
// ordinary cache entities of the message family whose creations and
// soft-deletes flow through the same change-log pipeline the catalog uses.
package users

import "time"

// Status is the account status ladder. Transitions are monotonic: a user
// never moves back down.
type Status string

const (
	StatusUnregistered    Status = "unregistered"
	StatusRegistered      Status = "registered"
	StatusERPNextCustomer Status = "erpnext_customer"
	StatusVerified        Status = "verified"
)

var statusRank = map[Status]int{
	StatusUnregistered:    0,
	StatusRegistered:      1,
	StatusERPNextCustomer: 2,
	StatusVerified:        3,
}

// Valid reports whether s names a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// AtLeast reports whether s is at or above other on the ladder.
func (s Status) AtLeast(other Status) bool {
	return statusRank[s] >= statusRank[other]
}

// User is one account record.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	GoogleID string `json:"google_id,omitempty"`

	PasswordHash string `json:"password_hash,omitempty"`

	Status   Status `json:"status"`
	Name     string `json:"name,omitempty"`
	Province string `json:"province,omitempty"`
	City     string `json:"city,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// Response is the user with sensitive fields removed.
type Response struct {
	ID       string    `json:"id"`
	Username string    `json:"username,omitempty"`
	Email    string    `json:"email,omitempty"`
	Phone    string    `json:"phone,omitempty"`
	Status   Status    `json:"status"`
	Name     string    `json:"name,omitempty"`
	Province string    `json:"province,omitempty"`
	City     string    `json:"city,omitempty"`
	Created  time.Time `json:"created_at"`
}

// ToResponse strips credentials and device identity from the record.
func (u *User) ToResponse() *Response {
	return &Response{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Phone:    u.Phone,
		Status:   u.Status,
		Name:     u.Name,
		Province: u.Province,
		City:     u.City,
		Created:  u.CreatedAt,
	}
}
