// Package model defines the data structures used throughout the application.
package model

import "time"

// User is the local record of an ITMO account.
//
// ISU is the provider's numeric person ID and the natural key: the users
// table carries a UNIQUE constraint on it. ID is our own xid, so primary keys
// are not tied to the provider's numbering.
//
// Once written, a user row is never updated by the sign-in flow. A later
// sign-in with changed profile data still gets the stored values back.
//
// The optional profile fields are pointers so a missing claim stays NULL in
// the database and is omitted from JSON, rather than becoming "".
type User struct {
	ID        string    `json:"id"                   db:"id"`
	ISU       int64     `json:"isu"                  db:"isu"`
	Name      string    `json:"name"                 db:"name"`
	AvatarURL *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	Email     *string   `json:"email,omitempty"      db:"email"`
	Nickname  *string   `json:"nickname,omitempty"   db:"nickname"`
	Birthdate *string   `json:"birthdate,omitempty"  db:"birthdate"`
	CreatedAt time.Time `json:"created_at"           db:"created_at"`
	UpdatedAt time.Time `json:"updated_at"           db:"updated_at"`
}

// AuthenticatedUser is what a successful sign-in returns: the stored user
// plus the locally issued session token.
type AuthenticatedUser struct {
	User
	Token string `json:"token"`
}
