package model

import "time"

// AuthSession is one row of the sign-in audit trail. A row is appended for
// every attempt to resolve a user from an access token, successful or not.
// Rows are never updated or deleted.
//
// ISU is nil when the provider returned no usable profile.
type AuthSession struct {
	ID        int64     `json:"id"            db:"id"`
	Status    bool      `json:"status"        db:"status"`
	ISU       *int64    `json:"isu,omitempty" db:"isu"`
	CreatedAt time.Time `json:"created_at"    db:"created_at"`
}
