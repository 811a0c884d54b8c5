package auth

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/sakif/itmo-auth/internal/model"
)

// Profile is the decoded userinfo response. The provider returns many more
// claims than are stored; they are kept so the session token and logs can
// see them, but only the fields ToUser reads are persisted.
//
// Numbers are held as json.Number (the decoder runs with UseNumber) so a
// large ISU never passes through float64.
type Profile map[string]any

// ISU returns the profile's ISU and whether it is truthy. The provider sends
// it as a number, but a numeric string is accepted too. Zero, empty and
// non-numeric values are not truthy.
func (p Profile) ISU() (int64, bool) {
	var (
		isu int64
		err error
	)

	switch v := p["isu"].(type) {
	case json.Number:
		isu, err = v.Int64()
		if err != nil {
			isu, err = integral(v.Float64())
		}
	case string:
		isu, err = strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case float64:
		isu, err = integral(v, nil)
	case int64:
		isu = v
	case int:
		isu = int64(v)
	default:
		return 0, false
	}

	if err != nil || isu == 0 {
		return 0, false
	}
	return isu, true
}

// String returns key as a string, or "" when it is absent or null.
func (p Profile) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// ToUser maps the profile onto a User. ok is false when the profile has no
// truthy ISU.
func (p Profile) ToUser() (user *model.User, ok bool) {
	isu, ok := p.ISU()
	if !ok {
		return nil, false
	}
	return &model.User{
		ISU:       isu,
		Name:      p.String("name"),
		AvatarURL: p.optional("avatar_url"),
		Email:     p.optional("email"),
		Nickname:  p.optional("nickname"),
		Birthdate: p.optional("birthdate"),
	}, true
}

func (p Profile) optional(key string) *string {
	s := p.String(key)
	if s == "" {
		return nil
	}
	return &s
}

var errNotIntegral = errors.New("auth: not an integer")

func integral(f float64, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, errNotIntegral
	}
	return int64(f), nil
}
