package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Epoch values below this are seconds, at or above it milliseconds.
const epochMillisThreshold = 1e12

var errMissing = errors.New("missing")

// NormalizeSession turns any of the payload shapes the auth endpoints produce into a Session.
// Relative expiries are resolved against now.
func NormalizeSession(raw []byte, now time.Time) (Session, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return Session{}, &ValidationError{Err: err}
	}
	if payload == nil {
		return Session{}, &ValidationError{Err: errors.New("empty payload")}
	}
	return normalizeMap(payload, now)
}

func normalizeMap(payload map[string]any, now time.Time) (Session, error) {
	var s Session

	s.AccessToken = firstString(payload, "accessToken", "access_token", "token")
	if s.AccessToken == "" {
		return Session{}, &ValidationError{Field: "accessToken", Err: errMissing}
	}

	expiresAt, err := normalizeExpiry(payload, now)
	if err != nil {
		return Session{}, err
	}
	s.ExpiresAt = expiresAt

	user, err := normalizeUser(payload["user"])
	if err != nil {
		return Session{}, err
	}
	s.User = user

	if security, ok := payload["security"].(map[string]any); ok {
		s.RefreshCSRF = firstString(security, "refreshCsrf", "refresh_csrf")
	}
	if s.RefreshCSRF == "" {
		s.RefreshCSRF = firstString(payload, "refreshCsrf", "refresh_csrf")
	}

	if refresh, ok := payload["refresh"].(map[string]any); ok {
		if v, ok := firstValue(refresh, "expiresAt", "expires_at"); ok {
			if t, err := epochValue(v); err == nil {
				s.RefreshExpiresAt = t
			}
		}
	}
	return s, nil
}

func normalizeExpiry(payload map[string]any, now time.Time) (time.Time, error) {
	if v, ok := firstValue(payload, "expiresAt", "expires_at"); ok {
		t, err := epochValue(v)
		if err != nil {
			return time.Time{}, &ValidationError{Field: "expiresAt", Err: err}
		}
		return t, nil
	}
	if v, ok := firstValue(payload, "expiresIn", "expires_in"); ok {
		seconds, err := numberValue(v)
		if err != nil {
			return time.Time{}, &ValidationError{Field: "expiresIn", Err: err}
		}
		return now.Add(time.Duration(seconds * float64(time.Second))), nil
	}
	if v, ok := payload["expires"].(string); ok {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, &ValidationError{Field: "expires", Err: err}
		}
		return t, nil
	}
	return time.Time{}, &ValidationError{Field: "expiresAt", Err: errMissing}
}

func normalizeUser(v any) (*User, error) {
	fields, ok := v.(map[string]any)
	if !ok {
		return nil, &ValidationError{Field: "user", Err: errMissing}
	}
	user := &User{
		ID:    firstString(fields, "id", "sub", "userId", "user_id"),
		Email: firstString(fields, "email"),
		Name:  firstString(fields, "name"),
		Image: firstString(fields, "image", "picture"),
		Role:  firstString(fields, "role"),
	}
	if user.ID == "" {
		return nil, &ValidationError{Field: "user.id", Err: errMissing}
	}
	if user.Role == "" {
		user.Role = "user"
	}
	return user, nil
}

// epochValue accepts epoch seconds or milliseconds as a number or numeric string, or an RFC3339 string.
func epochValue(v any) (time.Time, error) {
	if s, ok := v.(string); ok {
		if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return time.Parse(time.RFC3339, s)
		}
	}
	n, err := numberValue(v)
	if err != nil {
		return time.Time{}, err
	}
	if n < epochMillisThreshold {
		return time.UnixMilli(int64(n * 1000)), nil
	}
	return time.UnixMilli(int64(n)), nil
}

func numberValue(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func firstValue(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
