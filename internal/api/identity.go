package api

import (
	"net/http"
	"strings"
)

// UserIdHeader carries the caller's identity. Authentication happens in
// front of this service.
const UserIdHeader = "X-User-Id"

const maxUserIdLength = 128

func optionalUser(r *http.Request) (string, error) {
	userId := strings.TrimSpace(r.Header.Get(UserIdHeader))
	if len(userId) > maxUserIdLength {
		return "", CodedErrorf(http.StatusBadRequest, "%s header must be at most %d characters", UserIdHeader, maxUserIdLength)
	}
	return userId, nil
}

func requireUser(r *http.Request) (string, error) {
	userId, err := optionalUser(r)
	if err != nil {
		return "", err
	}
	if userId == "" {
		return "", CodedErrorf(http.StatusUnauthorized, "missing %s header", UserIdHeader)
	}
	return userId, nil
}
