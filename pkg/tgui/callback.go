package tgui

import (
	"errors"
	"fmt"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var (
	ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")
	ErrCallbackDataInvalid = errors.New("tgui: malformed callback_data")
)

// Data formats callback data as "scope:action" or "scope:action:payload".
func Data(scope, action, payload string) (string, error) {
	scope, action = strings.TrimSpace(scope), strings.TrimSpace(action)
	if scope == "" || action == "" || strings.Contains(scope, ":") || strings.Contains(action, ":") {
		return "", fmt.Errorf("%w: %q %q", ErrCallbackDataInvalid, scope, action)
	}
	s := scope + ":" + action
	if payload != "" {
		s += ":" + payload
	}
	if len(s) > MaxCallbackDataLen {
		return "", fmt.Errorf("%w: %d bytes", ErrCallbackDataTooLong, len(s))
	}
	return s, nil
}

// MustData is Data for constant scopes and short payloads; it panics on error.
func MustData(scope, action, payload string) string {
	s, err := Data(scope, action, payload)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseData splits callback data built by Data. The payload may itself
// contain ':'.
func ParseData(data string) (scope, action, payload string, err error) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("%w: %q", ErrCallbackDataInvalid, data)
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, nil
}
