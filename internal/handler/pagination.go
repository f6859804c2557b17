package handler

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/coverchain/policy-server-go/internal/errors"
)

// queryInt returns def when the parameter is absent and InvalidInput when it
// is not an integer.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.InvalidInput(name, "must be an integer")
	}
	return v, nil
}

func queryBool(r *http.Request, name string) (*bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperrors.InvalidInput(name, "must be true or false")
	}
	return &v, nil
}

type limitOffset struct {
	Limit  int
	Offset int
}

// parseLimitOffset leaves clamping to the services; it only rejects garbage.
func parseLimitOffset(r *http.Request) (limitOffset, error) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		return limitOffset{}, err
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		return limitOffset{}, err
	}
	return limitOffset{Limit: limit, Offset: offset}, nil
}
