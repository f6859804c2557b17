package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/coverchain/policy-server-go/internal/errors"
	"github.com/coverchain/policy-server-go/internal/service"
)

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, apperrors.ValidationError("Request body too large")
		}
		return nil, apperrors.ValidationError("Failed to read request body")
	}
	return bytes.TrimSpace(body), nil
}

// decodeStrict reads a JSON object body, rejects keys outside allowed and
// decodes the rest into dst when dst is non-nil. The raw fields are returned
// for callers that need to tell absent keys from explicit nulls.
func decodeStrict(r *http.Request, allowed []string, dst any) (map[string]json.RawMessage, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	return decodeObject(body, allowed, dst)
}

// decodeOptional is decodeStrict for endpoints whose body may be omitted.
func decodeOptional(r *http.Request, allowed []string, dst any) error {
	body, err := readBody(r)
	if err != nil || len(body) == 0 {
		return err
	}
	_, err = decodeObject(body, allowed, dst)
	return err
}

func decodeObject(body []byte, allowed []string, dst any) (map[string]json.RawMessage, error) {
	if len(body) == 0 {
		return nil, apperrors.ValidationError("Request body must be a JSON object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, apperrors.ValidationError("Request body must be a JSON object")
	}

	if unknown := service.UnknownKeys(fields, allowed); len(unknown) > 0 {
		return nil, apperrors.UnknownFields(unknown)
	}

	if dst != nil {
		if err := json.Unmarshal(body, dst); err != nil {
			return nil, apperrors.ValidationError("Request body has fields of the wrong type")
		}
	}
	return fields, nil
}
