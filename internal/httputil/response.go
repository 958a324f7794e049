// Package httputil holds the JSON plumbing shared by the query API and the
// outbound venue client.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	svcerrors "github.com/R3E-Network/spendsave/internal/errors"
)

// maxRequestBody bounds decoded request bodies.
const maxRequestBody = 1 << 20

// APIResponse is the envelope every handler writes.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// WriteJSON writes data in a success envelope.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	write(w, status, APIResponse{Success: true, Data: data})
}

// WriteError maps err to a status code and writes it in an error envelope.
func WriteError(w http.ResponseWriter, err error) {
	write(w, svcerrors.HTTPStatus(err), APIResponse{
		Error: &APIError{Kind: svcerrors.KindName(err), Message: err.Error()},
	})
}

// WriteErrorStatus writes an error envelope with an explicit status, for
// failures that carry no error kind.
func WriteErrorStatus(w http.ResponseWriter, status int, kind, message string) {
	write(w, status, APIResponse{Error: &APIError{Kind: kind, Message: message}})
}

func write(w http.ResponseWriter, status int, body APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// DecodeJSON decodes a bounded request body into dst, rejecting unknown
// fields and trailing data.
func DecodeJSON(r io.Reader, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return svcerrors.New(svcerrors.ErrInvalidInput, "decode", err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return svcerrors.New(svcerrors.ErrInvalidInput, "decode", "unexpected trailing data")
	}
	return nil
}

// readLimited reads at most limit bytes and reports whether r had more.
func readLimited(r io.Reader, limit int64) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}
