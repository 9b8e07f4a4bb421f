package server

import (
	"encoding/json"

	"lrs/internal/domain"
)

// StatementResult is the body of a filtered statement listing.
type StatementResult struct {
	Statements []domain.Statement `json:"statements"`
	More       string             `json:"more"`
}

// rawJSON is a pre-encoded JSON response. Statements render through their own
// marshalers so the body bypasses schema-driven encoding.
type rawJSON struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

func newRawJSON(v any) (*rawJSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, handleError(err)
	}
	return &rawJSON{ContentType: "application/json", Body: b}, nil
}

// documentOutput carries a single document or, for list requests, a JSON
// array of document ids.
type documentOutput struct {
	ContentType  string `header:"Content-Type"`
	ETag         string `header:"ETag"`
	LastModified string `header:"Last-Modified"`
	Since        string `header:"Since"`
	Body         []byte
}

type documentWritten struct {
	ETag string `header:"ETag"`
}
