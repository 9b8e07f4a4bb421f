package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"lrs/internal/domain"
	"lrs/internal/engine"
	"lrs/internal/errors"
)

var statementErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

// decodeStatements accepts a single statement object or an array of them.
func decodeStatements(body []byte) ([]domain.Statement, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, domain.ValidationError{Field: "body", Reason: "required"}
	}
	if trimmed[0] == '[' {
		var batch []domain.Statement
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, bodyError(err)
		}
		return batch, nil
	}
	var s domain.Statement
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, bodyError(err)
	}
	return []domain.Statement{s}, nil
}

func bodyError(err error) error {
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return domain.ValidationError{Field: "body", Reason: "malformed JSON: " + err.Error()}
}

func registerStatements(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "put-statement",
		Method:        http.MethodPut,
		Path:          "/statements",
		Summary:       "Store a statement under a caller-chosen id",
		DefaultStatus: http.StatusNoContent,
		Errors:        statementErrors,
	}, func(ctx context.Context, input *struct {
		StatementID string `query:"statementId" required:"true"`
		RawBody     []byte
	}) (*struct{}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		batch, err := decodeStatements(input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		if len(batch) != 1 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "PUT takes a single statement", nil)
		}
		s := batch[0]
		if s.ID != "" && !strings.EqualFold(s.ID, input.StatementID) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "statement id does not match statementId", map[string]any{"statementId": input.StatementID, "id": s.ID})
		}
		s.ID = input.StatementID
		if _, err := e.StoreStatement(ctx, s, user); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "post-statements",
		Method:      http.MethodPost,
		Path:        "/statements",
		Summary:     "Store one statement or an array of statements",
		Errors:      statementErrors,
	}, func(ctx context.Context, input *struct {
		RawBody []byte
	}) (*struct {
		Body []string `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		batch, err := decodeStatements(input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		ids, err := e.StoreStatements(ctx, batch, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: ids}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-statements",
		Method:      http.MethodGet,
		Path:        "/statements",
		Summary:     "Get one statement or list statements",
		Description: "With statementId or voidedStatementId a single statement is returned; otherwise a StatementResult filtered by the remaining parameters.",
		Errors:      statementErrors,
	}, func(ctx context.Context, input *struct {
		StatementID       string `query:"statementId"`
		VoidedStatementID string `query:"voidedStatementId"`
		Agent             string `query:"agent" doc:"JSON-encoded agent"`
		Verb              string `query:"verb"`
		Activity          string `query:"activity"`
		Registration      string `query:"registration"`
		Since             string `query:"since"`
		Until             string `query:"until"`
		Limit             int    `query:"limit"`
		Ascending         bool   `query:"ascending"`
	}) (*rawJSON, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		filtered := input.Agent != "" || input.Verb != "" || input.Activity != "" || input.Registration != "" ||
			input.Since != "" || input.Until != "" || input.Limit != 0 || input.Ascending
		single := input.StatementID != "" || input.VoidedStatementID != ""
		switch {
		case input.StatementID != "" && input.VoidedStatementID != "":
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "statementId and voidedStatementId are exclusive", nil)
		case single && filtered:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "statementId cannot be combined with filters", nil)
		case input.StatementID != "":
			s, err := e.GetStatement(ctx, input.StatementID, false)
			if err != nil {
				return nil, handleError(err)
			}
			return newRawJSON(s)
		case input.VoidedStatementID != "":
			s, err := e.GetStatement(ctx, input.VoidedStatementID, true)
			if err != nil {
				return nil, handleError(err)
			}
			return newRawJSON(s)
		}
		agent, err := parseAgent(input.Agent, "agent")
		if err != nil {
			return nil, handleError(err)
		}
		if input.Limit < 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "limit must not be negative", nil)
		}
		items, err := e.ListStatements(ctx, engine.StatementQuery{
			Agent:        agent,
			VerbID:       input.Verb,
			ActivityID:   input.Activity,
			Registration: input.Registration,
			Since:        input.Since,
			Until:        input.Until,
			Limit:        input.Limit,
			Ascending:    input.Ascending,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return newRawJSON(StatementResult{Statements: items})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-statement",
		Method:        http.MethodDelete,
		Path:          "/statements",
		Summary:       "Delete a statement and release the entities only it used",
		DefaultStatus: http.StatusNoContent,
		Errors:        statementErrors,
	}, func(ctx context.Context, input *struct {
		StatementID string `query:"statementId" required:"true"`
	}) (*struct{}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.DeleteStatement(ctx, input.StatementID, user); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
