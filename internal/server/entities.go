package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"lrs/internal/domain"
	"lrs/internal/engine"
)

func registerEntities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-activity",
		Method:      http.MethodGet,
		Path:        "/activities",
		Summary:     "Get a stored activity",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActivityID string `query:"activityId" required:"true"`
	}) (*struct {
		Body domain.Activity `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.GetActivity(ctx, input.ActivityID)
		if err != nil {
			return nil, handleError(err)
		}
		a.ObjectType = "Activity"
		return &struct {
			Body domain.Activity `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-person",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "Get the identifiers stored for an agent",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Agent string `query:"agent" required:"true" doc:"JSON-encoded agent"`
	}) (*struct {
		Body domain.Person `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		agent, err := parseAgent(input.Agent, "agent")
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.GetPerson(ctx, *agent)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Person `json:"body"`
		}{Body: p}, nil
	})
}
