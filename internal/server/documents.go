package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"lrs/internal/domain"
	"lrs/internal/engine"
)

var documentErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusPreconditionFailed,
	http.StatusInternalServerError,
}

// documentHeaders are the request parts shared by every document resource.
type documentHeaders struct {
	Since       string `query:"since" doc:"list only ids updated at or after this time"`
	IfMatch     string `header:"If-Match"`
	IfNoneMatch string `header:"If-None-Match"`
	ContentType string `header:"Content-Type"`
}

func (h documentHeaders) preconditions() engine.Preconditions {
	return engine.Preconditions{IfMatch: h.IfMatch, IfNoneMatch: h.IfNoneMatch}
}

type documentRequest interface {
	address() (engine.DocumentAddress, error)
	headers() documentHeaders
	body() []byte
}

type stateRequest struct {
	ActivityID   string `query:"activityId"`
	Agent        string `query:"agent" doc:"JSON-encoded agent"`
	Registration string `query:"registration"`
	StateID      string `query:"stateId"`
	documentHeaders
	RawBody []byte
}

func (r *stateRequest) address() (engine.DocumentAddress, error) {
	agent, err := parseAgent(r.Agent, "agent")
	if err != nil {
		return engine.DocumentAddress{}, err
	}
	return engine.DocumentAddress{
		Kind:         domain.DocumentState,
		ActivityID:   r.ActivityID,
		Agent:        agent,
		Registration: r.Registration,
		DocID:        r.StateID,
	}, nil
}

func (r *stateRequest) headers() documentHeaders { return r.documentHeaders }
func (r *stateRequest) body() []byte             { return r.RawBody }

type activityProfileRequest struct {
	ActivityID string `query:"activityId"`
	ProfileID  string `query:"profileId"`
	documentHeaders
	RawBody []byte
}

func (r *activityProfileRequest) address() (engine.DocumentAddress, error) {
	return engine.DocumentAddress{
		Kind:       domain.DocumentActivityProfile,
		ActivityID: r.ActivityID,
		DocID:      r.ProfileID,
	}, nil
}

func (r *activityProfileRequest) headers() documentHeaders { return r.documentHeaders }
func (r *activityProfileRequest) body() []byte             { return r.RawBody }

type agentProfileRequest struct {
	Agent     string `query:"agent" doc:"JSON-encoded agent"`
	ProfileID string `query:"profileId"`
	documentHeaders
	RawBody []byte
}

func (r *agentProfileRequest) address() (engine.DocumentAddress, error) {
	agent, err := parseAgent(r.Agent, "agent")
	if err != nil {
		return engine.DocumentAddress{}, err
	}
	return engine.DocumentAddress{
		Kind:  domain.DocumentAgentProfile,
		Agent: agent,
		DocID: r.ProfileID,
	}, nil
}

func (r *agentProfileRequest) headers() documentHeaders { return r.documentHeaders }
func (r *agentProfileRequest) body() []byte             { return r.RawBody }

func registerDocuments(api huma.API, e engine.Engine) {
	registerDocumentResource[stateRequest](api, e, "state", "/activities/state")
	registerDocumentResource[activityProfileRequest](api, e, "activity-profile", "/activities/profile")
	registerDocumentResource[agentProfileRequest](api, e, "agent-profile", "/agents/profile")
}

// registerDocumentResource wires GET, PUT, POST and DELETE for one document
// kind. The kind's request type decides which query parameters address it.
func registerDocumentResource[I any, P interface {
	*I
	documentRequest
}](api huma.API, e engine.Engine, name, path string) {
	huma.Register(api, huma.Operation{
		OperationID: "get-" + name,
		Method:      http.MethodGet,
		Path:        path,
		Summary:     "Get a " + name + " document or list document ids",
		Errors:      documentErrors,
	}, func(ctx context.Context, input *I) (*documentOutput, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		req := P(input)
		addr, err := req.address()
		if err != nil {
			return nil, handleError(err)
		}
		if addr.DocID == "" {
			since := req.headers().Since
			ids, err := e.ListDocuments(ctx, addr, since)
			if err != nil {
				return nil, handleError(err)
			}
			b, err := json.Marshal(ids)
			if err != nil {
				return nil, handleError(err)
			}
			return &documentOutput{ContentType: "application/json", Since: since, Body: b}, nil
		}
		doc, err := e.GetDocument(ctx, addr)
		if err != nil {
			return nil, handleError(err)
		}
		out := &documentOutput{
			ContentType:  doc.ContentType,
			ETag:         quoteETag(doc.ETag),
			LastModified: httpTime(doc.Updated),
			Body:         doc.Content,
		}
		if out.ContentType == "" {
			out.ContentType = "application/octet-stream"
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "put-" + name,
		Method:        http.MethodPut,
		Path:          path,
		Summary:       "Replace a " + name + " document",
		DefaultStatus: http.StatusNoContent,
		Errors:        documentErrors,
	}, func(ctx context.Context, input *I) (*documentWritten, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req := P(input)
		addr, err := req.address()
		if err != nil {
			return nil, handleError(err)
		}
		h := req.headers()
		doc, err := e.PutDocument(ctx, addr, req.body(), h.ContentType, h.preconditions(), user)
		if err != nil {
			return nil, handleError(err)
		}
		return &documentWritten{ETag: quoteETag(doc.ETag)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-" + name,
		Method:        http.MethodPost,
		Path:          path,
		Summary:       "Merge JSON into a " + name + " document",
		DefaultStatus: http.StatusNoContent,
		Errors:        documentErrors,
	}, func(ctx context.Context, input *I) (*documentWritten, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req := P(input)
		addr, err := req.address()
		if err != nil {
			return nil, handleError(err)
		}
		doc, err := e.PostDocument(ctx, addr, req.body(), req.headers().preconditions(), user)
		if err != nil {
			return nil, handleError(err)
		}
		return &documentWritten{ETag: quoteETag(doc.ETag)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-" + name,
		Method:        http.MethodDelete,
		Path:          path,
		Summary:       "Delete a " + name + " document",
		Description:   "Without a document id every state document of the activity, agent and registration is deleted.",
		DefaultStatus: http.StatusNoContent,
		Errors:        documentErrors,
	}, func(ctx context.Context, input *I) (*struct{}, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		req := P(input)
		addr, err := req.address()
		if err != nil {
			return nil, handleError(err)
		}
		if addr.DocID == "" {
			if _, err := e.DeleteDocuments(ctx, addr); err != nil {
				return nil, handleError(err)
			}
			return &struct{}{}, nil
		}
		if err := e.DeleteDocument(ctx, addr, req.headers().preconditions()); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func httpTime(ts string) string {
	t, err := domain.ParseTimestamp(ts)
	if err != nil {
		return ""
	}
	return t.UTC().Format(http.TimeFormat)
}
