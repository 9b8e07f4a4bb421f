package lrssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal LRS HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credentials are set. Servers
	// accept it only with auth.allow_actor_header enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/xapi.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Account struct {
	HomePage string `json:"homePage"`
	Name     string `json:"name"`
}

// Agent identifies a person or group.
type Agent struct {
	ObjectType  string   `json:"objectType,omitempty"`
	Name        string   `json:"name,omitempty"`
	Mbox        string   `json:"mbox,omitempty"`
	MboxSHA1Sum string   `json:"mbox_sha1sum,omitempty"`
	OpenID      string   `json:"openid,omitempty"`
	Account     *Account `json:"account,omitempty"`
	Member      []Agent  `json:"member,omitempty"`
}

type Verb struct {
	ID      string            `json:"id"`
	Display map[string]string `json:"display,omitempty"`
}

// Statement carries the object and the optional parts as raw JSON so every
// object variant round-trips unchanged.
type Statement struct {
	ID        string          `json:"id,omitempty"`
	Actor     Agent           `json:"actor"`
	Verb      Verb            `json:"verb"`
	Object    json.RawMessage `json:"object"`
	Result    json.RawMessage `json:"result,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
	Authority *Agent          `json:"authority,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Stored    string          `json:"stored,omitempty"`
	Voided    bool            `json:"voided,omitempty"`
}

// ActivityObject renders an activity reference for Statement.Object.
func ActivityObject(id string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"objectType": "Activity", "id": id})
	return b
}

// StatementRefObject renders a statement reference, e.g. for voiding.
func StatementRefObject(id string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"objectType": "StatementRef", "id": id})
	return b
}

type StatementResult struct {
	Statements []Statement `json:"statements"`
	More       string      `json:"more"`
}

// StatementFilter narrows ListStatements. Zero values do not filter.
type StatementFilter struct {
	Agent        *Agent
	Verb         string
	Activity     string
	Registration string
	Since        time.Time
	Until        time.Time
	Limit        int
	Ascending    bool
}

// Person lists the identifiers stored for one agent.
type Person struct {
	ObjectType  string    `json:"objectType"`
	Name        []string  `json:"name,omitempty"`
	Mbox        []string  `json:"mbox,omitempty"`
	MboxSHA1Sum []string  `json:"mbox_sha1sum,omitempty"`
	OpenID      []string  `json:"openid,omitempty"`
	Account     []Account `json:"account,omitempty"`
}

// DocumentResource selects one of the three document endpoints.
type DocumentResource string

const (
	State           DocumentResource = "activities/state"
	ActivityProfile DocumentResource = "activities/profile"
	AgentProfile    DocumentResource = "agents/profile"
)

// DocumentRef addresses a document, or with an empty ID the documents of
// one owner.
type DocumentRef struct {
	Resource     DocumentResource
	ActivityID   string
	Agent        *Agent
	Registration string
	ID           string
}

// Precondition carries If-Match / If-None-Match values. ETags may be given
// with or without quotes.
type Precondition struct {
	IfMatch     string
	IfNoneMatch string
}

type Document struct {
	Content      []byte
	ContentType  string
	ETag         string
	LastModified string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StoreStatement stores s under id.
func (c *Client) StoreStatement(ctx context.Context, id string, s Statement) error {
	q := url.Values{"statementId": {id}}
	_, err := c.do(ctx, http.MethodPut, "statements?"+q.Encode(), jsonBody(s), nil, nil)
	return err
}

// StoreStatements stores one or more statements and returns their ids.
func (c *Client) StoreStatements(ctx context.Context, batch ...Statement) ([]string, error) {
	var ids []string
	_, err := c.do(ctx, http.MethodPost, "statements", jsonBody(batch), nil, &ids)
	return ids, err
}

func (c *Client) GetStatement(ctx context.Context, id string) (Statement, error) {
	var s Statement
	_, err := c.do(ctx, http.MethodGet, "statements?"+url.Values{"statementId": {id}}.Encode(), nil, nil, &s)
	return s, err
}

func (c *Client) GetVoidedStatement(ctx context.Context, id string) (Statement, error) {
	var s Statement
	_, err := c.do(ctx, http.MethodGet, "statements?"+url.Values{"voidedStatementId": {id}}.Encode(), nil, nil, &s)
	return s, err
}

func (c *Client) ListStatements(ctx context.Context, f StatementFilter) (StatementResult, error) {
	q := url.Values{}
	if f.Agent != nil {
		b, err := json.Marshal(f.Agent)
		if err != nil {
			return StatementResult{}, err
		}
		q.Set("agent", string(b))
	}
	setIf(q, "verb", f.Verb)
	setIf(q, "activity", f.Activity)
	setIf(q, "registration", f.Registration)
	if !f.Since.IsZero() {
		q.Set("since", f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		q.Set("until", f.Until.UTC().Format(time.RFC3339Nano))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Ascending {
		q.Set("ascending", "true")
	}
	endpoint := "statements"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp StatementResult
	_, err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &resp)
	return resp, err
}

// DeleteStatement deletes a statement the caller owns.
func (c *Client) DeleteStatement(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "statements?"+url.Values{"statementId": {id}}.Encode(), nil, nil, nil)
	return err
}

func (c *Client) GetActivity(ctx context.Context, activityID string) (json.RawMessage, error) {
	var a json.RawMessage
	_, err := c.do(ctx, http.MethodGet, "activities?"+url.Values{"activityId": {activityID}}.Encode(), nil, nil, &a)
	return a, err
}

func (c *Client) GetPerson(ctx context.Context, agent Agent) (Person, error) {
	b, err := json.Marshal(agent)
	if err != nil {
		return Person{}, err
	}
	var p Person
	_, err = c.do(ctx, http.MethodGet, "agents?"+url.Values{"agent": {string(b)}}.Encode(), nil, nil, &p)
	return p, err
}

// GetDocument fetches a document's content and metadata.
func (c *Client) GetDocument(ctx context.Context, ref DocumentRef) (Document, error) {
	endpoint, err := ref.endpoint("")
	if err != nil {
		return Document{}, err
	}
	res, err := c.do(ctx, http.MethodGet, endpoint, nil, nil, nil)
	if err != nil {
		return Document{}, err
	}
	return Document{
		Content:      res.body,
		ContentType:  res.header.Get("Content-Type"),
		ETag:         strings.Trim(res.header.Get("ETag"), `"`),
		LastModified: res.header.Get("Last-Modified"),
	}, nil
}

// PutDocument replaces a document and returns its new ETag.
func (c *Client) PutDocument(ctx context.Context, ref DocumentRef, content []byte, contentType string, pre Precondition) (string, error) {
	return c.writeDocument(ctx, http.MethodPut, ref, content, contentType, pre)
}

// MergeDocument merges a JSON object into a document and returns its new ETag.
func (c *Client) MergeDocument(ctx context.Context, ref DocumentRef, content []byte, pre Precondition) (string, error) {
	return c.writeDocument(ctx, http.MethodPost, ref, content, "application/json", pre)
}

// DeleteDocument deletes a document, or every state document of the owner
// when ref.ID is empty.
func (c *Client) DeleteDocument(ctx context.Context, ref DocumentRef, pre Precondition) error {
	endpoint, err := ref.endpoint("")
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodDelete, endpoint, nil, pre.headers(), nil)
	return err
}

// ListDocuments returns the document ids of ref's owner updated at or after
// since (zero for all).
func (c *Client) ListDocuments(ctx context.Context, ref DocumentRef, since time.Time) ([]string, error) {
	ref.ID = ""
	var s string
	if !since.IsZero() {
		s = since.UTC().Format(time.RFC3339Nano)
	}
	endpoint, err := ref.endpoint(s)
	if err != nil {
		return nil, err
	}
	var ids []string
	_, err = c.do(ctx, http.MethodGet, endpoint, nil, nil, &ids)
	return ids, err
}

func (c *Client) writeDocument(ctx context.Context, method string, ref DocumentRef, content []byte, contentType string, pre Precondition) (string, error) {
	endpoint, err := ref.endpoint("")
	if err != nil {
		return "", err
	}
	headers := pre.headers()
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	res, err := c.do(ctx, method, endpoint, rawBody(content), headers, nil)
	if err != nil {
		return "", err
	}
	return strings.Trim(res.header.Get("ETag"), `"`), nil
}

func (r DocumentRef) endpoint(since string) (string, error) {
	q := url.Values{}
	setIf(q, "activityId", r.ActivityID)
	if r.Agent != nil {
		b, err := json.Marshal(r.Agent)
		if err != nil {
			return "", err
		}
		q.Set("agent", string(b))
	}
	setIf(q, "registration", r.Registration)
	idParam := "profileId"
	if r.Resource == State {
		idParam = "stateId"
	}
	setIf(q, idParam, r.ID)
	setIf(q, "since", since)
	return string(r.Resource) + "?" + q.Encode(), nil
}

func (p Precondition) headers() map[string]string {
	h := map[string]string{}
	if p.IfMatch != "" {
		h["If-Match"] = quote(p.IfMatch)
	}
	if p.IfNoneMatch != "" {
		h["If-None-Match"] = quote(p.IfNoneMatch)
	}
	return h
}

func quote(etag string) string {
	if etag == "*" || strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, "W/") {
		return etag
	}
	return `"` + etag + `"`
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

type requestBody struct {
	data []byte
	err  error
	raw  bool
}

func jsonBody(v any) *requestBody {
	b, err := json.Marshal(v)
	return &requestBody{data: b, err: err}
}

func rawBody(b []byte) *requestBody {
	return &requestBody{data: b, raw: true}
}

type response struct {
	header http.Header
	body   []byte
}

func (c *Client) do(ctx context.Context, method, endpoint string, body *requestBody, headers map[string]string, out any) (response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var payload []byte
	if body != nil {
		if body.err != nil {
			return response{}, body.err
		}
		payload = body.data
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return response{}, err
	}
	if body == nil || !body.raw {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return response{}, apiErr
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return response{}, err
		}
	}
	return response{header: resp.Header, body: data}, nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
