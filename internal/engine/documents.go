package engine

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"lrs/internal/domain"
	"lrs/internal/errors"
	"lrs/internal/repo"
)

// DocumentAddress names a document or, without DocID, the set of documents
// under one owner.
type DocumentAddress struct {
	Kind         domain.DocumentKind
	ActivityID   string
	Agent        *domain.Agent
	Registration string
	DocID        string
}

// Preconditions carries the raw If-Match / If-None-Match header values.
type Preconditions struct {
	IfMatch     string
	IfNoneMatch string
}

func (p Preconditions) empty() bool {
	return strings.TrimSpace(p.IfMatch) == "" && strings.TrimSpace(p.IfNoneMatch) == ""
}

// ETag returns the entity tag for document content.
func ETag(content []byte) string {
	sum := sha1.Sum(content)
	return hex.EncodeToString(sum[:])
}

// key validates addr for its kind and builds the storage key. needID says
// whether a document id is required.
func (addr DocumentAddress) key(needID bool) (repo.DocumentKey, error) {
	k := repo.DocumentKey{Kind: addr.Kind, ActivityID: addr.ActivityID, Registration: addr.Registration, DocID: addr.DocID}
	idField := "profileId"
	switch addr.Kind {
	case domain.DocumentState:
		idField = "stateId"
		if addr.ActivityID == "" {
			return k, domain.ValidationError{Field: "activityId", Reason: "required"}
		}
		if addr.Agent == nil {
			return k, domain.ValidationError{Field: "agent", Reason: "required"}
		}
	case domain.DocumentActivityProfile:
		if addr.ActivityID == "" {
			return k, domain.ValidationError{Field: "activityId", Reason: "required"}
		}
		if addr.Agent != nil || addr.Registration != "" {
			return k, domain.ValidationError{Field: "agent", Reason: "not accepted for activity profiles"}
		}
	case domain.DocumentAgentProfile:
		if addr.Agent == nil {
			return k, domain.ValidationError{Field: "agent", Reason: "required"}
		}
		if addr.ActivityID != "" || addr.Registration != "" {
			return k, domain.ValidationError{Field: "activityId", Reason: "not accepted for agent profiles"}
		}
	default:
		return k, domain.ValidationError{Field: "kind", Reason: "unknown document kind " + string(addr.Kind)}
	}
	if addr.Agent != nil {
		agentKey, err := addr.Agent.IdentityKey()
		if err != nil {
			return k, err
		}
		k.AgentKey = agentKey
	}
	if addr.Registration != "" {
		reg, err := uuid.Parse(addr.Registration)
		if err != nil {
			return k, domain.ValidationError{Field: "registration", Reason: "must be a UUID"}
		}
		k.Registration = reg.String()
	}
	if needID && addr.DocID == "" {
		return k, domain.ValidationError{Field: idField, Reason: "required"}
	}
	return k, nil
}

// etagList splits an If-Match style header into bare tags.
func etagList(header string) []string {
	var tags []string
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(part)
		tag = strings.TrimPrefix(tag, "W/")
		tag = strings.Trim(tag, `"`)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func etagMatches(header, etag string) bool {
	for _, tag := range etagList(header) {
		if tag == "*" || tag == etag {
			return true
		}
	}
	return false
}

// checkPreconditions compares the caller's expectations with the current
// document, nil when absent. requireOnOverwrite makes an unconditional
// change of an existing document fail.
func checkPreconditions(current *domain.Document, pre Preconditions, requireOnOverwrite bool) error {
	if strings.TrimSpace(pre.IfMatch) != "" {
		if current == nil {
			return domain.PreconditionFailedError{Reason: "document does not exist"}
		}
		if !etagMatches(pre.IfMatch, current.ETag) {
			return domain.PreconditionFailedError{Reason: "If-Match does not match the current ETag"}
		}
	}
	if strings.TrimSpace(pre.IfNoneMatch) != "" && current != nil && etagMatches(pre.IfNoneMatch, current.ETag) {
		return domain.PreconditionFailedError{Reason: "document already exists"}
	}
	if requireOnOverwrite && current != nil && pre.empty() {
		return domain.PreconditionFailedError{Reason: "If-Match or If-None-Match is required to change an existing document"}
	}
	return nil
}

func (e Engine) requireETag(kind domain.DocumentKind) bool {
	return kind != domain.DocumentState && e.Config.Documents.RequireETagForProfiles
}

func (e Engine) checkSize(content []byte) error {
	if max := e.Config.Documents.MaxBytes; max > 0 && int64(len(content)) > max {
		return domain.ValidationError{Field: "body", Reason: "document exceeds the size limit"}
	}
	return nil
}

// GetDocument returns one document.
func (e Engine) GetDocument(ctx context.Context, addr DocumentAddress) (domain.Document, error) {
	k, err := addr.key(true)
	if err != nil {
		return domain.Document{}, err
	}
	d, err := e.Repo.GetDocument(ctx, e.DB, k)
	if err != nil {
		return domain.Document{}, notFound(err, "document", addr.DocID)
	}
	return d, nil
}

// PutDocument replaces a document. The precondition check and the write
// happen in one transaction.
func (e Engine) PutDocument(ctx context.Context, addr DocumentAddress, content []byte, contentType string, pre Preconditions, user string) (domain.Document, error) {
	k, err := addr.key(true)
	if err != nil {
		return domain.Document{}, err
	}
	if err := e.checkSize(content); err != nil {
		return domain.Document{}, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()
	current, err := e.currentDocument(ctx, tx, k)
	if err != nil {
		return domain.Document{}, err
	}
	if err := checkPreconditions(current, pre, e.requireETag(k.Kind)); err != nil {
		return domain.Document{}, err
	}
	d := e.newDocument(k, content, contentType, user)
	if err := e.Repo.UpsertDocument(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, errors.Wrap(err, "commit")
	}
	e.log().Infow("document stored", "kind", k.Kind, "id", k.DocID, "etag", d.ETag)
	return d, nil
}

// PostDocument merges a JSON object into the stored JSON object, top-level
// keys of content winning. Without a stored document content is stored as is.
func (e Engine) PostDocument(ctx context.Context, addr DocumentAddress, content []byte, pre Preconditions, user string) (domain.Document, error) {
	k, err := addr.key(true)
	if err != nil {
		return domain.Document{}, err
	}
	if err := e.checkSize(content); err != nil {
		return domain.Document{}, err
	}
	var incoming map[string]json.RawMessage
	if err := json.Unmarshal(content, &incoming); err != nil || incoming == nil {
		return domain.Document{}, domain.ValidationError{Field: "body", Reason: "must be a JSON object"}
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()
	current, err := e.currentDocument(ctx, tx, k)
	if err != nil {
		return domain.Document{}, err
	}
	if err := checkPreconditions(current, pre, false); err != nil {
		return domain.Document{}, err
	}
	merged := incoming
	if current != nil {
		var existing map[string]json.RawMessage
		if err := json.Unmarshal(current.Content, &existing); err != nil || existing == nil {
			return domain.Document{}, domain.ValidationError{Field: "body", Reason: "stored document is not a JSON object"}
		}
		for key, v := range incoming {
			existing[key] = v
		}
		merged = existing
	}
	body, err := json.Marshal(merged)
	if err != nil {
		return domain.Document{}, errors.Wrap(err, "encode merged document")
	}
	if err := e.checkSize(body); err != nil {
		return domain.Document{}, err
	}
	d := e.newDocument(k, body, "application/json", user)
	if err := e.Repo.UpsertDocument(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, errors.Wrap(err, "commit")
	}
	e.log().Infow("document merged", "kind", k.Kind, "id", k.DocID, "etag", d.ETag)
	return d, nil
}

// DeleteDocument removes one document. Deleting a missing document without
// an If-Match succeeds.
func (e Engine) DeleteDocument(ctx context.Context, addr DocumentAddress, pre Preconditions) error {
	k, err := addr.key(true)
	if err != nil {
		return err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	current, err := e.currentDocument(ctx, tx, k)
	if err != nil {
		return err
	}
	if err := checkPreconditions(current, pre, false); err != nil {
		return err
	}
	if _, err := e.Repo.DeleteDocument(ctx, tx, k); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	e.log().Infow("document deleted", "kind", k.Kind, "id", k.DocID)
	return nil
}

// DeleteDocuments removes every state document of an activity, agent and
// optional registration.
func (e Engine) DeleteDocuments(ctx context.Context, addr DocumentAddress) (int64, error) {
	if addr.Kind != domain.DocumentState {
		return 0, domain.ValidationError{Field: "profileId", Reason: "required"}
	}
	k, err := addr.key(false)
	if err != nil {
		return 0, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.DeleteDocuments(ctx, tx, k)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit")
	}
	e.log().Infow("documents deleted", "kind", k.Kind, "activity", k.ActivityID, "count", n)
	return n, nil
}

// ListDocuments returns the ids stored under addr's owner, optionally only
// those updated at or after since.
func (e Engine) ListDocuments(ctx context.Context, addr DocumentAddress, since string) ([]string, error) {
	k, err := addr.key(false)
	if err != nil {
		return nil, err
	}
	if since != "" {
		if since, err = domain.NormalizeTimestamp(since); err != nil {
			return nil, domain.ValidationError{Field: "since", Reason: "must be RFC 3339"}
		}
	}
	return e.Repo.ListDocumentIDs(ctx, e.DB, k, since)
}

func (e Engine) currentDocument(ctx context.Context, q repo.DBTX, k repo.DocumentKey) (*domain.Document, error) {
	d, err := e.Repo.GetDocument(ctx, q, k)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (e Engine) newDocument(k repo.DocumentKey, content []byte, contentType, user string) domain.Document {
	if content == nil {
		content = []byte{}
	}
	return domain.Document{
		Kind:         k.Kind,
		ActivityID:   k.ActivityID,
		AgentKey:     k.AgentKey,
		Registration: k.Registration,
		ID:           k.DocID,
		Content:      content,
		ContentType:  contentType,
		ETag:         ETag(content),
		Updated:      domain.FormatTime(e.now()),
		User:         user,
	}
}
