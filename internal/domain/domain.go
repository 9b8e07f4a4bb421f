package domain

import (
	"bytes"
	"encoding/json"
)

// VoidedVerbID is the reserved verb whose statements void another statement.
const VoidedVerbID = "http://adlnet.gov/expapi/verbs/voided"

// ObjectKind is the discriminant stored alongside a statement's object reference.
type ObjectKind string

const (
	ObjectActivity     ObjectKind = "Activity"
	ObjectAgent        ObjectKind = "Agent"
	ObjectSubStatement ObjectKind = "SubStatement"
	ObjectStatementRef ObjectKind = "StatementRef"
)

// ObjectPrecedence is the fixed order in which object variants are resolved.
var ObjectPrecedence = []ObjectKind{ObjectActivity, ObjectAgent, ObjectSubStatement, ObjectStatementRef}

type LanguageMap map[string]string

type Account struct {
	HomePage string `json:"homePage"`
	Name     string `json:"name"`
}

// Agent is an individual or, when Member is populated or ObjectType is
// "Group", a group of individuals.
type Agent struct {
	ObjectType  string   `json:"objectType,omitempty" enum:"Agent,Group"`
	Name        string   `json:"name,omitempty"`
	Mbox        string   `json:"mbox,omitempty"`
	MboxSHA1Sum string   `json:"mbox_sha1sum,omitempty"`
	OpenID      string   `json:"openid,omitempty"`
	Account     *Account `json:"account,omitempty"`
	Member      []Agent  `json:"member,omitempty"`
}

func (a Agent) IsGroup() bool {
	return a.ObjectType == "Group"
}

// Person aggregates the identifiers known for one stored agent.
type Person struct {
	ObjectType  string    `json:"objectType"`
	Name        []string  `json:"name,omitempty"`
	Mbox        []string  `json:"mbox,omitempty"`
	MboxSHA1Sum []string  `json:"mbox_sha1sum,omitempty"`
	OpenID      []string  `json:"openid,omitempty"`
	Account     []Account `json:"account,omitempty"`
}

type Verb struct {
	ID      string      `json:"id"`
	Display LanguageMap `json:"display,omitempty"`
}

type InteractionComponent struct {
	ID          string      `json:"id"`
	Description LanguageMap `json:"description,omitempty"`
}

type ActivityDefinition struct {
	Name                    LanguageMap            `json:"name,omitempty"`
	Description             LanguageMap            `json:"description,omitempty"`
	Type                    string                 `json:"type,omitempty"`
	MoreInfo                string                 `json:"moreInfo,omitempty"`
	InteractionType         string                 `json:"interactionType,omitempty"`
	CorrectResponsesPattern []string               `json:"correctResponsesPattern,omitempty"`
	Choices                 []InteractionComponent `json:"choices,omitempty"`
	Scale                   []InteractionComponent `json:"scale,omitempty"`
	Source                  []InteractionComponent `json:"source,omitempty"`
	Target                  []InteractionComponent `json:"target,omitempty"`
	Steps                   []InteractionComponent `json:"steps,omitempty"`
	Extensions              map[string]any         `json:"extensions,omitempty"`
}

type Activity struct {
	ObjectType string              `json:"objectType,omitempty"`
	ID         string              `json:"id"`
	Definition *ActivityDefinition `json:"definition,omitempty"`
}

type Score struct {
	Scaled *float64 `json:"scaled,omitempty"`
	Raw    *float64 `json:"raw,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

type Result struct {
	Success    *bool          `json:"success,omitempty"`
	Completion *bool          `json:"completion,omitempty"`
	Response   string         `json:"response,omitempty"`
	Duration   string         `json:"duration,omitempty"`
	Score      *Score         `json:"score,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// ContextActivityKeys are the accepted keys of a context's contextActivities.
var ContextActivityKeys = []string{"parent", "grouping", "category", "other"}

// ActivityList accepts either a single activity object or an array.
type ActivityList []Activity

func (l *ActivityList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var a Activity
		if err := json.Unmarshal(trimmed, &a); err != nil {
			return err
		}
		*l = ActivityList{a}
		return nil
	}
	var items []Activity
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return err
	}
	*l = items
	return nil
}

type Context struct {
	Registration      string                  `json:"registration,omitempty"`
	Instructor        *Agent                  `json:"instructor,omitempty"`
	Team              *Agent                  `json:"team,omitempty"`
	ContextActivities map[string]ActivityList `json:"contextActivities,omitempty"`
	Revision          string                  `json:"revision,omitempty"`
	Platform          string                  `json:"platform,omitempty"`
	Language          string                  `json:"language,omitempty"`
	Statement         *StatementRef           `json:"statement,omitempty"`
	Extensions        map[string]any          `json:"extensions,omitempty"`
}

type StatementRef struct {
	ObjectType string `json:"objectType"`
	ID         string `json:"id"`
}

// SubStatement is an embedded statement-shaped object. It is never stored as
// a top-level statement and cannot be voided.
type SubStatement struct {
	Actor     Agent           `json:"actor"`
	Verb      Verb            `json:"verb"`
	Object    StatementObject `json:"object"`
	Result    *Result         `json:"result,omitempty"`
	Context   *Context        `json:"context,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// StatementObject is a tagged union over the four object variants. Exactly
// the pointer matching Kind is set.
type StatementObject struct {
	Kind         ObjectKind    `json:"-"`
	Activity     *Activity     `json:"-"`
	Agent        *Agent        `json:"-"`
	SubStatement *SubStatement `json:"-"`
	StatementRef *StatementRef `json:"-"`
}

func ActivityObject(a Activity) StatementObject {
	return StatementObject{Kind: ObjectActivity, Activity: &a}
}

func AgentObject(a Agent) StatementObject {
	return StatementObject{Kind: ObjectAgent, Agent: &a}
}

func SubStatementObject(s SubStatement) StatementObject {
	return StatementObject{Kind: ObjectSubStatement, SubStatement: &s}
}

func RefObject(id string) StatementObject {
	return StatementObject{Kind: ObjectStatementRef, StatementRef: &StatementRef{ObjectType: string(ObjectStatementRef), ID: id}}
}

type subStatementJSON struct {
	ObjectType string `json:"objectType"`
	SubStatement
}

func (o StatementObject) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case ObjectActivity:
		if o.Activity != nil {
			a := *o.Activity
			a.ObjectType = string(ObjectActivity)
			return json.Marshal(a)
		}
	case ObjectAgent:
		if o.Agent != nil {
			a := *o.Agent
			if a.ObjectType == "" {
				a.ObjectType = "Agent"
			}
			return json.Marshal(a)
		}
	case ObjectSubStatement:
		if o.SubStatement != nil {
			return json.Marshal(subStatementJSON{ObjectType: string(ObjectSubStatement), SubStatement: *o.SubStatement})
		}
	case ObjectStatementRef:
		if o.StatementRef != nil {
			r := *o.StatementRef
			r.ObjectType = string(ObjectStatementRef)
			return json.Marshal(r)
		}
	}
	return []byte("null"), nil
}

func (o *StatementObject) UnmarshalJSON(data []byte) error {
	*o = StatementObject{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var probe struct {
		ObjectType string `json:"objectType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	switch probe.ObjectType {
	case "", string(ObjectActivity):
		var a Activity
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		a.ObjectType = string(ObjectActivity)
		*o = StatementObject{Kind: ObjectActivity, Activity: &a}
	case "Agent", "Group":
		var a Agent
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		*o = StatementObject{Kind: ObjectAgent, Agent: &a}
	case string(ObjectSubStatement):
		var s SubStatement
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = StatementObject{Kind: ObjectSubStatement, SubStatement: &s}
	case string(ObjectStatementRef):
		var r StatementRef
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		*o = StatementObject{Kind: ObjectStatementRef, StatementRef: &r}
	default:
		return ValidationError{Field: "object.objectType", Reason: "unknown object type " + probe.ObjectType}
	}
	return nil
}

type Statement struct {
	ID            string          `json:"id"`
	Actor         Agent           `json:"actor"`
	Verb          Verb            `json:"verb"`
	Object        StatementObject `json:"object"`
	Result        *Result         `json:"result,omitempty"`
	Context       *Context        `json:"context,omitempty"`
	Authority     *Agent          `json:"authority,omitempty"`
	Timestamp     string          `json:"timestamp,omitempty" format:"date-time"`
	Stored        string          `json:"stored,omitempty" format:"date-time"`
	Voided        bool            `json:"voided"`
	Authoritative bool            `json:"-"`
	User          string          `json:"-"`
}

// IsVoiding reports whether s uses the reserved voiding verb.
func (s Statement) IsVoiding() bool {
	return s.Verb.ID == VoidedVerbID
}

type DocumentKind string

const (
	DocumentState           DocumentKind = "state"
	DocumentActivityProfile DocumentKind = "activity_profile"
	DocumentAgentProfile    DocumentKind = "agent_profile"
)

type Document struct {
	Kind         DocumentKind `json:"kind"`
	ActivityID   string       `json:"activity_id,omitempty"`
	AgentKey     string       `json:"agent_key,omitempty"`
	Registration string       `json:"registration,omitempty"`
	ID           string       `json:"id"`
	Content      []byte       `json:"-"`
	ContentType  string       `json:"content_type"`
	ETag         string       `json:"etag"`
	Updated      string       `json:"updated" format:"date-time"`
	User         string       `json:"user,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
