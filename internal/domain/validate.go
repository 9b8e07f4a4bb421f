package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var sha1Hex = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

var interactionComponents = map[string][]string{
	"true-false":   nil,
	"choice":       {"choices"},
	"fill-in":      nil,
	"long-fill-in": nil,
	"matching":     {"source", "target"},
	"performance":  {"steps"},
	"sequencing":   {"choices"},
	"likert":       {"scale"},
	"numeric":      nil,
	"other":        nil,
}

func isIRI(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != ""
}

// Validate checks the identifier rules for an agent or group.
func (a Agent) Validate(field string) error {
	switch a.ObjectType {
	case "", "Agent", "Group":
	default:
		return ValidationError{Field: field + ".objectType", Reason: "must be Agent or Group"}
	}
	_, _, n := a.IFI()
	if !a.IsGroup() {
		if len(a.Member) > 0 {
			return ValidationError{Field: field + ".member", Reason: "only groups have members"}
		}
		if n != 1 {
			return ValidationError{Field: field, Reason: fmt.Sprintf("exactly one of mbox, mbox_sha1sum, openid, account is required, got %d", n)}
		}
	} else {
		if n > 1 {
			return ValidationError{Field: field, Reason: "a group carries at most one identifier"}
		}
		if n == 0 && len(a.Member) == 0 {
			return ValidationError{Field: field + ".member", Reason: "an anonymous group needs members"}
		}
		for i, m := range a.Member {
			mf := fmt.Sprintf("%s.member[%d]", field, i)
			if m.IsGroup() {
				return ValidationError{Field: mf, Reason: "a group member must be an agent"}
			}
			if err := m.Validate(mf); err != nil {
				return err
			}
		}
	}
	if a.Mbox != "" && !strings.HasPrefix(a.Mbox, "mailto:") {
		return ValidationError{Field: field + ".mbox", Reason: "must start with mailto:"}
	}
	if a.MboxSHA1Sum != "" && !sha1Hex.MatchString(a.MboxSHA1Sum) {
		return ValidationError{Field: field + ".mbox_sha1sum", Reason: "must be a hex sha1 digest"}
	}
	if a.OpenID != "" && !isIRI(a.OpenID) {
		return ValidationError{Field: field + ".openid", Reason: "must be an IRI"}
	}
	if a.Account != nil {
		if strings.TrimSpace(a.Account.HomePage) == "" || strings.TrimSpace(a.Account.Name) == "" {
			return ValidationError{Field: field + ".account", Reason: "homePage and name are required"}
		}
		if !isIRI(a.Account.HomePage) {
			return ValidationError{Field: field + ".account.homePage", Reason: "must be an IRI"}
		}
	}
	return nil
}

func (v Verb) Validate() error {
	if strings.TrimSpace(v.ID) == "" {
		return ValidationError{Field: "verb.id", Reason: "required"}
	}
	if !isIRI(v.ID) {
		return ValidationError{Field: "verb.id", Reason: "must be an IRI"}
	}
	return nil
}

func (a Activity) Validate(field string) error {
	if strings.TrimSpace(a.ID) == "" {
		return ValidationError{Field: field + ".id", Reason: "required"}
	}
	if !isIRI(a.ID) {
		return ValidationError{Field: field + ".id", Reason: "must be an IRI"}
	}
	if a.Definition != nil {
		return a.Definition.validate(field + ".definition")
	}
	return nil
}

func (d ActivityDefinition) validate(field string) error {
	lists := map[string][]InteractionComponent{
		"choices": d.Choices,
		"scale":   d.Scale,
		"source":  d.Source,
		"target":  d.Target,
		"steps":   d.Steps,
	}
	allowed := map[string]bool{}
	if d.InteractionType != "" {
		comps, ok := interactionComponents[d.InteractionType]
		if !ok {
			return ValidationError{Field: field + ".interactionType", Reason: "unknown interaction type " + d.InteractionType}
		}
		for _, c := range comps {
			allowed[c] = true
		}
	} else if len(d.CorrectResponsesPattern) > 0 {
		return ValidationError{Field: field + ".correctResponsesPattern", Reason: "requires interactionType"}
	}
	for name, items := range lists {
		if len(items) == 0 {
			continue
		}
		if !allowed[name] {
			return ValidationError{Field: field + "." + name, Reason: "not used by interaction type " + d.InteractionType}
		}
		seen := map[string]bool{}
		for _, c := range items {
			if strings.TrimSpace(c.ID) == "" {
				return ValidationError{Field: field + "." + name, Reason: "component id required"}
			}
			if seen[c.ID] {
				return ValidationError{Field: field + "." + name, Reason: "duplicate component id " + c.ID}
			}
			seen[c.ID] = true
		}
	}
	return nil
}

func (r Result) Validate() error {
	if r.Score == nil {
		return nil
	}
	s := r.Score
	if s.Scaled != nil && (*s.Scaled < -1 || *s.Scaled > 1) {
		return ValidationError{Field: "result.score.scaled", Reason: "must be between -1 and 1"}
	}
	if s.Min != nil && s.Max != nil && *s.Min > *s.Max {
		return ValidationError{Field: "result.score", Reason: "min exceeds max"}
	}
	if s.Raw != nil {
		if s.Min != nil && *s.Raw < *s.Min {
			return ValidationError{Field: "result.score.raw", Reason: "below min"}
		}
		if s.Max != nil && *s.Raw > *s.Max {
			return ValidationError{Field: "result.score.raw", Reason: "above max"}
		}
	}
	return nil
}

func (c Context) Validate(field string) error {
	if c.Registration != "" {
		if _, err := uuid.Parse(c.Registration); err != nil {
			return ValidationError{Field: field + ".registration", Reason: "must be a UUID"}
		}
	}
	if c.Instructor != nil {
		if err := c.Instructor.Validate(field + ".instructor"); err != nil {
			return err
		}
	}
	if c.Team != nil {
		if !c.Team.IsGroup() {
			return ValidationError{Field: field + ".team", Reason: "must be a Group"}
		}
		if err := c.Team.Validate(field + ".team"); err != nil {
			return err
		}
	}
	for key, list := range c.ContextActivities {
		if !isContextActivityKey(key) {
			return ValidationError{Field: field + ".contextActivities", Reason: "unknown key " + key}
		}
		for i, a := range list {
			if err := a.Validate(fmt.Sprintf("%s.contextActivities.%s[%d]", field, key, i)); err != nil {
				return err
			}
		}
	}
	if c.Statement != nil {
		if _, err := uuid.Parse(c.Statement.ID); err != nil {
			return ValidationError{Field: field + ".statement.id", Reason: "must be a UUID"}
		}
	}
	return nil
}

func isContextActivityKey(key string) bool {
	for _, k := range ContextActivityKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Validate checks an object without recursing into variant restrictions of
// sub-statements, which the object resolver enforces.
func (o StatementObject) Validate(field string) error {
	switch o.Kind {
	case ObjectActivity:
		if o.Activity == nil {
			break
		}
		return o.Activity.Validate(field)
	case ObjectAgent:
		if o.Agent == nil {
			break
		}
		return o.Agent.Validate(field)
	case ObjectStatementRef:
		if o.StatementRef == nil {
			break
		}
		if _, err := uuid.Parse(o.StatementRef.ID); err != nil {
			return ValidationError{Field: field + ".id", Reason: "must be a UUID"}
		}
		return nil
	case ObjectSubStatement:
		if o.SubStatement == nil {
			break
		}
		s := o.SubStatement
		if err := s.Actor.Validate(field + ".actor"); err != nil {
			return err
		}
		if err := s.Verb.Validate(); err != nil {
			return err
		}
		if err := s.Object.Validate(field + ".object"); err != nil {
			return err
		}
		if s.Result != nil {
			if err := s.Result.Validate(); err != nil {
				return err
			}
		}
		if s.Context != nil {
			if err := s.Context.Validate(field + ".context"); err != nil {
				return err
			}
		}
		if s.Timestamp != "" {
			if _, err := ParseTimestamp(s.Timestamp); err != nil {
				return ValidationError{Field: field + ".timestamp", Reason: "must be RFC 3339"}
			}
		}
		return nil
	}
	return ValidationError{Field: field, Reason: "required"}
}

// Validate checks a statement as submitted by a client.
func (s Statement) Validate() error {
	if s.ID != "" {
		if _, err := uuid.Parse(s.ID); err != nil {
			return ValidationError{Field: "id", Reason: "must be a UUID"}
		}
	}
	if err := s.Actor.Validate("actor"); err != nil {
		return err
	}
	if err := s.Verb.Validate(); err != nil {
		return err
	}
	if err := s.Object.Validate("object"); err != nil {
		return err
	}
	if s.IsVoiding() && s.Object.Kind != ObjectStatementRef {
		return ValidationError{Field: "object", Reason: "a voiding statement must reference a statement"}
	}
	if s.Authority != nil {
		if err := s.Authority.Validate("authority"); err != nil {
			return err
		}
	}
	if s.Result != nil {
		if err := s.Result.Validate(); err != nil {
			return err
		}
	}
	if s.Context != nil {
		if err := s.Context.Validate("context"); err != nil {
			return err
		}
	}
	if s.Timestamp != "" {
		if _, err := ParseTimestamp(s.Timestamp); err != nil {
			return ValidationError{Field: "timestamp", Reason: "must be RFC 3339"}
		}
	}
	return nil
}
