// Package episode builds add_memory requests for the memory graph.
//
// An episode is the unit of ingestion: a body of text, JSON or a chat
// message that the graph extracts entities and facts from, optionally
// steered by custom entity and edge types.
package episode

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"graphmem/internal/customtypes"
	"graphmem/internal/validation"
)

// Source says how the graph should interpret an episode body.
type Source string

const (
	SourceText    Source = "text"
	SourceJSON    Source = "json"
	SourceMessage Source = "message"
)

// ParseSource resolves a source name. An empty string means text.
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case "", SourceText:
		return SourceText, nil
	case SourceJSON:
		return SourceJSON, nil
	case SourceMessage:
		return SourceMessage, nil
	}
	return "", fmt.Errorf("%w: %q (want text, json or message)", ErrInvalidSource, s)
}

var (
	// ErrInvalidSource is returned for unknown source kinds.
	ErrInvalidSource = errors.New("invalid episode source")

	// ErrInvalidBody is returned when a json episode body does not parse.
	ErrInvalidBody = errors.New("invalid episode body")

	// ErrInvalidTypes is returned when the attached type set fails validation.
	ErrInvalidTypes = errors.New("invalid custom types")
)

// Request is an episode to be ingested.
type Request struct {
	Name              string               `json:"name" validate:"required,max=256"`
	Body              string               `json:"episode_body" validate:"required"`
	Source            Source               `json:"source" validate:"omitempty,oneof=text json message"`
	SourceDescription string               `json:"source_description" validate:"max=512"`
	GroupID           string               `json:"group_id" validate:"groupid"`
	UUID              string               `json:"uuid,omitempty" validate:"omitempty,uuid"`
	Types             *customtypes.TypeSet `json:"-" validate:"-"`
}

// Defaults fills unset optional fields.
type Defaults struct {
	GroupID string
	Source  Source
}

// Normalize applies defaults in place.
func (r *Request) Normalize(d Defaults) {
	if r.Source == "" {
		r.Source = d.Source
	}
	if r.Source == "" {
		r.Source = SourceText
	}
	if r.GroupID == "" {
		r.GroupID = d.GroupID
	}
}

// Validate checks the request without building it.
func (r *Request) Validate() error {
	if err := validation.Get().Struct(r); err != nil {
		return err
	}
	if r.Source == SourceJSON && !json.Valid([]byte(r.Body)) {
		return fmt.Errorf("%w: source is json but the body does not parse", ErrInvalidBody)
	}
	if err := r.Types.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTypes, err)
	}
	return nil
}

// Build validates the request and returns the add_memory tool arguments.
func (r *Request) Build(d Defaults) (map[string]interface{}, error) {
	r.Normalize(d)
	if err := r.Validate(); err != nil {
		return nil, err
	}

	args := map[string]interface{}{
		"name":               r.Name,
		"episode_body":       r.Body,
		"source":             string(r.Source),
		"source_description": r.SourceDescription,
	}
	if r.GroupID != "" {
		args["group_id"] = r.GroupID
	}
	if r.UUID != "" {
		args["uuid"] = r.UUID
	}
	for k, v := range r.Types.Arguments() {
		args[k] = v
	}
	return args, nil
}

// FromArguments decodes add_memory tool arguments back into a Request.
// The proxy uses it to validate what an agent sent before forwarding.
func FromArguments(args map[string]interface{}) (*Request, error) {
	r := &Request{}
	var err error
	if r.Name, err = stringArg(args, "name"); err != nil {
		return nil, err
	}
	if r.Body, err = stringArg(args, "episode_body"); err != nil {
		return nil, err
	}
	src, err := stringArg(args, "source")
	if err != nil {
		return nil, err
	}
	if r.Source, err = ParseSource(src); err != nil {
		return nil, err
	}
	if r.SourceDescription, err = stringArg(args, "source_description"); err != nil {
		return nil, err
	}
	if r.GroupID, err = stringArg(args, "group_id"); err != nil {
		return nil, err
	}
	if r.UUID, err = stringArg(args, "uuid"); err != nil {
		return nil, err
	}

	raw := make(map[string]interface{})
	for _, key := range []string{"entity_types", "edge_types", "edge_type_map"} {
		v, ok := args[key]
		if !ok || v == nil {
			continue
		}
		// Some clients send the definitions as an encoded JSON string.
		if s, ok := v.(string); ok {
			if strings.TrimSpace(s) == "" {
				continue
			}
			var decoded map[string]interface{}
			if err := json.Unmarshal([]byte(s), &decoded); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidTypes, key, customtypes.ErrInvalidJSON)
			}
			v = decoded
		}
		raw[key] = v
	}
	if len(raw) > 0 {
		set, err := customtypes.TypeSetFromMap(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTypes, err)
		}
		r.Types = set
	}
	return r, nil
}

func stringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %s must be a string, got %T", key, v)
	}
	return s, nil
}
