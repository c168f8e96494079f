package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/vitalhome/syncengine/internal/errors"
	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// RouteDef describes how an (action, entity) pair maps onto the backend API.
type RouteDef struct {
	Method              string
	PathTemplate        string
	RequiresIdempotency bool
}

// Request is a routed, wire-ready request: payload is already snake_case
// with canonical timestamps because payload structs carry wire tags.
type Request struct {
	Method string
	Path   string
	Body   json.RawMessage
}

var pathParamPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

// Route resolves the HTTP binding for a mutation. The switch is exhaustive
// over the action/entity enums; anything outside it is a permanent routing
// error, never dispatched.
func Route(action domain.Action, entityType domain.EntityType) (RouteDef, error) {
	switch entityType {
	case domain.EntityDevice:
		switch action {
		case domain.ActionCreate:
			return RouteDef{Method: http.MethodPost, PathTemplate: "/v1/devices", RequiresIdempotency: true}, nil
		case domain.ActionUpdate:
			return RouteDef{Method: http.MethodPatch, PathTemplate: "/v1/devices/{device_id}/state", RequiresIdempotency: true}, nil
		case domain.ActionDelete:
			return RouteDef{Method: http.MethodDelete, PathTemplate: "/v1/devices/{device_id}", RequiresIdempotency: true}, nil
		}
	case domain.EntityProfile:
		switch action {
		case domain.ActionCreate:
			return RouteDef{Method: http.MethodPost, PathTemplate: "/v1/profiles", RequiresIdempotency: true}, nil
		case domain.ActionUpdate:
			return RouteDef{Method: http.MethodPut, PathTemplate: "/v1/profiles/{profile_id}", RequiresIdempotency: true}, nil
		case domain.ActionDelete:
			return RouteDef{Method: http.MethodDelete, PathTemplate: "/v1/profiles/{profile_id}", RequiresIdempotency: true}, nil
		}
	case domain.EntityReading:
		switch action {
		case domain.ActionCreate:
			return RouteDef{Method: http.MethodPost, PathTemplate: "/v1/profiles/{profile_id}/readings", RequiresIdempotency: true}, nil
		case domain.ActionDelete:
			return RouteDef{Method: http.MethodDelete, PathTemplate: "/v1/profiles/{profile_id}/readings/{reading_id}", RequiresIdempotency: true}, nil
		case domain.ActionUpdate:
			// Readings are immutable on the backend.
			return RouteDef{}, errors.Wrap(domain.ErrRouting, "readings cannot be updated")
		}
	}
	return RouteDef{}, errors.Wrapf(domain.ErrRouting, "no route for %s %s", action, entityType)
}

// FetchRoute resolves the GET binding the reconciler uses to fetch
// authoritative server state for an entity.
func FetchRoute(entityType domain.EntityType) (RouteDef, error) {
	switch entityType {
	case domain.EntityDevice:
		return RouteDef{Method: http.MethodGet, PathTemplate: "/v1/devices/{device_id}"}, nil
	case domain.EntityProfile:
		return RouteDef{Method: http.MethodGet, PathTemplate: "/v1/profiles/{profile_id}"}, nil
	case domain.EntityReading:
		return RouteDef{Method: http.MethodGet, PathTemplate: "/v1/profiles/{profile_id}/readings/{reading_id}"}, nil
	}
	return RouteDef{}, errors.Wrapf(domain.ErrRouting, "no fetch route for %s", entityType)
}

// BuildRequest substitutes path parameters from the payload into the route's
// path template. A missing or empty parameter is a permanent routing error.
func BuildRequest(def RouteDef, payload json.RawMessage) (*Request, error) {
	var fields map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, errors.Wrap(domain.ErrRouting, "payload is not an object")
		}
	}

	path := def.PathTemplate
	var buildErr error
	path = pathParamPattern.ReplaceAllStringFunc(path, func(match string) string {
		param := strings.Trim(match, "{}")
		value, ok := fields[param]
		if !ok {
			buildErr = errors.Wrapf(domain.ErrRouting, "missing path parameter %q", param)
			return match
		}
		s := fmt.Sprintf("%v", value)
		if s == "" {
			buildErr = errors.Wrapf(domain.ErrRouting, "empty path parameter %q", param)
			return match
		}
		// Entity ids come from callers; escaping keeps a stray "/" from
		// rewriting the request path.
		return url.PathEscape(s)
	})
	if buildErr != nil {
		return nil, buildErr
	}

	req := &Request{Method: def.Method, Path: path}
	if def.Method != http.MethodGet && def.Method != http.MethodDelete {
		req.Body = payload
	}
	return req, nil
}
