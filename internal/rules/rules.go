// Package rules decides whether a storage request may proceed.
//
// The orchestrator builds a Request for every operation and asks a Validator
// before looking at storage. A Validator error is treated the same as a
// denial.
package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/abduss/storage-emulator/internal/metadata"
)

// Method names the kind of access being requested.
type Method string

const (
	MethodGet    Method = "get"
	MethodList   Method = "list"
	MethodCreate Method = "create"
	MethodUpdate Method = "update"
	MethodDelete Method = "delete"
)

// AuthContext describes the caller. A nil *AuthContext is an anonymous caller.
type AuthContext struct {
	UID   string         `json:"uid"`
	Token map[string]any `json:"token,omitempty"`
	// Admin callers hold the emulator owner credential.
	Admin bool `json:"admin,omitempty"`
}

// Request is the descriptor handed to a Validator.
type Request struct {
	Bucket   string           `json:"bucket"`
	Path     string           `json:"path"`
	Method   Method           `json:"method"`
	Auth     *AuthContext     `json:"auth,omitempty"`
	Resource *metadata.Object `json:"-"`
}

// Validator answers whether a request is allowed.
type Validator interface {
	Validate(ctx context.Context, req Request) (bool, error)
}

// ValidatorFunc adapts a plain function to the Validator interface.
type ValidatorFunc func(ctx context.Context, req Request) (bool, error)

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

type constant bool

func (c constant) Validate(context.Context, Request) (bool, error) {
	return bool(c), nil
}

// AlwaysAllow permits every request.
func AlwaysAllow() Validator { return constant(true) }

// AlwaysDeny rejects every request.
func AlwaysDeny() Validator { return constant(false) }

// Authenticated permits requests that carry a caller identity.
func Authenticated() Validator {
	return ValidatorFunc(func(_ context.Context, req Request) (bool, error) {
		return req.Auth != nil && req.Auth.UID != "", nil
	})
}

// AllowAdmin lets admin callers through and defers everyone else to next.
func AllowAdmin(next Validator) Validator {
	return ValidatorFunc(func(ctx context.Context, req Request) (bool, error) {
		if req.Auth != nil && req.Auth.Admin {
			return true, nil
		}
		return next.Validate(ctx, req)
	})
}

// FromMode builds a validator from its configured name. remoteURL is only used
// by the "remote" mode.
func FromMode(mode, remoteURL string) (Validator, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "allow":
		return AlwaysAllow(), nil
	case "deny":
		return AlwaysDeny(), nil
	case "authenticated":
		return Authenticated(), nil
	case "remote":
		if remoteURL == "" {
			return nil, fmt.Errorf("%w: remote mode needs a url", ErrUnknownMode)
		}
		return NewRemote(remoteURL, nil), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}
