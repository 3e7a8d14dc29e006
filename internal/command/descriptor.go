// Package command is the static command registry: canonical command names
// mapped to handler descriptors that enumerate their parameters explicitly.
// Dispatch lives in the router; this package only describes, stores and binds.
package command

import (
	"context"
	"fmt"

	"github.com/keshon/musicbot/internal/core"
)

// ParamKind classifies how a handler parameter receives its value.
type ParamKind int

const (
	// Positional pops the next argument token; required.
	Positional ParamKind = iota
	// Optional pops the next argument token, or is skipped when none remain.
	Optional
	// RestJoined receives every remaining token joined by single spaces.
	RestJoined
	// Variadic receives every remaining token as a list.
	Variadic
	// Context is injected from the invocation context, never from tokens.
	Context
)

func (k ParamKind) String() string {
	switch k {
	case Positional:
		return "positional"
	case Optional:
		return "optional"
	case RestJoined:
		return "rest"
	case Variadic:
		return "variadic"
	case Context:
		return "context"
	default:
		return fmt.Sprintf("ParamKind(%d)", int(k))
	}
}

// ContextKey names a context value the router can inject.
type ContextKey string

const (
	CtxMessage         ContextKey = "message"
	CtxChannel         ContextKey = "channel"
	CtxAuthor          ContextKey = "author"
	CtxGuild           ContextKey = "guild"
	CtxPlayer          ContextKey = "player"
	CtxRawPlayer       ContextKey = "_player"
	CtxPermissions     ContextKey = "permissions"
	CtxUserMentions    ContextKey = "user_mentions"
	CtxChannelMentions ContextKey = "channel_mentions"
	CtxVoiceChannel    ContextKey = "voice_channel"
	CtxLeftoverArgs    ContextKey = "leftover_args"
)

// ContextKeys lists the injectable keys in binding order.
var ContextKeys = []ContextKey{
	CtxMessage,
	CtxChannel,
	CtxAuthor,
	CtxGuild,
	CtxPlayer,
	CtxRawPlayer,
	CtxPermissions,
	CtxUserMentions,
	CtxChannelMentions,
	CtxVoiceChannel,
	CtxLeftoverArgs,
}

func validContextKey(k ContextKey) bool {
	for _, c := range ContextKeys {
		if c == k {
			return true
		}
	}
	return false
}

// Param is one declared handler parameter.
type Param struct {
	Name    string
	Kind    ParamKind
	Default string
}

// Ctx declares a context-injected parameter.
func Ctx(key ContextKey) Param { return Param{Name: string(key), Kind: Context} }

// Arg declares a required positional parameter.
func Arg(name string) Param { return Param{Name: name, Kind: Positional} }

// OptArg declares a positional parameter with a default.
func OptArg(name, def string) Param { return Param{Name: name, Kind: Optional, Default: def} }

// Rest declares a keyword-only parameter that takes the remaining text.
func Rest(name string) Param { return Param{Name: name, Kind: RestJoined} }

// Var declares a parameter that takes the remaining tokens as a list.
func Var(name string) Param { return Param{Name: name, Kind: Variadic} }

// HandlerFunc runs a bound invocation. A nil response means nothing to send.
// Returning a core.Signal as the error requests process termination.
type HandlerFunc func(ctx context.Context, inv *Invocation) (*core.Response, error)

// Descriptor describes one command.
type Descriptor struct {
	Name        string
	Description string
	Category    string
	// Usage is an optional usage document; "{command_prefix}" is substituted.
	Usage     string
	Params    []Param
	OwnerOnly bool
	DevOnly   bool
	Handler   HandlerFunc
}

// Validate checks the descriptor for registration.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("command has no name")
	}
	if d.Handler == nil {
		return fmt.Errorf("command %q has no handler", d.Name)
	}

	seen := make(map[string]bool, len(d.Params))
	variadic := 0
	for _, p := range d.Params {
		if p.Name == "" {
			return fmt.Errorf("command %q: unnamed parameter", d.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("command %q: duplicate parameter %q", d.Name, p.Name)
		}
		seen[p.Name] = true

		switch p.Kind {
		case Context:
			if !validContextKey(ContextKey(p.Name)) {
				return fmt.Errorf("command %q: unknown context parameter %q", d.Name, p.Name)
			}
		case Variadic:
			variadic++
		case Positional, Optional, RestJoined:
		default:
			return fmt.Errorf("command %q: parameter %q has invalid kind %v", d.Name, p.Name, p.Kind)
		}
	}
	if variadic > 1 {
		return fmt.Errorf("command %q: more than one variadic parameter", d.Name)
	}
	return nil
}

// Param returns the declared parameter with the given name.
func (d *Descriptor) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}
