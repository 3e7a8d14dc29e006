// Package aliases maps alternate command tokens to canonical command names.
//
// The aliases file is TOML keyed by canonical name:
//
//	play = ["p", "add"]
//	skip = ["s", "next"]
package aliases

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// Resolver maps an alias to a canonical command name, "" when unknown.
type Resolver interface {
	Get(alias string) string
}

// Aliases is an immutable alias table.
type Aliases struct {
	table map[string]string
}

// Load reads the aliases file at path. A missing file yields an empty table.
func Load(path string) (*Aliases, error) {
	raw := map[string][]string{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load aliases %s: %w", path, err)
		}
		log.Warn().Str("path", path).Msg("Aliases file not found, aliases disabled")
	}
	return New(raw), nil
}

// Parse decodes aliases from TOML text.
func Parse(data string) (*Aliases, error) {
	raw := map[string][]string{}
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("parse aliases: %w", err)
	}
	return New(raw), nil
}

// New builds the alias table from canonical name -> aliases. When an alias is
// claimed by several commands the first one in sorted order keeps it.
func New(raw map[string][]string) *Aliases {
	a := &Aliases{table: make(map[string]string)}
	for cmd, list := range raw {
		cmd = strings.ToLower(strings.TrimSpace(cmd))
		for _, alias := range list {
			alias = strings.ToLower(strings.TrimSpace(alias))
			if alias == "" {
				continue
			}
			if prev, dup := a.table[alias]; dup && prev < cmd {
				log.Warn().Str("alias", alias).Str("kept", prev).Str("dropped", cmd).Msg("Duplicate alias")
				continue
			}
			a.table[alias] = cmd
		}
	}
	return a
}

// Get implements Resolver.
func (a *Aliases) Get(alias string) string {
	if a == nil {
		return ""
	}
	return a.table[alias]
}

// Len returns the number of aliases.
func (a *Aliases) Len() int { return len(a.table) }
