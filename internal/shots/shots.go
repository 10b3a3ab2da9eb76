// Package shots holds the shot vocabulary shared by games, practice,
// analytics and normalization.
package shots

import "strings"

// Type classifies how a field-goal attempt was created.
type Type string

const (
	TypeCatchShoot Type = "catch_shoot"
	TypeOffDribble Type = "off_dribble"
	TypeLayup      Type = "layup"
	TypePost       Type = "post"
	TypePutback    Type = "putback"
	TypeFloater    Type = "floater"
)

// FreeThrowZone is the synthetic zone free throws aggregate into.
const FreeThrowZone = "free_throw"

var knownTypes = map[Type]struct{}{
	TypeCatchShoot: {},
	TypeOffDribble: {},
	TypeLayup:      {},
	TypePost:       {},
	TypePutback:    {},
	TypeFloater:    {},
}

var legacyTypes = map[string]Type{
	"catch & shoot":   TypeCatchShoot,
	"catch and shoot": TypeCatchShoot,
	"catch-and-shoot": TypeCatchShoot,
	"catchshoot":      TypeCatchShoot,
	"off the dribble": TypeOffDribble,
	"off-the-dribble": TypeOffDribble,
	"pull up":         TypeOffDribble,
	"pull-up":         TypeOffDribble,
	"lay up":          TypeLayup,
	"lay-up":          TypeLayup,
	"post up":         TypePost,
	"post-up":         TypePost,
	"put back":        TypePutback,
	"put-back":        TypePutback,
}

// Known reports whether value is a canonical shot type. Empty is allowed.
func Known(value string) bool {
	if value == "" {
		return true
	}
	_, ok := knownTypes[Type(value)]
	return ok
}

// Canonical maps legacy spellings onto canonical shot types. The second
// result is false when value is neither canonical nor a known legacy form.
func Canonical(value string) (Type, bool) {
	if Known(value) {
		return Type(value), true
	}
	folded := strings.ToLower(strings.TrimSpace(value))
	if Known(folded) {
		return Type(folded), true
	}
	if mapped, ok := legacyTypes[folded]; ok {
		return mapped, true
	}
	return Type(value), false
}
