// Package persistence contains the profile store adapters that own users'
// device tokens.
package persistence

import (
	"slices"
	"strings"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// DeviceTokenDoc is the shape of the data stored in Firestore for device tokens.
type DeviceTokenDoc struct {
	Tokens []realtime.DeviceToken `firestore:"tokens"`
}

// withToken returns tokens with t added, replacing an existing entry for the
// same token string.
func withToken(tokens []realtime.DeviceToken, t realtime.DeviceToken) []realtime.DeviceToken {
	out := slices.Clone(tokens)
	for i := range out {
		if out[i].Token == t.Token {
			out[i] = t
			return out
		}
	}
	return append(out, t)
}

// withoutToken returns tokens without any entry for token and whether one
// was removed.
func withoutToken(tokens []realtime.DeviceToken, token string) ([]realtime.DeviceToken, bool) {
	out := slices.DeleteFunc(slices.Clone(tokens), func(t realtime.DeviceToken) bool {
		return t.Token == token
	})
	return out, len(out) != len(tokens)
}

func sortTokens(tokens []realtime.DeviceToken) {
	slices.SortFunc(tokens, func(a, b realtime.DeviceToken) int {
		return strings.Compare(a.Token, b.Token)
	})
}
