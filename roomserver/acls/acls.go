// Copyright 2017 Vector Creations Ltd
// Copyright 2018 New Vector Ltd
// Copyright 2019-2020 The Matrix.org Foundation C.I.C.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package acls evaluates a room's m.room.server_acl state, the mechanism a
// room uses to block specific homeservers from participating in it. Every
// inbound federation request and outbound federation send for a room
// consults this before proceeding (spec.md's supplemented server ACL
// feature; see SPEC_FULL.md §3).
package acls

import (
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/caching"
)

// ServerACL is the decoded content of an m.room.server_acl event.
type ServerACL struct {
	AllowIPLiterals bool     `json:"allow_ip_literals"`
	Allowed         []string `json:"allow"`
	Denied          []string `json:"deny"`
}

// compiledServerACL holds an ServerACL's allow/deny glob patterns translated
// to regular expressions, so IsAllowed doesn't re-translate patterns on
// every lookup.
type compiledServerACL struct {
	allowIPLiterals bool
	allowed         []*regexp.Regexp
	denied          []*regexp.Regexp
}

// ServerACLs tracks every room's current server ACL in memory, updated as
// m.room.server_acl events are accepted into room state.
type ServerACLs struct {
	cache caching.RoomServerCaches

	mu   sync.RWMutex
	acls map[string]*compiledServerACL
}

// NewServerACLs constructs a ServerACLs backed by cache for invalidation
// bookkeeping; the compiled ACLs themselves live in the in-process map below
// since regexp.Regexp isn't a good fit for a generic expiring cache value.
func NewServerACLs(cache caching.RoomServerCaches) *ServerACLs {
	return &ServerACLs{
		cache: cache,
		acls:  make(map[string]*compiledServerACL),
	}
}

// OnServerACLUpdate compiles and stores roomID's new server ACL, called by
// the input pipeline immediately after an m.room.server_acl event is
// accepted into that room's state.
func (s *ServerACLs) OnServerACLUpdate(roomID string, event gomatrixserverlib.Event) error {
	var acl ServerACL
	if err := json.Unmarshal(event.Content(), &acl); err != nil {
		return fmt.Errorf("acls: decoding server_acl content: %w", err)
	}
	compiled := compile(acl)

	s.mu.Lock()
	s.acls[roomID] = compiled
	s.mu.Unlock()

	s.cache.InvalidateServerACL(roomID)
	return nil
}

// IsServerBannedFromRoom reports whether serverName is blocked from
// participating in roomID by its current server ACL. A room with no known
// ACL (the common case) allows every server.
func (s *ServerACLs) IsServerBannedFromRoom(roomID string, serverName gomatrixserverlib.ServerName) bool {
	s.mu.RLock()
	acl, ok := s.acls[roomID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return acl.serverDenied(string(serverName))
}

func (c *compiledServerACL) serverDenied(serverName string) bool {
	if !c.allowIPLiterals && isIPLiteral(serverName) {
		return true
	}
	for _, re := range c.denied {
		if re.MatchString(serverName) {
			return true
		}
	}
	if len(c.allowed) == 0 {
		return false
	}
	for _, re := range c.allowed {
		if re.MatchString(serverName) {
			return false
		}
	}
	return true
}

// isIPLiteral reports whether serverName's host part (stripping an optional
// :port) is a literal IPv4 or IPv6 address rather than a hostname.
func isIPLiteral(serverName string) bool {
	host := serverName
	if h, _, err := net.SplitHostPort(serverName); err == nil {
		host = h
	}
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	return net.ParseIP(host) != nil
}

func compile(acl ServerACL) *compiledServerACL {
	compiled := &compiledServerACL{allowIPLiterals: acl.AllowIPLiterals}
	for _, pattern := range acl.Allowed {
		compiled.allowed = append(compiled.allowed, globToRegexp(pattern))
	}
	for _, pattern := range acl.Denied {
		compiled.denied = append(compiled.denied, globToRegexp(pattern))
	}
	return compiled
}

// globToRegexp translates a server ACL glob pattern (where '*' matches any
// run of characters and '?' matches exactly one) to an anchored regular
// expression. Any invalid resulting pattern matches nothing rather than
// erroring, since a malformed ACL entry shouldn't crash evaluation for the
// whole room.
func globToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return regexp.MustCompile(`[^\x00-\x{10FFFF}]`) // an empty character class: matches nothing
	}
	return re
}
