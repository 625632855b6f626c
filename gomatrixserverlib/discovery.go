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

package gomatrixserverlib

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ResolvedServer is the outcome of resolving a ServerName to a concrete
// address to dial and a Host header/TLS SNI value to present, per §4.9's
// resolution chain.
type ResolvedServer struct {
	ServerName ServerName
	Address    string // host:port to dial
}

// wellKnownClient is the subset of *http.Client the resolver needs; declared
// as an interface so tests can substitute a fake without spinning up a
// listener.
type wellKnownClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// srvLookup abstracts net.LookupSRV so tests can stub DNS.
type srvLookup func(service, proto, name string) (cname string, addrs []*net.SRV, err error)

// Resolver implements the §4.9 server-name resolution chain: IP literal,
// explicit port, cached/fetched .well-known delegation, DNS SRV records,
// and finally the bare name on port 8448.
type Resolver struct {
	HTTPClient wellKnownClient
	LookupSRV  srvLookup

	mu          sync.Mutex
	wellKnownCache map[ServerName]wellKnownCacheEntry
}

type wellKnownCacheEntry struct {
	target  string
	expires time.Time
}

// NewResolver builds a Resolver using the real net/http and net/DNS
// facilities.
func NewResolver() *Resolver {
	return &Resolver{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		LookupSRV:  net.LookupSRV,
	}
}

// Resolve implements the resolution chain of §4.9, trying each step in
// order and returning the first that applies.
func (r *Resolver) Resolve(ctx context.Context, serverName ServerName) (ResolvedServer, error) {
	name := string(serverName)

	if host, port, ok := splitHostPort(name); ok {
		if net.ParseIP(host) != nil {
			return ResolvedServer{ServerName: serverName, Address: net.JoinHostPort(host, port)}, nil
		}
		return ResolvedServer{ServerName: serverName, Address: net.JoinHostPort(host, port)}, nil
	}

	if ip := net.ParseIP(name); ip != nil {
		return ResolvedServer{ServerName: serverName, Address: net.JoinHostPort(name, "8448")}, nil
	}

	if target, ok := r.lookupWellKnown(ctx, name); ok {
		if host, port, hasPort := splitHostPort(target); hasPort {
			return ResolvedServer{ServerName: serverName, Address: net.JoinHostPort(host, port)}, nil
		}
		if net.ParseIP(target) != nil {
			return ResolvedServer{ServerName: serverName, Address: net.JoinHostPort(target, "8448")}, nil
		}
		if addr, ok := r.lookupSRVRecord(target); ok {
			return ResolvedServer{ServerName: serverName, Address: addr}, nil
		}
		return ResolvedServer{ServerName: serverName, Address: net.JoinHostPort(target, "8448")}, nil
	}

	if addr, ok := r.lookupSRVRecord(name); ok {
		return ResolvedServer{ServerName: serverName, Address: addr}, nil
	}

	return ResolvedServer{ServerName: serverName, Address: net.JoinHostPort(name, "8448")}, nil
}

func splitHostPort(name string) (host, port string, ok bool) {
	idx := strings.LastIndex(name, ":")
	if idx < 0 {
		return "", "", false
	}
	if _, err := strconv.Atoi(name[idx+1:]); err != nil {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

type wellKnownResponse struct {
	MServer string `json:"m.server"`
}

func (r *Resolver) lookupWellKnown(ctx context.Context, name string) (string, bool) {
	r.mu.Lock()
	if r.wellKnownCache == nil {
		r.wellKnownCache = map[ServerName]wellKnownCacheEntry{}
	}
	if entry, ok := r.wellKnownCache[ServerName(name)]; ok && time.Now().Before(entry.expires) {
		r.mu.Unlock()
		if entry.target == "" {
			return "", false
		}
		return entry.target, true
	}
	r.mu.Unlock()

	url := fmt.Sprintf("https://%s/.well-known/matrix/server", name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}
	res, err := r.HTTPClient.Do(req)
	if err != nil {
		r.cacheWellKnown(name, "", 1*time.Hour)
		return "", false
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		r.cacheWellKnown(name, "", 1*time.Hour)
		return "", false
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return "", false
	}
	var parsed wellKnownResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.MServer == "" {
		r.cacheWellKnown(name, "", 1*time.Hour)
		return "", false
	}

	ttl := cacheControlMaxAge(res.Header.Get("Cache-Control"), 24*time.Hour)
	r.cacheWellKnown(name, parsed.MServer, ttl)
	return parsed.MServer, true
}

func (r *Resolver) cacheWellKnown(name, target string, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wellKnownCache[ServerName(name)] = wellKnownCacheEntry{target: target, expires: time.Now().Add(ttl)}
}

func cacheControlMaxAge(header string, fallback time.Duration) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(directive)
		if strings.HasPrefix(directive, "max-age=") {
			if secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age=")); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return fallback
}

func (r *Resolver) lookupSRVRecord(name string) (string, bool) {
	if r.LookupSRV == nil {
		return "", false
	}
	_, addrs, err := r.LookupSRV("matrix-fed", "tcp", name)
	if err != nil || len(addrs) == 0 {
		_, addrs, err = r.LookupSRV("matrix", "tcp", name)
		if err != nil || len(addrs) == 0 {
			return "", false
		}
	}
	target := strings.TrimSuffix(addrs[0].Target, ".")
	return net.JoinHostPort(target, strconv.Itoa(int(addrs[0].Port))), true
}
