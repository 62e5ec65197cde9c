package gharchive

import (
	"encoding/json"
	"hash/fnv"
	"net/url"
	"strings"
)

// Events from 2012 to 2014 often lack actor.id and repo.id. Ids are back-filled
// from stable hashes of the login and the owner/name pair. Synthetic ids are
// always negative so they never collide with real GitHub ids

// SyntheticActorID returns a deterministic negative int64 from actor login
func SyntheticActorID(login string) int64 {
	return synthNegID("actor:", strings.ToLower(strings.TrimSpace(login)))
}

// SyntheticRepoID returns a deterministic negative int64 from "owner/repo"
func SyntheticRepoID(fullName string) int64 {
	return synthNegID("repo:", CanonRepoName(fullName))
}

// FillSyntheticIDs populates Actor.ID and Repo.ID when zero.
// raw is the full event line, sniffed for legacy actor/repository fields
func (e *EventEnvelope) FillSyntheticIDs(raw []byte) {
	if e.Actor.ID != 0 && e.Repo.ID != 0 {
		return
	}
	var legacy legacyShape
	sniffed := false
	sniff := func() {
		if !sniffed {
			sniffed = true
			legacy = sniffLegacy(raw)
		}
	}

	if e.Actor.ID == 0 {
		login := strings.ToLower(strings.TrimSpace(e.Actor.Login))
		if login == "" {
			sniff()
			login = legacy.login
		}
		if login != "" {
			e.Actor.Login = login
			e.Actor.ID = SyntheticActorID(login)
		}
	}

	if e.Repo.ID == 0 {
		name := CanonRepoName(e.Repo.Name)
		if name == "" {
			sniff()
			name = legacy.repo
		}
		if name != "" {
			e.Repo.Name = name
			e.Repo.ID = SyntheticRepoID(name)
		}
	}
}

func synthNegID(prefix, key string) int64 {
	if key == "" {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(prefix))
	_, _ = h.Write([]byte(key))
	v := int64(h.Sum64() & 0x7fffffffffffffff)
	if v == 0 {
		v = 1
	}
	return -v
}

// CanonRepoName normalizes to lowercase "owner/repo" and accepts https, ssh or bare names
func CanonRepoName(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		if u, err := url.Parse(s); err == nil {
			s = u.Path
		}
	case strings.Contains(s, "@") && strings.Contains(s, ":"):
		s = s[strings.Index(s, ":")+1:]
	}
	s = strings.Trim(strings.TrimSuffix(strings.Trim(s, "/"), ".git"), "/")
	s = strings.ToLower(s)
	if s == "" {
		return ""
	}
	parts := strings.Split(s, "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "/" + parts[len(parts)-1]
	}
	return s
}

type legacyShape struct {
	login string
	repo  string
}

// sniffLegacy reads the old top level actor / actor_attributes / repository fields
func sniffLegacy(raw []byte) legacyShape {
	if len(raw) == 0 {
		return legacyShape{}
	}
	var aux struct {
		Actor           json.RawMessage `json:"actor"`
		ActorAttributes struct {
			Login string `json:"login"`
		} `json:"actor_attributes"`
		Repository struct {
			Name  string `json:"name"`
			Owner any    `json:"owner"` // string or {"login"|"name"}
			URL   string `json:"url"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return legacyShape{}
	}

	var out legacyShape
	out.login = strings.ToLower(strings.TrimSpace(aux.ActorAttributes.Login))
	if out.login == "" {
		var s string
		if json.Unmarshal(aux.Actor, &s) == nil {
			out.login = strings.ToLower(strings.TrimSpace(s))
		}
	}

	var owner string
	switch v := aux.Repository.Owner.(type) {
	case string:
		owner = v
	case map[string]any:
		if s, ok := v["login"].(string); ok && s != "" {
			owner = s
		} else if s, ok := v["name"].(string); ok {
			owner = s
		}
	}
	owner = strings.TrimSpace(owner)
	name := strings.TrimSpace(aux.Repository.Name)

	switch {
	case owner != "" && name != "":
		out.repo = CanonRepoName(owner + "/" + name)
	case aux.Repository.URL != "":
		out.repo = CanonRepoName(aux.Repository.URL)
	}
	return out
}
