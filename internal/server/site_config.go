package server

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"offerlens/offers"
)

// SiteProfiles loads per-host selector overrides from <dir>/<host>.json.
// A file for "example.com" also applies to "offers.example.com".
type SiteProfiles struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*offers.Profile
}

func NewSiteProfiles(dir string) *SiteProfiles {
	return &SiteProfiles{
		dir:   dir,
		cache: make(map[string]*offers.Profile),
	}
}

// Find returns the override for target's host, or nil.
func (s *SiteProfiles) Find(target string) *offers.Profile {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	s.mu.RLock()
	if p, ok := s.cache[host]; ok {
		s.mu.RUnlock()
		return p
	}
	s.mu.RUnlock()

	labels := strings.Split(host, ".")
	for i := 0; i < len(labels); i++ {
		candidate := strings.Join(labels[i:], ".")
		if p := s.load(candidate); p != nil {
			s.mu.Lock()
			s.cache[host] = p
			s.mu.Unlock()
			return p
		}
	}
	s.mu.Lock()
	s.cache[host] = nil
	s.mu.Unlock()
	return nil
}

// Profile returns the default profile with target's override applied.
func (s *SiteProfiles) Profile(target string) offers.Profile {
	p := offers.DefaultProfile()
	if o := s.Find(target); o != nil {
		p = p.Merge(*o)
	}
	return p
}

func (s *SiteProfiles) load(host string) *offers.Profile {
	if s.dir == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(s.dir, host+".json"))
	if err != nil {
		return nil
	}
	var p offers.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	return &p
}
