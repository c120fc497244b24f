package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/parkmill/sitekeeper/site"
)

// Catalog is the in-memory image of config.yml: a mapping from site id to
// site. It is the source of truth for the process lifetime; Save rewrites
// the whole file atomically.
type Catalog struct {
	path  string
	sites map[string]*site.Site
}

// LoadCatalog reads the catalog file at path. A missing file yields an
// empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	catalog := &Catalog{path: path, sites: make(map[string]*site.Site)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return catalog, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}

	for id, attrs := range raw {
		s, err := site.New(id, attrs)
		if err != nil {
			return nil, fmt.Errorf("site %q: %w", id, err)
		}
		catalog.sites[id] = s
	}

	return catalog, nil
}

// Get returns the site with the given id.
func (c *Catalog) Get(id string) (*site.Site, bool) {
	s, ok := c.sites[id]
	return s, ok
}

// Put adds or replaces a site.
func (c *Catalog) Put(s *site.Site) {
	c.sites[s.ID] = s
}

// Len returns the number of sites.
func (c *Catalog) Len() int {
	return len(c.sites)
}

// SiteIDs returns the site ids in sorted order.
func (c *Catalog) SiteIDs() []string {
	ids := make([]string, 0, len(c.sites))
	for id := range c.sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sites returns the sites in sorted id order.
func (c *Catalog) Sites() []*site.Site {
	out := make([]*site.Site, 0, len(c.sites))
	for _, id := range c.SiteIDs() {
		out = append(out, c.sites[id])
	}
	return out
}

// FindSession returns the session with the given id together with its site.
func (c *Catalog) FindSession(sessionID string) (*site.Session, *site.Site, bool) {
	for _, id := range c.SiteIDs() {
		s := c.sites[id]
		if session, ok := s.Sessions[sessionID]; ok {
			return session, s, true
		}
	}
	return nil, nil, false
}

// SessionUsed reports whether any site holds a session with the given id.
func (c *Catalog) SessionUsed(sessionID string) bool {
	_, _, ok := c.FindSession(sessionID)
	return ok
}

// Save rewrites the catalog file atomically. Engine-owned attributes
// (sessions, staging_url) and the site id key are not written; unknown
// attributes survive the round trip.
func (c *Catalog) Save() error {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, id := range c.SiteIDs() {
		s := c.sites[id]
		entry := &yaml.Node{Kind: yaml.MappingNode}
		appendEntry(entry, "name", s.Name)
		appendEntry(entry, "owner", s.Owner)
		appendEntry(entry, "email", s.Email)
		if s.URL != "" {
			appendEntry(entry, "url", s.URL)
		}
		if s.CloudFrontDomain != "" {
			appendEntry(entry, "cloudfront_domain_name", s.CloudFrontDomain)
		}
		extraKeys := make([]string, 0, len(s.Extra))
		for key := range s.Extra {
			extraKeys = append(extraKeys, key)
		}
		sort.Strings(extraKeys)
		for _, key := range extraKeys {
			value := &yaml.Node{}
			if err := value.Encode(s.Extra[key]); err != nil {
				return fmt.Errorf("encode %s.%s: %w", id, key, err)
			}
			entry.Content = append(entry.Content, scalarNode(key), value)
		}
		doc.Content = append(doc.Content, scalarNode(id), entry)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(c.path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp catalog file: %w", err)
	}
	name := tmpFile.Name()
	_, err = tmpFile.Write(data)
	if err1 := tmpFile.Close(); err1 != nil && err == nil {
		err = err1
	}
	if err != nil {
		os.Remove(name)
		return fmt.Errorf("write temp catalog file: %w", err)
	}

	if err := os.Rename(name, c.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename catalog file: %w", err)
	}
	return nil
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: value}
}

func appendEntry(node *yaml.Node, key, value string) {
	node.Content = append(node.Content, scalarNode(key), scalarNode(value))
}
