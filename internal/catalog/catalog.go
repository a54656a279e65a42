// File: internal/catalog/catalog.go

// Package catalog discovers and caches the set of resource descriptors a
// sensor appliance publishes. Discovery walks the index URL with
// metadata-only requests; the result is keyed by a server-supplied cache
// identifier so an on-disk snapshot can stand in for the per-resource
// round-trips as long as the identifier still matches.
package catalog

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/sensorkit/sensorctl/internal/api"
)

// Fetcher is the slice of the session the catalog needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts api.FetchOptions) (*api.Envelope, error)
}

// Catalog maps resource URLs to their descriptors, tagged with the cache
// identifier the server handed out alongside them.
type Catalog struct {
	cacheID   string
	resources map[string]Descriptor
}

// New returns an empty catalog for the given cache identifier.
func New(cacheID string) *Catalog {
	return &Catalog{
		cacheID:   cacheID,
		resources: make(map[string]Descriptor),
	}
}

// CacheID returns the server-issued token this catalog was built under.
// A persisted catalog is reusable only while the server still reports
// the same token.
func (c *Catalog) CacheID() string { return c.cacheID }

// Get returns the descriptor stored for a URL.
func (c *Catalog) Get(url string) (Descriptor, bool) {
	d, ok := c.resources[url]
	return d, ok
}

// Add stores a descriptor under its URL.
func (c *Catalog) Add(url string, d Descriptor) {
	c.resources[url] = d
}

// Len returns the number of known resources.
func (c *Catalog) Len() int { return len(c.resources) }

// URLs returns all resource URLs in sorted order.
func (c *Catalog) URLs() []string {
	urls := make([]string, 0, len(c.resources))
	for u := range c.resources {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// Save persists the catalog: one "cache-id <token>" line followed by the
// JSON-encoded URL-to-descriptor mapping.
func (c *Catalog) Save(path string) error {
	encoded, err := json.MarshalIndent(c.resources, "", "  ")
	if err != nil {
		return api.NewError(api.KindLocalIO, "cannot encode catalog snapshot").WithCause(err)
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "cache-id %s\n", c.cacheID)
	buf.Write(encoded)
	buf.WriteString("\n")

	if err := os.WriteFile(path, []byte(buf.String()), 0o644); err != nil {
		return api.NewError(api.KindLocalIO, "cannot save catalog snapshot").WithArg(path).WithCause(err)
	}
	return nil
}

// Load reads a previously saved snapshot. Any failure (missing file,
// malformed content) degrades to an empty catalog whose cache identifier
// matches nothing, forcing rediscovery instead of aborting.
func Load(path string) *Catalog {
	c := New("")

	f, err := os.Open(path)
	if err != nil {
		return c
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header, err := r.ReadString('\n')
	if err != nil {
		return c
	}
	fields := strings.Fields(header)
	if len(fields) != 2 || fields[0] != "cache-id" {
		return c
	}

	resources := make(map[string]Descriptor)
	if err := json.NewDecoder(r).Decode(&resources); err != nil {
		return c
	}

	c.cacheID = fields[1]
	c.resources = resources
	return c
}

// DiscoverOptions tune Discover.
type DiscoverOptions struct {
	// SnapshotPath names an on-disk snapshot to try before issuing
	// per-resource requests.
	SnapshotPath string
	// Force skips the snapshot and rediscovers everything.
	Force  bool
	Logger *zap.Logger
}

// Discover retrieves the full descriptor set from an appliance. The
// index URL answers a metadata request with schema "index" and a list of
// resource URLs; each of those is fetched the same way. A resource that
// itself reports schema "index" is a sub-index and is skipped. When a
// usable snapshot exists and its cache identifier matches the server's
// current one, the snapshot is returned without any per-resource
// requests.
func Discover(ctx context.Context, f Fetcher, indexURL string, opts DiscoverOptions) (*Catalog, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	env, err := f.Fetch(ctx, indexURL, api.FetchOptions{
		Method:     http.MethodOptions,
		TraceLevel: api.TraceDiscovery,
	})
	if err != nil {
		return nil, err
	}
	if env.Schema != "index" {
		return nil, api.NewError(api.KindFormat, "URL not pointing to API base address").WithArg(indexURL)
	}

	if opts.SnapshotPath != "" && !opts.Force {
		if snapshot := Load(opts.SnapshotPath); snapshot.CacheID() == env.Cache {
			logger.Debug("catalog snapshot reused", zap.String("cache_id", env.Cache),
				zap.Int("resources", snapshot.Len()))
			return snapshot, nil
		}
	}

	c := New(env.Cache)

	list, ok := env.Body.([]any)
	if !ok {
		return nil, api.NewError(api.KindFormat, "API index is not a list of resource URLs").WithArg(indexURL)
	}

	for _, entry := range list {
		url, ok := entry.(string)
		if !ok {
			continue
		}
		if err := discoverResource(ctx, f, c, url); err != nil {
			return nil, err
		}
	}

	logger.Debug("catalog discovered", zap.String("cache_id", c.cacheID), zap.Int("resources", c.Len()))
	return c, nil
}

func discoverResource(ctx context.Context, f Fetcher, c *Catalog, url string) error {
	if _, ok := c.Get(url); ok {
		return nil
	}

	env, err := f.Fetch(ctx, url, api.FetchOptions{
		Method:     http.MethodOptions,
		TraceLevel: api.TraceDiscovery,
	})
	if err != nil {
		return err
	}

	// Sub-indexes are not resources; their entries already appear in the
	// top-level list.
	if env.Schema == "index" {
		return nil
	}

	var d Descriptor
	if err := json.Unmarshal(env.Raw, &d); err != nil {
		return api.NewError(api.KindFormat, "cannot decode resource descriptor").WithArg(url).WithCause(err)
	}
	if d.URL == "" {
		d.URL = url
	}

	c.Add(url, d)
	return nil
}
