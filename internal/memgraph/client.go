package memgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/errgroup"

	"graphmem/internal/episode"
	"graphmem/internal/logging"
)

// Journal records episodes around the add_memory call.
// *store.Store satisfies it.
type Journal interface {
	RecordPending(ctx context.Context, req *episode.Request, typeSet string) (string, error)
	MarkSent(ctx context.Context, id, response string) error
	MarkFailed(ctx context.Context, id string, cause error) error
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	Tools    ToolNames
	Defaults episode.Defaults
	MaxNodes int
	MaxFacts int

	// CacheTTL of zero disables the search cache.
	CacheTTL        time.Duration
	CacheMaxEntries int64

	Journal Journal
	Metrics *Metrics
}

// Client is a typed view over one memory server.
type Client struct {
	caller   Caller
	tools    ToolNames
	defaults episode.Defaults
	maxNodes int
	maxFacts int
	journal  Journal
	metrics  *Metrics

	cache    *ristretto.Cache
	cacheTTL time.Duration

	// cacheMu orders stores against invalidation. Results fetched before
	// the latest invalidation carry an older generation and are dropped.
	cacheMu  sync.Mutex
	cacheGen uint64
}

// New creates a client calling through caller.
func New(caller Caller, opts Options) (*Client, error) {
	if caller == nil {
		return nil, errors.New("memgraph: nil caller")
	}
	c := &Client{
		caller:   caller,
		tools:    opts.Tools.withDefaults(),
		defaults: opts.Defaults,
		maxNodes: opts.MaxNodes,
		maxFacts: opts.MaxFacts,
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		cacheTTL: opts.CacheTTL,
	}
	if c.maxNodes <= 0 {
		c.maxNodes = 10
	}
	if c.maxFacts <= 0 {
		c.maxFacts = 10
	}
	if c.metrics == nil {
		c.metrics = NewMetrics("graphmem")
	}

	if c.cacheTTL > 0 {
		entries := opts.CacheMaxEntries
		if entries <= 0 {
			entries = 1000
		}
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters:        entries * 10,
			MaxCost:            entries,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create search cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// Close releases the search cache.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

// Metrics returns the client's collectors.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// Tools returns the upstream tool names in use.
func (c *Client) Tools() ToolNames {
	return c.tools
}

// call invokes tool and decodes its payload.
func (c *Client) call(ctx context.Context, tool string, args map[string]interface{}) (json.RawMessage, error) {
	started := time.Now()
	res, err := c.caller.CallTool(ctx, tool, args)
	var payload json.RawMessage
	if err == nil {
		payload, err = decodeResult(tool, res)
	}
	c.metrics.observeCall(tool, started, err)
	if err != nil {
		logging.ToolsDebug("%s failed after %v: %v", tool, time.Since(started), err)
		return nil, err
	}
	return payload, nil
}

// AddOption adjusts a single AddMemory call.
type AddOption func(*addOptions)

type addOptions struct {
	typeSetName string
}

// WithTypeSetName records the registered type set an episode used.
func WithTypeSetName(name string) AddOption {
	return func(o *addOptions) { o.typeSetName = name }
}

// AddMemory submits an episode and returns the server's message.
// Ingestion is asynchronous on the server; the message only confirms
// the episode was queued.
func (c *Client) AddMemory(ctx context.Context, req *episode.Request, opts ...AddOption) (string, error) {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}

	args, err := req.Build(c.defaults)
	if err != nil {
		return "", err
	}

	journalID := ""
	if c.journal != nil {
		journalID, err = c.journal.RecordPending(ctx, req, o.typeSetName)
		if err != nil {
			logging.Get(logging.CategoryEpisodes).Warn("Journal unavailable, sending %q unrecorded: %v", req.Name, err)
			journalID = ""
		}
	}

	payload, err := c.call(ctx, c.tools.AddMemory, args)
	if err != nil {
		c.metrics.EpisodesAdded.WithLabelValues(string(req.Source), "error").Inc()
		if journalID != "" {
			if jerr := c.journal.MarkFailed(context.WithoutCancel(ctx), journalID, err); jerr != nil {
				logging.Get(logging.CategoryEpisodes).Warn("Failed to journal failure of %s: %v", journalID, jerr)
			}
		}
		return "", err
	}

	msg := messageOf(payload)
	c.metrics.EpisodesAdded.WithLabelValues(string(req.Source), "ok").Inc()
	if journalID != "" {
		if jerr := c.journal.MarkSent(ctx, journalID, msg); jerr != nil {
			logging.Get(logging.CategoryEpisodes).Warn("Failed to journal %s as sent: %v", journalID, jerr)
		}
	}
	c.invalidate()
	logging.Episodes("Episode %q queued in group %q (%s)", req.Name, req.GroupID, req.Source)
	return msg, nil
}

// SearchNodes finds entity nodes relevant to q.
func (c *Client) SearchNodes(ctx context.Context, q NodeQuery) ([]Node, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, errors.New("search query is required")
	}
	if q.MaxNodes <= 0 {
		q.MaxNodes = c.maxNodes
	}
	if len(q.GroupIDs) == 0 && c.defaults.GroupID != "" {
		q.GroupIDs = []string{c.defaults.GroupID}
	}

	key := cacheKey("nodes", q)
	if cached, ok := c.lookup(key); ok {
		return cloneNodes(cached.([]Node)), nil
	}
	gen := c.generation()

	payload, err := c.call(ctx, c.tools.SearchNodes, q.arguments())
	if err != nil {
		return nil, err
	}
	nodes, err := decodeList[Node](payload, "nodes")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.tools.SearchNodes, err)
	}
	c.store(key, gen, cloneNodes(nodes))
	return nodes, nil
}

// SearchFacts finds facts (entity edges) relevant to q.
func (c *Client) SearchFacts(ctx context.Context, q FactQuery) ([]Fact, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, errors.New("search query is required")
	}
	if q.MaxFacts <= 0 {
		q.MaxFacts = c.maxFacts
	}
	if len(q.GroupIDs) == 0 && c.defaults.GroupID != "" {
		q.GroupIDs = []string{c.defaults.GroupID}
	}

	key := cacheKey("facts", q)
	if cached, ok := c.lookup(key); ok {
		return cloneFacts(cached.([]Fact)), nil
	}
	gen := c.generation()

	payload, err := c.call(ctx, c.tools.SearchFacts, q.arguments())
	if err != nil {
		return nil, err
	}
	facts, err := decodeList[Fact](payload, "facts")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.tools.SearchFacts, err)
	}
	c.store(key, gen, cloneFacts(facts))
	return facts, nil
}

// Recall runs a node search and a fact search for query concurrently.
func (c *Client) Recall(ctx context.Context, query string, groupIDs ...string) (*Recollection, error) {
	out := &Recollection{Query: query}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		nodes, err := c.SearchNodes(egCtx, NodeQuery{Query: query, GroupIDs: groupIDs})
		if err != nil {
			return fmt.Errorf("nodes: %w", err)
		}
		out.Nodes = nodes
		return nil
	})
	eg.Go(func() error {
		facts, err := c.SearchFacts(egCtx, FactQuery{Query: query, GroupIDs: groupIDs})
		if err != nil {
			return fmt.Errorf("facts: %w", err)
		}
		out.Facts = facts
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetEpisodes returns the most recent lastN episodes of a group.
func (c *Client) GetEpisodes(ctx context.Context, groupID string, lastN int) ([]Episode, error) {
	if groupID == "" {
		groupID = c.defaults.GroupID
	}
	if lastN <= 0 {
		lastN = 10
	}
	args := map[string]interface{}{"last_n": lastN}
	if groupID != "" {
		args["group_id"] = groupID
	}
	payload, err := c.call(ctx, c.tools.GetEpisodes, args)
	if err != nil {
		return nil, err
	}
	episodes, err := decodeList[Episode](payload, "episodes")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.tools.GetEpisodes, err)
	}
	return episodes, nil
}

// DeleteEpisode removes an episode by uuid.
func (c *Client) DeleteEpisode(ctx context.Context, uuid string) (string, error) {
	return c.write(ctx, c.tools.DeleteEpisode, uuid)
}

// DeleteEntityEdge removes a fact by uuid.
func (c *Client) DeleteEntityEdge(ctx context.Context, uuid string) (string, error) {
	return c.write(ctx, c.tools.DeleteEntityEdge, uuid)
}

// GetEntityEdge fetches one fact by uuid.
func (c *Client) GetEntityEdge(ctx context.Context, uuid string) (*Fact, error) {
	if uuid == "" {
		return nil, errors.New("uuid is required")
	}
	payload, err := c.call(ctx, c.tools.GetEntityEdge, map[string]interface{}{"uuid": uuid})
	if err != nil {
		return nil, err
	}
	var fact Fact
	if err := json.Unmarshal(payload, &fact); err != nil {
		return nil, fmt.Errorf("%s: decoding fact: %w", c.tools.GetEntityEdge, err)
	}
	if fact.UUID == "" {
		return nil, fmt.Errorf("%s: %w: %s", c.tools.GetEntityEdge, ErrServer, messageOf(payload))
	}
	return &fact, nil
}

// ClearGraph deletes all data and rebuilds indices on the server.
func (c *Client) ClearGraph(ctx context.Context) (string, error) {
	payload, err := c.call(ctx, c.tools.ClearGraph, map[string]interface{}{})
	if err != nil {
		return "", err
	}
	c.invalidate()
	logging.Get(logging.CategoryTools).Warn("Memory graph cleared")
	return messageOf(payload), nil
}

func (c *Client) write(ctx context.Context, tool, uuid string) (string, error) {
	if uuid == "" {
		return "", errors.New("uuid is required")
	}
	payload, err := c.call(ctx, tool, map[string]interface{}{"uuid": uuid})
	if err != nil {
		return "", err
	}
	c.invalidate()
	return messageOf(payload), nil
}

func cacheKey(kind string, q interface{}) string {
	data, _ := json.Marshal(q)
	return kind + ":" + string(data)
}

func (c *Client) lookup(key string) (interface{}, bool) {
	if c.cache == nil {
		return nil, false
	}
	v, ok := c.cache.Get(key)
	if ok {
		c.metrics.CacheHits.Inc()
		return v, true
	}
	c.metrics.CacheMisses.Inc()
	return nil, false
}

func (c *Client) generation() uint64 {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	return c.cacheGen
}

// store caches v unless the cache was invalidated after gen was taken.
func (c *Client) store(key string, gen uint64, v interface{}) {
	if c.cache == nil {
		return
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if gen != c.cacheGen {
		logging.ToolsDebug("Dropping stale search result for %s", key)
		return
	}
	c.cache.SetWithTTL(key, v, 1, c.cacheTTL)
	c.cache.Wait()
}

func (c *Client) invalidate() {
	if c.cache == nil {
		return
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cacheGen++
	c.cache.Clear()
}
