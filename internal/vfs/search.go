package vfs

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/pathutil"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// Search scopes.
const (
	ScopeGlobal    = "global"
	ScopeMount     = "mount"
	ScopeDirectory = "directory"
)

const (
	searchMinQueryLen = 2
	searchMaxLimit    = 200
	// searchFanOutLimit bounds how many mounts are walked at once.
	searchFanOutLimit = 4
)

// SearchParams bounds one search request.
type SearchParams struct {
	Scope   string `json:"scope"`
	MountID string `json:"mount_id,omitempty"`
	Dir     string `json:"dir,omitempty"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
}

// SearchResult is one paginated page plus the total match count.
type SearchResult struct {
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
	Hits   []types.SearchHit `json:"hits"`
}

type rankedHit struct {
	hit   types.SearchHit
	score int
}

// Search runs a filename search across the principal's accessible mounts.
// The fan-out is concurrent and settled: one mount's failure is logged and
// the rest of the results still come back. Results are ranked exact >
// prefix > substring > path-substring, ties broken by most recent, then
// paginated.
func (fs *FileSystem) Search(ctx context.Context, p types.Principal, query string, params SearchParams) (result *SearchResult, err error) {
	startAt := fs.clock()
	defer func() { fs.record("search", startAt, err) }()

	if params.Scope == "" {
		params.Scope = ScopeGlobal
	}
	if params.Limit == 0 {
		params.Limit = 50
	}
	if err := validateSearchParams(query, params); err != nil {
		return nil, err
	}

	scopeTarget := params.MountID
	if params.Scope == ScopeDirectory {
		scopeTarget = params.Dir
	}
	cacheKey := strings.ToLower(query)
	if fs.searchCache != nil {
		if cached := fs.searchCache.Get(cacheKey, params.Scope, scopeTarget, p.OwnerTag()); cached != nil {
			if ranked, ok := cached.([]rankedHit); ok {
				return paginate(ranked, params), nil
			}
		}
	}

	mounts, dirPrefix, err := fs.searchTargets(ctx, p, params)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var all []types.SearchHit

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchFanOutLimit)
	for _, mnt := range mounts {
		mnt := mnt
		g.Go(func() error {
			driver, err := fs.manager.GetDriver(gctx, mnt)
			if err != nil {
				fs.logger.Warn("search skipped mount", "mount_id", mnt.ID, "error", err)
				return nil
			}
			reader, err := asReader(driver)
			if err != nil {
				fs.logger.Warn("search skipped mount", "mount_id", mnt.ID, "error", err)
				return nil
			}
			hits, err := reader.Search(gctx, mnt, query, types.SearchOptions{})
			if err != nil {
				fs.logger.Warn("search failed on mount", "mount_id", mnt.ID, "error", err)
				return nil
			}
			mu.Lock()
			all = append(all, hits...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if dirPrefix != "" {
		filtered := all[:0]
		for _, h := range all {
			if strings.HasPrefix(h.Path, dirPrefix) {
				filtered = append(filtered, h)
			}
		}
		all = filtered
	}

	ranked := rankHits(all, query)
	if fs.searchCache != nil && len(ranked) > 0 {
		fs.searchCache.Set(cacheKey, params.Scope, scopeTarget, p.OwnerTag(), ranked)
	}
	return paginate(ranked, params), nil
}

func validateSearchParams(query string, params SearchParams) error {
	if len(query) < searchMinQueryLen {
		return ferrors.Newf(ferrors.KindBadRequest, "query must be at least %d characters", searchMinQueryLen)
	}
	if params.Limit < 1 || params.Limit > searchMaxLimit {
		return ferrors.Newf(ferrors.KindBadRequest, "limit must be between 1 and %d", searchMaxLimit)
	}
	if params.Offset < 0 {
		return ferrors.BadRequest("offset cannot be negative")
	}
	switch params.Scope {
	case ScopeGlobal, ScopeMount, ScopeDirectory:
		return nil
	default:
		return ferrors.Newf(ferrors.KindBadRequest, "unknown search scope %q", params.Scope)
	}
}

// searchTargets selects the mounts a scoped search walks and, for directory
// scope, the logical prefix hits must fall under.
func (fs *FileSystem) searchTargets(ctx context.Context, p types.Principal, params SearchParams) ([]*types.Mount, string, error) {
	registry := fs.manager.Registry()

	switch params.Scope {
	case ScopeMount:
		mounts, err := registry.ListForPrincipal(ctx, p)
		if err != nil {
			return nil, "", err
		}
		for _, m := range mounts {
			if m.ID == params.MountID {
				return []*types.Mount{m}, "", nil
			}
		}
		return nil, "", ferrors.Newf(ferrors.KindNotFound, "mount %s not found", params.MountID)

	case ScopeDirectory:
		dir, err := pathutil.Normalize(params.Dir, true)
		if err != nil {
			return nil, "", err
		}
		res, err := registry.Resolve(ctx, p, dir)
		if err != nil {
			return nil, "", err
		}
		if res.IsVirtual {
			// Every mount below the virtual directory participates.
			mounts, err := registry.ListForPrincipal(ctx, p)
			if err != nil {
				return nil, "", err
			}
			var under []*types.Mount
			for _, m := range mounts {
				if strings.HasPrefix(m.MountPath, dir) {
					under = append(under, m)
				}
			}
			return under, dir, nil
		}
		return []*types.Mount{res.Mount}, dir, nil

	default:
		mounts, err := registry.ListForPrincipal(ctx, p)
		return mounts, "", err
	}
}

// rankHits scores each hit against the query and orders the result.
func rankHits(hits []types.SearchHit, query string) []rankedHit {
	needle := strings.ToLower(query)

	ranked := make([]rankedHit, 0, len(hits))
	for _, h := range hits {
		name := strings.ToLower(h.Name)
		var score int
		switch {
		case name == needle:
			score = 3
		case strings.HasPrefix(name, needle):
			score = 2
		case strings.Contains(name, needle):
			score = 1
		case strings.Contains(strings.ToLower(h.Path), needle):
			score = 0
		default:
			continue
		}
		ranked = append(ranked, rankedHit{hit: h, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].hit.Modified.After(ranked[j].hit.Modified)
	})
	return ranked
}

func paginate(ranked []rankedHit, params SearchParams) *SearchResult {
	result := &SearchResult{
		Total:  len(ranked),
		Limit:  params.Limit,
		Offset: params.Offset,
		Hits:   []types.SearchHit{},
	}
	if params.Offset >= len(ranked) {
		return result
	}
	end := params.Offset + params.Limit
	if end > len(ranked) {
		end = len(ranked)
	}
	for _, r := range ranked[params.Offset:end] {
		result.Hits = append(result.Hits, r.hit)
	}
	return result
}
