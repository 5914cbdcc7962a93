// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package augment

import (
	"context"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/logger"
	"github.com/jeranaias/rigrun-chat/internal/metrics"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/offline"
	"github.com/jeranaias/rigrun-chat/internal/router"
)

// URLFetcher extracts the main text of a page.
type URLFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]model.SearchResult, error)
}

// Stage names used in logs and the augmentation failure metric.
const (
	StageFile   = "file"
	StageURL    = "url"
	StageSearch = "search"
)

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline runs the augmentation stages in fixed order: file references,
// local override, URL content, web search. Every collaborator is optional
// and no stage failure stops the request.
type Pipeline struct {
	Files    FileResolver
	Fetcher  URLFetcher
	Searcher Searcher
	Guard    *offline.Guard
	Log      *logger.Logger
	Metrics  *metrics.Metrics
}

// Request is the input of one pipeline run.
type Request struct {
	Message       string
	Mode          router.SearchMode
	ContentURL    string
	MaxResults    int
	SearchTimeout time.Duration
}

// Result is the augmented message and what happened on the way.
type Result struct {
	Message string

	// LocalOverride is true when the message started with "local:"/"lokal:".
	LocalOverride bool

	Search       router.SearchDecision
	SearchHits   int
	FilesInlined int
	URLIncluded  bool

	// Failures lists the stages that failed and were skipped.
	Failures []string
}

// Run augments req.Message.
func (p *Pipeline) Run(ctx context.Context, req Request) Result {
	log := logger.OrNop(p.Log)
	res := Result{Message: req.Message}

	// The search query is what the user typed, without file tokens or the
	// override prefix, so inlined content never becomes a query.
	refs := ParseFileRefs(req.Message)
	query, _ := ApplyLocalOverride(stripRefs(req.Message, refs))

	// 1. #file: references
	if len(refs) > 0 {
		exp := ExpandFileRefs(ctx, res.Message, p.Files)
		res.Message = exp.Message
		res.FilesInlined = exp.Inlined
		if p.Files == nil || len(exp.Errors) > 0 {
			p.fail(&res, StageFile)
		}
		for ref, err := range exp.Errors {
			log.Warn("FILE_REF_FAILED").Str("ref", ref).Err(err).Msg("Could not inline referenced file")
		}
		log.Debug("FILE_REFS_EXPANDED").Int("refs", len(refs)).Int("inlined", exp.Inlined).Msg("File references expanded")
	}

	// 2. literal-local override
	res.Message, res.LocalOverride = ApplyLocalOverride(res.Message)

	// 3. content URL
	if req.ContentURL != "" {
		if err := p.urlContent(ctx, &res, req.ContentURL); err != nil {
			p.fail(&res, StageURL)
			log.Warn("URL_CONTENT_FAILED").Str("url", req.ContentURL).Err(err).Msg("URL content skipped")
		}
	}

	// 4. web search
	res.Search = router.DecideSearch(req.Mode, query, res.LocalOverride)
	p.Metrics.RecordSearchDecision(string(req.Mode), res.Search.Search)
	if res.Search.Search {
		if err := p.search(ctx, &res, req, query); err != nil {
			p.fail(&res, StageSearch)
			log.Warn("SEARCH_SKIPPED").Str("reason", res.Search.Reason).Err(err).Msg("Web search skipped")
		}
	} else {
		log.Debug("SEARCH_NOT_NEEDED").Str("mode", string(req.Mode)).Str("reason", res.Search.Reason).Msg("Web search not performed")
	}

	return res
}

func (p *Pipeline) urlContent(ctx context.Context, res *Result, url string) error {
	if p.Fetcher == nil {
		return errNoCollaborator("url fetcher")
	}
	if err := p.Guard.CheckWebFetch(); err != nil {
		return err
	}
	content, err := p.Fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}
	res.Message = AppendURLContent(res.Message, url, content)
	res.URLIncluded = content != ""
	return nil
}

func (p *Pipeline) search(ctx context.Context, res *Result, req Request, query string) error {
	if p.Searcher == nil {
		return errNoCollaborator("search provider")
	}
	if err := p.Guard.CheckSearch(); err != nil {
		return err
	}

	if req.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.SearchTimeout)
		defer cancel()
	}

	results, err := p.Searcher.Search(ctx, query, req.MaxResults)
	if err != nil {
		return err
	}
	res.SearchHits = len(results)
	res.Message = PrependSearchResults(res.Message, results)
	logger.OrNop(p.Log).Info("SEARCH_DONE").Int("results", len(results)).Str("reason", res.Search.Reason).Msg("Web search results added")
	return nil
}

func (p *Pipeline) fail(res *Result, stage string) {
	res.Failures = append(res.Failures, stage)
	p.Metrics.RecordAugmentFailure(stage)
}

type errNoCollaborator string

func (e errNoCollaborator) Error() string {
	return "no " + string(e) + " configured"
}
