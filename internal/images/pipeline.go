package images

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/fetch"
	"github.com/JakeFAU/article2md/internal/progress"
)

// Request describes one document to process.
type Request struct {
	Markdown string
	// PageURL anchors relative references and is sent as Referer where
	// required.
	PageURL string
	// OutDir is the output directory; images go to OutDir/Config.Dir.
	OutDir string
	// Stamp prefixes every image file name.
	Stamp string
	// CompactRename renumbers stored files contiguously even when the
	// pipeline default is off.
	CompactRename bool
	// Proxy and IgnoreSSL override the pipeline's transport settings for
	// this document only.
	Proxy     string
	IgnoreSSL bool
	Stop      article.StopFunc
	Progress  progress.Logger
}

// Result is the rewritten document and the fate of each unique image.
type Result struct {
	Markdown string
	Refs     []article.ImageRef
	Summary  article.ImageSummary
	// Errs holds the individual download failures.
	Errs []error
}

// Pipeline downloads and rewrites the images of Markdown documents.
type Pipeline struct {
	cfg     Config
	httpCfg fetch.HTTPConfig
	client  *http.Client
	detect  *article.HostPatterns
	referer *article.HostPatterns
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[fetch.HTTPConfig]*http.Client
}

// New builds a Pipeline. When client is nil one is created from httpCfg.
func New(cfg Config, httpCfg fetch.HTTPConfig, client *http.Client, logger *zap.Logger) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		transport, err := fetch.NewTransport(httpCfg)
		if err != nil {
			return nil, fmt.Errorf("image transport: %w", err)
		}
		client = &http.Client{Transport: transport}
	}
	return &Pipeline{
		cfg:     cfg,
		httpCfg: httpCfg,
		client:  client,
		clients: make(map[fetch.HTTPConfig]*http.Client),
		detect:  article.NewHostPatterns(cfg.FormatDetectionDomains),
		referer: article.NewHostPatterns(cfg.RefererDomains),
		logger:  logger.Named("images"),
	}, nil
}

// Config returns the effective settings.
func (p *Pipeline) Config() Config { return p.cfg }

// clientFor returns the client for req's transport overrides. Clients for
// overridden settings are built once and reused.
func (p *Pipeline) clientFor(req Request) (*http.Client, error) {
	cfg := p.httpCfg
	if req.Proxy != "" {
		cfg.Proxy = req.Proxy
	}
	cfg.IgnoreSSL = cfg.IgnoreSSL || req.IgnoreSSL
	if cfg == p.httpCfg {
		return p.client, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[cfg]; ok {
		return c, nil
	}
	transport, err := fetch.NewTransport(cfg)
	if err != nil {
		return nil, fmt.Errorf("image transport: %w", err)
	}
	c := &http.Client{Transport: transport}
	p.clients[cfg] = c
	return c, nil
}

// DownloadAndRewrite fetches every unique image of req.Markdown and points
// successful references at the local copies. Failed images keep their remote
// URL and never give their number to another image. Individual failures are
// reported in the result, not as an error; the error return covers setup
// problems such as an unwritable directory.
func (p *Pipeline) DownloadAndRewrite(ctx context.Context, req Request) (Result, error) {
	log := req.Progress
	if log == nil {
		log = progress.Nop()
	}
	base, _ := url.Parse(req.PageURL)
	occs := scan(req.Markdown, base)
	if len(occs) == 0 {
		return Result{Markdown: req.Markdown}, nil
	}

	client, err := p.clientFor(req)
	if err != nil {
		return Result{}, err
	}
	dir := filepath.Join(req.OutDir, filepath.FromSlash(p.cfg.Dir))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Result{}, fmt.Errorf("create images dir: %w", err)
	}

	jobs, order := p.plan(occs, req)
	refs := make([]article.ImageRef, len(jobs))
	for i, j := range jobs {
		refs[i] = article.ImageRef{SourceURL: j.source, Status: article.ImagePending, Slot: j.slot}
	}
	log.Info(fmt.Sprintf("found %d images", len(jobs)))

	d := &downloader{cfg: p.cfg, client: client, limiter: newHostLimiter(p.cfg), dedup: newDedupIndex(), dir: dir}
	results := make(chan outcome, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		if req.Stop.Stopped() {
			results <- outcome{job: j, err: article.ErrStopRequested}
			continue
		}
		g.Go(func() error {
			results <- d.run(gctx, j)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	res := Result{}
	done := 0
	for out := range results {
		done++
		ref := &refs[out.job.slot-1]
		if out.err != nil {
			ref.Status = article.ImageFailed
			ref.Err = out.err
			res.Errs = append(res.Errs, out.err)
			p.logger.Debug("image download failed", zap.String("url", out.job.source), zap.Error(out.err))
		} else {
			ref.Status = article.ImageDownloaded
			ref.LocalPath = out.path
			ref.ContentHash = out.hash
			if out.reused {
				res.Summary.Reused++
			}
		}
		log.ImagesProgress(done, len(jobs))
	}

	if p.cfg.CompactRename || req.CompactRename {
		if err := compactRename(refs, dir, req.Stamp); err != nil {
			p.logger.Warn("compact rename failed", zap.Error(err))
			res.Errs = append(res.Errs, err)
		}
	}

	for _, ref := range refs {
		res.Summary.Found++
		if ref.Status == article.ImageDownloaded {
			res.Summary.Downloaded++
		} else {
			res.Summary.Failed++
		}
	}
	res.Refs = refs
	res.Markdown = rewrite(req.Markdown, occs, refs, p.cfg.Dir, order)
	log.ImagesDone(res.Summary.Downloaded, res.Summary.Found)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("image downloads canceled: %w", err)
	}
	return res, nil
}

// plan assigns one slot per unique URL in first-seen order. order maps each
// resolved URL to its 1-based slot.
func (p *Pipeline) plan(occs []occurrence, req Request) ([]job, map[string]int) {
	order := make(map[string]int)
	var jobs []job
	for _, occ := range occs {
		if _, seen := order[occ.resolved]; seen {
			continue
		}
		slot := len(jobs) + 1
		order[occ.resolved] = slot
		dl := downloadURL(occ.resolved)
		u, _ := url.Parse(dl)
		host := ""
		if u != nil {
			host = u.Hostname()
		}
		ext := urlExtension(dl)
		detect := p.detect.Match(host)
		if detect || ext == "" {
			ext = ".img"
			detect = true
		}
		jobs = append(jobs, job{
			slot:        slot,
			source:      occ.resolved,
			downloadURL: dl,
			base:        slotName(req.Stamp, slot),
			ext:         ext,
			detect:      detect,
			headers:     p.headersFor(host, req.PageURL),
		})
	}
	return jobs, order
}

func (p *Pipeline) headersFor(host, pageURL string) http.Header {
	lower := strings.ToLower(host)
	if !p.referer.Match(host) && !strings.Contains(lower, "weixin") && !strings.Contains(lower, "wechat") {
		return nil
	}
	h := http.Header{}
	if pageURL != "" {
		h.Set("Referer", pageURL)
	}
	h.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	return h
}

func slotName(stamp string, slot int) string {
	if stamp == "" {
		return fmt.Sprintf("%03d", slot)
	}
	return fmt.Sprintf("%s_%03d", stamp, slot)
}

// rewrite points references of downloaded images at relDir/<file>. Only the
// URL is replaced, so titles and other attributes survive.
func rewrite(md string, occs []occurrence, refs []article.ImageRef, relDir string, order map[string]int) string {
	var b strings.Builder
	last := 0
	for _, occ := range occs {
		ref := refs[order[occ.resolved]-1]
		if ref.Status != article.ImageDownloaded {
			continue
		}
		b.WriteString(md[last:occ.srcStart])
		b.WriteString(path.Join(relDir, filepath.Base(ref.LocalPath)))
		last = occ.srcEnd
	}
	b.WriteString(md[last:])
	return b.String()
}

// compactRename renumbers the distinct stored files contiguously in
// first-seen order. Files move through temporary names so no rename can
// clobber a file that has yet to move.
func compactRename(refs []article.ImageRef, dir, stamp string) error {
	type move struct{ from, tmp, to string }
	var moves []move
	renamed := make(map[string]string)
	next := 1
	for i := range refs {
		ref := refs[i]
		if ref.Status != article.ImageDownloaded {
			continue
		}
		if _, done := renamed[ref.LocalPath]; done {
			continue
		}
		to := filepath.Join(dir, slotName(stamp, next)+filepath.Ext(ref.LocalPath))
		next++
		renamed[ref.LocalPath] = to
		if to != ref.LocalPath {
			moves = append(moves, move{from: ref.LocalPath, tmp: ref.LocalPath + ".reseq.tmp", to: to})
		}
	}
	var errs []error
	for i := range moves {
		if err := os.Rename(moves[i].from, moves[i].tmp); err != nil {
			errs = append(errs, err)
			moves[i].tmp = ""
			renamed[moves[i].from] = moves[i].from
		}
	}
	for _, m := range moves {
		if m.tmp == "" {
			continue
		}
		if err := os.Rename(m.tmp, m.to); err != nil {
			errs = append(errs, err)
			renamed[m.from] = m.tmp
		}
	}
	for i := range refs {
		if to, ok := renamed[refs[i].LocalPath]; ok {
			refs[i].LocalPath = to
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("compact rename: %w", errors.Join(errs...))
	}
	return nil
}
