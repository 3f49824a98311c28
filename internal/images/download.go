package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/JakeFAU/article2md/internal/article"
)

// job is one unique image to fetch.
type job struct {
	slot        int
	source      string
	downloadURL string
	// base is the file name without extension; ext is the URL-derived
	// extension, ".img" when the format must be detected.
	base    string
	ext     string
	detect  bool
	headers http.Header
}

// outcome is what a job produced. path is the absolute final file.
type outcome struct {
	job    job
	path   string
	hash   string
	reused bool
	err    error
}

// dedupIndex maps content hashes to the first file stored with that content.
type dedupIndex struct {
	mu     sync.Mutex
	byHash map[string]string
}

func newDedupIndex() *dedupIndex {
	return &dedupIndex{byHash: make(map[string]string)}
}

type downloader struct {
	cfg     Config
	client  *http.Client
	limiter *hostLimiter
	dedup   *dedupIndex
	dir     string
}

func (d *downloader) run(ctx context.Context, j job) outcome {
	out := outcome{job: j}
	out.path, out.hash, out.reused, out.err = d.fetch(ctx, j)
	if out.err != nil {
		out.err = fmt.Errorf("%w: %s: %w", article.ErrImageFailure, j.source, out.err)
	}
	return out
}

func (d *downloader) fetch(ctx context.Context, j job) (string, string, bool, error) {
	u, err := url.Parse(j.downloadURL)
	if err != nil {
		return "", "", false, fmt.Errorf("parse url: %w", err)
	}
	release, err := d.limiter.acquire(ctx, u.Hostname())
	if err != nil {
		return "", "", false, err
	}
	defer release()

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, j.downloadURL, nil)
	if err != nil {
		return "", "", false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	for k, values := range j.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", "", false, fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if resp.StatusCode != http.StatusOK {
		return "", "", false, fmt.Errorf("status %d", resp.StatusCode)
	}

	final := filepath.Join(d.dir, j.base+j.ext)
	part := final + ".part"
	hash, err := d.stream(resp.Body, part)
	if err != nil {
		_ = os.Remove(part)
		return "", "", false, err
	}
	path, reused, err := d.commit(part, final, hash, j.detect)
	if err != nil {
		_ = os.Remove(part)
		return "", "", false, err
	}
	return path, hash, reused, nil
}

// stream copies body into part while hashing it.
func (d *downloader) stream(body io.Reader, part string) (string, error) {
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create part file: %w", err)
	}
	hasher := sha256.New()
	n, copyErr := io.Copy(io.MultiWriter(f, hasher), io.LimitReader(body, d.cfg.MaxBytes+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		return "", fmt.Errorf("download body: %w", copyErr)
	case closeErr != nil:
		return "", fmt.Errorf("close part file: %w", closeErr)
	case n == 0:
		return "", errors.New("empty body")
	case n > d.cfg.MaxBytes:
		return "", fmt.Errorf("image exceeds %d bytes", d.cfg.MaxBytes)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// commit stores part under final unless the same content was already stored
// for this document, in which case the existing file is returned. With detect
// set the file extension is taken from its magic number.
func (d *downloader) commit(part, final, hash string, detect bool) (string, bool, error) {
	d.dedup.mu.Lock()
	defer d.dedup.mu.Unlock()
	if existing, ok := d.dedup.byHash[hash]; ok {
		if err := os.Remove(part); err != nil {
			return "", false, fmt.Errorf("remove duplicate part: %w", err)
		}
		return existing, true, nil
	}
	if detect {
		final = withDetectedExtension(part, final)
	}
	final = unusedPath(final)
	if err := os.Rename(part, final); err != nil {
		return "", false, fmt.Errorf("store image: %w", err)
	}
	d.dedup.byHash[hash] = final
	return final, false, nil
}

// withDetectedExtension swaps the extension of final for the one implied by
// the content of file. final is returned unchanged when the content is not a
// recognizable image.
func withDetectedExtension(file, final string) string {
	mtype, err := mimetype.DetectFile(file)
	if err != nil || !strings.HasPrefix(mtype.String(), "image/") || mtype.Extension() == "" {
		return final
	}
	ext := mtype.Extension()
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	return strings.TrimSuffix(final, filepath.Ext(final)) + ext
}

// unusedPath returns path, or path with a numeric suffix when a file from an
// earlier document already holds the name.
func unusedPath(path string) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 2; ; i++ {
		if _, err := os.Lstat(path); err != nil {
			return path
		}
		path = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}
