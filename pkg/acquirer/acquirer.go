package acquirer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"docharvest/internal/downloader"
	"docharvest/pkg/cancel"
	errs "docharvest/pkg/errors"
	"docharvest/pkg/logger"
	"docharvest/pkg/progress"
	"docharvest/pkg/queue"
	"docharvest/pkg/storage"
	"docharvest/pkg/telemetry"

	"github.com/dustin/go-humanize"
)

// State is the lifecycle of one acquisition run.
type State string

const (
	StatePending     State = "pending"
	StateScanning    State = "scanning"
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateComplete    State = "complete"
	StateCancelled   State = "cancelled"
	StateFailed      State = "failed"
)

// Options configures an Acquirer
type Options struct {
	CacheDir      string
	DefaultBranch string
	BatchSize     int
	Workers       int
	Filter        Filter
}

// DefaultOptions returns batch 5, 3 workers and the default filter.
func DefaultOptions(cacheDir string) Options {
	return Options{
		CacheDir:      cacheDir,
		DefaultBranch: "main",
		BatchSize:     5,
		Workers:       3,
		Filter:        DefaultFilter(),
	}
}

// Request describes one repository acquisition.
type Request struct {
	Owner    string
	Repo     string
	Ref      string
	MaxFiles int
	Guidance *Guidance
}

// FileRecord describes one downloaded file.
type FileRecord struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	LocalPath string `json:"local_path"`
	Repo      string `json:"repo"`
	Ref       string `json:"branch"`
	Size      int    `json:"size"`
}

// Result is the outcome of FetchRelevantContent. Files holds whatever was
// downloaded, including on cancellation.
type Result struct {
	Owner    string
	Repo     string
	Ref      string
	State    State
	Strategy ScanStrategy
	Scan     *ScanResult
	Files    []FileRecord
	Failed   int
}

// DownloadOptions controls one download phase.
type DownloadOptions struct {
	// Progress receives queue percent in [0, 100] after each batch.
	Progress progress.Func
	Token    *cancel.Token
}

// Acquirer scans repositories and downloads their relevant files.
type Acquirer struct {
	source  Source
	opts    Options
	metrics *telemetry.Telemetry
	logger  logger.Logger
	store   *storage.Manager
	pool    *downloader.WorkerPool[queue.FileDescriptor, FileRecord]
}

// New creates an Acquirer reading from source.
func New(source Source, opts Options, metrics *telemetry.Telemetry, log logger.Logger) *Acquirer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = "main"
	}
	a := &Acquirer{
		source:  source,
		opts:    opts,
		metrics: metrics,
		logger:  logger.OrDefault(log).WithField("component", "acquirer"),
		store:   storage.NewManager(opts.CacheDir),
	}
	a.pool = downloader.NewWorkerPool(opts.Workers, a.downloadFile, a.logger)
	return a
}

// Filter returns the base filter combined with g.
func (a *Acquirer) Filter(g *Guidance) Filter {
	return a.opts.Filter.WithGuidance(g)
}

// ResolveRef returns ref, or the repository default branch when ref is
// empty. Lookup errors fall back to the configured default branch.
func (a *Acquirer) ResolveRef(ctx context.Context, owner, repo, ref string) string {
	if ref != "" {
		return ref
	}
	branch, err := a.source.DefaultBranch(ctx, owner, repo)
	if err != nil || branch == "" {
		a.logger.WarnWithFields("Could not resolve default branch, using fallback", map[string]interface{}{
			"repo":     owner + "/" + repo,
			"fallback": a.opts.DefaultBranch,
			"error":    fmt.Sprint(err),
		})
		return a.opts.DefaultBranch
	}
	return branch
}

// MaxFiles combines a request cap with a guidance cap, the smaller positive
// value winning.
func MaxFiles(requested int, g *Guidance) int {
	if g == nil || g.MaxFiles <= 0 {
		return requested
	}
	if requested <= 0 || g.MaxFiles < requested {
		return g.MaxFiles
	}
	return requested
}

// FetchRelevantContent scans a repository, queues eligible files and
// downloads them. Cancellation is not an error: the returned Result carries
// StateCancelled and any files fetched so far.
func (a *Acquirer) FetchRelevantContent(ctx context.Context, req Request, report progress.Func, token *cancel.Token) (*Result, error) {
	res := &Result{Owner: req.Owner, Repo: req.Repo, State: StatePending}
	log := a.logger.WithField("repo", req.Owner+"/"+req.Repo)

	if cancel.Cancelled(ctx, token) {
		log.Info("Operation cancelled before scanning repository structure")
		res.State = StateCancelled
		return res, nil
	}

	res.Ref = a.ResolveRef(ctx, req.Owner, req.Repo, req.Ref)
	filter := a.Filter(req.Guidance)
	maxFiles := MaxFiles(req.MaxFiles, req.Guidance)
	report.Report(5, fmt.Sprintf("Scanning %s/%s", req.Owner, req.Repo))

	if cancel.Cancelled(ctx, token) {
		res.State = StateCancelled
		return res, nil
	}

	res.State = StateScanning
	scan, err := a.ScanRepository(ctx, req.Owner, req.Repo, res.Ref, filter, token)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("scan %s/%s: %w", req.Owner, req.Repo, err)
	}
	res.Scan = scan
	res.Strategy = scan.Strategy

	if cancel.Cancelled(ctx, token) {
		log.Info("Operation cancelled after scanning repository structure")
		res.State = StateCancelled
		return res, nil
	}
	report.Report(15, fmt.Sprintf("Found %d relevant files", scan.RelevantFiles))

	var files []queue.FileDescriptor
	for _, p := range scan.RelevantPaths {
		if cancel.Cancelled(ctx, token) {
			log.Info("Operation cancelled while identifying files")
			res.State = StateCancelled
			return res, nil
		}
		files = append(files, a.identifyPath(scan, p, filter)...)
	}
	if len(files) == 0 {
		log.Warn("No relevant files found")
		res.State = StateComplete
		report.Report(95, "No relevant files found")
		return res, nil
	}

	q := queue.New()
	q.AddAll(files)
	res.State = StateQueued
	a.Prioritize(q, maxFiles, req.Guidance)
	report.Report(20, fmt.Sprintf("Queued %d files", q.Len()))

	res.State = StateDownloading
	report.Report(25, q.StatusMessage())
	records, cancelled := a.Download(ctx, q, DownloadOptions{
		Progress: report.Scale(25, 90, 90),
		Token:    token,
	})
	res.Files = records
	res.Failed = q.Progress().FilesProcessed - len(records)

	if cancelled {
		log.InfoWithFields("Operation cancelled during file download", map[string]interface{}{
			"files": len(records),
		})
		res.State = StateCancelled
		return res, nil
	}

	res.State = StateComplete
	report.Report(95, fmt.Sprintf("Downloaded %d files", len(records)))
	return res, nil
}

// Identify builds one FileDescriptor per eligible file under every relevant
// path of scan.
func (a *Acquirer) Identify(scan *ScanResult, filter Filter) []queue.FileDescriptor {
	var files []queue.FileDescriptor
	for _, p := range scan.RelevantPaths {
		files = append(files, a.identifyPath(scan, p, filter)...)
	}
	return files
}

func (a *Acquirer) identifyPath(scan *ScanResult, p string, filter Filter) []queue.FileDescriptor {
	node, ok := scan.Structure.Lookup(p)
	if !ok {
		a.logger.WarnWithFields("Path not found in repository structure", map[string]interface{}{
			"path": p,
		})
		return nil
	}

	var files []queue.FileDescriptor
	for _, f := range node.Files {
		if !filter.IsEligibleFile(f.Name, f.Size) {
			continue
		}
		local, err := a.store.RepoPath(scan.Owner, scan.Repo, path.Join(p, f.Name))
		if err != nil {
			a.logger.WithError(err).Warn("Skipping file with unsafe path")
			continue
		}
		files = append(files, queue.FileDescriptor{
			Owner:     scan.Owner,
			Repo:      scan.Repo,
			Path:      f.Path,
			Ref:       scan.Ref,
			SHA:       f.SHA,
			Name:      f.Name,
			Size:      int(f.Size),
			LocalPath: local,
			URL:       f.DownloadURL,
		})
	}
	return files
}

// Prioritize trims q to maxFiles, ranking by guidance keywords first when
// there are any. The ranking happens once, before downloads start.
func (a *Acquirer) Prioritize(q *queue.Queue, maxFiles int, g *Guidance) {
	if maxFiles <= 0 {
		return
	}
	var score func(queue.FileDescriptor) int
	if g != nil && len(g.PriorityKeywords) > 0 {
		keywords := g.PriorityKeywords
		score = func(f queue.FileDescriptor) int { return Score(f.Path, keywords) }
	}
	if dropped := q.Prioritize(maxFiles, score); dropped > 0 {
		a.logger.InfoWithFields("Queue trimmed to max files", map[string]interface{}{
			"max_files": maxFiles,
			"dropped":   dropped,
		})
	}
}

// Download drains q in batches on the worker pool. Every attempted file is
// marked processed whether or not it succeeded. The bool result reports
// whether cancellation stopped the phase early.
func (a *Acquirer) Download(ctx context.Context, q *queue.Queue, opts DownloadOptions) ([]FileRecord, bool) {
	var records []FileRecord
	start := time.Now()
	var bytes uint64

	for !q.IsEmpty() {
		if cancel.Cancelled(ctx, opts.Token) {
			return records, true
		}

		batch := q.NextBatch(a.opts.BatchSize)
		results := a.pool.Run(ctx, batch, opts.Token)

		cancelled := false
		for _, r := range results {
			if r.Skipped {
				cancelled = true
				continue
			}
			q.MarkProcessed()
			if r.Err != nil {
				continue
			}
			records = append(records, r.Value)
			bytes += uint64(r.Value.Size)
		}

		status := q.StatusMessage()
		a.logger.Debug(status)
		opts.Progress.Report(q.Progress().Percent, status)

		if cancelled || cancel.Cancelled(ctx, opts.Token) {
			return records, true
		}
	}

	a.logger.InfoWithFields("Download phase finished", map[string]interface{}{
		"files":    len(records),
		"bytes":    humanize.Bytes(bytes),
		"duration": time.Since(start),
	})
	return records, false
}

func (a *Acquirer) downloadFile(ctx context.Context, f queue.FileDescriptor) (FileRecord, error) {
	var (
		data []byte
		err  error
	)
	if f.URL != "" {
		data, err = a.source.Download(ctx, f.URL)
	} else {
		data, err = a.source.FileContent(ctx, f.Owner, f.Repo, f.Path, f.Ref)
	}
	if err == nil {
		_, err = a.store.Save(f.LocalPath, bytes.NewReader(data))
	}

	logger.LogDownload(a.logger, f.Path, len(data), err)
	if err != nil {
		a.metrics.RecordFile("error", 0)
		if mErr := a.store.MarkFailed(f.LocalPath, err); mErr != nil {
			a.logger.WarnWithFields("Could not write error marker", map[string]interface{}{
				"path": storage.ErrorMarkerPath(f.LocalPath),
			})
		}
		return FileRecord{}, &errs.ItemError{Item: f.Owner + "/" + f.Repo + "/" + f.Path, Err: err}
	}

	a.metrics.RecordFile("ok", len(data))
	return FileRecord{
		Name:      f.Name,
		Path:      f.Path,
		LocalPath: f.LocalPath,
		Repo:      f.Owner + "/" + f.Repo,
		Ref:       f.Ref,
		Size:      len(data),
	}, nil
}
