package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math"

	"docharvest/internal/downloader"
	"docharvest/pkg/acquirer"
	"docharvest/pkg/cancel"
	"docharvest/pkg/crawler"
	errs "docharvest/pkg/errors"
	"docharvest/pkg/logger"
	"docharvest/pkg/progress"
	"docharvest/pkg/queue"
	"docharvest/pkg/tasks"
	"docharvest/pkg/telemetry"

	gh "github.com/google/go-github/v80/github"
	"github.com/google/uuid"
)

// Stage names recorded on tasks.
const (
	StageScanning    = "scanning_repositories"
	StageDownloading = "downloading_files"
	StageCrawling    = "crawling"
	StageVerifying   = "verifying"
)

// Source is the GitHub surface an organization run needs on top of what the
// acquirer reads.
type Source interface {
	acquirer.Source
	Organization(ctx context.Context, org string) (*gh.Organization, error)
	ListOrgRepos(ctx context.Context, org string, page, perPage int) ([]*gh.Repository, error)
}

// Options tunes organization runs.
type Options struct {
	// PerPage is the repository listing page size.
	PerPage int
	// ScanWorkers bounds concurrent repository scans and is also the scan
	// batch size.
	ScanWorkers int
}

// DefaultOptions pages 100 repositories at a time and scans 5 at once.
func DefaultOptions() Options {
	return Options{PerPage: 100, ScanWorkers: 5}
}

// RepoRequest names one repository, either by URL or by owner and name.
type RepoRequest struct {
	URL      string             `json:"url,omitempty"`
	Owner    string             `json:"owner,omitempty"`
	Repo     string             `json:"repo,omitempty"`
	Ref      string             `json:"branch,omitempty"`
	MaxFiles int                `json:"max_files,omitempty"`
	Guidance *acquirer.Guidance `json:"guidance,omitempty"`
}

// OrgRequest names an organization.
type OrgRequest struct {
	Org      string             `json:"org"`
	MaxFiles int                `json:"max_files,omitempty"`
	Guidance *acquirer.Guidance `json:"guidance,omitempty"`
}

// CrawlRequest describes a website crawl.
type CrawlRequest struct {
	URL       string            `json:"url"`
	Recursive bool              `json:"recursive"`
	MaxPages  int               `json:"max_pages,omitempty"`
	Guidance  *crawler.Guidance `json:"guidance,omitempty"`
}

// Result is what a run collected. On cancellation it holds the partial
// results gathered before the token was observed.
type Result struct {
	TaskID       string
	RunID        string
	Status       tasks.Status
	Files        []acquirer.FileRecord
	Pages        []crawler.PageRecord
	Repositories int
	Failed       int
	// Skipped lists organization repositories left out because they could
	// not be scanned.
	Skipped []string
}

// Fetcher drives acquisition runs and records them as tasks.
type Fetcher struct {
	source   Source
	acquirer *acquirer.Acquirer
	crawler  *crawler.Engine
	tracker  *tasks.Tracker
	opts     Options
	metrics  *telemetry.Telemetry
	logger   logger.Logger
}

// New creates a Fetcher. engine may be nil when crawling is not needed.
func New(source Source, acq *acquirer.Acquirer, engine *crawler.Engine, tracker *tasks.Tracker, opts Options, metrics *telemetry.Telemetry, log logger.Logger) *Fetcher {
	if opts.PerPage <= 0 {
		opts.PerPage = 100
	}
	if opts.ScanWorkers <= 0 {
		opts.ScanWorkers = 5
	}
	return &Fetcher{
		source:   source,
		acquirer: acq,
		crawler:  engine,
		tracker:  tracker,
		opts:     opts,
		metrics:  metrics,
		logger:   logger.OrDefault(log).WithField("component", "fetcher"),
	}
}

// run is the bookkeeping of one in-flight operation.
type run struct {
	f        *Fetcher
	taskID   string
	taskType string
	id       string
	report   progress.Func
	log      logger.Logger
}

// start creates the task, or takes over an existing one when resuming.
func (f *Fetcher) start(taskType, taskID string, params interface{}, description string, report progress.Func) (*run, error) {
	if taskID == "" {
		id, err := f.tracker.Create(taskType, params, description)
		if err != nil {
			return nil, fmt.Errorf("create task: %w", err)
		}
		taskID = id
	} else if err := f.tracker.UpdateProgress(taskID, 0, tasks.Update{Status: tasks.StatusInProgress}); err != nil {
		return nil, fmt.Errorf("resume task: %w", err)
	}

	r := &run{
		f:        f,
		taskID:   taskID,
		taskType: taskType,
		id:       uuid.NewString(),
		report:   report,
	}
	r.log = f.logger.WithFields(map[string]interface{}{
		"task_id": taskID,
		"run_id":  r.id,
	})
	r.log.InfoWithFields("Run started", map[string]interface{}{
		"type":        taskType,
		"description": description,
	})
	return r, nil
}

func (r *run) result() *Result {
	return &Result{TaskID: r.taskID, RunID: r.id, Status: tasks.StatusInProgress}
}

// progress forwards to the caller and mirrors into the task record.
func (r *run) progress(percent float64, message, stage string, stageProgress float64) {
	r.report.Report(percent, message)
	if err := r.f.tracker.UpdateProgress(r.taskID, percent, tasks.StageAt(stage, math.Min(100, stageProgress))); err != nil {
		r.log.WithError(err).Warn("Could not update task progress")
	}
}

func (r *run) cancel(res *Result) (*Result, error) {
	if err := r.f.tracker.Cancel(r.taskID); err != nil {
		r.log.WithError(err).Warn("Could not mark task cancelled")
	}
	r.f.metrics.RecordTask(r.taskType, string(tasks.StatusCancelled))
	r.log.InfoWithFields("Run cancelled", map[string]interface{}{
		"files": len(res.Files),
		"pages": len(res.Pages),
	})
	res.Status = tasks.StatusCancelled
	return res, nil
}

func (r *run) complete(res *Result, result map[string]interface{}) (*Result, error) {
	if err := r.f.tracker.Complete(r.taskID, true, result); err != nil {
		r.log.WithError(err).Warn("Could not mark task completed")
	}
	r.f.metrics.RecordTask(r.taskType, string(tasks.StatusCompleted))
	r.report.Report(100, "Complete")
	r.log.InfoWithFields("Run completed", result)
	res.Status = tasks.StatusCompleted
	return res, nil
}

func (r *run) fail(res *Result, cause error) (*Result, error) {
	if err := r.f.tracker.Complete(r.taskID, false, map[string]interface{}{"error": cause.Error()}); err != nil {
		r.log.WithError(err).Warn("Could not mark task failed")
	}
	r.f.metrics.RecordTask(r.taskType, string(tasks.StatusFailed))
	r.report.Report(progress.Error, cause.Error())
	r.log.WithError(cause).Error("Run failed")
	res.Status = tasks.StatusFailed
	return res, cause
}

// FetchRepository scans one repository and downloads its relevant files.
func (f *Fetcher) FetchRepository(ctx context.Context, req RepoRequest, report progress.Func, token *cancel.Token) (*Result, error) {
	return f.fetchRepository(ctx, req, report, token, "")
}

func (f *Fetcher) fetchRepository(ctx context.Context, req RepoRequest, report progress.Func, token *cancel.Token, taskID string) (*Result, error) {
	if req.URL != "" && (req.Owner == "" || req.Repo == "") {
		owner, repo, err := ParseRepoURL(req.URL)
		if err != nil {
			return nil, err
		}
		req.Owner, req.Repo = owner, repo
	}
	if req.Owner == "" || req.Repo == "" {
		return nil, errors.New("repository owner and name are required")
	}

	name := req.Owner + "/" + req.Repo
	r, err := f.start(tasks.TypeRepository, taskID, req, "Fetching repository "+name, report)
	if err != nil {
		return nil, err
	}
	res := r.result()

	if cancel.Cancelled(ctx, token) {
		return r.cancel(res)
	}

	// The acquirer reports scanning below 25 and downloading from 25 to 95.
	acqReport := func(percent float64, message string) {
		if percent < 25 {
			r.progress(percent, message, StageScanning, percent/25*100)
			return
		}
		r.progress(percent, message, StageDownloading, (percent-25)/(90-25)*100)
	}

	out, err := f.acquirer.FetchRelevantContent(ctx, acquirer.Request{
		Owner:    req.Owner,
		Repo:     req.Repo,
		Ref:      req.Ref,
		MaxFiles: req.MaxFiles,
		Guidance: req.Guidance,
	}, acqReport, token)
	res.Repositories = 1
	if out != nil {
		res.Files = out.Files
		res.Failed = out.Failed
	}
	if err != nil {
		return r.fail(res, err)
	}
	if out.State == acquirer.StateCancelled {
		return r.cancel(res)
	}

	return r.complete(res, map[string]interface{}{
		"files_count":  len(res.Files),
		"failed_count": res.Failed,
		"repository":   name,
		"branch":       out.Ref,
	})
}

// FetchOrganization lists every repository of an organization, scans them
// in small batches and downloads all relevant files from one queue.
func (f *Fetcher) FetchOrganization(ctx context.Context, req OrgRequest, report progress.Func, token *cancel.Token) (*Result, error) {
	return f.fetchOrganization(ctx, req, report, token, "")
}

func (f *Fetcher) fetchOrganization(ctx context.Context, req OrgRequest, report progress.Func, token *cancel.Token, taskID string) (*Result, error) {
	if req.Org == "" {
		return nil, errors.New("organization name is required")
	}

	r, err := f.start(tasks.TypeOrganization, taskID, req, "Fetching content from organization "+req.Org, report)
	if err != nil {
		return nil, err
	}
	res := r.result()

	r.progress(5, "Listing repositories of "+req.Org, StageScanning, 5)
	if cancel.Cancelled(ctx, token) {
		return r.cancel(res)
	}

	if _, err := f.source.Organization(ctx, req.Org); err != nil {
		if errs.IsNotFound(err) {
			return r.fail(res, fmt.Errorf("organization %s not found: %w", req.Org, err))
		}
		return r.fail(res, fmt.Errorf("look up organization %s: %w", req.Org, err))
	}

	repos, cancelled, err := f.listRepositories(ctx, req.Org, token)
	if err != nil {
		return r.fail(res, err)
	}
	if cancelled {
		return r.cancel(res)
	}
	res.Repositories = len(repos)
	if len(repos) == 0 {
		r.log.WarnWithFields("No repositories found", map[string]interface{}{"org": req.Org})
		return r.complete(res, map[string]interface{}{
			"files_count": 0,
			"message":     "No repositories found",
		})
	}
	r.progress(10, fmt.Sprintf("Found %d repositories", len(repos)), StageScanning, 50)

	filter := f.acquirer.Filter(req.Guidance)
	scans, skipped, cancelled := f.scanRepositories(ctx, r, req.Org, repos, filter, token)
	res.Skipped = skipped
	if cancelled {
		return r.cancel(res)
	}

	relevant := 0
	for _, s := range scans {
		relevant += s.RelevantFiles
	}
	r.log.InfoWithFields("Scanned organization", map[string]interface{}{
		"repositories":   len(scans),
		"relevant_files": relevant,
	})
	r.progress(20, fmt.Sprintf("Scanned %d repositories", len(scans)), StageDownloading, 0)

	q := queue.New()
	for _, s := range scans {
		q.AddAll(f.acquirer.Identify(s, filter))
	}
	f.acquirer.Prioritize(q, acquirer.MaxFiles(req.MaxFiles, req.Guidance), req.Guidance)

	if q.Len() == 0 {
		r.log.Warn("No files to download in any repository")
		r.progress(90, "No relevant files found", StageDownloading, 100)
		return r.complete(res, map[string]interface{}{
			"files_count": 0,
			"message":     "No relevant files found",
		})
	}

	records, cancelled := f.acquirer.Download(ctx, q, acquirer.DownloadOptions{
		Progress: func(percent float64, message string) {
			r.progress(math.Min(90, 20+percent*0.7), message, StageDownloading, percent)
		},
		Token: token,
	})
	res.Files = records
	res.Failed = q.Progress().FilesProcessed - len(records)
	if cancelled {
		return r.cancel(res)
	}

	r.progress(90, fmt.Sprintf("Downloaded %d files from %d repositories", len(records), len(scans)), StageDownloading, 100)
	result := map[string]interface{}{
		"files_count":  len(records),
		"failed_count": res.Failed,
		"repositories": len(scans),
	}
	if len(skipped) > 0 {
		result["skipped_repositories"] = skipped
	}
	return r.complete(res, result)
}

// listRepositories pages until a short page. The bool reports cancellation.
func (f *Fetcher) listRepositories(ctx context.Context, org string, token *cancel.Token) ([]*gh.Repository, bool, error) {
	var repos []*gh.Repository
	for page := 1; ; page++ {
		if cancel.Cancelled(ctx, token) {
			return repos, true, nil
		}
		batch, err := f.source.ListOrgRepos(ctx, org, page, f.opts.PerPage)
		if err != nil {
			return nil, false, fmt.Errorf("list repositories of %s: %w", org, err)
		}
		repos = append(repos, batch...)
		if len(batch) < f.opts.PerPage {
			return repos, false, nil
		}
	}
}

// scanRepositories scans repos in batches of ScanWorkers. A repository that
// cannot be scanned is logged and returned in the skipped list. The bool
// reports cancellation.
func (f *Fetcher) scanRepositories(ctx context.Context, r *run, org string, repos []*gh.Repository, filter acquirer.Filter, token *cancel.Token) ([]*acquirer.ScanResult, []string, bool) {
	pool := downloader.NewWorkerPool(f.opts.ScanWorkers, func(ctx context.Context, repo *gh.Repository) (*acquirer.ScanResult, error) {
		owner := repo.GetOwner().GetLogin()
		if owner == "" {
			owner = org
		}
		ref := repo.GetDefaultBranch()
		if ref == "" {
			ref = f.acquirer.ResolveRef(ctx, owner, repo.GetName(), "")
		}
		return f.acquirer.ScanRepository(ctx, owner, repo.GetName(), ref, filter, token)
	}, r.log)

	var scans []*acquirer.ScanResult
	var skippedRepos []string
	batchSize := pool.Size()
	for i := 0; i < len(repos); i += batchSize {
		if cancel.Cancelled(ctx, token) {
			r.log.Info("Operation cancelled during repository scanning")
			return scans, skippedRepos, true
		}

		end := min(i+batchSize, len(repos))
		skipped := false
		for _, res := range pool.Run(ctx, repos[i:end], token) {
			switch {
			case res.Skipped:
				skipped = true
			case errs.IsNotFound(res.Err):
				// listed a moment ago, deleted or made private since
				r.log.InfoWithFields("Repository no longer exists, skipping", map[string]interface{}{
					"repo": res.Job.GetFullName(),
				})
				skippedRepos = append(skippedRepos, res.Job.GetFullName())
			case res.Err != nil:
				r.log.WarnWithFields("Error scanning repository", map[string]interface{}{
					"repo":  res.Job.GetFullName(),
					"error": res.Err.Error(),
				})
				skippedRepos = append(skippedRepos, res.Job.GetFullName())
			default:
				scans = append(scans, res.Value)
			}
		}
		if skipped || cancel.Cancelled(ctx, token) {
			r.log.Info("Operation cancelled during repository scanning")
			return scans, skippedRepos, true
		}

		frac := float64(end) / float64(len(repos))
		r.progress(10+10*frac, fmt.Sprintf("Scanned %d/%d repositories", end, len(repos)), StageScanning, frac*100)
	}
	return scans, skippedRepos, false
}

// CrawlSite crawls a website and records it as a task.
func (f *Fetcher) CrawlSite(ctx context.Context, req CrawlRequest, report progress.Func, token *cancel.Token) (*Result, error) {
	return f.crawlSite(ctx, req, report, token, "")
}

func (f *Fetcher) crawlSite(ctx context.Context, req CrawlRequest, report progress.Func, token *cancel.Token, taskID string) (*Result, error) {
	if f.crawler == nil {
		return nil, errors.New("website crawling is not configured")
	}
	if req.URL == "" {
		return nil, errors.New("start URL is required")
	}

	r, err := f.start(tasks.TypeWebsite, taskID, req, "Crawling website "+req.URL, report)
	if err != nil {
		return nil, err
	}
	res := r.result()

	if cancel.Cancelled(ctx, token) {
		return r.cancel(res)
	}

	// The engine reports 95 once when verification begins.
	verifying := false
	crawlReport := func(percent float64, message string) {
		if percent >= 95 && percent < 100 {
			verifying = true
		}
		if verifying {
			r.progress(percent, message, StageVerifying, (percent-95)/5*100)
			return
		}
		r.progress(percent, message, StageCrawling, percent/95*100)
	}

	pages, err := f.crawler.Crawl(ctx, crawler.Request{
		StartURL:  req.URL,
		Recursive: req.Recursive,
		MaxPages:  req.MaxPages,
		Guidance:  req.Guidance,
	}, crawlReport, token)
	res.Pages = pages
	for _, p := range pages {
		if p.Status != crawler.StatusSuccess {
			res.Failed++
		}
	}
	if err != nil {
		return r.fail(res, err)
	}
	if cancel.Cancelled(ctx, token) {
		return r.cancel(res)
	}

	return r.complete(res, map[string]interface{}{
		"pages_count":  len(pages),
		"failed_count": res.Failed,
		"url":          req.URL,
	})
}

// Resume re-runs a stored task that is neither completed nor failed, reusing
// its id and parameters.
func (f *Fetcher) Resume(ctx context.Context, taskID string, report progress.Func, token *cancel.Token) (*Result, error) {
	task, err := f.tracker.Get(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", tasks.ErrNotFound, taskID)
	}
	if !task.Resumable() {
		return nil, fmt.Errorf("task %s is %s and cannot be resumed", taskID, task.Status)
	}

	f.logger.InfoWithFields("Resuming task", map[string]interface{}{
		"task_id":  task.ID,
		"type":     task.Type,
		"progress": task.Progress,
	})

	switch task.Type {
	case tasks.TypeRepository:
		var req RepoRequest
		if err := task.DecodeParams(&req); err != nil {
			return nil, err
		}
		return f.fetchRepository(ctx, req, report, token, task.ID)
	case tasks.TypeOrganization:
		var req OrgRequest
		if err := task.DecodeParams(&req); err != nil {
			return nil, err
		}
		return f.fetchOrganization(ctx, req, report, token, task.ID)
	case tasks.TypeWebsite:
		var req CrawlRequest
		if err := task.DecodeParams(&req); err != nil {
			return nil, err
		}
		return f.crawlSite(ctx, req, report, token, task.ID)
	default:
		return nil, fmt.Errorf("task %s has unknown type %q", task.ID, task.Type)
	}
}
