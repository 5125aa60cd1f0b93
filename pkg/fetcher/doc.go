// Package fetcher orchestrates whole acquisition runs.
//
// A Fetcher composes the acquirer, the crawl engine and the task tracker:
//
//   - FetchRepository scans and downloads one repository
//   - FetchOrganization pages through an organization, scans its
//     repositories a few at a time and downloads every relevant file from
//     one consolidated queue
//   - CrawlSite crawls a documentation website
//   - Resume re-dispatches a stored, unfinished task
//
// Every run owns one task record. Progress is forwarded to the caller and
// mirrored into the task. Cancellation is cooperative through a shared
// cancel.Token; a cancelled run returns what it collected so far and leaves
// the task in the cancelled state.
//
// Usage:
//
//	f := fetcher.New(client, acq, engine, tracker, fetcher.DefaultOptions(), metrics, log)
//	res, err := f.FetchRepository(ctx, fetcher.RepoRequest{URL: "https://github.com/owner/repo"}, report, token)
package fetcher
