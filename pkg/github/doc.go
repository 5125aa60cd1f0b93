// Package github is a rate-limited client for the GitHub REST API.
//
// Every client for the same provider shares one *ratelimit.Budget. Metadata
// calls count against the hourly budget and are retried with short
// exponential backoff. Raw file downloads are paced by the same budget but
// not counted, get a doubled timeout and a longer retry schedule.
//
// Responses decode into go-github types so callers work with the familiar
// gh.Repository and gh.RepositoryContent shapes.
package github
