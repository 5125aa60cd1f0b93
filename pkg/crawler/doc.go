// Package crawler fetches web pages breadth-first, honouring robots.txt and
// a per-domain delay, converts them to markdown and runs a verification pass
// over every crawled page's links to pick up pages the main loop missed.
package crawler
