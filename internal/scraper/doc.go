// Package scraper defines the job and listing model shared by the scheduler,
// the enrichment pool, the stores and the HTTP API, together with the
// interfaces each adapter implements.
//
// A Job moves pending -> running -> completed, or to failed from either
// non-terminal state. Terminal jobs never change status again.
package scraper
