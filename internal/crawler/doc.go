// Package crawler holds the domain vocabulary shared by the crawl engine, the
// worker pool, and the ingestion loader: crawl requests and results, documents,
// pages, and the collaborator interfaces (fetchers, parsers, job manager,
// ingest client) injected into them.
package crawler
