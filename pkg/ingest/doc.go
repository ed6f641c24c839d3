// Package ingest runs the page loop of a harvest.
//
// A Controller reads the newest checkpoint, then repeatedly fetches a page,
// writes it as the next numbered result document and records the cursor of
// the following page. The checkpoint is only appended after the document is
// on disk, so a crash between the two steps rewrites the same document on
// the next run instead of skipping it.
//
// A run ends when the search has no more results, when the record budget is
// spent, or with a *errors.ResumableFailure when a page cannot be fetched.
package ingest
