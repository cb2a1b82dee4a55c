// Package api exposes the HTTP interface of the batch crawl service.
//
// POST /crawl (and /v1/crawl) runs a whole batch synchronously and answers
// with one result per submitted URL, in submission order. When every
// admission slot is taken the request is refused with 429 before any work
// starts.
package api
