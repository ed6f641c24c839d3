package europepmc

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	// BaseURL is the Europe PMC REST service root
	BaseURL = "https://www.ebi.ac.uk/europepmc/webservices/rest"

	// SearchEndpoint is the search path below BaseURL
	SearchEndpoint = "/search"

	// StartCursor asks the API for the first page of a cursor traversal
	StartCursor = "*"

	// ResultTypeCore returns full metadata for each hit
	ResultTypeCore = "core"
)

// SearchRequest describes one page request
type SearchRequest struct {
	Query      string
	ResultType string
	PageSize   int
	// Cursor is the continuation token; empty means start of sequence
	Cursor string
}

// SearchURL builds the page URL below baseURL
func SearchURL(baseURL string, req SearchRequest) string {
	resultType := req.ResultType
	if resultType == "" {
		resultType = ResultTypeCore
	}
	cursor := req.Cursor
	if cursor == "" {
		cursor = StartCursor
	}

	params := url.Values{}
	params.Set("query", req.Query)
	params.Set("resultType", resultType)
	params.Set("format", "json")
	params.Set("pageSize", strconv.Itoa(req.PageSize))
	params.Set("cursorMark", cursor)

	return strings.TrimRight(baseURL, "/") + SearchEndpoint + "?" + params.Encode()
}
