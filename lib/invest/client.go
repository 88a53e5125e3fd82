// Package invest drives the account level operations of the marketplace:
// cash balance, named portfolios, note search, building a diversified
// portfolio from an allocation option and placing an investment order.
// Everything here talks to endpoints the site's own web front end uses
// internally; the request and response shapes are external interfaces,
// not negotiable contracts.
package invest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"noteclient/lib/filter"
	"noteclient/lib/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("noteclient/invest")

type Client struct {
	Session *session.Session
}

func New(s *session.Session) *Client {
	return &Client{Session: s}
}

// OperationError is a domain failure in an order or portfolio operation:
// a staging call that did not succeed, a missing one-time token, a
// placement without an order id, a rejected bucket assignment. Response
// carries the raw server body when one was available.
type OperationError struct {
	Message  string
	Response string
}

func (e *OperationError) Error() string {
	return e.Message
}

// matches currency values like $1,000.12 or 1,000.12$
var currencyValue = regexp.MustCompile(`^[^0-9]?([0-9.,]+)[^0-9]?`)

// CashBalance returns the cash available for investing.
func (c *Client) CashBalance(ctx context.Context) (float64, error) {
	ctx, span := tracer.Start(ctx, "client:CashBalance")
	defer span.End()

	res, err := c.Session.Get(ctx, "/browse/cashBalanceAj.action", nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cash balance request failed")
		return 0, err
	}
	if !session.JSONSuccess(res.Body()) {
		span.SetStatus(codes.Error, "cash balance not available")
		return 0, &OperationError{
			Message:  "could not get the cash balance on the account",
			Response: string(res.Body()),
		}
	}

	var payload struct {
		CashBalance string `json:"cashBalance"`
	}
	err = json.Unmarshal(res.Body(), &payload)
	if err != nil {
		return 0, err
	}

	groups := currencyValue.FindStringSubmatch(payload.CashBalance)
	if groups == nil {
		return 0, &OperationError{
			Message:  fmt.Sprintf("unparseable cash balance %q", payload.CashBalance),
			Response: string(res.Body()),
		}
	}
	cash, err := strconv.ParseFloat(strings.ReplaceAll(groups[1], ",", ""), 64)
	if err != nil {
		return 0, err
	}
	return cash, nil
}

// Portfolio is a named server-side grouping label for invested notes.
type Portfolio struct {
	ID   int    `json:"portfolioId"`
	Name string `json:"portfolioName"`
}

// Portfolios lists the named portfolios on the account.
func (c *Client) Portfolios(ctx context.Context) ([]Portfolio, error) {
	res, err := c.Session.Get(ctx, "/data/portfolioManagement", url.Values{
		"method": {"getLCPortfolios"},
	})
	if err != nil {
		return nil, err
	}
	if !session.JSONSuccess(res.Body()) {
		return nil, &OperationError{
			Message:  "could not list portfolios",
			Response: string(res.Body()),
		}
	}

	var payload struct {
		Results []Portfolio `json:"results"`
	}
	err = json.Unmarshal(res.Body(), &payload)
	if err != nil {
		return nil, err
	}
	return payload.Results, nil
}

const searchPageSize = 100

type SearchResult struct {
	Loans        []filter.Loan `json:"loans"`
	TotalRecords int           `json:"totalRecords"`
}

// Search queries the browse endpoint with the filter and re-validates
// every returned record against it. A nil filter searches with the
// site's defaults and skips validation. Only searchPageSize records come
// back per call; page with startIndex.
func (c *Client) Search(ctx context.Context, f filter.SearchFilter, startIndex int) (*SearchResult, error) {
	ctx, span := tracer.Start(ctx, "client:Search")
	defer span.End()

	filterStr := "default"
	if f != nil {
		var err error
		filterStr, err = f.SearchString()
		if err != nil {
			return nil, err
		}
	}

	res, err := c.Session.Post(ctx, "/browse/browseNotesAj.action", nil, url.Values{
		"method":     {"search"},
		"filter":     {filterStr},
		"startindex": {strconv.Itoa(startIndex)},
		"pagesize":   {strconv.Itoa(searchPageSize)},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search request failed")
		return nil, err
	}
	if !session.JSONSuccess(res.Body()) {
		span.SetStatus(codes.Error, "search rejected")
		return nil, &OperationError{
			Message:  "search did not succeed",
			Response: string(res.Body()),
		}
	}

	var payload struct {
		SearchResult SearchResult `json:"searchresult"`
	}
	err = json.Unmarshal(res.Body(), &payload)
	if err != nil {
		return nil, err
	}
	result := payload.SearchResult

	// the browse endpoint identifies loans by GUID
	for i := range result.Loans {
		if result.Loans[i].ID == 0 {
			result.Loans[i].ID = result.Loans[i].GUID
		}
	}

	if f != nil {
		err = f.Validate(result.Loans)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "search results failed validation")
			return nil, err
		}
	}

	return &result, nil
}
