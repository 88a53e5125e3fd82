package invest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sort"
	"strconv"

	"noteclient/lib/filter"
	"noteclient/lib/htmlutil"
	"noteclient/lib/session"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrOrderPlaced means Execute was called on an order that already went
// through. An order places exactly once; start a new one.
var ErrOrderPlaced = errors.New("this order has already been placed, start a new order")

// Order collects loan-id to dollar-amount assignments and walks them
// through the site's staging, confirmation and placement steps. The
// placement step consumes a one-time anti-forgery token scraped from the
// order page; without it no order can be placed.
type Order struct {
	client  *Client
	loans   map[int]float64
	orderID int
}

func (c *Client) NewOrder() *Order {
	return &Order{
		client: c,
		loans:  map[int]float64{},
	}
}

// ID returns the order identifier assigned by the server, or 0 while the
// order has not been placed.
func (o *Order) ID() int {
	return o.orderID
}

// Add puts a loan and the amount to invest in it on the order. Amounts
// must be positive multiples of 25. Adding a loan that is already on the
// order replaces its amount.
func (o *Order) Add(loanID int, amount float64) error {
	if o.orderID != 0 {
		return ErrOrderPlaced
	}
	if amount <= 0 || math.Mod(amount, 25) != 0 {
		return fmt.Errorf("amount must be a positive multiple of 25, got %v", amount)
	}
	o.loans[loanID] = amount
	return nil
}

// AddBatch adds every fraction to the order. A non-zero batchAmount
// overrides the per-fraction amount for all of them.
func (o *Order) AddBatch(fractions []filter.Fraction, batchAmount float64) error {
	for _, f := range fractions {
		amount := f.InvestAmount
		if batchAmount != 0 {
			amount = batchAmount
		}
		err := o.Add(f.ID, amount)
		if err != nil {
			return err
		}
	}
	return nil
}

// Remove takes a loan off the order. Unknown ids are ignored.
func (o *Order) Remove(loanID int) {
	delete(o.loans, loanID)
}

func (o *Order) sortedLoanIDs() []int {
	ids := make([]int, 0, len(o.loans))
	for id := range o.loans {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Execute stages the loans, obtains the one-time token, places the order
// and returns the server-assigned order id. With a portfolio name the
// invested notes are additionally assigned to that portfolio, new or
// existing. An order executes exactly once.
func (o *Order) Execute(ctx context.Context, portfolioName string) (int, error) {
	ctx, span := tracer.Start(ctx, "order:Execute")
	defer span.End()

	if o.orderID != 0 {
		return 0, ErrOrderPlaced
	}
	if len(o.loans) == 0 {
		return 0, fmt.Errorf("the order has no loans on it")
	}

	err := o.stage(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "staging failed")
		return 0, err
	}
	token, err := o.fetchToken(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no order token")
		return 0, err
	}
	orderID, err := o.place(ctx, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "placement failed")
		return 0, err
	}

	o.orderID = orderID
	span.SetAttributes(attribute.Int("order_id", orderID))
	slog.InfoContext(ctx, "order submitted", "order_id", orderID)

	if portfolioName != "" {
		_, err = o.AssignToPortfolio(ctx, portfolioName)
		if err != nil {
			return orderID, err
		}
	}
	return orderID, nil
}

// stage pushes every loan into the server's order-building session and
// finalizes the staged set. Failures here are cheap: nothing has been
// placed yet.
func (o *Order) stage(ctx context.Context) error {
	err := o.client.Session.ClearSessionOrder(ctx)
	if err != nil {
		return err
	}

	for _, loanID := range o.sortedLoanIDs() {
		amount := o.loans[loanID]
		res, err := o.client.Session.Post(ctx, "/browse/updateLSRAj.action", nil, url.Values{
			"loan_id":           {strconv.Itoa(loanID)},
			"investment_amount": {formatAmount(amount)},
			"remove":            {"false"},
		})
		if err != nil {
			return err
		}
		if !session.JSONSuccess(res.Body()) {
			return &OperationError{
				Message:  fmt.Sprintf("could not stage $%v for loan %d on the order", amount, loanID),
				Response: string(res.Body()),
			}
		}
	}

	res, err := o.client.Session.Get(ctx, "/data/portfolio", url.Values{
		"method": {"addToPortfolioNew"},
	})
	if err != nil {
		return err
	}
	if !session.JSONSuccess(res.Body()) {
		return &OperationError{
			Message:  "could not add the staged loans to the order",
			Response: string(res.Body()),
		}
	}
	return nil
}

type orderToken struct {
	Name  string
	Value string
}

// fetchToken scrapes the anti-forgery token off the order placement
// page. The token is consumed exactly once by the confirmation step.
func (o *Order) fetchToken(ctx context.Context) (orderToken, error) {
	res, err := o.client.Session.Get(ctx, "/portfolio/placeOrder.action", nil)
	if err != nil {
		return orderToken{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return orderToken{}, err
	}

	name := htmlutil.InputValue(doc, "struts.token.name")
	if name == "" {
		name = "struts.token"
	}
	value := htmlutil.InputValue(doc, name)
	if value == "" {
		return orderToken{}, &OperationError{
			Message:  "could not find the one-time token to place the order with",
			Response: string(res.Body()),
		}
	}
	return orderToken{Name: name, Value: value}, nil
}

// place submits the token to the confirmation endpoint and scrapes the
// resulting page for the order id. A missing id is reported as an error
// even though the order may well exist server-side by then; that
// ambiguity is inherent to driving an unofficial interface and must
// reach the caller.
func (o *Order) place(ctx context.Context, token orderToken) (int, error) {
	res, err := o.client.Session.Post(ctx, "/portfolio/orderConfirmed.action", nil, url.Values{
		"struts.token.name": {token.Name},
		token.Name:          {token.Value},
	})
	if err != nil {
		return 0, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return 0, err
	}

	orderID, _ := strconv.Atoi(htmlutil.ValueByID(doc, "order_id"))
	if orderID == 0 {
		return 0, &OperationError{
			Message:  "an order was submitted but no order id could be found in the confirmation; the order may still have been created",
			Response: string(res.Body()),
		}
	}
	return orderID, nil
}

// AssignResult reports where the invested notes actually landed.
// PortfolioName is the name the server confirmed, which on rare
// occasions differs from the one requested.
type AssignResult struct {
	PortfolioName string
	Renamed       bool
}

// AssignToPortfolio attaches every note of the placed order to a named
// portfolio, creating it unless a portfolio of that name already exists.
// When the server reports a different portfolio name than requested the
// assignment is still treated as a success: a warning is logged and the
// reported name is returned for the caller to inspect.
func (o *Order) AssignToPortfolio(ctx context.Context, name string) (AssignResult, error) {
	ctx, span := tracer.Start(ctx, "order:AssignToPortfolio")
	defer span.End()

	if o.orderID == 0 {
		return AssignResult{}, fmt.Errorf("the order has not been placed yet")
	}

	method := "createLCPortfolio"
	existing, err := o.client.Portfolios(ctx)
	if err != nil {
		return AssignResult{}, err
	}
	for _, folio := range existing {
		if folio.Name == name {
			method = "addToLCPortfolio"
			break
		}
	}

	form := url.Values{}
	for _, loanID := range o.sortedLoanIDs() {
		form.Add("loan_id", strconv.Itoa(loanID))
		form.Add("record_id", strconv.Itoa(loanID))
		form.Add("order_id", strconv.Itoa(o.orderID))
	}

	res, err := o.client.Session.Post(ctx, "/data/portfolioManagement", url.Values{
		"method":           {method},
		"lcportfolio_name": {name},
	}, form)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assignment request failed")
		return AssignResult{}, err
	}
	if !session.JSONSuccess(res.Body()) {
		span.SetStatus(codes.Error, "assignment rejected")
		return AssignResult{}, &OperationError{
			Message:  fmt.Sprintf("could not assign order %d to portfolio %q", o.orderID, name),
			Response: string(res.Body()),
		}
	}

	var payload struct {
		PortfolioName string `json:"portfolioName"`
	}
	if err := json.Unmarshal(res.Body(), &payload); err != nil {
		return AssignResult{}, err
	}

	result := AssignResult{PortfolioName: name}
	if payload.PortfolioName != "" && payload.PortfolioName != name {
		// the server accepted the notes but filed them somewhere else;
		// surface it without failing the assignment
		slog.WarnContext(
			ctx, "order assigned to a different portfolio than requested",
			"order_id", o.orderID,
			"requested", name,
			"assigned", payload.PortfolioName,
		)
		result.PortfolioName = payload.PortfolioName
		result.Renamed = true
	}
	return result, nil
}
