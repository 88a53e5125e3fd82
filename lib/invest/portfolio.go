package invest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"noteclient/lib/filter"
	"noteclient/lib/session"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrNoPortfolio means the allocation search returned nothing inside the
// requested yield band.
var ErrNoPortfolio = errors.New("no investment option matched the percentage requirements")

// Option is one server-computed candidate distribution of cash across
// loans targeting an average yield. Fractions is populated once the
// option has been selected and expanded.
type Option struct {
	Percentage   float64 `json:"percentage"`
	NumberLoans  int     `json:"numberOfLoans"`
	InvestAmount float64 `json:"investAmount"`

	Fractions []filter.Fraction `json:"-"`
	// OrderID is set when the option was auto-invested.
	OrderID int `json:"-"`
}

type BuildOptions struct {
	// Cash is the total amount to spread across notes.
	Cash float64
	// MinPercent and MaxPercent bound the target average yield.
	MinPercent float64
	MaxPercent float64
	// MaxPerNote caps the amount invested into a single note.
	// Defaults to 25 when zero.
	MaxPerNote float64
	// Filter restricts and re-validates the loans in the option.
	// nil uses the site's defaults and skips validation.
	Filter filter.SearchFilter
	// AutoInvest immediately places an order for the chosen option.
	AutoInvest bool
	// PortfolioName assigns the auto-invested notes to a named
	// portfolio. Ignored unless AutoInvest is set.
	PortfolioName string
}

// BuildPortfolio asks the server for allocation options matching the
// cash amount, picks the one that best fits the yield band, expands it
// into concrete loan fractions and re-validates each fraction. With
// AutoInvest set an order is placed for the chosen option right away.
func (c *Client) BuildPortfolio(ctx context.Context, opts BuildOptions) (*Option, error) {
	ctx, span := tracer.Start(ctx, "client:BuildPortfolio")
	defer span.End()

	filterStr := "default"
	maxPerNote := opts.MaxPerNote
	if maxPerNote == 0 {
		maxPerNote = 25
	}
	if opts.Filter != nil {
		var err error
		filterStr, err = opts.Filter.SearchString()
		if err != nil {
			return nil, err
		}
	}

	err := c.Session.ClearSessionOrder(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.Session.Post(ctx, "/portfolio/lendingMatchOptionsV2.action", nil, url.Values{
		"amount":       {formatAmount(opts.Cash)},
		"max_per_note": {formatAmount(maxPerNote)},
		"filter":       {filterStr},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocation search failed")
		return nil, err
	}
	if !session.JSONSuccess(res.Body()) {
		span.SetStatus(codes.Error, "no allocation options")
		return nil, &OperationError{
			Message:  "could not find any diversified investment options",
			Response: string(res.Body()),
		}
	}

	var payload struct {
		Options     []Option `json:"lmOptions"`
		NumberTicks int      `json:"numberTicks"`
	}
	err = json.Unmarshal(res.Body(), &payload)
	if err != nil {
		return nil, err
	}
	if len(payload.Options) == 0 || payload.NumberTicks == 0 {
		span.SetStatus(codes.Error, "empty option list")
		return nil, ErrNoPortfolio
	}

	match, matchIndex := chooseOption(payload.Options, opts.MinPercent, opts.MaxPercent)
	if match == nil {
		span.SetStatus(codes.Error, "no option in the yield band")
		return nil, ErrNoPortfolio
	}
	span.SetAttributes(
		attribute.Float64("percentage", match.Percentage),
		attribute.Int("index", matchIndex),
	)

	// mark the option selected server-side, which makes the concrete
	// fraction list retrievable
	_, err = c.Session.Get(ctx, "/portfolio/recommendPortfolio.action", url.Values{
		"order_amount":          {formatAmount(opts.Cash)},
		"lending_match_point":   {strconv.Itoa(matchIndex)},
		"lending_match_version": {"v2"},
	})
	if err != nil {
		return nil, err
	}

	res, err = c.Session.Get(ctx, "/data/portfolio", url.Values{
		"method": {"getPortfolio"},
	})
	if err != nil {
		return nil, err
	}

	var fractionsPayload struct {
		LoanFractions []filter.Fraction `json:"loanFractions"`
	}
	err = json.Unmarshal(res.Body(), &fractionsPayload)
	if err != nil {
		return nil, err
	}
	fractions := fractionsPayload.LoanFractions
	if len(fractions) == 0 {
		span.SetStatus(codes.Error, "no loan fractions")
		return nil, &OperationError{
			Message:  "could not load the loan fractions for the selected option",
			Response: string(res.Body()),
		}
	}
	for i := range fractions {
		if fractions[i].Loan.ID == 0 {
			fractions[i].Loan.ID = fractions[i].LoanID
		}
	}

	if opts.Filter != nil {
		loans := make([]filter.Loan, len(fractions))
		for i, f := range fractions {
			loans[i] = f.Loan
		}
		err = opts.Filter.Validate(loans)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fractions failed validation")
			return nil, err
		}
	}
	for _, f := range fractions {
		if f.InvestAmount > maxPerNote {
			return nil, &OperationError{
				Message: fmt.Sprintf(
					"loan %d fraction of $%v exceeds the per-note cap of $%v",
					f.ID, f.InvestAmount, maxPerNote,
				),
			}
		}
	}
	match.Fractions = fractions

	// reset the server's option-building state; placing an order stages
	// the fractions again on its own
	err = c.Session.ClearSessionOrder(ctx)
	if err != nil {
		return nil, err
	}

	if !opts.AutoInvest {
		return match, nil
	}

	order := c.NewOrder()
	err = order.AddBatch(fractions, 0)
	if err != nil {
		return nil, err
	}
	orderID, err := order.Execute(ctx, opts.PortfolioName)
	if err != nil {
		return nil, err
	}
	match.OrderID = orderID
	return match, nil
}

// chooseOption scans the ascending option list: an exact hit on the max
// wins immediately, anything above the max ends the scan, and otherwise
// the highest yield at or above the min is kept.
func chooseOption(options []Option, minPercent, maxPercent float64) (*Option, int) {
	matchIndex := -1
	var match *Option

	for i := range options {
		option := &options[i]

		if option.Percentage == maxPercent {
			return option, i
		}
		if option.Percentage > maxPercent {
			break
		}
		if option.Percentage >= minPercent && (match == nil || match.Percentage < option.Percentage) {
			match = option
			matchIndex = i
		}
	}
	return match, matchIndex
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
