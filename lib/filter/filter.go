// Package filter builds the search payload the marketplace's browse
// endpoint expects and independently re-validates every loan record the
// server returns. The search request is not trusted to be honored server
// side (there is no formal API contract), so every result is re-checked
// client side before it is acted on.
package filter

import (
	"fmt"
	"math"

	"dario.cat/mergo"
)

// Loan is a single note record as returned by the browse endpoint.
type Loan struct {
	ID              int     `json:"loan_id"`
	GUID            int     `json:"loanGUID"`
	Grade           string  `json:"loanGrade"`
	Term            int     `json:"loanLength"`
	AmountRequested float64 `json:"loanAmountRequested"`
	UnfundedAmount  float64 `json:"loanUnfundedAmount"`
	AlreadyInvested bool    `json:"alreadyInvestedIn"`
	Status          string  `json:"loanStatus"`
	Purpose         string  `json:"purpose"`
}

// FundedPercent derives how far along the loan's funding is.
func (l Loan) FundedPercent() float64 {
	if l.AmountRequested == 0 {
		return 0
	}
	return (1 - l.UnfundedAmount/l.AmountRequested) * 100
}

// Fraction is a $25-multiple slice of a loan inside an allocation option.
// The fraction endpoint identifies loans by "loanId" rather than the
// browse endpoint's "loan_id"/"loanGUID" pair.
type Fraction struct {
	Loan
	LoanID       int     `json:"loanId"`
	InvestAmount float64 `json:"loanFractionAmount"`
}

type GradeFilter struct {
	All bool
	A   bool
	B   bool
	C   bool
	D   bool
	E   bool
	F   bool
	G   bool
}

func (g GradeFilter) letter(letter string) (enabled, known bool) {
	switch letter {
	case "A":
		return g.A, true
	case "B":
		return g.B, true
	case "C":
		return g.C, true
	case "D":
		return g.D, true
	case "E":
		return g.E, true
	case "F":
		return g.F, true
	case "G":
		return g.G, true
	}
	return false, false
}

func (g GradeFilter) anySet() bool {
	return g.A || g.B || g.C || g.D || g.E || g.F || g.G
}

type TermFilter struct {
	Year3 bool
	Year5 bool
}

// Filter describes the caller's search criteria: which grades and term
// lengths are acceptable, the minimum funding progress, and optional
// purpose and loan-id allowlists.
type Filter struct {
	Grades          GradeFilter
	Term            TermFilter
	FundingProgress int
	ExcludeExisting bool
	Purpose         map[string]bool
	LoanIDs         []int
}

// New returns the default filter: all grades, both terms, any funding
// progress, already-invested loans excluded.
func New() *Filter {
	f := &Filter{
		Grades:          GradeFilter{All: true},
		Term:            TermFilter{Year3: true, Year5: true},
		ExcludeExisting: true,
	}
	f.Normalize()
	return f
}

// ByLoanID returns a filter that only admits the given loan ids; every
// other facet stays at its permissive default.
func ByLoanID(ids ...int) *Filter {
	f := New()
	f.LoanIDs = ids
	return f
}

// Merge folds the set fields of overrides into f, facet by facet, then
// re-normalizes. Nested facets merge rather than replace.
func (f *Filter) Merge(overrides Filter) error {
	err := mergo.Merge(f, overrides, mergo.WithOverride)
	if err != nil {
		return err
	}
	f.Normalize()
	return nil
}

// Normalize adjusts the facets to a consistent state: enabling any
// individual grade forces All off, and funding progress snaps to the
// nearest multiple of 10. Apply after every mutation.
func (f *Filter) Normalize() {
	if f.Grades.All && f.Grades.anySet() {
		f.Grades.All = false
	}
	if f.FundingProgress%10 != 0 {
		f.FundingProgress = int(math.Round(float64(f.FundingProgress)/10)) * 10
	}
}

// ValidationError reports a loan record that fails one of the active
// facets, naming the record and the first facet that failed.
type ValidationError struct {
	Criteria string
	Loan     Loan
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("loan %d did not meet filter criteria for %s", e.Loan.ID, e.Criteria)
}

// Validate re-checks every record against the active facets, failing on
// the first mismatch. Run search results through this even though the
// filter was sent with the request: the site can silently change how its
// search behaves at any time.
func (f *Filter) Validate(loans []Loan) error {
	for _, loan := range loans {
		if err := f.ValidateOne(loan); err != nil {
			return err
		}
	}
	return nil
}

func (f *Filter) ValidateOne(loan Loan) error {
	f.Normalize()

	if loan.ID == 0 {
		return &ValidationError{Criteria: "loan_id", Loan: loan}
	}
	if loan.Grade == "" {
		return &ValidationError{Criteria: "grade", Loan: loan}
	}
	if loan.AmountRequested == 0 {
		return &ValidationError{Criteria: "funding_progress", Loan: loan}
	}

	if !f.Grades.All {
		letter := loan.Grade[0:1]
		enabled, known := f.Grades.letter(letter)
		if !known {
			return &ValidationError{Criteria: "grade", Loan: loan}
		}
		if !enabled {
			return &ValidationError{Criteria: "grade", Loan: loan}
		}
	}

	if loan.Term == 36 && !f.Term.Year3 {
		return &ValidationError{Criteria: "term", Loan: loan}
	}
	if loan.Term == 60 && !f.Term.Year5 {
		return &ValidationError{Criteria: "term", Loan: loan}
	}

	if float64(f.FundingProgress) > loan.FundedPercent() {
		return &ValidationError{Criteria: "funding_progress", Loan: loan}
	}

	if f.ExcludeExisting && loan.AlreadyInvested {
		return &ValidationError{Criteria: "exclude_existing", Loan: loan}
	}

	if len(f.Purpose) > 0 && !f.Purpose[loan.Purpose] {
		return &ValidationError{Criteria: "purpose", Loan: loan}
	}

	if len(f.LoanIDs) > 0 {
		found := false
		for _, id := range f.LoanIDs {
			if id == loan.ID {
				found = true
				break
			}
		}
		if !found {
			return &ValidationError{Criteria: "loan_id", Loan: loan}
		}
	}

	return nil
}

// SearchFilter is what the search and portfolio operations need from a
// filter: the wire payload and re-validation of returned records.
type SearchFilter interface {
	SearchString() (string, error)
	Validate(loans []Loan) error
}
