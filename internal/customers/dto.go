package customers

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

type CreateCustomerRequest struct {
	Code       string  `json:"code" validate:"omitempty,max=50"`
	Name       string  `json:"name" validate:"required,max=200"`
	Document   *string `json:"document,omitempty" validate:"omitempty,max=20"`
	Email      *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone      *string `json:"phone,omitempty" validate:"omitempty,max=30"`
	Address    *string `json:"address,omitempty" validate:"omitempty,max=200"`
	City       *string `json:"city,omitempty" validate:"omitempty,max=100"`
	State      *string `json:"state,omitempty" validate:"omitempty,len=2"`
	PostalCode *string `json:"postal_code,omitempty" validate:"omitempty,max=10"`
	Notes      *string `json:"notes,omitempty"`
}

type UpdateCustomerRequest struct {
	Name       *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Document   *string `json:"document,omitempty" validate:"omitempty,max=20"`
	Email      *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone      *string `json:"phone,omitempty" validate:"omitempty,max=30"`
	Address    *string `json:"address,omitempty" validate:"omitempty,max=200"`
	City       *string `json:"city,omitempty" validate:"omitempty,max=100"`
	State      *string `json:"state,omitempty" validate:"omitempty,len=2"`
	PostalCode *string `json:"postal_code,omitempty" validate:"omitempty,max=10"`
	Notes      *string `json:"notes,omitempty"`
}

type ListCustomersRequest struct {
	Status  *Status `json:"status,omitempty" validate:"omitempty,oneof=ACTIVE INACTIVE"`
	Search  *string `json:"search,omitempty"`
	Page    int     `json:"page" validate:"gte=0"`
	PerPage int     `json:"per_page" validate:"gte=0,lte=500"`
}

// Offset returns the row offset for the requested page.
func (r ListCustomersRequest) Offset() int {
	if r.Page <= 1 {
		return 0
	}
	return (r.Page - 1) * r.PerPage
}

// ContractRequest carries the fields of a new or replaced contract. Dates use the
// YYYY-MM-DD layout; anything else is rejected.
type ContractRequest struct {
	Number    string  `json:"number" validate:"required,max=50"`
	Status    string  `json:"status" validate:"required,max=30"`
	StartDate *string `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate   *string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Notes     *string `json:"notes,omitempty"`
}

// ToContract converts the request into a contract value.
func (r ContractRequest) ToContract() (Contract, error) {
	status, err := ParseContractStatus(r.Status)
	if err != nil {
		return Contract{}, err
	}
	start, err := parseDate(r.StartDate)
	if err != nil {
		return Contract{}, fmt.Errorf("%w: start_date: %v", ErrInvalidInput, err)
	}
	end, err := parseDate(r.EndDate)
	if err != nil {
		return Contract{}, fmt.Errorf("%w: end_date: %v", ErrInvalidInput, err)
	}
	if start != nil && end != nil && end.Before(*start) {
		return Contract{}, fmt.Errorf("%w: end_date before start_date", ErrInvalidInput)
	}
	return Contract{
		Number:    strings.TrimSpace(r.Number),
		Status:    status,
		StartDate: start,
		EndDate:   end,
		Notes:     r.Notes,
	}, nil
}

type ListStatusLogRequest struct {
	CustomerID *int64        `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	Reason     *ChangeReason `json:"reason,omitempty" validate:"omitempty,oneof=contract_added contract_updated contract_removed recompute"`
	Limit      int           `json:"limit" validate:"gte=0,lte=1000"`
}

func parseDate(value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, strings.TrimSpace(*value))
	if err != nil {
		return nil, err
	}
	return &t, nil
}
