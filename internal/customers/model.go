package customers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the derived state of a customer.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Valid reports whether s is a known customer status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// ContractStatus is the business label of a rental contract.
type ContractStatus string

const (
	ContractStatusActive    ContractStatus = "ativo"
	ContractStatusApproved  ContractStatus = "aprovado"
	ContractStatusExpired   ContractStatus = "vencido"
	ContractStatusCancelled ContractStatus = "cancelado"
	ContractStatusPending   ContractStatus = "pendente"
)

// ActiveLike reports whether the label means the agreement is in force.
func (s ContractStatus) ActiveLike() bool {
	return s == ContractStatusActive || s == ContractStatusApproved
}

type Customer struct {
	ID         int64      `json:"id" db:"id"`
	Code       string     `json:"code" db:"code"`
	Name       string     `json:"name" db:"name"`
	Document   *string    `json:"document,omitempty" db:"document"`
	Email      *string    `json:"email,omitempty" db:"email"`
	Phone      *string    `json:"phone,omitempty" db:"phone"`
	Address    *string    `json:"address,omitempty" db:"address"`
	City       *string    `json:"city,omitempty" db:"city"`
	State      *string    `json:"state,omitempty" db:"state"`
	PostalCode *string    `json:"postal_code,omitempty" db:"postal_code"`
	Notes      *string    `json:"notes,omitempty" db:"notes"`
	Status     Status     `json:"status" db:"status"`
	Contracts  []Contract `json:"contracts,omitempty"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

type Contract struct {
	ID         int64          `json:"id" db:"id"`
	CustomerID int64          `json:"customer_id" db:"customer_id"`
	Number     string         `json:"number" db:"number"`
	Status     ContractStatus `json:"status" db:"status"`
	StartDate  *time.Time     `json:"start_date,omitempty" db:"start_date"`
	EndDate    *time.Time     `json:"end_date,omitempty" db:"end_date"`
	Notes      *string        `json:"notes,omitempty" db:"notes"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

type contractJSON Contract

// MarshalJSON writes start_date and end_date in the YYYY-MM-DD layout that
// ContractRequest accepts.
func (c Contract) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		contractJSON
		StartDate *string `json:"start_date,omitempty"`
		EndDate   *string `json:"end_date,omitempty"`
	}{
		contractJSON: contractJSON(c),
		StartDate:    formatDate(c.StartDate),
		EndDate:      formatDate(c.EndDate),
	})
}

func (c *Contract) UnmarshalJSON(data []byte) error {
	aux := struct {
		*contractJSON
		StartDate *string `json:"start_date,omitempty"`
		EndDate   *string `json:"end_date,omitempty"`
	}{contractJSON: (*contractJSON)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	start, err := parseDate(aux.StartDate)
	if err != nil {
		return fmt.Errorf("start_date: %w", err)
	}
	end, err := parseDate(aux.EndDate)
	if err != nil {
		return fmt.Errorf("end_date: %w", err)
	}
	c.StartDate, c.EndDate = start, end
	return nil
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.Format(dateLayout)
	return &v
}

// ChangeReason names the mutation that triggered a status transition.
type ChangeReason string

const (
	ReasonContractAdded   ChangeReason = "contract_added"
	ReasonContractUpdated ChangeReason = "contract_updated"
	ReasonContractRemoved ChangeReason = "contract_removed"
	ReasonRecompute       ChangeReason = "recompute"
)

// StatusChange is an entry of the append-only customer status log.
type StatusChange struct {
	ID             uuid.UUID    `json:"id"`
	CustomerID     int64        `json:"customer_id"`
	PreviousStatus Status       `json:"previous_status"`
	NewStatus      Status       `json:"new_status"`
	Reason         ChangeReason `json:"reason"`
	ContractID     *int64       `json:"contract_id,omitempty"`
	At             time.Time    `json:"at"`
}

// Summary aggregates status figures for the dashboard.
type Summary struct {
	Active      int                  `json:"active"`
	Inactive    int                  `json:"inactive"`
	Drift       int                  `json:"drift"`
	Transitions map[ChangeReason]int `json:"transitions"`
	Since       time.Time            `json:"since"`
	GeneratedAt time.Time            `json:"generated_at"`
}
