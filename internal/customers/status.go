package customers

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrContractNotFound is returned when a mutation targets a contract the customer does not own.
var ErrContractNotFound = errors.New("contract not found")

// Expired reports whether the contract end date lies before now. End dates are calendar
// dates: the contract is in force for the whole end day in now's location.
func (c Contract) Expired(now time.Time) bool {
	if c.EndDate == nil || c.EndDate.IsZero() {
		return false
	}
	y, m, d := c.EndDate.Date()
	cutoff := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return !now.Before(cutoff)
}

// KeepsActive reports whether the contract alone makes its customer active.
func (c Contract) KeepsActive(now time.Time) bool {
	return c.Status.ActiveLike() && !c.Expired(now)
}

// DeriveStatus computes the customer status from its contracts.
func DeriveStatus(customer Customer, now time.Time) Status {
	for _, contract := range customer.Contracts {
		if contract.KeepsActive(now) {
			return StatusActive
		}
	}
	return StatusInactive
}

// OnContractAdded appends the contract and recomputes the status. The returned change is
// nil when the status did not move.
func OnContractAdded(customer Customer, contract Contract, now time.Time) (Customer, *StatusChange) {
	next := cloneCustomer(customer)
	contract.CustomerID = customer.ID
	next.Contracts = append(next.Contracts, contract)
	return settle(customer.Status, next, ReasonContractAdded, &contract.ID, now)
}

// OnContractUpdated replaces the contract with the same id. The customer is returned
// untouched with ErrContractNotFound when no such contract exists.
func OnContractUpdated(customer Customer, contract Contract, now time.Time) (Customer, *StatusChange, error) {
	idx := indexOfContract(customer.Contracts, contract.ID)
	if idx < 0 {
		return customer, nil, ErrContractNotFound
	}
	next := cloneCustomer(customer)
	contract.CustomerID = customer.ID
	next.Contracts[idx] = contract
	updated, change := settle(customer.Status, next, ReasonContractUpdated, &contract.ID, now)
	return updated, change, nil
}

// OnContractRemoved drops the contract with the given id.
func OnContractRemoved(customer Customer, contractID int64, now time.Time) (Customer, *StatusChange, error) {
	idx := indexOfContract(customer.Contracts, contractID)
	if idx < 0 {
		return customer, nil, ErrContractNotFound
	}
	next := cloneCustomer(customer)
	next.Contracts = append(next.Contracts[:idx], next.Contracts[idx+1:]...)
	updated, change := settle(customer.Status, next, ReasonContractRemoved, &contractID, now)
	return updated, change, nil
}

// RecomputeAll derives the status of every customer. Customers whose status is unchanged
// are returned as-is; the others are stamped and reported in the change list.
func RecomputeAll(customers []Customer, now time.Time) ([]Customer, []StatusChange) {
	out := make([]Customer, len(customers))
	var changes []StatusChange
	for i, customer := range customers {
		derived := DeriveStatus(customer, now)
		if derived == customer.Status {
			out[i] = customer
			continue
		}
		next := cloneCustomer(customer)
		next.Status = derived
		next.UpdatedAt = now
		out[i] = next
		changes = append(changes, newChange(customer.ID, customer.Status, derived, ReasonRecompute, nil, now))
	}
	return out, changes
}

// NeedingUpdate returns the customers whose stored status is stale.
func NeedingUpdate(customers []Customer, now time.Time) []Customer {
	var stale []Customer
	for _, customer := range customers {
		if DeriveStatus(customer, now) != customer.Status {
			stale = append(stale, customer)
		}
	}
	return stale
}

func settle(previous Status, next Customer, reason ChangeReason, contractID *int64, now time.Time) (Customer, *StatusChange) {
	next.Status = DeriveStatus(next, now)
	next.UpdatedAt = now
	if next.Status == previous {
		return next, nil
	}
	change := newChange(next.ID, previous, next.Status, reason, contractID, now)
	return next, &change
}

func newChange(customerID int64, previous, current Status, reason ChangeReason, contractID *int64, now time.Time) StatusChange {
	var ref *int64
	if contractID != nil && *contractID > 0 {
		id := *contractID
		ref = &id
	}
	return StatusChange{
		ID:             uuid.New(),
		CustomerID:     customerID,
		PreviousStatus: previous,
		NewStatus:      current,
		Reason:         reason,
		ContractID:     ref,
		At:             now,
	}
}

func cloneCustomer(c Customer) Customer {
	out := c
	out.Contracts = make([]Contract, len(c.Contracts))
	copy(out.Contracts, c.Contracts)
	return out
}

func indexOfContract(contracts []Contract, id int64) int {
	for i := range contracts {
		if contracts[i].ID == id {
			return i
		}
	}
	return -1
}
