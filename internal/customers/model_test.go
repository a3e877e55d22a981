package customers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContractJSONUsesDateLayout(t *testing.T) {
	contract := Contract{
		ID:        3,
		Number:    "CT-3",
		Status:    ContractStatusActive,
		StartDate: date(2026, time.May, 1),
		EndDate:   date(2027, time.January, 31),
		CreatedAt: testNow,
	}

	raw, err := json.Marshal(contract)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "2026-05-01", fields["start_date"])
	assert.Equal(t, "2027-01-31", fields["end_date"])
	assert.Equal(t, "CT-3", fields["number"])
	assert.NotContains(t, fields, "notes")

	var req ContractRequest
	require.NoError(t, json.Unmarshal(raw, &req))
	back, err := req.ToContract()
	require.NoError(t, err)
	assert.Equal(t, contract.EndDate, back.EndDate)

	var decoded Contract
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, contract.StartDate, decoded.StartDate)
	assert.Equal(t, contract.EndDate, decoded.EndDate)
	assert.Equal(t, int64(3), decoded.ID)
}

func TestContractJSONOmitsOpenDates(t *testing.T) {
	raw, err := json.Marshal(Contract{Number: "CT-4", Status: ContractStatusPending})
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "start_date")
	assert.NotContains(t, string(raw), "end_date")
}

func TestContractJSONRejectsTimestampDates(t *testing.T) {
	var c Contract
	err := json.Unmarshal([]byte(`{"number":"CT-5","end_date":"2027-01-31T00:00:00Z"}`), &c)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "end_date")
}
