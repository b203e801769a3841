package payroll

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_JSONIsCanonical(t *testing.T) {
	b, err := json.Marshal(MustParseMoney("1250.5"))
	require.NoError(t, err)
	assert.Equal(t, `"1250.50"`, string(b))

	var fromString, fromNumber Money
	require.NoError(t, json.Unmarshal([]byte(`"99.10"`), &fromString))
	require.NoError(t, json.Unmarshal([]byte(`99.1`), &fromNumber))
	assert.True(t, fromString.Equal(fromNumber))
}

func TestMoney_RejectsNonFinite(t *testing.T) {
	_, err := MoneyFromFloat(math.NaN())
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = MoneyFromFloat(math.Inf(1))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ParseMoney("12,50")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestHead_Next(t *testing.T) {
	h := Head{Balance: NewMoney(800), Seq: 4}

	seq, after := h.Next(EntryDeposit, NewMoney(600))
	assert.Equal(t, int64(5), seq)
	assert.Equal(t, "200.00", after.String())

	_, after = h.Next(EntryAdvance, NewMoney(200))
	assert.Equal(t, "1000.00", after.String())
}

func TestPeriod_OverlapAndContains(t *testing.T) {
	march := MonthPeriod(2025, time.March)
	assert.Equal(t, "2025-03-31", march.End.String())
	assert.Equal(t, 31, march.Days())

	assert.True(t, march.Contains(NewDate(2025, time.March, 1)))
	assert.True(t, march.Contains(NewDate(2025, time.March, 31)))
	assert.False(t, march.Contains(NewDate(2025, time.April, 1)))

	edge := Period{Start: NewDate(2025, time.March, 31), End: NewDate(2025, time.April, 2)}
	assert.True(t, march.Overlaps(edge))
	assert.False(t, march.Overlaps(MonthPeriod(2025, time.April)))

	_, err := NewPeriod(NewDate(2025, time.March, 2), NewDate(2025, time.March, 1))
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestDate_JSON(t *testing.T) {
	var d Date
	require.NoError(t, json.Unmarshal([]byte(`"2025-03-09"`), &d))
	assert.Equal(t, NewDate(2025, time.March, 9), d)
	assert.Error(t, json.Unmarshal([]byte(`"09/03/2025"`), &d))
}

func TestDraft_FingerprintTracksContent(t *testing.T) {
	d := &DraftSettlement{
		Kind:   KindBonus,
		Period: MonthPeriod(2025, time.March),
		Lines: []DraftLine{
			{WorkerID: "b", BaseAmount: NewMoney(100), FinalAmount: NewMoney(100)},
			{WorkerID: "a", BaseAmount: NewMoney(200), FinalAmount: NewMoney(200)},
		},
	}
	d.Seal()
	id := d.ID

	assert.Equal(t, WorkerID("a"), d.Lines[0].WorkerID)
	assert.Equal(t, "300.00", d.Totals.FinalAmount.String())

	d.Lines[0].ExtraAmount = NewMoney(1)
	assert.NotEqual(t, id, d.Fingerprint())
}

func TestSettlementError_Code(t *testing.T) {
	err := &SettlementError{WorkerID: "w1", Kind: KindSalary, Err: &PeriodLockedError{WorkerID: "w1", SnapshotID: "s1"}}

	assert.Equal(t, "PeriodAlreadyLocked", err.Code())
	assert.ErrorIs(t, err, ErrPeriodAlreadyLocked)
	assert.True(t, IsClientError(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, "Internal", ErrorCode(assert.AnError))
}
