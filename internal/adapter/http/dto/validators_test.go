package dto

import (
	"encoding/json"
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsWhitespace(t *testing.T) {
	req := RegisterOutletRequest{
		Name:         "  Campus Cafe  ",
		BusinessType: " cafe ",
		Address:      " 1 Main St ",
	}
	SanitizeStruct(&req)

	assert.Equal(t, "Campus Cafe", req.Name)
	assert.Equal(t, "cafe", req.BusinessType)
	assert.Equal(t, "1 Main St", req.Address)
}

func TestSanitizeStruct_EscapesHTML(t *testing.T) {
	req := RefundRequest{Reason: "customer <script>alert('x')</script> request"}
	SanitizeStruct(&req)

	assert.Contains(t, req.Reason, "&lt;script&gt;")
	assert.NotContains(t, req.Reason, "<script>")
}

func TestSanitizeStruct_HandlesPointerString(t *testing.T) {
	amount := json.Number(" 12.50 ")
	req := CashOutRequest{Amount: &amount}
	SanitizeStruct(&req)

	assert.Equal(t, json.Number("12.50"), *req.Amount)
}

func TestSanitizeStruct_NilPointerIsNoOp(t *testing.T) {
	req := RefundRequest{Reason: "duplicate"}
	SanitizeStruct(&req)
	assert.Nil(t, req.Amount)
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	s := "hello"
	SanitizeStruct(s) // should not panic
}

// --- Custom Validator tests ---

func TestSafeID_Valid(t *testing.T) {
	cases := []string{
		"AB12CD34",
		"till_1",
		"a.b.c",
		"ABC-def_GHI.123",
	}
	for _, tc := range cases {
		assert.True(t, safeStringRe.MatchString(tc), "expected valid: %s", tc)
	}
}

func TestSafeID_Invalid(t *testing.T) {
	cases := []string{
		"card 001",
		"card<001>",
		"card;DROP",
		"",
		"card\n001",
	}
	for _, tc := range cases {
		assert.False(t, safeStringRe.MatchString(tc), "expected invalid: %s", tc)
	}
}

func TestMoney(t *testing.T) {
	valid := []string{"0", "12", "12.5", "12.50", "-3.00", "0.001"}
	for _, tc := range valid {
		assert.True(t, moneyRe.MatchString(tc), "expected valid: %s", tc)
	}

	invalid := []string{"", "1e3", "12.", ".5", "12,50", "NaN", "1 000", "9999999999999999"}
	for _, tc := range invalid {
		assert.False(t, moneyRe.MatchString(tc), "expected invalid: %s", tc)
	}
}

func TestBinding_PaymentRequest(t *testing.T) {
	ok := PaymentRequest{SecureKey: "k", Amount: "7.00", OutletID: uuid.New()}
	require.NoError(t, binding.Validator.ValidateStruct(&ok))

	badAmount := ok
	badAmount.Amount = "seven"
	assert.Error(t, binding.Validator.ValidateStruct(&badAmount))

	// Sign and scale are the service's call.
	negative := ok
	negative.Amount = "-1.005"
	assert.NoError(t, binding.Validator.ValidateStruct(&negative))

	noOutlet := ok
	noOutlet.OutletID = uuid.Nil
	assert.Error(t, binding.Validator.ValidateStruct(&noOutlet))
}

func TestBinding_TopUpNeedsKeyOrCard(t *testing.T) {
	assert.Error(t, binding.Validator.ValidateStruct(&TopUpRequest{Amount: "5"}))
	assert.NoError(t, binding.Validator.ValidateStruct(&TopUpRequest{SecureKey: "k", Amount: "5"}))
	assert.NoError(t, binding.Validator.ValidateStruct(&TopUpRequest{CardID: "AB12CD34", Amount: "5"}))
}
