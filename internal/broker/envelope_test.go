package broker

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/sentinel/internal/domain"
)

func TestClassify_2xxWithBodyIsSuccess(t *testing.T) {
	c := classify(http.StatusOK, []byte(`{"id":"1"}`), pdtErrorCode, qtyHeldPhrase)
	assert.True(t, c.success)
}

func TestClassify_201CreatedIsSuccess(t *testing.T) {
	c := classify(http.StatusCreated, nil, pdtErrorCode, qtyHeldPhrase)
	assert.True(t, c.success)
}

func TestClassify_204NoContentIsSuccess(t *testing.T) {
	c := classify(http.StatusNoContent, nil, pdtErrorCode, qtyHeldPhrase)
	assert.True(t, c.success)
}

func TestClassify_PDTRejection(t *testing.T) {
	body := []byte(`{"code":"40310000","message":"pdt check failed"}`)
	c := classify(http.StatusForbidden, body, pdtErrorCode, qtyHeldPhrase)
	assert.False(t, c.success)
	assert.Equal(t, domain.ErrPDTViolation, c.kind)
	assert.False(t, c.retryable)
}

func TestClassify_InsufficientQtyHeldIsRetryable(t *testing.T) {
	body := []byte(`{"message":"insufficient qty available for order"}`)
	c := classify(http.StatusUnprocessableEntity, body, pdtErrorCode, qtyHeldPhrase)
	assert.False(t, c.success)
	assert.Equal(t, domain.ErrQtyHeld, c.kind)
	assert.True(t, c.retryable)
}

func TestClassify_RateLimitedAndServerErrorsAreRetryable(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		c := classify(status, nil, pdtErrorCode, qtyHeldPhrase)
		assert.False(t, c.success)
		assert.Equal(t, domain.ErrRateLimited, c.kind)
		assert.True(t, c.retryable)
	}
}

func TestClassify_AuthFailureIsNotRetryable(t *testing.T) {
	c := classify(http.StatusUnauthorized, nil, pdtErrorCode, qtyHeldPhrase)
	assert.False(t, c.success)
	assert.Equal(t, domain.ErrAuth, c.kind)
	assert.False(t, c.retryable)
}

func TestClassify_ForbiddenWithoutPDTCodeIsAuthFailure(t *testing.T) {
	c := classify(http.StatusForbidden, []byte(`{"message":"nope"}`), pdtErrorCode, qtyHeldPhrase)
	assert.Equal(t, domain.ErrAuth, c.kind)
}

func TestClassify_UnexpectedStatusFallsThrough(t *testing.T) {
	c := classify(http.StatusTeapot, nil, pdtErrorCode, qtyHeldPhrase)
	assert.False(t, c.success)
	assert.Equal(t, domain.ErrOther, c.kind)
	assert.False(t, c.retryable)
}

func TestOkAndFailConstructors(t *testing.T) {
	okResp := ok(http.StatusOK, 42)
	assert.True(t, okResp.Success)
	assert.Equal(t, 42, okResp.Data)

	failResp := fail[int](http.StatusBadRequest, domain.ErrInvalidOrder, "bad", false)
	assert.False(t, failResp.Success)
	assert.Equal(t, domain.ErrInvalidOrder, failResp.ErrorKind)
	assert.Equal(t, "bad", failResp.ErrorMessage)
}
