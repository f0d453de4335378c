package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"vashsender/internal/billing"
	"vashsender/internal/services"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", gorm.ErrRecordNotFound), http.StatusNotFound},
		{services.ErrInvalidState, http.StatusConflict},
		{gorm.ErrDuplicatedKey, http.StatusConflict},
		{fmt.Errorf("%w: 10 of 10 emails used", billing.ErrQuotaExceeded), http.StatusPaymentRequired},
		{billing.ErrFeatureUnavailable, http.StatusPaymentRequired},
		{fmt.Errorf("%w: bad cron", services.ErrValidation), http.StatusBadRequest},
		{services.ErrInvalidCredentials, http.StatusUnauthorized},
		{billing.ErrBadSignature, http.StatusUnauthorized},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestRespondError_HidesInternalErrors(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	assert.NoError(t, RespondError(c, errors.New("pq: password authentication failed")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestPagination(t *testing.T) {
	e := echo.New()
	cases := map[string][2]int{
		"/":                   {1, 20},
		"/?page=3&limit=50":   {3, 50},
		"/?page=-1&limit=999": {1, 20},
		"/?page=x&limit=y":    {1, 20},
	}
	for target, want := range cases {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
		page, limit := Pagination(c)
		assert.Equal(t, want, [2]int{page, limit}, target)
	}
}
