package venue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BTCUSDT", "BTCUSDT"},
		{"BTC-USDT", "BTCUSDT"},
		{"BTC/USDT", "BTCUSDT"},
		{"ethusdt", "ETHUSDT"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeSymbol(tt.in))
	}
}

func TestClassifyBinanceErr(t *testing.T) {
	tests := []struct {
		name  string
		code  int64
		check func(t *testing.T, err error)
	}{
		{"rate limit", -1003, func(t *testing.T, err error) {
			var rl *RateLimitError
			assert.True(t, errors.As(err, &rl))
		}},
		{"server busy retryable", -1001, func(t *testing.T, err error) {
			assert.True(t, IsRetryable(err))
		}},
		{"timestamp drift retryable", -1021, func(t *testing.T, err error) {
			assert.True(t, IsRetryable(err))
		}},
		{"insufficient balance spot", -2010, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}},
		{"insufficient margin futures", -2019, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}},
		{"bad precision", -1111, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrInvalidOrder)
		}},
		{"min notional", -1013, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrInvalidOrder)
		}},
		{"leverage rejected", -4028, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrInvalidLeverage)
		}},
		{"unknown order", -2013, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrOrderNotFound)
		}},
		{"bad api key", -2014, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrAuthFailure)
		}},
		{"unclassified code", -9999, func(t *testing.T, err error) {
			var api *APIError
			assert.True(t, errors.As(err, &api))
			assert.False(t, IsRetryable(err))
			assert.False(t, IsTerminal(err))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyBinanceErr(&common.APIError{Code: tt.code, Message: tt.name})
			tt.check(t, err)
		})
	}
}

func TestClassifyBinanceErrTransport(t *testing.T) {
	err := classifyBinanceErr(errors.New("dial tcp: connection refused"))
	assert.True(t, IsRetryable(err), "transport failures must be retryable")
}

func TestClassifyBinanceErrWrapped(t *testing.T) {
	inner := &common.APIError{Code: -2010, Message: "Account has insufficient balance"}
	err := classifyBinanceErr(fmt.Errorf("place order: %w", inner))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestConvertOrderState(t *testing.T) {
	assert.Equal(t, OrderStateFilled, convertOrderState("FILLED"))
	assert.Equal(t, OrderStateCanceled, convertOrderState("CANCELED"))
	assert.Equal(t, OrderStateCanceled, convertOrderState("EXPIRED"))
	assert.Equal(t, OrderStateRejected, convertOrderState("REJECTED"))
	assert.Equal(t, OrderStateNew, convertOrderState("PARTIALLY_FILLED"))
}

func TestClassifyBybitCode(t *testing.T) {
	tests := []struct {
		name  string
		code  int
		check func(t *testing.T, err error)
	}{
		{"ok", 0, func(t *testing.T, err error) {
			assert.NoError(t, err)
		}},
		{"leverage unchanged is success", 110043, func(t *testing.T, err error) {
			assert.NoError(t, err)
		}},
		{"rate limit", 10006, func(t *testing.T, err error) {
			var rl *RateLimitError
			assert.True(t, errors.As(err, &rl))
		}},
		{"auth", 10003, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrAuthFailure)
		}},
		{"insufficient", 110007, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}},
		{"bad leverage", 110009, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrInvalidLeverage)
		}},
		{"param error", 10001, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrInvalidOrder)
		}},
		{"server busy", 10016, func(t *testing.T, err error) {
			assert.True(t, IsRetryable(err))
		}},
		{"unclassified", 999999, func(t *testing.T, err error) {
			var api *APIError
			assert.True(t, errors.As(err, &api))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, classifyBybitCode(tt.code, tt.name))
		})
	}
}

func TestConvertBybitOrderState(t *testing.T) {
	assert.Equal(t, OrderStateFilled, convertBybitOrderState("Filled"))
	assert.Equal(t, OrderStateCanceled, convertBybitOrderState("Cancelled"))
	assert.Equal(t, OrderStateRejected, convertBybitOrderState("Rejected"))
	assert.Equal(t, OrderStateNew, convertBybitOrderState("PartiallyFilled"))
}

func TestBybitSideAndCategory(t *testing.T) {
	assert.Equal(t, "Buy", bybitSide(SideBuy))
	assert.Equal(t, "Buy", bybitSide(SideLong))
	assert.Equal(t, "Sell", bybitSide(SideShort))

	cat, err := bybitCategory(MarketUSDMFutures)
	assert.NoError(t, err)
	assert.Equal(t, "linear", cat)
	cat, err = bybitCategory(MarketSpot)
	assert.NoError(t, err)
	assert.Equal(t, "spot", cat)
}
