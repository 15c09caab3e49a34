package database

import (
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericConversion(t *testing.T) {
	for _, s := range []string{"0", "10.00", "3.33", "-0.75", "123456789012.345678"} {
		t.Run(s, func(t *testing.T) {
			d := decimal.RequireFromString(s)
			got, err := fromNumeric(toNumeric(d))
			require.NoError(t, err)
			assert.True(t, d.Equal(got), "got %s", got)
		})
	}
}

func TestFromNumeric_Special(t *testing.T) {
	d, err := fromNumeric(pgtype.Numeric{})
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = fromNumeric(pgtype.Numeric{NaN: true, Valid: true})
	assert.Error(t, err)

	_, err = fromNumeric(pgtype.Numeric{InfinityModifier: pgtype.Infinity, Valid: true})
	assert.Error(t, err)

	d, err = fromNumeric(pgtype.Numeric{Int: big.NewInt(1999), Exp: -2, Valid: true})
	require.NoError(t, err)
	assert.Equal(t, "19.99", d.String())
}
