// Package pgnum stores uint64 counters in NUMERIC(20,0) columns. Postgres has
// no unsigned 64-bit integer type and BIGINT would cap budgets at 2^63-1.
package pgnum

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

// Uint64 converts v into a NUMERIC parameter.
func Uint64(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Exp: 0, Valid: true}
}

// ToUint64 converts a scanned NUMERIC back to uint64. NULL, fractional,
// negative or out-of-range values are errors.
func ToUint64(n pgtype.Numeric) (uint64, error) {
	if !n.Valid {
		return 0, fmt.Errorf("numeric is null")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return 0, fmt.Errorf("numeric is not finite")
	}
	if n.Int == nil {
		return 0, nil
	}
	v := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil)
		var rem big.Int
		v.QuoRem(v, div, &rem)
		if rem.Sign() != 0 {
			return 0, fmt.Errorf("numeric %s is not an integer", n.Int.String())
		}
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("numeric %s out of uint64 range", v.String())
	}
	return v.Uint64(), nil
}

// Scanner is a sql.Scanner target that decodes into a uint64.
type Scanner struct {
	Dest *uint64
	n    pgtype.Numeric
}

func Into(dest *uint64) *Scanner {
	return &Scanner{Dest: dest}
}

func (s *Scanner) Scan(src any) error {
	if b, ok := src.([]byte); ok {
		src = string(b)
	}
	if err := s.n.Scan(src); err != nil {
		return err
	}
	v, err := ToUint64(s.n)
	if err != nil {
		return err
	}
	*s.Dest = v
	return nil
}
