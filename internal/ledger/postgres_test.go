package ledger

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsExternalRefConflict(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "unique violation on external_ref",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "ledger_entries_external_ref_key"},
			want: true,
		},
		{
			name: "wrapped unique violation",
			err:  fmt.Errorf("insert entry: %w", &pgconn.PgError{Code: "23505", ConstraintName: "ledger_entries_external_ref_key"}),
			want: true,
		},
		{
			name: "unique violation on another index",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "ledger_entries_reference_key"},
			want: false,
		},
		{
			name: "check constraint violation",
			err:  &pgconn.PgError{Code: "23514", ConstraintName: "wallets_balance_coherent"},
			want: false,
		},
		{
			name: "plain error",
			err:  fmt.Errorf("connection reset"),
			want: false,
		},
	}
	for _, tc := range cases {
		if got := isExternalRefConflict(tc.err); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
