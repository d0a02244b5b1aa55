package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPagination(t *testing.T) {
	cases := []struct {
		name             string
		page, per, total int
		want             Pagination
		offset           int
	}{
		{"defaults", 0, 0, 25, Pagination{Page: 1, PerPage: DefaultPerPage, Total: 25, TotalPages: 3}, 0},
		{"exact pages", 2, 5, 10, Pagination{Page: 2, PerPage: 5, Total: 10, TotalPages: 2}, 5},
		{"empty", 1, 20, 0, Pagination{Page: 1, PerPage: 20, Total: 0, TotalPages: 0}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NewPagination(tc.page, tc.per, tc.total)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.offset, got.Offset())
		})
	}
}
