package types

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/subtrack/pkg/errs"
)

func TestScanRequest_Normalize(t *testing.T) {
	r := &ScanRequest{From: -3, Size: 0}
	require.NoError(t, r.Normalize("created_at", "created_at", "user_id"))
	require.Equal(t, 0, r.From)
	require.Equal(t, 10, r.Size)
	require.Equal(t, "created_at", r.SortBy)
	require.Equal(t, "desc", r.SortOrder)

	r = &ScanRequest{Size: 10_000, SortOrder: "asc"}
	require.NoError(t, r.Normalize("created_at", "created_at"))
	require.Equal(t, maxScanSize, r.Size)
	require.Equal(t, "asc", r.SortOrder)
	require.False(t, r.OrderBy().Columns[0].Desc)
}

func TestScanRequest_RejectsUnknownFields(t *testing.T) {
	r := &ScanRequest{SortBy: "password"}
	require.True(t, errs.IsValidation(r.Normalize("created_at", "created_at")))

	r = &ScanRequest{Filters: []*CommonFilter{{Field: "1=1; drop table users", Operator: CommonFilterOperatorEq, Values: []any{1}}}}
	require.Error(t, r.Normalize("created_at", "created_at", "user_id"))

	r = &ScanRequest{Filters: []*CommonFilter{nil}}
	require.Error(t, r.Normalize("created_at", "created_at"))
}
