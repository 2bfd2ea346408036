package category

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/platform/db/dbtest"
	"github.com/fatflowers/subtrack/pkg/errs"
)

func TestCreate_Validation(t *testing.T) {
	s := NewService(nil, zap.NewNop().Sugar())
	_, err := s.Create(context.Background(), &CreateRequest{Name: "  ", Color: "red"})
	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "name")
	assert.Contains(t, verr.Fields, "color")
}

func TestService_Postgres(t *testing.T) {
	s := NewService(dbtest.Open(t), zap.NewNop().Sugar())
	ctx := context.Background()

	seeded, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, seeded, 7)

	row, err := s.Create(ctx, &CreateRequest{Name: "Gaming", Icon: "gamepad", Color: "#00ff00"})
	require.NoError(t, err)
	ok, err := s.Exists(ctx, row.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Create(ctx, &CreateRequest{Name: "Gaming"})
	assert.True(t, errs.IsValidation(err))
}
