package deliverables

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{
		Endpoint:  "localhost:9000",
		AccessKey: "test",
		SecretKey: "test",
		Bucket:    "clover-test",
		Timeout:   time.Second,
	}, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	require.NoError(t, err)
	return store
}

func TestUploadValidation(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	cycleID := uuid.New()
	body := bytes.NewReader([]byte("%PDF-1.7"))

	tests := []struct {
		name        string
		size        int64
		contentType string
	}{
		{"empty file", 0, ContentType},
		{"negative size", -1, ContentType},
		{"over the cap", MaxSizeBytes + 1, ContentType},
		{"wrong media type", 512, "image/png"},
		{"missing media type", 512, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Upload(ctx, cycleID, models.StepDraftPlan, "plan.pdf", tt.size, tt.contentType, body)
			require.Error(t, err)
			require.True(t, httperror.IsHTTPError(err))
			assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
		})
	}
}

func TestUploadsAlwaysLandStaged(t *testing.T) {
	name := stagedObjectName(uuid.New(), models.StepDraftPlan, "../../plan.pdf")
	assert.True(t, Staged(name))
	assert.NotContains(t, name, "..")
}

func TestStaged(t *testing.T) {
	assert.True(t, Staged("staging/abc/draft_plan/x_plan.pdf"))
	assert.False(t, Staged("abc/draft_plan/x_plan.pdf"))
	assert.False(t, Staged(""))
}

func TestPromoteNonStagedIsNoop(t *testing.T) {
	store := testStore(t)

	final, err := store.Promote(context.Background(), "abc/draft_plan/x_plan.pdf")
	require.NoError(t, err)
	assert.Equal(t, "abc/draft_plan/x_plan.pdf", final)
}
