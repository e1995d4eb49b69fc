package review

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/reconcile-cli/internal/model"
)

func suggestions() []model.Suggestion {
	return []model.Suggestion{
		{RowIndex: 3, Column: "email", Category: model.CategoryEmail, OriginalValue: "bob[at]x", SuggestedValue: "bob@x.com", Confidence: 0.62},
		{RowIndex: 1, Column: "phone", Category: model.CategoryPhone, OriginalValue: "555 0100", SuggestedValue: "+1-555-0100", Confidence: 0.97},
		{RowIndex: 1, Column: "email", Category: model.CategoryEmail, OriginalValue: "ann@x.com", SuggestedValue: "ann@x.com", Confidence: 0.99, Status: model.StatusNeedsReview},
		{RowIndex: 2, Column: "title", Category: model.CategoryJobTitle, OriginalValue: "cto", SuggestedValue: "CTO", Confidence: 0.95},
	}
}

func TestNewSession(t *testing.T) {
	sess, err := NewSession("contacts.csv", suggestions(), 0.95)
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "contacts.csv", sess.SourceRef)
	assert.False(t, sess.Finalized)
	require.Len(t, sess.Changes, 4)

	var cells []string
	status := map[string]model.Status{}
	for _, c := range sess.Changes {
		assert.Equal(t, sess.ID, c.SessionID)
		assert.NotEmpty(t, c.ID)
		cells = append(cells, c.CellKey())
		status[c.CellKey()] = c.Status
	}
	assert.Equal(t, []string{"1:email", "1:phone", "2:title", "3:email"}, cells)
	assert.Equal(t, model.StatusNeedsReview, status["3:email"], "below threshold")
	assert.Equal(t, model.StatusAutoAccepted, status["1:phone"], "above threshold")
	assert.Equal(t, model.StatusAutoAccepted, status["2:title"], "threshold is inclusive")
	assert.Equal(t, model.StatusNeedsReview, status["1:email"], "explicit status wins")
}

func TestNewSession_Errors(t *testing.T) {
	_, err := NewSession("contacts.csv", nil, 0.95)
	require.Error(t, err)

	_, err = NewSession("", suggestions(), 0.95)
	require.Error(t, err)

	dup := append(suggestions(), model.Suggestion{RowIndex: 3, Column: "email", Category: model.CategoryEmail, Confidence: 0.5})
	_, err = NewSession("contacts.csv", dup, 0.95)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDuplicateCell))

	tests := map[string]model.Suggestion{
		"negative row":       {RowIndex: -1, Column: "email", Category: model.CategoryEmail, Confidence: 0.5},
		"missing column":     {RowIndex: 0, Category: model.CategoryEmail, Confidence: 0.5},
		"unknown category":   {RowIndex: 0, Column: "email", Category: "salary", Confidence: 0.5},
		"confidence too big": {RowIndex: 0, Column: "email", Category: model.CategoryEmail, Confidence: 1.5},
		"decided status":     {RowIndex: 0, Column: "email", Category: model.CategoryEmail, Confidence: 0.5, Status: model.StatusAccepted},
	}
	for name, s := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewSession("contacts.csv", []model.Suggestion{s}, 0.95)
			require.Error(t, err)
		})
	}
}
