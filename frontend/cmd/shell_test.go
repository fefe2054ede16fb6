package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jghoshh/habittree/backend/models"
)

func TestFormatHabit(t *testing.T) {
	id := primitive.NewObjectID()
	h := models.Habit{ID: id, Title: "Read", Category: models.CategoryDaily, Streak: 3, Points: 30}

	assert.Contains(t, formatHabit(h), "[ ] "+id.Hex())
	assert.Contains(t, formatHabit(h), "streak 3  points 30")

	h.IsCompleted = true
	assert.Contains(t, formatHabit(h), "[x] ")
}

func TestFormatHistoryIsOldestFirst(t *testing.T) {
	history := models.History{"2024-01-10": true, "2024-01-08": false, "2024-01-09": true}

	assert.Equal(t, []string{
		"2024-01-08  missed",
		"2024-01-09  done",
		"2024-01-10  done",
	}, formatHistory(history))
	assert.Equal(t, []string{"No history recorded yet."}, formatHistory(nil))
}
