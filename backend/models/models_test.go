package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoryDatesAreSorted(t *testing.T) {
	h := History{"2024-01-10": true, "2023-12-31": false, "2024-01-02": true}
	assert.Equal(t, []string{"2023-12-31", "2024-01-02", "2024-01-10"}, h.Dates())
	assert.Empty(t, History(nil).Dates())
}

func TestWeeklyXPTotal(t *testing.T) {
	assert.Equal(t, 0, WeeklyXP{}.Total())
	assert.Equal(t, 62, WeeklyXP{15, 0, 17, 0, 0, 30, 0}.Total())
}
