package services

import (
	"testing"

	"mirai-forecast-api/pkg/models"

	"github.com/stretchr/testify/assert"
)

func TestLastEntriesChronological(t *testing.T) {
	entries := []models.ChatHistoryEntry{
		{Message: "3番目", Timestamp: "2024-03-01T12:00:00+09:00"},
		{Message: "1番目", Timestamp: "2024-03-01T09:00:00+09:00"},
		{Message: "4番目", Timestamp: "2024-03-01T15:00:00+09:00"},
		{Message: "2番目", Timestamp: "2024-03-01T10:30:00+09:00"},
	}

	sorted := lastEntriesChronological(entries, 0)
	assert.Equal(t, "1番目", sorted[0].Message)
	assert.Equal(t, "2番目", sorted[1].Message)
	assert.Equal(t, "3番目", sorted[2].Message)
	assert.Equal(t, "4番目", sorted[3].Message)
}

func TestLastEntriesChronologicalLimit(t *testing.T) {
	entries := []models.ChatHistoryEntry{
		{Message: "古い", Timestamp: "2024-03-01T09:00:00Z"},
		{Message: "中間", Timestamp: "2024-03-01T10:00:00Z"},
		{Message: "新しい", Timestamp: "2024-03-01T11:00:00Z"},
	}

	// 直近2件のみ、時系列順を維持
	recent := lastEntriesChronological(entries, 2)
	assert.Len(t, recent, 2)
	assert.Equal(t, "中間", recent[0].Message)
	assert.Equal(t, "新しい", recent[1].Message)
}

func TestLastEntriesChronologicalMixedTimezones(t *testing.T) {
	// タイムゾーンが違っても実時刻で比較される
	entries := []models.ChatHistoryEntry{
		{Message: "後", Timestamp: "2024-03-01T09:30:00Z"},
		{Message: "先", Timestamp: "2024-03-01T18:00:00+09:00"}, // = 09:00Z
	}

	sorted := lastEntriesChronological(entries, 0)
	assert.Equal(t, "先", sorted[0].Message)
	assert.Equal(t, "後", sorted[1].Message)
}
