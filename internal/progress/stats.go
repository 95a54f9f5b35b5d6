package progress

import (
	"sort"
	"time"

	"github.com/example/studybot/pkg/models"
)

// upcomingLimit is how many upcoming reviews a summary lists
const upcomingLimit = 3

// Summary is the dashboard view of a learner's progress
type Summary struct {
	Total      int                     `json:"total"`
	New        int                     `json:"new"`
	Learning   int                     `json:"learning"`
	Review     int                     `json:"review"`
	Mastered   int                     `json:"mastered"`
	DueNow     int                     `json:"due_now"`
	Completion int                     `json:"completion"` // Percent of the catalog mastered
	Upcoming   []models.ProgressRecord `json:"upcoming"`   // Earliest Review items not yet due
}

// Summarize counts records by status against a catalog of catalogSize items.
// Items without a record are New.
func Summarize(records []models.ProgressRecord, catalogSize int, now time.Time) Summary {
	sum := Summary{Total: catalogSize}
	if catalogSize < len(records) {
		sum.Total = len(records)
	}
	sum.New = sum.Total - len(records)

	var upcoming []models.ProgressRecord
	for _, rec := range records {
		switch rec.Status {
		case models.StatusLearning:
			sum.Learning++
		case models.StatusReview:
			sum.Review++
		case models.StatusMastered:
			sum.Mastered++
		}

		if rec.IsDue(now) {
			sum.DueNow++
		} else if rec.Status == models.StatusReview {
			upcoming = append(upcoming, rec)
		}
	}

	if sum.Total > 0 {
		sum.Completion = (sum.Mastered*100 + sum.Total/2) / sum.Total
	}

	sort.Slice(upcoming, func(i, j int) bool {
		if !upcoming[i].NextReviewAt.Equal(upcoming[j].NextReviewAt) {
			return upcoming[i].NextReviewAt.Before(upcoming[j].NextReviewAt)
		}
		return upcoming[i].ItemID < upcoming[j].ItemID
	})
	if len(upcoming) > upcomingLimit {
		upcoming = upcoming[:upcomingLimit]
	}
	sum.Upcoming = upcoming

	return sum
}
