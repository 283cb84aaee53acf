// services/scheduler.go
package services

import (
	"log"
	"time"

	"devbout/models"

	"github.com/go-co-op/gocron/v2"
)

// StartStatusScheduler advances hackathon lifecycles by the clock: OPEN
// events start when their start date passes, ONGOING events move to JUDGING
// when their end date passes. COMPLETED is always an explicit organizer
// action.
func (s *HackathonService) StartStatusScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			now := time.Now().UTC()

			var starting []models.Hackathon
			err := s.DB.Where("status = ? AND start_date <= ?", models.HackathonOpen, now).
				Find(&starting).Error
			if err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}
			for _, h := range starting {
				h.Status = models.HackathonOngoing
				if err := s.DB.Save(&h).Error; err != nil {
					log.Printf("[Scheduler] Failed to start hackathon %s: %v", h.ID, err)
				} else {
					log.Printf("✅ Hackathon started: %s", h.Name)
				}
			}

			var ending []models.Hackathon
			err = s.DB.Where("status = ? AND end_date <= ?", models.HackathonOngoing, now).
				Find(&ending).Error
			if err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}
			for _, h := range ending {
				h.Status = models.HackathonJudging
				if err := s.DB.Save(&h).Error; err != nil {
					log.Printf("[Scheduler] Failed to move hackathon %s to judging: %v", h.ID, err)
				} else {
					log.Printf("⚖️ Hackathon moved to judging: %s", h.Name)
				}
			}
		}),
	)
}
