package jobs

import (
	"context"
	"log"
	"time"

	"github.com/shaunmat/PostGradePortal/internal/capability"
	"github.com/shaunmat/PostGradePortal/internal/config"
	"github.com/shaunmat/PostGradePortal/internal/repository"
)

// StartCapabilityRefreshJob periodically re-derives supervision capabilities
// for every supervisor so course assignment changes made by admins show up
// without waiting for each supervisor's cache entry to age out.
func StartCapabilityRefreshJob(ctx context.Context, cfg config.Config, store *repository.Store, caps *capability.Service) {
	if !cfg.CapabilityRefreshEnabled {
		return
	}
	interval := cfg.CapabilityRefreshInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	timeout := cfg.CapabilityRefreshTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				refreshed, err := refreshAll(tickCtx, store, caps)
				cancel()
				if err != nil {
					log.Printf("capability refresh job error: %v", err)
					continue
				}
				if refreshed > 0 {
					log.Printf("capability refresh job refreshed %d supervisors", refreshed)
				}
			}
		}
	}()
}

func refreshAll(ctx context.Context, store *repository.Store, caps *capability.Service) (int, error) {
	supervisorIDs, err := store.ListSupervisorIDs(ctx)
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for _, supervisorID := range supervisorIDs {
		courseIDs, err := store.GetSupervisedCourseIDs(ctx, supervisorID)
		if err != nil {
			log.Printf("capability refresh: course lookup for %s: %v", supervisorID, err)
			continue
		}
		if err := caps.Invalidate(ctx, supervisorID); err != nil {
			log.Printf("capability refresh: invalidate for %s: %v", supervisorID, err)
			continue
		}
		if _, err := caps.Get(ctx, supervisorID, courseIDs); err != nil {
			log.Printf("capability refresh: derive for %s: %v", supervisorID, err)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}
