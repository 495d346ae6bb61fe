package domain

import "time"

// ScheduledJob is the scheduler's registration of a region's cron,
// mirrored into the Distributed Coordinator for cross-replica ownership.
type ScheduledJob struct {
	RegionID        string     `json:"region_id"`
	CronExpression  string     `json:"cron_expression"`
	NextFireAt      time.Time  `json:"next_fire_at"`
	LastFiredAt     *time.Time `json:"last_fired_at,omitempty"`
	OwnerReplicaID  string     `json:"owner_replica_id"`
	IsRunning       bool       `json:"is_running"`
	TriggerImmediate bool      `json:"-"`
}

// QueueStats are the Region Scheduler's job-queue lifecycle counters.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}
