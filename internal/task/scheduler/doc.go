// Package scheduler fires named jobs at a point in time (At) or on a recurring
// cron/interval schedule (AddCron), and runs them on a small worker pool.
//
// One-shot jobs are upserted by name: registering a name again replaces the
// previous job, and stale timer callbacks are ignored. Each registration
// returns a *Job handle that can be cancelled until the job starts.
package scheduler
