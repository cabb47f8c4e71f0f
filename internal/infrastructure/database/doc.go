// Package database provides the SQLite handle behind a node's retained memory.
//
// A microcontroller keeps a few values in RTC memory across deep sleep. On
// the host those values (ring buffers, fault counters, boot and sleep
// counters) live in a small SQLite file so they survive the agent exiting.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
