// Package scheduler turns schedule strings into triggers that enqueue named
// tasks on the task engine. It never runs work itself.
package scheduler
