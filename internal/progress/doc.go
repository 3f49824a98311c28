// Package progress carries conversion progress from the pipeline to the
// outside world. Components report through the Logger capability; a Reporter
// turns those calls into Events and a Hub batches them, on a background
// goroutine, into pluggable sinks such as zap logs, Prometheus or a job store.
package progress
