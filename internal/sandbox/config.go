package sandbox

import "time"

// Config controls the resource ceilings and scratch-space layout shared by
// every sandboxed run, independent of the per-job language spec.
type Config struct {
	DockerHost           string
	ScratchRoot          string
	SecurityScanEnabled  bool
	MaxConcurrency       int
	CPUQuotaFraction     float64 // fraction of one core, e.g. 0.5
	ProcessLimit         int64
	OpenFileLimit        uint64
	ContainerPullTimeout time.Duration

	// SubmissionRateLimit and SubmissionBurst pace how often Run may start a
	// new pre-flight scan, independent of MaxConcurrency: concurrency caps
	// how many runs are in flight, this caps how fast new ones are admitted,
	// so a burst of submissions can't pile straight through the scan into
	// container creation.
	SubmissionRateLimit float64 // scans admitted per second
	SubmissionBurst     int
}

// DefaultConfig mirrors the defaults named in the execution surface: about
// half a core, a 64-process cap, a 1024 open-file ulimit, and pacing new
// submissions at 5/s with a burst of 10.
func DefaultConfig() Config {
	return Config{
		ScratchRoot:          "/var/lib/codecollab/sandbox",
		SecurityScanEnabled:  true,
		MaxConcurrency:       5,
		CPUQuotaFraction:     0.5,
		ProcessLimit:         64,
		OpenFileLimit:        1024,
		ContainerPullTimeout: 2 * time.Minute,
		SubmissionRateLimit:  5,
		SubmissionBurst:      10,
	}
}
