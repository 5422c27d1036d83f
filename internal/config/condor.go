package config

import (
	"fmt"
	"os"
	"regexp"
)

var condorJobIDPattern = regexp.MustCompile(`#([0-9]*)\.`)

// IsCondorRunning reports whether this process runs under the HTCondor
// batch system.
func IsCondorRunning() bool {
	return os.Getenv("BATCH_SYSTEM") == "HTCondor"
}

// CondorJobID returns the id of the current cluster job.  $JOB_ID is set by
// Condor to something like "sched#12345.0"; the actual id is the number
// between '#' and '.'.
func CondorJobID() (string, error) {
	jobID, ok := os.LookupEnv("JOB_ID")
	if !ok {
		return "", fmt.Errorf("$JOB_ID is not set")
	}

	match := condorJobIDPattern.FindStringSubmatch(jobID)
	if match == nil {
		return "", fmt.Errorf("failed to parse $JOB_ID: %q", jobID)
	}
	return match[1], nil
}
