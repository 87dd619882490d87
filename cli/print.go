package main

import (
	"time"

	"github.com/larrabee/s3sftp/pipeline"
)

func printStats(stats pipeline.Stats, dur time.Duration, status relayStatus) {
	log.Infof("Transferred: %d; Failed: %d; Skipped: %d; Archive errors: %d; Delete errors: %d",
		stats.Transferred, stats.Failed, stats.Skipped, stats.ArchiveFailed, stats.DeleteFailed)
	log.Infof("Duration: %s", dur.String())

	switch status {
	case relayStatusOk:
		log.Infof("Relay Done")
	case relayStatusFailed:
		log.Error("Relay Failed")
	case relayStatusAborted:
		log.Warnf("Relay Aborted")
	case relayStatusConfError:
		log.Errorf("Relay Configuration error")
	default:
		log.Warnf("Relay Unknown status")
	}
}
