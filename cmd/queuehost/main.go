package main

import (
	"context"

	"github.com/pixelvide/queuehost/pkg/console"
	"github.com/pixelvide/queuehost/pkg/queue"
	"github.com/pixelvide/queuehost/pkg/root"
	"github.com/pixelvide/queuehost/pkg/schedule"
	"github.com/pixelvide/queuehost/pkg/telemetry"
	"github.com/rs/zerolog/log"
)

// ProcessPodcast handles App\Jobs\ProcessPodcast
func ProcessPodcast(ctx context.Context, job *queue.Job) error {
	logger := telemetry.LoggerFromContext(ctx)
	logger.Info().Msg("Processing job")

	// Public properties of the serialized Laravel command
	if podcastID := job.GetArg("podcastId"); podcastID != nil {
		logger.Info().Any("podcast_id", podcastID).Msg("Found podcast ID in job arguments")
	} else if job.UnserializedData != nil {
		logger.Info().Msg("Unserialized data present but podcastId not found")
	}

	return nil
}

// PruneStaleEntries runs on the scheduler
func PruneStaleEntries(ctx context.Context) error {
	telemetry.LoggerFromContext(ctx).Info().Msg("Pruning stale entries")
	return nil
}

func main() {
	queue.Register("App\\Jobs\\ProcessPodcast", ProcessPodcast)

	if err := schedule.Register("0 0 * * * *", PruneStaleEntries,
		schedule.Named("prune-stale-entries"),
		schedule.WithoutOverlapping(),
		schedule.OnOneServer("prune-stale-entries"),
	); err != nil {
		log.Fatal().Err(err).Msg("Failed to register scheduled task")
	}

	console.Register(root.GetRoot())
	root.Execute()
}
