package config

const (
	defaultDataDir                 = "~/.local/share/clipstitch"
	defaultLogDir                  = "~/.local/share/clipstitch/logs"
	defaultAPIBind                 = "127.0.0.1:7490"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 30
	defaultMaxTotalBytes           = 512 << 20
	defaultMaxChunkBytes           = 8 << 20
	defaultSessionTTLHours         = 24
	defaultRetentionHours          = 24 * 7
	defaultMaxActiveSessions       = 6
	defaultMinFreeBytes            = 1 << 30
	defaultHashAlgorithm           = "sha256"
	defaultMergeWorkers            = 2
	defaultMergeTimeoutSeconds     = 900
	defaultCompressionRetries      = 2
	defaultCompressionRetryBackoff = 5
	defaultPreset                  = "medium"
	defaultTargetWidth             = 1080
	defaultTargetHeight            = 1920
	defaultTargetFPS               = 30
	defaultQueuePollInterval       = 2
	defaultSweepInterval           = 300
	defaultHeartbeatInterval       = 15
	defaultHeartbeatTimeout        = 120
	defaultLockTTLSeconds          = 1800
	defaultModerationTimeout       = 15
)

var (
	defaultAllowedMimeTypes = []string{"video/mp4", "video/quicktime", "video/webm"}
	defaultCompressors      = []string{"ffmpeg", "drapto"}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Upload: Upload{
			MaxTotalBytes:     defaultMaxTotalBytes,
			MaxChunkBytes:     defaultMaxChunkBytes,
			AllowedMimeTypes:  append([]string(nil), defaultAllowedMimeTypes...),
			SessionTTLHours:   defaultSessionTTLHours,
			RetentionHours:    defaultRetentionHours,
			MaxActiveSessions: defaultMaxActiveSessions,
			MinFreeBytes:      defaultMinFreeBytes,
			HashAlgorithm:     defaultHashAlgorithm,
		},
		Merge: Merge{
			Workers:                 defaultMergeWorkers,
			TimeoutSeconds:          defaultMergeTimeoutSeconds,
			CompressionRetries:      defaultCompressionRetries,
			CompressionRetryBackoff: defaultCompressionRetryBackoff,
			DefaultPreset:           defaultPreset,
			TargetWidth:             defaultTargetWidth,
			TargetHeight:            defaultTargetHeight,
			TargetFPS:               defaultTargetFPS,
			Compressors:             append([]string(nil), defaultCompressors...),
		},
		Workflow: Workflow{
			QueuePollInterval: defaultQueuePollInterval,
			SweepInterval:     defaultSweepInterval,
			HeartbeatInterval: defaultHeartbeatInterval,
			HeartbeatTimeout:  defaultHeartbeatTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Coordination: Coordination{
			LockTTLSeconds: defaultLockTTLSeconds,
		},
		Moderation: Moderation{
			TimeoutSeconds: defaultModerationTimeout,
		},
	}
}
