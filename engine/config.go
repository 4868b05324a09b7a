package engine

import (
	"strconv"
	"time"

	"github.com/siphon-data/siphon/logger"
)

// Recognized engine options. Anything else in the option map is passed
// through to the connector untouched.
const (
	OptName                = "name"
	OptConnectorClass      = "connector.class"
	OptOffsetStorageFile   = "offset.storage.file.filename"
	OptOffsetFlushInterval = "offset.flush.interval.ms"
	OptOffsetCommitTimeout = "offset.commit.timeout.ms"
	OptOffsetCommitPolicy  = "offset.commit.policy"
	OptOffsetFlushRetries  = "offset.flush.retries"
	OptShutdownTimeout     = "shutdown.timeout.ms"
	OptQueueSize           = "queue.size"
	OptPollInterval        = "poll.interval.ms"
	OptDdlOnError          = "ddl.on.error"
)

type CommitPolicy string

const (
	// PolicyPeriodic flushes offsets on the configured interval.
	PolicyPeriodic CommitPolicy = "periodic"
	// PolicyAlways flushes after every consumed batch.
	PolicyAlways CommitPolicy = "always"
)

const (
	defaultFlushInterval   = time.Minute
	defaultCommitTimeout   = 5 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultPollInterval    = time.Second
	defaultQueueSize       = 2048
	defaultFlushRetries    = 5
)

// Config is the parsed engine configuration. Raw keeps the full option map
// for the connector.
type Config struct {
	Name              string
	ConnectorClass    string
	OffsetStoragePath string
	FlushInterval     time.Duration
	CommitTimeout     time.Duration
	CommitPolicy      CommitPolicy
	ShutdownTimeout   time.Duration
	PollInterval      time.Duration
	QueueSize         int
	MaxFlushRetries   int
	Raw               map[string]string
}

var engineOptions = map[string]bool{
	OptName:                true,
	OptConnectorClass:      true,
	OptOffsetStorageFile:   true,
	OptOffsetFlushInterval: true,
	OptOffsetCommitTimeout: true,
	OptOffsetCommitPolicy:  true,
	OptOffsetFlushRetries:  true,
	OptShutdownTimeout:     true,
	OptQueueSize:           true,
	OptPollInterval:        true,
	OptDdlOnError:          true,
}

// ParseConfig validates the option map. Missing required options fail with
// ErrConfig; options the engine does not recognize are logged and left to the
// connector.
func ParseConfig(options map[string]string) (*Config, error) {
	cfg := &Config{
		FlushInterval:   defaultFlushInterval,
		CommitTimeout:   defaultCommitTimeout,
		CommitPolicy:    PolicyPeriodic,
		ShutdownTimeout: defaultShutdownTimeout,
		PollInterval:    defaultPollInterval,
		QueueSize:       defaultQueueSize,
		MaxFlushRetries: defaultFlushRetries,
		Raw:             make(map[string]string, len(options)),
	}
	for k, v := range options {
		cfg.Raw[k] = v
		if !engineOptions[k] {
			logger.Debugf("option [%s] not recognized by the engine; passing through to the connector", k)
		}
	}

	cfg.Name = options[OptName]
	if cfg.Name == "" {
		return nil, configErrorf("missing required option [%s]", OptName)
	}
	cfg.ConnectorClass = options[OptConnectorClass]
	if cfg.ConnectorClass == "" {
		return nil, configErrorf("missing required option [%s]", OptConnectorClass)
	}
	cfg.OffsetStoragePath = options[OptOffsetStorageFile]
	if cfg.OffsetStoragePath == "" {
		return nil, configErrorf("missing required option [%s]", OptOffsetStorageFile)
	}

	var err error
	if cfg.FlushInterval, err = durationOption(options, OptOffsetFlushInterval, cfg.FlushInterval); err != nil {
		return nil, err
	}
	if cfg.CommitTimeout, err = durationOption(options, OptOffsetCommitTimeout, cfg.CommitTimeout); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = durationOption(options, OptShutdownTimeout, cfg.ShutdownTimeout); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = durationOption(options, OptPollInterval, cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = intOption(options, OptQueueSize, cfg.QueueSize); err != nil {
		return nil, err
	}
	if cfg.MaxFlushRetries, err = intOption(options, OptOffsetFlushRetries, cfg.MaxFlushRetries); err != nil {
		return nil, err
	}

	switch policy := options[OptOffsetCommitPolicy]; policy {
	case "":
	case string(PolicyPeriodic), string(PolicyAlways):
		cfg.CommitPolicy = CommitPolicy(policy)
	default:
		return nil, configErrorf("option [%s] must be periodic or always, got [%s]", OptOffsetCommitPolicy, policy)
	}

	return cfg, nil
}

func durationOption(options map[string]string, key string, fallback time.Duration) (time.Duration, error) {
	raw, present := options[key]
	if !present || raw == "" {
		return fallback, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms < 0 {
		return 0, configErrorf("option [%s] must be a non-negative millisecond count, got [%s]", key, raw)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func intOption(options map[string]string, key string, fallback int) (int, error) {
	raw, present := options[key]
	if !present || raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, configErrorf("option [%s] must be a positive integer, got [%s]", key, raw)
	}
	return n, nil
}
