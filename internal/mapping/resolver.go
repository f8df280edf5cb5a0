package mapping

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"rivulet/internal/config"
	"rivulet/internal/constants"
)

var (
	ErrUnmappedChannel = errors.New("no destination mapping for channel")
	ErrMissingBucket   = errors.New("s3 destination has no bucket configured")
)

type Kind int

const (
	KindLocal Kind = iota
	KindS3
)

func (k Kind) String() string {
	if k == KindS3 {
		return constants.DestinationS3
	}
	return constants.DestinationLocal
}

// WriteTarget is produced fresh for every flush; Path is set for KindLocal,
// Bucket and Key for KindS3.
type WriteTarget struct {
	Kind   Kind
	Path   string
	Bucket string
	Key    string
}

func LocalTarget(path string) WriteTarget {
	return WriteTarget{Kind: KindLocal, Path: path}
}

func S3Target(bucket, key string) WriteTarget {
	return WriteTarget{Kind: KindS3, Bucket: bucket, Key: key}
}

// Destination renders the target for logs and the manifest.
func (t WriteTarget) Destination() string {
	if t.Kind == KindS3 {
		return "s3://" + t.Bucket + "/" + t.Key
	}
	return t.Path
}

type Resolver struct {
	mappings      []config.ChannelMapping
	baseDir       string
	defaultBucket string
	defaultPrefix string
	clock         clock.PassiveClock
	newID         func() string
}

func NewResolver(cfg config.SinkConfig, clk clock.PassiveClock) *Resolver {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Resolver{
		mappings:      cfg.Mappings,
		baseDir:       cfg.Local.BaseDir,
		defaultBucket: cfg.S3.Bucket,
		defaultPrefix: cfg.S3.Prefix,
		clock:         clk,
		newID:         uuid.NewString,
	}
}

func (r *Resolver) Resolve(channel string) (WriteTarget, error) {
	m, ok := r.lookup(channel)
	if !ok {
		return WriteTarget{}, fmt.Errorf("%w: %s", ErrUnmappedChannel, channel)
	}

	date := r.clock.Now().UTC().Format("2006-01-02")
	file := r.newID() + constants.ParquetFileExt

	if strings.EqualFold(m.Destination, constants.DestinationS3) {
		bucket := m.Bucket
		if bucket == "" {
			bucket = r.defaultBucket
		}
		if bucket == "" {
			return WriteTarget{}, fmt.Errorf("%w: %s", ErrMissingBucket, channel)
		}

		prefix := m.Prefix
		if prefix == "" {
			prefix = r.defaultPrefix
		}

		key := NormalizePrefix(prefix) + path.Join("channel="+channel, "date="+date, file)
		return S3Target(bucket, key), nil
	}

	base := r.baseDir
	if filepath.IsAbs(m.Directory) {
		base = m.Directory
	} else if m.Directory != "" {
		base = filepath.Join(base, m.Directory)
	}

	return LocalTarget(filepath.Join(base, "channel="+channel, "date="+date, file)), nil
}

// lookup returns the first mapping whose channel matches exactly.
func (r *Resolver) lookup(channel string) (config.ChannelMapping, bool) {
	for _, m := range r.mappings {
		if m.Channel == channel {
			return m, true
		}
	}
	return config.ChannelMapping{}, false
}

// NormalizePrefix strips leading slashes and leaves exactly one trailing
// slash. Blank prefixes stay blank.
func NormalizePrefix(prefix string) string {
	p := strings.TrimLeft(strings.TrimSpace(prefix), "/")
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
