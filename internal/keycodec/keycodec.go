// Package keycodec generates and parses the self-describing API key text
//
//	prefix_environment_v{version}_{unixTimestamp}_{random}_{checksum}
//
// The random part is 20 bytes of crypto/rand output and the checksum is the
// first four bytes of SHA-256 over the other components, both encoded as
// unpadded RFC 4648 base32. Only Hash(text) is ever persisted.
package keycodec

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/faucetdb/keysmith/internal/autherr"
)

const (
	// RandomBytes is the size of the secret part of a key (160 bits).
	RandomBytes = 20
	// ChecksumBytes is how much of the SHA-256 digest is kept as checksum.
	ChecksumBytes = 4

	segments  = 6
	separator = "_"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ParsedKey is the decoded form of a key text.
type ParsedKey struct {
	Prefix      string
	Environment string
	Version     int
	Timestamp   uint32
	Random      []byte
	Checksum    string
}

// DisplayPrefix is the non-secret label stored alongside the hash.
func (p *ParsedKey) DisplayPrefix() string {
	return fmt.Sprintf("%s_%s_v%d_%d", p.Prefix, p.Environment, p.Version, p.Timestamp)
}

// IssuedAt returns the embedded timestamp as a time.
func (p *ParsedKey) IssuedAt() time.Time {
	return time.Unix(int64(p.Timestamp), 0).UTC()
}

// Key is a freshly generated key. Text is shown to the caller exactly once.
type Key struct {
	Text   string
	Hash   string
	Parsed ParsedKey
}

// Codec generates keys for one prefix/environment pair and rejects keys
// minted for any other pair.
type Codec struct {
	prefix      string
	environment string
	rand        io.Reader
	now         func() time.Time
}

// Option customises a Codec.
type Option func(*Codec)

// WithRand replaces the entropy source. Tests only.
func WithRand(r io.Reader) Option {
	return func(c *Codec) { c.rand = r }
}

// WithClock replaces the time source used for the embedded timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// New returns a Codec for the given prefix and environment.
func New(prefix, environment string, opts ...Option) (*Codec, error) {
	if err := validLabel("prefix", prefix); err != nil {
		return nil, err
	}
	if err := validLabel("environment", environment); err != nil {
		return nil, err
	}
	c := &Codec{
		prefix:      prefix,
		environment: environment,
		rand:        rand.Reader,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Prefix returns the configured key prefix.
func (c *Codec) Prefix() string { return c.prefix }

// Environment returns the configured environment tag.
func (c *Codec) Environment() string { return c.environment }

// Generate creates a new key text at the given version (>= 1).
func (c *Codec) Generate(version int) (*Key, error) {
	if version < 1 {
		return nil, autherr.Newf(autherr.InvalidFormat, "key version must be >= 1, got %d", version)
	}

	random := make([]byte, RandomBytes)
	if _, err := io.ReadFull(c.rand, random); err != nil {
		return nil, autherr.Wrap(autherr.Internal, "read random bytes", err)
	}

	ts := uint32(c.now().Unix())
	tsText := strconv.FormatUint(uint64(ts), 10)
	versionText := "v" + strconv.Itoa(version)
	sum := checksum(c.prefix, c.environment, versionText, tsText, random)

	text := strings.Join([]string{
		c.prefix,
		c.environment,
		versionText,
		tsText,
		encoding.EncodeToString(random),
		sum,
	}, separator)

	return &Key{
		Text: text,
		Hash: Hash(text),
		Parsed: ParsedKey{
			Prefix:      c.prefix,
			Environment: c.environment,
			Version:     version,
			Timestamp:   ts,
			Random:      random,
			Checksum:    sum,
		},
	}, nil
}

// Parse decodes text and verifies its checksum, additionally requiring the
// prefix and environment to match this codec.
func (c *Codec) Parse(text string) (*ParsedKey, error) {
	p, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if p.Prefix != c.prefix || p.Environment != c.environment {
		return nil, autherr.New(autherr.InvalidFormat, "key was not issued for this prefix and environment")
	}
	return p, nil
}

// Parse decodes a key text and verifies its checksum. It performs no I/O.
func Parse(text string) (*ParsedKey, error) {
	parts := strings.Split(text, separator)
	if len(parts) != segments {
		return nil, invalidFormat("expected %d segments, got %d", segments, len(parts))
	}
	prefix, env, versionText, tsText, randomText, sumText := parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]

	if prefix == "" || env == "" {
		return nil, invalidFormat("prefix and environment must be non-empty")
	}

	if !strings.HasPrefix(versionText, "v") {
		return nil, invalidFormat("version segment must start with 'v'")
	}
	version, err := strconv.Atoi(versionText[1:])
	if err != nil || version < 1 || "v"+strconv.Itoa(version) != versionText {
		return nil, invalidFormat("invalid version %q", versionText)
	}

	ts, err := strconv.ParseUint(tsText, 10, 32)
	if err != nil || strconv.FormatUint(ts, 10) != tsText {
		return nil, invalidFormat("invalid timestamp %q", tsText)
	}

	if len(randomText) != encoding.EncodedLen(RandomBytes) {
		return nil, invalidFormat("random part has wrong length")
	}
	random, err := encoding.DecodeString(randomText)
	if err != nil || len(random) != RandomBytes {
		return nil, invalidFormat("random part is not valid base32")
	}

	want := checksum(prefix, env, versionText, tsText, random)
	if subtle.ConstantTimeCompare([]byte(want), []byte(sumText)) != 1 {
		return nil, autherr.New(autherr.ChecksumMismatch, "key checksum does not match")
	}

	return &ParsedKey{
		Prefix:      prefix,
		Environment: env,
		Version:     version,
		Timestamp:   uint32(ts),
		Random:      random,
		Checksum:    sumText,
	}, nil
}

// Hash returns the hex-encoded SHA-256 of the full key text.
func Hash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// checksum is compared as encoded text: 32 bits do not fill the last base32
// character, so decoding would accept several spellings of one checksum.
func checksum(prefix, env, versionText, tsText string, random []byte) string {
	h := sha256.New()
	h.Write([]byte(prefix))
	h.Write([]byte(env))
	h.Write([]byte(versionText))
	h.Write([]byte(tsText))
	h.Write(random)
	return encoding.EncodeToString(h.Sum(nil)[:ChecksumBytes])
}

func validLabel(name, v string) error {
	if v == "" {
		return autherr.Newf(autherr.InvalidFormat, "%s must not be empty", name)
	}
	if strings.Contains(v, separator) {
		return autherr.Newf(autherr.InvalidFormat, "%s must not contain %q", name, separator)
	}
	return nil
}

func invalidFormat(format string, args ...any) error {
	return autherr.Newf(autherr.InvalidFormat, "invalid key format: "+format, args...)
}
