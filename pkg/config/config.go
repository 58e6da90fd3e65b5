package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/loopholelabs/antfs/pkg/ant/node"
	"github.com/loopholelabs/antfs/pkg/antfs/manager"
)

var ErrInvalidValue = errors.New("invalid config value")

type AntSchema struct {
	Transport *TransportSchema `hcl:"transport,block"`
	Session   *SessionSchema   `hcl:"session,block"`
	Antfs     *AntfsSchema     `hcl:"antfs,block"`
	Store     *StoreSchema     `hcl:"store,block"`
}

type TransportSchema struct {
	Port        string `hcl:"port,attr"`
	Baud        int    `hcl:"baud,optional"`
	ReadTimeout string `hcl:"read_timeout,optional"`
}

type SessionSchema struct {
	PollInterval string `hcl:"poll_interval,optional"`
	PollCount    int    `hcl:"poll_count,optional"`
	SendRetries  int    `hcl:"send_retries,optional"`
	RetryBackoff string `hcl:"retry_backoff,optional"`
	DrainDelay   string `hcl:"drain_delay,optional"`
	ResetDelay   string `hcl:"reset_delay,optional"`
}

type AntfsSchema struct {
	HostSerial      int    `hcl:"host_serial,optional"`
	Frequency       *int   `hcl:"frequency,optional"`
	LinkPeriod      *int   `hcl:"link_period,optional"`
	SearchTimeout   *int   `hcl:"search_timeout,optional"`
	NetworkKey      string `hcl:"network_key,optional"`
	FriendlyName    string `hcl:"friendly_name,optional"`
	MaxBlockSize    string `hcl:"max_block_size,optional"`
	CommandTimeout  string `hcl:"command_timeout,optional"`
	DownloadRetries int    `hcl:"download_retries,optional"`
	BeaconTimeout   string `hcl:"beacon_timeout,optional"`
}

type StoreSchema struct {
	Local *LocalStoreSchema `hcl:"local,block"`
	S3    *S3StoreSchema    `hcl:"s3,block"`
}

type LocalStoreSchema struct {
	Path string `hcl:"path,attr"`
}

type S3StoreSchema struct {
	Endpoint  string `hcl:"endpoint,attr"`
	AccessKey string `hcl:"access_key,attr"`
	SecretKey string `hcl:"secret_key,attr"`
	Bucket    string `hcl:"bucket,attr"`
	Prefix    string `hcl:"prefix,optional"`
	Secure    bool   `hcl:"secure,optional"`
}

func parseByteValue(val string) (int64, error) {
	multiplier := int64(1)
	s := strings.Trim(strings.ToLower(val), " \t\r\n")
	if s == "" {
		return 0, nil
	}

	suffix := s[len(s)-1:]
	switch suffix {
	case "b":
		s = s[:len(s)-1]
	case "k":
		multiplier = 1024
		s = s[:len(s)-1]
	case "m":
		multiplier = 1024 * 1024
		s = s[:len(s)-1]
	}

	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, val)
	}
	return i * multiplier, nil
}

// parseDuration keeps def when val is empty.
func parseDuration(val string, def time.Duration) (time.Duration, error) {
	if val == "" {
		return def, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, val)
	}
	return d, nil
}

func ReadSchema(path string) (*AntSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	s := new(AntSchema)
	return s, s.Decode(data)
}

func (s *AntSchema) Decode(data []byte) error {
	file, diag := hclsyntax.ParseConfig(data, "", hcl.Pos{Line: 1, Column: 1})
	if diag.HasErrors() {
		return diag.Errs()[0]
	}

	diag = gohcl.DecodeBody(file.Body, nil, s)
	if diag.HasErrors() {
		return diag.Errs()[0]
	}

	if s.Store != nil && s.Store.Local != nil && s.Store.S3 != nil {
		return fmt.Errorf("%w: store has both local and s3", ErrInvalidValue)
	}
	return nil
}

func (s *AntSchema) Encode() ([]byte, error) {
	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(s, f.Body())
	return f.Bytes(), nil
}

func (ts *TransportSchema) BaudRate() int {
	if ts.Baud == 0 {
		return 115200
	}
	return ts.Baud
}

func (ts *TransportSchema) Timeout() (time.Duration, error) {
	return parseDuration(ts.ReadTimeout, 100*time.Millisecond)
}

// Config applies the session block over the node defaults.
func (ss *SessionSchema) Config() (*node.Config, error) {
	conf := node.DefaultConfig()
	if ss == nil {
		return conf, nil
	}
	var err error
	if conf.PollInterval, err = parseDuration(ss.PollInterval, conf.PollInterval); err != nil {
		return nil, err
	}
	if conf.RetryBackoff, err = parseDuration(ss.RetryBackoff, conf.RetryBackoff); err != nil {
		return nil, err
	}
	if conf.Link.DrainDelay, err = parseDuration(ss.DrainDelay, conf.Link.DrainDelay); err != nil {
		return nil, err
	}
	if conf.Link.ResetDelay, err = parseDuration(ss.ResetDelay, conf.Link.ResetDelay); err != nil {
		return nil, err
	}
	if ss.PollCount > 0 {
		conf.PollCount = ss.PollCount
	}
	if ss.SendRetries > 0 {
		conf.SendRetries = ss.SendRetries
	}
	return conf, nil
}

// Config applies the antfs block over the manager defaults.
func (as *AntfsSchema) Config() (*manager.Config, error) {
	conf := manager.DefaultConfig()
	if as == nil {
		return conf, nil
	}

	if as.HostSerial != 0 {
		if as.HostSerial < 0 || int64(as.HostSerial) > 0xffffffff {
			return nil, fmt.Errorf("%w: host_serial %d", ErrInvalidValue, as.HostSerial)
		}
		conf.HostSerial = uint32(as.HostSerial)
	}
	for _, b := range []struct {
		name string
		val  *int
		dst  *byte
	}{
		{"frequency", as.Frequency, &conf.Frequency},
		{"link_period", as.LinkPeriod, &conf.LinkPeriod},
		{"search_timeout", as.SearchTimeout, &conf.SearchTimeout},
	} {
		if b.val == nil {
			continue
		}
		if *b.val < 0 || *b.val > 0xff {
			return nil, fmt.Errorf("%w: %s %d", ErrInvalidValue, b.name, *b.val)
		}
		*b.dst = byte(*b.val)
	}

	if as.NetworkKey != "" {
		key, err := hex.DecodeString(as.NetworkKey)
		if err != nil || len(key) != 8 {
			return nil, fmt.Errorf("%w: network_key must be 8 hex bytes", ErrInvalidValue)
		}
		conf.NetworkKey = key
	}
	if as.FriendlyName != "" {
		conf.FriendlyName = as.FriendlyName
	}
	if as.DownloadRetries > 0 {
		conf.DownloadRetries = as.DownloadRetries
	}

	size, err := parseByteValue(as.MaxBlockSize)
	if err != nil {
		return nil, err
	}
	if size < 0 || size > 0xffffffff {
		return nil, fmt.Errorf("%w: max_block_size %d", ErrInvalidValue, size)
	}
	conf.MaxBlockSize = uint32(size)

	if conf.CommandTimeout, err = parseDuration(as.CommandTimeout, conf.CommandTimeout); err != nil {
		return nil, err
	}
	if conf.BeaconTimeout, err = parseDuration(as.BeaconTimeout, conf.BeaconTimeout); err != nil {
		return nil, err
	}
	return conf, nil
}
