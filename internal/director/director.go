// Package director implements the wire-framing half of the director
// protocol spec.md §1 otherwise declares out of scope: parsing `use
// storage`/`use device` command blocks and formatting their response
// codes. The network transport and authentication handshake that carries
// these lines are a declared interface only (Transport), not implemented
// here.
package director

import (
	"fmt"
	"strconv"
	"strings"
)

// DirStore is one parsed `use storage` block plus its following `use
// device` lines (spec.md §6.5). Multiple DirStores may arrive for the
// same job (e.g. one for read, one for write).
type DirStore struct {
	StorageName string
	MediaType   string
	PoolName    string
	PoolType    string
	Append      bool
	Copy        bool
	Stripe      bool
	DeviceNames []string
}

// ParseUseCommands parses the full text block a director sends for one
// job: one or more `use storage=... media_type=... pool_name=...
// pool_type=... append=<0|1> copy=<0|1> stripe=<0|1>` lines, each followed
// by one or more `use device=<name>` lines.
func ParseUseCommands(text string) ([]*DirStore, error) {
	var stores []*DirStore
	var current *DirStore

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "use" {
			return nil, fmt.Errorf("director: bad use command: %s", line)
		}
		kv := parseKV(fields[1:])

		switch {
		case strings.HasPrefix(fields[1], "storage="):
			store, err := newDirStore(kv)
			if err != nil {
				return nil, fmt.Errorf("director: bad use command: %w", err)
			}
			stores = append(stores, store)
			current = store
		case strings.HasPrefix(fields[1], "device="):
			if current == nil {
				return nil, fmt.Errorf("director: use device before use storage: %s", line)
			}
			name, ok := kv["device"]
			if !ok || name == "" {
				return nil, fmt.Errorf("director: bad use command: %s", line)
			}
			current.DeviceNames = append(current.DeviceNames, name)
		default:
			return nil, fmt.Errorf("director: bad use command: %s", line)
		}
	}

	if len(stores) == 0 {
		return nil, fmt.Errorf("director: bad use command: empty input")
	}
	return stores, nil
}

func parseKV(fields []string) map[string]string {
	kv := make(map[string]string, len(fields))
	for _, f := range fields {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 {
			continue
		}
		kv[parts[0]] = parts[1]
	}
	return kv
}

func newDirStore(kv map[string]string) (*DirStore, error) {
	s := &DirStore{
		StorageName: kv["storage"],
		MediaType:   kv["media_type"],
		PoolName:    kv["pool_name"],
		PoolType:    kv["pool_type"],
	}
	var err error
	if s.Append, err = parseBoolFlag(kv, "append"); err != nil {
		return nil, err
	}
	if s.Copy, err = parseBoolFlag(kv, "copy"); err != nil {
		return nil, err
	}
	if s.Stripe, err = parseBoolFlag(kv, "stripe"); err != nil {
		return nil, err
	}
	if s.StorageName == "" {
		return nil, fmt.Errorf("missing storage name")
	}
	return s, nil
}

func parseBoolFlag(kv map[string]string, key string) (bool, error) {
	v, ok := kv[key]
	if !ok {
		return false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return false, fmt.Errorf("bad %s value %q", key, v)
	}
	return n != 0, nil
}

// ResponseCode is one of the closed set of director response codes
// (spec.md §6.5).
type ResponseCode int

const (
	RespOK             ResponseCode = 3000
	RespDeviceNotFound ResponseCode = 3924
	RespBadUseCommand  ResponseCode = 3913
)

// Format renders a response line. OK carries the accepted device name;
// the error codes carry a free-text detail.
func (c ResponseCode) Format(detail string) string {
	switch c {
	case RespOK:
		return fmt.Sprintf("3000 OK use device device=%s", detail)
	case RespDeviceNotFound:
		return fmt.Sprintf("3924 Device %q not in SD Device resources or no matching Media Type.", detail)
	case RespBadUseCommand:
		return fmt.Sprintf("3913 Bad use command: %s", detail)
	default:
		return fmt.Sprintf("%d %s", int(c), detail)
	}
}

// Transport is the declared interface the network/authentication layer
// would implement; out of scope per spec.md §1, kept here only so
// internal/reserve can depend on an abstraction instead of a concrete
// socket type.
type Transport interface {
	ReadCommand() (string, error)
	WriteResponse(line string) error
}
