package peers

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/tehmaze-labs/yubistack/interfaces"
)

// ParseSyncPush decodes a state push received from a sibling validator,
// the inverse of the client's wire encoding.
func ParseSyncPush(values url.Values) (interfaces.PublicID, interfaces.ReplayState, error) {
	id, err := interfaces.NewPublicID(values.Get("yk_publicname"))
	if err != nil {
		return "", interfaces.ReplayState{}, fmt.Errorf("invalid yk_publicname: %w", err)
	}

	counter, err := parseField(values, "yk_counter", 0xffff)
	if err != nil {
		return "", interfaces.ReplayState{}, err
	}
	use, err := parseField(values, "yk_use", 0xff)
	if err != nil {
		return "", interfaces.ReplayState{}, err
	}
	low, err := parseField(values, "yk_low", 0xffff)
	if err != nil {
		return "", interfaces.ReplayState{}, err
	}
	high, err := parseField(values, "yk_high", 0xff)
	if err != nil {
		return "", interfaces.ReplayState{}, err
	}

	state := interfaces.ReplayState{
		Counter:    uint16(counter),
		Session:    uint8(use),
		Timestamp:  uint32(high)<<16 | uint32(low),
		LastSeen:   time.Now().UTC(),
		SyncSource: values.Get("nonce"),
	}
	if modified, err := strconv.ParseInt(values.Get("modified"), 10, 64); err == nil {
		state.LastSeen = time.Unix(modified, 0).UTC()
	}
	return id, state, nil
}

func parseField(values url.Values, name string, max uint64) (uint64, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing %s", name)
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || n > max {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return n, nil
}
