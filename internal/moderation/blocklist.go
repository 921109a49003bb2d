// Package moderation holds the IP blocklist and the activity log that the
// admin surfaces read and manage.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/wanz-bot/Api/internal/models"
	"github.com/wanz-bot/Api/internal/storage"
)

// BlockPrefix is the store prefix of blocked IPs.
const BlockPrefix = "block:"

const blockedValue = "blocked"

// Blocklist is a set of blocked client IPs.
type Blocklist struct {
	store storage.Store
}

func NewBlocklist(store storage.Store) *Blocklist {
	return &Blocklist{store: store}
}

// NormalizeIP validates ip and returns its canonical text form.
func NormalizeIP(ip string) (string, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", models.Errorf(models.ErrBadRequest, "invalid ip %q", ip)
	}
	return parsed.String(), nil
}

// Block adds ip to the blocklist. Blocking twice is harmless.
func (b *Blocklist) Block(ctx context.Context, ip string) (string, error) {
	ip, err := NormalizeIP(ip)
	if err != nil {
		return "", err
	}
	if err := b.store.Put(ctx, BlockPrefix+ip, []byte(blockedValue)); err != nil {
		return "", fmt.Errorf("block %s: %w", ip, err)
	}
	return ip, nil
}

// Unblock removes ip from the blocklist.
func (b *Blocklist) Unblock(ctx context.Context, ip string) (string, error) {
	ip, err := NormalizeIP(ip)
	if err != nil {
		return "", err
	}
	if err := b.store.Delete(ctx, BlockPrefix+ip); err != nil {
		return "", fmt.Errorf("unblock %s: %w", ip, err)
	}
	return ip, nil
}

// IsBlocked reports whether ip is on the blocklist. Unparseable addresses
// are looked up verbatim.
func (b *Blocklist) IsBlocked(ctx context.Context, ip string) (bool, error) {
	if normalized, err := NormalizeIP(ip); err == nil {
		ip = normalized
	}
	_, err := b.store.Get(ctx, BlockPrefix+ip)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blocklist lookup %s: %w", ip, err)
	}
	return true, nil
}

// List returns the blocked IPs in key order.
func (b *Blocklist) List(ctx context.Context) ([]string, error) {
	keys, err := b.store.List(ctx, BlockPrefix)
	if err != nil {
		return nil, fmt.Errorf("list blocklist: %w", err)
	}
	ips := make([]string, 0, len(keys))
	for _, k := range keys {
		ips = append(ips, strings.TrimPrefix(k, BlockPrefix))
	}
	return ips, nil
}
