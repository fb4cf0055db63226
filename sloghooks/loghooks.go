// Package sloghooks logs metacache hook events through log/slog. Storage keys are
// digested before they are logged; namespaces are logged as is.
package sloghooks

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/metacache"
)

type Options struct {
	// Keep one in every N events of the noisy kinds; 0 and 1 keep all.
	RowSkipped       uint64
	SnapshotRejected uint64
	// Redact maps a storage key to its logged form; nil logs an xxhash digest.
	Redact func(string) string
}

type Hooks struct {
	l        *slog.Logger
	opts     Options
	skipped  atomic.Uint64
	rejected atomic.Uint64
}

var _ metacache.Hooks = (*Hooks)(nil)

// New returns hooks that log to l; a nil l discards every event.
func New(l *slog.Logger, opts Options) *Hooks {
	if opts.Redact == nil {
		opts.Redact = digest
	}
	return &Hooks{l: l, opts: opts}
}

func digest(k string) string { return strconv.FormatUint(xxhash.Sum64String(k), 16) }

func keep(every uint64, n *atomic.Uint64) bool {
	return every <= 1 || n.Add(1)%every == 0
}

func (h *Hooks) log(level slog.Level, event string, attrs ...slog.Attr) {
	if h.l == nil {
		return
	}
	ctx := context.Background()
	if !h.l.Enabled(ctx, level) {
		return
	}
	h.l.LogAttrs(ctx, level, "metacache."+event, attrs...)
}

func (h *Hooks) key(k string) slog.Attr { return slog.String("key", h.opts.Redact(k)) }

func (h *Hooks) RowSkipped(ns, op string, err error) {
	if !keep(h.opts.RowSkipped, &h.skipped) {
		return
	}
	h.log(slog.LevelDebug, "row_skipped", slog.String("ns", ns), slog.String("op", op), slog.Any("err", err))
}

func (h *Hooks) PopulationFailed(ns, op string, err error) {
	h.log(slog.LevelError, "population_failed", slog.String("ns", ns), slog.String("op", op), slog.Any("err", err))
}

func (h *Hooks) PopulationCancelled(ns, op string, rows int) {
	h.log(slog.LevelInfo, "population_cancelled", slog.String("ns", ns), slog.String("op", op), slog.Int("rows", rows))
}

func (h *Hooks) SnapshotRejected(storageKey, reason string) {
	if !keep(h.opts.SnapshotRejected, &h.rejected) {
		return
	}
	h.log(slog.LevelDebug, "snapshot_rejected", h.key(storageKey), slog.String("reason", reason))
}

func (h *Hooks) ProviderSetRejected(storageKey string, isBulk bool) {
	h.log(slog.LevelWarn, "provider_set_rejected", h.key(storageKey), slog.Bool("bulk", isBulk))
}

func (h *Hooks) GenSnapshotError(storageKey string, err error) {
	h.log(slog.LevelWarn, "gen_snapshot_error", h.key(storageKey), slog.Any("err", err))
}

func (h *Hooks) GenBumpError(storageKey string, err error) {
	h.log(slog.LevelWarn, "gen_bump_error", h.key(storageKey), slog.Any("err", err))
}

// InvalidateOutage means both the bump and the delete failed, so a stale frame may
// survive until its TTL.
func (h *Hooks) InvalidateOutage(storageKey string, bumpErr, delErr error) {
	h.log(slog.LevelError, "invalidate_outage", h.key(storageKey),
		slog.Group("errs", slog.Any("bump", bumpErr), slog.Any("del", delErr)))
}
