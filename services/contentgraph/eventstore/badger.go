// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eventstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"iter"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/contentgraph/pkg/logging"
	"github.com/AleutianAI/contentgraph/services/contentgraph/storage/badger"
	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	badgerBackend = "badger"

	// readPageSize bounds how many events one read transaction loads.
	readPageSize = 256

	frameRaw  byte = 0
	frameZstd byte = 1

	// frameHeader is [4-byte CRC32][1-byte encoding].
	frameHeader = 5
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Storage opens the underlying database.
	Storage badger.Config

	// Compression stores event payloads zstd-compressed. Reading always
	// understands both encodings.
	Compression bool

	// Logger for store operations. Nil uses slog.Default().
	Logger *slog.Logger
}

// BadgerStore persists streams in BadgerDB.
//
// Description:
//
//	Keys:
//	  cs:{stream}:meta             JSON StreamInfo
//	  cs:{stream}:evt:{version}    framed Envelope, version as %016d
//	  streams:{stream}             listing index, empty value
//
//	Values are framed as [CRC32 of rest][encoding byte][JSON or zstd(JSON)].
//	Appends read the meta key and rewrite it in the same transaction, so two
//	commits racing on one stream collide in Badger's conflict detection and
//	exactly one of them wins.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db       *badger.DB
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	notifier *notifier
	logger   *slog.Logger
	closed   atomic.Bool
	now      func() time.Time
}

// OpenBadgerStore opens the database and returns a store that owns it.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	logger := logging.Component(cfg.Logger, "eventstore")
	if cfg.Storage.Logger == nil {
		cfg.Storage.Logger = logger
	}

	db, err := badger.Open(cfg.Storage)
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	s := &BadgerStore{
		db:       db,
		decoder:  decoder,
		notifier: newNotifier(),
		logger:   logger,
		now:      time.Now,
	}
	if cfg.Compression {
		s.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			decoder.Close()
			_ = db.Close()
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
	}

	logger.Info("badger event store opened",
		slog.String("path", db.Path()),
		slog.Bool("in_memory", db.InMemory()),
		slog.Bool("compression", cfg.Compression))
	return s, nil
}

// -----------------------------------------------------------------------------
// Keys and framing
// -----------------------------------------------------------------------------

func metaKey(id StreamID) []byte {
	return []byte("cs:" + string(id) + ":meta")
}

func eventPrefix(id StreamID) []byte {
	return []byte("cs:" + string(id) + ":evt:")
}

func eventKey(id StreamID, version uint64) []byte {
	return []byte(fmt.Sprintf("cs:%s:evt:%016d", id, version))
}

var indexPrefix = []byte("streams:")

func indexKey(id StreamID) []byte {
	return append(append([]byte(nil), indexPrefix...), id...)
}

func (s *BadgerStore) encode(env Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	enc := frameRaw
	if s.encoder != nil {
		body = s.encoder.EncodeAll(body, make([]byte, 0, len(body)))
		enc = frameZstd
	}

	framed := make([]byte, frameHeader+len(body))
	framed[4] = enc
	copy(framed[frameHeader:], body)
	binary.BigEndian.PutUint32(framed[:4], crc32.ChecksumIEEE(framed[4:]))
	return framed, nil
}

func (s *BadgerStore) decode(data []byte) (Envelope, error) {
	if len(data) < frameHeader+1 {
		return Envelope{}, fmt.Errorf("%w: entry too short", ErrEventCorrupted)
	}
	stored := binary.BigEndian.Uint32(data[:4])
	if computed := crc32.ChecksumIEEE(data[4:]); stored != computed {
		return Envelope{}, fmt.Errorf("%w: stored=%08x computed=%08x", ErrEventCorrupted, stored, computed)
	}

	body := data[frameHeader:]
	switch data[4] {
	case frameRaw:
	case frameZstd:
		var err error
		body, err = s.decoder.DecodeAll(body, nil)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: zstd: %v", ErrEventCorrupted, err)
		}
	default:
		return Envelope{}, fmt.Errorf("%w: unknown encoding %d", ErrEventCorrupted, data[4])
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrEventCorrupted, err)
	}
	return env, nil
}

func getMeta(txn *dgbadger.Txn, id StreamID) (StreamInfo, error) {
	item, err := txn.Get(metaKey(id))
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return StreamInfo{}, ErrUnknownContentStream
	}
	if err != nil {
		return StreamInfo{}, err
	}
	var info StreamInfo
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &info)
	})
	if err != nil {
		return StreamInfo{}, fmt.Errorf("decode meta of %s: %w", id, err)
	}
	return info, nil
}

func setMeta(txn *dgbadger.Txn, info StreamInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return txn.Set(metaKey(info.ID), data)
}

// -----------------------------------------------------------------------------
// Store implementation
// -----------------------------------------------------------------------------

// Create registers a fresh stream.
func (s *BadgerStore) Create(ctx context.Context, id StreamID) (StreamInfo, error) {
	if err := s.check(ctx, id); err != nil {
		return StreamInfo{}, err
	}
	info := StreamInfo{ID: id, CreatedAt: s.now().UTC()}
	err := s.db.Update(ctx, func(txn *dgbadger.Txn) error {
		return s.register(txn, info)
	})
	if errors.Is(err, dgbadger.ErrConflict) {
		err = ErrContentStreamExists
	}
	if err != nil {
		return StreamInfo{}, err
	}
	streamsCreated.WithLabelValues(badgerBackend, "fresh").Inc()
	s.logger.Debug("content stream created", slog.String("stream", string(id)))
	s.notifier.publish(info.Head())
	return info, nil
}

// Fork creates id as a fork of parent at parent's head.
func (s *BadgerStore) Fork(ctx context.Context, parent, id StreamID) (StreamInfo, error) {
	if err := s.check(ctx, id); err != nil {
		return StreamInfo{}, err
	}
	var info StreamInfo
	err := s.db.Update(ctx, func(txn *dgbadger.Txn) error {
		pi, err := getMeta(txn, parent)
		if err != nil {
			return err
		}
		if pi.Archived {
			return ErrContentStreamArchived
		}
		info = StreamInfo{
			ID:          id,
			Parent:      parent,
			ForkVersion: pi.Version,
			Version:     pi.Version,
			CreatedAt:   s.now().UTC(),
		}
		return s.register(txn, info)
	})
	if errors.Is(err, dgbadger.ErrConflict) {
		err = fmt.Errorf("%w: fork of %s raced with another commit", ErrConcurrencyConflict, parent)
	}
	if err != nil {
		return StreamInfo{}, err
	}
	streamsCreated.WithLabelValues(badgerBackend, "fork").Inc()
	s.logger.Debug("content stream forked",
		slog.String("stream", string(id)),
		slog.String("parent", string(parent)),
		slog.Uint64("fork_version", info.ForkVersion))
	s.notifier.publish(info.Head())
	return info, nil
}

func (s *BadgerStore) register(txn *dgbadger.Txn, info StreamInfo) error {
	_, err := txn.Get(metaKey(info.ID))
	if err == nil {
		return ErrContentStreamExists
	}
	if !errors.Is(err, dgbadger.ErrKeyNotFound) {
		return err
	}
	if err := setMeta(txn, info); err != nil {
		return err
	}
	return txn.Set(indexKey(info.ID), nil)
}

// Append commits records if the head equals expected.
func (s *BadgerStore) Append(ctx context.Context, id StreamID, expected uint64, records []Pending) (Position, error) {
	if s.closed.Load() {
		return Position{}, ErrStoreClosed
	}
	if len(records) == 0 {
		return Position{}, ErrNoEvents
	}

	ctx, span := tracer.Start(ctx, "eventstore.Append",
		trace.WithAttributes(
			attribute.String("backend", badgerBackend),
			attribute.String("stream", string(id)),
			attribute.Int64("expected_version", int64(expected)),
			attribute.Int("count", len(records)),
		),
	)
	defer span.End()

	start := time.Now()
	pos, bytes, err := s.append(ctx, id, expected, records)
	observeAppend(badgerBackend, start, len(records), err)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			appendConflicts.WithLabelValues(badgerBackend).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return Position{}, err
	}

	span.SetAttributes(
		attribute.Int64("version", int64(pos.Version)),
		attribute.Int("entry_bytes", bytes),
	)
	s.logger.Debug("events appended",
		slog.String("stream", string(id)),
		slog.Uint64("version", pos.Version),
		slog.Int("count", len(records)),
		slog.Int("bytes", bytes))
	s.notifier.publish(pos)
	return pos, nil
}

func (s *BadgerStore) append(ctx context.Context, id StreamID, expected uint64, records []Pending) (Position, int, error) {
	envs, err := newEnvelopes(id, expected+1, records, s.now().UTC())
	if err != nil {
		return Position{}, 0, err
	}
	frames := make([][]byte, len(envs))
	total := 0
	for i, env := range envs {
		if frames[i], err = s.encode(env); err != nil {
			return Position{}, 0, err
		}
		total += len(frames[i])
	}

	var pos Position
	err = s.db.Update(ctx, func(txn *dgbadger.Txn) error {
		info, err := getMeta(txn, id)
		if err != nil {
			return err
		}
		if info.Archived {
			return ErrContentStreamArchived
		}
		if info.Version != expected {
			return &ConflictError{Stream: id, Expected: expected, Actual: info.Version}
		}
		for i, env := range envs {
			if err := txn.Set(eventKey(id, env.Version), frames[i]); err != nil {
				return err
			}
		}
		info.Version += uint64(len(envs))
		pos = info.Head()
		return setMeta(txn, info)
	})
	if errors.Is(err, dgbadger.ErrConflict) {
		err = fmt.Errorf("%w: stream %s: concurrent commit at version %d", ErrConcurrencyConflict, id, expected)
	}
	if err != nil {
		return Position{}, 0, err
	}
	return pos, total, nil
}

// ReadFrom yields the read view starting at from, loading events in pages.
func (s *BadgerStore) ReadFrom(ctx context.Context, id StreamID, from uint64) iter.Seq2[Envelope, error] {
	return func(yield func(Envelope, error) bool) {
		chain, head, err := s.lineage(ctx, id)
		if err != nil {
			yield(Envelope{}, err)
			return
		}
		for _, seg := range chain.segments(from, head) {
			next := seg.from
			for next <= seg.to {
				page, err := s.readPage(ctx, seg.stream, next, seg.to)
				if err != nil {
					yield(Envelope{}, err)
					return
				}
				if len(page) == 0 {
					yield(Envelope{}, fmt.Errorf("%w: stream %s missing version %d", ErrEventCorrupted, seg.stream, next))
					return
				}
				for _, env := range page {
					if !yield(env, nil) {
						return
					}
				}
				next = page[len(page)-1].Version + 1
			}
		}
	}
}

func (s *BadgerStore) readPage(ctx context.Context, id StreamID, from, to uint64) ([]Envelope, error) {
	var page []Envelope
	err := s.db.View(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = eventPrefix(id)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(eventKey(id, from)); it.ValidForPrefix(opts.Prefix); it.Next() {
			if len(page) >= readPageSize {
				return nil
			}
			var env Envelope
			err := it.Item().Value(func(val []byte) error {
				var derr error
				env, derr = s.decode(val)
				return derr
			})
			if err != nil {
				return err
			}
			if env.Version > to {
				return nil
			}
			if env.Version != from+uint64(len(page)) {
				return fmt.Errorf("%w: stream %s expected version %d, found %d",
					ErrEventCorrupted, id, from+uint64(len(page)), env.Version)
			}
			page = append(page, env)
		}
		return nil
	})
	return page, err
}

func (s *BadgerStore) lineage(ctx context.Context, id StreamID) (lineage, uint64, error) {
	var chain lineage
	err := s.db.View(ctx, func(txn *dgbadger.Txn) error {
		info, err := getMeta(txn, id)
		if err != nil {
			return err
		}
		chain = append(chain, info)
		for info.Parent != "" {
			if info, err = getMeta(txn, info.Parent); err != nil {
				return err
			}
			chain = append(chain, info)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	head := chain[0].Version
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, head, nil
}

// Info describes one stream.
func (s *BadgerStore) Info(ctx context.Context, id StreamID) (StreamInfo, error) {
	var info StreamInfo
	err := s.db.View(ctx, func(txn *dgbadger.Txn) error {
		var err error
		info, err = getMeta(txn, id)
		return err
	})
	return info, err
}

// Streams lists all streams sorted by id.
func (s *BadgerStore) Streams(ctx context.Context) ([]StreamInfo, error) {
	var out []StreamInfo
	err := s.db.View(ctx, func(txn *dgbadger.Txn) error {
		return badger.ScanPrefix(txn, indexPrefix, func(key []byte, _ *dgbadger.Item) error {
			id := StreamID(strings.TrimPrefix(string(key), string(indexPrefix)))
			info, err := getMeta(txn, id)
			if err != nil {
				return err
			}
			out = append(out, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Archive marks a stream read-only.
func (s *BadgerStore) Archive(ctx context.Context, id StreamID) error {
	return s.setArchived(ctx, id, true)
}

// Unarchive makes an archived stream writable again.
func (s *BadgerStore) Unarchive(ctx context.Context, id StreamID) error {
	return s.setArchived(ctx, id, false)
}

func (s *BadgerStore) setArchived(ctx context.Context, id StreamID, archived bool) error {
	err := s.db.Update(ctx, func(txn *dgbadger.Txn) error {
		info, err := getMeta(txn, id)
		if err != nil {
			return err
		}
		info.Archived = archived
		return setMeta(txn, info)
	})
	if errors.Is(err, dgbadger.ErrConflict) {
		err = fmt.Errorf("%w: archive flag of %s raced with a commit", ErrConcurrencyConflict, id)
	}
	if err == nil {
		s.logger.Debug("content stream archive flag set",
			slog.String("stream", string(id)),
			slog.Bool("archived", archived))
	}
	return err
}

// Subscribe returns a commit notification subscription.
func (s *BadgerStore) Subscribe() *Subscription {
	return s.notifier.subscribe()
}

// Close releases the codecs and closes the database. Safe to call more
// than once.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.encoder != nil {
		_ = s.encoder.Close()
	}
	s.decoder.Close()
	return s.db.Close()
}

func (s *BadgerStore) check(ctx context.Context, id StreamID) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return id.Validate()
}
