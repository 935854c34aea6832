// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/deskline/internal/logging"
	"github.com/tomtom215/deskline/internal/metrics"
)

// Key prefixes for BadgerDB storage
const (
	chatKeyPrefix    = "chat:"
	messageKeyPrefix = "msg:"
	roomKeyPrefix    = "room:"
	messageSeqKey    = "seq:message"

	chatIDPrefix = "CH-"
)

// Defaults for new chats.
const (
	DefaultTitle    = "Новая заявка"
	DefaultGreeting = "Здравствуйте! Чем можем помочь?"
)

// DefaultOperators are the names a greeting is signed with.
var DefaultOperators = []string{"Петрова Аня", "Сидоров Михаил", "Головач Лена"}

// Config configures a BadgerStore.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool

	Greeting  string
	Operators []string
}

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db        *badger.DB
	seq       *badger.Sequence
	greeting  string
	operators []string
	now       func() time.Time
	log       zerolog.Logger
}

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("store: path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
		opts.ValueLogFileSize = 64 << 20
		opts.SyncWrites = cfg.SyncWrites
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	s, err := NewBadgerStoreFromDB(db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewBadgerStoreFromDB creates a store on an existing BadgerDB connection.
func NewBadgerStoreFromDB(db *badger.DB, cfg Config) (*BadgerStore, error) {
	seq, err := db.GetSequence([]byte(messageSeqKey), 128)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if len(cfg.Operators) == 0 {
		cfg.Operators = DefaultOperators
	}
	return &BadgerStore{
		db:        db,
		seq:       seq,
		greeting:  cfg.Greeting,
		operators: cfg.Operators,
		now:       time.Now,
		log:       logging.Component("store"),
	}, nil
}

// Close releases the sequence lease and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to release message sequence")
	}
	return s.db.Close()
}

// RunGC reclaims value log space from deleted entries. badger.ErrNoRewrite
// means there was nothing to collect.
func (s *BadgerStore) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
		return nil
	}
	return err
}

func chatKey(id string) []byte { return []byte(chatKeyPrefix + id) }
func roomKey(id string) []byte { return []byte(roomKeyPrefix + id) }

func messagePrefix(chatID string) []byte { return []byte(messageKeyPrefix + chatID + ":") }

func messageKey(chatID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", messageKeyPrefix, chatID, seq))
}

// CreateChat implements Store.
func (s *BadgerStore) CreateChat(ctx context.Context, userID, title string) (chat *Chat, err error) {
	defer observe("create_chat", time.Now(), &err)

	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	seq, err := s.nextSeq()
	if err != nil {
		return nil, err
	}
	now := s.now()

	err = s.db.Update(func(txn *badger.Txn) error {
		n, err := maxChatNumber(txn)
		if err != nil {
			return err
		}
		chat = &Chat{
			ID:        fmt.Sprintf("%s%04d", chatIDPrefix, n+1),
			UserID:    userID,
			Title:     title,
			Status:    StatusNew,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := setJSON(txn, chatKey(chat.ID), chat); err != nil {
			return err
		}
		greeting := Message{
			Seq:       seq,
			ChatID:    chat.ID,
			Sender:    SenderOperator,
			Operator:  s.operators[rand.IntN(len(s.operators))],
			Text:      s.greeting,
			CreatedAt: now,
		}
		return setJSON(txn, messageKey(chat.ID, seq), greeting)
	})
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// maxChatNumber returns the highest N among CH-NNNN ids.
func maxChatNumber(txn *badger.Txn) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	highest := 0
	prefix := []byte(chatKeyPrefix + chatIDPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n, err := strconv.Atoi(string(it.Item().Key()[len(prefix):]))
		if err != nil {
			continue
		}
		highest = max(highest, n)
	}
	return highest, nil
}

// GetChat implements Store.
func (s *BadgerStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	var chat Chat
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, chatKey(id), &chat)
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListChats implements Store.
func (s *BadgerStore) ListChats(ctx context.Context, userID string) ([]*Chat, error) {
	var chats []*Chat
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(chatKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c Chat
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				return err
			}
			if userID == "" || c.UserID == userID {
				chats = append(chats, &c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].ID > chats[j].ID
		}
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

// UpdateStatus implements Store.
func (s *BadgerStore) UpdateStatus(ctx context.Context, id string, status ChatStatus) error {
	if !status.Valid() {
		return fmt.Errorf("store: invalid status %q", status)
	}
	return s.modifyChat("update_status", id, func(c *Chat) { c.Status = status })
}

// Rename implements Store.
func (s *BadgerStore) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("store: empty title")
	}
	return s.modifyChat("rename", id, func(c *Chat) { c.Title = title })
}

// MarkLeft implements Store.
func (s *BadgerStore) MarkLeft(ctx context.Context, id string) error {
	return s.modifyChat("mark_left", id, func(c *Chat) { c.Left = true })
}

// SetCounts implements Store.
func (s *BadgerStore) SetCounts(ctx context.Context, id string, operators, participants *int) error {
	return s.modifyChat("set_counts", id, func(c *Chat) {
		if operators != nil {
			c.OperatorsCount = *operators
		}
		if participants != nil {
			c.ParticipantsCount = *participants
		}
	})
}

// SetRoom implements Store.
func (s *BadgerStore) SetRoom(ctx context.Context, chatID, roomID string) (err error) {
	defer observe("set_room", time.Now(), &err)
	if roomID == "" {
		return errors.New("store: empty room id")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		var c Chat
		if err := getJSON(txn, chatKey(chatID), &c); err != nil {
			return err
		}
		if c.RoomID != "" && c.RoomID != roomID {
			if err := txn.Delete(roomKey(c.RoomID)); err != nil {
				return fmt.Errorf("delete old room mapping: %w", err)
			}
		}
		c.RoomID = roomID
		c.Left = false
		c.UpdatedAt = s.now()
		if err := setJSON(txn, chatKey(chatID), &c); err != nil {
			return err
		}
		return txn.Set(roomKey(roomID), []byte(chatID))
	})
}

// ChatForRoom implements Store.
func (s *BadgerStore) ChatForRoom(ctx context.Context, roomID string) (string, error) {
	var chatID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(roomID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrChatNotFound
		}
		if err != nil {
			return fmt.Errorf("get room mapping: %w", err)
		}
		val, err := item.ValueCopy(nil)
		chatID = string(val)
		return err
	})
	return chatID, err
}

// Rooms implements Store.
func (s *BadgerStore) Rooms(ctx context.Context) (map[string]string, error) {
	rooms := make(map[string]string)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(roomKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			room := string(item.Key()[len(prefix):])
			if err := item.Value(func(val []byte) error {
				rooms[room] = string(val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// DeleteChat implements Store. Deleting an unknown chat is not an error.
func (s *BadgerStore) DeleteChat(ctx context.Context, id string) (err error) {
	defer observe("delete_chat", time.Now(), &err)

	var keys [][]byte
	err = s.db.View(func(txn *badger.Txn) error {
		var c Chat
		switch err := getJSON(txn, chatKey(id), &c); {
		case errors.Is(err, ErrChatNotFound):
		case err != nil:
			return err
		default:
			keys = append(keys, chatKey(id))
			if c.RoomID != "" {
				keys = append(keys, roomKey(c.RoomID))
			}
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := messagePrefix(id)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}

	// WriteBatch splits large histories across transactions.
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

// AddMessage implements Store. It fills m.Seq and, when zero, m.CreatedAt.
func (s *BadgerStore) AddMessage(ctx context.Context, m *Message) (err error) {
	defer observe("add_message", time.Now(), &err)

	if m == nil || m.ChatID == "" {
		return errors.New("store: message without chat")
	}
	seq, err := s.nextSeq()
	if err != nil {
		return err
	}
	m.Seq = seq
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}

	return s.db.Update(func(txn *badger.Txn) error {
		var c Chat
		if err := getJSON(txn, chatKey(m.ChatID), &c); err != nil {
			return err
		}
		if err := setJSON(txn, messageKey(m.ChatID, seq), m); err != nil {
			return err
		}
		c.UpdatedAt = s.now()
		return setJSON(txn, chatKey(c.ID), &c)
	})
}

// Messages implements Store.
func (s *BadgerStore) Messages(ctx context.Context, chatID string) ([]Message, error) {
	var msgs []Message
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := messagePrefix(chatID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			msgs = append(msgs, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (s *BadgerStore) modifyChat(op, id string, fn func(*Chat)) (err error) {
	defer observe(op, time.Now(), &err)
	return s.db.Update(func(txn *badger.Txn) error {
		var c Chat
		if err := getJSON(txn, chatKey(id), &c); err != nil {
			return err
		}
		fn(&c)
		c.UpdatedAt = s.now()
		return setJSON(txn, chatKey(id), &c)
	})
}

func (s *BadgerStore) nextSeq() (uint64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next message sequence: %w", err)
	}
	// Sequences start at zero; keep zero for "unset".
	return n + 1, nil
}

func observe(op string, started time.Time, err *error) {
	metrics.ObserveStore(op, started, *err)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrChatNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// Compile-time interface assertion
var _ Store = (*BadgerStore)(nil)
