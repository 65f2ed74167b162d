package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/utils"
)

// RedisConfig selects the server and the file namespace of a RedisStore.
type RedisConfig struct {
	URL  string // redis://<user>:<password>@<host>:<port>/<db>
	Name string // file name; keys are namespaced under it
	Mode Mode
}

// RedisStore keeps a file in Redis. Every object is a set of hashes under
// the prefix "h5vol:<name>:", so several files can share one database.
type RedisStore struct {
	client *redis.Client
	prefix string
	mode   Mode
	root   core.Address
}

// NewRedisStore connects to cfg.URL and opens or creates the file cfg.Name.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", errors.Join(utils.ErrInvalidArgument, err))
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", errors.Join(utils.ErrIO, err))
	}

	s := &RedisStore{client: client, prefix: "h5vol:" + cfg.Name + ":", mode: cfg.Mode}
	if err := s.open(ctx, cfg.Mode); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *RedisStore) open(ctx context.Context, mode Mode) error {
	raw, err := s.client.HGet(ctx, s.key("meta"), "root").Result()
	exists := err == nil
	if err != nil && !errors.Is(err, redis.Nil) {
		return ioErr("read file metadata", err)
	}

	switch {
	case mode == Create && exists:
		return fmt.Errorf("file %q: %w", s.prefix, utils.ErrAlreadyExists)
	case mode == Truncate && exists:
		if err := s.drop(ctx); err != nil {
			return err
		}
		fallthrough
	case mode == Create || mode == Truncate:
		root, err := initRoot(ctx, s)
		if err != nil {
			return err
		}
		if err := s.client.HSet(ctx, s.key("meta"), "root", uint64(root)).Err(); err != nil {
			return ioErr("write file metadata", err)
		}
		s.root = root
		return nil
	case !exists:
		return fmt.Errorf("file %q: %w", s.prefix, utils.ErrNotFound)
	}

	root, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("file %q root %q: %w", s.prefix, raw, utils.ErrIO)
	}
	s.root = core.Address(root)
	return nil
}

// Drop deletes the file from the database. The store must not be used
// afterwards except to Close it.
func (s *RedisStore) Drop(ctx context.Context) error {
	return s.drop(ctx)
}

// drop deletes every key of the file.
func (s *RedisStore) drop(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 256).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return ioErr("scan file keys", err)
	}
	for batch := range slices.Chunk(keys, 256) {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return ioErr("delete file keys", err)
		}
	}
	return nil
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (s *RedisStore) objKey(kind string, addr core.Address) string {
	return s.key(kind, strconv.FormatUint(uint64(addr), 10))
}

func ioErr(op string, err error) error {
	return fmt.Errorf("redis %s: %w", op, errors.Join(utils.ErrIO, err))
}

// Root returns the root group address.
func (s *RedisStore) Root() core.Address {
	return s.root
}

// CreateObject allocates an address with INCR and records the object type.
func (s *RedisStore) CreateObject(ctx context.Context, typ core.ObjectType) (core.Address, error) {
	if !s.mode.Writable() {
		return core.AddrUndef, errReadOnly("create object")
	}
	n, err := s.client.Incr(ctx, s.key("next")).Result()
	if err != nil {
		return core.AddrUndef, ioErr("allocate address", err)
	}
	addr := core.Address(n)
	if err := s.client.HSet(ctx, s.objKey("obj", addr), "type", uint8(typ)).Err(); err != nil {
		return core.AddrUndef, ioErr("create object", err)
	}
	return addr, nil
}

// ObjectType returns the type recorded for addr.
func (s *RedisStore) ObjectType(ctx context.Context, addr core.Address) (core.ObjectType, error) {
	v, err := s.client.HGet(ctx, s.objKey("obj", addr), "type").Int()
	if errors.Is(err, redis.Nil) {
		return core.ObjectUnknown, errObject(addr)
	}
	if err != nil {
		return core.ObjectUnknown, ioErr("read object type", err)
	}
	return core.ObjectType(v), nil
}

func (s *RedisStore) checkObject(ctx context.Context, addr core.Address) error {
	_, err := s.ObjectType(ctx, addr)
	return err
}

// DeleteObject removes addr together with its messages, links and chunks.
func (s *RedisStore) DeleteObject(ctx context.Context, addr core.Address) error {
	if !s.mode.Writable() {
		return errReadOnly("delete object")
	}
	if err := s.checkObject(ctx, addr); err != nil {
		return err
	}
	err := s.client.Del(ctx,
		s.objKey("obj", addr), s.objKey("msg", addr), s.objKey("lnk", addr), s.objKey("chk", addr)).Err()
	if err != nil {
		return ioErr("delete object", err)
	}
	return nil
}

// ReadMessage decodes message key of addr into v.
func (s *RedisStore) ReadMessage(ctx context.Context, addr core.Address, key core.MsgKey, v any) error {
	raw, err := s.client.HGet(ctx, s.objKey("msg", addr), string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		if err := s.checkObject(ctx, addr); err != nil {
			return err
		}
		return fmt.Errorf("message %q on object %d: %w", key, addr, utils.ErrNotFound)
	}
	if err != nil {
		return ioErr("read message", err)
	}
	return core.Unmarshal(raw, v)
}

// WriteMessage stores v as message key of addr.
func (s *RedisStore) WriteMessage(ctx context.Context, addr core.Address, key core.MsgKey, v any) error {
	if !s.mode.Writable() {
		return errReadOnly("write message")
	}
	if err := s.checkObject(ctx, addr); err != nil {
		return err
	}
	raw, err := core.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.objKey("msg", addr), string(key), raw).Err(); err != nil {
		return ioErr("write message", err)
	}
	return nil
}

// DeleteMessage removes message key from addr.
func (s *RedisStore) DeleteMessage(ctx context.Context, addr core.Address, key core.MsgKey) error {
	if !s.mode.Writable() {
		return errReadOnly("delete message")
	}
	n, err := s.client.HDel(ctx, s.objKey("msg", addr), string(key)).Result()
	if err != nil {
		return ioErr("delete message", err)
	}
	if n == 0 {
		return fmt.Errorf("message %q on object %d: %w", key, addr, utils.ErrNotFound)
	}
	return nil
}

// Messages lists the message keys of addr in sorted order.
func (s *RedisStore) Messages(ctx context.Context, addr core.Address) ([]core.MsgKey, error) {
	if err := s.checkObject(ctx, addr); err != nil {
		return nil, err
	}
	names, err := s.client.HKeys(ctx, s.objKey("msg", addr)).Result()
	if err != nil {
		return nil, ioErr("list messages", err)
	}
	keys := make([]core.MsgKey, len(names))
	for i, n := range names {
		keys[i] = core.MsgKey(n)
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *RedisStore) checkGroup(ctx context.Context, addr core.Address) error {
	typ, err := s.ObjectType(ctx, addr)
	if err != nil {
		return err
	}
	if typ != core.ObjectGroup {
		return fmt.Errorf("object %d is a %s, not a group: %w", addr, typ, utils.ErrInvalidArgument)
	}
	return nil
}

// LookupLink returns link name of group.
func (s *RedisStore) LookupLink(ctx context.Context, group core.Address, name string) (core.Link, error) {
	raw, err := s.client.HGet(ctx, s.objKey("lnk", group), name).Bytes()
	if errors.Is(err, redis.Nil) {
		if err := s.checkGroup(ctx, group); err != nil {
			return core.Link{}, err
		}
		return core.Link{}, errLink(group, name)
	}
	if err != nil {
		return core.Link{}, ioErr("read link", err)
	}
	var l core.Link
	if err := core.Unmarshal(raw, &l); err != nil {
		return core.Link{}, err
	}
	return l, nil
}

// InsertLink adds link to group with HSETNX so concurrent inserts of the same
// name cannot both succeed.
func (s *RedisStore) InsertLink(ctx context.Context, group core.Address, link core.Link) error {
	if !s.mode.Writable() {
		return errReadOnly("insert link")
	}
	if err := s.checkGroup(ctx, group); err != nil {
		return err
	}
	raw, err := core.Marshal(link)
	if err != nil {
		return err
	}
	ok, err := s.client.HSetNX(ctx, s.objKey("lnk", group), link.Name, raw).Result()
	if err != nil {
		return ioErr("insert link", err)
	}
	if !ok {
		return fmt.Errorf("link %q in group %d: %w", link.Name, group, utils.ErrAlreadyExists)
	}
	return nil
}

// RemoveLink deletes link name from group.
func (s *RedisStore) RemoveLink(ctx context.Context, group core.Address, name string) error {
	if !s.mode.Writable() {
		return errReadOnly("remove link")
	}
	n, err := s.client.HDel(ctx, s.objKey("lnk", group), name).Result()
	if err != nil {
		return ioErr("remove link", err)
	}
	if n == 0 {
		return errLink(group, name)
	}
	return nil
}

// Links returns the links of group in name order.
func (s *RedisStore) Links(ctx context.Context, group core.Address) ([]core.Link, error) {
	if err := s.checkGroup(ctx, group); err != nil {
		return nil, err
	}
	all, err := s.client.HGetAll(ctx, s.objKey("lnk", group)).Result()
	if err != nil {
		return nil, ioErr("list links", err)
	}
	out := make([]core.Link, 0, len(all))
	for _, raw := range all {
		var l core.Link
		if err := core.Unmarshal([]byte(raw), &l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b core.Link) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// ReadChunk returns chunk idx of the dataset at addr.
func (s *RedisStore) ReadChunk(ctx context.Context, addr core.Address, idx uint64) (core.Chunk, error) {
	raw, err := s.client.HGet(ctx, s.objKey("chk", addr), strconv.FormatUint(idx, 10)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Chunk{}, fmt.Errorf("chunk %d of object %d: %w", idx, addr, utils.ErrNotFound)
	}
	if err != nil {
		return core.Chunk{}, ioErr("read chunk", err)
	}
	var c core.Chunk
	if err := core.Unmarshal(raw, &c); err != nil {
		return core.Chunk{}, err
	}
	return c, nil
}

// WriteChunk stores chunk idx of the dataset at addr.
func (s *RedisStore) WriteChunk(ctx context.Context, addr core.Address, idx uint64, chunk core.Chunk) error {
	if !s.mode.Writable() {
		return errReadOnly("write chunk")
	}
	raw, err := core.Marshal(chunk)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.objKey("chk", addr), strconv.FormatUint(idx, 10), raw).Err(); err != nil {
		return ioErr("write chunk", err)
	}
	return nil
}

// PutBlob stores data under a new id.
func (s *RedisStore) PutBlob(ctx context.Context, data []byte) (uuid.UUID, error) {
	if !s.mode.Writable() {
		return uuid.Nil, errReadOnly("put blob")
	}
	id := uuid.New()
	if err := s.client.Set(ctx, s.key("blob", id.String()), data, 0).Err(); err != nil {
		return uuid.Nil, ioErr("put blob", err)
	}
	return id, nil
}

// GetBlob returns the blob stored under id.
func (s *RedisStore) GetBlob(ctx context.Context, id uuid.UUID) ([]byte, error) {
	b, err := s.client.Get(ctx, s.key("blob", id.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("blob %s: %w", id, utils.ErrNotFound)
	}
	if err != nil {
		return nil, ioErr("get blob", err)
	}
	return b, nil
}

// DeleteBlob removes the blob stored under id.
func (s *RedisStore) DeleteBlob(ctx context.Context, id uuid.UUID) error {
	if !s.mode.Writable() {
		return errReadOnly("delete blob")
	}
	n, err := s.client.Del(ctx, s.key("blob", id.String())).Result()
	if err != nil {
		return ioErr("delete blob", err)
	}
	if n == 0 {
		return fmt.Errorf("blob %s: %w", id, utils.ErrNotFound)
	}
	return nil
}

// Flush is a no-op; every write is already durable on the server.
func (s *RedisStore) Flush(context.Context) error {
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
