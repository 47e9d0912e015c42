package kvstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Reads and writes on distinct keys do not contend.
type Memory struct {
	values sync.Map
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, ok := m.values.Load(key)
	if !ok {
		return "", ErrNotFound
	}
	return v.(string), nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.values.Store(key, value)
	return nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.values.Delete(key)
	return nil
}

// Len reports the number of stored keys.
func (m *Memory) Len() int {
	n := 0
	m.values.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
