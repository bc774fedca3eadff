package badger

import (
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// Rows are JSON encoded. The entity structs carry their own json tags so the
// stored documents stay readable with badger's debugging tools.

func encode[T any](v *T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode row: %w", err)
	}
	return data, nil
}

// load reads and decodes the row stored at key. It returns (nil, nil) when the
// key does not exist.
func load[T any](txn *badger.Txn, key []byte) (*T, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var v T
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &v)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return &v, nil
}

// save encodes v and writes it at key.
func save[T any](txn *badger.Txn, key []byte, v *T) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// exists reports whether key is present.
func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// scanRows decodes every row under prefix.
func scanRows[T any](txn *badger.Txn, prefix string) ([]*T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var rows []*T
	for it.Rewind(); it.Valid(); it.Next() {
		var v T
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
		}
		rows = append(rows, &v)
	}
	return rows, nil
}

// scanIndex returns the row ids referenced by the index keys under prefix.
func scanIndex(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		ids = append(ids, idFromIndexKey(it.Item().Key(), prefix))
	}
	return ids
}

// loadAll loads the rows for ids, skipping dangling index entries.
func loadAll[T any](txn *badger.Txn, ids []string, key func(string) []byte) ([]*T, error) {
	rows := make([]*T, 0, len(ids))
	for _, id := range ids {
		row, err := load[T](txn, key(id))
		if err != nil {
			return nil, err
		}
		if row != nil {
			rows = append(rows, row)
		}
	}
	return rows, nil
}
