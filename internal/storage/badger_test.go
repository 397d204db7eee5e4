// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_RequiresPathWhenNotInMemory(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpenDB_InMemoryRoundTrip(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	assert.True(t, db.InMemory())
	assert.Empty(t, db.Path())

	require.NoError(t, db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	}))

	var got []byte
	require.NoError(t, db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("k"))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			got = append([]byte(nil), val...)
			return nil
		})
	}))
	assert.Equal(t, "v", string(got))
}

func TestOpenDB_PersistentCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger-db")
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0

	db, err := OpenDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	assert.False(t, db.InMemory())
	assert.Equal(t, dir, db.Path())
	assert.DirExists(t, dir)
}

func TestWithTxn_DiscardsOnError(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sentinel := assert.AnError
	err = db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		_ = txn.Set([]byte("k"), []byte("v"))
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	err = db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("k"))
		return err
	})
	assert.ErrorIs(t, err, badger.ErrKeyNotFound)
}

func TestWithTxn_RejectsCancelledContext(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = db.WithTxn(ctx, func(txn *badger.Txn) error { return nil })
	assert.Error(t, err)
}

func TestCleanupDir_NoopForEmptyPath(t *testing.T) {
	assert.NoError(t, CleanupDir(""))
}

func TestCleanupDir_RemovesDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "db")
	require.NoError(t, openAndCloseForTest(sub))
	assert.DirExists(t, sub)

	require.NoError(t, CleanupDir(sub))
	assert.NoDirExists(t, sub)
}

// openAndCloseForTest opens and immediately closes a persistent database at
// path, used only to materialise a directory for CleanupDir's test.
func openAndCloseForTest(path string) error {
	cfg := DefaultConfig()
	cfg.Path = path
	cfg.GCInterval = 0
	db, err := OpenDB(cfg)
	if err != nil {
		return err
	}
	return db.Close()
}

type keyspaceRow struct {
	Name string `json:"name"`
}

func TestKeyspace_Key_PrefixesWithNameAndColon(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ks := db.Keyspace("proposal")
	assert.Equal(t, []byte("proposal:abc123"), ks.Key("abc123"))
}

func TestKeyspace_GetJSON_MissingRowReturnsFalseNoError(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ks := db.Keyspace("proposal")
	var row keyspaceRow
	err = db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		found, err := ks.GetJSON(txn, "missing", &row)
		assert.False(t, found)
		return err
	})
	require.NoError(t, err)
}

func TestKeyspace_SetJSONThenGetJSON_RoundTrips(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ks := db.Keyspace("proposal")
	require.NoError(t, db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		return ks.SetJSON(txn, "abc", &keyspaceRow{Name: "write_note"})
	}))

	var got keyspaceRow
	err = db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		found, err := ks.GetJSON(txn, "abc", &got)
		assert.True(t, found)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "write_note", got.Name)
}

func TestKeyspace_SetThenGet_RoundTripsRawBytes(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ks := db.Keyspace("blob")
	require.NoError(t, db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		return ks.Set(txn, "deadbeef", []byte("content"))
	}))

	var got []byte
	err = db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		var err error
		got, err = ks.Get(txn, "deadbeef")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), got)
}

func TestKeyspace_Has_ReportsPresenceWithoutDecoding(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ks := db.Keyspace("blob")
	require.NoError(t, db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		return ks.Set(txn, "present", []byte("x"))
	}))

	err = db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		assert.True(t, ks.Has(txn, "present"))
		assert.False(t, ks.Has(txn, "absent"))
		return nil
	})
	require.NoError(t, err)
}

func TestKeyspace_IteratePrefix_VisitsOnlyMatchingRowsInThisKeyspace(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	proposals := db.Keyspace("proposal")
	builds := db.Keyspace("build")
	require.NoError(t, db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		if err := proposals.SetJSON(txn, "p1", &keyspaceRow{Name: "one"}); err != nil {
			return err
		}
		if err := proposals.SetJSON(txn, "p2", &keyspaceRow{Name: "two"}); err != nil {
			return err
		}
		return builds.SetJSON(txn, "b1", &keyspaceRow{Name: "should-not-appear"})
	}))

	var names []string
	err = db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		return proposals.IteratePrefix(txn, "", func(value []byte) error {
			var row keyspaceRow
			if err := json.Unmarshal(value, &row); err != nil {
				return err
			}
			names = append(names, row.Name)
			return nil
		})
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two"}, names)
}

func TestKeyspace_IteratePrefix_ScopesToIDPrefix(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	buildsByProposal := db.Keyspace("build_by_proposal")
	require.NoError(t, db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		if err := buildsByProposal.SetJSON(txn, "p1:00000001", "build-a"); err != nil {
			return err
		}
		if err := buildsByProposal.SetJSON(txn, "p1:00000002", "build-b"); err != nil {
			return err
		}
		return buildsByProposal.SetJSON(txn, "p2:00000001", "build-c")
	}))

	var ids []string
	err = db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		return buildsByProposal.IteratePrefix(txn, "p1:", func(value []byte) error {
			var id string
			if err := json.Unmarshal(value, &id); err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"build-a", "build-b"}, ids)
}
