// Command stratadb_shell is an interactive REPL driving the storage core
// in-process: buffer pool, B+Tree index, and lock manager, with no
// network hop.
package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/rmehta/stratadb/core/btree"
	"github.com/rmehta/stratadb/core/lockmgr"
	"github.com/rmehta/stratadb/core/storage"
	"github.com/rmehta/stratadb/core/txn"
	"github.com/rmehta/stratadb/pkg/logger"
)

type shell struct {
	bpm  *storage.BufferPoolManager
	tree *btree.BPlusTree[btree.GenericKey, btree.RID]
	lm   *lockmgr.LockManager
	txns map[txn.ID]*txn.Transaction
	next txn.ID
	log  *zap.Logger
}

func main() {
	dbFile := flag.String("db", "stratadb.db", "path to the page-store file")
	poolSize := flag.Int("pool-size", 64, "buffer pool size, in frames")
	flag.Parse()

	log, err := logger.New(logger.Config{Level: "info", Format: "console"})
	if err != nil {
		fmt.Println("logger init failed:", err)
		return
	}

	dm, err := storage.NewDiskManager(*dbFile, storage.DefaultPageSize, log)
	if err != nil {
		fmt.Printf("opening %s: %v\n", *dbFile, err)
		return
	}
	defer dm.Close()

	bpm := storage.NewBufferPoolManager(dm, storage.Config{PoolSize: *poolSize, K: 2, Logger: log})

	header, err := btree.LoadHeaderPage(bpm)
	if err != nil {
		fmt.Printf("loading header page: %v\n", err)
		return
	}

	tree := btree.New[btree.GenericKey, btree.RID](
		"default",
		bpm,
		header,
		btree.CompareGenericKey,
		btree.GenericKeyCodec(8),
		btree.RIDValueCodec(),
		btree.Config{LeafMaxSize: 4, InternalMaxSize: 4},
		log,
	)

	lm := lockmgr.New(lockmgr.Config{Logger: log})
	lm.StartDeadlockDetector()
	defer lm.Stop()

	sh := &shell{bpm: bpm, tree: tree, lm: lm, txns: make(map[txn.ID]*txn.Transaction), log: log}

	rl, err := readline.New("stratadb> ")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer rl.Close()

	fmt.Println("stratadb shell. Commands: insert <k> <v>, get <k>, delete <k>, scan [from], begin, commit, abort, help, exit")
	for {
		line, err := rl.Readline()
		if err != nil {
			header.Flush(bpm)
			bpm.FlushAll()
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			header.Flush(bpm)
			bpm.FlushAll()
			return
		}
		sh.dispatch(line)
	}
}

func (s *shell) dispatch(line string) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "insert":
		s.cmdInsert(args)
	case "get":
		s.cmdGet(args)
	case "delete":
		s.cmdDelete(args)
	case "scan":
		s.cmdScan(args)
	case "begin":
		s.cmdBegin(args)
	case "commit":
		s.cmdEndTxn(args, "commit")
	case "abort":
		s.cmdEndTxn(args, "abort")
	case "help":
		fmt.Println("insert <key> <value>, get <key>, delete <key>, scan [from], begin [isolation], commit <txn>, abort <txn>, exit")
	default:
		fmt.Printf("unknown command %q\n", cmd)
	}
}

func (s *shell) cmdInsert(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: insert <key> <value-slot>")
		return
	}
	k, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Println("bad key:", err)
		return
	}
	slot, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		fmt.Println("bad value:", err)
		return
	}
	key := btree.NewGenericKey(8)
	key.SetFromInt64(k)
	rid := btree.RID{PageID: storage.PageID(k), SlotID: uint32(slot)}
	ok, err := s.tree.Insert(key, rid)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if !ok {
		fmt.Println("duplicate key, not inserted")
		return
	}
	fmt.Println("ok")
}

func (s *shell) cmdGet(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: get <key>")
		return
	}
	k, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Println("bad key:", err)
		return
	}
	key := btree.NewGenericKey(8)
	key.SetFromInt64(k)
	rid, ok := s.tree.GetValue(key)
	if !ok {
		fmt.Println("not found")
		return
	}
	fmt.Printf("rid = (page=%d, slot=%d)\n", rid.PageID, rid.SlotID)
}

func (s *shell) cmdDelete(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: delete <key>")
		return
	}
	k, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Println("bad key:", err)
		return
	}
	key := btree.NewGenericKey(8)
	key.SetFromInt64(k)
	if err := s.tree.Remove(key); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func (s *shell) cmdScan(args []string) {
	var it *btree.Iterator[btree.GenericKey, btree.RID]
	if len(args) == 1 {
		k, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Println("bad key:", err)
			return
		}
		key := btree.NewGenericKey(8)
		key.SetFromInt64(k)
		it = s.tree.BeginFrom(key)
	} else {
		it = s.tree.Begin()
	}
	count := 0
	for it.Valid() {
		fmt.Printf("%d -> (page=%d, slot=%d)\n", it.Key().ToInt64(), it.Value().PageID, it.Value().SlotID)
		it.Next()
		count++
	}
	fmt.Printf("(%d entries)\n", count)
}

func (s *shell) cmdBegin(args []string) {
	level := txn.RepeatableRead
	if len(args) == 1 {
		switch strings.ToUpper(args[0]) {
		case "READ_COMMITTED":
			level = txn.ReadCommitted
		case "READ_UNCOMMITTED":
			level = txn.ReadUncommitted
		}
	}
	s.next++
	t := txn.New(s.next, level)
	s.txns[t.ID()] = t
	s.lm.Register(t)
	fmt.Printf("txn %d started (%s)\n", t.ID(), level)
}

func (s *shell) cmdEndTxn(args []string, action string) {
	if len(args) != 1 {
		fmt.Printf("usage: %s <txn-id>\n", action)
		return
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Println("bad txn id:", err)
		return
	}
	t, ok := s.txns[txn.ID(id)]
	if !ok {
		fmt.Println("no such transaction")
		return
	}
	if action == "commit" {
		t.SetState(txn.Committed)
	} else {
		t.SetState(txn.Aborted)
	}
	s.lm.Forget(t.ID())
	delete(s.txns, t.ID())
	fmt.Println("ok")
}
