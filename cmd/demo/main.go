// Command demo drives the storage/concurrency kernel directly: no SQL
// parser, no network listener, no catalog of tables — just the buffer
// pool, the B+ tree index, and the lock manager, the way the teacher's
// original main.go drove its engine end to end.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"dbkernel/internal/logging"
	"dbkernel/pkg/buffer"
	"dbkernel/pkg/concurrency/lock"
	"dbkernel/pkg/concurrency/transaction"
	"dbkernel/pkg/storage/disk"
	"dbkernel/pkg/storage/index"
	"dbkernel/pkg/storage/page"
)

const (
	dataFile   = "demo.db"
	poolSize   = 64
	lruK       = 2
	bulkLoad   = 2000
	numWorkers = 8
)

func main() {
	logging.Init(logging.Config{Level: slog.LevelInfo})
	log := logging.Get()

	fmt.Println("🚀 starting storage kernel demo")

	os.Remove(dataFile)
	defer os.Remove(dataFile)

	dm, err := disk.NewDiskManager(dataFile)
	if err != nil {
		log.Error("open disk manager", "err", err)
		os.Exit(1)
	}
	defer dm.Close()

	bpm := buffer.NewBufferPoolManager(dm, poolSize, lruK)

	headerPg := bpm.NewPage()
	page.NewHeaderPage(headerPg).Init()
	headerID := headerPg.ID()
	bpm.UnpinPage(headerID, true)

	tree := index.NewBPlusTree("primary", headerID, bpm, nil, page.DefaultMaxLeafSize, page.DefaultMaxInternalSize)

	fmt.Printf("📦 bulk loading %d keys across %d workers\n", bulkLoad, numWorkers)
	if err := bulkInsert(tree, bulkLoad, numWorkers); err != nil {
		log.Error("bulk insert", "err", err)
		os.Exit(1)
	}
	bpm.FlushAllPages()
	fmt.Println("✅ bulk load complete")

	missing := 0
	for i := int64(0); i < bulkLoad; i++ {
		if _, ok := tree.GetValue(i); !ok {
			missing++
		}
	}
	fmt.Printf("🔍 verified %d/%d keys present\n", bulkLoad-missing, bulkLoad)

	fmt.Println("🔒 exercising the lock manager")
	demoLockManager()

	fmt.Println("👋 done")
}

// bulkInsert fans inserts out across numWorkers goroutines sharing one
// BPlusTree, mirroring the kind of concurrent bulk load the crabbing
// protocol exists to make safe.
func bulkInsert(tree *index.BPlusTree, n, numWorkers int) error {
	g, _ := errgroup.WithContext(context.Background())
	chunk := (n + numWorkers - 1) / numWorkers

	for w := 0; w < numWorkers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				key := int64(i)
				tree.Insert(key, page.RID{PageID: page.PageID(i), SlotNum: 0}, nil)
			}
			return nil
		})
	}
	return g.Wait()
}

// demoLockManager acquires and releases table/row locks from a couple of
// goroutines so the grant policy and deadlock detector actually
// run, the same way a real workload would drive them.
func demoLockManager() {
	mgr := lock.NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.RunDeadlockDetection(ctx, 50*time.Millisecond)

	const table transaction.TableID = 1
	reader := transaction.New(1, transaction.ReadCommitted)
	writer := transaction.New(2, transaction.ReadCommitted)

	if err := mgr.LockTable(context.Background(), reader, lock.IntentionShared, table); err != nil {
		logging.Get().Error("reader IS lock", "err", err)
		return
	}
	if err := mgr.LockRow(context.Background(), reader, lock.Shared, table, page.RID{PageID: 1, SlotNum: 0}); err != nil {
		logging.Get().Error("reader row S lock", "err", err)
		return
	}

	done := make(chan error, 1)
	go func() {
		if err := mgr.LockTable(context.Background(), writer, lock.IntentionExclusive, table); err != nil {
			done <- err
			return
		}
		done <- mgr.LockRow(context.Background(), writer, lock.Exclusive, table, page.RID{PageID: 1, SlotNum: 1})
	}()

	if err := <-done; err != nil {
		logging.Get().Error("writer row X lock", "err", err)
	}

	mgr.UnlockRow(reader, table, page.RID{PageID: 1, SlotNum: 0})
	mgr.UnlockTable(reader, table)
	mgr.UnlockRow(writer, table, page.RID{PageID: 1, SlotNum: 1})
	mgr.UnlockTable(writer, table)
	mgr.Forget(reader)
	mgr.Forget(writer)
}
